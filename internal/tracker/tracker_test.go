package tracker

import (
	"encoding/json"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// feed records seqs 10ms apart and returns the classifications
func feed(tr *Tracker, seqs ...int64) []Classification {
	out := make([]Classification, 0, len(seqs))
	for i, seq := range seqs {
		mono := time.Duration(i) * 10 * time.Millisecond
		out = append(out, tr.Record(seq, epoch.Add(mono), mono))
	}
	return out
}

func TestFirstRecordIsInitial(t *testing.T) {
	tr := New(Options{})

	class := tr.Record(42, epoch, 0)

	assert.Equal(t, Initial, class)
	assert.Equal(t, int64(42), tr.LastSequence())
	assert.Len(t, tr.Messages(), 1)
	assert.Empty(t, tr.Intervals())
	assert.Empty(t, tr.Duplicates())
	assert.Empty(t, tr.OutOfOrder())
	assert.False(t, tr.Seen(42))
}

func TestRepeatedSequenceIsDuplicate(t *testing.T) {
	tr := New(Options{})
	classes := feed(tr, 5, 5)

	assert.Equal(t, []Classification{Initial, Duplicate}, classes)
	assert.Equal(t, 1, tr.DuplicateCount())
	assert.Equal(t, 0, tr.OutOfOrderCount())
}

func TestDecreasingFreshSequencesAreOutOfOrder(t *testing.T) {
	tr := New(Options{})
	classes := feed(tr, 10, 9, 8, 7, 6)

	assert.Equal(t, Initial, classes[0])
	for _, c := range classes[1:] {
		assert.Equal(t, OutOfOrder, c)
	}
	assert.Equal(t, 4, tr.OutOfOrderCount())
	assert.Equal(t, 0, tr.DuplicateCount())
}

func TestIncreasingFreshSequencesAreNormal(t *testing.T) {
	tr := New(Options{})
	classes := feed(tr, 1, 2, 5, 9, 100)

	assert.Equal(t, Initial, classes[0])
	for _, c := range classes[1:] {
		assert.Equal(t, Normal, c)
	}
}

func TestMixedStream(t *testing.T) {
	tr := New(Options{})
	classes := feed(tr, 1, 2, 2, 1, 3)

	assert.Equal(t, []Classification{Initial, Normal, Duplicate, OutOfOrder, Normal}, classes)
	assert.Equal(t, 1, tr.DuplicateCount())
	assert.Equal(t, 1, tr.OutOfOrderCount())
	assert.Equal(t, int64(3), tr.LastSequence())
}

func TestInitialSequenceRepeatedLaterIsOutOfOrder(t *testing.T) {
	tr := New(Options{})
	classes := feed(tr, 4, 5, 4, 4)

	assert.Equal(t, []Classification{Initial, Normal, OutOfOrder, Duplicate}, classes)
}

func TestDuplicateTakesPriorityOverOutOfOrder(t *testing.T) {
	tr := New(Options{})
	classes := feed(tr, 1, 2, 3, 2)

	assert.Equal(t, Duplicate, classes[3])
	assert.Equal(t, 0, tr.OutOfOrderCount())
}

func TestOutOfOrderFreshValueBelowLast(t *testing.T) {
	tr := New(Options{})
	classes := feed(tr, 1, 3, 2, 4)

	assert.Equal(t, []Classification{Initial, Normal, OutOfOrder, Normal}, classes)
	require.Len(t, tr.OutOfOrder(), 1)
	assert.Equal(t, int64(2), tr.OutOfOrder()[0].Sequence)
}

func TestLastSequenceFollowsArrivalNotMaximum(t *testing.T) {
	tr := New(Options{})
	feed(tr, 10, 20, 15)

	assert.Equal(t, int64(15), tr.LastSequence())
}

func TestIntervalsUseMonotonicReading(t *testing.T) {
	tr := New(Options{})
	tr.Record(1, epoch, 0)
	// wall clock stepping backwards must not affect intervals
	tr.Record(2, epoch.Add(-time.Hour), 250*time.Millisecond)
	tr.Record(3, epoch, 1250*time.Millisecond)

	assert.Equal(t, []float64{250, 1000}, tr.Intervals())
}

func TestMessageLogIsOneLongerThanIntervals(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	for run := 0; run < 50; run++ {
		tr := New(Options{})
		n := 1 + rng.Intn(200)
		for i := 0; i < n; i++ {
			mono := time.Duration(i) * time.Millisecond
			tr.Record(int64(rng.Intn(50)), epoch.Add(mono), mono)
		}
		require.Equal(t, len(tr.Intervals())+1, len(tr.Messages()))
		require.Equal(t, tr.IntervalCount()+1, tr.MessageCount())
	}
}

func TestRetentionBoundsHistoryButKeepsTotals(t *testing.T) {
	tr := New(Options{Retain: 3})
	feed(tr, 1, 2, 3, 3, 4, 4, 5, 4, 6)

	assert.Len(t, tr.Messages(), 3)
	assert.Len(t, tr.Intervals(), 3)
	assert.Equal(t, 9, tr.MessageCount())
	assert.Equal(t, 8, tr.IntervalCount())
	assert.Equal(t, 3, tr.DuplicateCount())
	assert.Len(t, tr.Duplicates(), 3)

	seqs := make([]int64, 0, 3)
	for _, s := range tr.Messages() {
		seqs = append(seqs, s.Sequence)
	}
	assert.Equal(t, []int64{5, 4, 6}, seqs)
	// seen set is never trimmed
	assert.True(t, tr.Seen(2))
}

func TestRetentionCompactsInBatches(t *testing.T) {
	const retain = 5000
	const total = 10 * retain
	tr := New(Options{Retain: retain})

	for i := 0; i < total; i++ {
		mono := time.Duration(i) * time.Millisecond
		tr.Record(int64(i), epoch.Add(mono), mono)
		if len(tr.messages) > 2*retain || len(tr.intervals) > 2*retain {
			t.Fatalf("history grew past %d entries after %d records", 2*retain, i+1)
		}
	}

	msgs := tr.Messages()
	require.Len(t, msgs, retain)
	assert.Equal(t, int64(total-retain), msgs[0].Sequence)
	assert.Equal(t, int64(total-1), msgs[retain-1].Sequence)

	intervals := tr.Intervals()
	require.Len(t, intervals, retain)
	for _, ms := range intervals {
		require.Equal(t, 1.0, ms)
	}
	assert.Equal(t, total, tr.MessageCount())
	assert.Equal(t, total-1, tr.IntervalCount())

	// once compaction has started the backing arrays are reused
	msgCap, intervalCap := cap(tr.messages), cap(tr.intervals)
	for i := total; i < total+4*retain; i++ {
		mono := time.Duration(i) * time.Millisecond
		tr.Record(int64(i), epoch.Add(mono), mono)
	}
	assert.Equal(t, msgCap, cap(tr.messages))
	assert.Equal(t, intervalCap, cap(tr.intervals))
	assert.Len(t, tr.State().Messages, retain)
}

func TestSnapshot(t *testing.T) {
	tr := New(Options{})
	feed(tr, 1, 2, 2, 1, 3)

	snap := tr.Snapshot("A", 1000)
	assert.Equal(t, "A", snap.Device)
	assert.Equal(t, 5, snap.Messages)
	assert.Equal(t, int64(3), snap.LastSequence)
	assert.True(t, snap.WindowValid)
	assert.InDelta(t, 10.0, snap.Window.Mean, 1e-9)
	assert.InDelta(t, 0.0, snap.Window.StdDev, 1e-9)
	assert.Equal(t, 4, snap.Window.SampleSize)
	assert.Equal(t, 1, snap.Duplicates)
	assert.Equal(t, 1, snap.OutOfOrder)
}

func TestSnapshotSingleMessageHasNoWindow(t *testing.T) {
	tr := New(Options{})
	tr.Record(7, epoch, 0)

	snap := tr.Snapshot("solo", 1000)
	assert.False(t, snap.WindowValid)
	assert.Equal(t, 1, snap.Messages)
}

func TestStateJSON(t *testing.T) {
	tr := New(Options{})
	feed(tr, 3, 1, 1)

	raw, err := json.Marshal(tr.State())
	require.NoError(t, err)

	var decoded map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &decoded))
	for _, key := range []string{"last_i", "last_timestamp", "messages", "intervals", "seen", "duplicates", "out_of_order"} {
		assert.Contains(t, decoded, key)
	}

	var state State
	require.NoError(t, json.Unmarshal(raw, &state))
	assert.Equal(t, int64(1), state.LastSequence)
	assert.InDelta(t, 20.0, state.LastTimestamp, 1e-9)
	assert.Equal(t, []int64{1}, state.Seen)
	require.Len(t, state.Messages, 3)
	assert.Equal(t, epoch.Add(10*time.Millisecond).UnixMilli(), state.Messages[1].Wall.UnixMilli())
	require.Len(t, state.OutOfOrder, 1)
	require.Len(t, state.Duplicates, 1)
}

func TestClassificationString(t *testing.T) {
	assert.Equal(t, "initial", Initial.String())
	assert.Equal(t, "normal", Normal.String())
	assert.Equal(t, "duplicate", Duplicate.String())
	assert.Equal(t, "out_of_order", OutOfOrder.String())
	assert.Equal(t, "unknown", Classification(99).String())
}

func BenchmarkRecordWithRetention(b *testing.B) {
	tr := New(Options{Retain: 200000})
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		mono := time.Duration(i) * time.Millisecond
		tr.Record(int64(i), epoch, mono)
	}
}
