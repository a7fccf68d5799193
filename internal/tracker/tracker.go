// Package tracker keeps per-device sequence and timing state and classifies
// every arrival as initial, normal, duplicate or out-of-order.
package tracker

import (
	"time"

	"github.com/kacperzuk/mqtt-qos-analyzer/internal/windowstats"
)

// Classification is the outcome of recording one arrival
type Classification int

const (
	Initial Classification = iota
	Normal
	Duplicate
	OutOfOrder
)

func (c Classification) String() string {
	switch c {
	case Initial:
		return "initial"
	case Normal:
		return "normal"
	case Duplicate:
		return "duplicate"
	case OutOfOrder:
		return "out_of_order"
	default:
		return "unknown"
	}
}

// Options tune history retention. Retain <= 0 keeps everything.
//
// Retain bounds the message log, the interval history and the duplicate and
// out-of-order lists to their last Retain entries; each list holds at most
// 2*Retain entries in memory. The seen set is never trimmed: it grows with
// the number of distinct sequence numbers for the life of the session.
type Options struct {
	Retain int
}

// Tracker holds the state of a single device. It is not safe for concurrent
// use; the owning session serializes access.
type Tracker struct {
	opts    Options
	started bool

	lastSequence int64
	lastArrival  time.Duration

	messages   []Stamp
	intervals  []float64
	seen       map[int64]struct{}
	duplicates []Stamp
	outOfOrder []Stamp

	messageCount    int
	intervalCount   int
	duplicateCount  int
	outOfOrderCount int
}

// New creates an empty tracker
func New(opts Options) *Tracker {
	return &Tracker{
		opts: opts,
		seen: make(map[int64]struct{}),
	}
}

// Record registers the arrival of sequence number seq. wall is the wall clock
// time used for display; mono is a monotonic reading (typically time elapsed
// since session start) used only to compute intervals.
//
// The initial arrival only seeds lastSequence; it does not enter the seen set.
// A later arrival is a duplicate if its number was seen before or repeats the
// previous arrival, otherwise out-of-order if it is not above lastSequence.
func (t *Tracker) Record(seq int64, wall time.Time, mono time.Duration) Classification {
	stamp := Stamp{Wall: wall, Sequence: seq}

	if !t.started {
		t.started = true
		t.lastSequence = seq
		t.lastArrival = mono
		t.appendMessage(stamp)
		return Initial
	}

	interval := mono - t.lastArrival
	t.appendInterval(float64(interval) / float64(time.Millisecond))

	class := Normal
	if _, dup := t.seen[seq]; dup || seq == t.lastSequence {
		class = Duplicate
		t.duplicates = retain(append(t.duplicates, stamp), t.opts.Retain)
		t.duplicateCount++
	} else if seq <= t.lastSequence {
		class = OutOfOrder
		t.outOfOrder = retain(append(t.outOfOrder, stamp), t.opts.Retain)
		t.outOfOrderCount++
	}

	t.lastSequence = seq
	t.lastArrival = mono
	t.seen[seq] = struct{}{}
	t.appendMessage(stamp)
	return class
}

func (t *Tracker) appendMessage(s Stamp) {
	t.messages = retain(append(t.messages, s), t.opts.Retain)
	t.messageCount++
}

func (t *Tracker) appendInterval(ms float64) {
	t.intervals = retain(append(t.intervals, ms), t.opts.Retain)
	t.intervalCount++
}

// retain lets s grow to 2n entries, then compacts it to the last n in one
// copy. Readers see the last n through window.
func retain[T any](s []T, n int) []T {
	if n <= 0 || len(s) <= 2*n {
		return s
	}
	kept := copy(s, s[len(s)-n:])
	return s[:kept]
}

// window returns the last n entries of s, or all of them when n <= 0
func window[T any](s []T, n int) []T {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// LastSequence returns the sequence number of the most recent arrival
func (t *Tracker) LastSequence() int64 { return t.lastSequence }

// MessageCount returns the number of arrivals since the session started
func (t *Tracker) MessageCount() int { return t.messageCount }

// IntervalCount returns the number of interval samples since the session started
func (t *Tracker) IntervalCount() int { return t.intervalCount }

// DuplicateCount returns the number of arrivals classified Duplicate
func (t *Tracker) DuplicateCount() int { return t.duplicateCount }

// OutOfOrderCount returns the number of arrivals classified OutOfOrder
func (t *Tracker) OutOfOrderCount() int { return t.outOfOrderCount }

// Messages returns the retained message log in arrival order
func (t *Tracker) Messages() []Stamp { return window(t.messages, t.opts.Retain) }

// Intervals returns the retained interval samples in milliseconds
func (t *Tracker) Intervals() []float64 { return window(t.intervals, t.opts.Retain) }

// Duplicates returns the retained duplicate arrivals
func (t *Tracker) Duplicates() []Stamp { return window(t.duplicates, t.opts.Retain) }

// OutOfOrder returns the retained out-of-order arrivals
func (t *Tracker) OutOfOrder() []Stamp { return window(t.outOfOrder, t.opts.Retain) }

// Seen reports whether seq has been observed
func (t *Tracker) Seen(seq int64) bool {
	_, ok := t.seen[seq]
	return ok
}

// Snapshot is the derived per-device view used for reporting
type Snapshot struct {
	Device       string              `json:"device"`
	Messages     int                 `json:"messages"`
	LastSequence int64               `json:"last_sequence"`
	Window       windowstats.Summary `json:"window"`
	WindowValid  bool                `json:"window_valid"`
	Duplicates   int                 `json:"duplicates"`
	OutOfOrder   int                 `json:"out_of_order"`
}

// Snapshot summarizes the tracker over its last windowSize intervals
func (t *Tracker) Snapshot(device string, windowSize int) Snapshot {
	summary, ok := windowstats.Summarize(windowstats.Trailing(t.Intervals(), windowSize))
	return Snapshot{
		Device:       device,
		Messages:     t.messageCount,
		LastSequence: t.lastSequence,
		Window:       summary,
		WindowValid:  ok,
		Duplicates:   t.duplicateCount,
		OutOfOrder:   t.outOfOrderCount,
	}
}
