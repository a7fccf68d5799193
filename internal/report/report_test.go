package report

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kacperzuk/mqtt-qos-analyzer/internal/alert"
	"github.com/kacperzuk/mqtt-qos-analyzer/internal/metrics"
	"github.com/kacperzuk/mqtt-qos-analyzer/internal/registry"
	"github.com/kacperzuk/mqtt-qos-analyzer/internal/tracker"
)

func populated() *registry.Registry {
	reg := registry.New(tracker.Options{})
	now := time.Now()

	a := reg.GetOrCreate("A")
	for i, seq := range []int64{1, 2, 2, 1, 3} {
		a.Record(seq, now, time.Duration(i)*20*time.Millisecond)
	}
	reg.GetOrCreate("B").Record(100, now, 0)
	return reg
}

func TestReportDeviceBlocks(t *testing.T) {
	reg := populated()
	var out bytes.Buffer

	New(&out, 1000).Report(context.Background(), reg)
	text := out.String()

	assert.Contains(t, text, "Status for device #A (stats for last 1k msgs)")
	assert.Contains(t, text, "Msgs rcvd: 5\n")
	assert.Contains(t, text, "i: 3\n")
	assert.Contains(t, text, "Mean interval: 20.000\n")
	assert.Contains(t, text, "stddev interval: 0.000\n")
	assert.Contains(t, text, "max interval: 20.000\n")
	assert.Contains(t, text, "number of duplicates: 1\n")
	assert.Contains(t, text, "number of out_of_order: 1\n")

	// B has a single message and therefore no interval window
	bBlock := text[strings.Index(text, "Status for device #B"):]
	assert.Contains(t, bBlock, "Mean interval: n/a")
	assert.Contains(t, bBlock, "i: 100")

	assert.Less(t, strings.Index(text, "#A"), strings.Index(text, "#B"))
	assert.Equal(t, 2, strings.Count(text, "=====\n"))
}

func TestReportDoesNotMutateTrackers(t *testing.T) {
	reg := populated()
	a, _ := reg.Get("A")
	before := a.State()

	New(&bytes.Buffer{}, 1000).Report(context.Background(), reg)

	assert.Equal(t, before, a.State())
}

func TestReportHeaderFromMeters(t *testing.T) {
	m := metrics.New()
	defer m.Stop()
	m.Observe("A", tracker.Initial)
	m.Drop("payload")

	var out bytes.Buffer
	New(&out, 500, WithMeters(m)).Report(context.Background(), populated())

	text := out.String()
	assert.Contains(t, text, "devices: 2")
	assert.Contains(t, text, "Messages Received: 1")
	assert.Contains(t, text, "Messages Dropped:  1")
	assert.Contains(t, text, "stats for last 500 msgs")
}

func TestReportRaisesAlerts(t *testing.T) {
	p := &alert.Policy{Name: "dups.rego", Rego: "package qos\n\nalert {\n\tinput.duplicates > 0\n}\n"}
	require.NoError(t, p.Compile(context.Background()))

	var alerts bytes.Buffer
	e := alert.NewEvaluator(&alerts, zap.NewNop(), p)

	var out bytes.Buffer
	New(&out, 1000, WithAlerts(e)).Report(context.Background(), populated())

	assert.Contains(t, out.String(), "ALERT: policy dups.rego tripped for device #A")
	assert.NotContains(t, out.String(), "tripped for device #B")
	assert.Equal(t, 1, strings.Count(alerts.String(), "\n"))
}

func TestWindowLabel(t *testing.T) {
	assert.Equal(t, "1k", windowLabel(1000))
	assert.Equal(t, "2k", windowLabel(2000))
	assert.Equal(t, "1500", windowLabel(1500))
	assert.Equal(t, "10", windowLabel(10))
}
