package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/kacperzuk/mqtt-qos-analyzer/internal/tracker"
)

func TestObserveCountsByClassification(t *testing.T) {
	m := New()
	defer m.Stop()

	m.Observe("a", tracker.Initial)
	m.Observe("a", tracker.Normal)
	m.Observe("a", tracker.Duplicate)
	m.Observe("b", tracker.OutOfOrder)
	m.Observe("b", tracker.OutOfOrder)

	assert.Equal(t, int64(5), m.Received.Count())
	assert.Equal(t, int64(1), m.Duplicates.Count())
	assert.Equal(t, int64(2), m.OutOfOrder.Count())

	assert.Equal(t, 1.0, testutil.ToFloat64(m.messages.WithLabelValues("a", "duplicate")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.messages.WithLabelValues("b", "out_of_order")))
}

func TestDrop(t *testing.T) {
	m := New()
	defer m.Stop()

	m.Drop("payload")
	m.Drop("payload")
	m.Drop("topic")

	assert.Equal(t, int64(3), m.Dropped.Count())
	assert.Equal(t, 2.0, testutil.ToFloat64(m.dropped.WithLabelValues("payload")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.dropped))
}
