// Package metrics counts arrivals by classification. Console meters come
// from go-metrics; the same events feed Prometheus collectors for scraping.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	gometrics "github.com/rcrowley/go-metrics"
	"go.uber.org/zap"

	"github.com/kacperzuk/mqtt-qos-analyzer/internal/tracker"
)

const namespace = "qos_analyzer"

// Meters tracks session-wide rates
type Meters struct {
	Received   gometrics.Meter
	Dropped    gometrics.Meter
	Duplicates gometrics.Meter
	OutOfOrder gometrics.Meter

	messages *prometheus.CounterVec
	dropped  *prometheus.CounterVec
	registry *prometheus.Registry
	started  time.Time
}

// New creates meters and registers their Prometheus collectors on a
// dedicated registry
func New() *Meters {
	m := &Meters{
		Received:   gometrics.NewMeter(),
		Dropped:    gometrics.NewMeter(),
		Duplicates: gometrics.NewMeter(),
		OutOfOrder: gometrics.NewMeter(),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Messages recorded per device and classification.",
		}, []string{"device", "classification"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_total",
			Help:      "Messages rejected before tracking, by reason.",
		}, []string{"reason"}),
		registry: prometheus.NewRegistry(),
		started:  time.Now(),
	}
	m.registry.MustRegister(m.messages, m.dropped)
	return m
}

// Observe counts one recorded arrival
func (m *Meters) Observe(device string, class tracker.Classification) {
	m.Received.Mark(1)
	switch class {
	case tracker.Duplicate:
		m.Duplicates.Mark(1)
	case tracker.OutOfOrder:
		m.OutOfOrder.Mark(1)
	}
	m.messages.WithLabelValues(device, class.String()).Inc()
}

// Drop counts one rejected message
func (m *Meters) Drop(reason string) {
	m.Dropped.Mark(1)
	m.dropped.WithLabelValues(reason).Inc()
}

// Uptime returns the time since the meters were created
func (m *Meters) Uptime() time.Duration {
	return time.Since(m.started)
}

// Registry exposes the Prometheus registry backing the collectors
func (m *Meters) Registry() *prometheus.Registry {
	return m.registry
}

// Stop releases the go-metrics meter tickers
func (m *Meters) Stop() {
	m.Received.Stop()
	m.Dropped.Stop()
	m.Duplicates.Stop()
	m.OutOfOrder.Stop()
}

// Serve exposes /metrics on addr until ctx is done
func (m *Meters) Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("serving prometheus metrics", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
