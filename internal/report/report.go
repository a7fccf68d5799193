// Package report prints the periodic per-device status blocks.
package report

import (
	"context"
	"fmt"
	"io"

	"github.com/kacperzuk/mqtt-qos-analyzer/internal/alert"
	"github.com/kacperzuk/mqtt-qos-analyzer/internal/metrics"
	"github.com/kacperzuk/mqtt-qos-analyzer/internal/registry"
	"github.com/kacperzuk/mqtt-qos-analyzer/internal/tracker"
)

// Reporter prints registry summaries. It only reads tracker state.
type Reporter struct {
	out        io.Writer
	windowSize int
	meters     *metrics.Meters
	alerts     *alert.Evaluator
}

// Option configures a Reporter
type Option func(*Reporter)

// WithMeters adds a session header built from the meters
func WithMeters(m *metrics.Meters) Option {
	return func(r *Reporter) { r.meters = m }
}

// WithAlerts evaluates alert policies against each device snapshot
func WithAlerts(e *alert.Evaluator) Option {
	return func(r *Reporter) { r.alerts = e }
}

// New creates a reporter writing to out over the last windowSize intervals
func New(out io.Writer, windowSize int, opts ...Option) *Reporter {
	r := &Reporter{out: out, windowSize: windowSize}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Report prints one status pass over every device in reg
func (r *Reporter) Report(ctx context.Context, reg *registry.Registry) {
	if r.meters != nil {
		r.printHeader(reg)
	}

	for _, snap := range reg.Snapshots(r.windowSize) {
		r.printDevice(snap)
		if r.alerts != nil {
			for _, a := range r.alerts.Check(ctx, snap) {
				fmt.Fprintf(r.out, "ALERT: policy %s tripped for device #%s\n", a.Policy, a.Device)
			}
		}
	}
}

func (r *Reporter) printHeader(reg *registry.Registry) {
	m := r.meters
	fmt.Fprintf(r.out, "Uptime: %ds, devices: %d\n", int(m.Uptime().Seconds()), reg.Len())
	fmt.Fprintf(r.out, "Messages Received: %d (%.1f/sec)\n", m.Received.Count(), m.Received.Rate1())
	fmt.Fprintf(r.out, "Messages Dropped:  %d (%.1f/sec)\n", m.Dropped.Count(), m.Dropped.Rate1())
	fmt.Fprintf(r.out, "Duplicates:        %d (%.1f/sec)\n", m.Duplicates.Count(), m.Duplicates.Rate1())
	fmt.Fprintf(r.out, "Out of order:      %d (%.1f/sec)\n", m.OutOfOrder.Count(), m.OutOfOrder.Rate1())
}

func (r *Reporter) printDevice(snap tracker.Snapshot) {
	fmt.Fprintln(r.out, "=====")
	fmt.Fprintf(r.out, "Status for device #%s (stats for last %s msgs)\n", snap.Device, windowLabel(r.windowSize))
	fmt.Fprintf(r.out, "Msgs rcvd: %d\n", snap.Messages)
	fmt.Fprintf(r.out, "i: %d\n", snap.LastSequence)
	if snap.WindowValid {
		fmt.Fprintf(r.out, "Mean interval: %.3f\n", snap.Window.Mean)
		fmt.Fprintf(r.out, "stddev interval: %.3f\n", snap.Window.StdDev)
		fmt.Fprintf(r.out, "95th percentile interval: %.3f\n", snap.Window.Percentile)
		fmt.Fprintf(r.out, "max interval: %.3f\n", snap.Window.Max)
	} else {
		fmt.Fprintln(r.out, "Mean interval: n/a")
		fmt.Fprintln(r.out, "stddev interval: n/a")
		fmt.Fprintln(r.out, "95th percentile interval: n/a")
		fmt.Fprintln(r.out, "max interval: n/a")
	}
	fmt.Fprintf(r.out, "number of duplicates: %d\n", snap.Duplicates)
	fmt.Fprintf(r.out, "number of out_of_order: %d\n", snap.OutOfOrder)
}

// windowLabel renders 1000 as "1k"
func windowLabel(n int) string {
	if n >= 1000 && n%1000 == 0 {
		return fmt.Sprintf("%dk", n/1000)
	}
	return fmt.Sprintf("%d", n)
}
