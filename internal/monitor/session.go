// Package monitor runs the analyzer's event loop: every message, report tick
// and termination trigger is handled on one goroutine, so the registry needs
// no locking.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/kacperzuk/mqtt-qos-analyzer/internal/dump"
	"github.com/kacperzuk/mqtt-qos-analyzer/internal/metrics"
	"github.com/kacperzuk/mqtt-qos-analyzer/internal/registry"
	"github.com/kacperzuk/mqtt-qos-analyzer/internal/report"
	"github.com/kacperzuk/mqtt-qos-analyzer/internal/tracker"
	"github.com/kacperzuk/mqtt-qos-analyzer/internal/transport"
)

// DefaultReportInterval is the status report cadence
const DefaultReportInterval = 2 * time.Second

// Options configures a Session
type Options struct {
	ReportInterval time.Duration
	// Start anchors monotonic arrival offsets; defaults to time.Now()
	Start time.Time
}

// Session owns the registry for one run of the analyzer
type Session struct {
	reg      *registry.Registry
	reporter *report.Reporter
	dumper   *dump.Dumper
	meters   *metrics.Meters
	logger   *zap.Logger
	out      io.Writer

	interval time.Duration
	start    time.Time
}

// NewSession wires the session components. out receives termination lines.
func NewSession(reg *registry.Registry, reporter *report.Reporter, dumper *dump.Dumper,
	meters *metrics.Meters, out io.Writer, logger *zap.Logger, opts Options) *Session {
	if opts.ReportInterval <= 0 {
		opts.ReportInterval = DefaultReportInterval
	}
	if opts.Start.IsZero() {
		opts.Start = time.Now()
	}
	return &Session{
		reg:      reg,
		reporter: reporter,
		dumper:   dumper,
		meters:   meters,
		logger:   logger,
		out:      out,
		interval: opts.ReportInterval,
		start:    opts.Start,
	}
}

// Registry returns the session's registry
func (s *Session) Registry() *registry.Registry { return s.reg }

// Run processes events until an Interrupt or Fault trigger, or until ctx is
// done. It returns nil after an Interrupt and a *FaultError after a Fault.
func (s *Session) Run(ctx context.Context, msgs <-chan transport.Message, triggers <-chan Trigger) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case msg, ok := <-msgs:
			if !ok {
				msgs = nil
				continue
			}
			if err := s.guard(func() { _, _ = s.HandleMessage(msg) }); err != nil {
				return s.Terminate(Trigger{Kind: Fault, Reason: "message handler", Err: err})
			}

		case <-ticker.C:
			if err := s.guard(func() { s.reporter.Report(ctx, s.reg) }); err != nil {
				return s.Terminate(Trigger{Kind: Fault, Reason: "reporter", Err: err})
			}

		case t := <-triggers:
			if t.Kind == Reload {
				_ = s.Terminate(t)
				continue
			}
			return s.Terminate(t)
		}
	}
}

// HandleMessage parses and records one delivery. Malformed messages are
// dropped with a warning and never reach a tracker.
func (s *Session) HandleMessage(msg transport.Message) (tracker.Classification, error) {
	device, err := DeviceFromTopic(msg.Topic)
	if err != nil {
		s.drop("topic", msg, err)
		return 0, err
	}
	seq, err := ParseSequence(msg.Payload)
	if err != nil {
		s.drop("payload", msg, err)
		return 0, err
	}

	received := msg.Received
	if received.IsZero() {
		received = time.Now()
	}

	class := s.reg.GetOrCreate(device).Record(seq, received, received.Sub(s.start))
	s.meters.Observe(device, class)
	if class == tracker.Duplicate || class == tracker.OutOfOrder {
		s.logger.Debug("anomaly",
			zap.String("device", device),
			zap.Int64("seq", seq),
			zap.Stringer("class", class))
	}
	return class, nil
}

func (s *Session) drop(reason string, msg transport.Message, err error) {
	s.meters.Drop(reason)
	s.logger.Warn("dropping malformed message",
		zap.String("topic", msg.Topic),
		zap.String("reason", reason),
		zap.Error(err))
}

// Terminate dumps the registry and reports the trigger. The dump is attempted
// even if a previous one failed; write errors are logged, not returned.
// The returned error is non-nil only for Fault triggers.
func (s *Session) Terminate(t Trigger) error {
	if err := s.dumper.Dump(s.reg); err != nil {
		fmt.Fprintf(s.out, "Dump failed: %v\n", err)
	}

	switch t.Kind {
	case Reload:
		s.logger.Info("state dumped, continuing", zap.Stringer("trigger", t))
		return nil
	case Fault:
		fmt.Fprintf(s.out, "Quitting because: %s\n", t)
		err := t.Err
		if err == nil {
			err = errors.New("unknown fault")
		}
		fmt.Fprintln(s.out, err)
		return &FaultError{Err: err}
	default:
		fmt.Fprintf(s.out, "Quitting because: %s\n", t)
		return nil
	}
}

// guard runs fn and converts a panic into an error carrying the stack
func (s *Session) guard(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	fn()
	return nil
}
