package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kacperzuk/mqtt-qos-analyzer/internal/alert"
	"github.com/kacperzuk/mqtt-qos-analyzer/internal/config"
	"github.com/kacperzuk/mqtt-qos-analyzer/internal/dump"
	"github.com/kacperzuk/mqtt-qos-analyzer/internal/metrics"
	"github.com/kacperzuk/mqtt-qos-analyzer/internal/monitor"
	"github.com/kacperzuk/mqtt-qos-analyzer/internal/registry"
	"github.com/kacperzuk/mqtt-qos-analyzer/internal/report"
	"github.com/kacperzuk/mqtt-qos-analyzer/internal/tracker"
	"github.com/kacperzuk/mqtt-qos-analyzer/internal/transport"
)

// messageBuffer bounds how many deliveries may wait while the session loop
// is busy (e.g. writing a dump); the transport blocks beyond that
const messageBuffer = 4096

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var rootCmd = &cobra.Command{
		Use:           "mqtt-qos-analyzer",
		Short:         "Delivery quality analyzer for sequentially numbered pub/sub streams",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	// Run command - default behavior
	var runCmd = &cobra.Command{
		Use:   "run [file]",
		Short: "Subscribe, report per-device ordering/duplication/jitter and dump state on exit",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runApplication,
	}
	config.RegisterFlags(runCmd.Flags())

	rootCmd.AddCommand(runCmd)
	return rootCmd
}

func runApplication(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(viper.New(), cmd.Flags(), args)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.Debug)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	meters := metrics.New()
	defer meters.Stop()

	out := cmd.OutOrStdout()
	reporterOpts := []report.Option{report.WithMeters(meters)}
	if cfg.AlertPolicy != "" {
		evaluator, closeAlerts, err := newAlertEvaluator(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer closeAlerts()
		reporterOpts = append(reporterOpts, report.WithAlerts(evaluator))
	}

	session := monitor.NewSession(
		registry.New(tracker.Options{Retain: cfg.Retain}),
		report.New(out, cfg.Window, reporterOpts...),
		dump.New(cfg.File, out, logger),
		meters, out, logger,
		monitor.Options{ReportInterval: cfg.ReportInterval},
	)

	subscriber := newSubscriber(cfg, logger)
	msgs := make(chan transport.Message, messageBuffer)
	triggers := make(chan monitor.Trigger, 1)

	// Handle termination triggers
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, monitor.Signals()...)
	defer signal.Stop(sigChan)

	// Create errgroup
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		supervise(gctx, triggers, "transport", func() error {
			return subscriber.Run(gctx, func(m transport.Message) {
				select {
				case msgs <- m:
				case <-gctx.Done():
				}
			})
		})
		return nil
	})

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case sig := <-sigChan:
				sendTrigger(gctx, triggers, monitor.TriggerFromSignal(sig))
			}
		}
	})

	if cfg.MetricsAddr != "" {
		g.Go(func() error {
			supervise(gctx, triggers, "metrics server", func() error {
				return meters.Serve(gctx, cfg.MetricsAddr, logger)
			})
			return nil
		})
	}

	g.Go(func() error {
		// the session decides when the process ends
		defer cancel()
		return session.Run(gctx, msgs, triggers)
	})

	return g.Wait()
}

// supervise runs fn and turns its error, or a panic, into a Fault trigger so
// the session dumps before the process exits
func supervise(ctx context.Context, triggers chan<- monitor.Trigger, reason string, fn func() error) {
	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
		if err != nil {
			sendTrigger(ctx, triggers, monitor.Trigger{Kind: monitor.Fault, Reason: reason, Err: err})
		}
	}()
	err = fn()
}

func sendTrigger(ctx context.Context, triggers chan<- monitor.Trigger, t monitor.Trigger) {
	select {
	case triggers <- t:
	case <-ctx.Done():
	}
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func newSubscriber(cfg *config.Config, logger *zap.Logger) transport.Subscriber {
	jitter := transport.Jitter{
		Probability: cfg.LatencyProbability,
		MaxLatency:  cfg.MaxLatency,
	}

	if cfg.Transport == config.TransportRedis {
		if cfg.SubQoS != 0 {
			logger.Info("redis pub/sub has no QoS levels; --sub-qos is ignored", zap.Int("sub_qos", cfg.SubQoS))
		}
		return transport.NewRedisSubscriber(transport.RedisConfig{
			Addr:      cfg.Redis,
			TopicRoot: cfg.TopicRoot,
			Jitter:    jitter,
		}, logger)
	}

	return transport.NewMQTTSubscriber(transport.MQTTConfig{
		Broker:    cfg.Broker,
		ClientID:  cfg.ClientID,
		TopicRoot: cfg.TopicRoot,
		QoS:       byte(cfg.SubQoS),
		Jitter:    jitter,
	}, logger)
}

func newAlertEvaluator(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*alert.Evaluator, func(), error) {
	policy, err := alert.LoadPolicy(ctx, cfg.AlertPolicy)
	if err != nil {
		return nil, nil, err
	}

	// Open alerts file in append mode
	alertFile, err := os.OpenFile(cfg.AlertsFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open alerts file: %w", err)
	}

	closeFn := func() {
		if err := alertFile.Close(); err != nil {
			logger.Warn("close alerts file", zap.Error(err))
		}
	}
	return alert.NewEvaluator(alertFile, logger, policy), closeFn, nil
}
