// Package alert evaluates OPA Rego policies against device snapshots and
// records the snapshots that trip them.
package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/open-policy-agent/opa/rego"
	"go.uber.org/zap"

	"github.com/kacperzuk/mqtt-qos-analyzer/internal/tracker"
)

// Query is the rule every policy module must define
const Query = "data.qos.alert"

// Policy represents a Rego rule evaluated against each device snapshot
type Policy struct {
	Name  string `json:"name"`
	Rego  string `json:"rego"` // OPA Rego policy module
	query *rego.PreparedEvalQuery
}

// Alert represents a triggered alert for JSON serialization
type Alert struct {
	Timestamp string                 `json:"timestamp"`
	Policy    string                 `json:"policy"`
	Device    string                 `json:"device"`
	Snapshot  map[string]interface{} `json:"snapshot"`
}

// LoadPolicy reads and compiles a policy module from path
func LoadPolicy(ctx context.Context, path string) (*Policy, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy %s: %w", path, err)
	}

	p := &Policy{Name: filepath.Base(path), Rego: string(src)}
	if err := p.Compile(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

// Compile prepares the Rego policy for evaluation
func (p *Policy) Compile(ctx context.Context) error {
	r := rego.New(
		rego.Query(Query),
		rego.Module(p.Name, p.Rego),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("compile policy %s: %w", p.Name, err)
	}

	p.query = &query
	return nil
}

// Evaluate reports whether snap trips the policy. An undefined rule or a
// non-boolean result counts as no alert.
func (p *Policy) Evaluate(ctx context.Context, snap tracker.Snapshot) (bool, error) {
	if p.query == nil {
		return false, nil
	}

	results, err := p.query.Eval(ctx, rego.EvalInput(Input(snap)))
	if err != nil {
		return false, fmt.Errorf("evaluate policy %s: %w", p.Name, err)
	}

	if len(results) > 0 && len(results[0].Expressions) > 0 {
		if hit, ok := results[0].Expressions[0].Value.(bool); ok {
			return hit, nil
		}
	}
	return false, nil
}

// Input builds the Rego input document for a snapshot. Window statistics
// are only present when the window holds at least one interval.
func Input(snap tracker.Snapshot) map[string]interface{} {
	input := map[string]interface{}{
		"device":        snap.Device,
		"messages":      snap.Messages,
		"last_sequence": snap.LastSequence,
		"duplicates":    snap.Duplicates,
		"out_of_order":  snap.OutOfOrder,
		"window_valid":  snap.WindowValid,
	}
	if snap.WindowValid {
		input["mean_ms"] = snap.Window.Mean
		input["stddev_ms"] = snap.Window.StdDev
		input["p95_ms"] = snap.Window.Percentile
		input["max_ms"] = snap.Window.Max
		input["window_size"] = snap.Window.SampleSize
	}
	return input
}

// Evaluator runs a set of policies and appends hits as JSON lines to out
type Evaluator struct {
	policies []*Policy
	out      io.Writer
	logger   *zap.Logger
	now      func() time.Time
}

// NewEvaluator creates an evaluator writing alerts to out
func NewEvaluator(out io.Writer, logger *zap.Logger, policies ...*Policy) *Evaluator {
	return &Evaluator{
		policies: policies,
		out:      out,
		logger:   logger,
		now:      time.Now,
	}
}

// Check evaluates every policy against snap and returns the alerts raised
func (e *Evaluator) Check(ctx context.Context, snap tracker.Snapshot) []Alert {
	var alerts []Alert
	for _, policy := range e.policies {
		hit, err := policy.Evaluate(ctx, snap)
		if err != nil {
			e.logger.Warn("policy evaluation failed",
				zap.String("policy", policy.Name),
				zap.String("device", snap.Device),
				zap.Error(err))
			continue
		}
		if !hit {
			continue
		}

		alert := Alert{
			Timestamp: e.now().UTC().Format(time.RFC3339),
			Policy:    policy.Name,
			Device:    snap.Device,
			Snapshot:  Input(snap),
		}
		alerts = append(alerts, alert)

		// Marshal to JSON and write as one line
		line, err := json.Marshal(alert)
		if err != nil {
			e.logger.Warn("encode alert", zap.Error(err))
			continue
		}
		if _, err := fmt.Fprintf(e.out, "%s\n", line); err != nil {
			e.logger.Warn("write alert", zap.String("device", snap.Device), zap.Error(err))
		}
	}
	return alerts
}
