// Package dump writes the full session state to disk: a JSON document with
// every tracker's history and a flat CSV of interval samples.
package dump

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"go.uber.org/zap"

	"github.com/kacperzuk/mqtt-qos-analyzer/internal/registry"
	"github.com/kacperzuk/mqtt-qos-analyzer/internal/tracker"
)

// Dumper writes <base>.json and <base>_intervals.csv
type Dumper struct {
	base   string
	out    io.Writer
	logger *zap.Logger
}

// New creates a dumper for the given base path. Progress lines go to out.
func New(base string, out io.Writer, logger *zap.Logger) *Dumper {
	return &Dumper{base: base, out: out, logger: logger}
}

// JSONPath returns the path of the state document
func (d *Dumper) JSONPath() string { return d.base + ".json" }

// CSVPath returns the path of the interval table
func (d *Dumper) CSVPath() string { return d.base + "_intervals.csv" }

// Dump writes both artifacts. A failure writing one does not prevent the
// other; all failures are returned joined.
func (d *Dumper) Dump(reg *registry.Registry) error {
	fmt.Fprintf(d.out, "Dumping state to %s and %s\n", d.JSONPath(), d.CSVPath())

	var errs []error
	if err := writeFile(d.JSONPath(), func(w io.Writer) error { return WriteState(w, reg) }); err != nil {
		d.logger.Error("state dump failed", zap.String("path", d.JSONPath()), zap.Error(err))
		errs = append(errs, err)
	}
	if err := writeFile(d.CSVPath(), func(w io.Writer) error { return WriteIntervals(w, reg) }); err != nil {
		d.logger.Error("interval dump failed", zap.String("path", d.CSVPath()), zap.Error(err))
		errs = append(errs, err)
	}

	if len(errs) == 0 {
		d.logger.Info("dump complete",
			zap.Int("devices", reg.Len()),
			zap.Int("intervals", reg.TotalIntervals()))
	}
	return errors.Join(errs...)
}

// WriteState encodes device id -> full tracker state as a JSON object
func WriteState(w io.Writer, reg *registry.Registry) error {
	states := make(map[string]tracker.State, reg.Len())
	reg.ForEach(func(device string, t *tracker.Tracker) {
		states[device] = t.State()
	})

	if err := json.NewEncoder(w).Encode(states); err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	return nil
}

// WriteIntervals writes one "<device>,<ms>" row per retained interval
// sample, grouped by device in registry order, without a header.
func WriteIntervals(w io.Writer, reg *registry.Registry) error {
	cw := csv.NewWriter(w)

	var err error
	reg.ForEach(func(device string, t *tracker.Tracker) {
		for _, ms := range t.Intervals() {
			if err != nil {
				return
			}
			err = cw.Write([]string{device, strconv.FormatFloat(ms, 'f', -1, 64)})
		}
	})
	if err != nil {
		return fmt.Errorf("write intervals: %w", err)
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush intervals: %w", err)
	}
	return nil
}

func writeFile(path string, fill func(io.Writer) error) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", path, cerr)
		}
	}()

	bw := bufio.NewWriter(f)
	if err := fill(bw); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
