// Package registry maps device identifiers to their trackers for the
// lifetime of one monitoring session.
package registry

import (
	"sort"

	"github.com/kacperzuk/mqtt-qos-analyzer/internal/tracker"
)

// Registry manages tracking of sequence streams from devices. Trackers are
// created lazily and never removed. Not safe for concurrent use.
type Registry struct {
	devices map[string]*tracker.Tracker
	opts    tracker.Options
}

// New creates an empty registry whose trackers use opts
func New(opts tracker.Options) *Registry {
	return &Registry{
		devices: make(map[string]*tracker.Tracker),
		opts:    opts,
	}
}

// GetOrCreate returns the tracker for device, creating it on first use
func (r *Registry) GetOrCreate(device string) *tracker.Tracker {
	// Lazy initialize tracker for this device
	t, ok := r.devices[device]
	if !ok {
		t = tracker.New(r.opts)
		r.devices[device] = t
	}
	return t
}

// Get returns the tracker for device if one exists
func (r *Registry) Get(device string) (*tracker.Tracker, bool) {
	t, ok := r.devices[device]
	return t, ok
}

// Len returns the number of known devices
func (r *Registry) Len() int {
	return len(r.devices)
}

// Devices returns the known device ids in lexicographic order
func (r *Registry) Devices() []string {
	ids := make([]string, 0, len(r.devices))
	for id := range r.devices {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ForEach calls fn for every device in lexicographic order
func (r *Registry) ForEach(fn func(device string, t *tracker.Tracker)) {
	for _, id := range r.Devices() {
		fn(id, r.devices[id])
	}
}

// TotalIntervals returns the number of retained interval samples across all devices
func (r *Registry) TotalIntervals() int {
	total := 0
	for _, t := range r.devices {
		total += len(t.Intervals())
	}
	return total
}

// Snapshots returns a snapshot per device, in device order
func (r *Registry) Snapshots(windowSize int) []tracker.Snapshot {
	snaps := make([]tracker.Snapshot, 0, len(r.devices))
	r.ForEach(func(device string, t *tracker.Tracker) {
		snaps = append(snaps, t.Snapshot(device, windowSize))
	})
	return snaps
}
