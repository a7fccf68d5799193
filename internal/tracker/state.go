package tracker

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Stamp is a single recorded arrival
type Stamp struct {
	Wall     time.Time
	Sequence int64
}

// MarshalJSON encodes a stamp as a [unixMillis, sequence] pair
func (s Stamp) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]int64{s.Wall.UnixMilli(), s.Sequence})
}

// UnmarshalJSON decodes a [unixMillis, sequence] pair
func (s *Stamp) UnmarshalJSON(data []byte) error {
	var pair [2]int64
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("decode stamp: %w", err)
	}
	s.Wall = time.UnixMilli(pair[0])
	s.Sequence = pair[1]
	return nil
}

// State is the full history of a tracker as written to the JSON dump
type State struct {
	LastSequence  int64     `json:"last_i"`
	LastTimestamp float64   `json:"last_timestamp"` // ms on the session's monotonic clock
	Messages      []Stamp   `json:"messages"`
	Intervals     []float64 `json:"intervals"`
	Seen          []int64   `json:"seen"`
	Duplicates    []Stamp   `json:"duplicates"`
	OutOfOrder    []Stamp   `json:"out_of_order"`
}

// State exports the tracker history. Slices are copies; seen numbers are
// sorted ascending.
func (t *Tracker) State() State {
	seen := make([]int64, 0, len(t.seen))
	for seq := range t.seen {
		seen = append(seen, seq)
	}
	sort.Slice(seen, func(i, j int) bool { return seen[i] < seen[j] })

	return State{
		LastSequence:  t.lastSequence,
		LastTimestamp: float64(t.lastArrival) / float64(time.Millisecond),
		Messages:      append([]Stamp{}, t.Messages()...),
		Intervals:     append([]float64{}, t.Intervals()...),
		Seen:          seen,
		Duplicates:    append([]Stamp{}, t.Duplicates()...),
		OutOfOrder:    append([]Stamp{}, t.OutOfOrder()...),
	}
}
