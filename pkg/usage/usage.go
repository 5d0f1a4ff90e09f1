// Package usage defines the quota snapshots produced by provider fetches.
package usage

import (
	"math"
	"time"
)

// Limit is one quota dimension, e.g. the five hour or seven day window.
type Limit struct {
	ID          string    `json:"id"`
	Label       string    `json:"label"`
	Utilization float64   `json:"utilization"` // percent, 0-100, may briefly exceed 100
	ResetsAt    time.Time `json:"resets_at"`
}

// MaxPercent caps Percent for out-of-range utilization, including +Inf.
const MaxPercent = math.MaxInt32

// Percent returns the utilization rounded to a whole percent. Negative and
// NaN values are reported as 0.
func (l Limit) Percent() int {
	p := math.Round(l.Utilization)
	switch {
	case p < 0 || math.IsNaN(p):
		return 0
	case p > MaxPercent:
		return MaxPercent
	}
	return int(p)
}

// Snapshot is the ordered set of limits returned by one fetch.
type Snapshot struct {
	Limits    []Limit   `json:"limits"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Find returns the limit with id.
func (s *Snapshot) Find(id string) (Limit, bool) {
	if s == nil {
		return Limit{}, false
	}
	for _, l := range s.Limits {
		if l.ID == id {
			return l, true
		}
	}
	return Limit{}, false
}
