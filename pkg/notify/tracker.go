package notify

import (
	"sort"
	"sync"
)

type thresholdKey struct {
	limitID   string
	threshold int
}

// Tracker records which alerts have already fired in this process. A
// threshold pair is present only while its notification has been dispatched
// and not yet cleared. The zero value is not usable; call NewTracker.
type Tracker struct {
	mu            sync.Mutex
	thresholds    map[thresholdKey]struct{}
	resetWarnings map[string]struct{}
}

// NewTracker returns an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{
		thresholds:    make(map[thresholdKey]struct{}),
		resetWarnings: make(map[string]struct{}),
	}
}

func (t *Tracker) WasThresholdNotified(limitID string, threshold int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.thresholds[thresholdKey{limitID, threshold}]
	return ok
}

func (t *Tracker) MarkThresholdNotified(limitID string, threshold int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.thresholds[thresholdKey{limitID, threshold}] = struct{}{}
}

func (t *Tracker) ClearThreshold(limitID string, threshold int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.thresholds, thresholdKey{limitID, threshold})
}

// ClearThresholdsAbove forgets every threshold of limitID strictly greater
// than percent, so those alerts can fire again if usage climbs back.
func (t *Tracker) ClearThresholdsAbove(limitID string, percent int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k := range t.thresholds {
		if k.limitID == limitID && k.threshold > percent {
			delete(t.thresholds, k)
		}
	}
}

// TryMarkThreshold marks the pair and reports true if it was not marked
// before. Exactly one of several concurrent callers wins.
func (t *Tracker) TryMarkThreshold(limitID string, threshold int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := thresholdKey{limitID, threshold}
	if _, ok := t.thresholds[k]; ok {
		return false
	}
	t.thresholds[k] = struct{}{}
	return true
}

func (t *Tracker) WasResetWarningSent(limitID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.resetWarnings[limitID]
	return ok
}

func (t *Tracker) MarkResetWarningSent(limitID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetWarnings[limitID] = struct{}{}
}

func (t *Tracker) ClearResetWarning(limitID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.resetWarnings, limitID)
}

// TryMarkResetWarning is the reset-warning counterpart of TryMarkThreshold.
func (t *Tracker) TryMarkResetWarning(limitID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.resetWarnings[limitID]; ok {
		return false
	}
	t.resetWarnings[limitID] = struct{}{}
	return true
}

// State is a point-in-time copy of a Tracker.
type State struct {
	// Thresholds maps a limit id to its notified thresholds, ascending.
	Thresholds    map[string][]int `json:"thresholds"`
	ResetWarnings []string         `json:"reset_warnings"`
}

// Snapshot copies the tracker contents.
func (t *Tracker) Snapshot() State {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := State{
		Thresholds:    make(map[string][]int),
		ResetWarnings: make([]string, 0, len(t.resetWarnings)),
	}
	for k := range t.thresholds {
		s.Thresholds[k.limitID] = append(s.Thresholds[k.limitID], k.threshold)
	}
	for id := range s.Thresholds {
		sort.Ints(s.Thresholds[id])
	}
	for id := range t.resetWarnings {
		s.ResetWarnings = append(s.ResetWarnings, id)
	}
	sort.Strings(s.ResetWarnings)
	return s
}
