// Package notify decides which usage alerts to show and makes sure each one
// is shown at most once per crossing.
//
// An Engine owns no global state: the Tracker it is built with is the only
// memory of what has been sent, so tests and callers can run isolated
// engines side by side.
package notify

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/forest6511/aipulse/pkg/settings"
	"github.com/forest6511/aipulse/pkg/usage"
)

// Reset detection: a limit that was at least ResetMinPrevious percent and
// dropped by more than ResetDrop points is treated as a quota reset.
const (
	ResetMinPrevious = 50
	ResetDrop        = 40
)

// Upcoming reset warnings fire within UpcomingResetWindow of the reset when
// usage is at least UpcomingResetMinPercent.
const (
	UpcomingResetWindow     = time.Hour
	UpcomingResetMinPercent = 75
)

// ResetTiers are re-armed for a limit when a reset is detected.
var ResetTiers = []int{50, 75, 90, 100}

// Notifier shows a notification to the user.
type Notifier interface {
	Show(title, body string) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(title, body string) error

// Show implements Notifier.
func (f NotifierFunc) Show(title, body string) error { return f(title, body) }

// ResetObserver is told about every detected reset. It runs on the caller's
// goroutine and must not block.
type ResetObserver func(limitID string)

// Engine evaluates usage snapshots against notification settings.
type Engine struct {
	tracker  *Tracker
	notifier Notifier
	log      logrus.FieldLogger
	now      func() time.Time
	loc      *time.Location
	onReset  ResetObserver
	metrics  *Metrics
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

func WithLogger(l logrus.FieldLogger) EngineOption {
	return func(e *Engine) { e.log = l }
}

func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// WithLocation sets the time zone DND windows are evaluated in. Defaults to
// time.Local.
func WithLocation(loc *time.Location) EngineOption {
	return func(e *Engine) { e.loc = loc }
}

func WithResetObserver(o ResetObserver) EngineOption {
	return func(e *Engine) { e.onReset = o }
}

func WithMetrics(m *Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine returns an Engine recording sent alerts in tracker and showing
// them through n.
func NewEngine(tracker *Tracker, n Notifier, opts ...EngineOption) *Engine {
	e := &Engine{
		tracker:  tracker,
		notifier: n,
		log:      logrus.StandardLogger(),
		now:      time.Now,
		loc:      time.Local,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Tracker returns the engine's tracker.
func (e *Engine) Tracker() *Tracker { return e.tracker }

// WithTracker returns a copy of e recording sent alerts in t. The notifier,
// metrics and reset observer are shared with e.
func (e *Engine) WithTracker(t *Tracker) *Engine {
	c := *e
	c.tracker = t
	return &c
}

// ProcessUsage evaluates every limit of current, in order: thresholds above
// the current percent are re-armed, newly crossed thresholds are notified,
// and, when enabled, a large drop since previous is reported as a reset.
func (e *Engine) ProcessUsage(n settings.NotificationSettings, current, previous *usage.Snapshot) {
	if !n.Enabled || current == nil {
		return
	}

	for _, limit := range current.Limits {
		percent := limit.Percent()
		e.tracker.ClearThresholdsAbove(limit.ID, percent)

		e.checkThresholds(n, limit, percent)

		if n.NotifyOnReset {
			e.checkReset(n, limit, percent, previous)
		}
	}
}

func (e *Engine) checkThresholds(n settings.NotificationSettings, limit usage.Limit, percent int) {
	log := e.log.WithField("limit_id", limit.ID)
	log.Debugf("checking thresholds: utilization=%.2f percent=%d", limit.Utilization, percent)

	for _, t := range n.Thresholds {
		if percent < t || e.tracker.WasThresholdNotified(limit.ID, t) {
			continue
		}

		title := fmt.Sprintf("%d%% Usage Alert", t)
		body := fmt.Sprintf("%s is at %d%% usage", limit.Label, min(percent, 100))
		if e.suppressed(n, KindThreshold, title) {
			continue
		}
		if !e.tracker.TryMarkThreshold(limit.ID, t) {
			// another caller claimed it between the check and now
			continue
		}
		if !e.show(KindThreshold, title, body) {
			e.tracker.ClearThreshold(limit.ID, t)
			continue
		}
		log.WithField("threshold", t).Info("sent threshold notification")
	}
}

func (e *Engine) checkReset(n settings.NotificationSettings, limit usage.Limit, percent int, previous *usage.Snapshot) {
	prev, ok := previous.Find(limit.ID)
	if !ok {
		return
	}
	prevPercent := prev.Percent()
	if prevPercent < ResetMinPrevious || percent >= prevPercent-ResetDrop {
		return
	}

	title := "Usage Reset"
	body := fmt.Sprintf("%s has reset! Now at %d%%", limit.Label, percent)
	if !e.suppressed(n, KindReset, title) {
		e.show(KindReset, title, body)
	}

	// Re-arm regardless of delivery: the quota did reset.
	e.tracker.ClearResetWarning(limit.ID)
	for _, t := range ResetTiers {
		e.tracker.ClearThreshold(limit.ID, t)
	}
	e.metrics.recordReset()
	if e.onReset != nil {
		e.onReset(limit.ID)
	}

	e.log.WithFields(logrus.Fields{"limit_id": limit.ID, "from": prevPercent, "to": percent}).
		Info("detected usage reset")
}

// CheckUpcomingReset warns once per limit when the limit resets within the
// hour and usage is high. It is gated by NotifyOnReset.
func (e *Engine) CheckUpcomingReset(n settings.NotificationSettings, limit usage.Limit) {
	if !n.Enabled || !n.NotifyOnReset {
		return
	}

	until := limit.ResetsAt.Sub(e.now())
	percent := limit.Percent()
	if until <= 0 || until > UpcomingResetWindow || percent < UpcomingResetMinPercent {
		return
	}
	if e.tracker.WasResetWarningSent(limit.ID) {
		return
	}

	title := "Limit Reset Soon"
	body := fmt.Sprintf("%s will reset in %d minutes (currently at %d%%)",
		limit.Label, int(until/time.Minute), percent)
	if e.suppressed(n, KindUpcomingReset, title) {
		return
	}
	if !e.tracker.TryMarkResetWarning(limit.ID) {
		return
	}
	if !e.show(KindUpcomingReset, title, body) {
		e.tracker.ClearResetWarning(limit.ID)
		return
	}
	e.log.WithField("limit_id", limit.ID).Info("sent upcoming reset notification")
}

// SendExpiryWarning tells the user the provider session may be expiring.
// Nothing is tracked; the caller decides how often to call it. It reports
// whether the notification was shown.
func (e *Engine) SendExpiryWarning(n settings.NotificationSettings, providerName string) bool {
	if !n.Enabled || !n.NotifyOnExpiry {
		return false
	}
	title := "Session Expiring"
	body := fmt.Sprintf("Your %s session may be expiring soon. Please refresh your credentials.", providerName)
	if e.suppressed(n, KindExpiry, title) {
		return false
	}
	return e.show(KindExpiry, title, body)
}

// DNDActive reports whether DND is active right now in the engine's location.
func (e *Engine) DNDActive(n settings.NotificationSettings) bool {
	return IsDNDActive(n, e.now().In(e.loc))
}

func (e *Engine) suppressed(n settings.NotificationSettings, kind, title string) bool {
	if !e.DNDActive(n) {
		return false
	}
	e.metrics.recordSuppressed(kind)
	e.log.WithField("kind", kind).Debugf("notification suppressed (DND active): %s", title)
	return true
}

func (e *Engine) show(kind, title, body string) bool {
	if err := e.notifier.Show(title, body); err != nil {
		e.metrics.recordFailed(kind)
		e.log.WithError(err).WithField("kind", kind).Warn("failed to send notification")
		return false
	}
	e.metrics.recordSent(kind)
	e.log.WithField("kind", kind).Debugf("notification sent: %s - %s", title, body)
	return true
}
