package notify

import "github.com/prometheus/client_golang/prometheus"

// Notification kinds used as the "kind" label.
const (
	KindThreshold     = "threshold"
	KindReset         = "reset"
	KindUpcomingReset = "upcoming_reset"
	KindExpiry        = "expiry"
)

// Metrics counts dispatch outcomes per notification kind.
type Metrics struct {
	sent       *prometheus.CounterVec
	suppressed *prometheus.CounterVec
	failed     *prometheus.CounterVec
	resets     prometheus.Counter
}

// NewMetrics creates the counters and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aipulse_notifications_sent_total",
			Help: "Notifications delivered to the notifier.",
		}, []string{"kind"}),
		suppressed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aipulse_notifications_suppressed_total",
			Help: "Notifications dropped because Do Not Disturb was active.",
		}, []string{"kind"}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aipulse_notifications_failed_total",
			Help: "Notifications the notifier failed to show.",
		}, []string{"kind"}),
		resets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aipulse_usage_resets_total",
			Help: "Quota resets detected from usage drops.",
		}),
	}
	reg.MustRegister(m.sent, m.suppressed, m.failed, m.resets)
	return m
}

func (m *Metrics) recordSent(kind string) {
	if m != nil {
		m.sent.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) recordSuppressed(kind string) {
	if m != nil {
		m.suppressed.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) recordFailed(kind string) {
	if m != nil {
		m.failed.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) recordReset() {
	if m != nil {
		m.resets.Inc()
	}
}
