package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder counts purchase, webhook and notification outcomes. A nil Recorder
// or one built with a nil registerer is a no-op.
type Recorder struct {
	purchases     *prometheus.CounterVec
	webhooks      *prometheus.CounterVec
	notifications *prometheus.CounterVec
}

// NewRecorder registers the counters on the provided registerer.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		return &Recorder{}
	}
	purchases := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "purchases_started_total",
		Help: "Purchase creation attempts by result.",
	}, []string{"result"})
	webhooks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_total",
		Help: "Payment webhook events by reconciliation outcome.",
	}, []string{"outcome"})
	notifications := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_total",
		Help: "Post-payment notifications by result.",
	}, []string{"result"})
	reg.MustRegister(purchases, webhooks, notifications)
	return &Recorder{
		purchases:     purchases,
		webhooks:      webhooks,
		notifications: notifications,
	}
}

// PurchaseStarted records the result of a StartPurchase call.
func (r *Recorder) PurchaseStarted(result string) {
	if r == nil || r.purchases == nil {
		return
	}
	r.purchases.WithLabelValues(normalizeLabel(result)).Inc()
}

// WebhookHandled records a reconciliation outcome.
func (r *Recorder) WebhookHandled(outcome string) {
	if r == nil || r.webhooks == nil {
		return
	}
	r.webhooks.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// NotificationSent records a notification attempt.
func (r *Recorder) NotificationSent(result string) {
	if r == nil || r.notifications == nil {
		return
	}
	r.notifications.WithLabelValues(normalizeLabel(result)).Inc()
}

func normalizeLabel(value string) string {
	value = strings.TrimSpace(strings.ToLower(value))
	if value == "" {
		return "unknown"
	}
	return value
}
