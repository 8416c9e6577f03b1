package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecorderCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := NewRecorder(reg)

	rec.PurchaseStarted("ok")
	rec.PurchaseStarted("ok")
	rec.WebhookHandled("Delivered")
	rec.NotificationSent("")

	assert.Equal(t, 2.0, testutil.ToFloat64(rec.purchases.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.webhooks.WithLabelValues("delivered")))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.notifications.WithLabelValues("unknown")))
}

func TestRecorderNilSafe(t *testing.T) {
	var rec *Recorder
	assert.NotPanics(t, func() {
		rec.PurchaseStarted("ok")
		rec.WebhookHandled("ok")
		rec.NotificationSent("ok")
	})

	unregistered := NewRecorder(nil)
	assert.NotPanics(t, func() { unregistered.WebhookHandled("ok") })
}
