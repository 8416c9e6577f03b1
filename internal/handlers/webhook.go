package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/example/pixaccess/internal/services"
)

// WebhookHandler receives Mercado Pago payment notifications.
type WebhookHandler struct {
	reconciler *services.Reconciler
	log        zerolog.Logger
}

// NewWebhookHandler constructs a WebhookHandler.
func NewWebhookHandler(reconciler *services.Reconciler, log zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{reconciler: reconciler, log: log}
}

// MercadoPago acknowledges every well-formed notification. Failures are logged
// by the reconciler; the gateway redelivers on its own schedule.
func (h *WebhookHandler) MercadoPago(c *fiber.Ctx) error {
	query := make(map[string][]string)
	c.Context().QueryArgs().VisitAll(func(key, value []byte) {
		query[string(key)] = append(query[string(key)], string(value))
	})

	ev, err := services.ParseWebhookEvent(c.Body(), query)
	if err != nil {
		h.log.Warn().Err(err).Msg("malformed webhook body")
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"ok": false, "error": err.Error()})
	}

	outcome := h.reconciler.HandleEvent(c.UserContext(), ev)
	h.log.Debug().Str("payment_id", ev.PaymentID).Str("outcome", string(outcome)).Msg("webhook handled")
	return c.JSON(fiber.Map{"ok": true})
}
