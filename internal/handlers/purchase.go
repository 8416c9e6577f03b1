package handlers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/example/pixaccess/internal/middleware"
	"github.com/example/pixaccess/internal/services"
)

// PurchaseHandler exposes purchase creation and payment polling.
type PurchaseHandler struct {
	purchases *services.PurchaseService
	sessions  *services.SessionManager
	cookie    middleware.SessionCookie
	log       zerolog.Logger
}

// NewPurchaseHandler constructs a PurchaseHandler.
func NewPurchaseHandler(purchases *services.PurchaseService, sessions *services.SessionManager, cookie middleware.SessionCookie, log zerolog.Logger) *PurchaseHandler {
	return &PurchaseHandler{purchases: purchases, sessions: sessions, cookie: cookie, log: log}
}

// Create opens a pending purchase and returns the Pix charge. The buyer is
// logged in as a side effect.
func (h *PurchaseHandler) Create(c *fiber.Ctx) error {
	req, err := parseCredentials(c)
	if err != nil {
		return writeError(c, h.log, err)
	}

	receipt, err := h.purchases.StartPurchase(c.UserContext(), req.Phone, req.Password)
	if err != nil {
		return writeError(c, h.log, err)
	}

	if token, err := h.sessions.Issue(receipt.Customer.ID, receipt.Customer.Phone); err != nil {
		h.log.Warn().Err(err).Msg("failed to issue session after purchase")
	} else {
		h.cookie.Set(c, token)
	}

	return c.JSON(fiber.Map{
		"token":         receipt.Token,
		"mp_payment_id": receipt.PaymentID,
		"whatsapp_link": receipt.WhatsAppLink,
		"access_link":   receipt.AccessLink,
		"pix": fiber.Map{
			"qr_code":        receipt.QRCode,
			"qr_code_base64": receipt.QRCodeBase64,
			"qr_base64":      receipt.QRCodeBase64,
		},
	})
}

// Check reports the payment status for a purchase token.
func (h *PurchaseHandler) Check(c *fiber.Ctx) error {
	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing_token"})
	}

	purchase, err := h.purchases.Status(c.UserContext(), token)
	if errors.Is(err, services.ErrPurchaseNotFound) {
		return c.JSON(fiber.Map{"status": "not_found"})
	}
	if err != nil {
		return writeError(c, h.log, err)
	}

	var paymentID any
	if purchase.GatewayPaymentID != "" {
		paymentID = purchase.GatewayPaymentID
	}
	return c.JSON(fiber.Map{
		"status":        purchase.Status,
		"delivered_at":  purchase.DeliveredAt,
		"mp_payment_id": paymentID,
	})
}
