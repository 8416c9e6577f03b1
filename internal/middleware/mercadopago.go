package middleware

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
)

type webhookDataID struct {
	Data struct {
		ID any `json:"id"`
	} `json:"data"`
}

// MercadoPagoSignature validates the x-signature header of payment webhooks.
// With an empty secret every request passes.
func MercadoPagoSignature(secret string, log zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if secret == "" {
			return c.Next()
		}

		ts, v1 := parseSignatureHeader(c.Get("x-signature"))
		if ts == "" || v1 == "" {
			return rejectWebhook(c, log, "missing signature")
		}

		expected := SignWebhook(secret, webhookResourceID(c), c.Get("x-request-id"), ts)
		if !hmac.Equal([]byte(expected), []byte(strings.ToLower(v1))) {
			return rejectWebhook(c, log, "signature mismatch")
		}
		return c.Next()
	}
}

// SignWebhook computes the v1 value for a manifest, mirroring what the gateway sends.
func SignWebhook(secret, dataID, requestID, ts string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("id:" + strings.ToLower(dataID) + ";request-id:" + requestID + ";ts:" + ts + ";"))
	return hex.EncodeToString(mac.Sum(nil))
}

func parseSignatureHeader(header string) (ts, v1 string) {
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "ts":
			ts = strings.TrimSpace(value)
		case "v1":
			v1 = strings.TrimSpace(value)
		}
	}
	return ts, v1
}

// webhookResourceID prefers the data.id query parameter, which is what the
// gateway signs, and falls back to the body.
func webhookResourceID(c *fiber.Ctx) string {
	if id := c.Query("data.id"); id != "" {
		return id
	}
	var body webhookDataID
	dec := json.NewDecoder(bytes.NewReader(c.Body()))
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil {
		return ""
	}
	switch id := body.Data.ID.(type) {
	case string:
		return id
	case json.Number:
		return id.String()
	}
	return ""
}

func rejectWebhook(c *fiber.Ctx, log zerolog.Logger, reason string) error {
	log.Warn().Str("reason", reason).Str("request_id", c.Get("x-request-id")).Msg("webhook signature rejected")
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid_signature"})
}
