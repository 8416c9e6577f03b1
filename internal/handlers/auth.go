package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/example/pixaccess/internal/middleware"
	"github.com/example/pixaccess/internal/services"
)

// AuthHandler bundles dependencies for session endpoints.
type AuthHandler struct {
	auth   *services.AuthService
	cookie middleware.SessionCookie
	log    zerolog.Logger
}

// NewAuthHandler constructs an AuthHandler.
func NewAuthHandler(auth *services.AuthService, cookie middleware.SessionCookie, log zerolog.Logger) *AuthHandler {
	return &AuthHandler{auth: auth, cookie: cookie, log: log}
}

// Login authenticates a returning buyer and sets the session cookie.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	req, err := parseCredentials(c)
	if err != nil {
		return writeError(c, h.log, err)
	}

	_, token, err := h.auth.Login(c.UserContext(), req.Phone, req.Password)
	if err != nil {
		return writeError(c, h.log, err)
	}

	h.cookie.Set(c, token)
	return c.JSON(fiber.Map{"ok": true})
}

// Logout clears the session cookie.
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	h.cookie.Clear(c)
	return c.JSON(fiber.Map{"ok": true})
}
