package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/example/pixaccess/internal/utils"
)

const sessionContextKey = "currentSession"

// SessionAuthorizer grants or denies access for a session token.
type SessionAuthorizer interface {
	AuthorizeBySession(token string) (*utils.SessionClaims, bool)
}

// SessionCookie describes how the session token travels to and from the browser.
type SessionCookie struct {
	Name   string
	Secure bool
	TTL    time.Duration
}

// Set writes the session cookie.
func (s SessionCookie) Set(c *fiber.Ctx, token string) {
	c.Cookie(&fiber.Cookie{
		Name:     s.Name,
		Value:    token,
		Path:     "/",
		MaxAge:   int(s.TTL.Seconds()),
		Secure:   s.Secure,
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
}

// Clear expires the session cookie.
func (s SessionCookie) Clear(c *fiber.Ctx) {
	c.Cookie(&fiber.Cookie{
		Name:     s.Name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		Secure:   s.Secure,
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
}

// LoadSession verifies the session cookie when present and stores the claims in
// context. Requests without a valid session pass through unauthenticated.
func LoadSession(gate SessionAuthorizer, cookie SessionCookie) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := c.Cookies(cookie.Name)
		if token == "" {
			return c.Next()
		}
		if claims, ok := gate.AuthorizeBySession(token); ok {
			c.Locals(sessionContextKey, claims)
		}
		return c.Next()
	}
}

// RequireSession rejects requests that LoadSession did not authenticate.
func RequireSession() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if _, ok := GetSession(c); !ok {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
		}
		return c.Next()
	}
}

// GetSession extracts the authenticated session from context.
func GetSession(c *fiber.Ctx) (*utils.SessionClaims, bool) {
	claims, ok := c.Locals(sessionContextKey).(*utils.SessionClaims)
	return claims, ok && claims != nil
}
