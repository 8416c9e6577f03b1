package handlers

import (
	"errors"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/example/pixaccess/internal/middleware"
	"github.com/example/pixaccess/internal/services"
	"github.com/example/pixaccess/internal/utils"
)

var (
	baseTagPattern = regexp.MustCompile(`(?i)<base\s`)
	headTagPattern = regexp.MustCompile(`(?i)<head(\s[^>]*)?>`)
)

// ContentHandler serves the gated content and the buyer's access list.
type ContentHandler struct {
	access      *services.AccessService
	contentPath string
	baseURL     string
	log         zerolog.Logger
}

// NewContentHandler constructs a ContentHandler.
func NewContentHandler(access *services.AccessService, contentPath, publicBaseURL string, log zerolog.Logger) *ContentHandler {
	return &ContentHandler{
		access:      access,
		contentPath: contentPath,
		baseURL:     strings.TrimRight(publicBaseURL, "/"),
		log:         log,
	}
}

// Content returns the paid HTML. A `token` query parameter is checked as a
// bearer purchase token; without it the session's latest paid purchase is used.
func (h *ContentHandler) Content(c *fiber.Ctx) error {
	c.Set(fiber.HeaderCacheControl, "no-store")

	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		claims, ok := middleware.GetSession(c)
		if !ok {
			return htmlResponse(c, fiber.StatusNotFound, "Not found")
		}
		purchase, err := h.access.LatestPaidPurchase(c.UserContext(), claims.CustomerID)
		if errors.Is(err, services.ErrPurchaseNotFound) {
			return htmlResponse(c, fiber.StatusPaymentRequired, "Pagamento não confirmado.")
		}
		if err != nil {
			h.log.Error().Err(err).Msg("latest paid purchase lookup failed")
			return htmlResponse(c, fiber.StatusInternalServerError, "Server error")
		}
		token = purchase.Token
	}

	granted, err := h.access.AuthorizeByToken(c.UserContext(), token)
	if err != nil {
		h.log.Error().Err(err).Msg("access check failed")
		return htmlResponse(c, fiber.StatusInternalServerError, "Server error")
	}
	if !granted {
		return htmlResponse(c, fiber.StatusPaymentRequired, "Pagamento não confirmado.")
	}

	raw, err := os.ReadFile(h.contentPath)
	if err != nil {
		h.log.Error().Err(err).Str("path", h.contentPath).Msg("read content failed")
		return htmlResponse(c, fiber.StatusInternalServerError, "Server error")
	}
	return htmlResponse(c, fiber.StatusOK, InjectBaseHref(string(raw)))
}

// AccessLink resolves the bearer link sent to the buyer onto the content endpoint.
func (h *ContentHandler) AccessLink(c *fiber.Ctx) error {
	token := strings.TrimSpace(c.Params("token"))
	if token == "" {
		return htmlResponse(c, fiber.StatusNotFound, "Not found")
	}
	return c.Redirect("/api/content?token="+url.QueryEscape(token), fiber.StatusFound)
}

// MyAccess lists the session owner's paid purchases with their access links.
func (h *ContentHandler) MyAccess(c *fiber.Ctx) error {
	claims, ok := middleware.GetSession(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	page := utils.ParsePagination(c)
	purchases, total, err := h.access.ListPaidPurchases(c.UserContext(), claims.CustomerID, page)
	if err != nil {
		return writeError(c, h.log, err)
	}

	items := make([]fiber.Map, 0, len(purchases))
	for _, p := range purchases {
		items = append(items, fiber.Map{
			"token":       p.Token,
			"paid_at":     p.PaidAt,
			"created_at":  p.CreatedAt,
			"access_link": h.baseURL + "/a/" + p.Token,
		})
	}

	return c.JSON(fiber.Map{
		"phone": utils.MaskPhone(claims.Phone),
		"items": items,
		"pagination": fiber.Map{
			"page":  page.Page,
			"limit": page.Limit,
			"total": total,
		},
	})
}

// InjectBaseHref adds `<base href="/">` after the opening head tag so relative
// assets resolve from the site root. Documents that already carry a base tag
// are returned unchanged.
func InjectBaseHref(html string) string {
	if baseTagPattern.MatchString(html) {
		return html
	}
	loc := headTagPattern.FindStringIndex(html)
	if loc == nil {
		return html
	}
	return html[:loc[1]] + "\n<base href=\"/\" />" + html[loc[1]:]
}

func htmlResponse(c *fiber.Ctx, status int, body string) error {
	c.Set(fiber.HeaderContentType, "text/html; charset=utf-8")
	return c.Status(status).SendString(body)
}
