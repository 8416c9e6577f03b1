package handlers

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/example/pixaccess/internal/services"
)

var validate = validator.New()

type credentialsRequest struct {
	Phone    string `json:"phone" validate:"required,min=8,max=32"`
	Password string `json:"password" validate:"required,min=6,max=128"`
}

// validateCredentials maps validator failures onto the service error codes.
func validateCredentials(req credentialsRequest) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			if fe.Field() == "Phone" {
				return services.ErrPhoneInvalid
			}
		}
		return services.ErrPasswordInvalid
	}
	return services.ErrPhoneInvalid
}

// parseCredentials reads the body leniently: an unparsable body counts as empty.
func parseCredentials(c *fiber.Ctx) (credentialsRequest, error) {
	var req credentialsRequest
	if err := c.BodyParser(&req); err != nil {
		req = credentialsRequest{}
	}
	return req, validateCredentials(req)
}

var errorStatuses = []struct {
	err    error
	status int
}{
	{services.ErrPhoneInvalid, fiber.StatusBadRequest},
	{services.ErrPasswordInvalid, fiber.StatusBadRequest},
	{services.ErrInvalidLogin, fiber.StatusUnauthorized},
	{services.ErrPurchaseInProgress, fiber.StatusConflict},
	{services.ErrInvalidTransition, fiber.StatusConflict},
	{services.ErrPurchaseNotFound, fiber.StatusNotFound},
}

// writeError translates service errors into `{error: code}` responses. Anything
// unexpected is logged and reported as a 500 without details.
func writeError(c *fiber.Ctx, log zerolog.Logger, err error) error {
	for _, known := range errorStatuses {
		if errors.Is(err, known.err) {
			return c.Status(known.status).JSON(fiber.Map{"error": known.err.Error()})
		}
	}

	log.Error().Err(err).Str("path", c.Path()).Msg("request failed")
	code := "server_error"
	if errors.Is(err, services.ErrUpstream) {
		code = services.ErrUpstream.Error()
	}
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": code})
}
