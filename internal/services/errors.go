package services

import "errors"

// Service errors. The message of each is the machine-readable code returned to
// API callers; handlers map them onto HTTP statuses.
var (
	// ErrPhoneInvalid is returned when a phone cannot be normalized.
	ErrPhoneInvalid = errors.New("phone_invalid")

	// ErrPasswordInvalid is returned when a password is shorter than MinPasswordLength.
	ErrPasswordInvalid = errors.New("password_invalid")

	// ErrInvalidLogin is returned when the phone is unknown or the password does not match.
	ErrInvalidLogin = errors.New("invalid_login")

	// ErrPurchaseNotFound is returned when a token matches no purchase.
	ErrPurchaseNotFound = errors.New("purchase_not_found")

	// ErrPurchaseInProgress is returned while another purchase for the same phone is being created.
	ErrPurchaseInProgress = errors.New("purchase_in_progress")

	// ErrInvalidTransition is returned when a status change is not allowed from the current status.
	ErrInvalidTransition = errors.New("invalid_transition")

	// ErrUpstream wraps failures of the row store, the gateway or the notifier.
	ErrUpstream = errors.New("upstream_error")

	// ErrMalformedEvent is returned when a webhook body is not JSON.
	ErrMalformedEvent = errors.New("malformed_event")
)
