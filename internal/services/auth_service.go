package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/example/pixaccess/internal/database"
	"github.com/example/pixaccess/internal/models"
	"github.com/example/pixaccess/internal/utils"
)

// Hash compared against when the phone is unknown, so both paths cost one scrypt derivation.
const dummyPasswordHash = "scrypt:00000000000000000000000000000000:0000000000000000000000000000000000000000000000000000000000000000"

type customerStore interface {
	FindCustomerByPhone(ctx context.Context, phone string) (*models.Customer, error)
}

// AuthService handles returning-customer login.
type AuthService struct {
	store    customerStore
	sessions *SessionManager
	log      zerolog.Logger
}

// NewAuthService creates a new AuthService.
func NewAuthService(store customerStore, sessions *SessionManager, log zerolog.Logger) *AuthService {
	return &AuthService{
		store:    store,
		sessions: sessions,
		log:      log.With().Str("component", "auth").Logger(),
	}
}

// Login verifies phone and password and issues a session token.
func (s *AuthService) Login(ctx context.Context, rawPhone, password string) (*models.Customer, string, error) {
	phone := utils.NormalizePhone(rawPhone)
	if phone == "" {
		return nil, "", ErrPhoneInvalid
	}
	if len(password) < MinPasswordLength {
		return nil, "", ErrPasswordInvalid
	}

	customer, err := s.store.FindCustomerByPhone(ctx, phone)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			utils.CheckPassword(dummyPasswordHash, password)
			return nil, "", ErrInvalidLogin
		}
		return nil, "", fmt.Errorf("%w: find customer: %w", ErrUpstream, err)
	}

	if !utils.CheckPassword(customer.PasswordHash, password) {
		s.log.Info().Str("phone", utils.MaskPhone(phone)).Msg("login rejected")
		return nil, "", ErrInvalidLogin
	}

	token, err := s.sessions.Issue(customer.ID, customer.Phone)
	if err != nil {
		return nil, "", fmt.Errorf("issue session: %w", err)
	}
	return customer, token, nil
}
