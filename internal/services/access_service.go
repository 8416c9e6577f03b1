package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/pixaccess/internal/database"
	"github.com/example/pixaccess/internal/models"
	"github.com/example/pixaccess/internal/utils"
)

type accessStore interface {
	FindPurchaseByToken(ctx context.Context, token string) (*models.Purchase, error)
	LatestPaidPurchase(ctx context.Context, customerID uint) (*models.Purchase, error)
	ListPaidPurchases(ctx context.Context, customerID uint, offset, limit int) ([]models.Purchase, int64, error)
}

// AccessService decides whether a caller may see the paid content. It never writes.
type AccessService struct {
	store    accessStore
	sessions *SessionManager
}

// NewAccessService creates a new AccessService.
func NewAccessService(store accessStore, sessions *SessionManager) *AccessService {
	return &AccessService{store: store, sessions: sessions}
}

// AuthorizeByToken grants access when the bearer token names a paid purchase.
// Unknown tokens are denied without error.
func (s *AccessService) AuthorizeByToken(ctx context.Context, token string) (bool, error) {
	if token == "" {
		return false, nil
	}
	purchase, err := s.store.FindPurchaseByToken(ctx, token)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("%w: find purchase: %w", ErrUpstream, err)
	}
	return purchase.IsPaid(), nil
}

// AuthorizeBySession grants access when the session token verifies.
func (s *AccessService) AuthorizeBySession(token string) (*utils.SessionClaims, bool) {
	claims, err := s.sessions.Verify(token)
	if err != nil {
		return nil, false
	}
	return claims, true
}

// LatestPaidPurchase returns the customer's newest paid purchase, or
// ErrPurchaseNotFound when they have none.
func (s *AccessService) LatestPaidPurchase(ctx context.Context, customerID uint) (*models.Purchase, error) {
	purchase, err := s.store.LatestPaidPurchase(ctx, customerID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrPurchaseNotFound
		}
		return nil, fmt.Errorf("%w: latest paid purchase: %w", ErrUpstream, err)
	}
	return purchase, nil
}

// ListPaidPurchases pages through the customer's paid purchases.
func (s *AccessService) ListPaidPurchases(ctx context.Context, customerID uint, page utils.Pagination) ([]models.Purchase, int64, error) {
	purchases, total, err := s.store.ListPaidPurchases(ctx, customerID, page.Offset, page.Limit)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: list paid purchases: %w", ErrUpstream, err)
	}
	return purchases, total, nil
}
