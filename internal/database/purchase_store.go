package database

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"

	"github.com/example/pixaccess/internal/models"
)

var (
	// ErrNotFound is returned when no row matches the lookup.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when an insert hits a unique index (phone or token).
	ErrDuplicate = errors.New("duplicate record")
)

const uniqueViolation = "23505"

// PurchaseStore persists customers and purchases. The status and delivery
// transitions are conditional writes: they apply only when the prior state
// matches, and report whether this call applied them.
type PurchaseStore struct {
	db *gorm.DB
}

// NewPurchaseStore wraps an open gorm connection.
func NewPurchaseStore(db *gorm.DB) *PurchaseStore {
	return &PurchaseStore{db: db}
}

// FindCustomerByPhone looks a customer up by canonical phone.
func (s *PurchaseStore) FindCustomerByPhone(ctx context.Context, phone string) (*models.Customer, error) {
	var customer models.Customer
	if err := s.db.WithContext(ctx).Where("phone = ?", phone).First(&customer).Error; err != nil {
		return nil, translate(err)
	}
	return &customer, nil
}

// FindCustomerByID looks a customer up by id.
func (s *PurchaseStore) FindCustomerByID(ctx context.Context, id uint) (*models.Customer, error) {
	var customer models.Customer
	if err := s.db.WithContext(ctx).First(&customer, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &customer, nil
}

// CreateCustomer inserts a customer; ErrDuplicate when the phone is taken.
func (s *PurchaseStore) CreateCustomer(ctx context.Context, customer *models.Customer) error {
	return translate(s.db.WithContext(ctx).Create(customer).Error)
}

// CreatePurchase inserts a purchase; ErrDuplicate when the token is taken.
func (s *PurchaseStore) CreatePurchase(ctx context.Context, purchase *models.Purchase) error {
	return translate(s.db.WithContext(ctx).Create(purchase).Error)
}

// FindPurchaseByToken returns the purchase bound to a bearer token.
func (s *PurchaseStore) FindPurchaseByToken(ctx context.Context, token string) (*models.Purchase, error) {
	var purchase models.Purchase
	if err := s.db.WithContext(ctx).Where("token = ?", token).First(&purchase).Error; err != nil {
		return nil, translate(err)
	}
	return &purchase, nil
}

// SetGatewayPaymentID records the gateway id on a purchase that has none yet.
func (s *PurchaseStore) SetGatewayPaymentID(ctx context.Context, token, paymentID string) error {
	return s.db.WithContext(ctx).
		Model(&models.Purchase{}).
		Where("token = ? AND (gateway_payment_id = '' OR gateway_payment_id IS NULL)", token).
		Update("gateway_payment_id", paymentID).Error
}

// TransitionStatus moves a purchase from one status to another, applying the
// extra fields in the same write. It reports false when the prior status did not match.
func (s *PurchaseStore) TransitionStatus(ctx context.Context, token string, from, to models.PurchaseStatus, fields map[string]any) (bool, error) {
	updates := map[string]any{"status": to}
	for k, v := range fields {
		updates[k] = v
	}

	res := s.db.WithContext(ctx).
		Model(&models.Purchase{}).
		Where("token = ? AND status = ?", token, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// SetDeliveredAt latches delivered_at on a paid purchase whose latch is still open.
func (s *PurchaseStore) SetDeliveredAt(ctx context.Context, token string, at time.Time) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&models.Purchase{}).
		Where("token = ? AND status = ? AND delivered_at IS NULL", token, models.PurchaseStatusPaid).
		Update("delivered_at", at)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ClearDeliveredAt reopens the latch only if it still holds the given claim time.
func (s *PurchaseStore) ClearDeliveredAt(ctx context.Context, token string, at time.Time) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&models.Purchase{}).
		Where("token = ? AND delivered_at = ?", token, at).
		Update("delivered_at", nil)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// LatestPaidPurchase returns the customer's most recently paid purchase.
func (s *PurchaseStore) LatestPaidPurchase(ctx context.Context, customerID uint) (*models.Purchase, error) {
	var purchase models.Purchase
	if err := s.db.WithContext(ctx).
		Where("customer_id = ? AND status = ?", customerID, models.PurchaseStatusPaid).
		Order("paid_at desc").
		Order("id desc").
		First(&purchase).Error; err != nil {
		return nil, translate(err)
	}
	return &purchase, nil
}

// ListPaidPurchases pages through a customer's paid purchases, newest first.
func (s *PurchaseStore) ListPaidPurchases(ctx context.Context, customerID uint, offset, limit int) ([]models.Purchase, int64, error) {
	query := s.db.WithContext(ctx).
		Model(&models.Purchase{}).
		Where("customer_id = ? AND status = ?", customerID, models.PurchaseStatusPaid).
		Session(&gorm.Session{})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var purchases []models.Purchase
	if err := query.
		Order("paid_at desc").
		Order("id desc").
		Limit(limit).
		Offset(offset).
		Find(&purchases).Error; err != nil {
		return nil, 0, err
	}
	return purchases, total, nil
}

func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
		return true
	}
	// glebarez/sqlite reports unique violations as plain text.
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique")
}
