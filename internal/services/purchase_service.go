package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/example/pixaccess/internal/database"
	"github.com/example/pixaccess/internal/metrics"
	"github.com/example/pixaccess/internal/models"
	"github.com/example/pixaccess/internal/utils"
)

// MinPasswordLength is the shortest accepted password.
const MinPasswordLength = 6

type purchaseStore interface {
	FindCustomerByPhone(ctx context.Context, phone string) (*models.Customer, error)
	CreateCustomer(ctx context.Context, customer *models.Customer) error
	CreatePurchase(ctx context.Context, purchase *models.Purchase) error
	FindPurchaseByToken(ctx context.Context, token string) (*models.Purchase, error)
	SetGatewayPaymentID(ctx context.Context, token, paymentID string) error
	TransitionStatus(ctx context.Context, token string, from, to models.PurchaseStatus, fields map[string]any) (bool, error)
	SetDeliveredAt(ctx context.Context, token string, at time.Time) (bool, error)
	ClearDeliveredAt(ctx context.Context, token string, at time.Time) (bool, error)
}

// PaymentGateway is the remote payment provider.
type PaymentGateway interface {
	CreateIntent(ctx context.Context, intent PaymentIntent) (*PaymentIntentResult, error)
	FetchPayment(ctx context.Context, paymentID string) (*GatewayPayment, error)
}

// PurchaseConfig carries the product and URL settings used when charging.
type PurchaseConfig struct {
	Price         decimal.Decimal
	Description   string
	PayerEmail    string
	PublicBaseURL string
}

// NotificationURL is where the gateway posts payment webhooks.
func (c PurchaseConfig) NotificationURL() string {
	return c.PublicBaseURL + "/api/mp_webhook"
}

// AccessLink is the bearer link to the purchased content.
func (c PurchaseConfig) AccessLink(token string) string {
	return c.PublicBaseURL + "/a/" + token
}

// PurchaseServiceParams groups the PurchaseService dependencies.
type PurchaseServiceParams struct {
	Store   purchaseStore
	Gateway PaymentGateway
	Locker  PurchaseLocker
	Config  PurchaseConfig
	Metrics *metrics.Recorder
	Logger  zerolog.Logger
	Now     func() time.Time
}

// PurchaseService owns the purchase state machine:
// pending -> paid -> (delivered latch), pending -> failed.
type PurchaseService struct {
	store   purchaseStore
	gateway PaymentGateway
	locker  PurchaseLocker
	cfg     PurchaseConfig
	metrics *metrics.Recorder
	log     zerolog.Logger
	now     func() time.Time
}

// NewPurchaseService constructs a PurchaseService.
func NewPurchaseService(params PurchaseServiceParams) *PurchaseService {
	locker := params.Locker
	if locker == nil {
		locker = NoopPurchaseLocker{}
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &PurchaseService{
		store:   params.Store,
		gateway: params.Gateway,
		locker:  locker,
		cfg:     params.Config,
		metrics: params.Metrics,
		log:     params.Logger.With().Str("component", "purchase").Logger(),
		now:     now,
	}
}

// PurchaseReceipt is returned to the buyer after a purchase is opened.
type PurchaseReceipt struct {
	Customer     *models.Customer
	Purchase     *models.Purchase
	Token        string
	PaymentID    string
	AccessLink   string
	WhatsAppLink string
	QRCode       string
	QRCodeBase64 string
}

// DeliveryClaim records who closed the delivery latch and when.
type DeliveryClaim struct {
	Token string
	At    time.Time
}

// StartPurchase validates the buyer, creates or authenticates the customer,
// opens a pending purchase and asks the gateway for a Pix charge.
// A purchase attempt on a known phone is also a login attempt.
func (s *PurchaseService) StartPurchase(ctx context.Context, rawPhone, password string) (*PurchaseReceipt, error) {
	phone := utils.NormalizePhone(rawPhone)
	if phone == "" {
		s.metrics.PurchaseStarted("phone_invalid")
		return nil, ErrPhoneInvalid
	}
	if len(password) < MinPasswordLength {
		s.metrics.PurchaseStarted("password_invalid")
		return nil, ErrPasswordInvalid
	}

	release, acquired, err := s.locker.Acquire(ctx, phone)
	switch {
	case err != nil:
		s.log.Warn().Err(err).Str("phone", utils.MaskPhone(phone)).Msg("purchase lock unavailable, continuing without it")
		release = func() {}
	case !acquired:
		s.metrics.PurchaseStarted("in_progress")
		return nil, ErrPurchaseInProgress
	}
	defer release()

	customer, err := s.resolveCustomer(ctx, phone, password)
	if err != nil {
		s.metrics.PurchaseStarted(resultLabel(err))
		return nil, err
	}

	customerID := customer.ID
	purchase := &models.Purchase{
		Token:      uuid.NewString(),
		Phone:      phone,
		CustomerID: &customerID,
		Status:     models.PurchaseStatusPending,
		Amount:     s.cfg.Price,
	}
	if err := s.store.CreatePurchase(ctx, purchase); err != nil {
		s.metrics.PurchaseStarted("store_error")
		return nil, fmt.Errorf("%w: insert purchase: %w", ErrUpstream, err)
	}

	intent, err := s.gateway.CreateIntent(ctx, PaymentIntent{
		Amount:          s.cfg.Price,
		Description:     s.cfg.Description,
		PayerEmail:      s.cfg.PayerEmail,
		NotificationURL: s.cfg.NotificationURL(),
		IdempotencyKey:  purchase.Token,
		Metadata:        PaymentMetadata{Token: purchase.Token, Phone: phone},
	})
	if err != nil {
		var gwErr *GatewayError
		if errors.As(err, &gwErr) && gwErr.Rejected() {
			if _, failErr := s.MarkFailed(ctx, purchase.Token); failErr != nil {
				s.log.Error().Err(failErr).Str("token", purchase.Token).Msg("failed to mark rejected purchase as failed")
			} else {
				purchase.Status = models.PurchaseStatusFailed
			}
		}
		s.log.Error().Err(err).Str("token", purchase.Token).Msg("create payment intent failed")
		s.metrics.PurchaseStarted("gateway_error")
		return nil, fmt.Errorf("%w: create payment intent: %w", ErrUpstream, err)
	}

	if intent.ID != "" {
		// Best effort: the webhook carries the id again if this write is lost.
		if err := s.store.SetGatewayPaymentID(ctx, purchase.Token, intent.ID); err != nil {
			s.log.Warn().Err(err).Str("token", purchase.Token).Msg("failed to persist gateway payment id")
		} else {
			purchase.GatewayPaymentID = intent.ID
		}
	}

	s.log.Info().
		Str("token", purchase.Token).
		Str("payment_id", intent.ID).
		Str("phone", utils.MaskPhone(phone)).
		Msg("purchase started")
	s.metrics.PurchaseStarted("ok")

	msg := AccessMessage{Link: s.cfg.AccessLink(purchase.Token), Token: purchase.Token}
	return &PurchaseReceipt{
		Customer:     customer,
		Purchase:     purchase,
		Token:        purchase.Token,
		PaymentID:    intent.ID,
		AccessLink:   msg.Link,
		WhatsAppLink: SelfShareLink(phone, msg),
		QRCode:       intent.QRCode,
		QRCodeBase64: intent.QRCodeBase64,
	}, nil
}

func (s *PurchaseService) resolveCustomer(ctx context.Context, phone, password string) (*models.Customer, error) {
	existing, err := s.store.FindCustomerByPhone(ctx, phone)
	switch {
	case err == nil:
		return verifyCustomer(existing, password)
	case !errors.Is(err, database.ErrNotFound):
		return nil, fmt.Errorf("%w: find customer: %w", ErrUpstream, err)
	}

	hash, err := utils.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("%w: hash password: %w", ErrUpstream, err)
	}

	customer := &models.Customer{Phone: phone, PasswordHash: hash}
	err = s.store.CreateCustomer(ctx, customer)
	if err == nil {
		return customer, nil
	}
	if !errors.Is(err, database.ErrDuplicate) {
		return nil, fmt.Errorf("%w: create customer: %w", ErrUpstream, err)
	}

	// Lost a race with a concurrent first purchase for the same phone.
	existing, err = s.store.FindCustomerByPhone(ctx, phone)
	if err != nil {
		return nil, fmt.Errorf("%w: find customer: %w", ErrUpstream, err)
	}
	return verifyCustomer(existing, password)
}

func verifyCustomer(customer *models.Customer, password string) (*models.Customer, error) {
	if !utils.CheckPassword(customer.PasswordHash, password) {
		return nil, ErrInvalidLogin
	}
	return customer, nil
}

// MarkPaid moves a pending purchase to paid. Repeated calls for a paid purchase
// return the current row untouched; concurrent callers race on a conditional
// write and exactly one applies it.
func (s *PurchaseService) MarkPaid(ctx context.Context, token, gatewayPaymentID string) (*models.Purchase, error) {
	purchase, err := s.find(ctx, token)
	if err != nil {
		return nil, err
	}

	switch purchase.Status {
	case models.PurchaseStatusPaid:
		return purchase, nil
	case models.PurchaseStatusFailed:
		return purchase, ErrInvalidTransition
	}

	paidAt := s.now().UTC().Truncate(time.Microsecond)
	fields := map[string]any{"paid_at": paidAt}
	if gatewayPaymentID != "" {
		fields["gateway_payment_id"] = gatewayPaymentID
	}

	applied, err := s.store.TransitionStatus(ctx, token, models.PurchaseStatusPending, models.PurchaseStatusPaid, fields)
	if err != nil {
		return nil, fmt.Errorf("%w: mark paid: %w", ErrUpstream, err)
	}

	current, err := s.find(ctx, token)
	if err != nil {
		return nil, err
	}
	if applied {
		s.log.Info().Str("token", token).Str("payment_id", gatewayPaymentID).Msg("purchase marked paid")
		return current, nil
	}
	if current.Status != models.PurchaseStatusPaid {
		return current, ErrInvalidTransition
	}
	return current, nil
}

// MarkFailed moves a pending purchase to failed. It reports whether this call applied it.
func (s *PurchaseService) MarkFailed(ctx context.Context, token string) (bool, error) {
	applied, err := s.store.TransitionStatus(ctx, token, models.PurchaseStatusPending, models.PurchaseStatusFailed, nil)
	if err != nil {
		return false, fmt.Errorf("%w: mark failed: %w", ErrUpstream, err)
	}
	if !applied {
		if _, err := s.find(ctx, token); err != nil {
			return false, err
		}
		return false, nil
	}
	s.log.Info().Str("token", token).Msg("purchase marked failed")
	return true, nil
}

// MarkDelivered closes the delivery latch of a paid purchase. It returns a nil
// claim when the latch was already closed, so only one caller ever proceeds to
// notify the buyer.
func (s *PurchaseService) MarkDelivered(ctx context.Context, token string) (*DeliveryClaim, error) {
	at := s.now().UTC().Truncate(time.Microsecond)
	applied, err := s.store.SetDeliveredAt(ctx, token, at)
	if err != nil {
		return nil, fmt.Errorf("%w: mark delivered: %w", ErrUpstream, err)
	}
	if !applied {
		if _, err := s.find(ctx, token); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return &DeliveryClaim{Token: token, At: at}, nil
}

// ReleaseDelivery reopens a latch whose notification could not be sent.
func (s *PurchaseService) ReleaseDelivery(ctx context.Context, claim *DeliveryClaim) error {
	if claim == nil {
		return nil
	}
	if _, err := s.store.ClearDeliveredAt(ctx, claim.Token, claim.At); err != nil {
		return fmt.Errorf("%w: release delivery: %w", ErrUpstream, err)
	}
	return nil
}

// Status returns the purchase for payment polling.
func (s *PurchaseService) Status(ctx context.Context, token string) (*models.Purchase, error) {
	return s.find(ctx, token)
}

func (s *PurchaseService) find(ctx context.Context, token string) (*models.Purchase, error) {
	purchase, err := s.store.FindPurchaseByToken(ctx, token)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrPurchaseNotFound
		}
		return nil, fmt.Errorf("%w: find purchase: %w", ErrUpstream, err)
	}
	return purchase, nil
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, ErrInvalidLogin):
		return "invalid_login"
	case errors.Is(err, ErrUpstream):
		return "store_error"
	default:
		return "error"
	}
}
