package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Mercado Pago payment statuses the core reacts to.
const (
	PaymentStatusApproved  = "approved"
	PaymentStatusRejected  = "rejected"
	PaymentStatusCancelled = "cancelled"
)

// PaymentMetadata is attached to the payment at creation and echoed back on fetch.
type PaymentMetadata struct {
	Token string `json:"token"`
	Phone string `json:"phone,omitempty"`
}

// PaymentIntent describes a Pix charge to create.
type PaymentIntent struct {
	Amount          decimal.Decimal
	Description     string
	PayerEmail      string
	NotificationURL string
	IdempotencyKey  string
	Metadata        PaymentMetadata
}

// PaymentIntentResult is what the gateway returns for a new charge.
type PaymentIntentResult struct {
	ID           string
	Status       string
	QRCode       string
	QRCodeBase64 string
}

// GatewayPayment is the authoritative payment state fetched by id.
type GatewayPayment struct {
	ID       string
	Status   string
	Metadata PaymentMetadata
}

// GatewayError is a non-2xx answer from the gateway.
type GatewayError struct {
	StatusCode int
	Body       string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("mercadopago returned status %d: %s", e.StatusCode, e.Body)
}

// Rejected reports whether the gateway refused the request itself (4xx).
func (e *GatewayError) Rejected() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500
}

// flexibleID accepts ids sent either as JSON strings or numbers.
type flexibleID string

func (f *flexibleID) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" || trimmed == "" {
		*f = ""
		return nil
	}
	if strings.HasPrefix(trimmed, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexibleID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexibleID(n.String())
	return nil
}

// MercadoPagoService talks to the Mercado Pago payments API.
type MercadoPagoService struct {
	baseURL     string
	accessToken string
	client      *http.Client
	log         zerolog.Logger
}

// NewMercadoPagoService constructs a client with the given request timeout.
func NewMercadoPagoService(baseURL, accessToken string, timeout time.Duration, log zerolog.Logger) *MercadoPagoService {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &MercadoPagoService{
		baseURL:     strings.TrimRight(baseURL, "/"),
		accessToken: accessToken,
		client:      &http.Client{Timeout: timeout},
		log:         log.With().Str("component", "mercadopago").Logger(),
	}
}

type mpCreatePaymentRequest struct {
	TransactionAmount float64         `json:"transaction_amount"`
	Description       string          `json:"description"`
	PaymentMethodID   string          `json:"payment_method_id"`
	Payer             mpPayer         `json:"payer"`
	NotificationURL   string          `json:"notification_url,omitempty"`
	Metadata          PaymentMetadata `json:"metadata"`
}

type mpPayer struct {
	Email string `json:"email"`
}

type mpPaymentResponse struct {
	ID                 flexibleID      `json:"id"`
	Status             string          `json:"status"`
	Metadata           PaymentMetadata `json:"metadata"`
	PointOfInteraction struct {
		TransactionData struct {
			QRCode       string `json:"qr_code"`
			QRCodeBase64 string `json:"qr_code_base64"`
		} `json:"transaction_data"`
	} `json:"point_of_interaction"`
}

// CreateIntent creates a Pix payment. The idempotency key makes resubmits of the
// same purchase safe on the gateway side.
func (s *MercadoPagoService) CreateIntent(ctx context.Context, intent PaymentIntent) (*PaymentIntentResult, error) {
	payload, err := json.Marshal(mpCreatePaymentRequest{
		TransactionAmount: intent.Amount.InexactFloat64(),
		Description:       intent.Description,
		PaymentMethodID:   "pix",
		Payer:             mpPayer{Email: intent.PayerEmail},
		NotificationURL:   intent.NotificationURL,
		Metadata:          intent.Metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("mercadopago payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/payments", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("mercadopago request build: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Idempotency-Key", intent.IdempotencyKey)

	var resp mpPaymentResponse
	if err := s.do(req, &resp); err != nil {
		return nil, err
	}

	return &PaymentIntentResult{
		ID:           string(resp.ID),
		Status:       resp.Status,
		QRCode:       resp.PointOfInteraction.TransactionData.QRCode,
		QRCodeBase64: resp.PointOfInteraction.TransactionData.QRCodeBase64,
	}, nil
}

// FetchPayment returns the authoritative state of a payment.
func (s *MercadoPagoService) FetchPayment(ctx context.Context, paymentID string) (*GatewayPayment, error) {
	endpoint := s.baseURL + "/v1/payments/" + url.PathEscape(paymentID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("mercadopago request build: %w", err)
	}

	var resp mpPaymentResponse
	if err := s.do(req, &resp); err != nil {
		return nil, err
	}

	return &GatewayPayment{
		ID:       string(resp.ID),
		Status:   resp.Status,
		Metadata: resp.Metadata,
	}, nil
}

func (s *MercadoPagoService) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+s.accessToken)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("mercadopago request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("mercadopago read body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		s.log.Warn().
			Int("status", resp.StatusCode).
			Str("method", req.Method).
			Str("path", req.URL.Path).
			Msg("unexpected gateway status")
		return &GatewayError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("mercadopago unmarshal: %w", err)
	}
	return nil
}
