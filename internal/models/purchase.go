package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PurchaseStatus is the payment state of a purchase.
type PurchaseStatus string

const (
	PurchaseStatusPending PurchaseStatus = "pending"
	PurchaseStatusPaid    PurchaseStatus = "paid"
	PurchaseStatusFailed  PurchaseStatus = "failed"
)

// Purchase is one paid-access attempt. Token is the bearer credential for the
// content and the gateway idempotency key.
type Purchase struct {
	BaseModel
	Token            string          `gorm:"size:36;uniqueIndex;not null" json:"token"`
	Phone            string          `gorm:"size:20;index;not null" json:"phone"`
	CustomerID       *uint           `gorm:"index" json:"customer_id"`
	Customer         *Customer       `json:"customer,omitempty"`
	Status           PurchaseStatus  `gorm:"size:16;index;not null;default:pending" json:"status"`
	GatewayPaymentID string          `gorm:"size:64;index" json:"gateway_payment_id"`
	Amount           decimal.Decimal `gorm:"type:numeric(12,2)" json:"amount"`
	PaidAt           *time.Time      `json:"paid_at"`
	DeliveredAt      *time.Time      `json:"delivered_at"`
}

// IsPaid reports whether access may be granted.
func (p *Purchase) IsPaid() bool {
	return p != nil && p.Status == PurchaseStatusPaid
}
