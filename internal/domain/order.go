package domain

import (
	"time"

	"github.com/google/uuid"
)

// OrderStatus is the normalized status vocabulary. Unrecognized gateway
// statuses pass through as-is, so the type does not enumerate every possible
// value.
type OrderStatus string

const (
	OrderStatusApproved OrderStatus = "approved"
	OrderStatusPending  OrderStatus = "pending"
	OrderStatusRejected OrderStatus = "rejected"
	OrderStatusExpired  OrderStatus = "expired"
	OrderStatusUnknown  OrderStatus = "unknown"
)

// Order mirrors an external gateway payment resource, keyed by the
// externally supplied order id. Once approved, the status never moves again.
type Order struct {
	ID                uuid.UUID
	OrderID           string
	Amount            int64
	Currency          Currency
	Provider          string
	ProviderPaymentID *int64
	Status            OrderStatus
	StatusDetail      *string
	PaymentMethod     PaymentMethod
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
