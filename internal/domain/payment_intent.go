package domain

import (
	"time"

	"github.com/google/uuid"
)

type PaymentIntentStatus string

const (
	IntentStatusPending  PaymentIntentStatus = "PENDING"
	IntentStatusApproved PaymentIntentStatus = "APPROVED"
	IntentStatusRejected PaymentIntentStatus = "REJECTED"
	IntentStatusExpired  PaymentIntentStatus = "EXPIRED"
)

// IsTerminal reports whether the status is a sink: a terminal intent never
// transitions again, regardless of what the gateway reports later.
func (s PaymentIntentStatus) IsTerminal() bool {
	return s == IntentStatusApproved || s == IntentStatusRejected || s == IntentStatusExpired
}

type PaymentMethod string

const (
	PaymentMethodPix    PaymentMethod = "pix"
	PaymentMethodCard   PaymentMethod = "card"
	PaymentMethodBoleto PaymentMethod = "boleto"
)

// PaymentIntent is a locally tracked deposit request awaiting gateway
// confirmation. Amount is centavos.
type PaymentIntent struct {
	ID                uuid.UUID
	UserID            uuid.UUID
	Provider          string
	Amount            int64
	Currency          Currency
	Status            PaymentIntentStatus
	ExternalPaymentID *string
	IdempotencyKey    string
	PaymentMethod     PaymentMethod
	PixQRCode         *string
	PixQRCodeBase64   *string
	CheckoutURL       *string
	ExpiresAt         *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
