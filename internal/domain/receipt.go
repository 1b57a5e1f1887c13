package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type ReceiptType string

const (
	ReceiptTypeDeposit  ReceiptType = "deposit"
	ReceiptTypeWithdraw ReceiptType = "withdraw"
	ReceiptTypeBuy      ReceiptType = "buy"
)

// Receipt is a denormalized, regenerable projection built from ledger
// entries plus payment intents or buy transactions. ReferenceID is unique:
// one receipt per originating record.
type Receipt struct {
	ID                    uuid.UUID
	UserID                uuid.UUID
	Type                  ReceiptType
	Amount                int64
	Currency              Currency
	Provider              *string
	ProviderPaymentID     *int64
	ProviderPaymentIDText *string
	ExternalPaymentID     *string
	PaymentIntentID       *uuid.UUID
	PaymentMethod         *PaymentMethod
	PaymentExpiresAt      *time.Time
	CheckoutURL           *string
	MarketID              *uuid.UUID
	MarketTitleSnapshot   *string
	MarketSlugSnapshot    *string
	Description           *string
	Contracts             *int
	UnitPrice             *int64
	ReferenceType         *ReferenceType
	ReferenceID           *uuid.UUID
	PayloadJSON           json.RawMessage
	CreatedAt             time.Time
}
