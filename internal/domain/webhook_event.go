package domain

import (
	"time"

	"github.com/google/uuid"
)

// WebhookEvent is the raw audit/dedupe record of an inbound gateway
// notification. PayloadHash is a sha256 hex digest of the raw body and is
// unique: the same payload is stored at most once. Rows are never deleted.
type WebhookEvent struct {
	ID                   uuid.UUID
	Provider             string
	EventType            string
	ProviderPaymentID    *int64
	OrderID              *string
	Payload              string
	PayloadHash          string
	Headers              *string
	SignatureHeader      *string
	ResponseStatusCode   *int
	ProcessingDurationMs *int
	ReceivedAt           time.Time
	Processed            bool
	ProcessedAt          *time.Time
	AttemptCount         int
	ProcessingResult     *string
}
