package domain

import (
	"time"

	"github.com/google/uuid"
)

type EntryType string

// Entry type values double as the stored column values; renaming one is a
// schema migration, not a refactor.
const (
	EntryTypeDepositGateway  EntryType = "DEPOSIT_GATEWAY"
	EntryTypeBetBuy          EntryType = "BET_BUY"
	EntryTypePayout          EntryType = "PAYOUT"
	EntryTypeFee             EntryType = "FEE"
	EntryTypeWithdrawRequest EntryType = "WITHDRAW_REQUEST"
)

func (t EntryType) IsValid() bool {
	switch t {
	case EntryTypeDepositGateway, EntryTypeBetBuy, EntryTypePayout,
		EntryTypeFee, EntryTypeWithdrawRequest:
		return true
	}
	return false
}

type ReferenceType string

const (
	ReferenceTypePaymentIntent     ReferenceType = "PaymentIntent"
	ReferenceTypeOrder             ReferenceType = "Order"
	ReferenceTypeMarket            ReferenceType = "Market"
	ReferenceTypeWithdrawal        ReferenceType = "Withdrawal"
	ReferenceTypeMarketTransaction ReferenceType = "MarketTransaction"
	ReferenceTypeLedgerEntry       ReferenceType = "LedgerEntry"
)

// LedgerEntry is immutable once inserted. Amount is signed centavos; the
// idempotency key is unique within the account and is the only guard against
// applying the same logical event twice.
type LedgerEntry struct {
	ID             uuid.UUID
	AccountID      uuid.UUID
	EntryType      EntryType
	Amount         int64
	ReferenceType  *ReferenceType
	ReferenceID    *uuid.UUID
	IdempotencyKey string
	CreatedAt      time.Time
}

// DepositIdempotencyKey derives the ledger key for a deposit confirmation.
// The format is persisted state: changing it breaks exactly-once guarantees
// for intents confirmed before the change.
func DepositIdempotencyKey(intentID uuid.UUID) string {
	return "deposit:" + intentID.String()
}
