package domain

import (
	"time"

	"github.com/google/uuid"
)

type Currency string

const (
	CurrencyBRL Currency = "BRL"
)

func (c Currency) IsValid() bool {
	return c == CurrencyBRL
}

// Account holds no balance column: the balance is always the signed sum of
// the account's ledger entries.
type Account struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Currency  Currency
	CreatedAt time.Time
}
