package domain

import (
	"time"

	"github.com/google/uuid"
)

type TransactionType string

const (
	TransactionTypeBuy TransactionType = "buy"
)

// Transaction records a market position purchase. NetAmount is the total
// charged against the wallet (positive centavos). Contracts and UnitPrice
// are structured fields written at purchase time; rows created before those
// columns existed carry NULLs and the backfill falls back to parsing the
// description text.
type Transaction struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	MarketID    *uuid.UUID
	Type        TransactionType
	Amount      int64
	NetAmount   int64
	Description *string
	Contracts   *int
	UnitPrice   *int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Market carries the fields receipt projection needs; market lifecycle is
// managed elsewhere.
type Market struct {
	ID        uuid.UUID
	Title     string
	Slug      *string
	CreatedAt time.Time
}
