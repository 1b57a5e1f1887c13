package receipt

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/previsio/previsio/internal/domain"
)

type receiptRepo interface {
	Create(ctx context.Context, receipt *domain.Receipt) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Receipt, error)
	ExistsForReference(ctx context.Context, referenceID uuid.UUID) (bool, error)
	ListByUser(ctx context.Context, userID uuid.UUID, before time.Time, limit int) ([]domain.Receipt, error)
}

type intentRepo interface {
	GetApprovedWithoutReceipt(ctx context.Context, limit int) ([]domain.PaymentIntent, error)
}

type transactionRepo interface {
	GetBuysWithoutReceipt(ctx context.Context, limit int) ([]domain.Transaction, error)
}

type ledgerRepo interface {
	GetByReference(ctx context.Context, refType domain.ReferenceType, refID uuid.UUID) (*domain.LedgerEntry, error)
	FindForBuy(ctx context.Context, accountID uuid.UUID, amount int64, around time.Time) (*domain.LedgerEntry, error)
}

type accountRepo interface {
	GetByUserAndCurrency(ctx context.Context, userID uuid.UUID, currency domain.Currency) (*domain.Account, error)
}

type marketRepo interface {
	GetByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.Market, error)
}

type Service struct {
	receipts     receiptRepo
	intents      intentRepo
	transactions transactionRepo
	ledger       ledgerRepo
	accounts     accountRepo
	markets      marketRepo
}

func NewService(
	receipts receiptRepo,
	intents intentRepo,
	transactions transactionRepo,
	ledger ledgerRepo,
	accounts accountRepo,
	markets marketRepo,
) *Service {
	return &Service{
		receipts:     receipts,
		intents:      intents,
		transactions: transactions,
		ledger:       ledger,
		accounts:     accounts,
		markets:      markets,
	}
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

type Page struct {
	Receipts   []domain.Receipt
	NextCursor string
}

// GetReceipts pages a user's receipts newest first. The cursor is the
// RFC 3339 created_at of the last receipt on the previous page; an empty
// cursor starts from the top. A malformed cursor is the caller's error, not
// an empty page.
func (s *Service) GetReceipts(ctx context.Context, userID uuid.UUID, cursor string, limit int) (*Page, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	var before time.Time
	if cursor != "" {
		t, err := time.Parse(time.RFC3339Nano, cursor)
		if err != nil {
			return nil, fmt.Errorf("GetReceipts: %w", domain.ErrInvalidCursor)
		}
		before = t
	}

	receipts, err := s.receipts.ListByUser(ctx, userID, before, limit)
	if err != nil {
		return nil, fmt.Errorf("GetReceipts: %w", err)
	}

	page := &Page{Receipts: receipts}
	if len(receipts) == limit {
		page.NextCursor = receipts[len(receipts)-1].CreatedAt.Format(time.RFC3339Nano)
	}
	return page, nil
}

// GetReceipt returns a single receipt, scoped to its owner.
func (s *Service) GetReceipt(ctx context.Context, receiptID, userID uuid.UUID) (*domain.Receipt, error) {
	rec, err := s.receipts.GetByID(ctx, receiptID)
	if err != nil {
		return nil, fmt.Errorf("GetReceipt: %w", err)
	}
	if rec.UserID != userID {
		return nil, fmt.Errorf("GetReceipt: %w", domain.ErrNotFound)
	}
	return rec, nil
}

func parseProviderPaymentID(external *string) (*int64, *string) {
	if external == nil {
		return nil, nil
	}
	if n, err := strconv.ParseInt(*external, 10, 64); err == nil {
		return &n, external
	}
	return nil, external
}
