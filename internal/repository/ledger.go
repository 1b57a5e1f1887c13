package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/previsio/previsio/internal/domain"
)

const ledgerColumns = `id, account_id, entry_type, amount, reference_type,
	reference_id, idempotency_key, created_at`

type LedgerRepository struct {
	db *sql.DB
}

func NewLedgerRepository(db *sql.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// Create inserts within the caller's transaction. The unique index on
// (account_id, idempotency_key) makes a duplicate insert fail with 23505,
// which callers treat as "already applied".
func (r *LedgerRepository) Create(ctx context.Context, tx *sql.Tx, entry *domain.LedgerEntry) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO ledger_entries (
			id, account_id, entry_type, amount, reference_type,
			reference_id, idempotency_key, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.ID, entry.AccountID, entry.EntryType, entry.Amount, entry.ReferenceType,
		entry.ReferenceID, entry.IdempotencyKey, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *LedgerRepository) GetByAccountAndKey(ctx context.Context, accountID uuid.UUID, idempotencyKey string) (*domain.LedgerEntry, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+ledgerColumns+` FROM ledger_entries
		WHERE account_id = $1 AND idempotency_key = $2`,
		accountID, idempotencyKey,
	)
	e, err := scanLedgerEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByAccountAndKey: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByAccountAndKey: %w", err)
	}
	return e, nil
}

func (r *LedgerRepository) GetByReference(ctx context.Context, refType domain.ReferenceType, refID uuid.UUID) (*domain.LedgerEntry, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+ledgerColumns+` FROM ledger_entries
		WHERE reference_type = $1 AND reference_id = $2
		ORDER BY created_at LIMIT 1`,
		refType, refID,
	)
	e, err := scanLedgerEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByReference: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByReference: %w", err)
	}
	return e, nil
}

// FindForBuy locates the debit a buy transaction produced: same account,
// same amount, written within five minutes of the transaction.
func (r *LedgerRepository) FindForBuy(ctx context.Context, accountID uuid.UUID, amount int64, around time.Time) (*domain.LedgerEntry, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+ledgerColumns+` FROM ledger_entries
		WHERE account_id = $1 AND entry_type = $2 AND amount = $3
			AND created_at BETWEEN $4::timestamptz - interval '5 minutes'
				AND $4::timestamptz + interval '5 minutes'
		ORDER BY created_at LIMIT 1`,
		accountID, domain.EntryTypeBetBuy, amount, around,
	)
	e, err := scanLedgerEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("FindForBuy: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("FindForBuy: %w", err)
	}
	return e, nil
}

// SumByAccountID is the balance: entries are never updated or deleted, so
// the sum is always consistent with what readers can observe.
func (r *LedgerRepository) SumByAccountID(ctx context.Context, accountID uuid.UUID) (int64, error) {
	var sum int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM ledger_entries WHERE account_id = $1`,
		accountID,
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("SumByAccountID: %w", err)
	}
	return sum, nil
}

func (r *LedgerRepository) GetByAccountID(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]domain.LedgerEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+ledgerColumns+` FROM ledger_entries
		WHERE account_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		accountID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("GetByAccountID: %w", err)
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("GetByAccountID: scan: %w", err)
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("GetByAccountID: rows: %w", err)
	}
	return entries, nil
}

func scanLedgerEntry(s scanner) (*domain.LedgerEntry, error) {
	var e domain.LedgerEntry
	var refType *string
	var refID uuid.NullUUID

	err := s.Scan(
		&e.ID, &e.AccountID, &e.EntryType, &e.Amount, &refType,
		&refID, &e.IdempotencyKey, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if refType != nil {
		rt := domain.ReferenceType(*refType)
		e.ReferenceType = &rt
	}
	if refID.Valid {
		e.ReferenceID = &refID.UUID
	}
	return &e, nil
}
