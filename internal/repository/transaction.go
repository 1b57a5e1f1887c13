package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/previsio/previsio/internal/domain"
)

const transactionColumns = `id, user_id, market_id, type, amount, net_amount,
	description, contracts, unit_price, created_at, updated_at`

type TransactionRepository struct {
	db *sql.DB
}

func NewTransactionRepository(db *sql.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) Create(ctx context.Context, tx *domain.Transaction) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO transactions (
			id, user_id, market_id, type, amount, net_amount,
			description, contracts, unit_price, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		tx.ID, tx.UserID, tx.MarketID, tx.Type, tx.Amount, tx.NetAmount,
		tx.Description, tx.Contracts, tx.UnitPrice, tx.CreatedAt, tx.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *TransactionRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id,
	)
	t, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return t, nil
}

// GetBuysWithoutReceipt feeds the buy-receipt backfill, oldest first.
func (r *TransactionRepository) GetBuysWithoutReceipt(ctx context.Context, limit int) ([]domain.Transaction, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions t
		WHERE t.type = $1
		AND NOT EXISTS (
			SELECT 1 FROM receipts r WHERE r.reference_id = t.id
		)
		ORDER BY t.created_at LIMIT $2`,
		domain.TransactionTypeBuy, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("GetBuysWithoutReceipt: %w", err)
	}
	defer rows.Close()

	var txs []domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("GetBuysWithoutReceipt: scan: %w", err)
		}
		txs = append(txs, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("GetBuysWithoutReceipt: rows: %w", err)
	}
	return txs, nil
}

func scanTransaction(s scanner) (*domain.Transaction, error) {
	var t domain.Transaction
	err := s.Scan(
		&t.ID, &t.UserID, &t.MarketID, &t.Type, &t.Amount, &t.NetAmount,
		&t.Description, &t.Contracts, &t.UnitPrice, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
