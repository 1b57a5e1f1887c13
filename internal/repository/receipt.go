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

const receiptColumns = `id, user_id, type, amount, currency, provider,
	provider_payment_id, provider_payment_id_text, external_payment_id,
	payment_intent_id, payment_method, payment_expires_at, checkout_url,
	market_id, market_title_snapshot, market_slug_snapshot, description,
	contracts, unit_price, reference_type, reference_id, payload_json, created_at`

type ReceiptRepository struct {
	db *sql.DB
}

func NewReceiptRepository(db *sql.DB) *ReceiptRepository {
	return &ReceiptRepository{db: db}
}

// Create relies on the unique index over reference_id to make projection
// idempotent: concurrent backfills of the same source row collide on 23505.
func (r *ReceiptRepository) Create(ctx context.Context, receipt *domain.Receipt) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO receipts (
			id, user_id, type, amount, currency, provider,
			provider_payment_id, provider_payment_id_text, external_payment_id,
			payment_intent_id, payment_method, payment_expires_at, checkout_url,
			market_id, market_title_snapshot, market_slug_snapshot, description,
			contracts, unit_price, reference_type, reference_id, payload_json, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20, $21, $22, $23)`,
		receipt.ID, receipt.UserID, receipt.Type, receipt.Amount, receipt.Currency, receipt.Provider,
		receipt.ProviderPaymentID, receipt.ProviderPaymentIDText, receipt.ExternalPaymentID,
		receipt.PaymentIntentID, receipt.PaymentMethod, receipt.PaymentExpiresAt, receipt.CheckoutURL,
		receipt.MarketID, receipt.MarketTitleSnapshot, receipt.MarketSlugSnapshot, receipt.Description,
		receipt.Contracts, receipt.UnitPrice, receipt.ReferenceType, receipt.ReferenceID,
		[]byte(receipt.PayloadJSON), receipt.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *ReceiptRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Receipt, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+receiptColumns+` FROM receipts WHERE id = $1`, id,
	)
	rec, err := scanReceipt(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return rec, nil
}

func (r *ReceiptRepository) ExistsForReference(ctx context.Context, referenceID uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM receipts WHERE reference_id = $1)`,
		referenceID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("ExistsForReference: %w", err)
	}
	return exists, nil
}

// ListByUser pages newest first. The cursor is an exclusive created_at upper
// bound; a zero cursor means start from the top.
func (r *ReceiptRepository) ListByUser(ctx context.Context, userID uuid.UUID, before time.Time, limit int) ([]domain.Receipt, error) {
	query := `SELECT ` + receiptColumns + ` FROM receipts
		WHERE user_id = $1`
	args := []any{userID}
	if !before.IsZero() {
		query += ` AND created_at < $2`
		args = append(args, before)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ListByUser: %w", err)
	}
	defer rows.Close()

	var receipts []domain.Receipt
	for rows.Next() {
		rec, err := scanReceipt(rows)
		if err != nil {
			return nil, fmt.Errorf("ListByUser: scan: %w", err)
		}
		receipts = append(receipts, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListByUser: rows: %w", err)
	}
	return receipts, nil
}

func scanReceipt(s scanner) (*domain.Receipt, error) {
	var rec domain.Receipt
	var payload []byte
	err := s.Scan(
		&rec.ID, &rec.UserID, &rec.Type, &rec.Amount, &rec.Currency, &rec.Provider,
		&rec.ProviderPaymentID, &rec.ProviderPaymentIDText, &rec.ExternalPaymentID,
		&rec.PaymentIntentID, &rec.PaymentMethod, &rec.PaymentExpiresAt, &rec.CheckoutURL,
		&rec.MarketID, &rec.MarketTitleSnapshot, &rec.MarketSlugSnapshot, &rec.Description,
		&rec.Contracts, &rec.UnitPrice, &rec.ReferenceType, &rec.ReferenceID,
		&payload, &rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.PayloadJSON = payload
	return &rec, nil
}
