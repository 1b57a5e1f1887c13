package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/previsio/previsio/internal/domain"
)

const intentColumns = `id, user_id, provider, amount, currency, status,
	external_payment_id, idempotency_key, payment_method, pix_qr_code,
	pix_qr_code_base64, checkout_url, expires_at, created_at, updated_at`

type PaymentIntentRepository struct {
	db *sql.DB
}

func NewPaymentIntentRepository(db *sql.DB) *PaymentIntentRepository {
	return &PaymentIntentRepository{db: db}
}

func (r *PaymentIntentRepository) Create(ctx context.Context, intent *domain.PaymentIntent) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO payment_intents (
			id, user_id, provider, amount, currency, status,
			external_payment_id, idempotency_key, payment_method, pix_qr_code,
			pix_qr_code_base64, checkout_url, expires_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		intent.ID, intent.UserID, intent.Provider, intent.Amount, intent.Currency, intent.Status,
		intent.ExternalPaymentID, intent.IdempotencyKey, intent.PaymentMethod, intent.PixQRCode,
		intent.PixQRCodeBase64, intent.CheckoutURL, intent.ExpiresAt, intent.CreatedAt, intent.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *PaymentIntentRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.PaymentIntent, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+intentColumns+` FROM payment_intents WHERE id = $1`, id,
	)
	return getIntent(row, "GetByID")
}

// GetForUpdate locks the intent row for the duration of the caller's
// transaction so concurrent confirmations serialize on it.
func (r *PaymentIntentRepository) GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.PaymentIntent, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+intentColumns+` FROM payment_intents WHERE id = $1 FOR UPDATE`, id,
	)
	return getIntent(row, "GetForUpdate")
}

func (r *PaymentIntentRepository) GetByUserAndKey(ctx context.Context, userID uuid.UUID, idempotencyKey string) (*domain.PaymentIntent, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+intentColumns+` FROM payment_intents
		WHERE user_id = $1 AND idempotency_key = $2`,
		userID, idempotencyKey,
	)
	return getIntent(row, "GetByUserAndKey")
}

// UpdateCheckoutDetails persists gateway-issued checkout metadata on a
// still-pending intent.
func (r *PaymentIntentRepository) UpdateCheckoutDetails(ctx context.Context, intent *domain.PaymentIntent) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE payment_intents
		SET external_payment_id = $1, pix_qr_code = $2, pix_qr_code_base64 = $3,
			checkout_url = $4, expires_at = $5, updated_at = now()
		WHERE id = $6 AND status = $7`,
		intent.ExternalPaymentID, intent.PixQRCode, intent.PixQRCodeBase64,
		intent.CheckoutURL, intent.ExpiresAt, intent.ID, domain.IntentStatusPending,
	)
	if err != nil {
		return fmt.Errorf("UpdateCheckoutDetails: %w", err)
	}
	return nil
}

// TransitionFromPending flips a pending intent into a terminal status.
// Returns false when the intent was not pending anymore: some other writer
// already finished it, and the guard makes terminal states sinks.
func (r *PaymentIntentRepository) TransitionFromPending(ctx context.Context, tx *sql.Tx, id uuid.UUID, status domain.PaymentIntentStatus, externalPaymentID *string) (bool, error) {
	res, err := tx.ExecContext(ctx,
		`UPDATE payment_intents
		SET status = $1, external_payment_id = COALESCE($2, external_payment_id), updated_at = now()
		WHERE id = $3 AND status = $4`,
		status, externalPaymentID, id, domain.IntentStatusPending,
	)
	if err != nil {
		return false, fmt.Errorf("TransitionFromPending: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("TransitionFromPending: rows affected: %w", err)
	}
	return rows > 0, nil
}

// GetApprovedWithoutReceipt feeds the deposit-receipt backfill.
func (r *PaymentIntentRepository) GetApprovedWithoutReceipt(ctx context.Context, limit int) ([]domain.PaymentIntent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+intentColumns+` FROM payment_intents pi
		WHERE pi.status = $1
		AND NOT EXISTS (
			SELECT 1 FROM receipts r WHERE r.payment_intent_id = pi.id
		)
		ORDER BY pi.created_at LIMIT $2`,
		domain.IntentStatusApproved, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("GetApprovedWithoutReceipt: %w", err)
	}
	defer rows.Close()

	var intents []domain.PaymentIntent
	for rows.Next() {
		i, err := scanIntent(rows)
		if err != nil {
			return nil, fmt.Errorf("GetApprovedWithoutReceipt: scan: %w", err)
		}
		intents = append(intents, *i)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("GetApprovedWithoutReceipt: rows: %w", err)
	}
	return intents, nil
}

func getIntent(row *sql.Row, op string) (*domain.PaymentIntent, error) {
	i, err := scanIntent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return i, nil
}

func scanIntent(s scanner) (*domain.PaymentIntent, error) {
	var i domain.PaymentIntent
	err := s.Scan(
		&i.ID, &i.UserID, &i.Provider, &i.Amount, &i.Currency, &i.Status,
		&i.ExternalPaymentID, &i.IdempotencyKey, &i.PaymentMethod, &i.PixQRCode,
		&i.PixQRCodeBase64, &i.CheckoutURL, &i.ExpiresAt, &i.CreatedAt, &i.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &i, nil
}
