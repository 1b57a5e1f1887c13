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

const webhookEventColumns = `id, provider, event_type, provider_payment_id, order_id,
	payload, payload_hash, headers, signature_header, response_status_code,
	processing_duration_ms, received_at, processed, processed_at, attempt_count,
	processing_result`

type WebhookEventRepository struct {
	db *sql.DB
}

func NewWebhookEventRepository(db *sql.DB) *WebhookEventRepository {
	return &WebhookEventRepository{db: db}
}

func (r *WebhookEventRepository) Create(ctx context.Context, event *domain.WebhookEvent) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO webhook_events (
			id, provider, event_type, provider_payment_id, order_id,
			payload, payload_hash, headers, signature_header, response_status_code,
			processing_duration_ms, received_at, processed, processed_at, attempt_count,
			processing_result
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		event.ID, event.Provider, event.EventType, event.ProviderPaymentID, event.OrderID,
		event.Payload, event.PayloadHash, event.Headers, event.SignatureHeader, event.ResponseStatusCode,
		event.ProcessingDurationMs, event.ReceivedAt, event.Processed, event.ProcessedAt, event.AttemptCount,
		event.ProcessingResult,
	)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *WebhookEventRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.WebhookEvent, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+webhookEventColumns+` FROM webhook_events WHERE id = $1`, id,
	)
	return getWebhookEvent(row, "GetByID")
}

// GetByPayloadHash backs the duplicate-delivery check. The hash column has a
// unique index, so at most one row matches.
func (r *WebhookEventRepository) GetByPayloadHash(ctx context.Context, payloadHash string) (*domain.WebhookEvent, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+webhookEventColumns+` FROM webhook_events WHERE payload_hash = $1`,
		payloadHash,
	)
	return getWebhookEvent(row, "GetByPayloadHash")
}

func (r *WebhookEventRepository) GetByProviderPaymentID(ctx context.Context, providerPaymentID int64) (*domain.WebhookEvent, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+webhookEventColumns+` FROM webhook_events
		WHERE provider_payment_id = $1
		ORDER BY received_at DESC LIMIT 1`,
		providerPaymentID,
	)
	return getWebhookEvent(row, "GetByProviderPaymentID")
}

// MarkProcessed records the outcome of one processing attempt and bumps the
// attempt counter. A false processed flag keeps the row eligible for
// reprocessing on redelivery. The order id is backfilled if processing
// discovered one.
func (r *WebhookEventRepository) MarkProcessed(ctx context.Context, id uuid.UUID, processed bool, result string, orderID *string, responseStatus int, durationMs int) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE webhook_events
		SET processed = $1, processed_at = now(), attempt_count = attempt_count + 1,
			processing_result = $2, order_id = COALESCE($3, order_id),
			response_status_code = $4, processing_duration_ms = $5
		WHERE id = $6`,
		processed, result, orderID, responseStatus, durationMs, id,
	)
	if err != nil {
		return fmt.Errorf("MarkProcessed: %w", err)
	}
	return nil
}

// ListStaleUnprocessed returns events that never finished processing and are
// older than the cutoff, oldest first.
func (r *WebhookEventRepository) ListStaleUnprocessed(ctx context.Context, before time.Time, limit int) ([]domain.WebhookEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+webhookEventColumns+` FROM webhook_events
		WHERE processed = false AND received_at < $1
		ORDER BY received_at LIMIT $2`,
		before, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("ListStaleUnprocessed: %w", err)
	}
	defer rows.Close()

	var events []domain.WebhookEvent
	for rows.Next() {
		e, err := scanWebhookEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("ListStaleUnprocessed: scan: %w", err)
		}
		events = append(events, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListStaleUnprocessed: rows: %w", err)
	}
	return events, nil
}

func getWebhookEvent(row *sql.Row, op string) (*domain.WebhookEvent, error) {
	e, err := scanWebhookEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return e, nil
}

func scanWebhookEvent(s scanner) (*domain.WebhookEvent, error) {
	var e domain.WebhookEvent
	err := s.Scan(
		&e.ID, &e.Provider, &e.EventType, &e.ProviderPaymentID, &e.OrderID,
		&e.Payload, &e.PayloadHash, &e.Headers, &e.SignatureHeader, &e.ResponseStatusCode,
		&e.ProcessingDurationMs, &e.ReceivedAt, &e.Processed, &e.ProcessedAt, &e.AttemptCount,
		&e.ProcessingResult,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}
