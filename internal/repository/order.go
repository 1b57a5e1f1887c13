package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/previsio/previsio/internal/domain"
)

const orderColumns = `id, order_id, amount, currency, provider, provider_payment_id,
	status, status_detail, payment_method, created_at, updated_at`

type OrderRepository struct {
	db *sql.DB
}

func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) Create(ctx context.Context, order *domain.Order) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO orders (
			id, order_id, amount, currency, provider, provider_payment_id,
			status, status_detail, payment_method, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		order.ID, order.OrderID, order.Amount, order.Currency, order.Provider, order.ProviderPaymentID,
		order.Status, order.StatusDetail, order.PaymentMethod, order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *OrderRepository) GetByOrderID(ctx context.Context, orderID string) (*domain.Order, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE order_id = $1`, orderID,
	)
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByOrderID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByOrderID: %w", err)
	}
	return o, nil
}

func (r *OrderRepository) GetByProviderPaymentID(ctx context.Context, providerPaymentID int64) (*domain.Order, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders
		WHERE provider_payment_id = $1
		ORDER BY updated_at DESC LIMIT 1`,
		providerPaymentID,
	)
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByProviderPaymentID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByProviderPaymentID: %w", err)
	}
	return o, nil
}

// UpdateStatusUnlessApproved writes the new status only while the order has
// not reached approved. Approved is a one way door: once a payment settled,
// later provider callbacks must not demote it. Returns false when the guard
// blocked the write.
func (r *OrderRepository) UpdateStatusUnlessApproved(ctx context.Context, orderID string, status domain.OrderStatus, statusDetail *string, providerPaymentID *int64) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE orders
		SET status = $1, status_detail = $2,
			provider_payment_id = COALESCE($3, provider_payment_id),
			updated_at = now()
		WHERE order_id = $4 AND status <> $5`,
		status, statusDetail, providerPaymentID, orderID, domain.OrderStatusApproved,
	)
	if err != nil {
		return false, fmt.Errorf("UpdateStatusUnlessApproved: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("UpdateStatusUnlessApproved: rows affected: %w", err)
	}
	return rows > 0, nil
}

func scanOrder(s scanner) (*domain.Order, error) {
	var o domain.Order
	err := s.Scan(
		&o.ID, &o.OrderID, &o.Amount, &o.Currency, &o.Provider, &o.ProviderPaymentID,
		&o.Status, &o.StatusDetail, &o.PaymentMethod, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}
