package domain

import "errors"

var (
	ErrNotFound                = errors.New("not found")
	ErrInvalidCurrency         = errors.New("invalid currency")
	ErrInvalidAmount           = errors.New("amount must be greater than zero")
	ErrInvalidRequest          = errors.New("invalid request")
	ErrInvalidCursor           = errors.New("invalid cursor")
	ErrIntentTerminal          = errors.New("payment intent already in terminal state")
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
	ErrIntentMismatch          = errors.New("idempotency key reused with a different request")
	ErrGatewayUnavailable      = errors.New("payment gateway unavailable")
)
