package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/previsio/previsio/internal/auth"
	"github.com/previsio/previsio/internal/domain"
	"github.com/previsio/previsio/internal/service/receipt"
)

type receiptService interface {
	GetReceipts(ctx context.Context, userID uuid.UUID, cursor string, limit int) (*receipt.Page, error)
	GetReceipt(ctx context.Context, receiptID, userID uuid.UUID) (*domain.Receipt, error)
}

type ReceiptHandler struct {
	receipts receiptService
}

func NewReceiptHandler(receipts receiptService) *ReceiptHandler {
	return &ReceiptHandler{receipts: receipts}
}

type receiptDTO struct {
	ID                  string          `json:"id"`
	Type                string          `json:"type"`
	Amount              int64           `json:"amount"`
	Currency            string          `json:"currency"`
	Provider            *string         `json:"provider,omitempty"`
	ExternalPaymentID   *string         `json:"external_payment_id,omitempty"`
	PaymentIntentID     *uuid.UUID      `json:"payment_intent_id,omitempty"`
	PaymentMethod       *string         `json:"payment_method,omitempty"`
	PaymentExpiresAt    *time.Time      `json:"payment_expires_at,omitempty"`
	CheckoutURL         *string         `json:"checkout_url,omitempty"`
	MarketID            *uuid.UUID      `json:"market_id,omitempty"`
	MarketTitleSnapshot *string         `json:"market_title,omitempty"`
	MarketSlugSnapshot  *string         `json:"market_slug,omitempty"`
	Description         *string         `json:"description,omitempty"`
	Contracts           *int            `json:"contracts,omitempty"`
	UnitPrice           *int64          `json:"unit_price,omitempty"`
	Payload             json.RawMessage `json:"payload,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
}

func toReceiptDTO(rec *domain.Receipt) receiptDTO {
	dto := receiptDTO{
		ID:                  rec.ID.String(),
		Type:                string(rec.Type),
		Amount:              rec.Amount,
		Currency:            string(rec.Currency),
		Provider:            rec.Provider,
		ExternalPaymentID:   rec.ExternalPaymentID,
		PaymentIntentID:     rec.PaymentIntentID,
		PaymentExpiresAt:    rec.PaymentExpiresAt,
		CheckoutURL:         rec.CheckoutURL,
		MarketID:            rec.MarketID,
		MarketTitleSnapshot: rec.MarketTitleSnapshot,
		MarketSlugSnapshot:  rec.MarketSlugSnapshot,
		Description:         rec.Description,
		Contracts:           rec.Contracts,
		UnitPrice:           rec.UnitPrice,
		Payload:             rec.PayloadJSON,
		CreatedAt:           rec.CreatedAt,
	}
	if rec.PaymentMethod != nil {
		m := string(*rec.PaymentMethod)
		dto.PaymentMethod = &m
	}
	return dto
}

func (h *ReceiptHandler) ListReceipts(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		RespondAppError(w, ErrInvalidToken, nil)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			RespondValidationError(w, []FieldError{{Field: "limit", Message: "must be a non-negative integer"}})
			return
		}
		limit = n
	}

	page, err := h.receipts.GetReceipts(r.Context(), userID, r.URL.Query().Get("cursor"), limit)
	if err != nil {
		RespondDomainError(w, err)
		return
	}

	dtos := make([]receiptDTO, 0, len(page.Receipts))
	for i := range page.Receipts {
		dtos = append(dtos, toReceiptDTO(&page.Receipts[i]))
	}

	RespondSuccess(w, http.StatusOK, map[string]any{
		"receipts":    dtos,
		"next_cursor": page.NextCursor,
	})
}

func (h *ReceiptHandler) GetReceipt(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		RespondAppError(w, ErrInvalidToken, nil)
		return
	}

	receiptID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		RespondAppError(w, ErrResourceNotFound, nil)
		return
	}

	rec, err := h.receipts.GetReceipt(r.Context(), receiptID, userID)
	if err != nil {
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, toReceiptDTO(rec))
}
