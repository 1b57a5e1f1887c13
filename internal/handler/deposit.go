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
	"github.com/previsio/previsio/internal/gateway"
	"github.com/previsio/previsio/internal/logging"
	"github.com/previsio/previsio/internal/service/reconcile"
	"github.com/previsio/previsio/internal/service/wallet"
)

type walletService interface {
	CreateDepositIntent(ctx context.Context, req wallet.DepositRequest) (*domain.PaymentIntent, error)
	GetIntentForUser(ctx context.Context, intentID, userID uuid.UUID) (*domain.PaymentIntent, error)
	Balance(ctx context.Context, userID uuid.UUID, currency domain.Currency) (int64, error)
	Statement(ctx context.Context, userID uuid.UUID, currency domain.Currency, limit, offset int) ([]domain.LedgerEntry, error)
	depositConfirmer
}

type DepositHandler struct {
	wallet   walletService
	orders   reconciler
	payments paymentFetcher
}

func NewDepositHandler(wallet walletService, orders reconciler, payments paymentFetcher) *DepositHandler {
	return &DepositHandler{wallet: wallet, orders: orders, payments: payments}
}

type createDepositRequest struct {
	Amount       int64  `json:"amount"`
	Method       string `json:"method"`
	PayerEmail   string `json:"payer_email"`
	CardToken    string `json:"card_token,omitempty"`
	Installments int    `json:"installments,omitempty"`
}

func (r createDepositRequest) Validate() []FieldError {
	var errs []FieldError

	if r.Amount <= 0 {
		errs = append(errs, FieldError{Field: "amount", Message: "must be greater than 0"})
	}

	switch domain.PaymentMethod(r.Method) {
	case domain.PaymentMethodPix, domain.PaymentMethodBoleto:
	case domain.PaymentMethodCard:
		if r.CardToken == "" {
			errs = append(errs, FieldError{Field: "card_token", Message: "required for card payments"})
		}
	default:
		errs = append(errs, FieldError{Field: "method", Message: "must be pix, card, or boleto"})
	}

	return errs
}

type depositDTO struct {
	ID                string     `json:"id"`
	Status            string     `json:"status"`
	Amount            int64      `json:"amount"`
	Currency          string     `json:"currency"`
	Method            string     `json:"method"`
	ExternalPaymentID *string    `json:"external_payment_id,omitempty"`
	PixQRCode         *string    `json:"pix_qr_code,omitempty"`
	PixQRCodeBase64   *string    `json:"pix_qr_code_base64,omitempty"`
	CheckoutURL       *string    `json:"checkout_url,omitempty"`
	ExpiresAt         *time.Time `json:"expires_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

func toDepositDTO(i *domain.PaymentIntent) depositDTO {
	return depositDTO{
		ID:                i.ID.String(),
		Status:            string(i.Status),
		Amount:            i.Amount,
		Currency:          string(i.Currency),
		Method:            string(i.PaymentMethod),
		ExternalPaymentID: i.ExternalPaymentID,
		PixQRCode:         i.PixQRCode,
		PixQRCodeBase64:   i.PixQRCodeBase64,
		CheckoutURL:       i.CheckoutURL,
		ExpiresAt:         i.ExpiresAt,
		CreatedAt:         i.CreatedAt,
	}
}

func (h *DepositHandler) CreateDeposit(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		RespondAppError(w, ErrInvalidToken, nil)
		return
	}

	idempotencyKey := r.Header.Get("Idempotency-Key")
	if idempotencyKey == "" {
		RespondAppError(w, ErrMissingIdempotencyKey, nil)
		return
	}

	var req createDepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}
	if fields := req.Validate(); len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	intent, err := h.wallet.CreateDepositIntent(r.Context(), wallet.DepositRequest{
		UserID:         userID,
		Amount:         req.Amount,
		Currency:       domain.CurrencyBRL,
		Method:         domain.PaymentMethod(req.Method),
		IdempotencyKey: idempotencyKey,
		PayerEmail:     req.PayerEmail,
		CardToken:      req.CardToken,
		Installments:   req.Installments,
	})
	if err != nil {
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusCreated, toDepositDTO(intent))
}

func (h *DepositHandler) GetDeposit(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		RespondAppError(w, ErrInvalidToken, nil)
		return
	}

	intentID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		RespondAppError(w, ErrResourceNotFound, nil)
		return
	}

	intent, err := h.wallet.GetIntentForUser(r.Context(), intentID, userID)
	if err != nil {
		RespondDomainError(w, err)
		return
	}

	if intent.Status == domain.IntentStatusPending {
		if refreshed := h.reconcilePending(r.Context(), intent); refreshed != nil {
			intent = refreshed
		}
	}

	RespondSuccess(w, http.StatusOK, toDepositDTO(intent))
}

// reconcilePending polls the gateway for a still-pending intent so a status
// read reflects a settlement the webhook has not delivered yet. It runs the
// same order-mirror and intent-settlement steps as the webhook path. Gateway
// trouble is logged and the stored status served; nil means keep the intent
// as read.
func (h *DepositHandler) reconcilePending(ctx context.Context, intent *domain.PaymentIntent) *domain.PaymentIntent {
	log := logging.FromContext(ctx)

	if intent.ExternalPaymentID == nil {
		return nil
	}
	paymentID, err := strconv.ParseInt(*intent.ExternalPaymentID, 10, 64)
	if err != nil {
		return nil
	}

	payment, err := h.payments.GetPayment(ctx, paymentID)
	if err != nil {
		log.Warn("gateway poll failed", "intent_id", intent.ID, "payment_id", paymentID, "error", err)
		return nil
	}

	status := gateway.NormalizeStatus(payment.Status)
	detail := payment.StatusDetail
	if payment.ExternalReference != "" {
		if _, err := h.orders.CreateOrUpdate(ctx, reconcile.UpsertRequest{
			OrderID:           payment.ExternalReference,
			Amount:            gateway.DecimalToCentavos(payment.TransactionAmount),
			Currency:          domain.CurrencyBRL,
			Provider:          "mercadopago",
			ProviderPaymentID: &paymentID,
			Status:            status,
			StatusDetail:      &detail,
			PaymentMethod:     domain.PaymentMethod(payment.PaymentMethodID),
		}); err != nil {
			log.Warn("order reconciliation failed", "order_id", payment.ExternalReference, "error", err)
		}
	}

	switch status {
	case domain.OrderStatusApproved:
		if _, _, err := h.wallet.ConfirmDeposit(ctx, intent.ID, intent.ExternalPaymentID); err != nil {
			log.Warn("deposit confirmation on poll failed", "intent_id", intent.ID, "error", err)
			return nil
		}
	case domain.OrderStatusRejected:
		if err := h.wallet.RejectIntent(ctx, intent.ID, intent.ExternalPaymentID); err != nil {
			log.Warn("intent rejection on poll failed", "intent_id", intent.ID, "error", err)
			return nil
		}
	default:
		return nil
	}

	refreshed, err := h.wallet.GetIntentForUser(ctx, intent.ID, intent.UserID)
	if err != nil {
		log.Warn("intent refresh after poll failed", "intent_id", intent.ID, "error", err)
		return nil
	}
	return refreshed
}

func (h *DepositHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		RespondAppError(w, ErrInvalidToken, nil)
		return
	}

	balance, err := h.wallet.Balance(r.Context(), userID, domain.CurrencyBRL)
	if err != nil {
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, map[string]any{
		"balance":  balance,
		"currency": domain.CurrencyBRL,
	})
}

type ledgerEntryDTO struct {
	ID            string    `json:"id"`
	EntryType     string    `json:"entry_type"`
	Amount        int64     `json:"amount"`
	ReferenceType *string   `json:"reference_type,omitempty"`
	ReferenceID   *string   `json:"reference_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

func (h *DepositHandler) GetStatement(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		RespondAppError(w, ErrInvalidToken, nil)
		return
	}

	limit, offset := parsePagination(r, 50, 200)

	entries, err := h.wallet.Statement(r.Context(), userID, domain.CurrencyBRL, limit, offset)
	if err != nil {
		RespondDomainError(w, err)
		return
	}

	dtos := make([]ledgerEntryDTO, 0, len(entries))
	for _, e := range entries {
		dto := ledgerEntryDTO{
			ID:        e.ID.String(),
			EntryType: string(e.EntryType),
			Amount:    e.Amount,
			CreatedAt: e.CreatedAt,
		}
		if e.ReferenceType != nil {
			rt := string(*e.ReferenceType)
			dto.ReferenceType = &rt
		}
		if e.ReferenceID != nil {
			rid := e.ReferenceID.String()
			dto.ReferenceID = &rid
		}
		dtos = append(dtos, dto)
	}

	RespondSuccess(w, http.StatusOK, map[string]any{"entries": dtos})
}

func parsePagination(r *http.Request, defaultLimit, maxLimit int) (int, int) {
	limit := defaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= maxLimit {
			limit = n
		}
	}
	offset := 0
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}
