package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/previsio/previsio/internal/auth"
	"github.com/previsio/previsio/internal/domain"
	"github.com/previsio/previsio/internal/gateway"
	"github.com/previsio/previsio/internal/service/wallet"
)

type mockDepositWallet struct {
	intent    *domain.PaymentIntent
	confirmed bool
	rejected  bool
}

func (m *mockDepositWallet) CreateDepositIntent(_ context.Context, _ wallet.DepositRequest) (*domain.PaymentIntent, error) {
	return m.intent, nil
}

func (m *mockDepositWallet) GetIntentForUser(_ context.Context, intentID, userID uuid.UUID) (*domain.PaymentIntent, error) {
	if m.intent == nil || m.intent.ID != intentID || m.intent.UserID != userID {
		return nil, domain.ErrNotFound
	}
	copied := *m.intent
	return &copied, nil
}

func (m *mockDepositWallet) Balance(_ context.Context, _ uuid.UUID, _ domain.Currency) (int64, error) {
	return 0, nil
}

func (m *mockDepositWallet) Statement(_ context.Context, _ uuid.UUID, _ domain.Currency, _, _ int) ([]domain.LedgerEntry, error) {
	return nil, nil
}

func (m *mockDepositWallet) ConfirmDeposit(_ context.Context, _ uuid.UUID, _ *string) (*domain.LedgerEntry, bool, error) {
	m.confirmed = true
	m.intent.Status = domain.IntentStatusApproved
	return &domain.LedgerEntry{ID: uuid.New()}, true, nil
}

func (m *mockDepositWallet) RejectIntent(_ context.Context, _ uuid.UUID, _ *string) error {
	m.rejected = true
	m.intent.Status = domain.IntentStatusRejected
	return nil
}

func pendingIntent(userID uuid.UUID, externalPaymentID *string) *domain.PaymentIntent {
	return &domain.PaymentIntent{
		ID:                uuid.New(),
		UserID:            userID,
		Provider:          "mercadopago",
		Amount:            5000,
		Currency:          domain.CurrencyBRL,
		Status:            domain.IntentStatusPending,
		ExternalPaymentID: externalPaymentID,
		PaymentMethod:     domain.PaymentMethodPix,
		CreatedAt:         time.Now().UTC(),
	}
}

func serveGetDeposit(t *testing.T, h *DepositHandler, userID, intentID uuid.UUID) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/deposits/"+intentID.String(), nil)
	req.SetPathValue("id", intentID.String())
	req = req.WithContext(auth.ContextWithClaims(req.Context(), &auth.Claims{UserID: userID}))
	rr := httptest.NewRecorder()
	h.GetDeposit(rr, req)
	return rr
}

func depositStatus(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	status, _ := data["status"].(string)
	return status
}

func TestGetDeposit_PendingIntentSettlesFromGateway(t *testing.T) {
	userID := uuid.New()
	external := "123456"
	ws := &mockDepositWallet{intent: pendingIntent(userID, &external)}
	orders := &mockReconciler{}
	fetcher := &mockFetcher{payment: &gateway.Payment{
		ID:                123456,
		Status:            "approved",
		ExternalReference: ws.intent.ID.String(),
	}}
	h := NewDepositHandler(ws, orders, fetcher)

	rr := serveGetDeposit(t, h, userID, ws.intent.ID)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, ws.confirmed)
	assert.Equal(t, string(domain.IntentStatusApproved), depositStatus(t, rr))

	require.NotNil(t, orders.upserted)
	assert.Equal(t, ws.intent.ID.String(), orders.upserted.OrderID)
}

func TestGetDeposit_PendingIntentRejectedByGateway(t *testing.T) {
	userID := uuid.New()
	external := "223344"
	ws := &mockDepositWallet{intent: pendingIntent(userID, &external)}
	fetcher := &mockFetcher{payment: &gateway.Payment{
		ID:                223344,
		Status:            "rejected",
		ExternalReference: ws.intent.ID.String(),
	}}
	h := NewDepositHandler(ws, &mockReconciler{}, fetcher)

	rr := serveGetDeposit(t, h, userID, ws.intent.ID)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, ws.rejected)
	assert.Equal(t, string(domain.IntentStatusRejected), depositStatus(t, rr))
}

func TestGetDeposit_GatewayOutageServesStoredStatus(t *testing.T) {
	userID := uuid.New()
	external := "334455"
	ws := &mockDepositWallet{intent: pendingIntent(userID, &external)}
	fetcher := &mockFetcher{err: fmt.Errorf("connection refused")}
	h := NewDepositHandler(ws, &mockReconciler{}, fetcher)

	rr := serveGetDeposit(t, h, userID, ws.intent.ID)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.False(t, ws.confirmed)
	assert.Equal(t, string(domain.IntentStatusPending), depositStatus(t, rr))
}

func TestGetDeposit_NoExternalPaymentSkipsGateway(t *testing.T) {
	userID := uuid.New()
	ws := &mockDepositWallet{intent: pendingIntent(userID, nil)}
	fetcher := &mockFetcher{}
	h := NewDepositHandler(ws, &mockReconciler{}, fetcher)

	rr := serveGetDeposit(t, h, userID, ws.intent.ID)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 0, fetcher.calls)
	assert.Equal(t, string(domain.IntentStatusPending), depositStatus(t, rr))
}

func TestGetDeposit_TerminalIntentSkipsGateway(t *testing.T) {
	userID := uuid.New()
	external := "445566"
	intent := pendingIntent(userID, &external)
	intent.Status = domain.IntentStatusApproved
	ws := &mockDepositWallet{intent: intent}
	fetcher := &mockFetcher{}
	h := NewDepositHandler(ws, &mockReconciler{}, fetcher)

	rr := serveGetDeposit(t, h, userID, intent.ID)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 0, fetcher.calls)
}
