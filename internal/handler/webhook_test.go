package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/previsio/previsio/internal/domain"
	"github.com/previsio/previsio/internal/gateway"
	"github.com/previsio/previsio/internal/service/reconcile"
	"github.com/previsio/previsio/internal/service/webhookstore"
)

type mockStore struct {
	saved           *domain.WebhookEvent
	saveErr         error
	duplicate       bool
	processed       bool
	prior           *domain.WebhookEvent
	result          string
	marked          bool
	markedProcessed bool
}

func (m *mockStore) Save(_ context.Context, req webhookstore.SaveRequest) (*domain.WebhookEvent, bool, error) {
	if m.saveErr != nil {
		return nil, false, m.saveErr
	}
	if m.duplicate {
		return &domain.WebhookEvent{ID: uuid.New(), Processed: m.processed}, false, nil
	}
	m.saved = &domain.WebhookEvent{
		ID:                uuid.New(),
		Provider:          req.Provider,
		EventType:         req.EventType,
		ProviderPaymentID: req.ProviderPaymentID,
		Payload:           req.Payload,
		PayloadHash:       webhookstore.PayloadHash(req.Payload),
		ReceivedAt:        time.Now().UTC(),
	}
	return m.saved, true, nil
}

func (m *mockStore) MarkProcessed(_ context.Context, _ uuid.UUID, processed bool, result string, _ *string, _ int, _ time.Duration) error {
	m.marked = true
	m.markedProcessed = processed
	m.result = result
	return nil
}

func (m *mockStore) GetByProviderPaymentID(_ context.Context, _ int64) (*domain.WebhookEvent, error) {
	if m.prior == nil {
		return nil, domain.ErrNotFound
	}
	return m.prior, nil
}

type mockReconciler struct {
	upserted *reconcile.UpsertRequest
	err      error
}

func (m *mockReconciler) CreateOrUpdate(_ context.Context, req reconcile.UpsertRequest) (*domain.Order, error) {
	m.upserted = &req
	if m.err != nil {
		return nil, m.err
	}
	return &domain.Order{OrderID: req.OrderID, Status: req.Status}, nil
}

type mockWallet struct {
	confirmed  *uuid.UUID
	rejected   *uuid.UUID
	credited   bool
	confirmErr error
}

func (m *mockWallet) ConfirmDeposit(_ context.Context, intentID uuid.UUID, _ *string) (*domain.LedgerEntry, bool, error) {
	m.confirmed = &intentID
	if m.confirmErr != nil {
		return nil, false, m.confirmErr
	}
	return &domain.LedgerEntry{ID: uuid.New()}, m.credited, nil
}

func (m *mockWallet) RejectIntent(_ context.Context, intentID uuid.UUID, _ *string) error {
	m.rejected = &intentID
	return nil
}

type mockFetcher struct {
	payment *gateway.Payment
	err     error
	calls   int
}

func (m *mockFetcher) GetPayment(_ context.Context, _ int64) (*gateway.Payment, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.payment, nil
}

func notificationBody(paymentID any) string {
	b, _ := json.Marshal(map[string]any{
		"type": "payment",
		"data": map[string]any{"id": paymentID},
	})
	return string(b)
}

func serveWebhook(t *testing.T, h *WebhookHandler, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	rr := httptest.NewRecorder()
	h.ReceiveGatewayWebhook(rr, req)
	return rr
}

func TestReceiveGatewayWebhook_ApprovedPaymentCreditsIntent(t *testing.T) {
	intentID := uuid.New()
	store := &mockStore{}
	orders := &mockReconciler{}
	wallet := &mockWallet{credited: true}
	fetcher := &mockFetcher{payment: &gateway.Payment{
		ID:                123,
		Status:            "approved",
		ExternalReference: intentID.String(),
	}}
	h := NewWebhookHandler(store, orders, wallet, fetcher)

	rr := serveWebhook(t, h, "/webhooks/mercadopago?type=payment&data.id=123", notificationBody("123"))

	assert.Equal(t, http.StatusOK, rr.Code)
	require.NotNil(t, wallet.confirmed)
	assert.Equal(t, intentID, *wallet.confirmed)
	assert.Equal(t, "credited", store.result)

	require.NotNil(t, orders.upserted)
	assert.Equal(t, intentID.String(), orders.upserted.OrderID)
	assert.Equal(t, domain.OrderStatusApproved, orders.upserted.Status)
}

func TestReceiveGatewayWebhook_RejectedPayment(t *testing.T) {
	intentID := uuid.New()
	store := &mockStore{}
	wallet := &mockWallet{}
	fetcher := &mockFetcher{payment: &gateway.Payment{
		ID:                456,
		Status:            "cancelled",
		ExternalReference: intentID.String(),
	}}
	h := NewWebhookHandler(store, &mockReconciler{}, wallet, fetcher)

	rr := serveWebhook(t, h, "/webhooks/mercadopago?type=payment&data.id=456", notificationBody("456"))

	assert.Equal(t, http.StatusOK, rr.Code)
	require.NotNil(t, wallet.rejected)
	assert.Equal(t, intentID, *wallet.rejected)
	assert.Nil(t, wallet.confirmed)
	assert.Equal(t, "rejected", store.result)
}

func TestReceiveGatewayWebhook_MissingPaymentIDStillReturns200(t *testing.T) {
	store := &mockStore{}
	h := NewWebhookHandler(store, &mockReconciler{}, &mockWallet{}, &mockFetcher{})

	rr := serveWebhook(t, h, "/webhooks/mercadopago", `{"type":"payment"}`)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "no_payment_id", store.result)
}

func TestReceiveGatewayWebhook_GatewayFailureStillReturns200(t *testing.T) {
	store := &mockStore{}
	fetcher := &mockFetcher{err: fmt.Errorf("connection refused")}
	h := NewWebhookHandler(store, &mockReconciler{}, &mockWallet{}, fetcher)

	rr := serveWebhook(t, h, "/webhooks/mercadopago?data.id=789", notificationBody("789"))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "gateway_error", store.result)
}

func TestReceiveGatewayWebhook_ProcessedDuplicateShortCircuits(t *testing.T) {
	store := &mockStore{duplicate: true, processed: true}
	fetcher := &mockFetcher{payment: &gateway.Payment{ID: 1, Status: "approved"}}
	wallet := &mockWallet{}
	h := NewWebhookHandler(store, &mockReconciler{}, wallet, fetcher)

	rr := serveWebhook(t, h, "/webhooks/mercadopago?data.id=1", notificationBody("1"))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Nil(t, wallet.confirmed)

	var resp APIResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "duplicate", data["status"])
}

func TestReceiveGatewayWebhook_StoreFailureStillSettles(t *testing.T) {
	intentID := uuid.New()
	store := &mockStore{saveErr: fmt.Errorf("connection refused")}
	wallet := &mockWallet{credited: true}
	fetcher := &mockFetcher{payment: &gateway.Payment{
		ID:                1,
		Status:            "approved",
		ExternalReference: intentID.String(),
	}}
	h := NewWebhookHandler(store, &mockReconciler{}, wallet, fetcher)

	rr := serveWebhook(t, h, "/webhooks/mercadopago?data.id=1", notificationBody("1"))

	// Losing the audit row must not lose the settlement.
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 1, fetcher.calls)
	require.NotNil(t, wallet.confirmed)
	assert.Equal(t, intentID, *wallet.confirmed)
	assert.False(t, store.marked)
}

func TestReceiveGatewayWebhook_FailureOutcomeLeavesEventOpen(t *testing.T) {
	store := &mockStore{}
	fetcher := &mockFetcher{err: fmt.Errorf("connection refused")}
	h := NewWebhookHandler(store, &mockReconciler{}, &mockWallet{}, fetcher)

	rr := serveWebhook(t, h, "/webhooks/mercadopago?data.id=7", notificationBody("7"))

	// A gateway outage is retriable; the event must stay unprocessed so a
	// redelivery runs the reconciliation again.
	assert.Equal(t, http.StatusOK, rr.Code)
	require.True(t, store.marked)
	assert.False(t, store.markedProcessed)
	assert.Equal(t, "gateway_error", store.result)
}

func TestReceiveGatewayWebhook_SuccessOutcomeMarksProcessed(t *testing.T) {
	intentID := uuid.New()
	store := &mockStore{}
	fetcher := &mockFetcher{payment: &gateway.Payment{
		ID:                8,
		Status:            "approved",
		ExternalReference: intentID.String(),
	}}
	h := NewWebhookHandler(store, &mockReconciler{}, &mockWallet{credited: true}, fetcher)

	rr := serveWebhook(t, h, "/webhooks/mercadopago?data.id=8", notificationBody("8"))

	assert.Equal(t, http.StatusOK, rr.Code)
	require.True(t, store.marked)
	assert.True(t, store.markedProcessed)
	assert.Equal(t, "credited", store.result)
}

func TestReceiveGatewayWebhook_ProcessedPaymentSkipsSave(t *testing.T) {
	store := &mockStore{prior: &domain.WebhookEvent{ID: uuid.New(), Processed: true}}
	wallet := &mockWallet{}
	fetcher := &mockFetcher{payment: &gateway.Payment{ID: 2, Status: "approved"}}
	h := NewWebhookHandler(store, &mockReconciler{}, wallet, fetcher)

	rr := serveWebhook(t, h, "/webhooks/mercadopago?data.id=2", notificationBody("2"))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Nil(t, store.saved)
	assert.Equal(t, 0, fetcher.calls)
	assert.Nil(t, wallet.confirmed)

	var resp APIResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "duplicate", data["status"])
}

func TestReceiveGatewayWebhook_UnprocessedPriorDeliveryStillProcesses(t *testing.T) {
	intentID := uuid.New()
	store := &mockStore{prior: &domain.WebhookEvent{ID: uuid.New(), Processed: false}}
	wallet := &mockWallet{credited: true}
	fetcher := &mockFetcher{payment: &gateway.Payment{
		ID:                3,
		Status:            "approved",
		ExternalReference: intentID.String(),
	}}
	h := NewWebhookHandler(store, &mockReconciler{}, wallet, fetcher)

	rr := serveWebhook(t, h, "/webhooks/mercadopago?data.id=3", notificationBody("3"))

	assert.Equal(t, http.StatusOK, rr.Code)
	require.NotNil(t, wallet.confirmed)
	assert.Equal(t, intentID, *wallet.confirmed)
}

func TestReceiveGatewayWebhook_NonIntentReferenceOnlyUpdatesOrder(t *testing.T) {
	store := &mockStore{}
	orders := &mockReconciler{}
	wallet := &mockWallet{}
	fetcher := &mockFetcher{payment: &gateway.Payment{
		ID:                99,
		Status:            "approved",
		ExternalReference: "legacy-order-42",
	}}
	h := NewWebhookHandler(store, orders, wallet, fetcher)

	rr := serveWebhook(t, h, "/webhooks/mercadopago?data.id=99", notificationBody("99"))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Nil(t, wallet.confirmed)
	require.NotNil(t, orders.upserted)
	assert.Equal(t, "legacy-order-42", orders.upserted.OrderID)
	assert.Equal(t, "order_updated", store.result)
}

func TestExtractNotification(t *testing.T) {
	id := func(n int64) *int64 { return &n }

	tests := []struct {
		name      string
		target    string
		body      string
		wantID    *int64
		wantEvent string
	}{
		{
			name:      "data.id query parameter",
			target:    "/wh?type=payment&data.id=123",
			body:      `{}`,
			wantID:    id(123),
			wantEvent: "payment",
		},
		{
			name:      "id query parameter",
			target:    "/wh?topic=merchant_order&id=456",
			body:      `{}`,
			wantID:    id(456),
			wantEvent: "merchant_order",
		},
		{
			name:      "body data.id as string",
			target:    "/wh",
			body:      `{"type":"payment","data":{"id":"789"}}`,
			wantID:    id(789),
			wantEvent: "payment",
		},
		{
			name:      "body data.id as number",
			target:    "/wh",
			body:      `{"action":"payment.updated","data":{"id":321}}`,
			wantID:    id(321),
			wantEvent: "payment.updated",
		},
		{
			name:      "query takes precedence over body",
			target:    "/wh?data.id=111",
			body:      `{"data":{"id":222}}`,
			wantID:    id(111),
			wantEvent: "unknown",
		},
		{
			name:      "no id anywhere",
			target:    "/wh",
			body:      `{"type":"test"}`,
			wantID:    nil,
			wantEvent: "test",
		},
		{
			name:      "non-numeric id ignored",
			target:    "/wh",
			body:      `{"data":{"id":"abc"}}`,
			wantID:    nil,
			wantEvent: "unknown",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, tc.target, nil)
			gotID, gotEvent := extractNotification(req, []byte(tc.body))

			if tc.wantID == nil {
				assert.Nil(t, gotID)
			} else {
				require.NotNil(t, gotID)
				assert.Equal(t, *tc.wantID, *gotID)
			}
			assert.Equal(t, tc.wantEvent, gotEvent)
		})
	}
}
