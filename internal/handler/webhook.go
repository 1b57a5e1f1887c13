package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/previsio/previsio/internal/domain"
	"github.com/previsio/previsio/internal/gateway"
	"github.com/previsio/previsio/internal/logging"
	"github.com/previsio/previsio/internal/metrics"
	"github.com/previsio/previsio/internal/service/reconcile"
	"github.com/previsio/previsio/internal/service/webhookstore"
)

type webhookStore interface {
	Save(ctx context.Context, req webhookstore.SaveRequest) (*domain.WebhookEvent, bool, error)
	MarkProcessed(ctx context.Context, eventID uuid.UUID, processed bool, result string, orderID *string, responseStatus int, duration time.Duration) error
	GetByProviderPaymentID(ctx context.Context, providerPaymentID int64) (*domain.WebhookEvent, error)
}

type reconciler interface {
	CreateOrUpdate(ctx context.Context, req reconcile.UpsertRequest) (*domain.Order, error)
}

type depositConfirmer interface {
	ConfirmDeposit(ctx context.Context, intentID uuid.UUID, externalPaymentID *string) (*domain.LedgerEntry, bool, error)
	RejectIntent(ctx context.Context, intentID uuid.UUID, externalPaymentID *string) error
}

type paymentFetcher interface {
	GetPayment(ctx context.Context, paymentID int64) (*gateway.Payment, error)
}

type WebhookHandler struct {
	store    webhookStore
	orders   reconciler
	wallet   depositConfirmer
	payments paymentFetcher
}

func NewWebhookHandler(store webhookStore, orders reconciler, wallet depositConfirmer, payments paymentFetcher) *WebhookHandler {
	return &WebhookHandler{store: store, orders: orders, wallet: wallet, payments: payments}
}

// webhookBody covers the gateway notification shapes: data.id arrives as a
// string or a number depending on the notification mode.
type webhookBody struct {
	Type   string `json:"type"`
	Action string `json:"action"`
	Data   struct {
		ID json.RawMessage `json:"id"`
	} `json:"data"`
}

// ReceiveGatewayWebhook always answers 200. A non-200 makes the gateway
// retry forever; the audit row plus the maintenance job cover anything that
// goes wrong past this point. Even a failure to persist the audit row does
// not stop the reconciliation itself, only the bookkeeping around it.
func (h *WebhookHandler) ReceiveGatewayWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logging.FromContext(ctx)
	start := time.Now()

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		log.Error("failed to read webhook body", "error", err)
		RespondSuccess(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	paymentID, eventType := extractNotification(r, body)

	if paymentID != nil {
		prior, err := h.store.GetByProviderPaymentID(ctx, *paymentID)
		if err == nil && prior.Processed {
			RespondSuccess(w, http.StatusOK, map[string]string{"status": "duplicate"})
			return
		}
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			log.Warn("webhook lookup by payment id failed", "payment_id", *paymentID, "error", err)
		}
	}

	event, created, err := h.store.Save(ctx, webhookstore.SaveRequest{
		Provider:          "mercadopago",
		EventType:         eventType,
		ProviderPaymentID: paymentID,
		Payload:           string(body),
		Headers:           r.Header,
	})
	if err != nil {
		// The audit row is bookkeeping; reconciliation still runs so the
		// payment settles even when the store is down.
		log.Error("failed to store webhook event", "error", err)
		event = nil
	} else if !created && event.Processed {
		RespondSuccess(w, http.StatusOK, map[string]string{"status": "duplicate"})
		return
	}

	result, orderID, processed := h.process(ctx, paymentID)

	elapsed := time.Since(start)
	metrics.WebhookProcessingDuration.Observe(elapsed.Seconds())
	if event != nil {
		if err := h.store.MarkProcessed(ctx, event.ID, processed, result, orderID, http.StatusOK, elapsed); err != nil {
			log.Warn("failed to mark webhook processed", "event_id", event.ID, "error", err)
		}
	}

	log.Info("webhook processed",
		"result", result,
		"duration_ms", elapsed.Milliseconds(),
	)
	RespondSuccess(w, http.StatusOK, map[string]string{"status": "received"})
}

// process runs the reconciliation for one delivery and returns the result
// label, the order id it resolved if any, and whether the delivery is done.
// A false processed flag leaves the audit row open for the next redelivery.
func (h *WebhookHandler) process(ctx context.Context, paymentID *int64) (string, *string, bool) {
	log := logging.FromContext(ctx)

	if paymentID == nil {
		log.Warn("webhook carries no payment id")
		metrics.WebhookEventsReceived.WithLabelValues("no_payment_id").Inc()
		return "no_payment_id", nil, false
	}

	payment, err := h.payments.GetPayment(ctx, *paymentID)
	if err != nil {
		log.Warn("gateway lookup failed", "payment_id", *paymentID, "error", err)
		if errors.Is(err, gateway.ErrPaymentNotFound) {
			return "payment_not_found", nil, false
		}
		return "gateway_error", nil, false
	}

	status := gateway.NormalizeStatus(payment.Status)
	orderID := payment.ExternalReference
	if orderID == "" {
		log.Warn("gateway payment has no external reference", "payment_id", *paymentID)
		return "no_order_reference", nil, false
	}

	detail := payment.StatusDetail
	if _, err := h.orders.CreateOrUpdate(ctx, reconcile.UpsertRequest{
		OrderID:           orderID,
		Amount:            gateway.DecimalToCentavos(payment.TransactionAmount),
		Currency:          domain.CurrencyBRL,
		Provider:          "mercadopago",
		ProviderPaymentID: paymentID,
		Status:            status,
		StatusDetail:      &detail,
		PaymentMethod:     domain.PaymentMethod(payment.PaymentMethodID),
	}); err != nil {
		// Mirror bookkeeping only; the intent settlement below is what moves
		// money and decides the result.
		log.Warn("order reconciliation failed", "order_id", orderID, "error", err)
	}

	result, processed := h.settleIntent(ctx, orderID, status, *paymentID)
	return result, &orderID, processed
}

// settleIntent applies the normalized status to the payment intent the order
// references, when the reference is one of ours.
func (h *WebhookHandler) settleIntent(ctx context.Context, orderID string, status domain.OrderStatus, paymentID int64) (string, bool) {
	log := logging.FromContext(ctx)

	intentID, err := uuid.Parse(orderID)
	if err != nil {
		// Not a deposit intent; order mirror alone is the outcome.
		return "order_updated", true
	}

	external := strconv.FormatInt(paymentID, 10)

	switch status {
	case domain.OrderStatusApproved:
		_, credited, err := h.wallet.ConfirmDeposit(ctx, intentID, &external)
		if err != nil {
			if errors.Is(err, domain.ErrIntentTerminal) {
				return "intent_already_final", true
			}
			if errors.Is(err, domain.ErrNotFound) {
				return "intent_not_found", true
			}
			log.Error("deposit confirmation failed", "intent_id", intentID, "error", err)
			return "confirm_failed", false
		}
		if !credited {
			return "already_credited", true
		}
		return "credited", true
	case domain.OrderStatusRejected:
		if err := h.wallet.RejectIntent(ctx, intentID, &external); err != nil {
			log.Warn("intent rejection failed", "intent_id", intentID, "error", err)
			return "reject_failed", false
		}
		return "rejected", true
	default:
		return "status_" + string(status), true
	}
}

// extractNotification pulls the provider payment id and event type out of
// the request. The id is looked for in the data.id query parameter, then the
// id parameter, then the body's data.id, which may be a JSON string or
// number.
func extractNotification(r *http.Request, body []byte) (*int64, string) {
	q := r.URL.Query()

	eventType := q.Get("type")
	if eventType == "" {
		eventType = q.Get("topic")
	}

	var parsed webhookBody
	if err := json.Unmarshal(body, &parsed); err == nil {
		if eventType == "" {
			eventType = parsed.Type
		}
		if eventType == "" {
			eventType = parsed.Action
		}
	}
	if eventType == "" {
		eventType = "unknown"
	}

	for _, candidate := range []string{q.Get("data.id"), q.Get("id")} {
		if candidate == "" {
			continue
		}
		if n, err := strconv.ParseInt(candidate, 10, 64); err == nil {
			return &n, eventType
		}
	}

	if len(parsed.Data.ID) > 0 {
		var asNumber int64
		if err := json.Unmarshal(parsed.Data.ID, &asNumber); err == nil {
			return &asNumber, eventType
		}
		var asString string
		if err := json.Unmarshal(parsed.Data.ID, &asString); err == nil {
			if n, err := strconv.ParseInt(asString, 10, 64); err == nil {
				return &n, eventType
			}
		}
	}

	return nil, eventType
}
