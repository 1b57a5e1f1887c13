package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/previsio/previsio/internal/logging"
)

// A local stand-in for the payment gateway: accepts payment creation, serves
// payment lookups, and pushes a webhook to the API when an operator flips a
// payment's status.

type mockPayment struct {
	ID                 int64           `json:"id"`
	Status             string          `json:"status"`
	StatusDetail       string          `json:"status_detail"`
	ExternalReference  string          `json:"external_reference"`
	TransactionAmount  decimal.Decimal `json:"transaction_amount"`
	PaymentMethodID    string          `json:"payment_method_id"`
	PointOfInteraction struct {
		TransactionData struct {
			QRCode       string `json:"qr_code"`
			QRCodeBase64 string `json:"qr_code_base64"`
		} `json:"transaction_data"`
	} `json:"point_of_interaction"`
}

type store struct {
	mu       sync.Mutex
	nextID   int64
	payments map[int64]*mockPayment
}

func newStore() *store {
	return &store{nextID: 100000001, payments: make(map[int64]*mockPayment)}
}

func (s *store) create(p *mockPayment) *mockPayment {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.ID = s.nextID
	s.nextID++
	s.payments[p.ID] = p
	return p
}

func (s *store) get(id int64) (*mockPayment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	return p, ok
}

func main() {
	logging.Init("mock-gateway", "info", os.Getenv("APP_ENV"))

	callbackURL := os.Getenv("WEBHOOK_CALLBACK_URL")
	if callbackURL == "" {
		callbackURL = "http://localhost:8080/webhooks/mercadopago"
	}

	payments := newStore()
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	mux.HandleFunc("POST /v1/payments", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			TransactionAmount decimal.Decimal `json:"transaction_amount"`
			PaymentMethodID   string          `json:"payment_method_id"`
			ExternalReference string          `json:"external_reference"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		p := &mockPayment{
			Status:            "pending",
			StatusDetail:      "pending_waiting_payment",
			ExternalReference: req.ExternalReference,
			TransactionAmount: req.TransactionAmount,
			PaymentMethodID:   req.PaymentMethodID,
		}
		if req.PaymentMethodID == "pix" {
			p.PointOfInteraction.TransactionData.QRCode = "00020126mockpixcode"
			p.PointOfInteraction.TransactionData.QRCodeBase64 = "bW9ja3BpeGNvZGU="
		}
		payments.create(p)

		slog.Info("payment created", "payment_id", p.ID, "external_reference", p.ExternalReference)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(p)
	})

	mux.HandleFunc("GET /v1/payments/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		p, ok := payments.get(id)
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(p)
	})

	// Operator endpoint: flip a payment's status and notify the API the way
	// the real gateway would.
	mux.HandleFunc("POST /admin/payments/{id}/{status}", func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		p, ok := payments.get(id)
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		p.Status = r.PathValue("status")
		p.StatusDetail = "accredited"

		go notify(callbackURL, id)
		w.WriteHeader(http.StatusAccepted)
	})

	slog.Info("mock gateway started", "addr", ":8081", "callback_url", callbackURL)
	if err := http.ListenAndServe(":8081", mux); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func notify(callbackURL string, paymentID int64) {
	body, _ := json.Marshal(map[string]any{
		"type":   "payment",
		"action": "payment.updated",
		"data":   map[string]any{"id": fmt.Sprintf("%d", paymentID)},
	})

	resp, err := http.Post(callbackURL+"?type=payment&data.id="+strconv.FormatInt(paymentID, 10), "application/json", bytes.NewReader(body))
	if err != nil {
		slog.Error("webhook delivery failed", "payment_id", paymentID, "error", err)
		return
	}
	resp.Body.Close()
	slog.Info("webhook delivered", "payment_id", paymentID, "status", resp.StatusCode)
}
