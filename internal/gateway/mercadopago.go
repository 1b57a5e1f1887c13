package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/previsio/previsio/internal/domain"
	"github.com/previsio/previsio/internal/logging"
)

// ErrPaymentNotFound is returned when the gateway has no payment for the id.
var ErrPaymentNotFound = errors.New("gateway payment not found")

type MercadoPagoClient struct {
	baseURL         string
	accessToken     string
	notificationURL string
	httpClient      *http.Client
}

func NewMercadoPagoClient(baseURL, accessToken, notificationURL string) *MercadoPagoClient {
	return &MercadoPagoClient{
		baseURL:         baseURL,
		accessToken:     accessToken,
		notificationURL: notificationURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type CreatePaymentRequest struct {
	Amount            int64
	Method            domain.PaymentMethod
	ExternalReference string
	PayerEmail        string
	Description       string
	ExpiresAt         *time.Time
	CardToken         string
	Installments      int
}

// Payment is the subset of the gateway payment resource this service reads.
type Payment struct {
	ID                 int64           `json:"id"`
	Status             string          `json:"status"`
	StatusDetail       string          `json:"status_detail"`
	ExternalReference  string          `json:"external_reference"`
	TransactionAmount  decimal.Decimal `json:"transaction_amount"`
	PaymentMethodID    string          `json:"payment_method_id"`
	DateOfExpiration   *time.Time      `json:"date_of_expiration"`
	PointOfInteraction struct {
		TransactionData struct {
			QRCode       string `json:"qr_code"`
			QRCodeBase64 string `json:"qr_code_base64"`
			TicketURL    string `json:"ticket_url"`
		} `json:"transaction_data"`
	} `json:"point_of_interaction"`
	TransactionDetails struct {
		ExternalResourceURL string `json:"external_resource_url"`
	} `json:"transaction_details"`
}

type createPaymentPayload struct {
	TransactionAmount decimal.Decimal `json:"transaction_amount"`
	Description       string          `json:"description,omitempty"`
	PaymentMethodID   string          `json:"payment_method_id"`
	ExternalReference string          `json:"external_reference"`
	NotificationURL   string          `json:"notification_url,omitempty"`
	DateOfExpiration  *time.Time      `json:"date_of_expiration,omitempty"`
	Token             string          `json:"token,omitempty"`
	Installments      int             `json:"installments,omitempty"`
	Payer             struct {
		Email string `json:"email"`
	} `json:"payer"`
}

func (c *MercadoPagoClient) CreatePayment(ctx context.Context, req CreatePaymentRequest) (*Payment, error) {
	log := logging.FromContext(ctx)

	payload := createPaymentPayload{
		TransactionAmount: CentavosToDecimal(req.Amount),
		Description:       req.Description,
		PaymentMethodID:   methodID(req.Method),
		ExternalReference: req.ExternalReference,
		NotificationURL:   c.notificationURL,
		DateOfExpiration:  req.ExpiresAt,
		Token:             req.CardToken,
		Installments:      req.Installments,
	}
	payload.Payer.Email = req.PayerEmail

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("CreatePayment: marshal: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/payments", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("CreatePayment: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.accessToken)
	// A fresh key per call: retries of our own request are deduplicated
	// upstream at the intent level, never here.
	httpReq.Header.Set("X-Idempotency-Key", uuid.NewString())

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("CreatePayment: send: %w", domain.ErrGatewayUnavailable)
	}
	defer resp.Body.Close()

	log.Info("gateway payment created",
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
		"external_reference", req.ExternalReference,
	)

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("CreatePayment: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	var p Payment
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, fmt.Errorf("CreatePayment: decode: %w", err)
	}
	return &p, nil
}

func (c *MercadoPagoClient) GetPayment(ctx context.Context, paymentID int64) (*Payment, error) {
	url := fmt.Sprintf("%s/v1/payments/%d", c.baseURL, paymentID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("GetPayment: build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("GetPayment: send: %w", domain.ErrGatewayUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("GetPayment: %w", ErrPaymentNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("GetPayment: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	var p Payment
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, fmt.Errorf("GetPayment: decode: %w", err)
	}
	return &p, nil
}

func methodID(m domain.PaymentMethod) string {
	switch m {
	case domain.PaymentMethodPix:
		return "pix"
	case domain.PaymentMethodBoleto:
		return "bolbradesco"
	default:
		return string(m)
	}
}
