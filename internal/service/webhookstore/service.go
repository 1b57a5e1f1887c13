package webhookstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/previsio/previsio/internal/domain"
	"github.com/previsio/previsio/internal/logging"
	"github.com/previsio/previsio/internal/metrics"
	"github.com/previsio/previsio/internal/repository"
)

// signatureHeaders is scanned in order; the first present header is stored
// for later signature audits.
var signatureHeaders = []string{
	"x-signature",
	"x-hub-signature-256",
	"x-webhook-signature",
	"signature",
}

type eventRepo interface {
	Create(ctx context.Context, event *domain.WebhookEvent) error
	GetByPayloadHash(ctx context.Context, payloadHash string) (*domain.WebhookEvent, error)
	GetByProviderPaymentID(ctx context.Context, providerPaymentID int64) (*domain.WebhookEvent, error)
	MarkProcessed(ctx context.Context, id uuid.UUID, processed bool, result string, orderID *string, responseStatus int, durationMs int) error
	ListStaleUnprocessed(ctx context.Context, before time.Time, limit int) ([]domain.WebhookEvent, error)
}

// Service is the append-only audit store for inbound gateway notifications.
// Rows are deduplicated by payload hash and never deleted.
type Service struct {
	events     eventRepo
	staleAfter time.Duration
}

func NewService(events eventRepo, staleAfter time.Duration) *Service {
	return &Service{events: events, staleAfter: staleAfter}
}

type SaveRequest struct {
	Provider          string
	EventType         string
	ProviderPaymentID *int64
	OrderID           *string
	Payload           string
	Headers           http.Header
}

// Save records a delivery. The bool reports whether the payload was new:
// false means an identical body was already stored and that row is returned.
func (s *Service) Save(ctx context.Context, req SaveRequest) (*domain.WebhookEvent, bool, error) {
	log := logging.FromContext(ctx)

	hash := PayloadHash(req.Payload)

	existing, err := s.events.GetByPayloadHash(ctx, hash)
	if err == nil {
		log.Info("duplicate webhook delivery", "event_id", existing.ID, "payload_hash", hash)
		metrics.WebhookEventsReceived.WithLabelValues("duplicate").Inc()
		return existing, false, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, false, fmt.Errorf("Save: %w", err)
	}

	event := &domain.WebhookEvent{
		ID:                uuid.New(),
		Provider:          req.Provider,
		EventType:         req.EventType,
		ProviderPaymentID: req.ProviderPaymentID,
		OrderID:           req.OrderID,
		Payload:           req.Payload,
		PayloadHash:       hash,
		Headers:           encodeHeaders(req.Headers),
		SignatureHeader:   findSignature(req.Headers),
		ReceivedAt:        time.Now().UTC(),
		AttemptCount:      1,
	}

	if err := s.events.Create(ctx, event); err != nil {
		if repository.IsUniqueViolation(err) {
			existing, getErr := s.events.GetByPayloadHash(ctx, hash)
			if getErr != nil {
				return nil, false, fmt.Errorf("Save: %w", getErr)
			}
			metrics.WebhookEventsReceived.WithLabelValues("duplicate").Inc()
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("Save: %w", err)
	}

	metrics.WebhookEventsReceived.WithLabelValues("stored").Inc()
	return event, true, nil
}

// MarkProcessed records the outcome of handling an event. Outcomes that
// should be retried on redelivery pass processed=false.
func (s *Service) MarkProcessed(ctx context.Context, eventID uuid.UUID, processed bool, result string, orderID *string, responseStatus int, duration time.Duration) error {
	err := s.events.MarkProcessed(ctx, eventID, processed, result, orderID, responseStatus, int(duration.Milliseconds()))
	if err != nil {
		return fmt.Errorf("MarkProcessed: %w", err)
	}
	return nil
}

// GetByProviderPaymentID returns the most recent delivery for a payment.
func (s *Service) GetByProviderPaymentID(ctx context.Context, providerPaymentID int64) (*domain.WebhookEvent, error) {
	event, err := s.events.GetByProviderPaymentID(ctx, providerPaymentID)
	if err != nil {
		return nil, fmt.Errorf("GetByProviderPaymentID: %w", err)
	}
	return event, nil
}

// CleanupStale closes out events that were received but never finished
// processing within the staleness window. Events are marked, never deleted:
// the audit trail stays intact. Returns how many were closed.
func (s *Service) CleanupStale(ctx context.Context, batchSize int) (int, error) {
	log := logging.FromContext(ctx)

	cutoff := time.Now().UTC().Add(-s.staleAfter)
	stale, err := s.events.ListStaleUnprocessed(ctx, cutoff, batchSize)
	if err != nil {
		return 0, fmt.Errorf("CleanupStale: %w", err)
	}

	closed := 0
	for _, event := range stale {
		if err := s.events.MarkProcessed(ctx, event.ID, true, "manual_cleanup", nil, 0, 0); err != nil {
			log.Warn("failed to close stale webhook event", "event_id", event.ID, "error", err)
			continue
		}
		closed++
	}

	if closed > 0 {
		log.Info("stale webhook events closed", "count", closed, "cutoff", cutoff)
	}
	return closed, nil
}

// PayloadHash is the dedupe key: a hex sha256 of the raw request body.
func PayloadHash(payload string) string {
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

func findSignature(headers http.Header) *string {
	for _, name := range signatureHeaders {
		if v := headers.Get(name); v != "" {
			return &v
		}
	}
	return nil
}

func encodeHeaders(headers http.Header) *string {
	if len(headers) == 0 {
		return nil
	}
	b, err := json.Marshal(headers)
	if err != nil {
		return nil
	}
	s := string(b)
	return &s
}
