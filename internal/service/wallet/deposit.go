package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/previsio/previsio/internal/domain"
	"github.com/previsio/previsio/internal/gateway"
	"github.com/previsio/previsio/internal/logging"
	"github.com/previsio/previsio/internal/repository"
)

type DepositRequest struct {
	UserID         uuid.UUID
	Amount         int64
	Currency       domain.Currency
	Method         domain.PaymentMethod
	IdempotencyKey string
	PayerEmail     string
	CardToken      string
	Installments   int
}

// CreateDepositIntent registers a deposit and asks the gateway to open a
// payment for it. Retries with the same (user, key) return the original
// intent; reusing a key with different parameters is an error. The intent row
// is written before the gateway call so a crash between the two leaves a
// pending intent that the retry path completes.
func (s *Service) CreateDepositIntent(ctx context.Context, req DepositRequest) (*domain.PaymentIntent, error) {
	log := logging.FromContext(ctx)

	if req.Amount <= 0 {
		return nil, fmt.Errorf("CreateDepositIntent: %w", domain.ErrInvalidAmount)
	}
	if req.Currency != domain.CurrencyBRL {
		return nil, fmt.Errorf("CreateDepositIntent: %w", domain.ErrInvalidCurrency)
	}
	if req.IdempotencyKey == "" {
		return nil, fmt.Errorf("CreateDepositIntent: idempotency key required: %w", domain.ErrInvalidRequest)
	}

	existing, err := s.checkDepositIdempotency(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("CreateDepositIntent: %w", err)
	}
	if existing != nil {
		log.Info("idempotent replay", "intent_id", existing.ID, "idempotency_key", req.IdempotencyKey)
		return s.completeCheckout(ctx, existing, req)
	}

	now := time.Now().UTC()
	var expiresAt *time.Time
	if req.Method == domain.PaymentMethodPix {
		t := now.Add(time.Duration(s.config.PixExpiryMinutes) * time.Minute)
		expiresAt = &t
	}

	intent := &domain.PaymentIntent{
		ID:             uuid.New(),
		UserID:         req.UserID,
		Provider:       "mercadopago",
		Amount:         req.Amount,
		Currency:       req.Currency,
		Status:         domain.IntentStatusPending,
		IdempotencyKey: req.IdempotencyKey,
		PaymentMethod:  req.Method,
		ExpiresAt:      expiresAt,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.intents.Create(ctx, intent); err != nil {
		if repository.IsUniqueViolation(err) {
			existing, idempErr := s.checkDepositIdempotency(ctx, req)
			if idempErr != nil {
				return nil, fmt.Errorf("CreateDepositIntent: %w", idempErr)
			}
			if existing != nil {
				log.Info("idempotent replay (race)", "intent_id", existing.ID, "idempotency_key", req.IdempotencyKey)
				return s.completeCheckout(ctx, existing, req)
			}
			return nil, fmt.Errorf("CreateDepositIntent: %w", domain.ErrDuplicateIdempotencyKey)
		}
		return nil, fmt.Errorf("CreateDepositIntent: %w", err)
	}

	return s.completeCheckout(ctx, intent, req)
}

func (s *Service) checkDepositIdempotency(ctx context.Context, req DepositRequest) (*domain.PaymentIntent, error) {
	existing, err := s.intents.GetByUserAndKey(ctx, req.UserID, req.IdempotencyKey)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("checkDepositIdempotency: %w", err)
	}

	if existing.Amount == req.Amount &&
		existing.Currency == req.Currency &&
		existing.PaymentMethod == req.Method {
		return existing, nil
	}

	return nil, fmt.Errorf("checkDepositIdempotency: %w", domain.ErrIntentMismatch)
}

// completeCheckout opens the gateway payment if the intent does not carry one
// yet. Terminal intents and intents with checkout details pass through
// untouched.
func (s *Service) completeCheckout(ctx context.Context, intent *domain.PaymentIntent, req DepositRequest) (*domain.PaymentIntent, error) {
	if intent.Status != domain.IntentStatusPending || intent.ExternalPaymentID != nil {
		return intent, nil
	}

	log := logging.FromContext(ctx)

	payment, err := s.gateway.CreatePayment(ctx, gateway.CreatePaymentRequest{
		Amount:            intent.Amount,
		Method:            intent.PaymentMethod,
		ExternalReference: intent.ID.String(),
		PayerEmail:        req.PayerEmail,
		Description:       "Depósito Previsio",
		ExpiresAt:         intent.ExpiresAt,
		CardToken:         req.CardToken,
		Installments:      req.Installments,
	})
	if err != nil {
		// The intent stays pending; a retry with the same key lands back
		// here and tries the gateway again.
		log.Warn("gateway payment creation failed, intent stays pending",
			"intent_id", intent.ID,
			"error", err,
		)
		return nil, fmt.Errorf("completeCheckout: %w", err)
	}

	externalID := fmt.Sprintf("%d", payment.ID)
	intent.ExternalPaymentID = &externalID
	if payment.PointOfInteraction.TransactionData.QRCode != "" {
		qr := payment.PointOfInteraction.TransactionData.QRCode
		qrB64 := payment.PointOfInteraction.TransactionData.QRCodeBase64
		intent.PixQRCode = &qr
		intent.PixQRCodeBase64 = &qrB64
	}
	if url := checkoutURL(payment); url != "" {
		intent.CheckoutURL = &url
	}
	if payment.DateOfExpiration != nil {
		intent.ExpiresAt = payment.DateOfExpiration
	}

	if err := s.intents.UpdateCheckoutDetails(ctx, intent); err != nil {
		// Bookkeeping only: the gateway payment exists and webhooks will
		// still find the intent by external reference.
		log.Warn("failed to persist checkout details", "intent_id", intent.ID, "error", err)
	}

	log.Info("deposit intent created",
		"intent_id", intent.ID,
		"external_payment_id", externalID,
		"method", intent.PaymentMethod,
		"amount", intent.Amount,
	)
	return intent, nil
}

// GetIntentForUser returns the intent, reclassifying pending-past-expiry as
// expired on the way out. The persisted flip is best effort; the read answer
// does not depend on it.
func (s *Service) GetIntentForUser(ctx context.Context, intentID, userID uuid.UUID) (*domain.PaymentIntent, error) {
	intent, err := s.intents.GetByID(ctx, intentID)
	if err != nil {
		return nil, fmt.Errorf("GetIntentForUser: %w", err)
	}
	if intent.UserID != userID {
		return nil, fmt.Errorf("GetIntentForUser: %w", domain.ErrNotFound)
	}

	if intent.Status == domain.IntentStatusPending &&
		intent.ExpiresAt != nil && intent.ExpiresAt.Before(time.Now().UTC()) {
		intent.Status = domain.IntentStatusExpired
		if err := s.ExpireIntent(ctx, intent.ID); err != nil {
			logging.FromContext(ctx).Warn("failed to persist intent expiry", "intent_id", intent.ID, "error", err)
		}
	}
	return intent, nil
}

func checkoutURL(p *gateway.Payment) string {
	if p.TransactionDetails.ExternalResourceURL != "" {
		return p.TransactionDetails.ExternalResourceURL
	}
	return p.PointOfInteraction.TransactionData.TicketURL
}
