package wallet

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/previsio/previsio/internal/config"
	"github.com/previsio/previsio/internal/domain"
	"github.com/previsio/previsio/internal/gateway"
	"github.com/previsio/previsio/internal/logging"
	"github.com/previsio/previsio/internal/metrics"
	"github.com/previsio/previsio/internal/repository"
)

type accountRepo interface {
	Create(ctx context.Context, account *domain.Account) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Account, error)
	GetByUserAndCurrency(ctx context.Context, userID uuid.UUID, currency domain.Currency) (*domain.Account, error)
}

type ledgerRepo interface {
	Create(ctx context.Context, tx *sql.Tx, entry *domain.LedgerEntry) error
	GetByAccountAndKey(ctx context.Context, accountID uuid.UUID, idempotencyKey string) (*domain.LedgerEntry, error)
	GetByAccountID(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]domain.LedgerEntry, error)
	SumByAccountID(ctx context.Context, accountID uuid.UUID) (int64, error)
}

type intentRepo interface {
	Create(ctx context.Context, intent *domain.PaymentIntent) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.PaymentIntent, error)
	GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.PaymentIntent, error)
	GetByUserAndKey(ctx context.Context, userID uuid.UUID, idempotencyKey string) (*domain.PaymentIntent, error)
	UpdateCheckoutDetails(ctx context.Context, intent *domain.PaymentIntent) error
	TransitionFromPending(ctx context.Context, tx *sql.Tx, id uuid.UUID, status domain.PaymentIntentStatus, externalPaymentID *string) (bool, error)
}

type gatewayClient interface {
	CreatePayment(ctx context.Context, req gateway.CreatePaymentRequest) (*gateway.Payment, error)
}

type Service struct {
	accounts accountRepo
	ledger   ledgerRepo
	intents  intentRepo
	gateway  gatewayClient
	db       *sql.DB
	config   *config.Config
}

func NewService(
	accounts accountRepo,
	ledger ledgerRepo,
	intents intentRepo,
	gw gatewayClient,
	db *sql.DB,
	cfg *config.Config,
) *Service {
	return &Service{
		accounts: accounts,
		ledger:   ledger,
		intents:  intents,
		gateway:  gw,
		db:       db,
		config:   cfg,
	}
}

// EnsureAccount returns the user's wallet for the currency, creating it on
// first touch. A concurrent first touch loses the insert race on the unique
// (user_id, currency) index and re-reads the winner's row.
func (s *Service) EnsureAccount(ctx context.Context, userID uuid.UUID, currency domain.Currency) (*domain.Account, error) {
	acct, err := s.accounts.GetByUserAndCurrency(ctx, userID, currency)
	if err == nil {
		return acct, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("EnsureAccount: %w", err)
	}

	acct = &domain.Account{
		ID:        uuid.New(),
		UserID:    userID,
		Currency:  currency,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.accounts.Create(ctx, acct); err != nil {
		if repository.IsUniqueViolation(err) {
			existing, getErr := s.accounts.GetByUserAndCurrency(ctx, userID, currency)
			if getErr != nil {
				return nil, fmt.Errorf("EnsureAccount: %w", getErr)
			}
			return existing, nil
		}
		return nil, fmt.Errorf("EnsureAccount: %w", err)
	}
	return acct, nil
}

// Balance is derived, never stored: the sum of all ledger entries.
func (s *Service) Balance(ctx context.Context, userID uuid.UUID, currency domain.Currency) (int64, error) {
	acct, err := s.accounts.GetByUserAndCurrency(ctx, userID, currency)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("Balance: %w", err)
	}

	sum, err := s.ledger.SumByAccountID(ctx, acct.ID)
	if err != nil {
		return 0, fmt.Errorf("Balance: %w", err)
	}
	return sum, nil
}

// Statement lists the user's ledger entries, newest first. A user with no
// account yet gets an empty statement.
func (s *Service) Statement(ctx context.Context, userID uuid.UUID, currency domain.Currency, limit, offset int) ([]domain.LedgerEntry, error) {
	acct, err := s.accounts.GetByUserAndCurrency(ctx, userID, currency)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("Statement: %w", err)
	}

	entries, err := s.ledger.GetByAccountID(ctx, acct.ID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("Statement: %w", err)
	}
	return entries, nil
}

type PostEntryRequest struct {
	AccountID      uuid.UUID
	EntryType      domain.EntryType
	Amount         int64
	ReferenceType  *domain.ReferenceType
	ReferenceID    *uuid.UUID
	IdempotencyKey string
}

// PostEntry appends a ledger entry. The bool reports whether a new entry was
// written: false means the idempotency key was already spent and the existing
// entry is returned instead. Amount zero is rejected; sign is the caller's
// responsibility.
func (s *Service) PostEntry(ctx context.Context, req PostEntryRequest) (*domain.LedgerEntry, bool, error) {
	if req.Amount == 0 {
		return nil, false, fmt.Errorf("PostEntry: %w", domain.ErrInvalidAmount)
	}
	if !req.EntryType.IsValid() {
		return nil, false, fmt.Errorf("PostEntry: %q: %w", req.EntryType, domain.ErrInvalidRequest)
	}
	if req.IdempotencyKey == "" {
		return nil, false, fmt.Errorf("PostEntry: idempotency key required: %w", domain.ErrInvalidRequest)
	}

	entry := &domain.LedgerEntry{
		ID:             uuid.New(),
		AccountID:      req.AccountID,
		EntryType:      req.EntryType,
		Amount:         req.Amount,
		ReferenceType:  req.ReferenceType,
		ReferenceID:    req.ReferenceID,
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      time.Now().UTC(),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("PostEntry: begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := s.ledger.Create(ctx, tx, entry); err != nil {
		if repository.IsUniqueViolation(err) {
			existing, getErr := s.ledger.GetByAccountAndKey(ctx, req.AccountID, req.IdempotencyKey)
			if getErr != nil {
				return nil, false, fmt.Errorf("PostEntry: %w", getErr)
			}
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("PostEntry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("PostEntry: commit: %w", err)
	}

	metrics.LedgerEntriesCreated.WithLabelValues(string(req.EntryType)).Inc()
	return entry, true, nil
}

// ConfirmDeposit credits the wallet for an approved gateway payment and
// ratchets the intent to approved, atomically. The bool reports whether this
// call did the crediting; false means someone already had. Exactly one credit
// per intent is enforced twice over, by the row lock and by the ledger key.
func (s *Service) ConfirmDeposit(ctx context.Context, intentID uuid.UUID, externalPaymentID *string) (*domain.LedgerEntry, bool, error) {
	log := logging.FromContext(ctx)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("ConfirmDeposit: begin tx: %w", err)
	}
	defer tx.Rollback()

	intent, err := s.intents.GetForUpdate(ctx, tx, intentID)
	if err != nil {
		return nil, false, fmt.Errorf("ConfirmDeposit: %w", err)
	}

	key := domain.DepositIdempotencyKey(intent.ID)

	switch intent.Status {
	case domain.IntentStatusApproved:
		// Already confirmed. Surface the original credit.
		acct, err := s.accounts.GetByUserAndCurrency(ctx, intent.UserID, intent.Currency)
		if err != nil {
			return nil, false, fmt.Errorf("ConfirmDeposit: %w", err)
		}
		existing, err := s.ledger.GetByAccountAndKey(ctx, acct.ID, key)
		if err != nil {
			return nil, false, fmt.Errorf("ConfirmDeposit: %w", err)
		}
		return existing, false, nil
	case domain.IntentStatusRejected, domain.IntentStatusExpired:
		return nil, false, fmt.Errorf("ConfirmDeposit: %w", domain.ErrIntentTerminal)
	}

	acct, err := s.EnsureAccount(ctx, intent.UserID, intent.Currency)
	if err != nil {
		return nil, false, fmt.Errorf("ConfirmDeposit: %w", err)
	}

	refType := domain.ReferenceTypePaymentIntent
	refID := intent.ID
	entry := &domain.LedgerEntry{
		ID:             uuid.New(),
		AccountID:      acct.ID,
		EntryType:      domain.EntryTypeDepositGateway,
		Amount:         intent.Amount,
		ReferenceType:  &refType,
		ReferenceID:    &refID,
		IdempotencyKey: key,
		CreatedAt:      time.Now().UTC(),
	}

	if err := s.ledger.Create(ctx, tx, entry); err != nil {
		if repository.IsUniqueViolation(err) {
			// The key was spent outside this intent's normal lifecycle.
			// Whoever wrote it owns the credit.
			existing, getErr := s.ledger.GetByAccountAndKey(ctx, acct.ID, key)
			if getErr != nil {
				return nil, false, fmt.Errorf("ConfirmDeposit: %w", getErr)
			}
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("ConfirmDeposit: %w", err)
	}

	moved, err := s.intents.TransitionFromPending(ctx, tx, intent.ID, domain.IntentStatusApproved, externalPaymentID)
	if err != nil {
		return nil, false, fmt.Errorf("ConfirmDeposit: %w", err)
	}
	if !moved {
		// Cannot happen while we hold the row lock, but refuse to credit if
		// the guard disagrees.
		return nil, false, fmt.Errorf("ConfirmDeposit: intent moved under lock: %w", domain.ErrIntentTerminal)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("ConfirmDeposit: commit: %w", err)
	}

	metrics.LedgerEntriesCreated.WithLabelValues(string(domain.EntryTypeDepositGateway)).Inc()
	metrics.DepositsConfirmed.Inc()
	log.Info("deposit confirmed",
		"intent_id", intent.ID,
		"account_id", acct.ID,
		"amount", intent.Amount,
	)
	return entry, true, nil
}

// RejectIntent ratchets a pending intent to rejected. Already-terminal
// intents are left alone.
func (s *Service) RejectIntent(ctx context.Context, intentID uuid.UUID, externalPaymentID *string) error {
	return s.finishIntent(ctx, intentID, domain.IntentStatusRejected, externalPaymentID)
}

// ExpireIntent ratchets a pending intent to expired.
func (s *Service) ExpireIntent(ctx context.Context, intentID uuid.UUID) error {
	return s.finishIntent(ctx, intentID, domain.IntentStatusExpired, nil)
}

func (s *Service) finishIntent(ctx context.Context, intentID uuid.UUID, status domain.PaymentIntentStatus, externalPaymentID *string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("finishIntent: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := s.intents.TransitionFromPending(ctx, tx, intentID, status, externalPaymentID); err != nil {
		return fmt.Errorf("finishIntent: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("finishIntent: commit: %w", err)
	}
	return nil
}
