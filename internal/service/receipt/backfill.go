package receipt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/previsio/previsio/internal/domain"
	"github.com/previsio/previsio/internal/logging"
	"github.com/previsio/previsio/internal/metrics"
	"github.com/previsio/previsio/internal/repository"
)

// contractsPattern recovers the contract count from legacy buy descriptions
// like "Compra de 10 contratos". Rows written after the structured columns
// landed never need it.
var contractsPattern = regexp.MustCompile(`(\d+)\s+contratos?`)

// BackfillDepositReceipts projects approved intents that have no receipt
// yet. Idempotent: the unique reference on receipts absorbs concurrent runs.
// Per-row failures are logged and skipped so one bad row cannot wedge the
// whole batch.
func (s *Service) BackfillDepositReceipts(ctx context.Context, batchSize int) (int, error) {
	log := logging.FromContext(ctx)

	intents, err := s.intents.GetApprovedWithoutReceipt(ctx, batchSize)
	if err != nil {
		return 0, fmt.Errorf("BackfillDepositReceipts: %w", err)
	}

	created := 0
	for _, intent := range intents {
		if err := s.projectDeposit(ctx, &intent); err != nil {
			if repository.IsUniqueViolation(err) {
				continue
			}
			log.Warn("deposit receipt projection failed", "intent_id", intent.ID, "error", err)
			continue
		}
		created++
		metrics.ReceiptsProjected.WithLabelValues(string(domain.ReceiptTypeDeposit)).Inc()
	}

	if created > 0 {
		log.Info("deposit receipts projected", "count", created)
	}
	return created, nil
}

func (s *Service) projectDeposit(ctx context.Context, intent *domain.PaymentIntent) error {
	// Prefer the ledger entry's timestamp and id as the receipt anchor; fall
	// back to the intent itself for credits recorded out of band.
	refType := domain.ReferenceTypePaymentIntent
	refID := intent.ID
	createdAt := intent.UpdatedAt

	entry, err := s.ledger.GetByReference(ctx, domain.ReferenceTypePaymentIntent, intent.ID)
	if err == nil {
		refType = domain.ReferenceTypeLedgerEntry
		refID = entry.ID
		createdAt = entry.CreatedAt
	} else if !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("projectDeposit: %w", err)
	}

	exists, err := s.receipts.ExistsForReference(ctx, refID)
	if err != nil {
		return fmt.Errorf("projectDeposit: %w", err)
	}
	if exists {
		return nil
	}

	providerPaymentID, providerPaymentIDText := parseProviderPaymentID(intent.ExternalPaymentID)
	description := "Depósito via " + providerLabel(intent.Provider)
	intentID := intent.ID
	method := intent.PaymentMethod

	payload, _ := json.Marshal(map[string]any{
		"intent_id": intent.ID,
		"provider":  intent.Provider,
		"method":    intent.PaymentMethod,
	})

	rec := &domain.Receipt{
		ID:                    uuid.New(),
		UserID:                intent.UserID,
		Type:                  domain.ReceiptTypeDeposit,
		Amount:                intent.Amount,
		Currency:              intent.Currency,
		Provider:              &intent.Provider,
		ProviderPaymentID:     providerPaymentID,
		ProviderPaymentIDText: providerPaymentIDText,
		ExternalPaymentID:     intent.ExternalPaymentID,
		PaymentIntentID:       &intentID,
		PaymentMethod:         &method,
		PaymentExpiresAt:      intent.ExpiresAt,
		CheckoutURL:           intent.CheckoutURL,
		Description:           &description,
		ReferenceType:         &refType,
		ReferenceID:           &refID,
		PayloadJSON:           payload,
		CreatedAt:             createdAt,
	}

	if err := s.receipts.Create(ctx, rec); err != nil {
		return fmt.Errorf("projectDeposit: %w", err)
	}
	return nil
}

// BackfillBuyReceipts projects buy transactions that have no receipt yet.
// Contracts and unit price come from the structured columns when present;
// legacy rows fall back to parsing the description text.
func (s *Service) BackfillBuyReceipts(ctx context.Context, batchSize int) (int, error) {
	log := logging.FromContext(ctx)

	txs, err := s.transactions.GetBuysWithoutReceipt(ctx, batchSize)
	if err != nil {
		return 0, fmt.Errorf("BackfillBuyReceipts: %w", err)
	}

	markets, err := s.marketsFor(ctx, txs)
	if err != nil {
		return 0, fmt.Errorf("BackfillBuyReceipts: %w", err)
	}

	created := 0
	for _, tx := range txs {
		if err := s.projectBuy(ctx, &tx, markets); err != nil {
			if repository.IsUniqueViolation(err) {
				continue
			}
			log.Warn("buy receipt projection failed", "transaction_id", tx.ID, "error", err)
			continue
		}
		created++
		metrics.ReceiptsProjected.WithLabelValues(string(domain.ReceiptTypeBuy)).Inc()
	}

	if created > 0 {
		log.Info("buy receipts projected", "count", created)
	}
	return created, nil
}

func (s *Service) projectBuy(ctx context.Context, tx *domain.Transaction, markets map[uuid.UUID]domain.Market) error {
	amount := -tx.NetAmount

	// Anchor on the ledger debit the buy produced when one can be found;
	// legacy buys without a matching entry anchor on the transaction itself.
	refType := domain.ReferenceTypeMarketTransaction
	refID := tx.ID
	if entry := s.findBuyEntry(ctx, tx, amount); entry != nil {
		refType = domain.ReferenceTypeLedgerEntry
		refID = entry.ID
	}

	exists, err := s.receipts.ExistsForReference(ctx, refID)
	if err != nil {
		return fmt.Errorf("projectBuy: %w", err)
	}
	if exists {
		return nil
	}

	description := tx.Description
	if description != nil {
		localized := LocalizeYesNo(*description)
		description = &localized
	}

	contracts, unitPrice := buyBreakdown(tx)

	rec := &domain.Receipt{
		ID:            uuid.New(),
		UserID:        tx.UserID,
		Type:          domain.ReceiptTypeBuy,
		Amount:        amount,
		Currency:      domain.CurrencyBRL,
		MarketID:      tx.MarketID,
		Description:   description,
		Contracts:     contracts,
		UnitPrice:     unitPrice,
		ReferenceType: &refType,
		ReferenceID:   &refID,
		CreatedAt:     tx.CreatedAt,
	}

	if tx.MarketID != nil {
		if m, ok := markets[*tx.MarketID]; ok {
			title := m.Title
			rec.MarketTitleSnapshot = &title
			rec.MarketSlugSnapshot = m.Slug
		}
	}

	payload, _ := json.Marshal(map[string]any{
		"transaction_id": tx.ID,
		"market_id":      tx.MarketID,
	})
	rec.PayloadJSON = payload

	if err := s.receipts.Create(ctx, rec); err != nil {
		return fmt.Errorf("projectBuy: %w", err)
	}
	return nil
}

// findBuyEntry locates the ledger debit behind a buy so the receipt can
// anchor on it. Best effort: a user without a wallet or without a matching
// entry just gets no anchor.
func (s *Service) findBuyEntry(ctx context.Context, tx *domain.Transaction, amount int64) *domain.LedgerEntry {
	acct, err := s.accounts.GetByUserAndCurrency(ctx, tx.UserID, domain.CurrencyBRL)
	if err != nil {
		return nil
	}
	entry, err := s.ledger.FindForBuy(ctx, acct.ID, amount, tx.CreatedAt)
	if err != nil {
		return nil
	}
	return entry
}

func (s *Service) marketsFor(ctx context.Context, txs []domain.Transaction) (map[uuid.UUID]domain.Market, error) {
	seen := make(map[uuid.UUID]struct{})
	var ids []uuid.UUID
	for _, tx := range txs {
		if tx.MarketID == nil {
			continue
		}
		if _, ok := seen[*tx.MarketID]; ok {
			continue
		}
		seen[*tx.MarketID] = struct{}{}
		ids = append(ids, *tx.MarketID)
	}
	return s.markets.GetByIDs(ctx, ids)
}

// buyBreakdown returns (contracts, unit price in centavos) for a buy,
// preferring the structured columns and deriving from the description text
// for legacy rows.
func buyBreakdown(tx *domain.Transaction) (*int, *int64) {
	if tx.Contracts != nil && tx.UnitPrice != nil {
		return tx.Contracts, tx.UnitPrice
	}

	if tx.Description == nil {
		return tx.Contracts, tx.UnitPrice
	}
	m := contractsPattern.FindStringSubmatch(*tx.Description)
	if m == nil {
		return tx.Contracts, tx.UnitPrice
	}

	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return tx.Contracts, tx.UnitPrice
	}

	unit := tx.NetAmount / int64(n)
	return &n, &unit
}

func providerLabel(provider string) string {
	switch provider {
	case "mercadopago":
		return "Mercado Pago"
	default:
		return provider
	}
}

// yesNoReplacer rewrites the english outcome labels legacy buy descriptions
// carry into pt-BR. The "contratos" forms come first so the bare
// replacements cannot shadow them.
var yesNoReplacer = strings.NewReplacer(
	" contratos yes", " contratos sim",
	" contratos no", " contratos não",
	" yes", " sim",
	" no", " não",
)

// LocalizeYesNo localizes the outcome label in a buy description.
func LocalizeYesNo(description string) string {
	return yesNoReplacer.Replace(description)
}
