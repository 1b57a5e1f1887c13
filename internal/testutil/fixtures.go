package testutil

import (
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/previsio/previsio/internal/domain"
)

func SeedTestUser(t *testing.T, db *sql.DB, email, name string) *domain.User {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	u := &domain.User{
		ID:           uuid.New(),
		Email:        email,
		Name:         name,
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UTC(),
	}

	_, err = db.Exec(
		`INSERT INTO users (id, email, name, password_hash, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		u.ID, u.Email, u.Name, u.PasswordHash, u.CreatedAt,
	)
	if err != nil {
		t.Fatalf("seed test user %s: %v", email, err)
	}
	return u
}

func SeedTestAccount(t *testing.T, db *sql.DB, userID uuid.UUID) *domain.Account {
	t.Helper()

	a := &domain.Account{
		ID:        uuid.New(),
		UserID:    userID,
		Currency:  domain.CurrencyBRL,
		CreatedAt: time.Now().UTC(),
	}

	_, err := db.Exec(
		`INSERT INTO accounts (id, user_id, currency, created_at)
		 VALUES ($1, $2, $3, $4)`,
		a.ID, a.UserID, a.Currency, a.CreatedAt,
	)
	if err != nil {
		t.Fatalf("seed test account %s: %v", userID, err)
	}
	return a
}

func SeedPendingIntent(t *testing.T, db *sql.DB, userID uuid.UUID, amount int64, idempotencyKey string) *domain.PaymentIntent {
	t.Helper()

	now := time.Now().UTC()
	i := &domain.PaymentIntent{
		ID:             uuid.New(),
		UserID:         userID,
		Provider:       "mercadopago",
		Amount:         amount,
		Currency:       domain.CurrencyBRL,
		Status:         domain.IntentStatusPending,
		IdempotencyKey: idempotencyKey,
		PaymentMethod:  domain.PaymentMethodPix,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	_, err := db.Exec(
		`INSERT INTO payment_intents (id, user_id, provider, amount, currency, status,
			idempotency_key, payment_method, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		i.ID, i.UserID, i.Provider, i.Amount, i.Currency, i.Status,
		i.IdempotencyKey, i.PaymentMethod, i.CreatedAt, i.UpdatedAt,
	)
	if err != nil {
		t.Fatalf("seed pending intent: %v", err)
	}
	return i
}

func SeedMarket(t *testing.T, db *sql.DB, title, slug string) *domain.Market {
	t.Helper()

	m := &domain.Market{
		ID:        uuid.New(),
		Title:     title,
		Slug:      &slug,
		CreatedAt: time.Now().UTC(),
	}

	_, err := db.Exec(
		`INSERT INTO markets (id, title, slug, created_at) VALUES ($1, $2, $3, $4)`,
		m.ID, m.Title, m.Slug, m.CreatedAt,
	)
	if err != nil {
		t.Fatalf("seed market %s: %v", title, err)
	}
	return m
}

func SeedBuyTransaction(t *testing.T, db *sql.DB, userID uuid.UUID, marketID *uuid.UUID, netAmount int64, description *string, contracts *int, unitPrice *int64) *domain.Transaction {
	t.Helper()

	now := time.Now().UTC()
	tx := &domain.Transaction{
		ID:          uuid.New(),
		UserID:      userID,
		MarketID:    marketID,
		Type:        domain.TransactionTypeBuy,
		Amount:      netAmount,
		NetAmount:   netAmount,
		Description: description,
		Contracts:   contracts,
		UnitPrice:   unitPrice,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	_, err := db.Exec(
		`INSERT INTO transactions (id, user_id, market_id, type, amount, net_amount,
			description, contracts, unit_price, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		tx.ID, tx.UserID, tx.MarketID, tx.Type, tx.Amount, tx.NetAmount,
		tx.Description, tx.Contracts, tx.UnitPrice, tx.CreatedAt, tx.UpdatedAt,
	)
	if err != nil {
		t.Fatalf("seed buy transaction: %v", err)
	}
	return tx
}

func GetLedgerSum(t *testing.T, db *sql.DB, accountID uuid.UUID) int64 {
	t.Helper()

	var sum int64
	err := db.QueryRow(
		`SELECT COALESCE(SUM(amount), 0) FROM ledger_entries WHERE account_id = $1`,
		accountID,
	).Scan(&sum)
	if err != nil {
		t.Fatalf("sum ledger entries for account %s: %v", accountID, err)
	}
	return sum
}

func CountLedgerEntries(t *testing.T, db *sql.DB, accountID uuid.UUID) int {
	t.Helper()

	var count int
	err := db.QueryRow(
		`SELECT COUNT(*) FROM ledger_entries WHERE account_id = $1`,
		accountID,
	).Scan(&count)
	if err != nil {
		t.Fatalf("count ledger entries for account %s: %v", accountID, err)
	}
	return count
}
