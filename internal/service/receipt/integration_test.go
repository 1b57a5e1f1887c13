package receipt_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/previsio/previsio/internal/domain"
	"github.com/previsio/previsio/internal/repository"
	"github.com/previsio/previsio/internal/service/receipt"
	"github.com/previsio/previsio/internal/testutil"
)

func newReceiptService(t *testing.T, db *sql.DB) *receipt.Service {
	t.Helper()
	return receipt.NewService(
		repository.NewReceiptRepository(db),
		repository.NewPaymentIntentRepository(db),
		repository.NewTransactionRepository(db),
		repository.NewLedgerRepository(db),
		repository.NewAccountRepository(db),
		repository.NewMarketRepository(db),
	)
}

// approveIntent flips the intent and writes the deposit credit, the state
// ConfirmDeposit leaves behind.
func approveIntent(t *testing.T, db *sql.DB, intent *domain.PaymentIntent, accountID uuid.UUID) {
	t.Helper()

	externalID := "555000111"
	_, err := db.Exec(
		`UPDATE payment_intents SET status = 'APPROVED', external_payment_id = $1 WHERE id = $2`,
		externalID, intent.ID,
	)
	require.NoError(t, err)

	_, err = db.Exec(
		`INSERT INTO ledger_entries (id, account_id, entry_type, amount, reference_type, reference_id, idempotency_key)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		uuid.New(), accountID, domain.EntryTypeDepositGateway, intent.Amount,
		domain.ReferenceTypePaymentIntent, intent.ID, domain.DepositIdempotencyKey(intent.ID),
	)
	require.NoError(t, err)
}

func TestBackfillDepositReceipts(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := newReceiptService(t, db)
	ctx := context.Background()

	user := testutil.SeedTestUser(t, db, "alice@test.com", "Alice")
	acct := testutil.SeedTestAccount(t, db, user.ID)
	intent := testutil.SeedPendingIntent(t, db, user.ID, 5000, uuid.NewString())
	approveIntent(t, db, intent, acct.ID)

	created, err := svc.BackfillDepositReceipts(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, created)

	page, err := svc.GetReceipts(ctx, user.ID, "", 10)
	require.NoError(t, err)
	require.Len(t, page.Receipts, 1)

	rec := page.Receipts[0]
	assert.Equal(t, domain.ReceiptTypeDeposit, rec.Type)
	assert.Equal(t, int64(5000), rec.Amount)
	require.NotNil(t, rec.Description)
	assert.Equal(t, "Depósito via Mercado Pago", *rec.Description)
	require.NotNil(t, rec.PaymentIntentID)
	assert.Equal(t, intent.ID, *rec.PaymentIntentID)
	require.NotNil(t, rec.ProviderPaymentID)
	assert.Equal(t, int64(555000111), *rec.ProviderPaymentID)
}

func TestBackfillDepositReceipts_RerunCreatesNothing(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := newReceiptService(t, db)
	ctx := context.Background()

	user := testutil.SeedTestUser(t, db, "bob@test.com", "Bob")
	acct := testutil.SeedTestAccount(t, db, user.ID)
	intent := testutil.SeedPendingIntent(t, db, user.ID, 2000, uuid.NewString())
	approveIntent(t, db, intent, acct.ID)

	created, err := svc.BackfillDepositReceipts(ctx, 100)
	require.NoError(t, err)
	require.Equal(t, 1, created)

	created, err = svc.BackfillDepositReceipts(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 0, created)

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM receipts`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestBackfillDepositReceipts_PendingIntentIsSkipped(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := newReceiptService(t, db)

	user := testutil.SeedTestUser(t, db, "carol@test.com", "Carol")
	testutil.SeedPendingIntent(t, db, user.ID, 3000, uuid.NewString())

	created, err := svc.BackfillDepositReceipts(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, 0, created)
}

func TestBackfillBuyReceipts_StructuredFields(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := newReceiptService(t, db)
	ctx := context.Background()

	user := testutil.SeedTestUser(t, db, "dave@test.com", "Dave")
	market := testutil.SeedMarket(t, db, "Eleição 2026", "eleicao-2026")

	desc := "Compra de 10 contratos em Eleição 2026"
	contracts := 10
	unitPrice := int64(250)
	testutil.SeedBuyTransaction(t, db, user.ID, &market.ID, 2500, &desc, &contracts, &unitPrice)

	created, err := svc.BackfillBuyReceipts(ctx, 100)
	require.NoError(t, err)
	require.Equal(t, 1, created)

	page, err := svc.GetReceipts(ctx, user.ID, "", 10)
	require.NoError(t, err)
	require.Len(t, page.Receipts, 1)

	rec := page.Receipts[0]
	assert.Equal(t, domain.ReceiptTypeBuy, rec.Type)
	assert.Equal(t, int64(-2500), rec.Amount)
	require.NotNil(t, rec.Contracts)
	assert.Equal(t, 10, *rec.Contracts)
	require.NotNil(t, rec.UnitPrice)
	assert.Equal(t, int64(250), *rec.UnitPrice)
	require.NotNil(t, rec.MarketTitleSnapshot)
	assert.Equal(t, "Eleição 2026", *rec.MarketTitleSnapshot)
}

func TestBackfillBuyReceipts_LegacyRowParsesDescription(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := newReceiptService(t, db)
	ctx := context.Background()

	user := testutil.SeedTestUser(t, db, "erin@test.com", "Erin")

	desc := "Compra de 4 contratos"
	testutil.SeedBuyTransaction(t, db, user.ID, nil, 1000, &desc, nil, nil)

	created, err := svc.BackfillBuyReceipts(ctx, 100)
	require.NoError(t, err)
	require.Equal(t, 1, created)

	page, err := svc.GetReceipts(ctx, user.ID, "", 10)
	require.NoError(t, err)
	require.Len(t, page.Receipts, 1)

	rec := page.Receipts[0]
	require.NotNil(t, rec.Contracts)
	assert.Equal(t, 4, *rec.Contracts)
	require.NotNil(t, rec.UnitPrice)
	assert.Equal(t, int64(250), *rec.UnitPrice)
}

func TestBackfillBuyReceipts_UnparsableDescriptionStillProjects(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := newReceiptService(t, db)
	ctx := context.Background()

	user := testutil.SeedTestUser(t, db, "frank@test.com", "Frank")

	desc := "Compra avulsa"
	testutil.SeedBuyTransaction(t, db, user.ID, nil, 700, &desc, nil, nil)

	created, err := svc.BackfillBuyReceipts(ctx, 100)
	require.NoError(t, err)
	require.Equal(t, 1, created)

	page, err := svc.GetReceipts(ctx, user.ID, "", 10)
	require.NoError(t, err)
	require.Len(t, page.Receipts, 1)
	assert.Nil(t, page.Receipts[0].Contracts)
	assert.Nil(t, page.Receipts[0].UnitPrice)
}

func TestGetReceipts_CursorPagination(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := newReceiptService(t, db)
	ctx := context.Background()

	user := testutil.SeedTestUser(t, db, "gina@test.com", "Gina")

	// Five receipts with distinct timestamps.
	base := time.Now().UTC().Add(-time.Hour)
	for i := range 5 {
		_, err := db.Exec(
			`INSERT INTO receipts (id, user_id, type, amount, currency, reference_id, created_at)
			 VALUES ($1, $2, 'deposit', $3, 'BRL', $4, $5)`,
			uuid.New(), user.ID, int64(100*(i+1)), uuid.New(), base.Add(time.Duration(i)*time.Minute),
		)
		require.NoError(t, err)
	}

	first, err := svc.GetReceipts(ctx, user.ID, "", 2)
	require.NoError(t, err)
	require.Len(t, first.Receipts, 2)
	require.NotEmpty(t, first.NextCursor)
	assert.Equal(t, int64(500), first.Receipts[0].Amount)
	assert.Equal(t, int64(400), first.Receipts[1].Amount)

	second, err := svc.GetReceipts(ctx, user.ID, first.NextCursor, 2)
	require.NoError(t, err)
	require.Len(t, second.Receipts, 2)
	assert.Equal(t, int64(300), second.Receipts[0].Amount)
	assert.Equal(t, int64(200), second.Receipts[1].Amount)

	third, err := svc.GetReceipts(ctx, user.ID, second.NextCursor, 2)
	require.NoError(t, err)
	require.Len(t, third.Receipts, 1)
	assert.Equal(t, int64(100), third.Receipts[0].Amount)
	assert.Empty(t, third.NextCursor)
}

func TestGetReceipts_InvalidCursor(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := newReceiptService(t, db)

	user := testutil.SeedTestUser(t, db, "hank@test.com", "Hank")

	_, err := svc.GetReceipts(context.Background(), user.ID, "not-a-timestamp", 10)
	assert.ErrorIs(t, err, domain.ErrInvalidCursor)
}

func TestGetReceipt_ScopedToOwner(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := newReceiptService(t, db)
	ctx := context.Background()

	owner := testutil.SeedTestUser(t, db, "ivy@test.com", "Ivy")
	other := testutil.SeedTestUser(t, db, "judy@test.com", "Judy")

	recID := uuid.New()
	_, err := db.Exec(
		`INSERT INTO receipts (id, user_id, type, amount, currency, reference_id)
		 VALUES ($1, $2, 'deposit', 1000, 'BRL', $3)`,
		recID, owner.ID, uuid.New(),
	)
	require.NoError(t, err)

	rec, err := svc.GetReceipt(ctx, recID, owner.ID)
	require.NoError(t, err)
	assert.Equal(t, recID, rec.ID)

	_, err = svc.GetReceipt(ctx, recID, other.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestBackfillBuyReceipts_AnchorsOnMatchingLedgerEntry(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := newReceiptService(t, db)
	ctx := context.Background()

	user := testutil.SeedTestUser(t, db, "kate@test.com", "Kate")
	acct := testutil.SeedTestAccount(t, db, user.ID)

	desc := "Compra de 3 contratos"
	tx := testutil.SeedBuyTransaction(t, db, user.ID, nil, 1500, &desc, nil, nil)

	// The debit the buy wrote: same account, same amount, same moment.
	entryID := uuid.New()
	_, err := db.Exec(
		`INSERT INTO ledger_entries (id, account_id, entry_type, amount, idempotency_key, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		entryID, acct.ID, domain.EntryTypeBetBuy, int64(-1500), "buy:"+tx.ID.String(), tx.CreatedAt,
	)
	require.NoError(t, err)

	created, err := svc.BackfillBuyReceipts(ctx, 100)
	require.NoError(t, err)
	require.Equal(t, 1, created)

	page, err := svc.GetReceipts(ctx, user.ID, "", 10)
	require.NoError(t, err)
	require.Len(t, page.Receipts, 1)

	rec := page.Receipts[0]
	require.NotNil(t, rec.ReferenceType)
	assert.Equal(t, domain.ReferenceTypeLedgerEntry, *rec.ReferenceType)
	require.NotNil(t, rec.ReferenceID)
	assert.Equal(t, entryID, *rec.ReferenceID)
}

func TestBackfillBuyReceipts_LocalizesOutcomeLabels(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := newReceiptService(t, db)
	ctx := context.Background()

	user := testutil.SeedTestUser(t, db, "liam@test.com", "Liam")

	desc := "Compra de 2 contratos yes"
	testutil.SeedBuyTransaction(t, db, user.ID, nil, 500, &desc, nil, nil)

	created, err := svc.BackfillBuyReceipts(ctx, 100)
	require.NoError(t, err)
	require.Equal(t, 1, created)

	page, err := svc.GetReceipts(ctx, user.ID, "", 10)
	require.NoError(t, err)
	require.Len(t, page.Receipts, 1)

	rec := page.Receipts[0]
	require.NotNil(t, rec.Description)
	assert.Equal(t, "Compra de 2 contratos sim", *rec.Description)
	require.NotNil(t, rec.Contracts)
	assert.Equal(t, 2, *rec.Contracts)
}

func TestLocalizeYesNo(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Compra de 5 contratos yes", "Compra de 5 contratos sim"},
		{"Compra de 5 contratos no", "Compra de 5 contratos não"},
		{"Aposta yes em Eleição", "Aposta sim em Eleição"},
		{"Aposta no em Eleição", "Aposta não em Eleição"},
		{"Compra de 5 contratos", "Compra de 5 contratos"},
		{"", ""},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, receipt.LocalizeYesNo(tc.in))
	}
}
