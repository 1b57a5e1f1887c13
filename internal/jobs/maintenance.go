package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/previsio/previsio/internal/config"
	"github.com/previsio/previsio/internal/logging"
)

type webhookCleaner interface {
	CleanupStale(ctx context.Context, batchSize int) (int, error)
}

type receiptProjector interface {
	BackfillDepositReceipts(ctx context.Context, batchSize int) (int, error)
	BackfillBuyReceipts(ctx context.Context, batchSize int) (int, error)
}

// Maintenance runs the background housekeeping: closing out stale webhook
// events and projecting missing receipts. Each run gets its own timeout so a
// stuck batch cannot pile up behind the schedule.
type Maintenance struct {
	cron     *cron.Cron
	webhooks webhookCleaner
	receipts receiptProjector
	config   *config.Config
	logger   *slog.Logger
}

func NewMaintenance(webhooks webhookCleaner, receipts receiptProjector, cfg *config.Config, logger *slog.Logger) *Maintenance {
	return &Maintenance{
		cron:     cron.New(),
		webhooks: webhooks,
		receipts: receipts,
		config:   cfg,
		logger:   logger,
	}
}

func (m *Maintenance) Start() error {
	if _, err := m.cron.AddFunc(m.config.WebhookCleanupSchedule, m.runCleanup); err != nil {
		return fmt.Errorf("Start: webhook cleanup schedule: %w", err)
	}
	if _, err := m.cron.AddFunc(m.config.ReceiptBackfillSchedule, m.runBackfills); err != nil {
		return fmt.Errorf("Start: receipt backfill schedule: %w", err)
	}

	m.cron.Start()
	m.logger.Info("maintenance scheduler started",
		"webhook_cleanup", m.config.WebhookCleanupSchedule,
		"receipt_backfill", m.config.ReceiptBackfillSchedule,
	)
	return nil
}

// Stop waits for in-flight runs to finish.
func (m *Maintenance) Stop() {
	ctx := m.cron.Stop()
	<-ctx.Done()
	m.logger.Info("maintenance scheduler stopped")
}

func (m *Maintenance) runCleanup() {
	ctx, cancel := m.jobContext()
	defer cancel()

	closed, err := m.webhooks.CleanupStale(ctx, m.config.MaintenanceBatchSize)
	if err != nil {
		m.logger.Error("webhook cleanup failed", "error", err)
		return
	}
	if closed > 0 {
		m.logger.Info("webhook cleanup finished", "closed", closed)
	}
}

func (m *Maintenance) runBackfills() {
	ctx, cancel := m.jobContext()
	defer cancel()

	if _, err := m.receipts.BackfillDepositReceipts(ctx, m.config.MaintenanceBatchSize); err != nil {
		m.logger.Error("deposit receipt backfill failed", "error", err)
	}
	if _, err := m.receipts.BackfillBuyReceipts(ctx, m.config.MaintenanceBatchSize); err != nil {
		m.logger.Error("buy receipt backfill failed", "error", err)
	}
}

func (m *Maintenance) jobContext() (context.Context, context.CancelFunc) {
	ctx := logging.WithLogger(context.Background(), m.logger)
	return context.WithTimeout(ctx, time.Minute)
}
