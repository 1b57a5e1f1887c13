package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/previsio/previsio/internal/config"
	"github.com/previsio/previsio/internal/gateway"
	"github.com/previsio/previsio/internal/handler"
	"github.com/previsio/previsio/internal/jobs"
	"github.com/previsio/previsio/internal/logging"
	"github.com/previsio/previsio/internal/metrics"
	"github.com/previsio/previsio/internal/middleware"
	"github.com/previsio/previsio/internal/repository"
	"github.com/previsio/previsio/internal/service/receipt"
	"github.com/previsio/previsio/internal/service/reconcile"
	"github.com/previsio/previsio/internal/service/wallet"
	"github.com/previsio/previsio/internal/service/webhookstore"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.Init("previsio-api", cfg.LogLevel, cfg.AppEnv)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	db, err := repository.NewPostgresDB(ctx, cfg.DatabaseURL, repository.PoolConfig{
		MaxOpenConns:     cfg.DBMaxOpenConns,
		MaxIdleConns:     cfg.DBMaxIdleConns,
		ConnMaxLifetimeS: cfg.DBConnMaxLifetimeS,
		ConnMaxIdleTimeS: cfg.DBConnMaxIdleTimeS,
	})
	cancel()
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	accounts := repository.NewAccountRepository(db)
	ledger := repository.NewLedgerRepository(db)
	intents := repository.NewPaymentIntentRepository(db)
	orders := repository.NewOrderRepository(db)
	webhookEvents := repository.NewWebhookEventRepository(db)
	receipts := repository.NewReceiptRepository(db)
	transactions := repository.NewTransactionRepository(db)
	markets := repository.NewMarketRepository(db)

	mpClient := gateway.NewMercadoPagoClient(cfg.MPBaseURL, cfg.MPAccessToken(), cfg.MPWebhookURL)

	walletSvc := wallet.NewService(accounts, ledger, intents, mpClient, db, cfg)
	reconcileSvc := reconcile.NewService(orders)
	webhookSvc := webhookstore.NewService(webhookEvents, time.Duration(cfg.WebhookStaleAfterMinutes)*time.Minute)
	receiptSvc := receipt.NewService(receipts, intents, transactions, ledger, accounts, markets)

	healthHandler := handler.NewHealthHandler(db)
	webhookHandler := handler.NewWebhookHandler(webhookSvc, reconcileSvc, walletSvc, mpClient)
	depositHandler := handler.NewDepositHandler(walletSvc, reconcileSvc, mpClient)
	receiptHandler := handler.NewReceiptHandler(receiptSvc)

	authn := middleware.Auth(cfg.JWTSecret)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthHandler.Liveness)
	mux.HandleFunc("GET /health/ready", healthHandler.Readiness)
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("POST /webhooks/mercadopago", webhookHandler.ReceiveGatewayWebhook)

	mux.Handle("POST /api/deposits", authn(http.HandlerFunc(depositHandler.CreateDeposit)))
	mux.Handle("GET /api/deposits/{id}", authn(http.HandlerFunc(depositHandler.GetDeposit)))
	mux.Handle("GET /api/wallet/balance", authn(http.HandlerFunc(depositHandler.GetBalance)))
	mux.Handle("GET /api/wallet/entries", authn(http.HandlerFunc(depositHandler.GetStatement)))
	mux.Handle("GET /api/receipts", authn(http.HandlerFunc(receiptHandler.ListReceipts)))
	mux.Handle("GET /api/receipts/{id}", authn(http.HandlerFunc(receiptHandler.GetReceipt)))

	root := middleware.Recovery(middleware.RequestID(middleware.Logging(mux)))

	maintenance := jobs.NewMaintenance(webhookSvc, receiptSvc, cfg, logger)
	if err := maintenance.Start(); err != nil {
		slog.Error("failed to start maintenance scheduler", "error", err)
		os.Exit(1)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           root,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("server started", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server")
	maintenance.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}
