package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"creditledger/internal/config"
	"creditledger/internal/db"
	"creditledger/internal/handlers"
	"creditledger/internal/logging"
	"creditledger/internal/metrics"
	"creditledger/internal/services"
	"creditledger/internal/store"
	"creditledger/internal/websocket"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel, cfg.LogPretty, os.Stdout)

	database, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer database.Close()

	users := store.NewUserStore(database)
	ledgerEntries := store.NewLedgerStore(database)
	codes := store.NewRedeemCodeStore(database)
	admin := store.NewAdminStore(database)
	audit := store.NewAuditStore(database)
	txRunner := db.NewTxRunner(database)
	hub := websocket.NewHub()
	registry := metrics.New()

	ledger := services.NewLedgerService(database, txRunner, users, ledgerEntries, audit, config.EnvBilling{}, hub, registry, logger)
	redeem := services.NewRedeemService(database, txRunner, codes, ledger, audit, logger)

	handler := handlers.New(cfg, ledger, redeem, admin, audit, hub, registry, logger)
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", server.Addr).Str("env", cfg.AppEnv).Msg("credit ledger listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	<-shutdown

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("shutdown error")
	}
	logger.Info().Msg("server stopped")
}
