// The csms binary runs the CSMS backend alone, for fleets that dial in
// from other hosts or from simulator processes pointed at it.
package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/seu-repo/sigec-swarm/internal/csms"
	"github.com/seu-repo/sigec-swarm/internal/history"
	"github.com/seu-repo/sigec-swarm/internal/metrics"
	"github.com/seu-repo/sigec-swarm/internal/secrets"
	"github.com/seu-repo/sigec-swarm/pkg/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal("Failed to initialize logger:", err)
	}
	defer logger.Sync()

	if cfg.Vault.Address != "" {
		sm, err := secrets.NewSecretManager(cfg.Vault.Address, cfg.Vault.Token, cfg.Vault.Mount, logger)
		if err != nil {
			logger.Warn("Vault not available, using config values", zap.Error(err))
		} else {
			cfg.CSMS.AuthSecret = sm.CSMSAuthSecret(cfg.CSMS.AuthSecret)
			cfg.Database.URL = sm.DatabaseURL(cfg.Database.URL)
		}
	}

	var store csms.HistoryStore
	if cfg.Database.Enabled && cfg.Database.URL != "" {
		pgStore, err := history.NewPostgresStore(cfg.Database.URL, logger)
		if err != nil {
			logger.Warn("History store not available, transactions will not persist", zap.Error(err))
		} else {
			defer pgStore.Close()
			store = pgStore
		}
	}

	backend := csms.NewBackend(csms.Config{
		HeartbeatIntervalSec: cfg.CSMS.HeartbeatIntervalSec,
		ReplaceExisting:      cfg.CSMS.ReplaceExisting,
		AuthSecret:           cfg.CSMS.AuthSecret,
		BlockedIDTags:        cfg.CSMS.BlockedIDTags,
	}, store, metrics.NewSink(), logger)

	go func() {
		if err := backend.Start(cfg.CSMS.Port); err != nil {
			logger.Fatal("OCPP server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down CSMS...")
	backend.Stop()
	logger.Info("CSMS exited gracefully")
}
