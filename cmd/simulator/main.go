// The simulator binary runs the whole swarm in one process: the CSMS
// backend terminating OCPP sessions, the station manager driving the
// virtual fleet against it, the REST control plane, and the read-only
// fleet WebSocket feed.
package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.uber.org/zap"

	"github.com/seu-repo/sigec-swarm/internal/agent"
	"github.com/seu-repo/sigec-swarm/internal/billing"
	"github.com/seu-repo/sigec-swarm/internal/busevents"
	"github.com/seu-repo/sigec-swarm/internal/controlplane"
	"github.com/seu-repo/sigec-swarm/internal/csms"
	"github.com/seu-repo/sigec-swarm/internal/history"
	"github.com/seu-repo/sigec-swarm/internal/manager"
	"github.com/seu-repo/sigec-swarm/internal/metrics"
	"github.com/seu-repo/sigec-swarm/internal/secrets"
	"github.com/seu-repo/sigec-swarm/pkg/config"
)

const (
	serviceName    = "sigec-swarm"
	serviceVersion = "v1.0.0"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	var logger *zap.Logger
	if cfg.App.Environment == "development" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		log.Fatal("Failed to initialize logger:", err)
	}
	defer logger.Sync()

	logger.Info("Starting charging-station swarm simulator",
		zap.String("service", serviceName),
		zap.String("version", serviceVersion),
	)

	// Optional Vault-backed secret resolution; config values are the
	// fallback when Vault is not configured or missing a path.
	if cfg.Vault.Address != "" {
		sm, err := secrets.NewSecretManager(cfg.Vault.Address, cfg.Vault.Token, cfg.Vault.Mount, logger)
		if err != nil {
			logger.Warn("Vault not available, using config values", zap.Error(err))
		} else {
			cfg.CSMS.AuthSecret = sm.CSMSAuthSecret(cfg.CSMS.AuthSecret)
			cfg.Stripe.SecretKey = sm.StripeSecretKey(cfg.Stripe.SecretKey)
			cfg.Database.URL = sm.DatabaseURL(cfg.Database.URL)
		}
	}

	sink := metrics.NewSink()

	// Transaction history is an optional collaborator; the CSMS runs with
	// a no-op store unless a database is configured.
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

	// Fleet event echo (price updates, profile pushes, finalized
	// transactions) onto a broker.
	var bus busevents.MessageQueue
	switch cfg.Bus.Driver {
	case "nats":
		bus, err = busevents.NewNATSBus(cfg.Bus.NATS.URL, cfg.Bus.NATS.MaxReconnects, cfg.Bus.NATS.ReconnectWait, logger)
	case "rabbitmq":
		bus, err = busevents.NewAMQPBus(cfg.Bus.RabbitMQ.URL, logger)
	}
	if err != nil {
		logger.Warn("Event bus not available, running without fleet event echo", zap.Error(err))
		bus = nil
	}
	if bus != nil {
		defer bus.Close()
	}

	backend := csms.NewBackend(csms.Config{
		HeartbeatIntervalSec: cfg.CSMS.HeartbeatIntervalSec,
		ReplaceExisting:      cfg.CSMS.ReplaceExisting,
		AuthSecret:           cfg.CSMS.AuthSecret,
		BlockedIDTags:        cfg.CSMS.BlockedIDTags,
	}, store, sink, logger.Named("csms"))
	if bus != nil {
		backend.SetEventBus(bus)
	}
	go func() {
		if err := backend.Start(cfg.CSMS.Port); err != nil {
			logger.Fatal("OCPP server failed", zap.Error(err))
		}
	}()

	rates := &billing.RateTable{
		PeakRateMultiplier: cfg.Pricing.PeakRateMultiplier,
		Currency:           cfg.Pricing.Currency,
		PeakHoursStart:     cfg.Pricing.PeakHoursStart,
		PeakHoursEnd:       cfg.Pricing.PeakHoursEnd,
	}

	opts := []manager.Option{
		manager.WithSmartCharging(backend),
		manager.WithRates(rates),
	}
	if bus != nil {
		opts = append(opts, manager.WithBus(bus))
	}
	fleet := manager.New(
		manager.DefaultFactory(cfg.Fleet.CSMSBaseURL, sink),
		agentProfiles(cfg.Fleet.Profiles),
		cfg.Fleet.DefaultProfile,
		cfg.Pricing.InitialPrice,
		logger.Named("manager"),
		opts...,
	)
	if cfg.Fleet.InitialCount > 0 {
		go func() {
			if _, err := fleet.Scale(cfg.Fleet.InitialCount, ""); err != nil {
				logger.Error("initial scale failed", zap.Error(err))
			}
		}()
	}

	// Invoice worker: finalized transactions arriving on the bus become
	// Stripe payment intents when invoicing is enabled.
	if cfg.Stripe.Enabled && bus != nil {
		invoicer, err := billing.NewStripeInvoicer(cfg.Stripe.SecretKey, logger.Named("billing"))
		if err != nil {
			logger.Warn("Stripe not configured, running without invoicing", zap.Error(err))
		} else if err := billing.StartInvoiceWorker(bus, rates, fleet.CurrentPrice, invoicer, logger.Named("billing")); err != nil {
			logger.Warn("Invoice worker failed to start", zap.Error(err))
		}
	}

	// Optional Redis cache in front of the snapshot/totals reads.
	var cache *controlplane.SnapshotCache
	if cfg.Redis.URL != "" {
		cache = controlplane.NewSnapshotCache(cfg.Redis.URL, cfg.Redis.SnapshotTTL, logger)
		if cache != nil {
			defer cache.Close()
		}
	}

	app := fiber.New(fiber.Config{
		AppName:               serviceName,
		DisableStartupMessage: true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			if code == fiber.StatusInternalServerError {
				logger.Error("Internal Server Error", zap.Error(err), zap.String("path", c.Path()))
			}
			return c.Status(code).JSON(fiber.Map{"detail": err.Error()})
		},
	})
	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(cfg.ControlAPI.AllowedOrigins, ","),
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PUT, PATCH, DELETE, OPTIONS",
	}))

	app.Get("/health/live", func(c *fiber.Ctx) error {
		return c.SendString("OK")
	})
	app.Get("/health/ready", func(c *fiber.Ctx) error {
		return c.SendString("Ready")
	})
	if cfg.Prometheus.Enabled {
		app.Get(cfg.Prometheus.Path, func(c *fiber.Ctx) error {
			handler := fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler())
			handler(c.Context())
			return nil
		})
	}

	controlplane.NewHandler(fleet, cache, logger.Named("api")).Register(app)
	controlplane.RegisterLogStream(app, fleet, logger.Named("logstream"))

	go func() {
		logger.Info("Starting control API", zap.Int("port", cfg.ControlAPI.Port))
		if err := app.Listen(fmt.Sprintf(":%d", cfg.ControlAPI.Port)); err != nil {
			logger.Fatal("Control API failed", zap.Error(err))
		}
	}()

	// Read-only fleet feed for dashboards, on its own listener.
	stream := controlplane.NewStream(fleet, 2*time.Second, logger.Named("stream"))
	streamSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.ControlAPI.StreamPort),
		Handler: streamMux(stream),
	}
	go func() {
		logger.Info("Starting fleet stream", zap.Int("port", cfg.ControlAPI.StreamPort))
		if err := streamSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Fleet stream failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down simulator...")
	fleet.Shutdown()
	_ = streamSrv.Close()
	_ = app.Shutdown()
	backend.Stop()
	logger.Info("Simulator exited gracefully")
}

func streamMux(stream *controlplane.Stream) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/ws/fleet", stream)
	return mux
}

// agentProfiles converts config presets into agent behavior profiles.
func agentProfiles(presets map[string]config.ProfilePreset) map[string]agent.Profile {
	out := make(map[string]agent.Profile, len(presets))
	for name, p := range presets {
		peak := make(map[int]struct{}, len(p.PeakHours))
		for _, h := range p.PeakHours {
			peak[h] = struct{}{}
		}
		out[name] = agent.Profile{
			Name:                      name,
			ConnectorID:               p.ConnectorID,
			Vendor:                    p.Vendor,
			Model:                     p.Model,
			FirmwareVersion:           p.FirmwareVersion,
			NominalVoltage:            p.NominalVoltage,
			HeartbeatIntervalSec:      p.HeartbeatIntervalSec,
			IdleBetweenSessionsMinSec: p.IdleBetweenSessionsMinSec,
			IdleBetweenSessionsMaxSec: p.IdleBetweenSessionsMaxSec,
			SampleIntervalSec:         p.SampleIntervalSec,
			EnergyStepMinWh:           p.EnergyStepMinWh,
			EnergyStepMaxWh:           p.EnergyStepMaxWh,
			OfflineProbability:        p.OfflineProbability,
			OfflineDurationSec:        p.OfflineDurationSec,
			IDTags:                    p.IDTags,
			ChargeIfPriceBelow:        p.ChargeIfPriceBelow,
			MaxEnergyKWh:              p.MaxEnergyKWh,
			AllowPeakHours:            p.AllowPeakHours,
			PeakHours:                 peak,
		}
	}
	return out
}
