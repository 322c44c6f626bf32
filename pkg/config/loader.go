package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")
	viper.AddConfigPath("/app/configs")

	viper.SetEnvPrefix("APP")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Allow common env vars without APP_ prefix for Docker/VM deploys
	viper.BindEnv("fleet.csms_base_url", "CSMS_URL", "APP_FLEET_CSMS_BASE_URL")
	viper.BindEnv("fleet.initial_count", "FLEET_SIZE", "APP_FLEET_INITIAL_COUNT")
	viper.BindEnv("csms.port", "CSMS_PORT", "APP_CSMS_PORT")
	viper.BindEnv("control_api.port", "HTTP_PORT", "APP_CONTROL_API_PORT")
	viper.BindEnv("database.url", "DATABASE_URL", "APP_DATABASE_URL")
	viper.BindEnv("redis.url", "REDIS_URL", "APP_REDIS_URL")
	viper.BindEnv("bus.nats.url", "NATS_URL", "APP_BUS_NATS_URL")
	viper.BindEnv("vault.address", "VAULT_ADDR")
	viper.BindEnv("vault.token", "VAULT_TOKEN")
	viper.BindEnv("stripe.secret_key", "STRIPE_SECRET_KEY")
	viper.BindEnv("app.environment", "APP_ENVIRONMENT")
	viper.BindEnv("logging.level", "LOG_LEVEL")

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// no config file: defaults plus env vars
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if len(cfg.Fleet.Profiles) == 0 {
		cfg.Fleet.Profiles = map[string]ProfilePreset{"standard": StandardProfile()}
	}
	if cfg.Fleet.DefaultProfile == "" {
		cfg.Fleet.DefaultProfile = "standard"
	}
	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("app.name", "sigec-swarm")
	viper.SetDefault("app.environment", "development")
	viper.SetDefault("fleet.csms_base_url", "ws://localhost:9000/ocpp")
	viper.SetDefault("fleet.initial_count", 5)
	viper.SetDefault("csms.port", 9000)
	viper.SetDefault("csms.heartbeat_interval_sec", 300)
	viper.SetDefault("control_api.port", 8080)
	viper.SetDefault("control_api.stream_port", 8081)
	viper.SetDefault("pricing.initial_price", 15)
	viper.SetDefault("pricing.peak_rate_multiplier", 1.5)
	viper.SetDefault("pricing.currency", "BRL")
	viper.SetDefault("pricing.peak_hours_start", 18)
	viper.SetDefault("pricing.peak_hours_end", 21)
	viper.SetDefault("redis.snapshot_ttl", "2s")
	viper.SetDefault("prometheus.enabled", true)
	viper.SetDefault("prometheus.path", "/metrics")
	viper.SetDefault("logging.level", "info")
}

// StandardProfile is the built-in behavior preset used when the config file
// defines none.
func StandardProfile() ProfilePreset {
	return ProfilePreset{
		ConnectorID:               1,
		Vendor:                    "SwarmSim",
		Model:                     "VCP-1",
		FirmwareVersion:           "1.6.0",
		NominalVoltage:            230,
		HeartbeatIntervalSec:      300,
		IdleBetweenSessionsMinSec: 30,
		IdleBetweenSessionsMaxSec: 120,
		SampleIntervalSec:         10,
		EnergyStepMinWh:           50,
		EnergyStepMaxWh:           120,
		OfflineProbability:        0.02,
		OfflineDurationSec:        60,
		IDTags:                    []string{"TAG-0001", "TAG-0002", "TAG-0003"},
		ChargeIfPriceBelow:        20,
		MaxEnergyKWh:              30,
		AllowPeakHours:            false,
		PeakHours:                 []int{18, 19, 20},
	}
}
