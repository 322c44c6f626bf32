package config

import "time"

type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Fleet      FleetConfig      `mapstructure:"fleet"`
	CSMS       CSMSConfig       `mapstructure:"csms"`
	ControlAPI ControlAPIConfig `mapstructure:"control_api"`
	Pricing    PricingConfig    `mapstructure:"pricing"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Bus        BusConfig        `mapstructure:"bus"`
	Vault      VaultConfig      `mapstructure:"vault"`
	Stripe     StripeConfig     `mapstructure:"stripe"`
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

// FleetConfig shapes the simulated fleet: how many stations to create at
// startup, which behavior preset they get, and where the CSMS lives.
type FleetConfig struct {
	InitialCount   int                      `mapstructure:"initial_count"`
	DefaultProfile string                   `mapstructure:"default_profile"`
	CSMSBaseURL    string                   `mapstructure:"csms_base_url"`
	Profiles       map[string]ProfilePreset `mapstructure:"profiles"`
}

// ProfilePreset is one named station behavior preset.
type ProfilePreset struct {
	ConnectorID     int     `mapstructure:"connector_id"`
	Vendor          string  `mapstructure:"vendor"`
	Model           string  `mapstructure:"model"`
	FirmwareVersion string  `mapstructure:"firmware_version"`
	NominalVoltage  float64 `mapstructure:"nominal_voltage"`

	HeartbeatIntervalSec      int      `mapstructure:"heartbeat_interval_sec"`
	IdleBetweenSessionsMinSec int      `mapstructure:"idle_min_sec"`
	IdleBetweenSessionsMaxSec int      `mapstructure:"idle_max_sec"`
	SampleIntervalSec         int      `mapstructure:"sample_interval_sec"`
	EnergyStepMinWh           float64  `mapstructure:"energy_step_min_wh"`
	EnergyStepMaxWh           float64  `mapstructure:"energy_step_max_wh"`
	OfflineProbability        float64  `mapstructure:"offline_probability"`
	OfflineDurationSec        int      `mapstructure:"offline_duration_sec"`
	IDTags                    []string `mapstructure:"id_tags"`

	ChargeIfPriceBelow float64 `mapstructure:"charge_if_price_below"`
	MaxEnergyKWh       float64 `mapstructure:"max_energy_kwh"`
	AllowPeakHours     bool    `mapstructure:"allow_peak"`
	PeakHours          []int   `mapstructure:"peak_hours"`
}

type CSMSConfig struct {
	Port                 int      `mapstructure:"port"`
	HeartbeatIntervalSec int      `mapstructure:"heartbeat_interval_sec"`
	ReplaceExisting      bool     `mapstructure:"replace_existing"`
	AuthSecret           string   `mapstructure:"auth_secret"`
	BlockedIDTags        []string `mapstructure:"blocked_id_tags"`
}

type ControlAPIConfig struct {
	Port           int      `mapstructure:"port"`
	StreamPort     int      `mapstructure:"stream_port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type PricingConfig struct {
	InitialPrice       float64 `mapstructure:"initial_price"`
	PeakRateMultiplier float64 `mapstructure:"peak_rate_multiplier"`
	Currency           string  `mapstructure:"currency"`
	PeakHoursStart     int     `mapstructure:"peak_hours_start"`
	PeakHoursEnd       int     `mapstructure:"peak_hours_end"`
}

type DatabaseConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

type RedisConfig struct {
	URL         string        `mapstructure:"url"`
	SnapshotTTL time.Duration `mapstructure:"snapshot_ttl"`
}

// BusConfig selects the fleet-event broker. Driver is "nats", "rabbitmq",
// or "" to disable the echo entirely.
type BusConfig struct {
	Driver   string         `mapstructure:"driver"`
	NATS     NATSConfig     `mapstructure:"nats"`
	RabbitMQ RabbitMQConfig `mapstructure:"rabbitmq"`
}

type NATSConfig struct {
	URL           string        `mapstructure:"url"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
}

type RabbitMQConfig struct {
	URL string `mapstructure:"url"`
}

type VaultConfig struct {
	Address string `mapstructure:"address"`
	Token   string `mapstructure:"token"`
	Mount   string `mapstructure:"mount"`
}

type StripeConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	SecretKey string `mapstructure:"secret_key"`
}

type PrometheusConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}
