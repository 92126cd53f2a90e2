// Package config defines the top-level configuration for the risk engine
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by RISKBOT_* environment variables.
type Config struct {
	Venue      VenueConfig      `toml:"venue"`
	Model      ModelConfig      `toml:"model"`
	MarketData MarketDataConfig `toml:"market_data"`
	Redis      RedisConfig      `toml:"redis"`
	Postgres   PostgresConfig   `toml:"postgres"`
	S3         S3Config         `toml:"s3"`
	Risk       RiskConfig       `toml:"risk"`
	Arbiter    ArbiterConfig    `toml:"arbiter"`
	Monitor    MonitorConfig    `toml:"monitor"`
	Engine     EngineConfig     `toml:"engine"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// VenueConfig holds trading venue endpoints and credentials.
type VenueConfig struct {
	BaseURL             string   `toml:"base_url"`
	ApiKey              string   `toml:"api_key"`
	ApiSecret           string   `toml:"api_secret"`
	EncryptedSecretPath string   `toml:"encrypted_secret_path"`
	SecretPassword      string   `toml:"secret_password"`
	Timeout             duration `toml:"timeout"`
}

// ModelConfig holds the prediction service endpoint.
type ModelConfig struct {
	BaseURL    string   `toml:"base_url"`
	Timeout    duration `toml:"timeout"`
	RLOverride bool     `toml:"rl_override"`
}

// MarketDataConfig holds the indicator feed parameters. Indicators are
// computed by an upstream collaborator and consumed over websocket.
type MarketDataConfig struct {
	WsURL        string   `toml:"ws_url"`
	Symbols      []string `toml:"symbols"`
	MaxStaleness duration `toml:"max_staleness"`
	HistoryDepth int      `toml:"history_depth"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// PostgresConfig holds trade journal connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// RiskConfig holds sizing and position lifecycle parameters.
type RiskConfig struct {
	Equity           float64 `toml:"equity"`
	Leverage         float64 `toml:"leverage"`
	BaseRisk         float64 `toml:"base_risk"`
	MinRisk          float64 `toml:"min_risk"`
	MaxRisk          float64 `toml:"max_risk"`
	VolThreshold     float64 `toml:"vol_threshold"`
	VolScalarMin     float64 `toml:"vol_scalar_min"`
	VolScalarMax     float64 `toml:"vol_scalar_max"`
	MaxPositions     int     `toml:"max_positions"`
	SLMultiplier     float64 `toml:"sl_multiplier"`
	TPMultiplier     float64 `toml:"tp_multiplier"`
	TrailMultiplier  float64 `toml:"trail_multiplier"`
	BreakevenTrigger float64 `toml:"breakeven_trigger"`
	BreakevenPercent float64 `toml:"breakeven_percent"`
}

// ArbiterConfig holds signal arbitration weights and thresholds.
type ArbiterConfig struct {
	ModelWeight       float64 `toml:"model_weight"`
	TrendWeight       float64 `toml:"trend_weight"`
	LongThreshold     float64 `toml:"long_threshold"`
	ShortThreshold    float64 `toml:"short_threshold"`
	OverrideMinConf   float64 `toml:"override_min_conf"`
	ReverseMargin     float64 `toml:"reverse_margin"`
	AdaptThresholds   bool    `toml:"adapt_thresholds"`
	TrendLookback     int     `toml:"trend_lookback"`
	PullbackTolerance float64 `toml:"pullback_tolerance"`
}

// MonitorConfig holds performance monitoring parameters.
type MonitorConfig struct {
	ReturnWindow    duration `toml:"return_window"`
	CheckInterval   duration `toml:"check_interval"`
	SharpeFloor     float64  `toml:"sharpe_floor"`
	VolShiftRatio   float64  `toml:"vol_shift_ratio"`
	RetrainEnabled  bool     `toml:"retrain_enabled"`
	MinRetrainGap   duration `toml:"min_retrain_gap"`
	AnnualizeFactor float64  `toml:"annualize_factor"`
}

// EngineConfig holds scheduler and persistence parameters.
type EngineConfig struct {
	TickInterval    duration `toml:"tick_interval"`
	ScanInterval    duration `toml:"scan_interval"`
	StatePath       string   `toml:"state_path"`
	PersistInterval duration `toml:"persist_interval"`
	OrderRetries    int      `toml:"order_retries"`
	RetryBackoff    duration `toml:"retry_backoff"`
	ArchiveInterval duration `toml:"archive_interval"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters. An empty APIKey disables
// authentication on the control endpoints.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	Metrics     bool     `toml:"metrics"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Venue: VenueConfig{
			BaseURL: "https://api.example-exchange.com",
			Timeout: duration{10 * time.Second},
		},
		Model: ModelConfig{
			BaseURL:    "http://localhost:8501",
			Timeout:    duration{5 * time.Second},
			RLOverride: true,
		},
		MarketData: MarketDataConfig{
			WsURL:        "ws://localhost:8600/indicators",
			Symbols:      []string{"BTCUSD", "ETHUSD"},
			MaxStaleness: duration{2 * time.Minute},
			HistoryDepth: 200,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "riskbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "riskbot-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Risk: RiskConfig{
			Equity:           10_000,
			Leverage:         3,
			BaseRisk:         0.01,
			MinRisk:          0.002,
			MaxRisk:          0.03,
			VolThreshold:     0.02,
			VolScalarMin:     0.5,
			VolScalarMax:     1.5,
			MaxPositions:     5,
			SLMultiplier:     2.0,
			TPMultiplier:     3.0,
			TrailMultiplier:  1.5,
			BreakevenTrigger: 1.0,
			BreakevenPercent: 0.01,
		},
		Arbiter: ArbiterConfig{
			ModelWeight:       0.6,
			TrendWeight:       0.4,
			LongThreshold:     0.55,
			ShortThreshold:    0.60,
			OverrideMinConf:   0.8,
			ReverseMargin:     0.1,
			AdaptThresholds:   true,
			TrendLookback:     20,
			PullbackTolerance: 0.003,
		},
		Monitor: MonitorConfig{
			ReturnWindow:    duration{24 * time.Hour},
			CheckInterval:   duration{5 * time.Minute},
			SharpeFloor:     0.0,
			VolShiftRatio:   1.5,
			RetrainEnabled:  true,
			MinRetrainGap:   duration{6 * time.Hour},
			AnnualizeFactor: 365,
		},
		Engine: EngineConfig{
			TickInterval:    duration{15 * time.Second},
			ScanInterval:    duration{1 * time.Minute},
			StatePath:       "data/state.json",
			PersistInterval: duration{30 * time.Second},
			OrderRetries:    3,
			RetryBackoff:    duration{500 * time.Millisecond},
			ArchiveInterval: duration{24 * time.Hour},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000"},
			Metrics:     true,
		},
		Notify: NotifyConfig{
			Events: []string{"position.opened", "position.closed", "order.retry_exhausted"},
		},
		Mode:     "paper",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade":   true,
	"paper":   true,
	"monitor": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, paper, monitor)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Venue credentials are only required when live orders will be sent.
	if strings.ToLower(c.Mode) == "trade" {
		if c.Venue.BaseURL == "" {
			errs = append(errs, "venue: base_url must not be empty for mode trade")
		}
		if c.Venue.ApiKey == "" {
			errs = append(errs, "venue: api_key is required for mode trade")
		}
		if c.Venue.ApiSecret == "" && c.Venue.EncryptedSecretPath == "" {
			errs = append(errs, "venue: either api_secret or encrypted_secret_path must be set for mode trade")
		}
		if c.Venue.EncryptedSecretPath != "" && c.Venue.SecretPassword == "" {
			errs = append(errs, "venue: secret_password is required when encrypted_secret_path is set")
		}
	}

	// Model
	if c.Model.BaseURL == "" {
		errs = append(errs, "model: base_url must not be empty")
	}

	// Market data
	if c.MarketData.WsURL == "" {
		errs = append(errs, "market_data: ws_url must not be empty")
	}
	if len(c.MarketData.Symbols) == 0 {
		errs = append(errs, "market_data: at least one symbol must be configured")
	}
	if c.MarketData.MaxStaleness.Duration <= 0 {
		errs = append(errs, "market_data: max_staleness must be positive")
	}
	if c.MarketData.HistoryDepth < 2 {
		errs = append(errs, "market_data: history_depth must be >= 2")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
	}

	// Risk
	if c.Risk.Equity <= 0 {
		errs = append(errs, "risk: equity must be > 0")
	}
	if c.Risk.Leverage <= 0 {
		errs = append(errs, "risk: leverage must be > 0")
	}
	if c.Risk.BaseRisk <= 0 || c.Risk.BaseRisk >= 1 {
		errs = append(errs, "risk: base_risk must be in (0, 1)")
	}
	if c.Risk.MinRisk <= 0 || c.Risk.MinRisk > c.Risk.MaxRisk {
		errs = append(errs, "risk: min_risk must be > 0 and <= max_risk")
	}
	if c.Risk.MaxPositions < 1 {
		errs = append(errs, "risk: max_positions must be >= 1")
	}
	if c.Risk.SLMultiplier <= 0 {
		errs = append(errs, "risk: sl_multiplier must be > 0")
	}
	if c.Risk.TPMultiplier <= 0 {
		errs = append(errs, "risk: tp_multiplier must be > 0")
	}
	if c.Risk.TrailMultiplier <= 0 {
		errs = append(errs, "risk: trail_multiplier must be > 0")
	}
	if c.Risk.BreakevenPercent < 0 || c.Risk.BreakevenPercent >= 1 {
		errs = append(errs, "risk: breakeven_percent must be in [0, 1)")
	}
	if c.Risk.VolThreshold <= 0 {
		errs = append(errs, "risk: vol_threshold must be > 0")
	}
	if c.Risk.VolScalarMin <= 0 || c.Risk.VolScalarMin > c.Risk.VolScalarMax {
		errs = append(errs, "risk: vol_scalar_min must be > 0 and <= vol_scalar_max")
	}

	// Arbiter
	if c.Arbiter.ModelWeight < 0 || c.Arbiter.TrendWeight < 0 {
		errs = append(errs, "arbiter: weights must be >= 0")
	}
	if c.Arbiter.ModelWeight+c.Arbiter.TrendWeight <= 0 {
		errs = append(errs, "arbiter: total weight must be > 0")
	}
	if c.Arbiter.LongThreshold <= 0 || c.Arbiter.LongThreshold >= 1 {
		errs = append(errs, "arbiter: long_threshold must be in (0, 1)")
	}
	if c.Arbiter.ShortThreshold <= 0 || c.Arbiter.ShortThreshold >= 1 {
		errs = append(errs, "arbiter: short_threshold must be in (0, 1)")
	}
	if c.Arbiter.TrendLookback < 3 {
		errs = append(errs, "arbiter: trend_lookback must be >= 3")
	}
	if c.Arbiter.ReverseMargin < 0 || c.Arbiter.ReverseMargin >= 1 {
		errs = append(errs, "arbiter: reverse_margin must be in [0, 1)")
	}

	// Monitor
	if c.Monitor.ReturnWindow.Duration <= 0 {
		errs = append(errs, "monitor: return_window must be positive")
	}
	if c.Monitor.CheckInterval.Duration <= 0 {
		errs = append(errs, "monitor: check_interval must be positive")
	}
	if c.Monitor.VolShiftRatio <= 1 {
		errs = append(errs, "monitor: vol_shift_ratio must be > 1")
	}

	// Engine
	if c.Engine.TickInterval.Duration <= 0 {
		errs = append(errs, "engine: tick_interval must be positive")
	}
	if c.Engine.StatePath == "" {
		errs = append(errs, "engine: state_path must not be empty")
	}
	if c.Engine.PersistInterval.Duration <= 0 {
		errs = append(errs, "engine: persist_interval must be positive")
	}
	if c.Engine.OrderRetries < 1 {
		errs = append(errs, "engine: order_retries must be >= 1")
	}
	if c.Engine.RetryBackoff.Duration <= 0 {
		errs = append(errs, "engine: retry_backoff must be positive")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
