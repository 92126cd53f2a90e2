package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies RISKBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known RISKBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Venue ──
	setStr(&cfg.Venue.BaseURL, "RISKBOT_VENUE_BASE_URL")
	setStr(&cfg.Venue.ApiKey, "RISKBOT_VENUE_API_KEY")
	setStr(&cfg.Venue.ApiSecret, "RISKBOT_VENUE_API_SECRET")
	setStr(&cfg.Venue.EncryptedSecretPath, "RISKBOT_VENUE_ENCRYPTED_SECRET_PATH")
	setStr(&cfg.Venue.SecretPassword, "RISKBOT_VENUE_SECRET_PASSWORD")
	setDuration(&cfg.Venue.Timeout, "RISKBOT_VENUE_TIMEOUT")

	// ── Model ──
	setStr(&cfg.Model.BaseURL, "RISKBOT_MODEL_BASE_URL")
	setDuration(&cfg.Model.Timeout, "RISKBOT_MODEL_TIMEOUT")
	setBool(&cfg.Model.RLOverride, "RISKBOT_MODEL_RL_OVERRIDE")

	// ── Market data ──
	setStr(&cfg.MarketData.WsURL, "RISKBOT_MARKET_DATA_WS_URL")
	setStringSlice(&cfg.MarketData.Symbols, "RISKBOT_MARKET_DATA_SYMBOLS")
	setDuration(&cfg.MarketData.MaxStaleness, "RISKBOT_MARKET_DATA_MAX_STALENESS")
	setInt(&cfg.MarketData.HistoryDepth, "RISKBOT_MARKET_DATA_HISTORY_DEPTH")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "RISKBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "RISKBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "RISKBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "RISKBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "RISKBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "RISKBOT_REDIS_TLS_ENABLED")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "RISKBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "RISKBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "RISKBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "RISKBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "RISKBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "RISKBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "RISKBOT_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "RISKBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "RISKBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "RISKBOT_POSTGRES_RUN_MIGRATIONS")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "RISKBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "RISKBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "RISKBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "RISKBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "RISKBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "RISKBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "RISKBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "RISKBOT_S3_FORCE_PATH_STYLE")

	// ── Risk ──
	setFloat64(&cfg.Risk.Equity, "RISKBOT_RISK_EQUITY")
	setFloat64(&cfg.Risk.Leverage, "RISKBOT_RISK_LEVERAGE")
	setFloat64(&cfg.Risk.BaseRisk, "RISKBOT_RISK_BASE_RISK")
	setFloat64(&cfg.Risk.MinRisk, "RISKBOT_RISK_MIN_RISK")
	setFloat64(&cfg.Risk.MaxRisk, "RISKBOT_RISK_MAX_RISK")
	setFloat64(&cfg.Risk.VolThreshold, "RISKBOT_RISK_VOL_THRESHOLD")
	setInt(&cfg.Risk.MaxPositions, "RISKBOT_RISK_MAX_POSITIONS")
	setFloat64(&cfg.Risk.SLMultiplier, "RISKBOT_RISK_SL_MULTIPLIER")
	setFloat64(&cfg.Risk.TPMultiplier, "RISKBOT_RISK_TP_MULTIPLIER")
	setFloat64(&cfg.Risk.TrailMultiplier, "RISKBOT_RISK_TRAIL_MULTIPLIER")
	setFloat64(&cfg.Risk.BreakevenTrigger, "RISKBOT_RISK_BREAKEVEN_TRIGGER")
	setFloat64(&cfg.Risk.BreakevenPercent, "RISKBOT_RISK_BREAKEVEN_PERCENT")

	// ── Arbiter ──
	setFloat64(&cfg.Arbiter.ModelWeight, "RISKBOT_ARBITER_MODEL_WEIGHT")
	setFloat64(&cfg.Arbiter.TrendWeight, "RISKBOT_ARBITER_TREND_WEIGHT")
	setFloat64(&cfg.Arbiter.LongThreshold, "RISKBOT_ARBITER_LONG_THRESHOLD")
	setFloat64(&cfg.Arbiter.ShortThreshold, "RISKBOT_ARBITER_SHORT_THRESHOLD")
	setFloat64(&cfg.Arbiter.OverrideMinConf, "RISKBOT_ARBITER_OVERRIDE_MIN_CONF")
	setFloat64(&cfg.Arbiter.ReverseMargin, "RISKBOT_ARBITER_REVERSE_MARGIN")
	setBool(&cfg.Arbiter.AdaptThresholds, "RISKBOT_ARBITER_ADAPT_THRESHOLDS")
	setInt(&cfg.Arbiter.TrendLookback, "RISKBOT_ARBITER_TREND_LOOKBACK")

	// ── Monitor ──
	setDuration(&cfg.Monitor.ReturnWindow, "RISKBOT_MONITOR_RETURN_WINDOW")
	setDuration(&cfg.Monitor.CheckInterval, "RISKBOT_MONITOR_CHECK_INTERVAL")
	setFloat64(&cfg.Monitor.SharpeFloor, "RISKBOT_MONITOR_SHARPE_FLOOR")
	setFloat64(&cfg.Monitor.VolShiftRatio, "RISKBOT_MONITOR_VOL_SHIFT_RATIO")
	setBool(&cfg.Monitor.RetrainEnabled, "RISKBOT_MONITOR_RETRAIN_ENABLED")
	setDuration(&cfg.Monitor.MinRetrainGap, "RISKBOT_MONITOR_MIN_RETRAIN_GAP")

	// ── Engine ──
	setDuration(&cfg.Engine.TickInterval, "RISKBOT_ENGINE_TICK_INTERVAL")
	setDuration(&cfg.Engine.ScanInterval, "RISKBOT_ENGINE_SCAN_INTERVAL")
	setStr(&cfg.Engine.StatePath, "RISKBOT_ENGINE_STATE_PATH")
	setDuration(&cfg.Engine.PersistInterval, "RISKBOT_ENGINE_PERSIST_INTERVAL")
	setInt(&cfg.Engine.OrderRetries, "RISKBOT_ENGINE_ORDER_RETRIES")
	setDuration(&cfg.Engine.RetryBackoff, "RISKBOT_ENGINE_RETRY_BACKOFF")
	setDuration(&cfg.Engine.ArchiveInterval, "RISKBOT_ENGINE_ARCHIVE_INTERVAL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "RISKBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "RISKBOT_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "RISKBOT_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "RISKBOT_SERVER_API_KEY")
	setBool(&cfg.Server.Metrics, "RISKBOT_SERVER_METRICS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "RISKBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "RISKBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "RISKBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "RISKBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "RISKBOT_MODE")
	setStr(&cfg.LogLevel, "RISKBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
