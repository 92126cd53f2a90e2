package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	s3blob "github.com/driftline/riskbot/internal/blob/s3"
	"github.com/driftline/riskbot/internal/cache/redis"
	"github.com/driftline/riskbot/internal/config"
	"github.com/driftline/riskbot/internal/crypto"
	"github.com/driftline/riskbot/internal/domain"
	"github.com/driftline/riskbot/internal/engine"
	"github.com/driftline/riskbot/internal/feed"
	"github.com/driftline/riskbot/internal/gateway"
	"github.com/driftline/riskbot/internal/lifecycle"
	"github.com/driftline/riskbot/internal/marketdata"
	"github.com/driftline/riskbot/internal/monitor"
	"github.com/driftline/riskbot/internal/notify"
	"github.com/driftline/riskbot/internal/position"
	"github.com/driftline/riskbot/internal/predict"
	"github.com/driftline/riskbot/internal/risk"
	"github.com/driftline/riskbot/internal/server"
	"github.com/driftline/riskbot/internal/server/handler"
	"github.com/driftline/riskbot/internal/signal"
	"github.com/driftline/riskbot/internal/store/postgres"
)

// Dependencies bundles everything the application modes need to run. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Infrastructure
	Redis    *redis.Client
	Bus      *redis.EventBus
	Lock     *redis.LeaderLock
	Postgres *postgres.Client
	Journal  *postgres.TradeJournal

	// Market data
	Cache  *redis.IndicatorCache
	Market *marketdata.Source
	Feed   *feed.IndicatorFeed

	// Trading
	Store     *position.Store
	Persister *position.Persister
	Gateway   domain.OrderGateway
	Monitor   *monitor.Monitor
	Engine    *engine.Engine

	// Surfaces
	Server   *server.Server // nil when the HTTP server is disabled
	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Redis: indicator cache, event bus, leader lock ---
	redisClient, err := redis.New(ctx, redis.FromConfig(cfg.Redis))
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.Redis = redisClient
	deps.Bus = redis.NewEventBus(redisClient)
	deps.Lock = redis.NewLeaderLock(redisClient)
	deps.Cache = redis.NewIndicatorCache(redisClient, cfg.MarketData.HistoryDepth)
	deps.Market = marketdata.NewSource(deps.Cache)
	deps.Feed = feed.NewIndicatorFeed(cfg.MarketData.WsURL, cfg.MarketData.Symbols, deps.Cache, logger)

	// --- PostgreSQL trade journal ---
	pgClient, err := postgres.New(ctx, cfg.Postgres)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}
	deps.Postgres = pgClient
	deps.Journal = postgres.NewTradeJournal(pgClient.Pool())

	// --- S3 blob storage (archival exports) ---
	var archive *s3blob.Archiver
	var s3Client *s3blob.Client
	if cfg.S3.Enabled {
		s3Client, err = s3blob.New(ctx, s3blob.FromConfig(cfg.S3))
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		archive = s3blob.NewArchiver(s3blob.NewWriter(s3Client), deps.Journal)
	}

	// --- Order gateway ---
	gw, err := buildGateway(cfg, logger)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	deps.Gateway = gw

	// --- Position store and snapshot persistence ---
	deps.Store = position.NewStore(cfg.Risk.MaxPositions)
	deps.Persister = position.NewPersister(
		deps.Store,
		cfg.Engine.StatePath,
		cfg.Engine.PersistInterval.Duration,
		logger,
	)
	if err := deps.Persister.Restore(); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: restore snapshot: %w", err)
	}

	// --- Model client, sizing, lifecycle ---
	predictor := predict.NewClient(cfg.Model.BaseURL, cfg.Model.Timeout.Duration)
	sizer := risk.NewSizer(risk.Params{
		BaseRisk:        cfg.Risk.BaseRisk,
		MinRisk:         cfg.Risk.MinRisk,
		MaxRisk:         cfg.Risk.MaxRisk,
		VolThreshold:    cfg.Risk.VolThreshold,
		VolScalarMin:    cfg.Risk.VolScalarMin,
		VolScalarMax:    cfg.Risk.VolScalarMax,
		AnnualizeFactor: cfg.Monitor.AnnualizeFactor,
	})
	lc := lifecycle.NewController(lifecycle.Params{
		SLMultiplier:     cfg.Risk.SLMultiplier,
		TPMultiplier:     cfg.Risk.TPMultiplier,
		TrailMultiplier:  cfg.Risk.TrailMultiplier,
		BreakevenTrigger: cfg.Risk.BreakevenTrigger,
		BreakevenPercent: cfg.Risk.BreakevenPercent,
	})

	// --- Performance monitor ---
	deps.Monitor = monitor.New(monitor.Params{
		ReturnWindow:    cfg.Monitor.ReturnWindow.Duration,
		CheckInterval:   cfg.Monitor.CheckInterval.Duration,
		SharpeFloor:     cfg.Monitor.SharpeFloor,
		VolShiftRatio:   cfg.Monitor.VolShiftRatio,
		RetrainEnabled:  cfg.Monitor.RetrainEnabled,
		MinRetrainGap:   cfg.Monitor.MinRetrainGap.Duration,
		AnnualizeFactor: cfg.Monitor.AnnualizeFactor,
		LongThreshold:   cfg.Arbiter.LongThreshold,
		ShortThreshold:  cfg.Arbiter.ShortThreshold,
	}, deps.Store, predictor, deps.Journal, deps.Bus, logger)

	// --- Signal arbiter ---
	var adapter signal.ThresholdAdapter
	if cfg.Arbiter.AdaptThresholds {
		adapter = deps.Monitor
	}
	arbiter := signal.NewArbiter(signal.Params{
		ModelWeight:     cfg.Arbiter.ModelWeight,
		TrendWeight:     cfg.Arbiter.TrendWeight,
		LongThreshold:   cfg.Arbiter.LongThreshold,
		ShortThreshold:  cfg.Arbiter.ShortThreshold,
		OverrideMinConf: cfg.Arbiter.OverrideMinConf,
		RLOverride:      cfg.Model.RLOverride,
	}, adapter, logger)

	// --- Notifications ---
	deps.Notifier = notify.FromConfig(cfg.Notify, logger)

	// --- Engine ---
	engineDeps := engine.Deps{
		Store:     deps.Store,
		Persister: deps.Persister,
		Sizer:     sizer,
		Lifecycle: lc,
		Arbiter:   arbiter,
		Market:    deps.Market,
		Predictor: predictor,
		Gateway:   deps.Gateway,
		Perf:      deps.Monitor,
		Journal:   deps.Journal,
		Bus:       deps.Bus,
		Notifier:  deps.Notifier,
		StatePath: cfg.Engine.StatePath,
	}
	if archive != nil {
		engineDeps.Archiver = archive
	}
	deps.Engine = engine.New(engine.Params{
		Mode:            strings.ToLower(cfg.Mode),
		Symbols:         cfg.MarketData.Symbols,
		Equity:          cfg.Risk.Equity,
		Leverage:        cfg.Risk.Leverage,
		SLMultiplier:    cfg.Risk.SLMultiplier,
		TPMultiplier:    cfg.Risk.TPMultiplier,
		MaxStaleness:    cfg.MarketData.MaxStaleness.Duration,
		ReturnWindow:    cfg.Monitor.ReturnWindow.Duration,
		TickInterval:    cfg.Engine.TickInterval.Duration,
		ScanInterval:    cfg.Engine.ScanInterval.Duration,
		PersistInterval: cfg.Engine.PersistInterval.Duration,
		ArchiveInterval: cfg.Engine.ArchiveInterval.Duration,
		TrendLookback:   cfg.Arbiter.TrendLookback,
		PullbackTol:     cfg.Arbiter.PullbackTolerance,
		ReverseMargin:   cfg.Arbiter.ReverseMargin,
	}, engineDeps, logger)

	// --- HTTP server ---
	if cfg.Server.Enabled {
		checks := map[string]func(context.Context) error{
			"redis":    redisClient.Ping,
			"postgres": pgClient.Ping,
		}
		if s3Client != nil {
			checks["s3"] = s3Client.Health
		}
		handlers := server.Handlers{
			Health:    handler.NewHealthHandler(checks, logger),
			Engine:    handler.NewEngineHandler(deps.Engine, logger),
			Positions: handler.NewPositionHandler(deps.Store, deps.Engine, deps.Market, logger),
			Stats:     handler.NewStatsHandler(deps.Journal, logger),
		}
		deps.Server = server.NewServer(server.Config{
			Port:        cfg.Server.Port,
			CORSOrigins: cfg.Server.CORSOrigins,
			APIKey:      cfg.Server.APIKey,
			Metrics:     cfg.Server.Metrics,
		}, handlers, logger)
	}

	return deps, cleanup, nil
}

// buildGateway creates the order gateway for the configured mode. Live
// trading signs requests with the venue HMAC credentials; paper and
// monitor modes simulate fills locally. Every gateway is wrapped in the
// retry decorator.
func buildGateway(cfg *config.Config, logger *slog.Logger) (domain.OrderGateway, error) {
	var inner domain.OrderGateway
	if strings.ToLower(cfg.Mode) == "trade" {
		secret, err := crypto.LoadSecret(crypto.SecretConfig{
			RawSecret:           cfg.Venue.ApiSecret,
			EncryptedSecretPath: cfg.Venue.EncryptedSecretPath,
			Password:            cfg.Venue.SecretPassword,
		})
		if err != nil {
			return nil, fmt.Errorf("wire: venue secret: %w", err)
		}
		auth := &crypto.HMACAuth{Key: cfg.Venue.ApiKey, Secret: secret}
		inner = gateway.NewVenueClient(cfg.Venue.BaseURL, auth, cfg.Venue.Timeout.Duration)
	} else {
		inner = gateway.NewPaper(logger)
	}

	backoff := cfg.Engine.RetryBackoff.Duration
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	return gateway.NewRetrying(inner, cfg.Engine.OrderRetries, backoff, logger), nil
}
