package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/giftsearch/internal/config"
	dbPostgres "github.com/kailas-cloud/giftsearch/internal/db/postgres"
	dbRedis "github.com/kailas-cloud/giftsearch/internal/db/redis"
	"github.com/kailas-cloud/giftsearch/internal/domain"
	logpkg "github.com/kailas-cloud/giftsearch/internal/logger"
	"github.com/kailas-cloud/giftsearch/internal/metrics"
	budgetrepo "github.com/kailas-cloud/giftsearch/internal/repository/budget"
	"github.com/kailas-cloud/giftsearch/internal/repository/embcache"
	productrepo "github.com/kailas-cloud/giftsearch/internal/repository/product"
	querycacherepo "github.com/kailas-cloud/giftsearch/internal/repository/querycache"
	chiTransport "github.com/kailas-cloud/giftsearch/internal/transport/chi"
	openaiTransport "github.com/kailas-cloud/giftsearch/internal/transport/openai"
	embeddinguc "github.com/kailas-cloud/giftsearch/internal/usecase/embedding"
	monitoruc "github.com/kailas-cloud/giftsearch/internal/usecase/monitor"
	querycacheuc "github.com/kailas-cloud/giftsearch/internal/usecase/querycache"
	recommenduc "github.com/kailas-cloud/giftsearch/internal/usecase/recommend"
	searchuc "github.com/kailas-cloud/giftsearch/internal/usecase/search"
	usageuc "github.com/kailas-cloud/giftsearch/internal/usecase/usage"
	"github.com/kailas-cloud/giftsearch/internal/version"
)

func main() {
	// Load configuration based on ENV
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting giftsearch API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.Bool("database_configured", cfg.Database.DSN != ""),
		zap.Strings("redis_addrs", cfg.Redis.Addrs),
	)

	// Register metrics explicitly (no init())
	metrics.RegisterEmbeddingMetrics()
	metrics.RegisterCacheMetrics()
	metrics.RegisterPoolMetrics()
	metrics.RegisterGenerationMetrics()
	metrics.RegisterMonitorMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Postgres pool. A missing DSN leaves it uninitialized: search fails
	// with database_unavailable while recommendations keep working.
	pool := dbPostgres.New(ctx, poolConfig(cfg.Database), logger)
	defer pool.Close()
	if pool.Initialized() && cfg.Database.ShouldMigrate() {
		if err := pool.Migrate(); err != nil {
			logger.Fatal("Failed to apply migrations", zap.Error(err))
		}
		logger.Info("Database migrations applied")
	}

	// Redis backs the embedding cache and the budget counters. Optional.
	var store *dbRedis.Store
	if len(cfg.Redis.Addrs) > 0 {
		store, err = dbRedis.NewStore(dbRedis.Config{
			Addrs:    cfg.Redis.Addrs,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			logger.Fatal("Failed to create redis store", zap.Error(err))
		}
		defer store.Close()

		if err := store.WaitForReady(ctx, config.Seconds(cfg.Redis.ReadinessTimeout)); err != nil {
			logger.Fatal("Redis not ready", zap.Error(err))
		}
		logger.Info("Connected to redis")
	} else {
		logger.Warn("Redis is not configured, embedding cache and persisted budgets are disabled")
	}

	ledger := usageuc.NewLedger()

	// Embedding chain: composition root
	embProvName := cfg.Embedding.Provider
	embProv := cfg.Providers[embProvName]
	budget := buildBudget(ctx, embProvName, embProv.Budget, store, logger)

	// Pass nil interface (not typed nil pointer!) if budget is not configured.
	var budgetChecker embeddinguc.BudgetChecker
	var budgetReader usageuc.BudgetReader
	if budget != nil {
		budgetChecker = budget
		budgetReader = budget
	}

	embedder := buildEmbedder(embProvName, embProv, cfg.Embedding, store, budgetChecker, logger)
	embeddings := embeddinguc.NewGenerator(embedder, embeddinguc.GeneratorConfig{
		Model:             cfg.Embedding.Model,
		PricePer1K:        cfg.Embedding.PricePer1KTokens,
		BatchSize:         cfg.Embedding.BatchSize,
		RequestsPerSecond: cfg.Embedding.RequestsPerSecond,
	}, ledger, logger.Named("embedding"))
	logger.Info("Embedding generator created",
		zap.String("provider", embProvName),
		zap.String("model", cfg.Embedding.Model),
		zap.Int("dimensions", cfg.Embedding.Dimensions),
	)

	// Query result cache. Tier 2 and hydration need the database.
	products := productrepo.New(pool)
	var (
		tier2    querycacheuc.Tier2
		hydrator querycacheuc.Hydrator
	)
	cacheRepo := querycacherepo.New(pool)
	if pool.Initialized() {
		tier2 = cacheRepo
		hydrator = products
	}
	cache := querycacheuc.New(querycacheuc.Config{
		Tier1TTL:        config.Seconds(cfg.Cache.Tier1TTLSec),
		Tier1MaxEntries: cfg.Cache.Tier1MaxEntries,
		Tier2TTL:        config.Seconds(cfg.Cache.Tier2TTLSec),
		SingleFlight:    cfg.Cache.SingleFlightEnabled(),
	}, tier2, hydrator, querycacheuc.NewStats(), logger.Named("querycache"))

	searchSvc := searchuc.New(products, products, embeddings, cache, pool, searchuc.Config{
		RRFK:              cfg.Search.RRFK,
		DefaultMatchCount: cfg.Search.DefaultMatchCount,
	}, logger.Named("search"))

	// Recommendation generator
	genProvName := cfg.Generation.Provider
	genProv := cfg.Providers[genProvName]
	completer := openaiTransport.NewCompleter(&openaiTransport.Config{
		APIKey:           genProv.APIKey,
		BaseURL:          genProv.BaseURL,
		Provider:         genProvName,
		TransportRetries: genProv.HTTPRetryMax,
		Logger:           logger,
	})
	recommender := recommenduc.New(completer, generatorConfig(cfg.Generation), ledger, logger.Named("recommend"))

	usageSvc := usageuc.New(budgetReader, ledger)

	// Monitoring facade
	deps := monitoruc.Deps{
		DB:        pool,
		Embedding: embedder,
		Pool:      pool,
		Queries:   cache,
		Catalog:   products,
		Breakers:  recommender,
	}
	if store != nil {
		deps.Cache = store
	}
	monitor := monitoruc.New(deps, monitoruc.Thresholds{
		MinCacheHitRate:      cfg.Monitoring.MinCacheHitRate,
		MinCacheLookups:      cfg.Monitoring.MinCacheLookups,
		MaxPoolUtilization:   cfg.Monitoring.MaxPoolUtilization,
		MinEmbeddingCoverage: cfg.Monitoring.MinEmbeddingCoverage,
	}, logger.Named("monitor"))

	// Background loops
	bg, bgCtx := errgroup.WithContext(ctx)
	bg.Go(func() error {
		monitor.Run(bgCtx, config.Seconds(cfg.Monitoring.RefreshIntervalSec))
		return nil
	})
	if pool.Initialized() {
		sweeper := querycacheuc.NewSweeper(cacheRepo, config.Seconds(cfg.Cache.SweepIntervalSec), logger.Named("sweeper"))
		bg.Go(func() error {
			sweeper.Run(bgCtx)
			return nil
		})
	}

	// HTTP API
	server := chiTransport.NewServer(chiTransport.Services{
		Search:    searchSvc,
		Recommend: recommender,
		Cache:     cache,
		Usage:     usageSvc,
		Monitor:   monitor,
	}, logger).WithMatchThreshold(cfg.Search.DefaultMatchThreshold)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      server.Handler(cfg.Auth.APIKeys),
		ReadTimeout:  config.Seconds(cfg.HTTP.ReadTimeoutSec),
		WriteTimeout: config.Seconds(cfg.HTTP.WriteTimeoutSec),
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.Seconds(cfg.HTTP.ShutdownSec))
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	_ = bg.Wait()
	// Let in-flight tier-2 write-backs land before the pool closes.
	cache.Wait()

	logger.Info("Server stopped gracefully")
}

func poolConfig(c config.DatabaseConfig) dbPostgres.Config {
	return dbPostgres.Config{
		DSN:              c.DSN,
		MaxConns:         c.MaxConns,
		MinConns:         c.MinConns,
		IdleTimeout:      config.Seconds(c.IdleTimeoutSec),
		StatementTimeout: config.Seconds(c.StatementTimeoutSec),
		AcquireTimeout:   config.Seconds(c.AcquireTimeoutSec),
		MaxRetries:       c.MaxRetries,
		RetryBaseDelay:   config.Millis(c.RetryBaseDelayMs),
		RetryMaxDelay:    config.Millis(c.RetryMaxDelayMs),
	}
}

func generatorConfig(c config.GenerationConfig) recommenduc.Config {
	return recommenduc.Config{
		PrimaryModel:       c.PrimaryModel,
		FallbackModel:      c.FallbackModel,
		Temperature:        c.Temperature,
		MaxTokens:          c.MaxTokens,
		Timeout:            config.Seconds(c.TimeoutSec),
		MaxRetries:         c.MaxRetries,
		RetryBaseDelay:     config.Millis(c.RetryBaseDelayMs),
		RetryMaxDelay:      config.Millis(c.RetryMaxDelayMs),
		RateLimitPerMinute: c.RateLimitPerMinute,
		DiversityCap:       c.DiversityCap,
		MaxResults:         c.MaxResults,
		Breaker: recommenduc.BreakerConfig{
			ConsecutiveFailures: c.BreakerFailures,
			OpenTimeout:         config.Seconds(c.BreakerOpenSec),
		},
	}
}

// buildBudget returns nil when neither limit is set.
func buildBudget(
	ctx context.Context, provName string, c config.BudgetConfig,
	store *dbRedis.Store, logger *zap.Logger,
) *embeddinguc.BudgetTracker {
	if c.DailyTokenLimit <= 0 && c.MonthlyTokenLimit <= 0 {
		return nil
	}
	action := embeddinguc.BudgetActionWarn
	if c.Action == "reject" {
		action = embeddinguc.BudgetActionReject
	}
	budget := embeddinguc.NewBudgetTracker(
		provName, c.DailyTokenLimit, c.MonthlyTokenLimit, action, logger.Named("budget"),
	)
	if store != nil {
		// Loads the current counters so restarts keep the spend.
		budget.WithStore(ctx, budgetrepo.New(store, 48*time.Hour, 62*24*time.Hour))
	}
	return budget
}

// buildEmbedder assembles the decorator chain: OpenAI -> Cached -> Instrumented.
func buildEmbedder(
	provName string,
	provCfg config.ProviderConfig,
	embCfg config.EmbeddingConfig,
	store *dbRedis.Store,
	budget embeddinguc.BudgetChecker,
	logger *zap.Logger,
) *embeddinguc.InstrumentedEmbedder {
	// Base provider (with transport metrics built-in)
	base := openaiTransport.NewEmbedder(&openaiTransport.Config{
		APIKey:           provCfg.APIKey,
		BaseURL:          provCfg.BaseURL,
		Model:            embCfg.Model,
		Dimensions:       embCfg.Dimensions,
		Provider:         provName,
		TransportRetries: provCfg.HTTPRetryMax,
		Logger:           logger,
	})

	var embedder domain.Embedder = base
	if store != nil {
		embedder = embcache.New(
			base, store, embCfg.Model, config.Seconds(embCfg.CacheTTLSec),
			metrics.EmbeddingCacheTotal, logger.Named("embcache"),
		)
	}

	return embeddinguc.NewInstrumentedEmbedder(embedder, provName, embCfg.Model, budget, logger)
}
