package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/ulule/limiter/v3"

	"pharmaledger/internal/cache"
	"pharmaledger/internal/config"
	"pharmaledger/internal/httpapi"
	"pharmaledger/internal/ledger"
	"pharmaledger/internal/service"
	"pharmaledger/internal/store"
	"pharmaledger/internal/store/memory"
	pgstore "pharmaledger/internal/store/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	setupLogger(cfg)
	if err := validateConfig(cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback")
		}
		if err := pg.Migrate(ctx); err != nil {
			log.Fatal().Err(err).Msg("schema migration failed")
		}
		repo = pg
		closers = append(closers, pg.Close)
		log.Info().Msg("repository: postgres")
	} else {
		repo = memory.NewSeeded()
		log.Info().Msg("repository: in-memory")
	}

	reportCache := cache.ReportCache(cache.NoopReportCache{})
	if cfg.RedisAddr != "" {
		redisDB, err := cfg.RedisDBIndex()
		if err != nil {
			log.Fatal().Err(err).Msg("invalid configuration")
		}
		redisCache := cache.NewRedisReportCache(cfg.RedisAddr, cfg.RedisPassword, redisDB)
		if err := redisCache.Ping(ctx); err != nil {
			log.Warn().Err(err).Msg("redis unavailable, using noop report cache")
		} else {
			reportCache = redisCache
			closers = append(closers, redisCache.Close)
			log.Info().Msg("cache: redis")
		}
	} else {
		log.Info().Msg("cache: noop")
	}

	opts, err := serviceOptions(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	opts.Cache = reportCache
	svc := service.New(repo, opts)

	rateLimiter, err := httpapi.NewRateLimiter(cfg.RateLimit)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid RATE_LIMIT")
	}
	api := httpapi.New(svc, cfg.AllowedOrigin, rateLimiter)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().Msgf("pharmacy ledger listening on %s", cfg.Address())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Error().Err(err).Msg("close error")
		}
	}

	log.Info().Msg("server stopped")
}

func setupLogger(cfg config.Config) {
	if !cfg.IsProduction() {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

func validateConfig(cfg config.Config) error {
	port, err := strconv.Atoi(cfg.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be a number between 1 and 65535, got %q", cfg.Port)
	}
	if _, err := limiter.NewRateFromFormatted(cfg.RateLimit); err != nil {
		return fmt.Errorf("RATE_LIMIT: %w", err)
	}
	if _, err := cfg.RedisDBIndex(); err != nil {
		return err
	}
	if cfg.LowStockThreshold > cfg.ReorderThreshold {
		return fmt.Errorf("LOW_STOCK_THRESHOLD (%d) must not exceed REORDER_THRESHOLD (%d)", cfg.LowStockThreshold, cfg.ReorderThreshold)
	}
	if cfg.IsProduction() && cfg.AllowedOrigin == "*" {
		return errors.New("ALLOWED_ORIGIN must not be * in production")
	}
	_, err = serviceOptions(cfg)
	return err
}

func serviceOptions(cfg config.Config) (service.Options, error) {
	policy, err := ledger.ParseOversellPolicy(cfg.OversellPolicy)
	if err != nil {
		return service.Options{}, fmt.Errorf("OVERSELL_POLICY: %w", err)
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return service.Options{}, fmt.Errorf("TIMEZONE: %w", err)
	}

	return service.Options{
		CacheTTL:          time.Duration(cfg.ReportCacheTTLSeconds) * time.Second,
		LowStockThreshold: decimal.NewFromInt(int64(cfg.LowStockThreshold)),
		ReorderThreshold:  decimal.NewFromInt(int64(cfg.ReorderThreshold)),
		ExpiryWarningDays: cfg.ExpiryWarningDays,
		OversellPolicy:    policy,
		Location:          loc,
	}, nil
}
