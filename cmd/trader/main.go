// Package main runs the trading agent: feed ingestion, strategy
// dispatch, risk checks, order lifecycle and ledger persistence, wired
// per the YAML configuration.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"crypto-trading-agent/internal/agent"
	"crypto-trading-agent/internal/cache"
	"crypto-trading-agent/internal/config"
	"crypto-trading-agent/internal/domain"
	"crypto-trading-agent/internal/feed"
	"crypto-trading-agent/internal/gateway"
	"crypto-trading-agent/internal/ledger"
	"crypto-trading-agent/internal/lifecycle"
	"crypto-trading-agent/internal/marketdata"
	"crypto-trading-agent/internal/observability"
	"crypto-trading-agent/internal/storage"
	chstore "crypto-trading-agent/internal/storage/clickhouse"
	"crypto-trading-agent/internal/storage/memory"
	"crypto-trading-agent/internal/storage/migrations"
	"crypto-trading-agent/internal/storage/pebbledb"
	pgstore "crypto-trading-agent/internal/storage/postgres"
	"crypto-trading-agent/internal/strategy"
)

// coreStores are the durable stores every run needs.
type coreStores struct {
	journal     storage.FillJournal
	checkpoints storage.CheckpointStore
	orders      storage.OrderStore

	// analytics path, nil unless ClickHouse is configured
	ticks   storage.TickStore
	candles storage.CandleStore
}

func main() {
	// .env is optional; system environment wins.
	_ = godotenv.Load()

	configPath := flag.String("config", envOr("TRADER_CONFIG", "config.yaml"), "Path to YAML configuration")
	fillSlices := flag.Int("fill-slices", 1, "Paper gateway fills per order")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if cfg.Feed.WSURL == "" {
		log.Fatal("feed.ws_url is required")
	}
	if len(cfg.Feed.Symbols) == 0 {
		log.Fatal("feed.symbols is required")
	}

	logger, err := observability.NewLogger(cfg.Logging.Level, cfg.Logging.Development)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown: first signal cancels, second forces exit.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Infow("shutdown signal received", "signal", sig)
		cancel()
		select {
		case sig = <-sigCh:
			logger.Errorw("second signal, forcing exit", "signal", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Error("graceful shutdown timed out, forcing exit")
			os.Exit(1)
		}
	}()

	stores, cleanup, err := buildStores(ctx, cfg)
	if err != nil {
		logger.Fatalw("storage init failed", "backend", cfg.Storage.Backend, "err", err)
	}
	defer cleanup()

	led := ledger.NewStore(ledger.Options{
		Journal:     stores.journal,
		Checkpoints: stores.checkpoints,
		Orders:      stores.orders,
		InitialCash: cfg.Ledger.InitialCash,
		Logger:      logger,
	})
	defer led.Close()

	if err := led.Restore(ctx); err != nil {
		logger.Fatalw("ledger restore failed", "err", err)
	}
	logger.Infow("ledger restored", "cash", led.Cash(), "positions", len(led.Positions()))

	gw := gateway.NewPaperGateway(*fillSlices)
	defer gw.Close()

	lm := lifecycle.NewManager(lifecycle.Config{
		AckTimeout:       time.Duration(cfg.Lifecycle.AckTimeoutMs) * time.Millisecond,
		MaxSubmitRetries: cfg.Lifecycle.MaxSubmitRetries,
		RetryBackoff:     time.Duration(cfg.Lifecycle.RetryBackoffMs) * time.Millisecond,
	}, gw, stores.orders, led.RecordFill, logger)

	if _, err := lm.Restore(ctx); err != nil {
		logger.Fatalw("order restore failed", "err", err)
	}

	var redis *cache.RedisCache
	if cfg.Cache.RedisAddr != "" {
		redis = cache.NewRedisCache(cfg.Cache.RedisAddr, cfg.Cache.RedisPassword, 0,
			time.Duration(cfg.Cache.TTLSec)*time.Second)
		defer redis.Close()
	}

	symbols := make([]string, 0, len(cfg.Feed.Symbols))
	for sym := range cfg.Feed.Symbols {
		symbols = append(symbols, sym)
	}
	fd, err := feed.NewWSFeed(ctx, cfg.Feed.WSURL, cfg.Feed.Provider, symbols, nil,
		observability.DefaultMetrics, logger)
	if err != nil {
		logger.Fatalw("feed connect failed", "url", cfg.Feed.WSURL, "err", err)
	}
	defer fd.Close()

	instruments := make(map[string]domain.Instrument, len(cfg.Instruments))
	for _, ic := range cfg.Instruments {
		inst, _ := cfg.Instrument(ic.Symbol)
		instruments[ic.Symbol] = *inst
	}

	a, err := agent.New(agent.Options{
		Feed:      fd,
		Decoder:   marketdata.NewJSONDecoder(cfg.Feed.Symbols),
		Lifecycle: lm,
		Ledger:    led,
		Gateway:   gw,

		Instruments: instruments,
		Limits:      cfg.Risk.Limits(),
		Normalizer: marketdata.NormalizerConfig{
			LateTolerance: time.Duration(cfg.MarketData.LateToleranceMs) * time.Millisecond,
			DedupWindow:   cfg.MarketData.DedupWindow,
		},
		Timeframes: cfg.MarketData.Timeframes,

		Ticks:        stores.ticks,
		Candles:      stores.candles,
		Cache:        redis,
		MarkObserver: gw.MarkPrice,

		CheckpointInterval: time.Duration(cfg.Ledger.CheckpointIntervalSec) * time.Second,
		Logger:             logger,
	})
	if err != nil {
		logger.Fatalw("agent init failed", "err", err)
	}

	for _, sc := range cfg.Strategies {
		st, err := strategy.FromConfig(sc)
		if err != nil {
			logger.Fatalw("strategy init failed", "name", sc.Name, "err", err)
		}
		if err := a.Register(st); err != nil {
			logger.Fatalw("strategy registration failed", "name", sc.Name, "err", err)
		}
		logger.Infow("strategy registered", "name", sc.Name, "type", sc.Type)
	}

	if cfg.Metrics.Addr != "" {
		go serveMetrics(ctx, cfg.Metrics.Addr, logger)
	}

	logger.Infow("trader starting", "app", cfg.App.Name,
		"backend", cfg.Storage.Backend, "provider", cfg.Feed.Provider)

	if err := a.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatalw("agent stopped with error", "err", err)
	}
	logger.Info("shutdown complete")
}

// buildStores selects the storage backend and runs migrations where the
// backend needs them. ClickHouse history stores attach to any backend
// when a DSN is configured.
func buildStores(ctx context.Context, cfg *config.Config) (*coreStores, func(), error) {
	stores := &coreStores{}
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	switch cfg.Storage.Backend {
	case "", "memory":
		stores.journal = memory.NewFillJournal()
		stores.checkpoints = memory.NewCheckpointStore()
		stores.orders = memory.NewOrderStore()

	case "postgres":
		pool, err := pgstore.NewPool(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		cleanups = append(cleanups, pool.Close)
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("postgres migrations: %w", err)
		}
		stores.journal = pgstore.NewFillJournal(pool)
		stores.checkpoints = pgstore.NewCheckpointStore(pool)
		stores.orders = pgstore.NewOrderStore(pool)

	case "pebble":
		db, err := pebbledb.Open(cfg.Storage.PebblePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open pebble at %s: %w", cfg.Storage.PebblePath, err)
		}
		cleanups = append(cleanups, func() { db.Close() })
		stores.journal = pebbledb.NewFillJournal(db)
		stores.checkpoints = pebbledb.NewCheckpointStore(db)
		stores.orders = pebbledb.NewOrderStore(db)

	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}

	if cfg.Storage.ClickHouseDSN != "" {
		conn, err := migrations.RunClickhouseMigrations(ctx, cfg.Storage.ClickHouseDSN)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("clickhouse migrations: %w", err)
		}
		cleanups = append(cleanups, func() { conn.Close() })
		stores.ticks = chstore.NewTickStore(conn)
		stores.candles = chstore.NewCandleStore(conn)
	}

	return stores, cleanup, nil
}

// serveMetrics exposes /metrics and /healthz until ctx is cancelled.
func serveMetrics(ctx context.Context, addr string, logger *zap.SugaredLogger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Infow("metrics listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Errorw("metrics server failed", "err", err)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
