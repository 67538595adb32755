// Package main replays ClickHouse candle history through the live
// strategy, risk and execution stack and reports the simulated outcome.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"crypto-trading-agent/internal/backtest"
	"crypto-trading-agent/internal/config"
	"crypto-trading-agent/internal/domain"
	"crypto-trading-agent/internal/marketdata"
	"crypto-trading-agent/internal/observability"
	chstore "crypto-trading-agent/internal/storage/clickhouse"
	"crypto-trading-agent/internal/strategy"
)

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", os.Getenv("TRADER_CONFIG"), "Path to YAML configuration")
	instrument := flag.String("instrument", "", "Instrument symbol to replay (required)")
	timeframe := flag.String("timeframe", "1m", "Candle timeframe of the history to replay")
	fromArg := flag.String("from", "", "History window start, RFC3339 (required)")
	toArg := flag.String("to", "", "History window end, RFC3339 (default now)")
	fillSlices := flag.Int("fill-slices", 1, "Fills per simulated order")
	outputJSON := flag.Bool("json", false, "Output the results as JSON")
	flag.Parse()

	logger := log.New(os.Stderr, "[backtest] ", log.LstdFlags)

	if *configPath == "" {
		logger.Fatal("--config is required")
	}
	if *instrument == "" {
		logger.Fatal("--instrument is required")
	}
	if *fromArg == "" {
		logger.Fatal("--from is required")
	}
	tf := domain.Timeframe(*timeframe)
	if tf.DurationMs() == 0 {
		logger.Fatalf("unknown timeframe %q", *timeframe)
	}
	from, err := time.Parse(time.RFC3339, *fromArg)
	if err != nil {
		logger.Fatalf("parse --from: %v", err)
	}
	to := time.Now()
	if *toArg != "" {
		if to, err = time.Parse(time.RFC3339, *toArg); err != nil {
			logger.Fatalf("parse --to: %v", err)
		}
	}
	if !to.After(from) {
		logger.Fatal("--to must be after --from")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if cfg.Storage.ClickHouseDSN == "" {
		logger.Fatal("backtests read candle history from ClickHouse; set storage.clickhouse_dsn")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Printf("received signal %v, aborting", sig)
		cancel()
	}()

	instruments := make(map[string]domain.Instrument, len(cfg.Instruments))
	for _, ic := range cfg.Instruments {
		inst, _ := cfg.Instrument(ic.Symbol)
		instruments[ic.Symbol] = *inst
	}
	if _, ok := instruments[*instrument]; !ok {
		logger.Fatalf("instrument %s is not declared in the configuration", *instrument)
	}

	conn, err := chstore.NewConn(ctx, cfg.Storage.ClickHouseDSN)
	if err != nil {
		logger.Fatalf("connect to clickhouse: %v", err)
	}
	defer conn.Close()

	candles, err := chstore.NewCandleStore(conn).GetByInstrument(
		ctx, *instrument, tf, from.UnixMilli(), to.UnixMilli())
	if err != nil {
		logger.Fatalf("load candle history: %v", err)
	}
	if len(candles) == 0 {
		logger.Fatalf("no %s candles for %s in the requested window", tf, *instrument)
	}
	marketdata.SortCandles(candles)

	zlog, err := observability.NewLogger(cfg.Logging.Level, cfg.Logging.Development)
	if err != nil {
		logger.Fatalf("init logger: %v", err)
	}
	defer zlog.Sync()

	runner, err := backtest.NewRunner(backtest.Options{
		Instruments: instruments,
		Limits:      cfg.Risk.Limits(),
		InitialCash: cfg.Ledger.InitialCash,
		FillSlices:  *fillSlices,
		Logger:      zlog,
	})
	if err != nil {
		logger.Fatalf("create runner: %v", err)
	}
	for _, sc := range cfg.Strategies {
		st, err := strategy.FromConfig(sc)
		if err != nil {
			logger.Fatalf("build strategy %s: %v", sc.Name, err)
		}
		if err := runner.Register(st); err != nil {
			logger.Fatalf("register strategy %s: %v", sc.Name, err)
		}
	}

	logger.Printf("replaying %d %s candles for %s (%s .. %s)",
		len(candles), tf, *instrument,
		from.Format(time.RFC3339), to.Format(time.RFC3339))

	results, err := runner.Run(ctx, candles)
	if err != nil {
		logger.Fatalf("backtest failed: %v", err)
	}

	if *outputJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(results); err != nil {
			logger.Fatalf("encode results: %v", err)
		}
		return
	}
	printResults(results)
}

func printResults(r *backtest.Results) {
	fmt.Println()
	fmt.Println("=== Backtest Results ===")
	fmt.Printf("Candles replayed:   %d\n", r.Candles)
	fmt.Printf("Signals emitted:    %d\n", r.Signals)
	fmt.Printf("Orders submitted:   %d\n", r.Orders)
	fmt.Printf("Orders denied:      %d\n", r.Denied)
	for rule, n := range r.DeniedByRule {
		fmt.Printf("  %-18s%d\n", rule, n)
	}
	fmt.Printf("Fills applied:      %d\n", r.Fills)
	fmt.Println()
	fmt.Printf("Final cash:         %s\n", r.FinalCash)
	fmt.Printf("Equity:             %s\n", r.Equity)
	fmt.Printf("Realized PnL:       %s\n", r.RealizedPnL)
	for _, p := range r.Positions {
		fmt.Printf("  %-10s qty=%s avg_cost=%s realized=%s\n",
			p.Instrument, p.Quantity, p.AvgCost, p.RealizedPnL)
	}
}
