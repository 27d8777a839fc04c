package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openquant/backtest/internal/backtest"
	"github.com/openquant/backtest/internal/domain"
	"github.com/openquant/backtest/internal/strategy"
	"github.com/openquant/backtest/internal/strategy/builtins"
)

var (
	dataFile       = flag.String("data", "", "Path to CSV file with historical bars (required unless -generate-sample)")
	symbol         = flag.String("symbol", "BTC-USD", "Trading symbol")
	timeframe      = flag.String("timeframe", "1h", "Bar timeframe (1m, 5m, 15m, 30m, 1h, 4h, 1d)")
	initialCapital = flag.Float64("capital", 10000, "Initial capital")
	commission     = flag.Float64("commission", 0.001, "Commission rate (e.g., 0.001 for 0.1%)")
	slippageBps    = flag.Float64("slippage-bps", 5, "Slippage in basis points")
	positionSize   = flag.Float64("position-size", 1.0, "Fraction of capital deployed per entry")

	// Strategy parameters
	strategyID  = flag.String("strategy", "sma_cross", "Strategy id")
	shortPeriod = flag.Int("short-period", 9, "Short SMA period")
	longPeriod  = flag.Int("long-period", 21, "Long SMA period")
	stopLoss    = flag.Float64("stop-loss", 0, "Stop loss as fraction of entry price (e.g., 0.02 for 2%)")

	// Output options
	verbose        = flag.Bool("verbose", false, "Show detailed trade log")
	generateSample = flag.Bool("generate-sample", false, "Generate sample data instead of loading from file")
	sampleBars     = flag.Int("sample-bars", 1000, "Number of bars to generate for sample data")
)

func main() {
	flag.Parse()

	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	loader := backtest.NewDataLoader()

	var bars []domain.Bar
	var err error

	if *generateSample {
		log.Println("Generating sample data...")
		start := time.Now().Add(-time.Duration(*sampleBars) * domain.TimeframeDuration(*timeframe))
		bars = loader.GenerateSampleData(start, *sampleBars, 50000, *timeframe)
		log.Printf("Generated %d bars\n", len(bars))
	} else {
		if *dataFile == "" {
			return fmt.Errorf("either -data or -generate-sample is required")
		}
		log.Printf("Loading data from %s...\n", *dataFile)
		bars, err = loader.LoadFromCSV(*dataFile, *timeframe)
		if err != nil {
			return fmt.Errorf("failed to load data: %w", err)
		}
		log.Printf("Loaded %d bars\n", len(bars))
	}

	if len(bars) == 0 {
		return fmt.Errorf("no data loaded")
	}

	startTime := bars[0].Timestamp
	endTime := bars[len(bars)-1].Timestamp
	log.Printf("Period: %s to %s (%s)\n",
		startTime.Format("2006-01-02"),
		endTime.Format("2006-01-02"),
		endTime.Sub(startTime).Round(time.Hour))

	registry := strategy.NewRegistry()
	builtins.RegisterAll(registry)

	params := map[string]string{
		"short":         fmt.Sprintf("%d", *shortPeriod),
		"long":          fmt.Sprintf("%d", *longPeriod),
		"stop_loss_pct": fmt.Sprintf("%g", *stopLoss),
	}
	strat, ok, err := registry.Build(*strategyID, params)
	if !ok {
		return fmt.Errorf("unknown strategy %q (available: %v)", *strategyID, registry.List())
	}
	if err != nil {
		return fmt.Errorf("building strategy: %w", err)
	}

	cfg := domain.RunConfig{
		StrategyID:      *strategyID,
		StrategyParams:  params,
		Symbol:          *symbol,
		Timeframe:       *timeframe,
		Start:           startTime,
		End:             endTime,
		InitialCapital:  decimal.NewFromFloat(*initialCapital),
		CommissionRate:  decimal.NewFromFloat(*commission),
		SlippageBps:     decimal.NewFromFloat(*slippageBps),
		PositionSizePct: decimal.NewFromFloat(*positionSize),
	}

	log.Println("Running backtest...")
	started := time.Now()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine := backtest.NewEngine("cli", cfg, backtest.Options{}, strat, bars, nil, nil)
	result, err := engine.Run(ctx)
	if err != nil {
		return fmt.Errorf("backtest failed: %w", err)
	}

	log.Printf("Completed in %s\n\n", time.Since(started).Round(time.Millisecond))

	reporter := backtest.NewReporter()
	fmt.Println(reporter.GenerateReport(result, cfg.InitialCapital))

	if *verbose && len(result.Trades) > 0 {
		fmt.Println(reporter.GenerateTradeLog(result.Trades))
	}
	return nil
}
