// Package backtest implements the bar-by-bar simulation engine: signal
// evaluation, position lifecycle, simulated execution, equity curve
// construction, and performance metrics.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/openquant/backtest/internal/domain"
	"github.com/openquant/backtest/internal/logger"
	"github.com/openquant/backtest/internal/strategy"
)

var (
	// ErrInsufficientData is returned when the bar range cannot cover the
	// strategy's warm-up requirement.
	ErrInsufficientData = errors.New("insufficient historical data for strategy warm-up")
	// ErrOutOfCapital is returned when available capital cannot cover a
	// required position.
	ErrOutOfCapital = errors.New("available capital cannot cover required position")
)

// ProgressSink receives bar-count progress updates during a run.
type ProgressSink interface {
	Set(runID string, barsProcessed, totalBars int)
}

// CheckpointSink persists mid-run checkpoints.
type CheckpointSink interface {
	SaveCheckpoint(ctx context.Context, runID string, cp domain.Checkpoint) error
}

// Options tunes the simulation loop. Zero values fall back to defaults.
type Options struct {
	CheckpointInterval int // bars between checkpoints (default 1000)
	ProgressInterval   int // minimum bars between progress reports (default 100)
	EquitySampleEvery  int // bars between equity samples (default 100)
	MaxCurvePoints     int // equity curve cap (default 1000)
}

func (o Options) withDefaults() Options {
	if o.CheckpointInterval <= 0 {
		o.CheckpointInterval = 1000
	}
	if o.ProgressInterval <= 0 {
		o.ProgressInterval = 100
	}
	if o.EquitySampleEvery <= 0 {
		o.EquitySampleEvery = 100
	}
	if o.MaxCurvePoints <= 0 {
		o.MaxCurvePoints = 1000
	}
	return o
}

// Result is the output of one run. On cancellation or mid-run failure it
// carries whatever trades, curve points, and metrics were computed before
// the interruption.
type Result struct {
	Trades      []domain.Trade
	EquityCurve []domain.EquityPoint
	SampleMeta  CurveSampleMeta
	Metrics     *domain.PerformanceMetrics
	Checkpoint  domain.Checkpoint
}

// Engine executes one backtest run over a bar sequence. It is not safe for
// concurrent use; each run owns its engine.
type Engine struct {
	runID    string
	cfg      domain.RunConfig
	opts     Options
	strat    strategy.Strategy
	bars     []domain.Bar
	executor *SimulatedExecutor

	positions *PositionManager
	capital   decimal.Decimal
	trades    []domain.Trade
	curve     *curveBuilder

	progress    ProgressSink
	checkpoints CheckpointSink

	log *logger.Logger
}

// NewEngine creates an engine for one run. progress and checkpoints may be
// nil for standalone (CLI) use.
func NewEngine(runID string, cfg domain.RunConfig, opts Options, strat strategy.Strategy, bars []domain.Bar, progress ProgressSink, checkpoints CheckpointSink) *Engine {
	return &Engine{
		runID:       runID,
		cfg:         cfg,
		opts:        opts.withDefaults(),
		strat:       strat,
		bars:        bars,
		executor:    NewSimulatedExecutor(cfg.CommissionRate, cfg.SlippageBps),
		positions:   NewPositionManager(),
		capital:     cfg.InitialCapital,
		curve:       newCurveBuilder(256),
		progress:    progress,
		checkpoints: checkpoints,
		log:         logger.Component("engine").Run(runID),
	}
}

// SeedTrades preloads trades from a previous interrupted execution so a
// resumed run continues its trade list instead of starting empty. The
// equity argument replaces the initial capital as the starting cash
// balance.
func (e *Engine) SeedTrades(trades []domain.Trade, equity decimal.Decimal) {
	e.trades = append(e.trades, trades...)
	e.capital = equity
}

// Run executes the simulation. The returned Result is valid even when err
// is non-nil: cancellation and out-of-capital aborts preserve partial
// output. Callers distinguish cancellation via errors.Is(err,
// context.Canceled).
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	total := len(e.bars)
	startBar := e.cfg.StartBar

	if total-startBar <= e.strat.WarmupBars() {
		return nil, fmt.Errorf("%w: have %d bars from bar %d, need more than %d",
			ErrInsufficientData, total-startBar, startBar, e.strat.WarmupBars())
	}

	// Checkpoint writes happen off the bar loop so persistence latency
	// never stalls the simulation.
	cpCh := make(chan domain.Checkpoint, 8)
	cpDone := make(chan struct{})
	go e.checkpointWriter(context.WithoutCancel(ctx), cpCh, cpDone)
	defer func() {
		close(cpCh)
		<-cpDone
	}()

	progressEvery := e.opts.ProgressInterval
	if total/100 > progressEvery {
		progressEvery = total / 100
	}

	e.curve.append(e.bars[startBar].Timestamp, e.capital, false)
	e.reportProgress(0, total)

	var runErr error
	// Index of the last fully simulated bar. Stays startBar-1 when the run
	// aborts before its first bar so the checkpoint never claims progress
	// that did not happen.
	last := startBar - 1

loop:
	for i := startBar; i < total; i++ {
		select {
		case <-ctx.Done():
			runErr = ctx.Err()
			break loop
		default:
		}

		bar := e.bars[i]

		if pos := e.positions.Position(); pos != nil {
			pos.UpdateUnrealized(bar.Close)
		}

		if bar.Gap {
			e.log.Warn("skipping gap bar", "bar_index", i, "timestamp", bar.Timestamp)
		} else if err := e.step(i, bar); err != nil {
			runErr = err
			break loop
		}
		last = i

		processed := i - startBar + 1
		if processed%e.opts.EquitySampleEvery == 0 {
			e.curve.append(bar.Timestamp, e.equity(bar.Close), false)
		}
		if processed%progressEvery == 0 {
			e.reportProgress(processed, total)
		}
		if processed%e.opts.CheckpointInterval == 0 {
			e.enqueueCheckpoint(cpCh, domain.Checkpoint{
				BarIndex:   i,
				Equity:     e.equity(bar.Close),
				TradeCount: len(e.trades),
				At:         time.Now().UTC(),
			})
		}
	}

	// An aborted run closes its curve and checkpoint at the last simulated
	// bar, not the end of the data.
	endBar := e.bars[startBar]
	if last >= startBar {
		endBar = e.bars[last]
	}
	if runErr == nil && e.positions.Position() != nil {
		// Force-close at the final bar so the run ends flat.
		if err := e.closePosition(endBar, domain.SignalExit); err != nil {
			runErr = err
		}
	}

	e.curve.append(endBar.Timestamp, e.capital, true)
	if runErr == nil {
		e.reportProgress(total-startBar, total)
	}

	points := e.curve.Points()
	sampled, meta := SampleCurve(points, e.opts.MaxCurvePoints)

	result := &Result{
		Trades:      e.trades,
		EquityCurve: sampled,
		SampleMeta:  meta,
		Metrics:     CalculateMetrics(e.trades, sampled, e.cfg.InitialCapital, e.cfg.Timeframe),
		Checkpoint: domain.Checkpoint{
			BarIndex:   last,
			Equity:     e.capital,
			TradeCount: len(e.trades),
			At:         time.Now().UTC(),
		},
	}
	return result, runErr
}

// step evaluates signals for one bar and applies fills. Stop takes priority
// over exit, and both suppress an entry on the same bar.
func (e *Engine) step(i int, bar domain.Bar) error {
	sig := e.strat.Evaluate(e.bars[:i+1], e.positions.Position())

	if pos := e.positions.Position(); pos != nil {
		switch {
		case sig.Stop:
			return e.closePosition(bar, domain.SignalStop)
		case sig.Exit:
			return e.closePosition(bar, domain.SignalExit)
		}
		// An entry with a position open is ignored: one position per run.
		return nil
	}

	if sig.Entry {
		return e.openPosition(bar, sig.Side)
	}
	return nil
}

// openPosition sizes, executes, and records an entry fill.
func (e *Engine) openPosition(bar domain.Bar, side domain.Side) error {
	deploy := e.capital
	if e.cfg.PositionSizePct.GreaterThan(decimal.Zero) {
		deploy = e.capital.Mul(e.cfg.PositionSizePct)
	}
	if deploy.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: capital %s at bar %s", ErrOutOfCapital, e.capital, bar.Timestamp)
	}

	tradeSide := domain.TradeSideBuy
	if side == domain.SideShort {
		tradeSide = domain.TradeSideSell
	}

	fill := e.executor.Execute(Order{Side: tradeSide, Quantity: decimal.Zero, Price: bar.Close})
	// Quantity derives from the fill price, so the fee is recomputed on the
	// actual notional below.
	quantity := deploy.Div(fill.Price)
	fee := fill.Price.Mul(quantity).Mul(e.cfg.CommissionRate)

	required := fill.Price.Mul(quantity).Add(fee)
	if required.GreaterThan(e.capital) {
		quantity = e.capital.Sub(fee).Div(fill.Price)
	}
	if quantity.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: capital %s cannot cover fees at bar %s", ErrOutOfCapital, e.capital, bar.Timestamp)
	}
	fee = fill.Price.Mul(quantity).Mul(e.cfg.CommissionRate)

	if _, err := e.positions.Open(side, fill.Price, quantity, bar.Timestamp, nil, nil); err != nil {
		return err
	}
	e.capital = e.capital.Sub(fee)

	e.trades = append(e.trades, domain.Trade{
		ID:         uuid.New().String(),
		RunID:      e.runID,
		Side:       tradeSide,
		SignalType: domain.SignalEntry,
		Quantity:   quantity,
		Price:      fill.Price,
		Fee:        fee,
		Time:       bar.Timestamp,
		EntryPrice: fill.Price,
	})
	e.curve.append(bar.Timestamp, e.equity(bar.Close), true)

	e.log.Debug("position opened",
		"side", side, "price", fill.Price.String(), "quantity", quantity.String())
	return nil
}

// closePosition executes the exit fill and books realized P/L.
func (e *Engine) closePosition(bar domain.Bar, signalType domain.SignalType) error {
	pos := e.positions.Position()
	if pos == nil {
		return ErrNoPosition
	}

	tradeSide := domain.TradeSideSell
	if pos.Side == domain.SideShort {
		tradeSide = domain.TradeSideBuy
	}

	fill := e.executor.Execute(Order{Side: tradeSide, Quantity: pos.Quantity, Price: bar.Close})
	trade, err := e.positions.Close(fill.Price, bar.Timestamp, fill.Fee, signalType)
	if err != nil {
		return err
	}
	trade.ID = uuid.New().String()
	trade.RunID = e.runID

	e.capital = e.capital.Add(trade.PnL)
	e.trades = append(e.trades, trade)
	e.curve.append(bar.Timestamp, e.capital, true)

	e.log.Debug("position closed",
		"signal", signalType, "price", fill.Price.String(), "pnl", trade.PnL.String())
	return nil
}

// equity is the current portfolio value: cash plus unrealized P/L.
func (e *Engine) equity(close decimal.Decimal) decimal.Decimal {
	value := e.capital
	if pos := e.positions.Position(); pos != nil {
		diff := close.Sub(pos.EntryPrice)
		if pos.Side == domain.SideShort {
			diff = diff.Neg()
		}
		value = value.Add(diff.Mul(pos.Quantity))
	}
	return value
}

func (e *Engine) reportProgress(processed, total int) {
	if e.progress != nil {
		e.progress.Set(e.runID, processed, total)
	}
}

// enqueueCheckpoint hands a checkpoint to the writer goroutine without
// blocking; if the writer is behind, the checkpoint is dropped and the next
// interval produces a fresher one.
func (e *Engine) enqueueCheckpoint(ch chan<- domain.Checkpoint, cp domain.Checkpoint) {
	select {
	case ch <- cp:
	default:
		e.log.Warn("checkpoint writer behind, dropping checkpoint", "bar_index", cp.BarIndex)
	}
}

// checkpointWriter drains the checkpoint channel and persists each entry.
func (e *Engine) checkpointWriter(ctx context.Context, ch <-chan domain.Checkpoint, done chan<- struct{}) {
	defer close(done)
	for cp := range ch {
		if e.checkpoints == nil {
			continue
		}
		if err := e.checkpoints.SaveCheckpoint(ctx, e.runID, cp); err != nil {
			e.log.WithError(err).Error("failed to persist checkpoint", "bar_index", cp.BarIndex)
		}
	}
}
