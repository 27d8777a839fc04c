// Package service orchestrates the lifecycle of backtest runs: admission
// through the concurrency scheduler, engine execution, cancellation,
// progress queries, result retrieval, and restart recovery.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/openquant/backtest/internal/backtest"
	"github.com/openquant/backtest/internal/domain"
	"github.com/openquant/backtest/internal/logger"
	"github.com/openquant/backtest/internal/progress"
	"github.com/openquant/backtest/internal/scheduler"
	"github.com/openquant/backtest/internal/store"
	"github.com/openquant/backtest/internal/strategy"
)

var (
	// ErrAlreadyTerminal is returned when cancelling a finished run.
	ErrAlreadyTerminal = errors.New("run is already in a terminal state")
	// ErrNotResumable is returned when resuming a run that is not an
	// interrupted run with a checkpoint.
	ErrNotResumable = errors.New("run is not resumable")
)

// ValidationError rejects a run before it is created.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Reason
}

// BarSource supplies historical bars for a symbol, timeframe, and range.
type BarSource interface {
	// LoadBars returns the ordered, gap-annotated bar sequence.
	LoadBars(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]domain.Bar, error)

	// BarCount is the data-sufficiency check used before admitting a run.
	BarCount(ctx context.Context, symbol, timeframe string, start, end time.Time) (int, error)
}

// Progress is the caller-facing view of a run's progress.
type Progress struct {
	RunID         string           `json:"run_id"`
	Status        domain.RunStatus `json:"status"`
	BarsProcessed int              `json:"bars_processed"`
	TotalBars     int              `json:"total_bars"`
	Percentage    float64          `json:"percentage"`
	QueuePosition int              `json:"queue_position,omitempty"`
}

// RunResult is the caller-facing view of a run's output. For error runs it
// carries whatever was computed before the failure together with the error
// code and message on Run.
type RunResult struct {
	Run         *domain.Run                `json:"run"`
	Trades      []domain.Trade             `json:"trades"`
	Metrics     *domain.PerformanceMetrics `json:"metrics,omitempty"`
	EquityCurve []domain.EquityPoint       `json:"equity_curve,omitempty"`
	SampleMeta  backtest.CurveSampleMeta   `json:"sample_meta"`
}

// Service owns the run lifecycle. One engine goroutine exists per running
// run; the scheduler bounds how many execute simultaneously.
type Service struct {
	store      store.RunStore
	sched      *scheduler.ConcurrencyManager
	progress   *progress.Tracker
	registry   *strategy.Registry
	bars       BarSource
	engineOpts backtest.Options
	log        *logger.Logger

	baseCtx context.Context
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a run service. baseCtx bounds the lifetime of every engine
// goroutine the service starts.
func New(baseCtx context.Context, st store.RunStore, sched *scheduler.ConcurrencyManager, tracker *progress.Tracker, registry *strategy.Registry, bars BarSource, opts backtest.Options) *Service {
	return &Service{
		store:      st,
		sched:      sched,
		progress:   tracker,
		registry:   registry,
		bars:       bars,
		engineOpts: opts,
		log:        logger.Component("service"),
		baseCtx:    baseCtx,
		cancels:    make(map[string]context.CancelFunc),
	}
}

// CreateRun validates the config, persists a new run, and submits it to
// the scheduler. The returned run is either running or queued.
func (s *Service) CreateRun(ctx context.Context, cfg domain.RunConfig) (*domain.Run, error) {
	strat, err := s.buildStrategy(cfg)
	if err != nil {
		return nil, err
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	count, err := s.bars.BarCount(ctx, cfg.Symbol, cfg.Timeframe, cfg.Start, cfg.End)
	if err != nil {
		return nil, fmt.Errorf("checking data sufficiency: %w", err)
	}
	if count-cfg.StartBar <= strat.WarmupBars() {
		return nil, &ValidationError{Reason: fmt.Sprintf(
			"insufficient historical data: %d bars available, strategy needs more than %d",
			count-cfg.StartBar, strat.WarmupBars())}
	}

	run := &domain.Run{
		ID:     uuid.New().String(),
		Config: cfg,
		Status: domain.StatusPending,
	}
	if err := s.store.SaveRun(ctx, run); err != nil {
		return nil, fmt.Errorf("persisting run: %w", err)
	}

	if err := s.admit(ctx, run.ID); err != nil {
		return nil, err
	}
	return s.store.GetRun(ctx, run.ID)
}

// admit requests a slot and either starts the engine or marks the run
// queued.
func (s *Service) admit(ctx context.Context, runID string) error {
	granted, pos := s.sched.RequestSlot(runID)
	if granted {
		if err := s.store.UpdateStatus(ctx, runID, domain.StatusRunning, "", ""); err != nil {
			s.releaseAndPromote(runID)
			return fmt.Errorf("marking run running: %w", err)
		}
		s.startEngine(runID)
		return nil
	}

	s.log.Info("run queued", "run_id", runID, "queue_position", pos)
	if err := s.store.UpdateStatus(ctx, runID, domain.StatusQueued, "", ""); err != nil {
		return fmt.Errorf("marking run queued: %w", err)
	}
	return nil
}

// startEngine launches the engine goroutine for a run that holds a slot.
func (s *Service) startEngine(runID string) {
	ctx, cancel := context.WithCancel(s.baseCtx)

	s.mu.Lock()
	s.cancels[runID] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.cancels, runID)
			s.mu.Unlock()
			cancel()
		}()
		func() {
			// A panicking strategy must not take down sibling runs or the
			// process; it terminates only its own run.
			defer func() {
				if r := recover(); r != nil {
					s.log.Run(runID).Error("run panicked", "panic", r)
					s.finishWithError(context.WithoutCancel(ctx), runID, domain.ErrorExecution,
						fmt.Errorf("strategy panic: %v", r))
				}
			}()
			s.execute(ctx, runID)
		}()
		s.releaseAndPromote(runID)
	}()
}

// execute runs one engine to completion and persists its outcome. Failures
// are converted into terminal run states here; they never propagate to the
// scheduler or sibling runs.
func (s *Service) execute(ctx context.Context, runID string) {
	log := s.log.Run(runID)

	// Persistence of the final state must survive cancellation.
	persistCtx := context.WithoutCancel(ctx)

	run, err := s.store.GetRun(persistCtx, runID)
	if err != nil {
		log.WithError(err).Error("failed to load run")
		return
	}
	cfg := run.Config

	strat, err := s.buildStrategy(cfg)
	if err != nil {
		s.finishWithError(persistCtx, runID, domain.ErrorValidation, err)
		return
	}

	bars, err := s.bars.LoadBars(ctx, cfg.Symbol, cfg.Timeframe, cfg.Start, cfg.End)
	if err != nil {
		s.finishWithError(persistCtx, runID, domain.ErrorValidation, err)
		return
	}

	engine := backtest.NewEngine(runID, cfg, s.engineOpts, strat, bars, s.progress, s.store)

	// A resume continues the interrupted execution's trades and equity.
	if cfg.StartBar > 0 && run.Checkpoint != nil {
		prior, err := s.store.GetTrades(persistCtx, runID)
		if err != nil {
			s.finishWithError(persistCtx, runID, domain.ErrorExecution, err)
			return
		}
		engine.SeedTrades(prior, run.Checkpoint.Equity)
		log.Info("resuming from checkpoint", "start_bar", cfg.StartBar, "prior_trades", len(prior))
	}

	log.Info("run started", "bars", len(bars), "strategy", cfg.StrategyID)
	result, runErr := engine.Run(ctx)

	if result != nil {
		if err := s.store.ReplaceTrades(persistCtx, runID, result.Trades); err != nil {
			log.WithError(err).Error("failed to persist trades")
		}
		res := &store.Result{
			Metrics:     result.Metrics,
			EquityCurve: result.EquityCurve,
			SampleMeta:  result.SampleMeta,
		}
		if err := s.store.SaveResult(persistCtx, runID, res); err != nil {
			log.WithError(err).Error("failed to persist result")
		}
		if err := s.store.SaveCheckpoint(persistCtx, runID, result.Checkpoint); err != nil {
			log.WithError(err).Error("failed to persist final checkpoint")
		}
	}

	switch {
	case runErr == nil:
		if err := s.store.UpdateStatus(persistCtx, runID, domain.StatusCompleted, "", ""); err != nil {
			log.WithError(err).Error("failed to mark run completed")
		}
		log.Info("run completed", "trades", len(result.Trades))
	case errors.Is(runErr, context.Canceled):
		if err := s.store.UpdateStatus(persistCtx, runID, domain.StatusStopped, "", "cancelled by user"); err != nil {
			log.WithError(err).Error("failed to mark run stopped")
		}
		log.Info("run cancelled")
	case errors.Is(runErr, backtest.ErrInsufficientData):
		s.finishWithErrorType(persistCtx, runID, domain.ErrorInsufficient, runErr)
	case errors.Is(runErr, backtest.ErrOutOfCapital):
		s.finishWithErrorType(persistCtx, runID, domain.ErrorOutOfCapital, runErr)
	default:
		s.finishWithErrorType(persistCtx, runID, domain.ErrorExecution, runErr)
	}

	s.progress.Remove(runID)
}

func (s *Service) finishWithError(ctx context.Context, runID string, et domain.ErrorType, err error) {
	s.finishWithErrorType(ctx, runID, et, err)
	s.progress.Remove(runID)
}

func (s *Service) finishWithErrorType(ctx context.Context, runID string, et domain.ErrorType, cause error) {
	log := s.log.Run(runID)
	log.WithError(cause).Error("run failed", "error_type", et)
	if err := s.store.UpdateStatus(ctx, runID, domain.StatusError, et, cause.Error()); err != nil {
		log.WithError(err).Error("failed to mark run errored")
	}
}

// releaseAndPromote frees the finished run's slot and starts the next
// queued run, if any. Every slot release in the service goes through here
// so a promotion is never dropped.
func (s *Service) releaseAndPromote(runID string) {
	promoted := s.sched.ReleaseSlot(runID)
	if promoted == "" {
		return
	}

	ctx := context.WithoutCancel(s.baseCtx)
	if err := s.store.UpdateStatus(ctx, promoted, domain.StatusRunning, "", ""); err != nil {
		s.log.Run(promoted).WithError(err).Error("failed to mark promoted run running")
		s.releaseAndPromote(promoted)
		return
	}
	s.log.Info("promoted queued run", "run_id", promoted)
	s.startEngine(promoted)
}

// CancelRun requests cooperative cancellation of a run. Queued runs are
// removed from the queue and stopped immediately; running runs stop at the
// next bar boundary.
func (s *Service) CancelRun(ctx context.Context, runID string) error {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status.Terminal() {
		return ErrAlreadyTerminal
	}

	s.mu.Lock()
	cancel, active := s.cancels[runID]
	s.mu.Unlock()

	if active {
		cancel()
		return nil
	}

	// Pending or queued: no engine to signal, finalize directly. The run may
	// still hold a slot if it was granted one but never started, so the
	// release has to handle promotion.
	s.releaseAndPromote(runID)
	return s.store.UpdateStatus(ctx, runID, domain.StatusStopped, "", "cancelled before start")
}

// GetProgress reports bar progress for running runs and queue position for
// queued ones.
func (s *Service) GetProgress(ctx context.Context, runID string) (*Progress, error) {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	p := &Progress{RunID: runID, Status: run.Status}

	if rec, ok := s.progress.Get(runID); ok {
		p.BarsProcessed = rec.BarsProcessed
		p.TotalBars = rec.TotalBars
		p.Percentage = rec.Percentage()
	} else if run.Status.Terminal() {
		p.Percentage = 100
	}

	if run.Status == domain.StatusQueued {
		p.QueuePosition = s.sched.QueuePosition(runID)
	}
	return p, nil
}

// GetResult returns the persisted output of a run. Error runs return
// partial trades, curve, and metrics plus the error code and message.
func (s *Service) GetResult(ctx context.Context, runID string) (*RunResult, error) {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	out := &RunResult{Run: run}

	trades, err := s.store.GetTrades(ctx, runID)
	if err != nil {
		return nil, err
	}
	out.Trades = trades
	if res, err := s.store.GetResult(ctx, runID); err == nil {
		out.Metrics = res.Metrics
		out.EquityCurve = res.EquityCurve
		out.SampleMeta = res.SampleMeta
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	return out, nil
}

// ListRuns returns runs filtered by status, all when status is empty.
func (s *Service) ListRuns(ctx context.Context, status domain.RunStatus) ([]domain.Run, error) {
	return s.store.ListRuns(ctx, status)
}

// ResumeRun restarts an interrupted run from its last checkpoint. The run
// keeps its id; execution starts at checkpoint bar index + 1 with the
// checkpoint's equity and the persisted trade list as initial state.
func (s *Service) ResumeRun(ctx context.Context, runID string) (*domain.Run, error) {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status != domain.StatusError || run.ErrorType != domain.ErrorInterrupted || run.Checkpoint == nil {
		return nil, ErrNotResumable
	}

	cfg := run.Config
	cfg.StartBar = run.Checkpoint.BarIndex + 1

	if err := s.store.ResetForResume(ctx, runID, cfg); err != nil {
		return nil, err
	}
	if err := s.admit(ctx, runID); err != nil {
		return nil, err
	}
	return s.store.GetRun(ctx, runID)
}

// RecoverInterrupted scans persisted state at startup. Runs marked running
// with no owning engine and no update within the grace window become
// error/interrupted with partial results preserved; queued and pending
// runs are re-admitted through the scheduler.
func (s *Service) RecoverInterrupted(ctx context.Context, grace time.Duration) error {
	running, err := s.store.ListRuns(ctx, domain.StatusRunning)
	if err != nil {
		return fmt.Errorf("listing running runs: %w", err)
	}

	now := time.Now().UTC()
	for _, run := range running {
		if s.sched.IsRunning(run.ID) {
			continue
		}
		lastAlive := run.StartedAt
		if run.Checkpoint != nil {
			lastAlive = &run.Checkpoint.At
		}
		if lastAlive != nil && now.Sub(*lastAlive) < grace {
			continue
		}
		s.log.Run(run.ID).Warn("marking interrupted run", "checkpoint", run.Checkpoint != nil)
		if err := s.store.UpdateStatus(ctx, run.ID, domain.StatusError, domain.ErrorInterrupted,
			"process restarted while run was in progress"); err != nil {
			s.log.Run(run.ID).WithError(err).Error("failed to mark run interrupted")
		}
	}

	for _, status := range []domain.RunStatus{domain.StatusQueued, domain.StatusPending} {
		orphans, err := s.store.ListRuns(ctx, status)
		if err != nil {
			return fmt.Errorf("listing %s runs: %w", status, err)
		}
		for _, run := range orphans {
			if err := s.admit(ctx, run.ID); err != nil {
				s.log.Run(run.ID).WithError(err).Error("failed to re-admit run")
			}
		}
	}
	return nil
}

// Shutdown cancels all running engines and waits for them to finish
// persisting.
func (s *Service) Shutdown() {
	s.mu.Lock()
	for _, cancel := range s.cancels {
		cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Service) buildStrategy(cfg domain.RunConfig) (strategy.Strategy, error) {
	strat, ok, err := s.registry.Build(cfg.StrategyID, cfg.StrategyParams)
	if err != nil {
		return nil, &ValidationError{Reason: fmt.Sprintf("strategy %q: %v", cfg.StrategyID, err)}
	}
	if !ok {
		return nil, &ValidationError{Reason: fmt.Sprintf("unknown strategy %q", cfg.StrategyID)}
	}
	return strat, nil
}

func validateConfig(cfg domain.RunConfig) error {
	switch {
	case cfg.Symbol == "":
		return &ValidationError{Reason: "symbol is required"}
	case cfg.Timeframe == "":
		return &ValidationError{Reason: "timeframe is required"}
	case !cfg.End.After(cfg.Start):
		return &ValidationError{Reason: "end must be after start"}
	case cfg.InitialCapital.LessThanOrEqual(decimal.Zero):
		return &ValidationError{Reason: "initial capital must be positive"}
	case cfg.CommissionRate.IsNegative():
		return &ValidationError{Reason: "commission rate cannot be negative"}
	case cfg.SlippageBps.IsNegative():
		return &ValidationError{Reason: "slippage cannot be negative"}
	case cfg.PositionSizePct.IsNegative() || cfg.PositionSizePct.GreaterThan(decimal.NewFromInt(1)):
		return &ValidationError{Reason: "position size must be between 0 and 1"}
	}
	return nil
}
