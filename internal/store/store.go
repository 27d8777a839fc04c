// Package store defines the persistence interface for backtest runs,
// trades, and results, with a SQLite-backed implementation.
package store

import (
	"context"
	"errors"

	"github.com/openquant/backtest/internal/backtest"
	"github.com/openquant/backtest/internal/domain"
)

var (
	// ErrNotFound is returned when no record exists for the given id.
	ErrNotFound = errors.New("record not found")
	// ErrTerminal is returned when updating a run already in a terminal
	// state. Terminal states are immutable.
	ErrTerminal = errors.New("run is in a terminal state")
)

// Result bundles a completed (or partially completed) run's persisted
// output.
type Result struct {
	Metrics     *domain.PerformanceMetrics `json:"metrics"`
	EquityCurve []domain.EquityPoint       `json:"equity_curve"`
	SampleMeta  backtest.CurveSampleMeta   `json:"sample_meta"`
}

// RunStore persists and retrieves backtest run state. Run rows are
// single-writer: only the owning engine (or restart recovery, for
// ownerless runs) mutates a run.
type RunStore interface {
	// SaveRun inserts a new run record.
	SaveRun(ctx context.Context, run *domain.Run) error

	// GetRun retrieves a run by id.
	GetRun(ctx context.Context, id string) (*domain.Run, error)

	// ListRuns returns runs matching status, or all runs when status is
	// empty, newest first.
	ListRuns(ctx context.Context, status domain.RunStatus) ([]domain.Run, error)

	// UpdateStatus transitions a run's status and timestamps. It fails
	// with ErrTerminal when the stored status is already terminal.
	UpdateStatus(ctx context.Context, id string, status domain.RunStatus, errType domain.ErrorType, errMsg string) error

	// SaveCheckpoint persists mid-run progress for crash recovery.
	SaveCheckpoint(ctx context.Context, runID string, cp domain.Checkpoint) error

	// ResetForResume is the single sanctioned exception to terminal-state
	// immutability: it moves an interrupted run back to pending with the
	// given config (StartBar advanced past the checkpoint), preserving the
	// checkpoint and trade list. Any other stored status is rejected.
	ResetForResume(ctx context.Context, runID string, cfg domain.RunConfig) error

	// ReplaceTrades replaces the trade list of a run.
	ReplaceTrades(ctx context.Context, runID string, trades []domain.Trade) error

	// GetTrades returns a run's trades in execution order.
	GetTrades(ctx context.Context, runID string) ([]domain.Trade, error)

	// SaveResult persists metrics and the sampled equity curve.
	SaveResult(ctx context.Context, runID string, res *Result) error

	// GetResult retrieves a run's persisted result.
	GetResult(ctx context.Context, runID string) (*Result, error)

	// Close releases the underlying storage.
	Close() error
}
