package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RunStatus is the lifecycle state of a backtest run.
type RunStatus string

const (
	StatusPending   RunStatus = "pending"
	StatusQueued    RunStatus = "queued"
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusStopped   RunStatus = "stopped"
	StatusError     RunStatus = "error"
)

// Terminal reports whether the status is final. Terminal states are
// immutable once written.
func (s RunStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusStopped, StatusError:
		return true
	}
	return false
}

// ErrorType classifies why a run ended in the error state.
type ErrorType string

const (
	ErrorValidation   ErrorType = "validation_error"
	ErrorInsufficient ErrorType = "insufficient_data"
	ErrorOutOfCapital ErrorType = "out_of_capital"
	ErrorExecution    ErrorType = "execution_error"
	ErrorInterrupted  ErrorType = "interrupted"
)

// RunConfig is the snapshot of every parameter needed to exactly reproduce
// a run.
type RunConfig struct {
	StrategyID     string            `json:"strategy_id" yaml:"strategy_id"`
	StrategyParams map[string]string `json:"strategy_params,omitempty" yaml:"strategy_params"`
	Symbol         string            `json:"symbol" yaml:"symbol"`
	Timeframe      string            `json:"timeframe" yaml:"timeframe"`
	Start          time.Time         `json:"start" yaml:"start"`
	End            time.Time         `json:"end" yaml:"end"`
	InitialCapital decimal.Decimal   `json:"initial_capital" yaml:"initial_capital"`
	CommissionRate decimal.Decimal   `json:"commission_rate" yaml:"commission_rate"`
	SlippageBps    decimal.Decimal   `json:"slippage_bps" yaml:"slippage_bps"`

	// PositionSizePct is the fraction of current capital deployed on each
	// entry. Zero or unset means the full available capital.
	PositionSizePct decimal.Decimal `json:"position_size_pct,omitempty" yaml:"position_size_pct"`

	// StartBar is 0 for fresh runs. A resume sets it to the checkpoint's
	// bar index plus one.
	StartBar int `json:"start_bar,omitempty" yaml:"start_bar"`
}

// Checkpoint is periodically persisted mid-run progress enabling crash
// detection and resume.
type Checkpoint struct {
	BarIndex   int             `json:"bar_index"`
	Equity     decimal.Decimal `json:"equity"`
	TradeCount int             `json:"trade_count"`
	At         time.Time       `json:"at"`
}

// Run is one backtest execution of a strategy over a bar range.
type Run struct {
	ID     string    `json:"id"`
	Config RunConfig `json:"config"`
	Status RunStatus `json:"status"`

	ErrorType    ErrorType `json:"error_type,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`

	QueuedAt  *time.Time `json:"queued_at,omitempty"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`

	Checkpoint *Checkpoint `json:"checkpoint,omitempty"`
}

// TimeframeDuration converts a timeframe string like "1m", "15m", "1h",
// "4h", "1d" into a duration. Unknown timeframes default to one hour.
func TimeframeDuration(tf string) time.Duration {
	switch tf {
	case "1m":
		return time.Minute
	case "5m":
		return 5 * time.Minute
	case "15m":
		return 15 * time.Minute
	case "30m":
		return 30 * time.Minute
	case "1h":
		return time.Hour
	case "4h":
		return 4 * time.Hour
	case "1d":
		return 24 * time.Hour
	default:
		return time.Hour
	}
}
