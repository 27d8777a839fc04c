// Package domain defines the core types shared across the backtest engine:
// bars, runs, positions, trades, signals, and performance metrics.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of a position or fill.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// TradeSide is the direction of an individual fill.
type TradeSide string

const (
	TradeSideBuy  TradeSide = "buy"
	TradeSideSell TradeSide = "sell"
)

// SignalType classifies what triggered a fill.
type SignalType string

const (
	SignalEntry SignalType = "entry"
	SignalExit  SignalType = "exit"
	SignalStop  SignalType = "stop"
)

// Bar is one OHLCV time-series sample. Gap marks a bar whose expected
// predecessor is missing from the source data.
type Bar struct {
	Timestamp time.Time
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
	Gap       bool
}

// Signal is the decision produced by evaluating strategy rules against the
// current bar and position state.
type Signal struct {
	Entry bool
	Exit  bool
	Stop  bool
	Side  Side // side for an entry signal
}

// Position is the single open position of a run.
type Position struct {
	Side       Side
	EntryPrice decimal.Decimal
	Quantity   decimal.Decimal
	EntryTime  time.Time
	StopLoss   *decimal.Decimal
	TakeProfit *decimal.Decimal

	// UnrealizedPnL is recomputed every bar from the current close.
	UnrealizedPnL decimal.Decimal
}

// UpdateUnrealized recomputes unrealized P/L against the given close price.
func (p *Position) UpdateUnrealized(close decimal.Decimal) {
	diff := close.Sub(p.EntryPrice)
	if p.Side == SideShort {
		diff = diff.Neg()
	}
	p.UnrealizedPnL = diff.Mul(p.Quantity)
}

// Trade is an immutable record of one fill.
type Trade struct {
	ID         string          `json:"id"`
	RunID      string          `json:"run_id"`
	Side       TradeSide       `json:"side"`
	SignalType SignalType      `json:"signal_type"`
	Quantity   decimal.Decimal `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
	Fee        decimal.Decimal `json:"fee"`
	Time       time.Time       `json:"time"`

	// PnL is zero for entry fills and the realized net P/L for exits.
	PnL decimal.Decimal `json:"pnl"`

	// DurationSec is the holding time in seconds, set on exit fills only.
	DurationSec int64 `json:"duration_sec,omitempty"`

	EntryPrice decimal.Decimal `json:"entry_price"`
	ExitPrice  decimal.Decimal `json:"exit_price"`
}

// EquityPoint is one sample of the portfolio value over time.
type EquityPoint struct {
	Time  time.Time       `json:"timestamp"`
	Value decimal.Decimal `json:"value"`

	// TradeBoundary marks points generated by a trade entry or exit. Curve
	// sampling preserves these preferentially.
	TradeBoundary bool `json:"-"`
}

// PerformanceMetrics aggregates statistics over a completed trade list and
// equity series. Trade-dependent fields are pointers: a zero-trade run
// reports them as null rather than zero.
type PerformanceMetrics struct {
	TotalReturn    decimal.Decimal `json:"total_return"`
	TotalReturnPct decimal.Decimal `json:"total_return_pct"`
	FinalCapital   decimal.Decimal `json:"final_capital"`

	MaxDrawdown    decimal.Decimal `json:"max_drawdown"`
	MaxDrawdownPct decimal.Decimal `json:"max_drawdown_pct"`

	TotalTrades   int `json:"total_trades"`
	WinningTrades int `json:"winning_trades"`
	LosingTrades  int `json:"losing_trades"`

	WinRate      *decimal.Decimal `json:"win_rate"`
	SharpeRatio  *decimal.Decimal `json:"sharpe_ratio"`
	ProfitFactor *decimal.Decimal `json:"profit_factor"`
	AvgWin       *decimal.Decimal `json:"avg_win"`
	AvgLoss      *decimal.Decimal `json:"avg_loss"`

	MaxConsecutiveWins   int `json:"max_consecutive_wins"`
	MaxConsecutiveLosses int `json:"max_consecutive_losses"`

	// AvgTradeDurationSec is the mean holding time of closed trades.
	AvgTradeDurationSec *int64 `json:"avg_trade_duration_sec"`
}
