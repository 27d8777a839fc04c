// Package builtins provides built-in strategy implementations used by the
// CLI and the test suite.
package builtins

import (
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/openquant/backtest/internal/domain"
	"github.com/openquant/backtest/internal/strategy"
)

// Compile-time interface check.
var _ strategy.Strategy = (*SMACross)(nil)

// SMACross is a simple moving average crossover strategy. It enters long
// when the short-period SMA crosses above the long-period SMA and exits
// when it crosses back below. An optional stop-loss percentage converts a
// crossing of the stop price into a stop signal.
type SMACross struct {
	shortPeriod int
	longPeriod  int
	stopLossPct decimal.Decimal // zero disables the stop
}

// NewSMACross creates a new SMACross strategy with the specified short and
// long moving average periods.
func NewSMACross(short, long int, stopLossPct decimal.Decimal) (*SMACross, error) {
	if short < 1 || long <= short {
		return nil, fmt.Errorf("invalid sma periods: short=%d long=%d", short, long)
	}
	return &SMACross{
		shortPeriod: short,
		longPeriod:  long,
		stopLossPct: stopLossPct,
	}, nil
}

// Factory builds an SMACross from run parameters. Recognised keys:
// "short" (default 9), "long" (default 21), "stop_loss_pct" (default 0).
func Factory(params map[string]string) (strategy.Strategy, error) {
	short, long := 9, 21
	stop := decimal.Zero

	if v, ok := params["short"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("parsing short period: %w", err)
		}
		short = n
	}
	if v, ok := params["long"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("parsing long period: %w", err)
		}
		long = n
	}
	if v, ok := params["stop_loss_pct"]; ok {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return nil, fmt.Errorf("parsing stop_loss_pct: %w", err)
		}
		stop = d
	}

	return NewSMACross(short, long, stop)
}

// ID returns the registry id of the strategy.
func (s *SMACross) ID() string {
	return "sma_cross"
}

// WarmupBars returns the long period plus one bar for crossover detection.
func (s *SMACross) WarmupBars() int {
	return s.longPeriod + 1
}

// Evaluate detects crossovers on the bar window ending at the current bar.
func (s *SMACross) Evaluate(bars []domain.Bar, position *domain.Position) domain.Signal {
	if len(bars) < s.longPeriod+1 {
		return domain.Signal{}
	}

	shortNow := sma(bars, len(bars)-1, s.shortPeriod)
	longNow := sma(bars, len(bars)-1, s.longPeriod)
	shortPrev := sma(bars, len(bars)-2, s.shortPeriod)
	longPrev := sma(bars, len(bars)-2, s.longPeriod)

	current := bars[len(bars)-1]

	if position != nil {
		if !s.stopLossPct.IsZero() && position.Side == domain.SideLong {
			stopPrice := position.EntryPrice.Mul(decimal.NewFromInt(1).Sub(s.stopLossPct))
			if current.Low.LessThanOrEqual(stopPrice) {
				return domain.Signal{Stop: true}
			}
		}
		if shortPrev.GreaterThanOrEqual(longPrev) && shortNow.LessThan(longNow) {
			return domain.Signal{Exit: true}
		}
		return domain.Signal{}
	}

	if shortPrev.LessThanOrEqual(longPrev) && shortNow.GreaterThan(longNow) {
		return domain.Signal{Entry: true, Side: domain.SideLong}
	}
	return domain.Signal{}
}

// sma computes the simple moving average of closes over the period ending
// at index end (inclusive).
func sma(bars []domain.Bar, end, period int) decimal.Decimal {
	sum := decimal.Zero
	for i := end - period + 1; i <= end; i++ {
		sum = sum.Add(bars[i].Close)
	}
	return sum.Div(decimal.NewFromInt(int64(period)))
}
