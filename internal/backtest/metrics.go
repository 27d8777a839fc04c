package backtest

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openquant/backtest/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// CalculateMetrics aggregates performance statistics from a trade list and
// equity series. Only exit fills carry realized P/L and count as closed
// trades; breakeven trades count toward the total but are neither winners
// nor losers. A run with no closed trades reports nil for every
// trade-dependent field.
func CalculateMetrics(trades []domain.Trade, curve []domain.EquityPoint, initialCapital decimal.Decimal, timeframe string) *domain.PerformanceMetrics {
	m := &domain.PerformanceMetrics{
		FinalCapital: initialCapital,
	}
	if len(curve) > 0 {
		m.FinalCapital = curve[len(curve)-1].Value
	}

	m.TotalReturn = m.FinalCapital.Sub(initialCapital)
	if !initialCapital.IsZero() {
		m.TotalReturnPct = m.TotalReturn.Div(initialCapital).Mul(hundred)
	}
	m.MaxDrawdown, m.MaxDrawdownPct = maxDrawdown(curve, initialCapital)

	exits := closedTrades(trades)
	m.TotalTrades = len(exits)
	if len(exits) == 0 {
		return m
	}

	var totalProfit, totalLoss decimal.Decimal
	var totalDuration int64
	var winStreak, lossStreak int

	for _, t := range exits {
		totalDuration += t.DurationSec

		switch {
		case t.PnL.GreaterThan(decimal.Zero):
			m.WinningTrades++
			totalProfit = totalProfit.Add(t.PnL)
			winStreak++
			lossStreak = 0
		case t.PnL.LessThan(decimal.Zero):
			m.LosingTrades++
			totalLoss = totalLoss.Add(t.PnL.Abs())
			lossStreak++
			winStreak = 0
		default:
			winStreak = 0
			lossStreak = 0
		}

		if winStreak > m.MaxConsecutiveWins {
			m.MaxConsecutiveWins = winStreak
		}
		if lossStreak > m.MaxConsecutiveLosses {
			m.MaxConsecutiveLosses = lossStreak
		}
	}

	winRate := decimal.NewFromInt(int64(m.WinningTrades)).
		Div(decimal.NewFromInt(int64(m.TotalTrades))).Mul(hundred)
	m.WinRate = &winRate

	if m.WinningTrades > 0 {
		avgWin := totalProfit.Div(decimal.NewFromInt(int64(m.WinningTrades)))
		m.AvgWin = &avgWin
	}
	if m.LosingTrades > 0 {
		avgLoss := totalLoss.Div(decimal.NewFromInt(int64(m.LosingTrades)))
		m.AvgLoss = &avgLoss

		if !totalLoss.IsZero() {
			pf := totalProfit.Div(totalLoss)
			m.ProfitFactor = &pf
		}
	}

	avgDuration := totalDuration / int64(m.TotalTrades)
	m.AvgTradeDurationSec = &avgDuration

	if sharpe, ok := sharpeRatio(curve, timeframe); ok {
		m.SharpeRatio = &sharpe
	}

	return m
}

// closedTrades filters the trade list down to exit and stop fills.
func closedTrades(trades []domain.Trade) []domain.Trade {
	out := make([]domain.Trade, 0, len(trades)/2+1)
	for _, t := range trades {
		if t.SignalType == domain.SignalExit || t.SignalType == domain.SignalStop {
			out = append(out, t)
		}
	}
	return out
}

// maxDrawdown walks the equity curve tracking the running peak.
func maxDrawdown(curve []domain.EquityPoint, initialCapital decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	var maxDD, maxDDPct decimal.Decimal
	peak := initialCapital

	for _, point := range curve {
		if point.Value.GreaterThan(peak) {
			peak = point.Value
		}

		drawdown := peak.Sub(point.Value)
		if drawdown.GreaterThan(maxDD) {
			maxDD = drawdown
			if !peak.IsZero() {
				maxDDPct = drawdown.Div(peak).Mul(hundred)
			}
		}
	}

	return maxDD, maxDDPct
}

// sharpeRatio computes the annualized Sharpe ratio from point-to-point
// equity returns with a zero risk-free rate. Annualization assumes
// continuous 24/7 trading: the factor is the square root of the number of
// timeframe periods in a 365-day year.
func sharpeRatio(curve []domain.EquityPoint, timeframe string) (decimal.Decimal, bool) {
	if len(curve) < 3 {
		return decimal.Decimal{}, false
	}

	returns := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Value.InexactFloat64()
		if prev == 0 {
			continue
		}
		returns = append(returns, curve[i].Value.InexactFloat64()/prev-1)
	}
	if len(returns) < 2 {
		return decimal.Decimal{}, false
	}

	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(len(returns))

	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns) - 1)

	std := math.Sqrt(variance)
	if std == 0 {
		return decimal.Decimal{}, false
	}

	periodsPerYear := float64(365*24*time.Hour) / float64(domain.TimeframeDuration(timeframe))
	sharpe := mean / std * math.Sqrt(periodsPerYear)
	if math.IsNaN(sharpe) || math.IsInf(sharpe, 0) {
		return decimal.Decimal{}, false
	}

	return decimal.NewFromFloat(sharpe), true
}
