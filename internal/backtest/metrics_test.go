package backtest

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openquant/backtest/internal/domain"
)

func exitTrade(pnl float64, durationSec int64) domain.Trade {
	return domain.Trade{
		SignalType:  domain.SignalExit,
		PnL:         decimal.NewFromFloat(pnl),
		DurationSec: durationSec,
	}
}

func TestCalculateMetrics_NoTrades(t *testing.T) {
	capital := decimal.NewFromInt(10000)
	curve := []domain.EquityPoint{
		{Time: time.Now(), Value: capital},
		{Time: time.Now().Add(time.Hour), Value: capital},
	}

	m := CalculateMetrics(nil, curve, capital, "1h")

	assert.Equal(t, 0, m.TotalTrades)
	assert.True(t, m.TotalReturn.IsZero())
	assert.Nil(t, m.WinRate)
	assert.Nil(t, m.SharpeRatio)
	assert.Nil(t, m.ProfitFactor)
	assert.Nil(t, m.AvgWin)
	assert.Nil(t, m.AvgLoss)
	assert.Nil(t, m.AvgTradeDurationSec)
}

func TestCalculateMetrics_EntriesAreNotClosedTrades(t *testing.T) {
	capital := decimal.NewFromInt(10000)
	trades := []domain.Trade{
		{SignalType: domain.SignalEntry},
		exitTrade(50, 3600),
		{SignalType: domain.SignalEntry},
		{SignalType: domain.SignalStop, PnL: decimal.NewFromInt(-20), DurationSec: 7200},
	}

	m := CalculateMetrics(trades, nil, capital, "1h")

	assert.Equal(t, 2, m.TotalTrades)
	assert.Equal(t, 1, m.WinningTrades)
	assert.Equal(t, 1, m.LosingTrades)
}

func TestCalculateMetrics_WinRateAndAverages(t *testing.T) {
	capital := decimal.NewFromInt(10000)
	trades := []domain.Trade{
		exitTrade(100, 3600),
		exitTrade(50, 3600),
		exitTrade(-30, 7200),
		exitTrade(0, 3600), // breakeven: counted, neither win nor loss
	}

	m := CalculateMetrics(trades, nil, capital, "1h")

	assert.Equal(t, 4, m.TotalTrades)
	assert.Equal(t, 2, m.WinningTrades)
	assert.Equal(t, 1, m.LosingTrades)

	require.NotNil(t, m.WinRate)
	assert.True(t, m.WinRate.Equal(decimal.NewFromInt(50)), "win rate = %s", m.WinRate)

	require.NotNil(t, m.AvgWin)
	assert.True(t, m.AvgWin.Equal(decimal.NewFromInt(75)))

	require.NotNil(t, m.AvgLoss)
	assert.True(t, m.AvgLoss.Equal(decimal.NewFromInt(30)))

	require.NotNil(t, m.ProfitFactor)
	assert.True(t, m.ProfitFactor.Equal(decimal.NewFromInt(5)), "profit factor = %s", m.ProfitFactor)

	require.NotNil(t, m.AvgTradeDurationSec)
	assert.Equal(t, int64(4500), *m.AvgTradeDurationSec)
}

func TestCalculateMetrics_ProfitFactorNilWithoutLosers(t *testing.T) {
	capital := decimal.NewFromInt(10000)
	trades := []domain.Trade{
		exitTrade(100, 3600),
		exitTrade(50, 3600),
	}

	m := CalculateMetrics(trades, nil, capital, "1h")

	assert.Nil(t, m.ProfitFactor)
	assert.Nil(t, m.AvgLoss)
	require.NotNil(t, m.WinRate)
	assert.True(t, m.WinRate.Equal(decimal.NewFromInt(100)))
}

func TestCalculateMetrics_ConsecutiveStreaks(t *testing.T) {
	capital := decimal.NewFromInt(10000)
	trades := []domain.Trade{
		exitTrade(10, 60),
		exitTrade(10, 60),
		exitTrade(10, 60),
		exitTrade(-5, 60),
		exitTrade(-5, 60),
		exitTrade(0, 60), // breakeven resets both streaks
		exitTrade(-5, 60),
		exitTrade(10, 60),
	}

	m := CalculateMetrics(trades, nil, capital, "1h")

	assert.Equal(t, 3, m.MaxConsecutiveWins)
	assert.Equal(t, 2, m.MaxConsecutiveLosses)
}

func TestMaxDrawdown(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	mk := func(i int, v int64) domain.EquityPoint {
		return domain.EquityPoint{Time: base.Add(time.Duration(i) * time.Hour), Value: decimal.NewFromInt(v)}
	}
	curve := []domain.EquityPoint{
		mk(0, 10000), mk(1, 12000), mk(2, 9000), mk(3, 11000), mk(4, 10500),
	}

	dd, ddPct := maxDrawdown(curve, decimal.NewFromInt(10000))

	assert.True(t, dd.Equal(decimal.NewFromInt(3000)), "dd = %s", dd)
	assert.True(t, ddPct.Equal(decimal.NewFromInt(25)), "ddPct = %s", ddPct)
}

func TestSharpeRatio_FlatCurveIsNil(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	curve := make([]domain.EquityPoint, 10)
	for i := range curve {
		curve[i] = domain.EquityPoint{Time: base.Add(time.Duration(i) * time.Hour), Value: decimal.NewFromInt(10000)}
	}

	_, ok := sharpeRatio(curve, "1h")
	assert.False(t, ok, "zero-variance returns must not produce a sharpe ratio")
}

func TestSharpeRatio_TooFewPoints(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	curve := []domain.EquityPoint{
		{Time: base, Value: decimal.NewFromInt(10000)},
		{Time: base.Add(time.Hour), Value: decimal.NewFromInt(10100)},
	}

	_, ok := sharpeRatio(curve, "1h")
	assert.False(t, ok)
}

func TestSharpeRatio_Positive(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	values := []int64{10000, 10100, 10150, 10300, 10320, 10500}
	curve := make([]domain.EquityPoint, len(values))
	for i, v := range values {
		curve[i] = domain.EquityPoint{Time: base.Add(time.Duration(i) * time.Hour), Value: decimal.NewFromInt(v)}
	}

	sharpe, ok := sharpeRatio(curve, "1h")
	require.True(t, ok)
	assert.True(t, sharpe.GreaterThan(decimal.Zero))
}
