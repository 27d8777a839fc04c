package backtest

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/openquant/backtest/internal/domain"
)

func TestReporter_ZeroTradeRun(t *testing.T) {
	capital := decimal.NewFromInt(10000)
	result := &Result{
		Metrics: CalculateMetrics(nil, nil, capital, "1h"),
	}

	report := NewReporter().GenerateReport(result, capital)

	assert.Contains(t, report, "Closed Trades:        0")
	// Nil trade-dependent fields are omitted, not rendered as zeros.
	assert.NotContains(t, report, "Win Rate")
	assert.NotContains(t, report, "Sharpe Ratio")
	assert.NotContains(t, report, "Profit Factor")
}

func TestReporter_Summary(t *testing.T) {
	winRate := decimal.NewFromInt(60)
	m := &domain.PerformanceMetrics{
		TotalReturnPct: decimal.NewFromInt(12),
		TotalTrades:    5,
		WinRate:        &winRate,
	}

	summary := NewReporter().GenerateSummary(m)
	assert.Contains(t, summary, "Trades: 5")
	assert.Contains(t, summary, "60.00%")

	m.WinRate = nil
	assert.Contains(t, NewReporter().GenerateSummary(m), "Win Rate: n/a")
}

func TestReporter_TradeLogSkipsEntries(t *testing.T) {
	trades := []domain.Trade{
		{SignalType: domain.SignalEntry, EntryPrice: decimal.NewFromInt(100)},
		{SignalType: domain.SignalExit,
			EntryPrice: decimal.NewFromInt(100), ExitPrice: decimal.NewFromInt(110),
			Quantity: decimal.NewFromInt(2), PnL: decimal.NewFromInt(19)},
	}

	log := NewReporter().GenerateTradeLog(trades)
	assert.Contains(t, log, "Trade #1")
	assert.NotContains(t, log, "Trade #2")
	assert.Contains(t, log, "[PROFIT]")
}
