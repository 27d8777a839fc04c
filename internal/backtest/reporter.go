package backtest

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openquant/backtest/internal/domain"
)

// Reporter generates text reports from backtest results
type Reporter struct{}

// NewReporter creates a new reporter
func NewReporter() *Reporter {
	return &Reporter{}
}

// GenerateReport generates a formatted text report
func (r *Reporter) GenerateReport(result *Result, initialCapital decimal.Decimal) string {
	m := result.Metrics
	var sb strings.Builder

	sb.WriteString("═══════════════════════════════════════════════════════\n")
	sb.WriteString("           BACKTEST PERFORMANCE REPORT\n")
	sb.WriteString("═══════════════════════════════════════════════════════\n\n")

	sb.WriteString("OVERALL PERFORMANCE\n")
	sb.WriteString("───────────────────────────────────────────────────────\n")
	sb.WriteString(fmt.Sprintf("Initial Capital:      $%s\n", initialCapital.StringFixed(2)))
	sb.WriteString(fmt.Sprintf("Final Capital:        $%s\n", m.FinalCapital.StringFixed(2)))
	sb.WriteString(fmt.Sprintf("Total Return:         $%s (%.2f%%)\n",
		m.TotalReturn.StringFixed(2),
		m.TotalReturnPct.InexactFloat64()))
	sb.WriteString(fmt.Sprintf("Max Drawdown:         $%s (%.2f%%)\n",
		m.MaxDrawdown.StringFixed(2),
		m.MaxDrawdownPct.InexactFloat64()))
	if m.SharpeRatio != nil {
		sb.WriteString(fmt.Sprintf("Sharpe Ratio:         %.2f\n", m.SharpeRatio.InexactFloat64()))
	}
	sb.WriteString("\n")

	sb.WriteString("TRADE STATISTICS\n")
	sb.WriteString("───────────────────────────────────────────────────────\n")
	sb.WriteString(fmt.Sprintf("Closed Trades:        %d\n", m.TotalTrades))
	sb.WriteString(fmt.Sprintf("Winning Trades:       %d\n", m.WinningTrades))
	sb.WriteString(fmt.Sprintf("Losing Trades:        %d\n", m.LosingTrades))
	if m.WinRate != nil {
		sb.WriteString(fmt.Sprintf("Win Rate:             %.2f%%\n", m.WinRate.InexactFloat64()))
	}
	if m.ProfitFactor != nil {
		sb.WriteString(fmt.Sprintf("Profit Factor:        %.2f\n", m.ProfitFactor.InexactFloat64()))
	}
	if m.AvgWin != nil {
		sb.WriteString(fmt.Sprintf("Avg Win:              $%s\n", m.AvgWin.StringFixed(2)))
	}
	if m.AvgLoss != nil {
		sb.WriteString(fmt.Sprintf("Avg Loss:             $%s\n", m.AvgLoss.StringFixed(2)))
	}
	sb.WriteString(fmt.Sprintf("Max Win Streak:       %d\n", m.MaxConsecutiveWins))
	sb.WriteString(fmt.Sprintf("Max Loss Streak:      %d\n", m.MaxConsecutiveLosses))
	if m.AvgTradeDurationSec != nil {
		sb.WriteString(fmt.Sprintf("Avg Trade Duration:   %s\n",
			formatDuration(time.Duration(*m.AvgTradeDurationSec)*time.Second)))
	}
	sb.WriteString("\n")

	sb.WriteString(fmt.Sprintf("Equity Curve Points:  %d", len(result.EquityCurve)))
	if result.SampleMeta.Sampled {
		sb.WriteString(fmt.Sprintf(" (sampled from %d)", result.SampleMeta.OriginalLength))
	}
	sb.WriteString("\n")

	sb.WriteString("═══════════════════════════════════════════════════════\n")

	return sb.String()
}

// GenerateSummary generates a one-line summary
func (r *Reporter) GenerateSummary(m *domain.PerformanceMetrics) string {
	winRate := "n/a"
	if m.WinRate != nil {
		winRate = fmt.Sprintf("%.2f%%", m.WinRate.InexactFloat64())
	}
	return fmt.Sprintf(
		"Return: %.2f%% | Trades: %d | Win Rate: %s | Max DD: %.2f%%",
		m.TotalReturnPct.InexactFloat64(),
		m.TotalTrades,
		winRate,
		m.MaxDrawdownPct.InexactFloat64(),
	)
}

// GenerateTradeLog generates a detailed trade log of exit fills
func (r *Reporter) GenerateTradeLog(trades []domain.Trade) string {
	var sb strings.Builder

	sb.WriteString("═══════════════════════════════════════════════════════\n")
	sb.WriteString("                     TRADE LOG\n")
	sb.WriteString("═══════════════════════════════════════════════════════\n\n")

	i := 0
	for _, trade := range trades {
		if trade.SignalType == domain.SignalEntry {
			continue
		}
		i++
		sb.WriteString(fmt.Sprintf("Trade #%d\n", i))
		sb.WriteString("───────────────────────────────────────────────────────\n")
		sb.WriteString(fmt.Sprintf("Side:            %s\n", trade.Side))
		sb.WriteString(fmt.Sprintf("Signal:          %s\n", trade.SignalType))
		sb.WriteString(fmt.Sprintf("Exit Time:       %s\n", trade.Time.Format(time.RFC3339)))
		sb.WriteString(fmt.Sprintf("Duration:        %s\n", formatDuration(time.Duration(trade.DurationSec)*time.Second)))
		sb.WriteString(fmt.Sprintf("Entry Price:     $%s\n", trade.EntryPrice.StringFixed(2)))
		sb.WriteString(fmt.Sprintf("Exit Price:      $%s\n", trade.ExitPrice.StringFixed(2)))
		sb.WriteString(fmt.Sprintf("Quantity:        %s\n", trade.Quantity.StringFixed(4)))
		sb.WriteString(fmt.Sprintf("Fee:             $%s\n", trade.Fee.StringFixed(2)))

		pnlStatus := "PROFIT"
		if trade.PnL.LessThan(decimal.Zero) {
			pnlStatus = "LOSS"
		}
		sb.WriteString(fmt.Sprintf("P&L:             $%s [%s]\n\n", trade.PnL.StringFixed(2), pnlStatus))
	}

	sb.WriteString("═══════════════════════════════════════════════════════\n")

	return sb.String()
}

// formatDuration formats a duration in a human-readable way
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		hours := int(d.Hours())
		minutes := int(d.Minutes()) % 60
		return fmt.Sprintf("%dh%dm", hours, minutes)
	}
	days := int(d.Hours() / 24)
	hours := int(d.Hours()) % 24
	return fmt.Sprintf("%dd%dh", days, hours)
}
