package store

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openquant/backtest/internal/backtest"
	"github.com/openquant/backtest/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	st, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func sampleRun(id string) *domain.Run {
	return &domain.Run{
		ID: id,
		Config: domain.RunConfig{
			StrategyID:     "sma_cross",
			Symbol:         "BTC-USD",
			Timeframe:      "1h",
			Start:          time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			End:            time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
			InitialCapital: decimal.NewFromInt(10000),
			CommissionRate: decimal.NewFromFloat(0.001),
			SlippageBps:    decimal.NewFromInt(5),
		},
		Status: domain.StatusPending,
	}
}

func TestSQLiteStore_SaveGetRun(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.SaveRun(ctx, sampleRun("run-1")))

	got, err := st.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "run-1", got.ID)
	assert.Equal(t, domain.StatusPending, got.Status)
	assert.Equal(t, "sma_cross", got.Config.StrategyID)
	assert.True(t, got.Config.InitialCapital.Equal(decimal.NewFromInt(10000)))
	assert.Nil(t, got.Checkpoint)
}

func TestSQLiteStore_GetRunNotFound(t *testing.T) {
	st := newTestStore(t)

	_, err := st.GetRun(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_UpdateStatus(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.SaveRun(ctx, sampleRun("run-1")))

	require.NoError(t, st.UpdateStatus(ctx, "run-1", domain.StatusQueued, "", ""))
	require.NoError(t, st.UpdateStatus(ctx, "run-1", domain.StatusRunning, "", ""))

	got, err := st.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRunning, got.Status)
	assert.NotNil(t, got.QueuedAt)
	assert.NotNil(t, got.StartedAt)
	assert.Nil(t, got.EndedAt)

	require.NoError(t, st.UpdateStatus(ctx, "run-1", domain.StatusCompleted, "", ""))
	got, err = st.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.NotNil(t, got.EndedAt)
}

func TestSQLiteStore_TerminalStatesAreImmutable(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.SaveRun(ctx, sampleRun("run-1")))
	require.NoError(t, st.UpdateStatus(ctx, "run-1", domain.StatusCompleted, "", ""))

	err := st.UpdateStatus(ctx, "run-1", domain.StatusRunning, "", "")
	assert.ErrorIs(t, err, ErrTerminal)

	err = st.UpdateStatus(ctx, "run-1", domain.StatusError, domain.ErrorExecution, "boom")
	assert.ErrorIs(t, err, ErrTerminal)

	got, _ := st.GetRun(ctx, "run-1")
	assert.Equal(t, domain.StatusCompleted, got.Status)
}

func TestSQLiteStore_UpdateStatusNotFound(t *testing.T) {
	st := newTestStore(t)

	err := st.UpdateStatus(context.Background(), "missing", domain.StatusRunning, "", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_ListRuns(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.SaveRun(ctx, sampleRun("run-1")))
	require.NoError(t, st.SaveRun(ctx, sampleRun("run-2")))
	require.NoError(t, st.UpdateStatus(ctx, "run-2", domain.StatusQueued, "", ""))

	all, err := st.ListRuns(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	queued, err := st.ListRuns(ctx, domain.StatusQueued)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, "run-2", queued[0].ID)
}

func TestSQLiteStore_SaveCheckpoint(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.SaveRun(ctx, sampleRun("run-1")))

	cp := domain.Checkpoint{
		BarIndex:   500,
		Equity:     decimal.NewFromInt(10250),
		TradeCount: 4,
		At:         time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, st.SaveCheckpoint(ctx, "run-1", cp))

	got, err := st.GetRun(ctx, "run-1")
	require.NoError(t, err)
	require.NotNil(t, got.Checkpoint)
	assert.Equal(t, 500, got.Checkpoint.BarIndex)
	assert.True(t, got.Checkpoint.Equity.Equal(decimal.NewFromInt(10250)))
	assert.Equal(t, 4, got.Checkpoint.TradeCount)

	assert.ErrorIs(t, st.SaveCheckpoint(ctx, "missing", cp), ErrNotFound)
}

func TestSQLiteStore_ResetForResume(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	run := sampleRun("run-1")
	require.NoError(t, st.SaveRun(ctx, run))
	require.NoError(t, st.SaveCheckpoint(ctx, "run-1", domain.Checkpoint{BarIndex: 999, Equity: decimal.NewFromInt(10500)}))
	require.NoError(t, st.UpdateStatus(ctx, "run-1", domain.StatusError, domain.ErrorInterrupted, "server restart"))

	cfg := run.Config
	cfg.StartBar = 1000
	require.NoError(t, st.ResetForResume(ctx, "run-1", cfg))

	got, err := st.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, got.Status)
	assert.Empty(t, got.ErrorType)
	assert.Nil(t, got.EndedAt)
	assert.Equal(t, 1000, got.Config.StartBar)
	// The checkpoint survives the reset.
	require.NotNil(t, got.Checkpoint)
	assert.Equal(t, 999, got.Checkpoint.BarIndex)
}

func TestSQLiteStore_ResetForResume_RejectsNonInterrupted(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	run := sampleRun("run-1")
	require.NoError(t, st.SaveRun(ctx, run))
	require.NoError(t, st.UpdateStatus(ctx, "run-1", domain.StatusCompleted, "", ""))

	assert.Error(t, st.ResetForResume(ctx, "run-1", run.Config))

	got, _ := st.GetRun(ctx, "run-1")
	assert.Equal(t, domain.StatusCompleted, got.Status)
}

func TestSQLiteStore_Trades(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.SaveRun(ctx, sampleRun("run-1")))

	trades := []domain.Trade{
		{
			ID: "t-1", RunID: "run-1", Side: domain.TradeSideBuy,
			SignalType: domain.SignalEntry,
			Quantity:   decimal.NewFromInt(2), Price: decimal.NewFromInt(100),
			Fee: decimal.NewFromFloat(0.2), Time: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			EntryPrice: decimal.NewFromInt(100),
		},
		{
			ID: "t-2", RunID: "run-1", Side: domain.TradeSideSell,
			SignalType: domain.SignalExit,
			Quantity:   decimal.NewFromInt(2), Price: decimal.NewFromInt(110),
			Fee: decimal.NewFromFloat(0.22), Time: time.Date(2024, 1, 1, 5, 0, 0, 0, time.UTC),
			PnL: decimal.NewFromFloat(19.58), DurationSec: 18000,
			EntryPrice: decimal.NewFromInt(100), ExitPrice: decimal.NewFromInt(110),
		},
	}
	require.NoError(t, st.ReplaceTrades(ctx, "run-1", trades))

	got, err := st.GetTrades(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "t-1", got[0].ID)
	assert.Equal(t, domain.SignalEntry, got[0].SignalType)
	assert.True(t, got[1].PnL.Equal(decimal.NewFromFloat(19.58)))
	assert.Equal(t, int64(18000), got[1].DurationSec)

	// Replacing again overwrites rather than appends.
	require.NoError(t, st.ReplaceTrades(ctx, "run-1", trades[:1]))
	got, err = st.GetTrades(ctx, "run-1")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestSQLiteStore_Results(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.SaveRun(ctx, sampleRun("run-1")))

	_, err := st.GetResult(ctx, "run-1")
	assert.ErrorIs(t, err, ErrNotFound)

	winRate := decimal.NewFromInt(50)
	res := &Result{
		Metrics: &domain.PerformanceMetrics{
			TotalReturn:  decimal.NewFromInt(1000),
			FinalCapital: decimal.NewFromInt(11000),
			TotalTrades:  2,
			WinRate:      &winRate,
		},
		EquityCurve: []domain.EquityPoint{
			{Time: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), Value: decimal.NewFromInt(10000)},
			{Time: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), Value: decimal.NewFromInt(11000)},
		},
		SampleMeta: backtest.CurveSampleMeta{Sampled: true, SampleRate: 3, OriginalLength: 2500},
	}
	require.NoError(t, st.SaveResult(ctx, "run-1", res))

	got, err := st.GetResult(ctx, "run-1")
	require.NoError(t, err)
	require.NotNil(t, got.Metrics)
	assert.True(t, got.Metrics.FinalCapital.Equal(decimal.NewFromInt(11000)))
	require.NotNil(t, got.Metrics.WinRate)
	assert.True(t, got.Metrics.WinRate.Equal(decimal.NewFromInt(50)))
	assert.Len(t, got.EquityCurve, 2)
	assert.Equal(t, 2500, got.SampleMeta.OriginalLength)

	// Saving again replaces the stored result.
	res.Metrics.FinalCapital = decimal.NewFromInt(12000)
	require.NoError(t, st.SaveResult(ctx, "run-1", res))
	got, err = st.GetResult(ctx, "run-1")
	require.NoError(t, err)
	assert.True(t, got.Metrics.FinalCapital.Equal(decimal.NewFromInt(12000)))
}
