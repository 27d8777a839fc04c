package builtins

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openquant/backtest/internal/domain"
	"github.com/openquant/backtest/internal/testutils"
)

func TestNewSMACross_Validation(t *testing.T) {
	_, err := NewSMACross(0, 10, decimal.Zero)
	assert.Error(t, err)

	_, err = NewSMACross(10, 10, decimal.Zero)
	assert.Error(t, err)

	_, err = NewSMACross(10, 5, decimal.Zero)
	assert.Error(t, err)

	s, err := NewSMACross(3, 5, decimal.Zero)
	require.NoError(t, err)
	assert.Equal(t, 6, s.WarmupBars())
}

func TestFactory(t *testing.T) {
	s, err := Factory(map[string]string{"short": "5", "long": "10"})
	require.NoError(t, err)
	assert.Equal(t, 11, s.WarmupBars())

	_, err = Factory(map[string]string{"short": "abc"})
	assert.Error(t, err)

	_, err = Factory(map[string]string{"stop_loss_pct": "nope"})
	assert.Error(t, err)

	// Defaults apply with no params.
	s, err = Factory(nil)
	require.NoError(t, err)
	assert.Equal(t, 22, s.WarmupBars())
}

func TestSMACross_EntryOnBullishCrossover(t *testing.T) {
	s, err := NewSMACross(2, 4, decimal.Zero)
	require.NoError(t, err)

	// Flat prices, then a sharp rise pulls the short SMA above the long.
	bars := testutils.FlatBars(6, 100)
	bars = append(bars, testutils.Bar(6, 120))

	sig := s.Evaluate(bars, nil)
	assert.True(t, sig.Entry)
	assert.Equal(t, domain.SideLong, sig.Side)
}

func TestSMACross_ExitOnBearishCrossover(t *testing.T) {
	s, err := NewSMACross(2, 4, decimal.Zero)
	require.NoError(t, err)

	bars := testutils.FlatBars(6, 100)
	bars = append(bars, testutils.Bar(6, 80))

	pos := &domain.Position{Side: domain.SideLong, EntryPrice: decimal.NewFromInt(100)}
	sig := s.Evaluate(bars, pos)
	assert.True(t, sig.Exit)
	assert.False(t, sig.Entry)
}

func TestSMACross_NoSignalDuringWarmup(t *testing.T) {
	s, err := NewSMACross(2, 4, decimal.Zero)
	require.NoError(t, err)

	sig := s.Evaluate(testutils.FlatBars(3, 100), nil)
	assert.Equal(t, domain.Signal{}, sig)
}

func TestSMACross_StopLoss(t *testing.T) {
	s, err := NewSMACross(2, 4, decimal.NewFromFloat(0.05))
	require.NoError(t, err)

	bars := testutils.FlatBars(7, 100)
	// Low of the current bar pierces the 5% stop below the 100 entry.
	bars[6].Low = decimal.NewFromInt(94)

	pos := &domain.Position{Side: domain.SideLong, EntryPrice: decimal.NewFromInt(100)}
	sig := s.Evaluate(bars, pos)
	assert.True(t, sig.Stop)
}

func TestSMACross_NoReentryWhilePositionOpen(t *testing.T) {
	s, err := NewSMACross(2, 4, decimal.Zero)
	require.NoError(t, err)

	bars := testutils.FlatBars(6, 100)
	bars = append(bars, testutils.Bar(6, 120))

	pos := &domain.Position{Side: domain.SideLong, EntryPrice: decimal.NewFromInt(100)}
	sig := s.Evaluate(bars, pos)
	assert.False(t, sig.Entry)
}
