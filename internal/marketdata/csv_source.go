// Package marketdata supplies historical bars to the run service. The
// exchange retrieval layer is an external collaborator; this package reads
// the bar files it produces.
package marketdata

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/openquant/backtest/internal/backtest"
	"github.com/openquant/backtest/internal/domain"
)

// CSVSource loads bars from per-symbol CSV files under a data directory.
// Files are named <symbol>_<timeframe>.csv with "/" in symbols replaced
// by "-".
type CSVSource struct {
	dir    string
	loader *backtest.DataLoader
}

// NewCSVSource creates a source rooted at dir.
func NewCSVSource(dir string) *CSVSource {
	return &CSVSource{
		dir:    dir,
		loader: backtest.NewDataLoader(),
	}
}

// LoadBars returns the ordered, gap-annotated bars inside [start, end].
func (s *CSVSource) LoadBars(_ context.Context, symbol, timeframe string, start, end time.Time) ([]domain.Bar, error) {
	bars, err := s.loader.LoadFromCSV(s.path(symbol, timeframe), timeframe)
	if err != nil {
		return nil, fmt.Errorf("loading bars for %s %s: %w", symbol, timeframe, err)
	}

	out := bars[:0]
	for _, bar := range bars {
		if bar.Timestamp.Before(start) || bar.Timestamp.After(end) {
			continue
		}
		out = append(out, bar)
	}
	return out, nil
}

// BarCount is the data-sufficiency check used before admitting a run.
func (s *CSVSource) BarCount(ctx context.Context, symbol, timeframe string, start, end time.Time) (int, error) {
	bars, err := s.LoadBars(ctx, symbol, timeframe, start, end)
	if err != nil {
		return 0, err
	}
	return len(bars), nil
}

func (s *CSVSource) path(symbol, timeframe string) string {
	name := strings.ReplaceAll(symbol, "/", "-") + "_" + timeframe + ".csv"
	return filepath.Join(s.dir, name)
}

// StaticSource serves a fixed bar slice, used by tests and the CLI.
type StaticSource struct {
	Bars []domain.Bar
}

// LoadBars returns the fixed bars inside [start, end].
func (s *StaticSource) LoadBars(_ context.Context, _, _ string, start, end time.Time) ([]domain.Bar, error) {
	out := make([]domain.Bar, 0, len(s.Bars))
	for _, bar := range s.Bars {
		if bar.Timestamp.Before(start) || bar.Timestamp.After(end) {
			continue
		}
		out = append(out, bar)
	}
	return out, nil
}

// BarCount counts the fixed bars inside [start, end].
func (s *StaticSource) BarCount(ctx context.Context, symbol, timeframe string, start, end time.Time) (int, error) {
	bars, err := s.LoadBars(ctx, symbol, timeframe, start, end)
	if err != nil {
		return 0, err
	}
	return len(bars), nil
}
