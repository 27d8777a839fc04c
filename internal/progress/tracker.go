// Package progress provides an in-memory tracker for the bar-count progress
// of active backtest runs. Records are transient: they are removed on run
// completion or swept after a staleness window.
package progress

import (
	"sync"
	"time"
)

// DefaultStaleAfter is the staleness window after which records are swept.
const DefaultStaleAfter = 24 * time.Hour

// Record is one run's progress snapshot.
type Record struct {
	RunID         string    `json:"run_id"`
	BarsProcessed int       `json:"bars_processed"`
	TotalBars     int       `json:"total_bars"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Percentage returns completion in the range 0-100.
func (r Record) Percentage() float64 {
	if r.TotalBars == 0 {
		return 0
	}
	return float64(r.BarsProcessed) / float64(r.TotalBars) * 100
}

// Tracker is a concurrent map of run progress. Reads are frequent (status
// polling) and take only a read lock; writes assign a single map entry.
type Tracker struct {
	mu      sync.RWMutex
	records map[string]Record
	now     func() time.Time
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		records: make(map[string]Record),
		now:     time.Now,
	}
}

// Set records progress for a run.
func (t *Tracker) Set(runID string, barsProcessed, totalBars int) {
	t.mu.Lock()
	t.records[runID] = Record{
		RunID:         runID,
		BarsProcessed: barsProcessed,
		TotalBars:     totalBars,
		UpdatedAt:     t.now(),
	}
	t.mu.Unlock()
}

// Get returns the progress record for a run, if present.
func (t *Tracker) Get(runID string) (Record, bool) {
	t.mu.RLock()
	rec, ok := t.records[runID]
	t.mu.RUnlock()
	return rec, ok
}

// Remove deletes a run's record, typically on completion.
func (t *Tracker) Remove(runID string) {
	t.mu.Lock()
	delete(t.records, runID)
	t.mu.Unlock()
}

// Len returns the number of tracked runs.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.records)
}

// SweepStale removes records older than the given window and returns how
// many were removed.
func (t *Tracker) SweepStale(staleAfter time.Duration) int {
	cutoff := t.now().Add(-staleAfter)

	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for id, rec := range t.records {
		if rec.UpdatedAt.Before(cutoff) {
			delete(t.records, id)
			removed++
		}
	}
	return removed
}

// StartSweeper launches a goroutine that periodically sweeps stale records
// until stop is closed.
func (t *Tracker) StartSweeper(interval, staleAfter time.Duration, stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				t.SweepStale(staleAfter)
			case <-stop:
				return
			}
		}
	}()
}
