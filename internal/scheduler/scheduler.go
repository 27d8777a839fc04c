// Package scheduler implements admission control for concurrent backtest
// runs: a bounded set of running slots and a FIFO queue of waiting runs.
// The scheduler holds no durable state; the persistent run record is the
// source of truth and the in-memory state is rebuilt empty on restart.
package scheduler

import (
	"sync"
)

// DefaultMaxConcurrent bounds simultaneous runs when no limit is given.
const DefaultMaxConcurrent = 5

// ConcurrencyManager grants run slots up to a fixed limit and queues the
// overflow in submission order. All slot and queue mutation goes through
// RequestSlot and ReleaseSlot.
type ConcurrencyManager struct {
	mu            sync.Mutex
	maxConcurrent int
	running       map[string]struct{}
	queue         []string
}

// NewConcurrencyManager creates a manager bounded by maxConcurrent.
func NewConcurrencyManager(maxConcurrent int) *ConcurrencyManager {
	if maxConcurrent < 1 {
		maxConcurrent = DefaultMaxConcurrent
	}
	return &ConcurrencyManager{
		maxConcurrent: maxConcurrent,
		running:       make(map[string]struct{}),
	}
}

// RequestSlot tries to grant a slot to the run. When the limit is reached
// the run is appended to the FIFO queue and its 1-based queue position is
// returned with granted=false. Requesting a slot for a run that is already
// running or queued is a no-op reporting its current state.
func (m *ConcurrencyManager) RequestSlot(runID string) (granted bool, queuePos int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.running[runID]; ok {
		return true, 0
	}
	for i, id := range m.queue {
		if id == runID {
			return false, i + 1
		}
	}

	if len(m.running) < m.maxConcurrent {
		m.running[runID] = struct{}{}
		return true, 0
	}

	m.queue = append(m.queue, runID)
	return false, len(m.queue)
}

// ReleaseSlot frees the run's slot. If the queue is non-empty the head is
// promoted into the freed slot and its id is returned so the caller can
// start its engine. Releasing an unknown run also removes it from the
// queue, covering cancellation of a queued run.
func (m *ConcurrencyManager) ReleaseSlot(runID string) (promoted string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.running[runID]; !ok {
		m.removeQueuedLocked(runID)
		return ""
	}
	delete(m.running, runID)

	if len(m.queue) == 0 {
		return ""
	}
	promoted = m.queue[0]
	m.queue = m.queue[1:]
	m.running[promoted] = struct{}{}
	return promoted
}

// QueuePosition returns the 1-based queue position of a run, or 0 when the
// run is not queued.
func (m *ConcurrencyManager) QueuePosition(runID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, id := range m.queue {
		if id == runID {
			return i + 1
		}
	}
	return 0
}

// IsRunning reports whether the run currently holds a slot.
func (m *ConcurrencyManager) IsRunning(runID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.running[runID]
	return ok
}

// Running returns a snapshot of the run ids holding slots.
func (m *ConcurrencyManager) Running() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(m.running))
	for id := range m.running {
		out = append(out, id)
	}
	return out
}

// QueueLen returns the number of queued runs.
func (m *ConcurrencyManager) QueueLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

func (m *ConcurrencyManager) removeQueuedLocked(runID string) {
	for i, id := range m.queue {
		if id == runID {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			return
		}
	}
}
