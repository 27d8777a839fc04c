package scheduler

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConcurrencyManager_BoundedAdmission(t *testing.T) {
	m := NewConcurrencyManager(2)

	var queued []int
	for i := 1; i <= 5; i++ {
		granted, pos := m.RequestSlot(fmt.Sprintf("run-%d", i))
		if i <= 2 {
			assert.True(t, granted, "run-%d should get a slot", i)
			assert.Equal(t, 0, pos)
		} else {
			assert.False(t, granted, "run-%d should queue", i)
			queued = append(queued, pos)
		}
	}

	assert.Equal(t, []int{1, 2, 3}, queued)
	assert.Equal(t, 3, m.QueueLen())
	assert.Len(t, m.Running(), 2)
}

func TestConcurrencyManager_FIFOPromotion(t *testing.T) {
	m := NewConcurrencyManager(1)

	m.RequestSlot("a")
	m.RequestSlot("b")
	m.RequestSlot("c")

	promoted := m.ReleaseSlot("a")
	assert.Equal(t, "b", promoted)
	assert.True(t, m.IsRunning("b"))
	assert.Equal(t, 1, m.QueuePosition("c"))

	promoted = m.ReleaseSlot("b")
	assert.Equal(t, "c", promoted)

	promoted = m.ReleaseSlot("c")
	assert.Empty(t, promoted)
	assert.Empty(t, m.Running())
}

func TestConcurrencyManager_IdempotentRequest(t *testing.T) {
	m := NewConcurrencyManager(1)

	granted, _ := m.RequestSlot("a")
	assert.True(t, granted)
	granted, _ = m.RequestSlot("a")
	assert.True(t, granted)
	assert.Len(t, m.Running(), 1)

	_, pos := m.RequestSlot("b")
	assert.Equal(t, 1, pos)
	_, pos = m.RequestSlot("b")
	assert.Equal(t, 1, pos)
	assert.Equal(t, 1, m.QueueLen())
}

func TestConcurrencyManager_ReleaseQueuedRun(t *testing.T) {
	m := NewConcurrencyManager(1)

	m.RequestSlot("a")
	m.RequestSlot("b")
	m.RequestSlot("c")

	// Cancelling a queued run removes it without promoting anyone.
	promoted := m.ReleaseSlot("b")
	assert.Empty(t, promoted)
	assert.Equal(t, 1, m.QueuePosition("c"))
	assert.True(t, m.IsRunning("a"))
}

func TestConcurrencyManager_ReleaseUnknownRun(t *testing.T) {
	m := NewConcurrencyManager(1)

	m.RequestSlot("a")
	promoted := m.ReleaseSlot("ghost")
	assert.Empty(t, promoted)
	assert.True(t, m.IsRunning("a"))
}

func TestNewConcurrencyManager_DefaultLimit(t *testing.T) {
	m := NewConcurrencyManager(0)

	for i := 0; i < DefaultMaxConcurrent; i++ {
		granted, _ := m.RequestSlot(fmt.Sprintf("run-%d", i))
		assert.True(t, granted)
	}
	granted, _ := m.RequestSlot("overflow")
	assert.False(t, granted)
}
