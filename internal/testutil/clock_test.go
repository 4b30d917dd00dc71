package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManualClock_DefaultEpoch(t *testing.T) {
	clock := NewManualClock(time.Time{})
	assert.Equal(t, DefaultEpoch, clock.Now())
}

func TestManualClock_Frozen(t *testing.T) {
	clock := NewManualClock(time.Time{})
	first := clock.Now()
	time.Sleep(time.Millisecond)
	assert.Equal(t, first, clock.Now())
}

func TestManualClock_AdvanceAndSet(t *testing.T) {
	clock := NewManualClock(time.Time{})

	got := clock.Advance(30 * time.Second)
	assert.Equal(t, DefaultEpoch.Add(30*time.Second), got)
	assert.Equal(t, got, clock.Now())

	later := time.Date(2027, 5, 1, 0, 0, 0, 0, time.UTC)
	clock.Set(later)
	assert.Equal(t, later, clock.Now())
}

func TestManualClock_ConcurrentAdvance(t *testing.T) {
	clock := NewManualClock(time.Time{})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				clock.Advance(time.Second)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, DefaultEpoch.Add(1000*time.Second), clock.Now())
}
