package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/grove/internal/clock"
)

var _ clock.Clock = (*FakeClock)(nil)

func TestFakeClock_Frozen(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	c := NewFakeClock(start)

	assert.True(t, start.Equal(c.Now()))
	assert.True(t, start.Equal(c.Now()))
}

func TestFakeClock_AdvanceAndSet(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	c := NewFakeClock(start)

	got := c.Advance(90 * time.Second)
	assert.True(t, start.Add(90*time.Second).Equal(got))
	assert.True(t, got.Equal(c.Now()))

	c.Set(start.Add(-time.Hour))
	assert.True(t, start.Add(-time.Hour).Equal(c.Now()))
}

func TestFakeClock_ThreadSafe(t *testing.T) {
	c := NewFakeClock(time.Unix(0, 0))
	const goroutines = 50

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			c.Advance(time.Second)
			_ = c.Now()
		}()
	}
	wg.Wait()

	assert.True(t, time.Unix(goroutines, 0).Equal(c.Now()))
}
