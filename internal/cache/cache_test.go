package cache

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/grove/internal/event"
	"github.com/roach88/grove/internal/eventlog"
	"github.com/roach88/grove/internal/state"
	"github.com/roach88/grove/internal/store"
)

func newLog(t *testing.T) *eventlog.Log {
	t.Helper()
	l, err := eventlog.Open(context.Background(), store.NewMemory(),
		eventlog.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		eventlog.WithPersistDelay(time.Hour))
	require.NoError(t, err)
	return l
}

func ts(h, m int) string {
	return event.FormatTime(time.Date(2026, 3, 2, h, m, 0, 0, time.UTC))
}

func TestState_MemoizedUntilAppend(t *testing.T) {
	log := newLog(t)
	c := New(log, state.DefaultRules(), WithLocation(time.UTC))

	s1 := c.State()
	s2 := c.State()
	assert.Same(t, s1, s2)

	log.Append(event.Event{Type: event.TypeEntityCreated, Timestamp: ts(8, 0), ClientID: "c1", EntityID: "a", Title: "a", Cost: 5})

	s3 := c.State()
	assert.NotSame(t, s1, s3)
	assert.InDelta(t, 5, s3.Soil().Available, 1e-9)

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.StateHits)
	assert.Equal(t, uint64(2), stats.StateMisses)
}

func TestState_InvalidatedOnReplaceAndErase(t *testing.T) {
	log := newLog(t)
	c := New(log, state.DefaultRules(), WithLocation(time.UTC))
	log.Append(event.Event{Type: event.TypeEntityCreated, Timestamp: ts(8, 0), ClientID: "c1", EntityID: "a", Title: "a", Cost: 5})
	require.Len(t, c.State().Active(), 1)

	log.ReplaceAll(nil)
	assert.Empty(t, c.State().Active())

	log.Append(event.Event{Type: event.TypeEntityCreated, Timestamp: ts(8, 0), ClientID: "c1", EntityID: "a", Title: "a", Cost: 5})
	require.Len(t, c.State().Active(), 1)
	log.Erase()
	assert.Empty(t, c.State().Active())
}

func TestWater_CachedWithinWindow(t *testing.T) {
	log := newLog(t)
	c := New(log, state.DefaultRules(), WithLocation(time.UTC))
	log.AppendMany([]event.Event{
		{Type: event.TypeEntityCreated, Timestamp: ts(7, 0), ClientID: "c1", EntityID: "a", Title: "a", Cost: 1},
		{Type: event.TypeEntityProgressed, Timestamp: ts(7, 30), ClientID: "c2", EntityID: "a"},
	})

	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	w := c.Water(now)
	assert.Equal(t, Water{Used: 1, Capacity: 3, Available: 2, ResetsAt: time.Date(2026, 3, 3, 6, 0, 0, 0, time.UTC)}, w)

	c.Water(now.Add(time.Hour))
	assert.Equal(t, uint64(1), c.Stats().WaterHits)
}

func TestWater_RecomputedAfterBoundary(t *testing.T) {
	log := newLog(t)
	c := New(log, state.DefaultRules(), WithLocation(time.UTC))
	log.AppendMany([]event.Event{
		{Type: event.TypeEntityCreated, Timestamp: ts(7, 0), ClientID: "c1", EntityID: "a", Title: "a", Cost: 1},
		{Type: event.TypeEntityProgressed, Timestamp: ts(7, 30), ClientID: "c2", EntityID: "a"},
	})

	assert.Equal(t, 1, c.Water(time.Date(2026, 3, 2, 23, 0, 0, 0, time.UTC)).Used)
	assert.Equal(t, 0, c.Water(time.Date(2026, 3, 3, 6, 0, 0, 0, time.UTC)).Used)
	assert.Equal(t, uint64(2), c.Stats().WaterMisses)
}

func TestWater_SelectiveInvalidation(t *testing.T) {
	log := newLog(t)
	c := New(log, state.DefaultRules(), WithLocation(time.UTC))
	log.Append(event.Event{Type: event.TypeEntityCreated, Timestamp: ts(7, 0), ClientID: "c1", EntityID: "a", Title: "a", Cost: 1})
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	c.Water(now)

	log.Append(event.Event{Type: event.TypeReflectionLogged, Timestamp: ts(8, 0), ClientID: "r1", Text: "calm"})
	c.Water(now)
	assert.Equal(t, uint64(1), c.Stats().WaterHits, "reflection leaves the water cache")

	log.Append(event.Event{Type: event.TypeEntityProgressed, Timestamp: ts(8, 30), ClientID: "w1", EntityID: "a"})
	assert.Equal(t, 1, c.Water(now).Used)
	assert.Equal(t, uint64(2), c.Stats().WaterMisses)
}

func TestWake_ClearsWater(t *testing.T) {
	log := newLog(t)
	c := New(log, state.DefaultRules(), WithLocation(time.UTC))
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	c.Water(now)
	c.Wake()
	c.Water(now)

	assert.Equal(t, uint64(0), c.Stats().WaterHits)
	assert.Equal(t, uint64(2), c.Stats().WaterMisses)
}

func TestWater_NeverNegative(t *testing.T) {
	log := newLog(t)
	c := New(log, state.DefaultRules(), WithLocation(time.UTC))
	events := []event.Event{{Type: event.TypeEntityCreated, Timestamp: ts(7, 0), ClientID: "c0", EntityID: "a", Title: "a", Cost: 1}}
	for i := 1; i <= 5; i++ {
		events = append(events, event.Event{Type: event.TypeEntityProgressed, Timestamp: ts(7, i), ClientID: "w" + string(rune('0'+i)), EntityID: "a"})
	}
	log.AppendMany(events)

	w := c.Water(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	assert.Equal(t, 5, w.Used)
	assert.Equal(t, 0, w.Available)
}
