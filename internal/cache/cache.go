// Package cache memoizes the derived state of an event log.
//
// Every log mutation clears the memoized state unconditionally. The daily
// water window has its own narrower cache keyed by the reset boundary; it
// survives appends that cannot change it and is cleared on Wake.
package cache

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/grove/internal/event"
	"github.com/roach88/grove/internal/eventlog"
	"github.com/roach88/grove/internal/state"
)

// Water is the daily progress allowance.
type Water struct {
	Used      int       `json:"used"`
	Capacity  int       `json:"capacity"`
	Available int       `json:"available"`
	ResetsAt  time.Time `json:"resets_at"`
}

// Stats are hit/miss counters.
type Stats struct {
	StateHits   uint64 `json:"state_hits"`
	StateMisses uint64 `json:"state_misses"`
	WaterHits   uint64 `json:"water_hits"`
	WaterMisses uint64 `json:"water_misses"`
}

type waterEntry struct {
	boundary time.Time
	next     time.Time
	used     int
}

// Cache is safe for concurrent use.
type Cache struct {
	log   *eventlog.Log
	rules state.Rules
	loc   *time.Location

	mu    sync.Mutex
	state *state.State

	waterMu sync.Mutex
	water   *waterEntry

	stateHits, stateMisses atomic.Uint64
	waterHits, waterMisses atomic.Uint64
}

// Option configures a Cache.
type Option func(*Cache)

// WithLocation sets the location in which the water reset hour is read.
func WithLocation(loc *time.Location) Option {
	return func(c *Cache) {
		if loc != nil {
			c.loc = loc
		}
	}
}

// New creates a cache over log and subscribes to its changes.
func New(log *eventlog.Log, rules state.Rules, opts ...Option) *Cache {
	c := &Cache{log: log, rules: rules, loc: time.Local}
	for _, opt := range opts {
		opt(c)
	}
	log.Subscribe(c.onChange)
	return c
}

// State returns the memoized derived state, deriving it on a miss.
func (c *Cache) State() *state.State {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != nil {
		c.stateHits.Add(1)
		return c.state
	}
	c.stateMisses.Add(1)
	c.state = state.Derive(c.log.All(), c.rules)
	return c.state
}

// Water returns the allowance for the reset window containing now. The
// cached value is reused until now crosses the next boundary.
func (c *Cache) Water(now time.Time) Water {
	c.waterMu.Lock()
	defer c.waterMu.Unlock()

	if w := c.water; w != nil && !now.Before(w.boundary) && now.Before(w.next) {
		c.waterHits.Add(1)
		return c.waterValue(w)
	}
	c.waterMisses.Add(1)

	boundary := state.ResetBoundary(now, c.rules.WaterResetHour, c.loc)
	next := state.NextReset(now, c.rules.WaterResetHour, c.loc)
	w := &waterEntry{
		boundary: boundary,
		next:     next,
		used:     c.State().WaterUsed(boundary, next),
	}
	c.water = w
	return c.waterValue(w)
}

func (c *Cache) waterValue(w *waterEntry) Water {
	avail := c.rules.DailyWater - w.used
	if avail < 0 {
		avail = 0
	}
	return Water{Used: w.used, Capacity: c.rules.DailyWater, Available: avail, ResetsAt: w.next}
}

// Wake drops the water cache. Call it when the process resumes from sleep or
// becomes visible again; a boundary may have passed with no new events.
func (c *Cache) Wake() {
	c.clearWater()
}

// Invalidate drops everything.
func (c *Cache) Invalidate() {
	c.clearState()
	c.clearWater()
}

// Stats returns the hit/miss counters.
func (c *Cache) Stats() Stats {
	return Stats{
		StateHits:   c.stateHits.Load(),
		StateMisses: c.stateMisses.Load(),
		WaterHits:   c.waterHits.Load(),
		WaterMisses: c.waterMisses.Load(),
	}
}

func (c *Cache) onChange(ch eventlog.Change) {
	c.clearState()
	if ch.Kind != eventlog.ChangeAppend || touchesWater(ch.Events) {
		c.clearWater()
	}
}

// touchesWater reports whether any event can change a water count. Entity
// events can turn a progress event from skipped to applied or back, so only
// reflections and children are known to be neutral.
func touchesWater(events []event.Event) bool {
	for _, ev := range events {
		switch ev.Type {
		case event.TypeReflectionLogged, event.TypeChildEntityCreated:
		default:
			return true
		}
	}
	return false
}

func (c *Cache) clearState() {
	c.mu.Lock()
	c.state = nil
	c.mu.Unlock()
}

func (c *Cache) clearWater() {
	c.waterMu.Lock()
	c.water = nil
	c.waterMu.Unlock()
}
