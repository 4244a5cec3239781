// Package actions builds self-contained events from the current derived
// state.
//
// Builders refuse what the current state cannot accept (not enough soil, no
// water left, an entity that is not active) and compute every derived number
// up front: the completion capacity delta and the abandon refund are stored
// in the event, so replay never re-evaluates them.
package actions

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/roach88/grove/internal/cache"
	"github.com/roach88/grove/internal/clock"
	"github.com/roach88/grove/internal/event"
	"github.com/roach88/grove/internal/state"
)

var (
	ErrEmptyTitle       = errors.New("title is required")
	ErrEmptyText        = errors.New("text is required")
	ErrEmptyName        = errors.New("name is required")
	ErrNegativeCost     = errors.New("cost must be a non-negative number")
	ErrInsufficientSoil = errors.New("not enough soil")
	ErrNoWater          = errors.New("no water left in this window")
	ErrUnknownEntity    = errors.New("unknown entity")
	ErrNotActive        = errors.New("entity is not active")
	ErrUnknownChild     = errors.New("unknown leaf")
	ErrInvalidResult    = errors.New("result must be between 1 and 5")
)

// outcomeMultipliers scale the completion reward by result.
var outcomeMultipliers = [...]float64{1: 0.4, 2: 0.55, 3: 0.7, 4: 0.85, 5: 1.0}

// Source is what builders read. *cache.Cache implements it.
type Source interface {
	State() *state.State
	Water(now time.Time) cache.Water
}

// Builder produces events stamped with the clock's current time. Client ids
// are left empty; the sync engine assigns them on push.
type Builder struct {
	src   Source
	clock clock.Clock
	ids   event.IDGenerator
}

// Option configures a Builder.
type Option func(*Builder)

// WithClock sets the clock used for timestamps and the water window.
func WithClock(c clock.Clock) Option {
	return func(b *Builder) { b.clock = c }
}

// WithIDGenerator sets the generator for entity and leaf ids.
func WithIDGenerator(g event.IDGenerator) Option {
	return func(b *Builder) { b.ids = g }
}

// New creates a builder over src.
func New(src Source, opts ...Option) *Builder {
	b := &Builder{src: src, clock: clock.System{}, ids: event.UUIDv7Generator{}}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Plant creates an entity, debiting cost from the soil. childID optionally
// files it under an existing leaf.
func (b *Builder) Plant(title string, cost float64, childID string) (event.Event, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return event.Event{}, fmt.Errorf("plant: %w", ErrEmptyTitle)
	}
	if cost < 0 || math.IsNaN(cost) || math.IsInf(cost, 0) {
		return event.Event{}, fmt.Errorf("plant: %w", ErrNegativeCost)
	}

	s := b.src.State()
	if avail := s.Soil().Available; cost > avail {
		return event.Event{}, fmt.Errorf("plant %q: %w: need %.2f, have %.2f", title, ErrInsufficientSoil, cost, avail)
	}
	if childID != "" && !hasChild(s, childID) {
		return event.Event{}, fmt.Errorf("plant %q: %w: %s", title, ErrUnknownChild, childID)
	}

	return b.stamp(event.Event{
		Type:     event.TypeEntityCreated,
		EntityID: b.ids.Generate(),
		Title:    title,
		Cost:     cost,
		ChildID:  childID,
	}), nil
}

// Water records one unit of progress on an active entity.
func (b *Builder) Water(entityID, note string) (event.Event, error) {
	if _, err := b.active(entityID, "water"); err != nil {
		return event.Event{}, err
	}
	w := b.src.Water(b.clock.Now())
	if w.Available <= 0 {
		return event.Event{}, fmt.Errorf("water %s: %w: %d of %d used, resets at %s",
			entityID, ErrNoWater, w.Used, w.Capacity, w.ResetsAt.Format(time.RFC3339))
	}
	return b.stamp(event.Event{
		Type:     event.TypeEntityProgressed,
		EntityID: entityID,
		Note:     strings.TrimSpace(note),
	}), nil
}

// Harvest completes an active entity. The capacity delta is fixed here.
func (b *Builder) Harvest(entityID string, result int, note string) (event.Event, error) {
	if result < 1 || result > 5 {
		return event.Event{}, fmt.Errorf("harvest %s: %w", entityID, ErrInvalidResult)
	}
	ent, err := b.active(entityID, "harvest")
	if err != nil {
		return event.Event{}, err
	}
	s := b.src.State()
	return b.stamp(event.Event{
		Type:          event.TypeEntityCompleted,
		EntityID:      entityID,
		Result:        result,
		CapacityDelta: Reward(ent.Cost, result, s.Soil().Capacity, s.Rules().MaxCapacity),
		Note:          strings.TrimSpace(note),
	}), nil
}

// Uproot abandons an active entity and refunds a fraction of its cost.
func (b *Builder) Uproot(entityID, note string) (event.Event, error) {
	ent, err := b.active(entityID, "uproot")
	if err != nil {
		return event.Event{}, err
	}
	fraction := b.src.State().Rules().AbandonRefundFraction
	return b.stamp(event.Event{
		Type:     event.TypeEntityAbandoned,
		EntityID: entityID,
		Refund:   round2(ent.Cost * fraction),
		Note:     strings.TrimSpace(note),
	}), nil
}

// Reflect logs a reflection.
func (b *Builder) Reflect(text string) (event.Event, error) {
	if strings.TrimSpace(text) == "" {
		return event.Event{}, fmt.Errorf("reflect: %w", ErrEmptyText)
	}
	return b.stamp(event.Event{Type: event.TypeReflectionLogged, Text: text}), nil
}

// AddLeaf registers a leaf under parentID, which must be a known entity.
func (b *Builder) AddLeaf(parentID, name string) (event.Event, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return event.Event{}, fmt.Errorf("leaf: %w", ErrEmptyName)
	}
	if _, ok := b.src.State().Entity(parentID); !ok {
		return event.Event{}, fmt.Errorf("leaf %q: %w: %s", name, ErrUnknownEntity, parentID)
	}
	return b.stamp(event.Event{
		Type:     event.TypeChildEntityCreated,
		ChildID:  b.ids.Generate(),
		ParentID: parentID,
		Name:     name,
	}), nil
}

// Reward is the capacity delta a completion earns:
// round2(cost × multiplier(result) × max(0, 1 − capacity/maxCapacity)).
// It shrinks to zero as capacity approaches maxCapacity.
func Reward(cost float64, result int, capacity, maxCapacity float64) float64 {
	if result < 1 || result > 5 || maxCapacity <= 0 {
		return 0
	}
	headroom := math.Max(0, 1-capacity/maxCapacity)
	return round2(cost * outcomeMultipliers[result] * headroom)
}

func (b *Builder) active(entityID, op string) (state.Entity, error) {
	ent, ok := b.src.State().Entity(entityID)
	if !ok {
		return state.Entity{}, fmt.Errorf("%s %s: %w", op, entityID, ErrUnknownEntity)
	}
	if ent.State != state.Active {
		return state.Entity{}, fmt.Errorf("%s %s: %w (%s)", op, entityID, ErrNotActive, ent.State)
	}
	return ent, nil
}

func (b *Builder) stamp(ev event.Event) event.Event {
	ev.Timestamp = event.FormatTime(b.clock.Now())
	return ev
}

func hasChild(s *state.State, id string) bool {
	for _, c := range s.Children() {
		if c.ID == id {
			return true
		}
	}
	return false
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
