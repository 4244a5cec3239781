package state

import (
	"math"
	"sort"
	"time"

	"github.com/roach88/grove/internal/event"
)

// Skip records an event whose entity-specific effect was not applied.
type Skip struct {
	Event  event.Event
	Reason string
}

// Skip reasons.
const (
	ReasonInvalid       = "invalid event"
	ReasonUnknownEntity = "unknown entity"
	ReasonClosedEntity  = "entity not active"
	ReasonDuplicateID   = "entity id already exists"
	ReasonDuplicateLeaf = "child id already exists"
)

// State is a derived snapshot. It is never mutated after Derive returns.
type State struct {
	rules       Rules
	soil        Soil
	entities    map[string]*Entity
	abandoned   []*Entity
	children    map[string]*Child
	reflections []Reflection

	// progressAt holds the time of every applied progress event, ascending.
	progressAt []time.Time

	applied int
	skips   []Skip
}

// Derive replays events in timestamp order into a fresh state.
//
// Invalid events are skipped. Events that reference an unknown or closed
// entity skip their entity-specific effect and are recorded in Skips; the
// replay continues either way.
func Derive(events []event.Event, rules Rules) *State {
	s := &State{
		rules:    rules,
		soil:     Soil{Available: rules.InitialAvailable, Capacity: rules.InitialCapacity},
		entities: make(map[string]*Entity),
		children: make(map[string]*Child),
	}
	s.soil.Available = clamp(s.soil.Available, s.soil.Capacity)

	for _, ev := range event.Sorted(events) {
		s.apply(ev)
	}
	return s
}

func (s *State) apply(ev event.Event) {
	if err := event.Validate(ev); err != nil {
		s.skip(ev, ReasonInvalid)
		return
	}

	switch ev.Type {
	case event.TypeEntityCreated:
		if _, exists := s.entities[ev.EntityID]; exists {
			s.skip(ev, ReasonDuplicateID)
			return
		}
		s.entities[ev.EntityID] = &Entity{
			ID:        ev.EntityID,
			Title:     ev.Title,
			ChildID:   ev.ChildID,
			Cost:      ev.Cost,
			State:     Active,
			CreatedAt: ev.Timestamp,
		}
		s.soil.Available = math.Max(0, s.soil.Available-ev.Cost)

	case event.TypeEntityProgressed:
		ent, ok := s.activeEntity(ev)
		if !ok {
			return
		}
		ent.Progress = append(ent.Progress, Progress{Timestamp: ev.Timestamp, ClientID: ev.ClientID, Note: ev.Note})
		s.progressAt = append(s.progressAt, ev.Time())
		s.credit(s.rules.ProgressRecovery)

	case event.TypeEntityCompleted:
		ent, ok := s.activeEntity(ev)
		if !ok {
			return
		}
		ent.State = Completed
		ent.ClosedAt = ev.Timestamp
		ent.Result = ev.Result
		ent.CapacityDelta = ev.CapacityDelta
		ent.Note = ev.Note
		s.soil.Capacity += ev.CapacityDelta
		s.credit(ent.Cost)

	case event.TypeEntityAbandoned:
		ent, ok := s.activeEntity(ev)
		if !ok {
			return
		}
		ent.State = Abandoned
		ent.ClosedAt = ev.Timestamp
		ent.Refund = ev.Refund
		ent.Note = ev.Note
		delete(s.entities, ent.ID)
		s.abandoned = append(s.abandoned, ent)
		s.credit(ev.Refund)

	case event.TypeReflectionLogged:
		s.reflections = append(s.reflections, Reflection{Timestamp: ev.Timestamp, ClientID: ev.ClientID, Text: ev.Text})
		s.credit(s.rules.ReflectionRecovery)

	case event.TypeChildEntityCreated:
		if _, exists := s.children[ev.ChildID]; exists {
			s.skip(ev, ReasonDuplicateLeaf)
			return
		}
		s.children[ev.ChildID] = &Child{ID: ev.ChildID, ParentID: ev.ParentID, Name: ev.Name, CreatedAt: ev.Timestamp}
	}

	s.applied++
}

// activeEntity resolves the entity an event targets. A miss is recorded as a
// skip.
func (s *State) activeEntity(ev event.Event) (*Entity, bool) {
	ent, ok := s.entities[ev.EntityID]
	if !ok {
		s.skip(ev, ReasonUnknownEntity)
		return nil, false
	}
	if ent.State != Active {
		s.skip(ev, ReasonClosedEntity)
		return nil, false
	}
	return ent, true
}

func (s *State) credit(amount float64) {
	s.soil.Available = clamp(s.soil.Available+amount, s.soil.Capacity)
}

func (s *State) skip(ev event.Event, reason string) {
	s.skips = append(s.skips, Skip{Event: ev, Reason: reason})
}

// clamp bounds v to [0, capacity].
func clamp(v, capacity float64) float64 {
	return math.Max(0, math.Min(v, capacity))
}

// Rules returns the rules the state was derived with.
func (s *State) Rules() Rules { return s.rules }

// Soil returns the resource ledger.
func (s *State) Soil() Soil { return s.soil }

// Applied is the number of events whose effect was applied.
func (s *State) Applied() int { return s.applied }

// Skipped is the number of events whose effect was skipped.
func (s *State) Skipped() int { return len(s.skips) }

// Skips returns the skipped events with their reasons, in replay order.
func (s *State) Skips() []Skip {
	out := make([]Skip, len(s.skips))
	copy(out, s.skips)
	return out
}

// Entity returns a copy of the entity with the given id. Abandoned entities
// are not in the map; use Abandoned for them.
func (s *State) Entity(id string) (Entity, bool) {
	ent, ok := s.entities[id]
	if !ok {
		return Entity{}, false
	}
	return ent.clone(), true
}

// Entities returns every active or completed entity, oldest first.
func (s *State) Entities() []Entity {
	return s.filter(func(*Entity) bool { return true })
}

// Active returns the active entities, oldest first.
func (s *State) Active() []Entity {
	return s.filter(func(e *Entity) bool { return e.State == Active })
}

// Completed returns the completed entities, oldest first.
func (s *State) Completed() []Entity {
	return s.filter(func(e *Entity) bool { return e.State == Completed })
}

// Abandoned returns the abandoned history in the order entities were
// abandoned.
func (s *State) Abandoned() []Entity {
	out := make([]Entity, len(s.abandoned))
	for i, ent := range s.abandoned {
		out[i] = ent.clone()
	}
	return out
}

// Children returns the registered children ordered by creation.
func (s *State) Children() []Child {
	out := make([]Child, 0, len(s.children))
	for _, c := range s.children {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Reflections returns the reflection log in occurrence order.
func (s *State) Reflections() []Reflection {
	out := make([]Reflection, len(s.reflections))
	copy(out, s.reflections)
	return out
}

// WaterUsed counts applied progress events with since <= t < until.
func (s *State) WaterUsed(since, until time.Time) int {
	lo := sort.Search(len(s.progressAt), func(i int) bool { return !s.progressAt[i].Before(since) })
	hi := sort.Search(len(s.progressAt), func(i int) bool { return !s.progressAt[i].Before(until) })
	if hi < lo {
		return 0
	}
	return hi - lo
}

func (s *State) filter(keep func(*Entity) bool) []Entity {
	out := make([]Entity, 0, len(s.entities))
	for _, ent := range s.entities {
		if keep(ent) {
			out = append(out, ent.clone())
		}
	}
	sortEntities(out)
	return out
}

func sortEntities(es []Entity) {
	sort.Slice(es, func(i, j int) bool {
		ti, tj := event.Event{Timestamp: es[i].CreatedAt}.Time(), event.Event{Timestamp: es[j].CreatedAt}.Time()
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return es[i].ID < es[j].ID
	})
}
