package state

import "github.com/roach88/grove/internal/event"

// Digest is the canonical hash of the projection. Two states with equal
// digests are observably identical.
func (s *State) Digest() (string, error) {
	return event.Digest(event.DomainState, s.projection())
}

func (s *State) projection() map[string]any {
	entities := make(map[string]any, len(s.entities))
	for id, ent := range s.entities {
		entities[id] = entityFields(ent)
	}

	abandoned := make([]any, len(s.abandoned))
	for i, ent := range s.abandoned {
		abandoned[i] = entityFields(ent)
	}

	children := make(map[string]any, len(s.children))
	for id, c := range s.children {
		children[id] = map[string]any{
			"parent_id":  c.ParentID,
			"name":       c.Name,
			"created_at": c.CreatedAt,
		}
	}

	reflections := make([]any, len(s.reflections))
	for i, r := range s.reflections {
		reflections[i] = map[string]any{"timestamp": r.Timestamp, "text": r.Text}
	}

	return map[string]any{
		"soil": map[string]any{
			"available": s.soil.Available,
			"capacity":  s.soil.Capacity,
		},
		"entities":    entities,
		"abandoned":   abandoned,
		"children":    children,
		"reflections": reflections,
		"skipped":     len(s.skips),
	}
}

func entityFields(e *Entity) map[string]any {
	progress := make([]any, len(e.Progress))
	for i, p := range e.Progress {
		progress[i] = map[string]any{"timestamp": p.Timestamp, "note": p.Note}
	}
	return map[string]any{
		"title":          e.Title,
		"child_id":       e.ChildID,
		"cost":           e.Cost,
		"state":          string(e.State),
		"created_at":     e.CreatedAt,
		"closed_at":      e.ClosedAt,
		"result":         e.Result,
		"capacity_delta": e.CapacityDelta,
		"refund":         e.Refund,
		"note":           e.Note,
		"progress":       progress,
	}
}
