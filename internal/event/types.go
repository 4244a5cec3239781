package event

import (
	"fmt"
	"time"
)

// Type is the closed set of event kinds.
type Type string

const (
	// TypeEntityCreated plants a new entity and debits its cost from soil.
	TypeEntityCreated Type = "entity_created"
	// TypeEntityProgressed records one unit of progress (a watering).
	TypeEntityProgressed Type = "entity_progressed"
	// TypeEntityCompleted closes an entity and applies a stored capacity delta.
	TypeEntityCompleted Type = "entity_completed"
	// TypeEntityAbandoned closes an entity and refunds part of its cost.
	TypeEntityAbandoned Type = "entity_abandoned"
	// TypeReflectionLogged appends to the global reflection log.
	TypeReflectionLogged Type = "reflection_logged"
	// TypeChildEntityCreated registers a child grouping under a parent.
	TypeChildEntityCreated Type = "child_entity_created"
)

// Types lists every known event type in declaration order.
var Types = []Type{
	TypeEntityCreated,
	TypeEntityProgressed,
	TypeEntityCompleted,
	TypeEntityAbandoned,
	TypeReflectionLogged,
	TypeChildEntityCreated,
}

// Known reports whether t is part of the closed type set.
func (t Type) Known() bool {
	for _, k := range Types {
		if k == t {
			return true
		}
	}
	return false
}

// Event is a single immutable log entry.
//
// The struct is flat: type-specific fields are optional and omitted from the
// wire form when zero. Which fields are required depends on Type; see Validate.
type Event struct {
	Type      Type   `json:"type"`
	Timestamp string `json:"timestamp"`
	ClientID  string `json:"client_id,omitempty"`

	EntityID string `json:"entity_id,omitempty"`
	Title    string `json:"title,omitempty"`
	ChildID  string `json:"child_id,omitempty"`
	ParentID string `json:"parent_id,omitempty"`
	Name     string `json:"name,omitempty"`
	Note     string `json:"note,omitempty"`
	Text     string `json:"text,omitempty"`

	// Cost is the soil debited at creation.
	Cost float64 `json:"cost,omitempty"`
	// Result is the 1..5 outcome of a completion.
	Result int `json:"result,omitempty"`
	// CapacityDelta is computed when the completion is built, never at replay.
	CapacityDelta float64 `json:"capacity_delta,omitempty"`
	// Refund is the exact soil returned by an abandon.
	Refund float64 `json:"refund,omitempty"`
}

// TimestampLayout is the layout used when stamping new events.
const TimestampLayout = time.RFC3339Nano

// FormatTime renders t in the wire timestamp format (UTC).
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTime parses a wire timestamp. Both second and sub-second precision
// are accepted, with any UTC offset.
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

// Time returns the parsed timestamp, or the zero time if it is malformed.
// Callers that need to distinguish malformed input use Validate first.
func (e Event) Time() time.Time {
	t, err := ParseTime(e.Timestamp)
	if err != nil {
		return time.Time{}
	}
	return t
}

// String is a compact diagnostic form.
func (e Event) String() string {
	if e.ClientID == "" {
		return fmt.Sprintf("%s@%s", e.Type, e.Timestamp)
	}
	return fmt.Sprintf("%s@%s(%s)", e.Type, e.Timestamp, e.ClientID)
}
