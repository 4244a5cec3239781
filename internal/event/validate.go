package event

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ValidationError describes why an event was rejected.
type ValidationError struct {
	Type   Type
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid event %q: %s", e.Type, e.Reason)
	}
	return fmt.Sprintf("invalid event %q: %s: %s", e.Type, e.Field, e.Reason)
}

// IsValidationError reports whether err (or anything it wraps) is a
// ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Validate checks the event shape: a known type, a parseable timestamp, and
// the required fields for that type. It never inspects other events.
func Validate(e Event) error {
	if !e.Type.Known() {
		return &ValidationError{Type: e.Type, Field: "type", Reason: "unknown event type"}
	}
	if strings.TrimSpace(e.Timestamp) == "" {
		return &ValidationError{Type: e.Type, Field: "timestamp", Reason: "required"}
	}
	if _, err := ParseTime(e.Timestamp); err != nil {
		return &ValidationError{Type: e.Type, Field: "timestamp", Reason: "not RFC 3339"}
	}

	switch e.Type {
	case TypeEntityCreated:
		if err := requireString(e, "entity_id", e.EntityID); err != nil {
			return err
		}
		if err := requireString(e, "title", e.Title); err != nil {
			return err
		}
		return requireAmount(e, "cost", e.Cost)

	case TypeEntityProgressed:
		return requireString(e, "entity_id", e.EntityID)

	case TypeEntityCompleted:
		if err := requireString(e, "entity_id", e.EntityID); err != nil {
			return err
		}
		if e.Result < 1 || e.Result > 5 {
			return &ValidationError{Type: e.Type, Field: "result", Reason: "must be between 1 and 5"}
		}
		return requireAmount(e, "capacity_delta", e.CapacityDelta)

	case TypeEntityAbandoned:
		if err := requireString(e, "entity_id", e.EntityID); err != nil {
			return err
		}
		return requireAmount(e, "refund", e.Refund)

	case TypeReflectionLogged:
		return requireString(e, "text", e.Text)

	case TypeChildEntityCreated:
		if err := requireString(e, "child_id", e.ChildID); err != nil {
			return err
		}
		if err := requireString(e, "parent_id", e.ParentID); err != nil {
			return err
		}
		return requireString(e, "name", e.Name)
	}

	return nil
}

func requireString(e Event, field, value string) error {
	if strings.TrimSpace(value) == "" {
		return &ValidationError{Type: e.Type, Field: field, Reason: "required"}
	}
	return nil
}

func requireAmount(e Event, field string, value float64) error {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return &ValidationError{Type: e.Type, Field: field, Reason: "not a finite number"}
	}
	if value < 0 {
		return &ValidationError{Type: e.Type, Field: field, Reason: "must not be negative"}
	}
	return nil
}
