package event

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ts = "2026-03-01T10:00:00Z"

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		ev      Event
		field   string
		wantErr bool
	}{
		{"created ok", Event{Type: TypeEntityCreated, Timestamp: ts, EntityID: "e1", Title: "Run", Cost: 5}, "", false},
		{"created zero cost ok", Event{Type: TypeEntityCreated, Timestamp: ts, EntityID: "e1", Title: "Run"}, "", false},
		{"created missing id", Event{Type: TypeEntityCreated, Timestamp: ts, Title: "Run"}, "entity_id", true},
		{"created missing title", Event{Type: TypeEntityCreated, Timestamp: ts, EntityID: "e1"}, "title", true},
		{"created negative cost", Event{Type: TypeEntityCreated, Timestamp: ts, EntityID: "e1", Title: "x", Cost: -1}, "cost", true},
		{"created NaN cost", Event{Type: TypeEntityCreated, Timestamp: ts, EntityID: "e1", Title: "x", Cost: math.NaN()}, "cost", true},
		{"progressed ok", Event{Type: TypeEntityProgressed, Timestamp: ts, EntityID: "e1"}, "", false},
		{"progressed missing id", Event{Type: TypeEntityProgressed, Timestamp: ts}, "entity_id", true},
		{"completed ok", Event{Type: TypeEntityCompleted, Timestamp: ts, EntityID: "e1", Result: 3, CapacityDelta: 1.2}, "", false},
		{"completed result low", Event{Type: TypeEntityCompleted, Timestamp: ts, EntityID: "e1", Result: 0}, "result", true},
		{"completed result high", Event{Type: TypeEntityCompleted, Timestamp: ts, EntityID: "e1", Result: 6}, "result", true},
		{"abandoned ok", Event{Type: TypeEntityAbandoned, Timestamp: ts, EntityID: "e1", Refund: 1.25}, "", false},
		{"abandoned negative refund", Event{Type: TypeEntityAbandoned, Timestamp: ts, EntityID: "e1", Refund: -2}, "refund", true},
		{"reflection ok", Event{Type: TypeReflectionLogged, Timestamp: ts, Text: "good week"}, "", false},
		{"reflection blank", Event{Type: TypeReflectionLogged, Timestamp: ts, Text: "  "}, "text", true},
		{"child ok", Event{Type: TypeChildEntityCreated, Timestamp: ts, ChildID: "c1", ParentID: "p1", Name: "Health"}, "", false},
		{"child missing parent", Event{Type: TypeChildEntityCreated, Timestamp: ts, ChildID: "c1", Name: "Health"}, "parent_id", true},
		{"unknown type", Event{Type: "entity_renamed", Timestamp: ts}, "type", true},
		{"empty timestamp", Event{Type: TypeReflectionLogged, Text: "x"}, "timestamp", true},
		{"bad timestamp", Event{Type: TypeReflectionLogged, Timestamp: "yesterday", Text: "x"}, "timestamp", true},
		{"offset timestamp ok", Event{Type: TypeReflectionLogged, Timestamp: "2026-03-01T10:00:00.123+02:00", Text: "x"}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.ev)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, IsValidationError(err))
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestEvent_TimeMalformedIsZero(t *testing.T) {
	assert.True(t, Event{Timestamp: "nope"}.Time().IsZero())
	assert.False(t, Event{Timestamp: ts}.Time().IsZero())
}

func TestEvent_String(t *testing.T) {
	assert.Equal(t, "reflection_logged@"+ts, Event{Type: TypeReflectionLogged, Timestamp: ts}.String())
	assert.Equal(t, "reflection_logged@"+ts+"(c1)", Event{Type: TypeReflectionLogged, Timestamp: ts, ClientID: "c1"}.String())
}
