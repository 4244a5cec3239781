package status

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type fixedSource Snapshot

func (f fixedSource) StatusSnapshot() Snapshot { return Snapshot(f) }

func TestEvaluate(t *testing.T) {
	ready := Snapshot{Loaded: true, Configured: true}

	tests := []struct {
		name string
		snap func(Snapshot) Snapshot
		want Value
	}{
		{"not loaded", func(s Snapshot) Snapshot { s.Loaded = false; return s }, Loading},
		{"syncing wins over pending", func(s Snapshot) Snapshot { s.Syncing = true; s.Pending = 2; return s }, Syncing},
		{"no backend", func(s Snapshot) Snapshot { s.Configured = false; return s }, Offline},
		{"unreachable", func(s Snapshot) Snapshot { s.Offline = true; s.Pending = 1; return s }, Offline},
		{"pending", func(s Snapshot) Snapshot { s.Pending = 1; return s }, PendingUpload},
		{"clean", func(s Snapshot) Snapshot { return s }, Synced},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Evaluate(tt.snap(ready)))
		})
	}
}

func TestIndicator_WarnOnlyWhenSustained(t *testing.T) {
	snap := Snapshot{Loaded: true, Configured: true, Offline: true, ConsecutiveFailures: 2, LastError: "NETWORK"}

	r := NewIndicator(fixedSource(snap)).Report()
	assert.False(t, r.Warn)
	assert.Empty(t, r.Message)

	snap.ConsecutiveFailures = 3
	r = NewIndicator(fixedSource(snap)).Report()
	assert.True(t, r.Warn)
	assert.Equal(t, "NETWORK", r.Message)

	r = NewIndicator(fixedSource(snap), WithWarnThreshold(5)).Report()
	assert.False(t, r.Warn)
}

func TestIndicator_BackupPrompt(t *testing.T) {
	r := NewIndicator(fixedSource(Snapshot{Loaded: true, Configured: true, QuotaExceeded: true})).Report()

	assert.True(t, r.BackupPrompt)
	assert.Equal(t, Synced, r.Status)
	assert.Contains(t, r.Message, "backup")
}
