package harness

import "github.com/roach88/grove/internal/state"

// TraceEvent records one executed step.
type TraceEvent struct {
	Seq    int    `json:"seq"`
	Device string `json:"device"`
	Step   string `json:"step"`
	// Outcome is "ok" or the name of the error the step produced.
	Outcome string `json:"outcome"`
	// EventType is set for garden actions that produced an event, even when
	// its upload failed.
	EventType string `json:"event_type,omitempty"`
	// Pending and RemoteRows are read after the step.
	Pending    int `json:"pending"`
	RemoteRows int `json:"remote_rows"`
}

// DeviceSummary is a device's final derived state.
type DeviceSummary struct {
	Soil        state.Soil `json:"soil"`
	Events      int        `json:"events"`
	Active      int        `json:"active"`
	Completed   int        `json:"completed"`
	Abandoned   int        `json:"abandoned"`
	Reflections int        `json:"reflections"`
	Pending     int        `json:"pending"`
	Digest      string     `json:"digest"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every step expectation and assertion held.
	Pass bool `json:"pass"`

	Trace []TraceEvent `json:"trace"`

	// Errors contains failed expectations and assertions.
	Errors []string `json:"errors,omitempty"`

	// Devices holds each device's final state, keyed by device name.
	Devices map[string]DeviceSummary `json:"devices"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:    true,
		Trace:   []TraceEvent{},
		Errors:  []string{},
		Devices: make(map[string]DeviceSummary),
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends a step record, numbering it.
func (r *Result) AddTrace(ev TraceEvent) {
	ev.Seq = len(r.Trace) + 1
	r.Trace = append(r.Trace, ev)
}
