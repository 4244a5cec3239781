// Package importer moves event logs in and out as JSON arrays.
//
// Import checks every element against an embedded CUE schema and then
// against the event validator, collecting one diagnostic per rejected
// element instead of failing the whole file.
package importer

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"

	"github.com/roach88/grove/internal/event"
)

//go:embed schema.cue
var schemaSource string

// Diagnostic describes one rejected element.
type Diagnostic struct {
	Index   int    `json:"index"`
	Type    string `json:"type,omitempty"`
	Message string `json:"message"`
}

func (d Diagnostic) String() string {
	if d.Type == "" {
		return fmt.Sprintf("[%d] %s", d.Index, d.Message)
	}
	return fmt.Sprintf("[%d] %s: %s", d.Index, d.Type, d.Message)
}

// Result is the outcome of an import.
type Result struct {
	// Events are the accepted events in file order.
	Events      []event.Event `json:"-"`
	Total       int           `json:"total"`
	Accepted    int           `json:"accepted"`
	Diagnostics []Diagnostic  `json:"diagnostics,omitempty"`
}

// Validator holds the compiled schema. A cue.Context is not safe for
// concurrent use, so checks are serialized.
type Validator struct {
	mu     sync.Mutex
	ctx    *cue.Context
	events cue.Value
}

// NewValidator compiles the embedded schema.
func NewValidator() (*Validator, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile import schema: %w", err)
	}
	events := schema.LookupPath(cue.ParsePath("#Events"))
	if err := events.Err(); err != nil {
		return nil, fmt.Errorf("lookup #Events: %w", err)
	}
	return &Validator{ctx: ctx, events: events}, nil
}

var defaultValidator = sync.OnceValues(NewValidator)

// Import reads a JSON array of events using the embedded schema.
func Import(r io.Reader) (Result, error) {
	v, err := defaultValidator()
	if err != nil {
		return Result{}, err
	}
	return v.Import(r)
}

// Import reads a JSON array of events. Only a stream that is not a JSON array
// is an error; bad elements become diagnostics.
func (v *Validator) Import(r io.Reader) (Result, error) {
	var raws []json.RawMessage
	if err := json.NewDecoder(r).Decode(&raws); err != nil {
		return Result{}, fmt.Errorf("import: expected a JSON array of events: %w", err)
	}

	res := Result{Total: len(raws), Events: make([]event.Event, 0, len(raws))}
	for i, raw := range raws {
		ev, diag, ok := v.check(i, raw)
		if !ok {
			res.Diagnostics = append(res.Diagnostics, diag)
			continue
		}
		res.Events = append(res.Events, ev)
	}
	res.Accepted = len(res.Events)
	return res, nil
}

// check validates one element: schema first, then the event validator.
func (v *Validator) check(index int, raw json.RawMessage) (event.Event, Diagnostic, bool) {
	diag := Diagnostic{Index: index}

	v.mu.Lock()
	typ, msgs := v.schemaCheck(raw)
	v.mu.Unlock()
	diag.Type = typ
	if len(msgs) > 0 {
		diag.Message = strings.Join(msgs, "; ")
		return event.Event{}, diag, false
	}

	var ev event.Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		diag.Message = err.Error()
		return event.Event{}, diag, false
	}
	if err := event.Validate(ev); err != nil {
		diag.Message = err.Error()
		return event.Event{}, diag, false
	}
	return ev, diag, true
}

// schemaCheck returns the element's type and any schema violations. Caller
// holds v.mu.
func (v *Validator) schemaCheck(raw json.RawMessage) (string, []string) {
	val := v.ctx.CompileBytes(raw)
	if err := val.Err(); err != nil {
		return "", []string{"not valid JSON"}
	}
	if val.IncompleteKind() != cue.StructKind {
		return "", []string{"element is not an object"}
	}

	typ, err := val.LookupPath(cue.ParsePath("type")).String()
	if err != nil {
		return "", []string{"type: missing or not a string"}
	}
	def := v.events.LookupPath(cue.MakePath(cue.Str(typ)))
	if !def.Exists() {
		return typ, []string{"unknown event type"}
	}

	err = def.Unify(val).Validate(cue.Concrete(true))
	if err == nil {
		return typ, nil
	}
	var msgs []string
	for _, e := range cueerrors.Errors(err) {
		format, args := e.Msg()
		msg := fmt.Sprintf(format, args...)
		if path := e.Path(); len(path) > 0 {
			msg = strings.Join(path, ".") + ": " + msg
		}
		msgs = append(msgs, msg)
	}
	if len(msgs) == 0 {
		msgs = []string{err.Error()}
	}
	return typ, msgs
}

// Export writes events as an indented JSON array.
func Export(w io.Writer, events []event.Event) error {
	if events == nil {
		events = []event.Event{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(events); err != nil {
		return fmt.Errorf("export: %w", err)
	}
	return nil
}
