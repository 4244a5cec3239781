package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/roach88/grove/internal/actions"
	"github.com/roach88/grove/internal/auth"
	"github.com/roach88/grove/internal/cache"
	"github.com/roach88/grove/internal/event"
	"github.com/roach88/grove/internal/eventlog"
	"github.com/roach88/grove/internal/pending"
	"github.com/roach88/grove/internal/remote"
	"github.com/roach88/grove/internal/state"
	"github.com/roach88/grove/internal/store"
	"github.com/roach88/grove/internal/syncer"
	"github.com/roach88/grove/internal/testutil"
)

// UserID is the identity every scenario device signs in as.
const UserID = "user-1"

// Harness holds the shared remote, the clock, and every device.
type Harness struct {
	remote  *testutil.MemoryRemote
	clock   *testutil.FakeClock
	devices map[string]*device
	order   []string
	refs    map[string]string
	logger  *slog.Logger
}

// device is one client: its own store, log, pending set, and engine.
type device struct {
	name    string
	link    *link
	log     *eventlog.Log
	pending *pending.Tracker
	engine  *syncer.Engine
	cache   *cache.Cache
	builder *actions.Builder
}

// Run executes a scenario and returns the result.
//
// Execution flow:
// 1. Create the shared remote and one fresh device per name
// 2. Execute steps, recording a trace entry for each
// 3. Summarize every device and evaluate assertions
func Run(scenario *Scenario) (*Result, error) {
	ctx := context.Background()

	h, err := newHarness(ctx, scenario)
	if err != nil {
		return nil, err
	}
	defer h.close()

	result := NewResult()
	for i, step := range scenario.Steps {
		outcome, evType, err := h.execute(ctx, step)
		if err != nil {
			return nil, fmt.Errorf("step %d (%s %s): %w", i+1, step.Device, step.Do, err)
		}
		d := h.devices[step.Device]
		result.AddTrace(TraceEvent{
			Device:     step.Device,
			Step:       step.Do,
			Outcome:    outcome,
			EventType:  evType,
			Pending:    d.pending.Len(),
			RemoteRows: len(h.remote.Rows(UserID)),
		})
		if step.Expect != "" && step.Expect != outcome {
			result.AddError(fmt.Sprintf("step %d (%s %s): expected %s, got %s", i+1, step.Device, step.Do, step.Expect, outcome))
		}
	}

	for _, name := range h.order {
		sum, err := h.devices[name].summary()
		if err != nil {
			return nil, fmt.Errorf("summarize %s: %w", name, err)
		}
		result.Devices[name] = sum
	}

	actx := &AssertionContext{Harness: h, Result: result}
	for _, msg := range EvaluateAssertions(scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

func newHarness(ctx context.Context, scenario *Scenario) (*Harness, error) {
	startStr := scenario.Start
	if startStr == "" {
		startStr = DefaultStart
	}
	start, err := time.Parse(time.RFC3339, startStr)
	if err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	clk := testutil.NewFakeClock(start)
	h := &Harness{
		remote:  testutil.NewMemoryRemote(clk.Now),
		clock:   clk,
		devices: make(map[string]*device, len(scenario.Devices)),
		refs:    make(map[string]string),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, name := range scenario.Devices {
		d, err := h.newDevice(ctx, name)
		if err != nil {
			h.close()
			return nil, fmt.Errorf("device %s: %w", name, err)
		}
		h.devices[name] = d
		h.order = append(h.order, name)
	}
	return h, nil
}

func (h *Harness) newDevice(ctx context.Context, name string) (*device, error) {
	kv := store.NewMemory()
	log, err := eventlog.Open(ctx, kv, eventlog.WithLogger(h.logger), eventlog.WithPersistDelay(0))
	if err != nil {
		return nil, err
	}
	tracker, err := pending.Open(ctx, kv, pending.WithLogger(h.logger), pending.WithPersistDelay(0))
	if err != nil {
		return nil, err
	}

	l := &link{Store: h.remote}
	eng := syncer.New(log, tracker, kv,
		syncer.WithRemote(l),
		syncer.WithIdentity(auth.Static(UserID)),
		syncer.WithIDGenerator(&sequence{prefix: name + "-c"}),
		syncer.WithClock(h.clock),
		syncer.WithLogger(h.logger),
		syncer.WithTimeout(50*time.Millisecond),
		syncer.WithBackoff(syncer.BackoffConfig{Base: time.Second, Max: 30 * time.Second, MaxAttempts: 10}),
	)
	if err := eng.Load(ctx); err != nil {
		return nil, err
	}

	c := cache.New(log, state.DefaultRules(), cache.WithLocation(time.UTC))
	return &device{
		name:    name,
		link:    l,
		log:     log,
		pending: tracker,
		engine:  eng,
		cache:   c,
		builder: actions.New(c, actions.WithClock(h.clock), actions.WithIDGenerator(&sequence{prefix: name + "-e"})),
	}, nil
}

func (h *Harness) close() {
	for _, d := range h.devices {
		_ = d.engine.Close()
	}
}

// execute runs one step. A step error (refused action, failed sync) is an
// outcome; only a malformed step returns err.
func (h *Harness) execute(ctx context.Context, step Step) (outcome, evType string, err error) {
	d := h.devices[step.Device]
	args := stepArgs(step.Args)

	switch step.Do {
	case StepPlant, StepWater, StepHarvest, StepUproot, StepReflect, StepLeaf:
		return h.act(ctx, d, step.Do, args)

	case StepSync:
		_, err := d.engine.Sync(ctx)
		return outcomeOf(err), "", nil
	case StepFullSync:
		_, err := d.engine.ForceFullSync(ctx)
		return outcomeOf(err), "", nil
	case StepRetry:
		_, err := d.engine.RetryNow(ctx)
		return outcomeOf(err), "", nil
	case StepErase:
		return outcomeOf(d.engine.Erase(ctx)), "", nil

	case StepOffline:
		d.link.setOffline(true)
	case StepOnline:
		d.link.setOffline(false)
	case StepAdvance:
		dur, err := args.duration("by")
		if err != nil {
			return "", "", err
		}
		h.clock.Advance(dur)
	case StepFailInsert:
		h.remote.FailNext(testutil.OpInsert, remote.ErrUnavailable)
	case StepLoseResponse:
		h.remote.LoseNextInsertResponse()
	default:
		return "", "", fmt.Errorf("unknown operation %q", step.Do)
	}
	return "ok", "", nil
}

// act builds a garden event on d and pushes it. A refused build produces no
// event; a failed push still leaves the event in the local log.
func (h *Harness) act(ctx context.Context, d *device, op string, args stepArgs) (string, string, error) {
	var (
		ev  event.Event
		err error
	)
	switch op {
	case StepPlant:
		leaf, rerr := h.optionalRef(args, "leaf")
		if rerr != nil {
			return "", "", rerr
		}
		ev, err = d.builder.Plant(args.str("title"), args.num("cost"), leaf)
	case StepWater:
		id, rerr := h.ref(args, "entity")
		if rerr != nil {
			return "", "", rerr
		}
		ev, err = d.builder.Water(id, args.str("note"))
	case StepHarvest:
		id, rerr := h.ref(args, "entity")
		if rerr != nil {
			return "", "", rerr
		}
		ev, err = d.builder.Harvest(id, args.whole("result"), args.str("note"))
	case StepUproot:
		id, rerr := h.ref(args, "entity")
		if rerr != nil {
			return "", "", rerr
		}
		ev, err = d.builder.Uproot(id, args.str("note"))
	case StepReflect:
		ev, err = d.builder.Reflect(args.str("text"))
	case StepLeaf:
		parent, rerr := h.ref(args, "parent")
		if rerr != nil {
			return "", "", rerr
		}
		ev, err = d.builder.AddLeaf(parent, args.str("name"))
	}
	if err != nil {
		return outcomeOf(err), "", nil
	}

	if label := args.str("as"); label != "" {
		id := ev.EntityID
		if op == StepLeaf {
			id = ev.ChildID
		}
		h.refs[label] = id
	}

	stored, err := d.engine.Push(ctx, ev)
	return outcomeOf(err), string(stored.Type), nil
}

// ref resolves an "as" label. Unknown labels pass through as literal ids so
// scenarios can reference entities that do not exist.
func (h *Harness) ref(args stepArgs, key string) (string, error) {
	label := args.str(key)
	if label == "" {
		return "", fmt.Errorf("%s is required", key)
	}
	if id, ok := h.refs[label]; ok {
		return id, nil
	}
	return label, nil
}

func (h *Harness) optionalRef(args stepArgs, key string) (string, error) {
	if args.str(key) == "" {
		return "", nil
	}
	return h.ref(args, key)
}

func (d *device) summary() (DeviceSummary, error) {
	st := d.cache.State()
	digest, err := st.Digest()
	if err != nil {
		return DeviceSummary{}, err
	}
	return DeviceSummary{
		Soil:        st.Soil(),
		Events:      d.log.Len(),
		Active:      len(st.Active()),
		Completed:   len(st.Completed()),
		Abandoned:   len(st.Abandoned()),
		Reflections: len(st.Reflections()),
		Pending:     d.pending.Len(),
		Digest:      digest,
	}, nil
}

var actionOutcomes = []struct {
	err  error
	name string
}{
	{actions.ErrEmptyTitle, "empty_title"},
	{actions.ErrEmptyText, "empty_text"},
	{actions.ErrEmptyName, "empty_name"},
	{actions.ErrNegativeCost, "negative_cost"},
	{actions.ErrInsufficientSoil, "insufficient_soil"},
	{actions.ErrNoWater, "no_water"},
	{actions.ErrUnknownEntity, "unknown_entity"},
	{actions.ErrNotActive, "not_active"},
	{actions.ErrUnknownChild, "unknown_leaf"},
	{actions.ErrInvalidResult, "invalid_result"},
}

// outcomeOf names err for the trace: "ok", an action refusal, or a
// lower-cased sync error code.
func outcomeOf(err error) string {
	if err == nil {
		return "ok"
	}
	for _, o := range actionOutcomes {
		if errors.Is(err, o.err) {
			return o.name
		}
	}
	var se *syncer.Error
	if errors.As(err, &se) {
		return strings.ToLower(string(se.Code))
	}
	return "error"
}

// link is a device's connection to the shared remote. Taking it offline
// affects only that device.
type link struct {
	remote.Store

	mu      sync.Mutex
	offline bool
}

func (l *link) setOffline(v bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.offline = v
}

func (l *link) down() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.offline
}

func (l *link) Insert(ctx context.Context, userID string, row remote.Row) error {
	if l.down() {
		return remote.ErrUnavailable
	}
	return l.Store.Insert(ctx, userID, row)
}

func (l *link) FetchSince(ctx context.Context, userID string, since time.Time) ([]remote.Row, error) {
	if l.down() {
		return nil, remote.ErrUnavailable
	}
	return l.Store.FetchSince(ctx, userID, since)
}

func (l *link) Subscribe(ctx context.Context, userID string) (<-chan remote.Row, error) {
	if l.down() {
		return nil, remote.ErrUnavailable
	}
	return l.Store.Subscribe(ctx, userID)
}

// sequence generates "<prefix>1", "<prefix>2", ...
type sequence struct {
	mu     sync.Mutex
	prefix string
	n      int
}

func (s *sequence) Generate() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("%s%d", s.prefix, s.n)
}

// stepArgs reads YAML-decoded arguments. Missing keys read as zero values.
type stepArgs map[string]any

func (a stepArgs) str(key string) string {
	s, _ := a[key].(string)
	return s
}

func (a stepArgs) num(key string) float64 {
	switch v := a[key].(type) {
	case int:
		return float64(v)
	case float64:
		return v
	}
	return 0
}

func (a stepArgs) whole(key string) int {
	switch v := a[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

func (a stepArgs) duration(key string) (time.Duration, error) {
	s := a.str(key)
	if s == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	return time.ParseDuration(s)
}
