package eventlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/grove/internal/debounce"
	"github.com/roach88/grove/internal/event"
	"github.com/roach88/grove/internal/store"
)

// DefaultPersistDelay coalesces bursts of appends into one durable write.
const DefaultPersistDelay = 300 * time.Millisecond

// ChangeKind says how the log changed.
type ChangeKind int

const (
	// ChangeAppend means events were added at the end of the log.
	ChangeAppend ChangeKind = iota + 1
	// ChangeReplace means the log content was replaced wholesale.
	ChangeReplace
	// ChangeErase means the log was cleared.
	ChangeErase
)

// Change is delivered to subscribers after every effective mutation.
type Change struct {
	Kind ChangeKind
	// Events holds the accepted events for ChangeAppend, the new content for
	// ChangeReplace, and nothing for ChangeErase.
	Events []event.Event
}

// fingerprint is the fallback de-duplication key for events without a
// client_id (legacy rows).
type fingerprint struct {
	timestamp string
	typ       event.Type
}

// Log is the in-memory event log with debounced persistence.
//
// Thread-safety: all methods are safe for concurrent use. Subscribers are
// called after the log lock is released, in mutation order.
type Log struct {
	mu           sync.RWMutex
	events       []event.Event
	byClientID   map[string]int
	fingerprints map[fingerprint]int // every event
	legacy       map[fingerprint]int // events without a client_id

	subMu       sync.Mutex
	subscribers []func(Change)
	notifyMu    sync.Mutex // keeps notifications in mutation order

	kv     store.KV
	saver  *debounce.Task
	logger *slog.Logger
}

// Option configures a Log.
type Option func(*Log)

// WithLogger sets the structured logger used for diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(lg *Log) {
		lg.logger = l
	}
}

// WithPersistDelay overrides DefaultPersistDelay. Zero writes synchronously.
func WithPersistDelay(d time.Duration) Option {
	return func(lg *Log) {
		lg.saver = debounce.New(d, lg.persist)
	}
}

// Open creates a log backed by kv and loads any persisted events. Persisted
// entries that fail validation are discarded with a warning.
func Open(ctx context.Context, kv store.KV, opts ...Option) (*Log, error) {
	l := New(kv, opts...)

	data, err := kv.Get(ctx, store.KeyEvents)
	if errors.Is(err, store.ErrNotFound) {
		return l, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load event log: %w", err)
	}

	var persisted []event.Event
	if len(data) > 0 {
		if err := json.Unmarshal(data, &persisted); err != nil {
			return nil, fmt.Errorf("decode event log: %w", err)
		}
	}

	l.mu.Lock()
	accepted := 0
	for _, ev := range persisted {
		if l.acceptLocked(ev) {
			accepted++
		}
	}
	l.mu.Unlock()

	l.logger.Debug("event log loaded", "persisted", len(persisted), "accepted", accepted)
	return l, nil
}

// New creates an empty log backed by kv without reading it.
func New(kv store.KV, opts ...Option) *Log {
	l := &Log{
		byClientID:   make(map[string]int),
		fingerprints: make(map[fingerprint]int),
		legacy:       make(map[fingerprint]int),
		kv:           kv,
		logger:       slog.Default(),
	}
	l.saver = debounce.New(DefaultPersistDelay, l.persist)
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Subscribe registers fn to be called after every effective mutation.
func (l *Log) Subscribe(fn func(Change)) {
	l.subMu.Lock()
	defer l.subMu.Unlock()
	l.subscribers = append(l.subscribers, fn)
}

// Append validates and appends one event. It returns false when the event was
// dropped, either because it is malformed or because its client_id is already
// in the log.
func (l *Log) Append(ev event.Event) bool {
	return l.AppendMany([]event.Event{ev}) == 1
}

// AppendMany appends each valid, not-yet-present event in order and returns
// how many were accepted. Subscribers see one notification for the batch.
func (l *Log) AppendMany(events []event.Event) int {
	if len(events) == 0 {
		return 0
	}

	l.notifyMu.Lock()
	defer l.notifyMu.Unlock()

	l.mu.Lock()
	accepted := make([]event.Event, 0, len(events))
	for _, ev := range events {
		if l.acceptLocked(ev) {
			accepted = append(accepted, ev)
		}
	}
	l.mu.Unlock()

	if len(accepted) == 0 {
		return 0
	}

	l.saver.Schedule()
	l.notify(Change{Kind: ChangeAppend, Events: accepted})
	return len(accepted)
}

// ReplaceAll swaps the log content for events, applying the same validation
// and de-duplication as AppendMany. Used by full sync and import.
func (l *Log) ReplaceAll(events []event.Event) int {
	l.notifyMu.Lock()
	defer l.notifyMu.Unlock()

	l.mu.Lock()
	l.resetLocked(len(events))
	for _, ev := range events {
		l.acceptLocked(ev)
	}
	accepted := len(l.events)
	snapshot := l.copyLocked()
	l.mu.Unlock()

	if dropped := len(events) - accepted; dropped > 0 {
		l.logger.Debug("replace discarded events", "dropped", dropped)
	}

	l.saver.Schedule()
	l.notify(Change{Kind: ChangeReplace, Events: snapshot})
	return accepted
}

// Erase clears the log. Only the explicit "erase all data" action uses this.
func (l *Log) Erase() {
	l.notifyMu.Lock()
	defer l.notifyMu.Unlock()

	l.mu.Lock()
	l.resetLocked(0)
	l.mu.Unlock()

	l.saver.Schedule()
	l.notify(Change{Kind: ChangeErase})
}

// All returns a copy of the log in append order.
func (l *Log) All() []event.Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.copyLocked()
}

// Len returns the number of events in the log.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

// Lookup returns the event with the given client_id.
func (l *Log) Lookup(clientID string) (event.Event, bool) {
	if clientID == "" {
		return event.Event{}, false
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	idx, ok := l.byClientID[clientID]
	if !ok {
		return event.Event{}, false
	}
	return l.events[idx], true
}

// Contains reports whether ev is already in the log. An exact client_id match
// is the primary test; the (timestamp, type) pair is the fallback whenever
// either side lacks a client_id.
func (l *Log) Contains(ev event.Event) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.containsLocked(ev)
}

// Flush writes pending changes now and returns the write error, if any.
// Errors matching store.ErrQuotaExceeded mean local persistence is full.
func (l *Log) Flush() error {
	return l.saver.Flush()
}

// PersistErr returns the error of the most recent durable write.
func (l *Log) PersistErr() error {
	return l.saver.LastErr()
}

// Close flushes pending writes and stops scheduling new ones.
func (l *Log) Close() error {
	return l.saver.Stop()
}

func (l *Log) containsLocked(ev event.Event) bool {
	fp := fingerprint{timestamp: ev.Timestamp, typ: ev.Type}
	if ev.ClientID == "" {
		_, ok := l.fingerprints[fp]
		return ok
	}
	if _, ok := l.byClientID[ev.ClientID]; ok {
		return true
	}
	_, ok := l.legacy[fp]
	return ok
}

// acceptLocked validates and appends ev. Caller holds l.mu.
func (l *Log) acceptLocked(ev event.Event) bool {
	if err := event.Validate(ev); err != nil {
		l.logger.Warn("dropping invalid event", "event", ev.String(), "error", err)
		return false
	}
	if l.containsLocked(ev) {
		l.logger.Debug("skipping duplicate event", "client_id", ev.ClientID, "timestamp", ev.Timestamp, "type", ev.Type)
		return false
	}

	idx := len(l.events)
	l.events = append(l.events, ev)
	fp := fingerprint{timestamp: ev.Timestamp, typ: ev.Type}
	if ev.ClientID != "" {
		l.byClientID[ev.ClientID] = idx
	} else {
		l.legacy[fp] = idx
	}
	if _, ok := l.fingerprints[fp]; !ok {
		l.fingerprints[fp] = idx
	}
	return true
}

func (l *Log) resetLocked(capacity int) {
	l.events = make([]event.Event, 0, capacity)
	l.byClientID = make(map[string]int, capacity)
	l.fingerprints = make(map[fingerprint]int, capacity)
	l.legacy = make(map[fingerprint]int)
}

func (l *Log) copyLocked() []event.Event {
	out := make([]event.Event, len(l.events))
	copy(out, l.events)
	return out
}

func (l *Log) notify(c Change) {
	l.subMu.Lock()
	subs := make([]func(Change), len(l.subscribers))
	copy(subs, l.subscribers)
	l.subMu.Unlock()

	for _, fn := range subs {
		fn(c)
	}
}

// persist writes the whole log under store.KeyEvents.
func (l *Log) persist() error {
	data, err := json.Marshal(l.All())
	if err != nil {
		return fmt.Errorf("encode event log: %w", err)
	}
	if err := l.kv.Set(context.Background(), store.KeyEvents, data); err != nil {
		l.logger.Error("persist event log failed", "events", l.Len(), "error", err)
		return fmt.Errorf("persist event log: %w", err)
	}
	return nil
}
