// Package pending tracks locally created events not yet confirmed by the
// remote store.
//
// The in-memory set is updated synchronously, so readers never observe a
// stale pending state. The durable copy under store.KeyPendingUploads is
// written through a debounced task.
package pending

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/roach88/grove/internal/debounce"
	"github.com/roach88/grove/internal/store"
)

// DefaultPersistDelay matches the event log's write coalescing window.
const DefaultPersistDelay = 300 * time.Millisecond

// Tracker is the pending-upload set keyed by client_id.
type Tracker struct {
	mu  sync.RWMutex
	ids map[string]struct{}

	kv     store.KV
	saver  *debounce.Task
	logger *slog.Logger
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) {
		t.logger = l
	}
}

// WithPersistDelay overrides DefaultPersistDelay. Zero writes synchronously.
func WithPersistDelay(d time.Duration) Option {
	return func(t *Tracker) {
		t.saver = debounce.New(d, t.persist)
	}
}

// Open loads the persisted set from kv.
func Open(ctx context.Context, kv store.KV, opts ...Option) (*Tracker, error) {
	t := &Tracker{
		ids:    make(map[string]struct{}),
		kv:     kv,
		logger: slog.Default(),
	}
	t.saver = debounce.New(DefaultPersistDelay, t.persist)
	for _, opt := range opts {
		opt(t)
	}

	data, err := kv.Get(ctx, store.KeyPendingUploads)
	if errors.Is(err, store.ErrNotFound) {
		return t, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load pending uploads: %w", err)
	}
	if len(data) == 0 {
		return t, nil
	}

	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("decode pending uploads: %w", err)
	}
	for _, id := range ids {
		if id != "" {
			t.ids[id] = struct{}{}
		}
	}
	return t, nil
}

// Add marks id pending. It reports whether the set changed.
func (t *Tracker) Add(id string) bool {
	if id == "" {
		return false
	}
	t.mu.Lock()
	_, had := t.ids[id]
	t.ids[id] = struct{}{}
	t.mu.Unlock()

	if had {
		return false
	}
	t.saver.Schedule()
	return true
}

// Remove clears id. It reports whether id was pending.
func (t *Tracker) Remove(id string) bool {
	t.mu.Lock()
	_, had := t.ids[id]
	delete(t.ids, id)
	t.mu.Unlock()

	if !had {
		return false
	}
	t.saver.Schedule()
	return true
}

// Has reports whether id is pending.
func (t *Tracker) Has(id string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.ids[id]
	return ok
}

// IDs returns the pending ids in sorted order.
func (t *Tracker) IDs() []string {
	t.mu.RLock()
	out := make([]string, 0, len(t.ids))
	for id := range t.ids {
		out = append(out, id)
	}
	t.mu.RUnlock()

	sort.Strings(out)
	return out
}

// Len returns the number of pending ids.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.ids)
}

// Clear empties the set.
func (t *Tracker) Clear() {
	t.mu.Lock()
	t.ids = make(map[string]struct{})
	t.mu.Unlock()
	t.saver.Schedule()
}

// Flush writes the set now.
func (t *Tracker) Flush() error {
	return t.saver.Flush()
}

// PersistErr returns the error of the most recent durable write.
func (t *Tracker) PersistErr() error {
	return t.saver.LastErr()
}

// Close flushes and stops scheduling.
func (t *Tracker) Close() error {
	return t.saver.Stop()
}

func (t *Tracker) persist() error {
	data, err := json.Marshal(t.IDs())
	if err != nil {
		return fmt.Errorf("encode pending uploads: %w", err)
	}
	if err := t.kv.Set(context.Background(), store.KeyPendingUploads, data); err != nil {
		t.logger.Error("persist pending uploads failed", "count", t.Len(), "error", err)
		return fmt.Errorf("persist pending uploads: %w", err)
	}
	return nil
}
