package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/roach88/grove/internal/store"
)

// Phase is the orchestrator state.
type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhaseSyncing Phase = "syncing"
	PhaseSuccess Phase = "success"
	PhaseError   Phase = "error"
)

// Meta is the persisted sync outcome history.
type Meta struct {
	LastAttempt         time.Time `json:"last_attempt,omitempty"`
	LastSuccess         time.Time `json:"last_success,omitempty"`
	LastFullSync        time.Time `json:"last_full_sync,omitempty"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastError           string    `json:"last_error,omitempty"`
	LastErrorCode       Code      `json:"last_error_code,omitempty"`
}

// Listener is told about every phase change. err is non-nil for PhaseError.
type Listener func(phase Phase, err error)

// bookkeeping owns the cache-version marker, the pull cursor, and Meta.
type bookkeeping struct {
	kv     store.KV
	logger *slog.Logger

	mu        sync.Mutex
	meta      Meta
	phase     Phase
	loaded    bool
	quota     bool
	listeners []Listener
}

func newBookkeeping(kv store.KV, logger *slog.Logger) *bookkeeping {
	return &bookkeeping{kv: kv, logger: logger, phase: PhaseIdle}
}

func (b *bookkeeping) load(ctx context.Context) error {
	data, err := b.kv.Get(ctx, store.KeySyncMeta)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return fmt.Errorf("load sync meta: %w", err)
	default:
		var m Meta
		if err := json.Unmarshal(data, &m); err != nil {
			// Meta is advisory; a corrupt copy only loses history.
			b.logger.Warn("discarding corrupt sync meta", "error", err)
		} else {
			b.mu.Lock()
			b.meta = m
			b.mu.Unlock()
		}
	}

	b.mu.Lock()
	b.loaded = true
	b.mu.Unlock()
	return nil
}

func (b *bookkeeping) cacheVersion(ctx context.Context) (string, error) {
	data, err := b.kv.Get(ctx, store.KeyCacheVersion)
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read cache version: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func (b *bookkeeping) cursor(ctx context.Context) (time.Time, error) {
	data, err := b.kv.Get(ctx, store.KeyLastSyncCursor)
	if errors.Is(err, store.ErrNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("read cursor: %w", err)
	}
	if len(data) == 0 {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(string(data)))
	if err != nil {
		b.logger.Warn("discarding unparseable cursor", "cursor", string(data), "error", err)
		return time.Time{}, nil
	}
	return t, nil
}

func (b *bookkeeping) setCursor(ctx context.Context, t time.Time) error {
	if t.IsZero() {
		return nil
	}
	return b.write(ctx, store.KeyLastSyncCursor, []byte(t.UTC().Format(time.RFC3339Nano)))
}

// commitFull records a completed full fetch: version marker, then cursor.
func (b *bookkeeping) commitFull(ctx context.Context, cursor time.Time) error {
	if err := b.write(ctx, store.KeyCacheVersion, []byte(CacheVersion)); err != nil {
		return err
	}
	if cursor.IsZero() {
		if err := b.kv.Remove(ctx, store.KeyLastSyncCursor); err != nil {
			return fmt.Errorf("clear cursor: %w", err)
		}
		return nil
	}
	return b.setCursor(ctx, cursor)
}

// invalidate drops the version marker and cursor so the next sync is full.
func (b *bookkeeping) invalidate(ctx context.Context) error {
	for _, key := range []string{store.KeyCacheVersion, store.KeyLastSyncCursor} {
		if err := b.kv.Remove(ctx, key); err != nil {
			return fmt.Errorf("clear %s: %w", key, err)
		}
	}
	return nil
}

func (b *bookkeeping) erase(ctx context.Context) error {
	if err := b.invalidate(ctx); err != nil {
		return err
	}
	if err := b.kv.Remove(ctx, store.KeySyncMeta); err != nil {
		return fmt.Errorf("clear sync meta: %w", err)
	}
	b.mu.Lock()
	b.meta = Meta{}
	b.quota = false
	b.phase = PhaseIdle
	b.mu.Unlock()
	return nil
}

func (b *bookkeeping) subscribe(fn Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, fn)
}

func (b *bookkeeping) begin(now time.Time) {
	b.mu.Lock()
	b.phase = PhaseSyncing
	b.meta.LastAttempt = now
	b.mu.Unlock()
	b.notify(PhaseSyncing, nil)
}

func (b *bookkeeping) succeed(ctx context.Context, now time.Time, full bool) {
	b.mu.Lock()
	b.phase = PhaseSuccess
	b.meta.LastSuccess = now
	if full {
		b.meta.LastFullSync = now
	}
	b.meta.ConsecutiveFailures = 0
	b.meta.LastError = ""
	b.meta.LastErrorCode = ""
	b.mu.Unlock()

	b.persistMeta(ctx)
	b.notify(PhaseSuccess, nil)
}

func (b *bookkeeping) fail(ctx context.Context, err *Error) {
	b.mu.Lock()
	b.phase = PhaseError
	b.meta.ConsecutiveFailures++
	b.meta.LastError = err.Error()
	b.meta.LastErrorCode = err.Code
	if err.Code == CodeQuotaExceeded {
		b.quota = true
	}
	b.mu.Unlock()

	b.persistMeta(ctx)
	b.notify(PhaseError, err)
}

func (b *bookkeeping) snapshot() (Meta, Phase, bool, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.meta, b.phase, b.loaded, b.quota
}

func (b *bookkeeping) persistMeta(ctx context.Context) {
	b.mu.Lock()
	data, err := json.Marshal(b.meta)
	b.mu.Unlock()
	if err != nil {
		b.logger.Error("encode sync meta failed", "error", err)
		return
	}
	if err := b.write(ctx, store.KeySyncMeta, data); err != nil {
		b.logger.Error("persist sync meta failed", "error", err)
	}
}

func (b *bookkeeping) write(ctx context.Context, key string, value []byte) error {
	if err := b.kv.Set(ctx, key, value); err != nil {
		if errors.Is(err, store.ErrQuotaExceeded) {
			b.mu.Lock()
			b.quota = true
			b.mu.Unlock()
		}
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

func (b *bookkeeping) notify(phase Phase, err error) {
	b.mu.Lock()
	subs := make([]Listener, len(b.listeners))
	copy(subs, b.listeners)
	b.mu.Unlock()

	for _, fn := range subs {
		fn(phase, err)
	}
}
