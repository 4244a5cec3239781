package store

import (
	"context"
	"errors"
)

// Well-known keys used by the sync engine.
const (
	KeyEvents         = "events"
	KeyCacheVersion   = "cache_version"
	KeyLastSyncCursor = "last_sync_cursor"
	KeyPendingUploads = "pending_uploads"
	KeySyncMeta       = "sync_meta"
)

var (
	// ErrNotFound is returned by Get when the key has never been set or was removed.
	ErrNotFound = errors.New("store: key not found")

	// ErrQuotaExceeded is returned when local persistence is full.
	ErrQuotaExceeded = errors.New("store: quota exceeded")
)

// KV is the generic key-value persistence capability.
type KV interface {
	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error

	// Remove deletes key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error
}

// Compile-time checks.
var (
	_ KV = (*Store)(nil)
	_ KV = (*Memory)(nil)
)
