package syncer

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/grove/internal/event"
	"github.com/roach88/grove/internal/status"
	"github.com/roach88/grove/internal/store"
)

// Mode says which kind of pull a sync performed.
type Mode string

const (
	ModeIncremental Mode = "incremental"
	ModeFull        Mode = "full"
)

// Result is the outcome of one Sync.
type Result struct {
	Mode  Mode        `json:"mode"`
	Retry RetryResult `json:"retry"`
	Pull  PullResult  `json:"pull"`
	// Shared is set when the caller joined a sync already in flight.
	Shared bool `json:"shared,omitempty"`
}

// Sync runs one sync pass: retry pending uploads, then pull incrementally if
// the cache version is current, else fetch everything.
//
// Concurrent callers share one in-flight pass. Cancelling ctx abandons the
// wait but not the pass itself.
func (e *Engine) Sync(ctx context.Context) (Result, error) {
	ch := e.group.DoChan("sync", func() (any, error) {
		return e.runSync(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return Result{}, Classify("sync", ctx.Err())
	case r := <-ch:
		res, _ := r.Val.(Result)
		res.Shared = r.Shared
		return res, r.Err
	}
}

// ForceFullSync drops the cursor and cache version, then syncs. It picks up
// server-side-only changes, such as remote deletions, that an incremental
// pull never observes.
func (e *Engine) ForceFullSync(ctx context.Context) (Result, error) {
	if err := e.requireRemote("sync"); err != nil {
		return Result{Mode: ModeFull}, err
	}
	if err := e.bk.invalidate(ctx); err != nil {
		return Result{}, Classify("sync", err)
	}
	res, err := e.Sync(ctx)
	if err == nil && res.Shared && res.Mode != ModeFull {
		// Joined a pass that read the version before it was cleared.
		return e.Sync(ctx)
	}
	return res, err
}

// Run syncs once immediately and then every interval until ctx is done.
func (e *Engine) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.logger.Info("sync loop starting", "interval", interval)
	for {
		if _, err := e.Sync(ctx); err != nil {
			if IsNotConfigured(err) {
				e.logger.Info("sync loop stopping, no remote configured")
				return nil
			}
			if ctx.Err() == nil {
				e.logger.Warn("periodic sync failed", "error", err)
			}
		}
		select {
		case <-ctx.Done():
			e.logger.Info("sync loop stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Subscribe registers fn for phase changes.
func (e *Engine) Subscribe(fn Listener) {
	e.bk.subscribe(fn)
}

// Meta returns the sync outcome history.
func (e *Engine) Meta() Meta {
	m, _, _, _ := e.bk.snapshot()
	return m
}

// Phase returns the current orchestrator phase.
func (e *Engine) Phase() Phase {
	_, p, _, _ := e.bk.snapshot()
	return p
}

// StatusSnapshot implements status.Source.
func (e *Engine) StatusSnapshot() status.Snapshot {
	meta, phase, loaded, quota := e.bk.snapshot()
	if errors.Is(e.log.PersistErr(), store.ErrQuotaExceeded) || errors.Is(e.pending.PersistErr(), store.ErrQuotaExceeded) {
		quota = true
	}

	offline := false
	if meta.ConsecutiveFailures > 0 {
		switch meta.LastErrorCode {
		case CodeNetwork, CodeTimeout, CodeNotAuthenticated:
			offline = true
		}
	}

	return status.Snapshot{
		Loaded:              loaded,
		Configured:          e.remote != nil,
		Syncing:             phase == PhaseSyncing,
		Offline:             offline,
		Pending:             e.pending.Len(),
		ConsecutiveFailures: meta.ConsecutiveFailures,
		LastError:           meta.LastError,
		LastSuccess:         meta.LastSuccess,
		QuotaExceeded:       quota,
	}
}

func (e *Engine) runSync(ctx context.Context) (Result, error) {
	var res Result
	if err := e.requireRemote("sync"); err != nil {
		return res, err
	}
	if _, err := e.userID(ctx, "sync"); err != nil {
		se := Classify("sync", err)
		e.bk.fail(ctx, se)
		return res, se
	}

	ctx, span := e.tracer.Start(ctx, "sync")
	defer span.End()
	e.bk.begin(e.clock.Now())

	// Pending uploads go first so a full fetch sees as many of them
	// confirmed as possible.
	retry, retryErr := e.RetryPending(ctx)
	res.Retry = retry
	if se := Classify("retry", retryErr); se != nil && !se.Recoverable() {
		return res, e.finish(ctx, span, res, se)
	}

	version, err := e.bk.cacheVersion(ctx)
	if err != nil {
		return res, e.finish(ctx, span, res, Classify("sync", err))
	}

	if version == CacheVersion {
		res.Mode = ModeIncremental
		res.Pull, err = e.Pull(ctx)
	} else {
		res.Mode = ModeFull
		res.Pull, err = e.fullFetch(ctx)
	}
	if err == nil {
		// Pull succeeded; a leftover retry failure still means work remains,
		// but the remote is reachable, so report it.
		err = retryErr
	}
	span.SetAttributes(attribute.String("mode", string(res.Mode)))
	return res, e.finish(ctx, span, res, err)
}

// finish records the outcome and returns the classified error.
func (e *Engine) finish(ctx context.Context, span trace.Span, res Result, err error) error {
	if err == nil {
		e.bk.succeed(ctx, e.clock.Now(), res.Mode == ModeFull)
		e.logger.Info("sync complete",
			"mode", res.Mode,
			"uploaded", res.Retry.Confirmed,
			"applied", res.Pull.Applied,
			"pending", e.pending.Len(),
		)
		return nil
	}

	se := Classify("sync", err)
	span.RecordError(se)
	span.SetStatus(codes.Error, string(se.Code))
	e.bk.fail(ctx, se)
	e.logger.Info("sync failed", "mode", res.Mode, "code", se.Code, "error", se.Err)
	return se
}

// fullFetch fetches the complete remote set and replaces the log with it,
// merged with every local event still awaiting upload. The log is left
// untouched unless the fetch succeeds.
func (e *Engine) fullFetch(ctx context.Context) (PullResult, error) {
	res := PullResult{Full: true}
	if err := e.requireRemote("full_fetch"); err != nil {
		return res, err
	}
	userID, err := e.userID(ctx, "full_fetch")
	if err != nil {
		return res, err
	}

	ctx, span := e.tracer.Start(ctx, "full_fetch")
	defer span.End()

	e.txMu.Lock()
	e.pushedDuringFetch = make(map[string]struct{})
	keep := make(map[string]struct{})
	for _, id := range e.pending.IDs() {
		keep[id] = struct{}{}
	}
	e.txMu.Unlock()

	rows, err := e.fetch(ctx, userID, time.Time{})
	if err != nil {
		e.txMu.Lock()
		e.pushedDuringFetch = nil
		e.txMu.Unlock()
		return res, Classify("full_fetch", err)
	}
	res.Fetched = len(rows)

	merged := make([]event.Event, 0, len(rows)+len(keep))
	remoteIDs := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		ev, ok := e.decodeRow(row)
		if !ok {
			res.Invalid++
			continue
		}
		if ev.ClientID != "" {
			remoteIDs[ev.ClientID] = struct{}{}
		}
		merged = append(merged, ev)
	}

	e.txMu.Lock()
	for id := range e.pushedDuringFetch {
		keep[id] = struct{}{}
	}
	for _, id := range e.pending.IDs() {
		keep[id] = struct{}{}
	}
	e.pushedDuringFetch = nil

	for id := range keep {
		if _, onRemote := remoteIDs[id]; onRemote {
			if e.confirm(id) {
				res.Confirmed++
			}
			continue
		}
		ev, ok := e.log.Lookup(id)
		if !ok {
			continue
		}
		merged = append(merged, ev)
		res.Preserved++
	}

	before := e.log.Len()
	res.Applied = e.log.ReplaceAll(merged) - res.Preserved
	e.txMu.Unlock()

	if n := len(rows); n > 0 {
		res.Cursor = rows[n-1].CreatedAt
	}
	if err := e.bk.commitFull(ctx, res.Cursor); err != nil {
		return res, Classify("full_fetch", err)
	}

	span.SetAttributes(
		attribute.Int("fetched", res.Fetched),
		attribute.Int("preserved", res.Preserved),
	)
	e.logger.Info("full fetch complete",
		"fetched", res.Fetched,
		"preserved", res.Preserved,
		"confirmed", res.Confirmed,
		"before", before,
		"after", e.log.Len(),
	)
	return res, nil
}
