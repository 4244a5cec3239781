package syncer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/roach88/grove/internal/auth"
	"github.com/roach88/grove/internal/clock"
	"github.com/roach88/grove/internal/event"
	"github.com/roach88/grove/internal/eventlog"
	"github.com/roach88/grove/internal/pending"
	"github.com/roach88/grove/internal/remote"
	"github.com/roach88/grove/internal/store"
)

// DefaultTimeout bounds every remote call.
const DefaultTimeout = 15 * time.Second

// CacheVersion is the marker a log must carry to be trusted for incremental
// pulls. Bumping it forces every client into one full fetch.
const CacheVersion = "1"

const tracerName = "github.com/roach88/grove/internal/syncer"

// Engine coordinates the event log, the pending set, and the remote store.
type Engine struct {
	log     *eventlog.Log
	pending *pending.Tracker
	kv      store.KV

	remote   remote.Store
	identity auth.Identity
	ids      event.IDGenerator
	clock    clock.Clock
	logger   *slog.Logger
	tracer   trace.Tracer
	timeout  time.Duration

	// txMu makes "append + mark pending" and "merge + replace" atomic with
	// respect to each other.
	txMu sync.Mutex
	// pushedDuringFetch collects client ids pushed while a full fetch is in
	// flight. Nil when no full fetch runs. Guarded by txMu.
	pushedDuringFetch map[string]struct{}

	group singleflight.Group
	gate  *retryGate

	bk *bookkeeping
}

// Option configures an Engine.
type Option func(*Engine)

// WithRemote wires the remote datastore. Without one, sync is a no-op and
// pushes stay pending.
func WithRemote(r remote.Store) Option {
	return func(e *Engine) { e.remote = r }
}

// WithIdentity sets the identity provider.
func WithIdentity(id auth.Identity) Option {
	return func(e *Engine) { e.identity = id }
}

// WithIDGenerator sets the client_id generator.
func WithIDGenerator(g event.IDGenerator) Option {
	return func(e *Engine) { e.ids = g }
}

// WithClock sets the clock used for new timestamps, backoff, and bookkeeping.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithTracer overrides the tracer taken from the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithBackoff configures the retry gate.
func WithBackoff(cfg BackoffConfig) Option {
	return func(e *Engine) { e.gate = newRetryGate(cfg) }
}

// New creates an engine. Call Load before the first sync to restore
// bookkeeping from kv.
func New(log *eventlog.Log, tracker *pending.Tracker, kv store.KV, opts ...Option) *Engine {
	e := &Engine{
		log:      log,
		pending:  tracker,
		kv:       kv,
		identity: auth.Static(""),
		ids:      event.UUIDv7Generator{},
		clock:    clock.System{},
		logger:   slog.Default(),
		tracer:   otel.Tracer(tracerName),
		timeout:  DefaultTimeout,
		gate:     newRetryGate(DefaultBackoff()),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.bk = newBookkeeping(kv, e.logger)
	return e
}

// Load restores sync bookkeeping. Missing keys are not an error.
func (e *Engine) Load(ctx context.Context) error {
	return e.bk.load(ctx)
}

// Configured reports whether a remote backend is wired up.
func (e *Engine) Configured() bool {
	return e.remote != nil
}

// Log returns the event log the engine writes to.
func (e *Engine) Log() *eventlog.Log { return e.log }

// Pending returns the pending-upload tracker.
func (e *Engine) Pending() *pending.Tracker { return e.pending }

// Erase clears the log, the pending set, and all sync bookkeeping. Only the
// explicit "erase all data" action calls it.
func (e *Engine) Erase(ctx context.Context) error {
	e.txMu.Lock()
	e.log.Erase()
	e.pending.Clear()
	e.txMu.Unlock()

	e.gate.Reset()
	if err := e.bk.erase(ctx); err != nil {
		return err
	}
	return e.Flush()
}

// Import replaces the log with events, typically a backup, and marks every
// event that carries a client_id pending. The next retry pass uploads them;
// duplicate-key responses resolve the ones the remote already has.
func (e *Engine) Import(ctx context.Context, events []event.Event) (int, error) {
	e.txMu.Lock()
	n := e.log.ReplaceAll(events)
	e.pending.Clear()
	for _, ev := range e.log.All() {
		if ev.ClientID != "" {
			e.pending.Add(ev.ClientID)
		}
	}
	e.txMu.Unlock()

	e.gate.Reset()
	e.logger.Info("log imported", "events", n, "pending", e.pending.Len())
	if err := ctx.Err(); err != nil {
		return n, Classify("import", err)
	}
	return n, e.Flush()
}

// Flush forces pending durable writes of the log and the pending set.
func (e *Engine) Flush() error {
	if err := e.log.Flush(); err != nil {
		return Classify("flush", err)
	}
	if err := e.pending.Flush(); err != nil {
		return Classify("flush", err)
	}
	return nil
}

// Close flushes and stops the debounced writers.
func (e *Engine) Close() error {
	logErr := e.log.Close()
	pendingErr := e.pending.Close()
	if logErr != nil {
		return Classify("close", logErr)
	}
	if pendingErr != nil {
		return Classify("close", pendingErr)
	}
	return nil
}

// userID resolves the identity, classifying failures as NotAuthenticated.
func (e *Engine) userID(ctx context.Context, op string) (string, error) {
	id, err := e.identity.UserID(ctx)
	if err != nil {
		return "", &Error{Code: CodeNotAuthenticated, Op: op, Err: err}
	}
	return id, nil
}

// requireRemote returns NotConfigured when no backend is wired up.
func (e *Engine) requireRemote(op string) error {
	if e.remote == nil {
		return &Error{Code: CodeNotConfigured, Op: op, Err: errNotConfigured}
	}
	return nil
}

// withTimeout bounds one remote call.
func (e *Engine) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.timeout)
}
