package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/grove/internal/actions"
	"github.com/roach88/grove/internal/cache"
	"github.com/roach88/grove/internal/clock"
	"github.com/roach88/grove/internal/eventlog"
	"github.com/roach88/grove/internal/pending"
	"github.com/roach88/grove/internal/remote/sqlremote"
	"github.com/roach88/grove/internal/status"
	"github.com/roach88/grove/internal/store"
	"github.com/roach88/grove/internal/syncer"
	"github.com/roach88/grove/internal/telemetry"
)

// app is one opened grove: local store, log, engine, cache, and builders.
type app struct {
	kv      *store.Store
	remote  *sqlremote.Store // nil when no remote is configured
	log     *eventlog.Log
	pending *pending.Tracker
	engine  *syncer.Engine
	cache   *cache.Cache
	builder *actions.Builder

	shutdownTelemetry func(context.Context) error
}

// openApp wires every component from opts.
func openApp(ctx context.Context, opts *RootOptions) (*app, error) {
	cfg := opts.Config
	logger := opts.Logger
	clk := clock.System{}

	loc, err := cfg.Location()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid timezone", err)
	}

	shutdown, err := telemetry.Setup(ctx, cfg.OTelEndpoint, cfg.OTelEnabled)
	if err != nil {
		logger.Warn("tracing disabled", "error", err)
	}

	kv, err := store.Open(opts.DB)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, fmt.Sprintf("failed to open database %s", opts.DB), err)
	}
	a := &app{kv: kv, shutdownTelemetry: shutdown}

	a.log, err = eventlog.Open(ctx, kv, eventlog.WithLogger(logger), eventlog.WithPersistDelay(cfg.PersistDebounce))
	if err != nil {
		a.Close()
		return nil, WrapExitError(ExitCommandError, "failed to load event log", err)
	}
	a.pending, err = pending.Open(ctx, kv, pending.WithLogger(logger), pending.WithPersistDelay(cfg.PersistDebounce))
	if err != nil {
		a.Close()
		return nil, WrapExitError(ExitCommandError, "failed to load pending uploads", err)
	}

	engineOpts := []syncer.Option{
		syncer.WithIdentity(cfg.Identity(clk.Now)),
		syncer.WithClock(clk),
		syncer.WithLogger(logger),
		syncer.WithTimeout(cfg.RemoteTimeout),
		syncer.WithBackoff(syncer.BackoffConfig{
			Base:        cfg.RetryBase,
			Max:         cfg.RetryMax,
			MaxAttempts: cfg.RetryMaxAttempts,
			Jitter:      syncer.DefaultBackoff().Jitter,
		}),
	}
	if opts.RemoteDB != "" {
		a.remote, err = sqlremote.Open(opts.RemoteDB, sqlremote.WithLogger(logger))
		if err != nil {
			a.Close()
			return nil, WrapExitError(ExitCommandError, fmt.Sprintf("failed to open remote %s", opts.RemoteDB), err)
		}
		engineOpts = append(engineOpts, syncer.WithRemote(a.remote))
	}

	a.engine = syncer.New(a.log, a.pending, kv, engineOpts...)
	if err := a.engine.Load(ctx); err != nil {
		a.Close()
		return nil, WrapExitError(ExitCommandError, "failed to load sync state", err)
	}

	a.cache = cache.New(a.log, cfg.Rules(), cache.WithLocation(loc))
	a.builder = actions.New(a.cache, actions.WithClock(clk))
	return a, nil
}

// Close flushes the log and pending set and releases every handle.
func (a *app) Close() error {
	var errs []error
	if a.engine != nil {
		errs = append(errs, a.engine.Close())
	} else {
		if a.log != nil {
			errs = append(errs, a.log.Close())
		}
		if a.pending != nil {
			errs = append(errs, a.pending.Close())
		}
	}
	if a.remote != nil {
		errs = append(errs, a.remote.Close())
	}
	errs = append(errs, a.kv.Close())
	if a.shutdownTelemetry != nil {
		errs = append(errs, a.shutdownTelemetry(context.Background()))
	}
	return errors.Join(errs...)
}

// withApp opens the app for one command run and closes it afterwards. A
// close failure (an unflushed write) is reported when fn itself succeeded.
func withApp(cmd *cobra.Command, opts *RootOptions, fn func(ctx context.Context, a *app) error) (err error) {
	ctx := commandContext(cmd)
	a, err := openApp(ctx, opts)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); cerr != nil && err == nil {
			err = closeError(cerr)
		}
	}()
	return fn(ctx, a)
}

// closeError turns a failed final write into an exit error. Running out of
// local storage gets the backup prompt, since the next process starts
// without knowing about it.
func closeError(cerr error) *ExitError {
	if syncer.IsQuotaExceeded(cerr) {
		return WrapExitError(ExitFailure, status.BackupMessage+" with 'grove export'", cerr)
	}
	return WrapExitError(ExitFailure, "failed to persist changes", cerr)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
