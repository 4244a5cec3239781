package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/grove/internal/event"
	"github.com/roach88/grove/internal/eventlog"
	"github.com/roach88/grove/internal/status"
	"github.com/roach88/grove/internal/syncer"
)

// SyncOutput is the result of one sync command.
type SyncOutput struct {
	syncer.Result
	Pending int `json:"pending"`
}

func (s SyncOutput) RenderText(w io.Writer) {
	fmt.Fprintf(w, "%s sync: fetched %d, applied %d", s.Mode, s.Pull.Fetched, s.Pull.Applied)
	if s.Pull.Invalid > 0 {
		fmt.Fprintf(w, ", %d invalid", s.Pull.Invalid)
	}
	fmt.Fprintln(w)
	switch {
	case s.Retry.Gated:
		fmt.Fprintln(w, "uploads: waiting for backoff")
	case s.Retry.Attempted > 0:
		fmt.Fprintf(w, "uploads: %d attempted, %d confirmed, %d failed\n", s.Retry.Attempted, s.Retry.Confirmed, s.Retry.Failed)
	}
	fmt.Fprintf(w, "pending: %d\n", s.Pending)
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(opts *RootOptions) *cobra.Command {
	var full bool
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Upload pending events and pull from the remote",
		Long: `Run one sync pass: retry pending uploads, then pull events newer than the
stored cursor. The first sync, or one with --full, fetches the whole remote
log instead; local events still waiting for upload are kept.

Exit codes:
  0 - Synced
  1 - Sync failed (events stay pending locally)
  2 - No remote or identity configured`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				out := opts.formatter(cmd)

				var (
					res syncer.Result
					err error
				)
				if full {
					res, err = a.engine.ForceFullSync(ctx)
				} else {
					res, err = a.engine.Sync(ctx)
				}
				if err != nil {
					return syncFailure(out, err)
				}
				return out.Success(SyncOutput{Result: res, Pending: a.engine.Pending().Len()})
			})
		},
	}
	cmd.Flags().BoolVar(&full, "full", false, "discard the cursor and fetch the whole remote log")
	return cmd
}

// syncFailure reports a sync error. Missing configuration is a usage error.
func syncFailure(out *OutputFormatter, err error) error {
	switch {
	case syncer.IsNotConfigured(err):
		return report(out, ExitCommandError, ErrCodeSync, "no remote configured (set --remote-db or GROVE_REMOTE_DB)", err)
	case syncer.IsNotAuthenticated(err):
		return report(out, ExitCommandError, ErrCodeSync, "no identity configured (set --user or GROVE_TOKEN)", err)
	default:
		return report(out, ExitFailure, ErrCodeSync, "sync failed", err)
	}
}

// PendingList lists client ids waiting for upload.
type PendingList struct {
	Count  int           `json:"count"`
	IDs    []string      `json:"ids"`
	Events []event.Event `json:"events"`
}

func (p PendingList) RenderText(w io.Writer) {
	if p.Count == 0 {
		fmt.Fprintln(w, "nothing pending")
		return
	}
	fmt.Fprintf(w, "%d pending upload(s)\n", p.Count)
	for _, ev := range p.Events {
		fmt.Fprintf(w, "  %s  %s  %s\n", ev.ClientID, ev.Timestamp, ev.Type)
	}
}

// NewPendingCommand creates the pending command.
func NewPendingCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List events not yet confirmed by the remote",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				ids := a.engine.Pending().IDs()
				events := make([]event.Event, 0, len(ids))
				for _, id := range ids {
					if ev, ok := a.log.Lookup(id); ok {
						events = append(events, ev)
					}
				}
				return opts.formatter(cmd).Success(PendingList{
					Count:  len(ids),
					IDs:    ids,
					Events: event.Sorted(events),
				})
			})
		},
	}
}

// StatusOutput combines the indicator with the sync history.
type StatusOutput struct {
	status.Report
	Configured bool        `json:"configured"`
	Meta       syncer.Meta `json:"meta"`
}

func (s StatusOutput) RenderText(w io.Writer) {
	fmt.Fprintf(w, "status:  %s\n", s.Status)
	fmt.Fprintf(w, "pending: %d\n", s.Pending)
	if !s.Meta.LastSuccess.IsZero() {
		fmt.Fprintf(w, "synced:  %s\n", s.Meta.LastSuccess.Local().Format(time.RFC3339))
	}
	if s.Meta.ConsecutiveFailures > 0 {
		fmt.Fprintf(w, "failing: %d consecutive (%s)\n", s.Meta.ConsecutiveFailures, s.Meta.LastErrorCode)
	}
	if s.Warn || s.BackupPrompt {
		fmt.Fprintf(w, "warning: %s\n", s.Message)
	}
}

// NewStatusCommand creates the status command.
func NewStatusCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the sync status indicator",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				return opts.formatter(cmd).Success(StatusOutput{
					Report:     status.NewIndicator(a.engine).Report(),
					Configured: a.engine.Configured(),
					Meta:       a.engine.Meta(),
				})
			})
		},
	}
}

// ArrivedEvent is printed by watch for every event that lands in the log.
type ArrivedEvent struct {
	event.Event
}

func (a ArrivedEvent) RenderText(w io.Writer) {
	subject := a.EntityID
	if subject == "" {
		subject = a.ChildID
	}
	fmt.Fprintf(w, "%s  %-18s %s\n", a.Timestamp, a.Type, subject)
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(opts *RootOptions) *cobra.Command {
	var (
		interval time.Duration
		stopAt   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stay connected: apply realtime events and sync periodically",
		Long: `Subscribe to new remote events and run a sync pass every interval until
interrupted. Events arriving from other devices are printed as they land
in the local log.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("interval") {
				interval = opts.Config.SyncInterval
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				return runWatch(ctx, cmd, opts, a, interval, stopAt)
			})
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", time.Minute, "time between sync passes (default $GROVE_SYNC_INTERVAL)")
	cmd.Flags().DurationVar(&stopAt, "for", 0, "stop after this long (0 runs until interrupted)")
	return cmd
}

func runWatch(parent context.Context, cmd *cobra.Command, opts *RootOptions, a *app, interval, stopAt time.Duration) error {
	out := opts.formatter(cmd)

	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	if stopAt > 0 {
		ctx, cancel = context.WithTimeout(ctx, stopAt)
		defer cancel()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	var mu sync.Mutex
	a.log.Subscribe(func(c eventlog.Change) {
		if c.Kind != eventlog.ChangeAppend {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		for _, ev := range c.Events {
			_ = out.Success(ArrivedEvent{Event: ev})
		}
	})

	rt, err := a.engine.SubscribeRealtime(ctx, nil)
	if err != nil {
		return syncFailure(out, err)
	}
	out.VerboseLog("watching, syncing every %s", interval)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return rt.Run(gctx) })
	g.Go(func() error { return a.engine.Run(gctx, interval) })

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return report(out, ExitFailure, ErrCodeSync, "watch stopped", err)
	}
	return nil
}
