package syncer

import (
	"context"

	"github.com/roach88/grove/internal/event"
	"github.com/roach88/grove/internal/remote"
)

// Realtime merges rows the remote pushes between syncs.
//
// Each row is validated and de-duplicated like a pulled row. New events are
// appended and reported to the callback. A row that duplicates a pending
// local event confirms that upload. The pull cursor is not moved; the next
// incremental pull re-reads these rows and discards them as duplicates.
type Realtime struct {
	e     *Engine
	inbox *inbox
	onNew func(event.Event)
	done  chan struct{}
}

// SubscribeRealtime opens the notification channel for the current
// identity. Rows are queued until Run (or Drain) applies them. The
// subscription ends when ctx is done.
func (e *Engine) SubscribeRealtime(ctx context.Context, onNew func(event.Event)) (*Realtime, error) {
	if err := e.requireRemote("realtime"); err != nil {
		return nil, err
	}
	userID, err := e.userID(ctx, "realtime")
	if err != nil {
		return nil, err
	}

	ch, err := e.remote.Subscribe(ctx, userID)
	if err != nil {
		return nil, Classify("realtime", err)
	}

	rt := e.newRealtime(onNew)
	go rt.pump(ch)
	e.logger.Debug("realtime subscribed", "user_id", userID)
	return rt, nil
}

func (e *Engine) newRealtime(onNew func(event.Event)) *Realtime {
	if onNew == nil {
		onNew = func(event.Event) {}
	}
	return &Realtime{e: e, inbox: newInbox(), onNew: onNew, done: make(chan struct{})}
}

// pump moves rows from the transport into the inbox until the transport
// closes.
func (r *Realtime) pump(ch <-chan remote.Row) {
	defer close(r.done)
	defer r.inbox.Close()
	for row := range ch {
		r.inbox.Enqueue(row)
	}
}

// Enqueue queues a row as if the transport had delivered it.
func (r *Realtime) Enqueue(row remote.Row) bool {
	return r.inbox.Enqueue(row)
}

// Done is closed when the transport ends.
func (r *Realtime) Done() <-chan struct{} {
	return r.done
}

// Run applies queued rows until ctx is done or the transport closes and the
// queue is drained. Call it from exactly one goroutine.
func (r *Realtime) Run(ctx context.Context) error {
	for {
		r.Drain()
		if r.inbox.Closed() && r.inbox.Len() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.inbox.Wait():
		}
	}
}

// Drain applies every queued row and returns how many were appended.
func (r *Realtime) Drain() int {
	applied := 0
	for {
		row, ok := r.inbox.TryDequeue()
		if !ok {
			return applied
		}
		if r.apply(row) {
			applied++
		}
	}
}

func (r *Realtime) apply(row remote.Row) bool {
	ev, ok := r.e.decodeRow(row)
	if !ok {
		return false
	}
	if r.e.log.Contains(ev) {
		if ev.ClientID != "" && r.e.confirm(ev.ClientID) {
			r.e.logger.Debug("upload confirmed by realtime", "client_id", ev.ClientID)
		}
		return false
	}
	if !r.e.log.Append(ev) {
		return false
	}
	r.e.logger.Debug("realtime event applied", "client_id", ev.ClientID, "type", ev.Type)
	r.onNew(ev)
	return true
}
