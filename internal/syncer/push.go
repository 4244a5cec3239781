package syncer

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/roach88/grove/internal/event"
	"github.com/roach88/grove/internal/remote"
)

// Push applies ev locally and uploads it.
//
// A missing client_id is generated and a missing timestamp is stamped from
// the engine clock; the returned event carries both. The local append and
// the pending mark happen in one local transaction before any network
// round-trip, so derived state reflects the action immediately.
//
// Outcomes: success or duplicate-key clears the pending mark. Any other
// remote failure leaves it pending for the retry pass and is returned; the
// local append is never rolled back. Without a remote backend the event
// stays pending and no error is returned. Without an identity the event
// stays pending and a NotAuthenticated error is returned.
//
// Pushing an event whose client_id is already in the log does not apply it
// twice; if it is still pending the upload is retried. An event that matches
// a legacy entry's (timestamp, type) is refused with ErrDuplicateEvent.
func (e *Engine) Push(ctx context.Context, ev event.Event) (event.Event, error) {
	if ev.ClientID == "" {
		ev.ClientID = e.ids.Generate()
	}
	if ev.Timestamp == "" {
		ev.Timestamp = event.FormatTime(e.clock.Now())
	}
	if err := event.Validate(ev); err != nil {
		e.logger.Warn("rejecting invalid event", "event", ev.String(), "error", err)
		return ev, &Error{Code: CodeValidation, Op: "push", ClientID: ev.ClientID, Err: err}
	}

	ctx, span := e.tracer.Start(ctx, "push")
	defer span.End()
	span.SetAttributes(
		attribute.String("client_id", ev.ClientID),
		attribute.String("type", string(ev.Type)),
	)

	stored, upload, err := e.applyLocal(ev)
	if err != nil {
		e.logger.Warn("rejecting duplicate event", "event", ev.String())
		return ev, &Error{Code: CodeValidation, Op: "push", ClientID: ev.ClientID, Err: err}
	}
	if !upload {
		e.logger.Debug("push already confirmed", "client_id", ev.ClientID)
		return stored, nil
	}

	if e.remote == nil {
		e.logger.Debug("push queued, no remote configured", "client_id", ev.ClientID)
		return stored, nil
	}
	userID, err := e.userID(ctx, "push")
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return stored, err
	}

	if err := e.upload(ctx, userID, stored); err != nil {
		se := Classify("push", err)
		se.ClientID = stored.ClientID
		span.RecordError(se)
		span.SetStatus(codes.Error, string(se.Code))
		e.logger.Info("push failed, event stays pending", "client_id", stored.ClientID, "code", se.Code, "error", se.Err)
		return stored, se
	}

	e.confirm(stored.ClientID)
	e.gate.Reset()
	return stored, nil
}

// applyLocal appends ev and marks it pending as one local transaction. It
// returns the stored event and whether an upload is still needed.
func (e *Engine) applyLocal(ev event.Event) (event.Event, bool, error) {
	e.txMu.Lock()
	defer e.txMu.Unlock()

	if existing, ok := e.log.Lookup(ev.ClientID); ok {
		return existing, e.pending.Has(ev.ClientID), nil
	}
	if !e.log.Append(ev) {
		// Validated above, so only a (timestamp, type) match with a legacy
		// event can land here.
		return ev, false, ErrDuplicateEvent
	}
	e.pending.Add(ev.ClientID)
	if e.pushedDuringFetch != nil {
		e.pushedDuringFetch[ev.ClientID] = struct{}{}
	}
	return ev, true, nil
}

// upload performs the remote insert with a timeout. Duplicate-key is
// success.
func (e *Engine) upload(ctx context.Context, userID string, ev event.Event) error {
	row, err := remote.RowFromEvent(userID, ev)
	if err != nil {
		return &Error{Code: CodeValidation, Op: "upload", ClientID: ev.ClientID, Err: err}
	}

	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	err = e.remote.Insert(ctx, userID, row)
	if errors.Is(err, remote.ErrDuplicateKey) {
		e.logger.Debug("remote already has event", "client_id", ev.ClientID)
		return nil
	}
	return err
}

// confirm resolves a pending upload. Safe to call for ids that are not
// pending.
func (e *Engine) confirm(clientID string) bool {
	if e.pending.Remove(clientID) {
		e.logger.Debug("upload confirmed", "client_id", clientID)
		return true
	}
	return false
}
