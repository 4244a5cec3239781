package syncer

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/roach88/grove/internal/event"
	"github.com/roach88/grove/internal/remote"
)

// PullResult summarizes a pull or full fetch.
type PullResult struct {
	Full    bool `json:"full"`
	Fetched int  `json:"fetched"`
	// Applied counts events newly appended to the log.
	Applied int `json:"applied"`
	// Confirmed counts pending uploads the remote turned out to have.
	Confirmed int `json:"confirmed"`
	// Invalid counts rows that failed to decode or validate.
	Invalid int `json:"invalid"`
	// Preserved counts pending local events merged into a full fetch.
	Preserved int       `json:"preserved,omitempty"`
	Cursor    time.Time `json:"cursor,omitempty"`
}

// Pull fetches remote rows newer than the stored cursor and merges them.
func (e *Engine) Pull(ctx context.Context) (PullResult, error) {
	res := PullResult{}
	if err := e.requireRemote("pull"); err != nil {
		return res, err
	}
	userID, err := e.userID(ctx, "pull")
	if err != nil {
		return res, err
	}

	ctx, span := e.tracer.Start(ctx, "pull")
	defer span.End()

	cursor, err := e.bk.cursor(ctx)
	if err != nil {
		return res, Classify("pull", err)
	}
	res.Cursor = cursor

	rows, err := e.fetch(ctx, userID, cursor)
	if err != nil {
		return res, Classify("pull", err)
	}
	res.Fetched = len(rows)

	fresh := e.decodeRows(rows, &res)
	res.Applied = e.log.AppendMany(fresh)

	if n := len(rows); n > 0 {
		res.Cursor = rows[n-1].CreatedAt
		if err := e.bk.setCursor(ctx, res.Cursor); err != nil {
			return res, Classify("pull", err)
		}
	}

	span.SetAttributes(
		attribute.Int("fetched", res.Fetched),
		attribute.Int("applied", res.Applied),
	)
	e.logger.Debug("pull complete", "fetched", res.Fetched, "applied", res.Applied, "confirmed", res.Confirmed)
	return res, nil
}

// fetch reads rows with a timeout.
func (e *Engine) fetch(ctx context.Context, userID string, since time.Time) ([]remote.Row, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	return e.remote.FetchSince(ctx, userID, since)
}

// decodeRows turns rows into events the log does not have yet. Rows that
// duplicate a local event confirm it if it was pending.
func (e *Engine) decodeRows(rows []remote.Row, res *PullResult) []event.Event {
	fresh := make([]event.Event, 0, len(rows))
	for _, row := range rows {
		ev, ok := e.decodeRow(row)
		if !ok {
			res.Invalid++
			continue
		}
		if e.log.Contains(ev) {
			if ev.ClientID != "" && e.confirm(ev.ClientID) {
				res.Confirmed++
			}
			continue
		}
		fresh = append(fresh, ev)
	}
	return fresh
}

// decodeRow decodes and validates one row, logging what it drops.
func (e *Engine) decodeRow(row remote.Row) (event.Event, bool) {
	ev, err := remote.DecodeRow(row)
	if err != nil {
		e.logger.Warn("dropping undecodable remote row", "row_id", row.ID, "error", err)
		return event.Event{}, false
	}
	if err := event.Validate(ev); err != nil {
		e.logger.Warn("dropping invalid remote event", "row_id", row.ID, "event", ev.String(), "error", err)
		return event.Event{}, false
	}
	return ev, true
}
