// Package remote defines the contract of the remote event datastore and the
// row format shared by every backend.
//
// A backend is scoped by user id. It enforces uniqueness on client_id,
// assigns a strictly increasing server timestamp (created_at) to every
// insert, and pushes new rows to subscribers of the same user.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/grove/internal/event"
)

var (
	// ErrDuplicateKey is returned by Insert when client_id already exists.
	// Callers treat it as a confirmed write.
	ErrDuplicateKey = errors.New("remote: duplicate client_id")

	// ErrUnavailable marks transport failures: the backend could not be
	// reached or the connection dropped. These are always retryable.
	ErrUnavailable = errors.New("remote: unavailable")
)

// Row is one stored event.
type Row struct {
	ID              int64           `json:"id"`
	UserID          string          `json:"user_id"`
	Type            string          `json:"type,omitempty"`
	Payload         json.RawMessage `json:"payload"`
	ClientID        string          `json:"client_id,omitempty"`
	ClientTimestamp string          `json:"client_timestamp,omitempty"`
	// CreatedAt is assigned by the server and is the pull cursor.
	CreatedAt time.Time `json:"created_at"`
}

// Store is the remote event datastore.
type Store interface {
	// Insert stores row for userID. ID and CreatedAt are assigned by the
	// store. A row whose client_id exists returns ErrDuplicateKey.
	Insert(ctx context.Context, userID string, row Row) error

	// FetchSince returns rows for userID with CreatedAt strictly after
	// since, ascending. A zero since returns every row.
	FetchSince(ctx context.Context, userID string, since time.Time) ([]Row, error)

	// Subscribe delivers rows inserted for userID after the call. The
	// channel is closed when ctx is done.
	Subscribe(ctx context.Context, userID string) (<-chan Row, error)
}

// RowFromEvent wraps ev for insertion. The payload carries the full event so
// any device can replay it regardless of which columns it reads.
func RowFromEvent(userID string, ev event.Event) (Row, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return Row{}, fmt.Errorf("encode payload: %w", err)
	}
	return Row{
		UserID:          userID,
		Type:            string(ev.Type),
		Payload:         payload,
		ClientID:        ev.ClientID,
		ClientTimestamp: ev.Timestamp,
	}, nil
}
