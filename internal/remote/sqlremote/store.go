// Package sqlremote is a remote.Store backed by a SQLite database.
//
// It is the reference backend: several local clients pointed at the same
// file behave like devices sharing one account. Realtime delivery covers
// subscribers in the same process.
package sqlremote

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/roach88/grove/internal/remote"
)

//go:embed schema.sql
var schemaSQL string

// subscriberBuffer is how many rows a slow subscriber may lag before rows
// are dropped for it. Dropped rows are recovered by the next pull.
const subscriberBuffer = 64

// Store is safe for concurrent use.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time

	mu sync.Mutex // orders inserts and their realtime delivery

	subsMu sync.Mutex
	subs   map[string]map[chan remote.Row]struct{}
	closed bool
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithNow overrides the server clock used for created_at.
func WithNow(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open opens (or creates) the database at path.
func Open(path string, opts ...Option) (*Store, error) {
	cleanPath := strings.TrimSpace(path)
	if cleanPath == "" {
		return nil, fmt.Errorf("remote db path is required")
	}

	dsn := cleanPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open remote db: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply remote schema: %w", err)
	}

	s := &Store{
		db:     db,
		logger: slog.Default(),
		now:    time.Now,
		subs:   make(map[string]map[chan remote.Row]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the database and every open subscription.
func (s *Store) Close() error {
	s.subsMu.Lock()
	s.closed = true
	for user, set := range s.subs {
		for ch := range set {
			close(ch)
		}
		delete(s.subs, user)
	}
	s.subsMu.Unlock()
	return s.db.Close()
}

// Insert implements remote.Store.
func (s *Store) Insert(ctx context.Context, userID string, row remote.Row) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("user id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// created_at is assigned inside the write transaction so it stays
	// ascending across every process sharing the file.
	var (
		id        int64
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO remote_events (user_id, type, payload, client_id, client_timestamp, created_at)
		VALUES (?, NULLIF(?, ''), ?, NULLIF(?, ''), NULLIF(?, ''),
		        MAX(?, COALESCE((SELECT MAX(created_at) FROM remote_events), 0) + 1))
		ON CONFLICT (client_id) DO NOTHING
		RETURNING id, created_at`,
		userID, row.Type, string(row.Payload), row.ClientID, row.ClientTimestamp, s.now().UnixNano(),
	).Scan(&id, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || isConstraintError(err) {
			return remote.ErrDuplicateKey
		}
		return classify(fmt.Errorf("insert remote event: %w", err))
	}

	row.ID = id
	row.UserID = userID
	row.CreatedAt = time.Unix(0, createdAt).UTC()
	s.publish(row)
	return nil
}

// FetchSince implements remote.Store.
func (s *Store) FetchSince(ctx context.Context, userID string, since time.Time) ([]remote.Row, error) {
	var cursor int64
	if !since.IsZero() {
		cursor = since.UnixNano()
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, COALESCE(type, ''), payload, COALESCE(client_id, ''),
		       COALESCE(client_timestamp, ''), created_at
		FROM remote_events
		WHERE user_id = ? AND created_at > ?
		ORDER BY created_at ASC, id ASC`,
		userID, cursor)
	if err != nil {
		return nil, classify(fmt.Errorf("fetch remote events: %w", err))
	}
	defer rows.Close()

	var out []remote.Row
	for rows.Next() {
		var (
			r       remote.Row
			payload string
			created int64
		)
		if err := rows.Scan(&r.ID, &r.UserID, &r.Type, &payload, &r.ClientID, &r.ClientTimestamp, &created); err != nil {
			return nil, fmt.Errorf("scan remote event: %w", err)
		}
		r.Payload = []byte(payload)
		r.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(fmt.Errorf("iterate remote events: %w", err))
	}
	return out, nil
}

// Subscribe implements remote.Store.
func (s *Store) Subscribe(ctx context.Context, userID string) (<-chan remote.Row, error) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("subscribe: %w", remote.ErrUnavailable)
	}

	ch := make(chan remote.Row, subscriberBuffer)
	set, ok := s.subs[userID]
	if !ok {
		set = make(map[chan remote.Row]struct{})
		s.subs[userID] = set
	}
	set[ch] = struct{}{}

	go func() {
		<-ctx.Done()
		s.subsMu.Lock()
		defer s.subsMu.Unlock()
		if set, ok := s.subs[userID]; ok {
			if _, live := set[ch]; live {
				delete(set, ch)
				close(ch)
			}
		}
	}()
	return ch, nil
}

func (s *Store) publish(row remote.Row) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for ch := range s.subs[row.UserID] {
		select {
		case ch <- row:
		default:
			s.logger.Warn("realtime subscriber lagging, row dropped", "user_id", row.UserID, "client_id", row.ClientID)
		}
	}
}

func isConstraintError(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3.SQLITE_CONSTRAINT || code == sqlite3.SQLITE_CONSTRAINT_UNIQUE
}

// classify marks busy and I/O failures as transport errors.
func classify(err error) error {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return err
	}
	switch sqliteErr.Code() {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED, sqlite3.SQLITE_IOERR, sqlite3.SQLITE_CANTOPEN:
		return fmt.Errorf("%w: %w", remote.ErrUnavailable, err)
	}
	return err
}

var _ remote.Store = (*Store)(nil)
