package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/roach88/grove/internal/remote"
)

// Op names a MemoryRemote operation for failure injection.
type Op string

const (
	OpInsert    Op = "insert"
	OpFetch     Op = "fetch"
	OpSubscribe Op = "subscribe"
)

// MemoryRemote is an in-process remote.Store with failure injection.
//
// Offline makes every call fail with remote.ErrUnavailable. Hang makes
// Insert and FetchSince block until their context ends, which is how tests
// produce timeouts. FailNext queues one error for the next call of an op.
// LoseNextInsertResponse stores the row but reports a failure, modelling a
// response lost on the way back.
type MemoryRemote struct {
	mu       sync.Mutex
	rows     []remote.Row
	byClient map[string]int
	nextID   int64
	lastTS   int64
	now      func() time.Time

	offline      bool
	hang         bool
	loseResponse int
	failures     map[Op][]error
	calls        map[Op]int

	subs map[string]map[chan remote.Row]struct{}
}

// NewMemoryRemote creates an empty remote. created_at comes from now, made
// strictly increasing.
func NewMemoryRemote(now func() time.Time) *MemoryRemote {
	if now == nil {
		now = time.Now
	}
	return &MemoryRemote{
		byClient: make(map[string]int),
		now:      now,
		failures: make(map[Op][]error),
		calls:    make(map[Op]int),
		subs:     make(map[string]map[chan remote.Row]struct{}),
	}
}

// SetOffline toggles the unreachable mode.
func (m *MemoryRemote) SetOffline(offline bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offline = offline
}

// SetHang toggles blocking until the caller's deadline.
func (m *MemoryRemote) SetHang(hang bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hang = hang
}

// FailNext makes the next call of op return err.
func (m *MemoryRemote) FailNext(op Op, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op] = append(m.failures[op], err)
}

// LoseNextInsertResponse stores the next inserted row but returns an error.
func (m *MemoryRemote) LoseNextInsertResponse() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loseResponse++
}

// Calls returns how many times op was invoked.
func (m *MemoryRemote) Calls(op Op) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// Rows returns a copy of every stored row for userID in created_at order.
func (m *MemoryRemote) Rows(userID string) []remote.Row {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []remote.Row
	for _, r := range m.rows {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return out
}

// Delete removes the row with clientID, modelling a server-side deletion
// that an incremental pull never observes.
func (m *MemoryRemote) Delete(clientID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx, ok := m.byClient[clientID]
	if !ok {
		return false
	}
	m.rows = append(m.rows[:idx], m.rows[idx+1:]...)
	m.reindex()
	return true
}

// Insert implements remote.Store.
func (m *MemoryRemote) Insert(ctx context.Context, userID string, row remote.Row) error {
	if err := m.enter(ctx, OpInsert); err != nil {
		return err
	}

	m.mu.Lock()
	if row.ClientID != "" {
		if _, dup := m.byClient[row.ClientID]; dup {
			m.mu.Unlock()
			return remote.ErrDuplicateKey
		}
	}
	m.nextID++
	ts := m.now().UnixNano()
	if ts <= m.lastTS {
		ts = m.lastTS + 1
	}
	m.lastTS = ts

	row.ID = m.nextID
	row.UserID = userID
	row.CreatedAt = time.Unix(0, ts).UTC()
	row.Payload = append([]byte(nil), row.Payload...)
	m.rows = append(m.rows, row)
	if row.ClientID != "" {
		m.byClient[row.ClientID] = len(m.rows) - 1
	}

	lost := m.loseResponse > 0
	if lost {
		m.loseResponse--
	}
	// Sends happen under the lock so a closing subscription never sees one.
	for ch := range m.subs[userID] {
		select {
		case ch <- row:
		default:
		}
	}
	m.mu.Unlock()

	if lost {
		return fmt.Errorf("response lost: %w", remote.ErrUnavailable)
	}
	return nil
}

// FetchSince implements remote.Store.
func (m *MemoryRemote) FetchSince(ctx context.Context, userID string, since time.Time) ([]remote.Row, error) {
	if err := m.enter(ctx, OpFetch); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	var out []remote.Row
	for _, r := range m.rows {
		if r.UserID != userID {
			continue
		}
		if !since.IsZero() && !r.CreatedAt.After(since) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// Subscribe implements remote.Store.
func (m *MemoryRemote) Subscribe(ctx context.Context, userID string) (<-chan remote.Row, error) {
	m.mu.Lock()
	m.calls[OpSubscribe]++
	if err := m.popFailure(OpSubscribe); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	if m.offline {
		m.mu.Unlock()
		return nil, remote.ErrUnavailable
	}
	ch := make(chan remote.Row, 64)
	if m.subs[userID] == nil {
		m.subs[userID] = make(map[chan remote.Row]struct{})
	}
	m.subs[userID][ch] = struct{}{}
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		delete(m.subs[userID], ch)
		m.mu.Unlock()
		close(ch)
	}()
	return ch, nil
}

// enter counts the call and applies offline, hang, and queued failures.
func (m *MemoryRemote) enter(ctx context.Context, op Op) error {
	m.mu.Lock()
	m.calls[op]++
	if err := m.popFailure(op); err != nil {
		m.mu.Unlock()
		return err
	}
	offline, hang := m.offline, m.hang
	m.mu.Unlock()

	if offline {
		return remote.ErrUnavailable
	}
	if hang {
		<-ctx.Done()
		return ctx.Err()
	}
	return ctx.Err()
}

// popFailure removes the next queued failure for op. Caller holds m.mu.
func (m *MemoryRemote) popFailure(op Op) error {
	q := m.failures[op]
	if len(q) == 0 {
		return nil
	}
	m.failures[op] = q[1:]
	return q[0]
}

// reindex rebuilds byClient after a deletion. Caller holds m.mu.
func (m *MemoryRemote) reindex() {
	m.byClient = make(map[string]int, len(m.rows))
	for i, r := range m.rows {
		if r.ClientID != "" {
			m.byClient[r.ClientID] = i
		}
	}
}

var _ remote.Store = (*MemoryRemote)(nil)
