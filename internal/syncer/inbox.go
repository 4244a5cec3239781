package syncer

import (
	"sync"

	"github.com/roach88/grove/internal/remote"
)

// inbox is a thread-safe FIFO of realtime rows.
//
// The transport goroutine enqueues; the single Realtime.Run loop dequeues.
// It is unbounded so a burst of remote inserts never blocks the transport.
// The signal channel (buffered, size 1) coalesces wakeups and lets the run
// loop wait with a select on its context.
type inbox struct {
	mu     sync.Mutex
	rows   []remote.Row
	closed bool
	signal chan struct{}
}

func newInbox() *inbox {
	return &inbox{
		rows:   make([]remote.Row, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds row at the back. It returns false once the inbox is closed.
func (q *inbox) Enqueue(row remote.Row) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.rows = append(q.rows, row)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes the front row without blocking.
func (q *inbox) TryDequeue() (remote.Row, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.rows) == 0 {
		return remote.Row{}, false
	}
	row := q.rows[0]
	// Release the payload for GC; the backing array outlives the slice head.
	q.rows[0] = remote.Row{}
	if len(q.rows) == 1 {
		q.rows = q.rows[:0]
	} else {
		q.rows = q.rows[1:]
	}
	return row, true
}

// Wait signals that rows may be available.
func (q *inbox) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of queued rows.
func (q *inbox) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.rows)
}

// Close rejects further rows. Queued rows stay dequeueable.
func (q *inbox) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Closed reports whether Close was called.
func (q *inbox) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
