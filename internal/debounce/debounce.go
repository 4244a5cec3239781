// Package debounce coalesces bursts of persistence writes into one.
//
// A Task owns a single write function. Schedule arms a timer if none is
// armed; further Schedule calls within the window push the deadline back
// (cancel and reschedule). Flush runs the pending write synchronously, which
// makes tests deterministic without sleeping.
package debounce

import (
	"sync"
	"time"
)

// Task is a debounced write.
//
// Thread-safety: all methods are safe for concurrent use. The write function
// never runs concurrently with itself.
type Task struct {
	delay time.Duration
	fn    func() error

	mu      sync.Mutex
	timer   *time.Timer
	dirty   bool
	lastErr error
	stopped bool

	runMu sync.Mutex // serializes fn
}

// New creates a task that calls fn at most once per quiet period of delay.
// A zero delay makes Schedule write synchronously.
func New(delay time.Duration, fn func() error) *Task {
	return &Task{delay: delay, fn: fn}
}

// Schedule marks the task dirty and (re)arms the timer.
func (t *Task) Schedule() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.dirty = true
	if t.delay <= 0 {
		t.mu.Unlock()
		_ = t.Flush()
		return
	}
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(t.delay, func() { _ = t.Flush() })
	t.mu.Unlock()
}

// Pending reports whether a write is scheduled but has not run yet.
func (t *Task) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dirty
}

// Flush runs the pending write now, if any, and returns its error.
// With nothing pending it returns the error of the last write.
func (t *Task) Flush() error {
	t.runMu.Lock()
	defer t.runMu.Unlock()

	t.mu.Lock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	if !t.dirty {
		err := t.lastErr
		t.mu.Unlock()
		return err
	}
	t.dirty = false
	t.mu.Unlock()

	err := t.fn()

	t.mu.Lock()
	t.lastErr = err
	if err != nil {
		// Keep the data dirty so the next Flush retries the write.
		t.dirty = true
	}
	t.mu.Unlock()
	return err
}

// LastErr returns the error of the most recent write attempt.
func (t *Task) LastErr() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastErr
}

// Stop flushes pending work and disables further scheduling.
func (t *Task) Stop() error {
	err := t.Flush()
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
	return err
}
