// Package display provides the non-blocking hand-off between the
// acquisition goroutine and the display consumer.
//
// Philosophy: drop frames, never queue. The acquisition context must
// never wait on the renderer; the renderer tolerates frames arriving
// faster than it can draw by only ever seeing the latest one.
package display

import (
	"sync"
	"sync/atomic"

	"github.com/haeminjung12/DCAM-Live-Viewer/internal/types"
)

// Mailbox is a single-slot, overwrite-on-publish buffer with blocking
// consume semantics.
//
// Design:
//   - Publish is non-blocking: a new event replaces an unconsumed one and
//     the overwrite is counted as a drop
//   - Receive blocks until an event is available (sync.Cond, no busy-wait)
//     and returns ok=false after Close
//   - single publisher (acquisition goroutine), single consumer (display
//     goroutine); publish order is preserved, events may be skipped
type Mailbox struct {
	mu    sync.Mutex
	cond  *sync.Cond
	event *types.FrameEvent // nil = consumed, non-nil = pending
	drops atomic.Uint64

	closed bool
}

// NewMailbox creates an empty, open mailbox.
func NewMailbox() *Mailbox {
	m := &Mailbox{}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Publish posts an event, overwriting any unconsumed one. Non-blocking.
// After Close it is a safe no-op.
func (m *Mailbox) Publish(ev types.FrameEvent) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	if m.event != nil {
		m.drops.Add(1)
	}
	m.event = &ev
	m.cond.Signal()
	m.mu.Unlock()
}

// Receive blocks until an event is available or the mailbox is closed.
// Returns ok=false on close; the consumer should exit.
func (m *Mailbox) Receive() (types.FrameEvent, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for m.event == nil && !m.closed {
		m.cond.Wait()
	}
	if m.event == nil {
		return types.FrameEvent{}, false
	}
	ev := *m.event
	m.event = nil
	return ev, true
}

// TryReceive returns the pending event without blocking.
func (m *Mailbox) TryReceive() (types.FrameEvent, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.event == nil {
		return types.FrameEvent{}, false
	}
	ev := *m.event
	m.event = nil
	return ev, true
}

// Close wakes a blocked consumer and makes further publishes no-ops.
// Idempotent.
func (m *Mailbox) Close() {
	m.mu.Lock()
	m.closed = true
	m.cond.Broadcast()
	m.mu.Unlock()
}

// Drops returns the number of events overwritten before being consumed.
func (m *Mailbox) Drops() uint64 {
	return m.drops.Load()
}
