// Package record implements in-memory buffering of recording sessions and
// the asynchronous save worker that persists them as numbered TIFF
// sequences with companion metadata.
package record

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/haeminjung12/DCAM-Live-Viewer/internal/types"
)

var (
	// ErrAlreadyRecording is returned by Start when a session is open.
	ErrAlreadyRecording = errors.New("recording already in progress")
	// ErrNotRecording is returned by Stop when no session is open.
	ErrNotRecording = errors.New("no recording in progress")
	// ErrNoFrames is returned by Stop when the session captured nothing.
	ErrNoFrames = errors.New("no frames recorded")
)

// Buffer is the append-only shared queue of one recording session.
//
// Concurrency model (two-tier, deliberately):
//   - one mutex guards the frame slice, counter and start timestamp
//   - an atomic "recording" flag is read WITHOUT the lock on the hot
//     append path, so when not recording the acquisition goroutine pays a
//     single atomic load per frame; the flag is only written under the
//     lock, so start/stop never races an in-flight append
//
// Growth is unbounded by design (no eviction): memory is bounded only by
// operator-driven stop timing. This is the simplicity/memory trade the
// recorder makes.
type Buffer struct {
	recording atomic.Bool

	mu        sync.Mutex
	frames    []*types.Frame
	count     uint64
	startedAt time.Time
}

// NewBuffer returns an idle recording buffer.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// Recording reports whether a session is open.
func (b *Buffer) Recording() bool {
	return b.recording.Load()
}

// Start opens a recording session: clears any stale content (an append
// racing a previous Stop may have landed in the fresh slice), resets the
// counter and records the start timestamp.
func (b *Buffer) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.recording.Load() {
		return ErrAlreadyRecording
	}
	b.frames = nil
	b.count = 0
	b.startedAt = time.Now()
	b.recording.Store(true)

	slog.Info("recording started", "started_at", b.startedAt)
	return nil
}

// Append adds a frame to the open session. No-op when not recording —
// the fast path is one atomic load, no lock. Called inline from the
// acquisition goroutine for every acquired frame, so session frames
// preserve acquisition order exactly.
func (b *Buffer) Append(f *types.Frame) {
	if !b.recording.Load() {
		return
	}
	b.mu.Lock()
	b.frames = append(b.frames, f)
	b.count++
	b.mu.Unlock()
}

// Stop closes the session and hands its frames off as a SaveJob.
//
// The internal slice is swapped with a fresh empty one under the lock
// (O(1), no large copy), so a new session can start immediately and an
// append racing the swap lands either in the old slice (recorded) or the
// new one (cleared by the next Start) — never lost to the swap itself.
//
// meta is the settings snapshot to persist with the session, captured by
// the caller at stop time.
func (b *Buffer) Stop(meta types.SessionMeta) (*types.SaveJob, error) {
	b.mu.Lock()

	if !b.recording.Load() {
		b.mu.Unlock()
		return nil, ErrNotRecording
	}
	b.recording.Store(false)

	frames := b.frames
	b.frames = nil
	count := b.count
	b.count = 0
	startedAt := b.startedAt
	b.mu.Unlock()

	slog.Info("recording stopped",
		"frames", count,
		"duration", time.Since(startedAt),
	)

	if len(frames) == 0 {
		return nil, ErrNoFrames
	}

	return &types.SaveJob{
		ID:        uuid.New().String(),
		Frames:    frames,
		StartedAt: startedAt,
		Meta:      meta,
	}, nil
}

// Snapshot returns the open session's frame count and elapsed duration
// for live status display. Zero values when not recording.
func (b *Buffer) Snapshot() (frames uint64, elapsed time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.recording.Load() {
		return 0, 0
	}
	return b.count, time.Since(b.startedAt)
}
