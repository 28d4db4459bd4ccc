// Package acquire implements the frame acquisition loop: a dedicated
// goroutine that drains the device at hardware pace, copies frames out of
// device-owned memory and fans them out to stats, recording and display
// without ever blocking on a consumer.
package acquire

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/haeminjung12/DCAM-Live-Viewer/internal/device"
	"github.com/haeminjung12/DCAM-Live-Viewer/internal/display"
	"github.com/haeminjung12/DCAM-Live-Viewer/internal/types"
)

// DefaultWaitTimeout bounds one WaitForFrame call so Stop() is observed
// within one interval even when no frames arrive.
const DefaultWaitTimeout = 100 * time.Millisecond

// logEveryFrames is the cadence of the per-frame debug log line.
const logEveryFrames = 100

// Config configures a Loop.
type Config struct {
	// Device is the capture session to drain. Required.
	Device device.Controller
	// WaitTimeout bounds each WaitForFrame call (default DefaultWaitTimeout).
	WaitTimeout time.Duration
	// DisplayEvery forwards every Nth acquired frame to the display
	// mailbox (≥1, default 1). Stats and recording see every frame
	// regardless.
	DisplayEvery int
	// RecordHook, when non-nil, is invoked synchronously in the
	// acquisition goroutine for every acquired frame, before the display
	// throttle decision. It must not block for long.
	RecordHook func(*types.Frame)
	// Display, when non-nil, receives throttled frame events via a
	// non-blocking publish.
	Display *display.Mailbox
	// OnError, when non-nil, is invoked once when a fatal device error
	// stops the loop. Called from the acquisition goroutine.
	OnError func(error)
}

// Loop drives frame acquisition on its own goroutine.
//
// Lifecycle: NewLoop → Start → Stop (→ Start again). Start while running
// and Stop while stopped are no-ops. Stop joins the goroutine: once it
// returns, no record hook, display publish or error callback will fire.
type Loop struct {
	dev        device.Controller
	timeout    time.Duration
	recordHook func(*types.Frame)
	display    *display.Mailbox
	onError    func(error)

	displayEvery atomic.Int64

	tracker *Tracker

	active atomic.Bool
	wg     sync.WaitGroup
}

// NewLoop creates an acquisition loop. It does not start it.
func NewLoop(cfg Config) *Loop {
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = DefaultWaitTimeout
	}
	l := &Loop{
		dev:        cfg.Device,
		timeout:    cfg.WaitTimeout,
		recordHook: cfg.RecordHook,
		display:    cfg.Display,
		onError:    cfg.OnError,
		tracker:    NewTracker(),
	}
	l.SetDisplayEvery(cfg.DisplayEvery)
	return l
}

// SetDisplayEvery updates the display throttle without restarting the
// loop. Values below 1 are clamped to 1.
func (l *Loop) SetDisplayEvery(n int) {
	if n < 1 {
		n = 1
	}
	l.displayEvery.Store(int64(n))
}

// DisplayEvery returns the current throttle setting.
func (l *Loop) DisplayEvery() int {
	return int(l.displayEvery.Load())
}

// Running reports whether the acquisition goroutine is active.
func (l *Loop) Running() bool {
	return l.active.Load()
}

// Stats returns the tracker's current counters. Values are only advanced
// by the acquisition goroutine; reading them while running yields a
// slightly stale but consistent-enough snapshot for monitoring.
func (l *Loop) Stats() (delivered, dropped uint64, displayFPS float64) {
	return l.tracker.Delivered(), l.tracker.Dropped(), l.tracker.DisplayFPS()
}

// Start spawns the acquisition goroutine. No-op if already running.
// Counters reset so they stay aligned with the device frame counter,
// which restarts on StartCapture.
func (l *Loop) Start() {
	if !l.active.CompareAndSwap(false, true) {
		return
	}
	l.tracker.Reset()
	l.wg.Add(1)
	go l.run()
	slog.Info("acquisition loop started",
		"wait_timeout", l.timeout,
		"display_every", l.DisplayEvery(),
	)
}

// Stop signals the loop to exit and joins the goroutine. After Stop
// returns, no callback fires. Idempotent.
func (l *Loop) Stop() {
	l.active.Store(false)
	l.wg.Wait()
}

// run is the acquisition goroutine body.
//
// Timeout → continue (legitimately no new frame within the window).
// Device error → report upward once and self-stop; no auto-retry, the
// controlling collaborator decides whether to reconnect and restart.
func (l *Loop) run() {
	defer l.wg.Done()

	for l.active.Load() {
		status, err := l.dev.WaitForFrame(l.timeout)
		if err != nil {
			l.fail(err)
			return
		}
		if status == device.WaitTimeout {
			continue
		}

		raw, err := l.dev.ReadCurrentFrame()
		if err != nil {
			l.fail(err)
			return
		}

		frame := l.copyFrame(raw)
		meta := l.readMeta(raw)
		meta.Delivered, meta.Dropped = l.tracker.OnFrame(meta.FrameIndex)

		// Recording sees every acquired frame, in order, before any
		// throttling decision.
		if l.recordHook != nil {
			l.recordHook(frame)
		}

		every := uint64(l.displayEvery.Load())
		if l.display != nil && (meta.Delivered-1)%every == 0 {
			fps := l.tracker.OnDisplay(time.Now())
			l.display.Publish(types.FrameEvent{
				Frame:      frame,
				Meta:       meta,
				DisplayFPS: fps,
			})
		}

		if meta.Delivered%logEveryFrames == 0 {
			slog.Debug("frame",
				"index", meta.FrameIndex,
				"delivered", meta.Delivered,
				"dropped", meta.Dropped,
				"display_fps", l.tracker.DisplayFPS(),
				"cam_fps", meta.InternalFPS,
			)
		}
	}
}

// fail reports a fatal device error and stops the loop.
func (l *Loop) fail(err error) {
	slog.Error("acquisition error, stopping loop", "error", err)
	l.active.Store(false)
	if l.onError != nil {
		l.onError(err)
	}
}

// copyFrame copies pixel data out of device-owned memory into an
// immutable Frame. Mandatory: the device buffer rotates on the next wait.
func (l *Loop) copyFrame(raw device.RawFrame) *types.Frame {
	pixels := make([]byte, len(raw.Pixels))
	copy(pixels, raw.Pixels)
	return &types.Frame{
		Pixels:    pixels,
		Width:     raw.Width,
		Height:    raw.Height,
		Bits:      raw.BitsPerPixel,
		Format:    device.PixelFormatFor(raw.BitsPerPixel),
		Timestamp: time.Now(),
		TraceID:   uuid.New().String(),
	}
}

// readMeta reads the companion device counters for the current frame.
// Property reads are best-effort: a transiently unreadable property
// yields a zero value rather than killing the run.
func (l *Loop) readMeta(raw device.RawFrame) types.FrameMeta {
	return types.FrameMeta{
		Width:        raw.Width,
		Height:       raw.Height,
		Bits:         raw.BitsPerPixel,
		Binning:      l.prop(device.PropBinning),
		FrameIndex:   uint64(l.prop(device.PropFrameIndex)),
		InternalFPS:  l.prop(device.PropInternalFrameRate),
		ReadoutSpeed: l.prop(device.PropReadoutSpeed),
	}
}

func (l *Loop) prop(id device.PropertyID) float64 {
	v, err := l.dev.GetProperty(id)
	if err != nil {
		return 0
	}
	return v
}
