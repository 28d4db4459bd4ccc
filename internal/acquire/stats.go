package acquire

import (
	"math"
	"sync/atomic"
	"time"
)

// fpsSmoothing is the weight of the newest display interval in the
// exponential moving average.
const fpsSmoothing = 0.2

// Tracker derives delivered/dropped counts and the display-facing FPS from
// frame arrival timestamps and the device-reported frame counter.
//
// Single writer, many readers: OnFrame/OnDisplay/Reset are called only by
// the acquisition goroutine, while the accessors are safe from any
// goroutine (status polling, periodic stats). Counters are atomics; the
// FPS is stored as its float64 bit pattern so readers never observe a
// torn value.
type Tracker struct {
	delivered  atomic.Uint64
	dropped    atomic.Uint64
	displayFPS atomic.Uint64 // math.Float64bits

	// lastDisplay is only touched by the acquisition goroutine.
	lastDisplay time.Time
}

// NewTracker returns a zeroed tracker. Reset state corresponds to a fresh
// acquisition run (device counter restarts at zero on StartCapture).
func NewTracker() *Tracker {
	return &Tracker{}
}

// Reset clears all counters and the FPS state. Called on (re)start of
// acquisition so counts stay aligned with the device frame counter.
func (t *Tracker) Reset() {
	t.delivered.Store(0)
	t.dropped.Store(0)
	t.displayFPS.Store(0)
	t.lastDisplay = time.Time{}
}

// OnFrame records one successfully acquired frame and returns the updated
// delivered/dropped pair.
//
// Dropped is derived as deviceIndex − delivered, clamped to be monotonic
// and ≥0 so a device counter reset on reconnect never produces a negative
// or decreasing value.
func (t *Tracker) OnFrame(deviceIndex uint64) (delivered, dropped uint64) {
	d := t.delivered.Add(1)
	if deviceIndex > d {
		if drop := deviceIndex - d; drop > t.dropped.Load() {
			t.dropped.Store(drop)
		}
	}
	return d, t.dropped.Load()
}

// OnDisplay records one display dispatch at the given wall-clock time and
// returns the smoothed display FPS.
//
// The rate is measured between consecutive display dispatches, not
// acquisitions: the UI-facing rate is the throttled one. The first
// dispatch and a paused clock both yield the previous value (zero
// initially) — never negative, never infinite.
func (t *Tracker) OnDisplay(now time.Time) float64 {
	fps := t.DisplayFPS()
	if !t.lastDisplay.IsZero() {
		dt := now.Sub(t.lastDisplay).Seconds()
		if dt > 0 {
			inst := 1.0 / dt
			if fps == 0 {
				fps = inst
			} else {
				fps = fps*(1-fpsSmoothing) + inst*fpsSmoothing
			}
			t.displayFPS.Store(math.Float64bits(fps))
		}
	}
	t.lastDisplay = now
	return fps
}

// Delivered returns the current delivered count.
func (t *Tracker) Delivered() uint64 { return t.delivered.Load() }

// Dropped returns the current dropped count.
func (t *Tracker) Dropped() uint64 { return t.dropped.Load() }

// DisplayFPS returns the current smoothed display FPS.
func (t *Tracker) DisplayFPS() float64 {
	return math.Float64frombits(t.displayFPS.Load())
}
