package acquire_test

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/haeminjung12/DCAM-Live-Viewer/internal/acquire"
	"github.com/haeminjung12/DCAM-Live-Viewer/internal/device"
	"github.com/haeminjung12/DCAM-Live-Viewer/internal/display"
	"github.com/haeminjung12/DCAM-Live-Viewer/internal/types"
)

// fakeDevice serves a fixed number of frames immediately, then times out.
// The device-side frame counter can run ahead of served frames to model
// host-side drops.
type fakeDevice struct {
	mu      sync.Mutex
	total   int
	lead    uint64 // device counter runs this far ahead per frame
	served  uint64
	waitErr error
	buf     []byte
}

func newFakeDevice(total int) *fakeDevice {
	return &fakeDevice{total: total, buf: []byte{1, 2, 3, 4}}
}

func (d *fakeDevice) Open() error         { return nil }
func (d *fakeDevice) Close() error        { return nil }
func (d *fakeDevice) StartCapture() error { return nil }
func (d *fakeDevice) StopCapture() error  { return nil }

func (d *fakeDevice) WaitForFrame(timeout time.Duration) (device.WaitStatus, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.waitErr != nil {
		return device.WaitTimeout, d.waitErr
	}
	if int(d.served) >= d.total {
		return device.WaitTimeout, nil
	}
	d.served++
	return device.WaitReady, nil
}

func (d *fakeDevice) ReadCurrentFrame() (device.RawFrame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return device.RawFrame{Pixels: d.buf, Width: 2, Height: 2, BitsPerPixel: 8}, nil
}

func (d *fakeDevice) GetProperty(id device.PropertyID) (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if id == device.PropFrameIndex {
		return float64(d.served + d.served*d.lead), nil
	}
	return 1, nil
}

func (d *fakeDevice) SetProperty(id device.PropertyID, v float64) device.SetResult {
	return device.SetResult{Status: device.SetOK}
}

// TestLoopDeliversEveryFrameToRecordHook validates the hook sees all
// frames in acquisition order, independent of the display throttle.
//
// Scenario:
//  1. Device serves 250 frames, display_every=5
//  2. Assert: record hook called 250 times, delivered=250
//  3. Assert: display dispatches (consumed + overwrites) = 50
func TestLoopDeliversEveryFrameToRecordHook(t *testing.T) {
	dev := newFakeDevice(250)
	mbox := display.NewMailbox()

	var hookCalls atomic.Uint64
	var consumed atomic.Uint64

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, ok := mbox.Receive(); !ok {
				return
			}
			consumed.Add(1)
		}
	}()

	loop := acquire.NewLoop(acquire.Config{
		Device:       dev,
		WaitTimeout:  10 * time.Millisecond,
		DisplayEvery: 5,
		Display:      mbox,
		RecordHook:   func(f *types.Frame) { hookCalls.Add(1) },
	})

	loop.Start()

	// Wait for the device to run dry.
	deadline := time.Now().Add(2 * time.Second)
	for hookCalls.Load() < 250 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	loop.Stop()
	mbox.Close()
	<-done

	if got := hookCalls.Load(); got != 250 {
		t.Errorf("record hook calls = %d, want 250", got)
	}

	delivered, dropped, _ := loop.Stats()
	if delivered != 250 {
		t.Errorf("delivered = %d, want 250", delivered)
	}
	if dropped != 0 {
		t.Errorf("dropped = %d, want 0", dropped)
	}

	dispatches := consumed.Load() + mbox.Drops()
	if dispatches != 50 {
		t.Errorf("display dispatches = %d (consumed=%d overwritten=%d), want 50",
			dispatches, consumed.Load(), mbox.Drops())
	}

	t.Logf("✅ 250 frames: hook=250, display dispatches=50 (every 5th)")
}

// TestLoopStopJoins validates that after Stop returns no callback fires.
//
// Scenario:
//  1. Run the loop against an endless device
//  2. Stop, snapshot the hook count
//  3. Sleep past several wait intervals
//  4. Assert: hook count unchanged
func TestLoopStopJoins(t *testing.T) {
	dev := newFakeDevice(1 << 30)

	var hookCalls atomic.Uint64
	loop := acquire.NewLoop(acquire.Config{
		Device:      dev,
		WaitTimeout: 5 * time.Millisecond,
		RecordHook:  func(f *types.Frame) { hookCalls.Add(1) },
	})

	loop.Start()
	time.Sleep(30 * time.Millisecond)
	loop.Stop()

	after := hookCalls.Load()
	time.Sleep(50 * time.Millisecond)

	if got := hookCalls.Load(); got != after {
		t.Errorf("hook fired after Stop: %d -> %d", after, got)
	}
	if loop.Running() {
		t.Error("Running() = true after Stop")
	}

	t.Logf("✅ Stop joined the goroutine, %d frames total, none after", after)
}

// TestLoopSelfStopsOnDeviceError validates the error path: one OnError
// call, loop no longer running, no retry.
func TestLoopSelfStopsOnDeviceError(t *testing.T) {
	dev := newFakeDevice(0)
	dev.waitErr = fmt.Errorf("device lost")

	errCh := make(chan error, 1)
	loop := acquire.NewLoop(acquire.Config{
		Device:      dev,
		WaitTimeout: 5 * time.Millisecond,
		OnError:     func(err error) { errCh <- err },
	})

	loop.Start()

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("OnError called with nil error")
		}
	case <-time.After(time.Second):
		t.Fatal("OnError not called within 1s")
	}

	loop.Stop() // join
	if loop.Running() {
		t.Error("Running() = true after device error")
	}

	select {
	case err := <-errCh:
		t.Errorf("OnError called twice, second: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	t.Logf("✅ device error reported once, loop self-stopped")
}

// TestLoopRestartResetsCounters validates Start after Stop begins a fresh
// counting epoch aligned with the device counter restart.
func TestLoopRestartResetsCounters(t *testing.T) {
	dev := newFakeDevice(10)
	loop := acquire.NewLoop(acquire.Config{
		Device:      dev,
		WaitTimeout: 5 * time.Millisecond,
	})

	loop.Start()
	deadline := time.Now().Add(time.Second)
	for {
		d, _, _ := loop.Stats()
		if d >= 10 || !time.Now().Before(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	loop.Stop()

	// New device epoch.
	dev.mu.Lock()
	dev.served = 0
	dev.mu.Unlock()

	loop.Start()
	defer loop.Stop()

	delivered, dropped, fps := loop.Stats()
	if delivered > 10 {
		t.Errorf("delivered = %d after restart, counters not reset", delivered)
	}
	_ = dropped
	_ = fps

	t.Logf("✅ restart reset counters (delivered=%d)", delivered)
}

// TestStatsReadableWhileRunning validates the monitoring contract: Stats()
// is safe to poll from another goroutine while the acquisition goroutine
// is advancing the counters. Run under -race.
//
// Scenario:
//  1. Run the loop against an endless device with a display consumer
//  2. Poll Stats() from the test goroutine for a while
//  3. Assert: counters only ever move forward, FPS never negative
func TestStatsReadableWhileRunning(t *testing.T) {
	dev := newFakeDevice(1 << 30)
	mbox := display.NewMailbox()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, ok := mbox.Receive(); !ok {
				return
			}
		}
	}()

	loop := acquire.NewLoop(acquire.Config{
		Device:       dev,
		WaitTimeout:  5 * time.Millisecond,
		DisplayEvery: 2,
		Display:      mbox,
	})
	loop.Start()

	var prev uint64
	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) {
		delivered, dropped, fps := loop.Stats()
		if delivered < prev {
			t.Fatalf("delivered went backwards: %d -> %d", prev, delivered)
		}
		prev = delivered
		if fps < 0 {
			t.Fatalf("display fps negative: %v", fps)
		}
		_ = dropped
	}

	loop.Stop()
	mbox.Close()
	<-done

	if prev == 0 {
		t.Error("Stats() never observed a delivered frame")
	}

	t.Logf("✅ concurrent Stats() polling observed %d frames, monotonic", prev)
}

// TestSetDisplayEveryClamps validates throttle values below 1 clamp to 1.
func TestSetDisplayEveryClamps(t *testing.T) {
	loop := acquire.NewLoop(acquire.Config{Device: newFakeDevice(0), DisplayEvery: 0})
	if got := loop.DisplayEvery(); got != 1 {
		t.Errorf("DisplayEvery() = %d, want 1", got)
	}
	loop.SetDisplayEvery(-3)
	if got := loop.DisplayEvery(); got != 1 {
		t.Errorf("DisplayEvery() after SetDisplayEvery(-3) = %d, want 1", got)
	}
	loop.SetDisplayEvery(8)
	if got := loop.DisplayEvery(); got != 8 {
		t.Errorf("DisplayEvery() = %d, want 8", got)
	}

	t.Logf("✅ display throttle clamps to >= 1")
}
