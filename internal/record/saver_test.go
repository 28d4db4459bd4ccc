package record_test

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/haeminjung12/DCAM-Live-Viewer/internal/record"
	"github.com/haeminjung12/DCAM-Live-Viewer/internal/types"
)

// stubEncoder writes tiny marker files and can be made to fail or block
// on selected frames.
type stubEncoder struct {
	failOn  map[int]bool // indexed by call order
	blockCh chan struct{}

	calls int
	paths []string
}

func (s *stubEncoder) Ext() string { return ".tiff" }

func (s *stubEncoder) Write(f *types.Frame, path string) error {
	if s.blockCh != nil {
		<-s.blockCh
	}
	call := s.calls
	s.calls++
	s.paths = append(s.paths, path)
	if s.failOn[call] {
		return fmt.Errorf("disk full")
	}
	return os.WriteFile(path, []byte{0}, 0o644)
}

func job(n int, startedAt time.Time) *types.SaveJob {
	frames := make([]*types.Frame, n)
	for i := range frames {
		frames[i] = frame(i % 256)
	}
	return &types.SaveJob{
		ID:        "job-test",
		Frames:    frames,
		StartedAt: startedAt,
		Meta: types.SessionMeta{
			Width: 640, Height: 480, Binning: 2, Bits: 8,
			ExposureMS: 10, InternalFPS: 30, ReadoutSpeed: 1,
		},
	}
}

// TestSaverWritesSequenceAndSidecar validates the on-disk layout of a
// finished session.
//
// Scenario:
//  1. Save a 3-frame job started at a known time
//  2. Assert: directory named from the session start timestamp
//  3. Assert: files 000000.tiff .. 000002.tiff
//  4. Assert: capture_info.txt carries the session metadata lines
func TestSaverWritesSequenceAndSidecar(t *testing.T) {
	base := t.TempDir()

	done := make(chan record.Result, 1)
	s := record.NewSaver(record.SaverConfig{
		BaseDir: base,
		Encoder: &stubEncoder{},
		OnDone:  func(r record.Result) { done <- r },
	})

	startedAt := time.Date(2026, 8, 23, 14, 30, 5, 0, time.Local)
	dir, err := s.Save(job(3, startedAt))
	if err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	if want := filepath.Join(base, "20260823_143005"); dir != want {
		t.Errorf("dir = %s, want %s", dir, want)
	}

	var res record.Result
	select {
	case res = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("save did not finish")
	}
	if res.Saved != 3 || res.Failed != 0 {
		t.Errorf("result saved=%d failed=%d, want 3/0", res.Saved, res.Failed)
	}

	for i := 0; i < 3; i++ {
		path := filepath.Join(dir, fmt.Sprintf("%06d.tiff", i))
		if _, err := os.Stat(path); err != nil {
			t.Errorf("missing frame file %s: %v", path, err)
		}
	}

	info, err := os.ReadFile(filepath.Join(dir, "capture_info.txt"))
	if err != nil {
		t.Fatalf("capture_info.txt missing: %v", err)
	}
	for _, want := range []string{
		"Start: 2026-08-23 14:30:05",
		"Frames: 3",
		"Resolution: 640 x 480",
		"Binning: 2",
		"Bits: 8",
		"Exposure(ms): 10",
		"Internal FPS: 30",
		"Readout speed: 1",
	} {
		if !strings.Contains(string(info), want) {
			t.Errorf("capture_info.txt missing line %q\n--- got ---\n%s", want, info)
		}
	}

	t.Logf("✅ 3 zero-padded frames + capture_info.txt in %s", dir)
}

// TestSaverRejectsConcurrentJob validates the single-job slot: a second
// Save while one runs returns ErrSaveInProgress, and the slot frees after
// completion.
func TestSaverRejectsConcurrentJob(t *testing.T) {
	enc := &stubEncoder{blockCh: make(chan struct{})}
	s := record.NewSaver(record.SaverConfig{BaseDir: t.TempDir(), Encoder: enc})

	if _, err := s.Save(job(1, time.Now())); err != nil {
		t.Fatalf("first Save() failed: %v", err)
	}
	if !s.Saving() {
		t.Error("Saving() = false with a job in flight")
	}

	if _, err := s.Save(job(1, time.Now().Add(time.Hour))); !errors.Is(err, record.ErrSaveInProgress) {
		t.Errorf("second Save() = %v, want ErrSaveInProgress", err)
	}

	close(enc.blockCh)
	s.Wait()

	if s.Saving() {
		t.Error("Saving() = true after Wait")
	}
	if _, err := s.Save(job(1, time.Now().Add(2*time.Hour))); err != nil {
		t.Errorf("Save() after completion failed: %v", err)
	}
	s.Wait()

	t.Logf("✅ one job at a time, slot frees on completion")
}

// TestSaverSkipsFailedFrames validates the per-frame failure policy: a
// write failure is logged and skipped, the rest of the session persists.
func TestSaverSkipsFailedFrames(t *testing.T) {
	enc := &stubEncoder{failOn: map[int]bool{1: true}}
	done := make(chan record.Result, 1)
	s := record.NewSaver(record.SaverConfig{
		BaseDir: t.TempDir(),
		Encoder: enc,
		OnDone:  func(r record.Result) { done <- r },
	})

	if _, err := s.Save(job(4, time.Now())); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	var res record.Result
	select {
	case res = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("save did not finish")
	}

	if res.Saved != 3 || res.Failed != 1 {
		t.Errorf("result saved=%d failed=%d, want 3/1", res.Saved, res.Failed)
	}

	t.Logf("✅ 1 failed frame skipped, 3 saved")
}

// TestSaverProgressCadence validates progress fires every 100 frames and
// on the final frame.
//
// Scenario: 250 frames → progress at done = 1, 101, 201, 250.
func TestSaverProgressCadence(t *testing.T) {
	var progress []int
	done := make(chan struct{}, 1)
	s := record.NewSaver(record.SaverConfig{
		BaseDir:    t.TempDir(),
		Encoder:    &stubEncoder{},
		OnProgress: func(p record.Progress) { progress = append(progress, p.Done) },
		OnDone:     func(record.Result) { done <- struct{}{} },
	})

	if _, err := s.Save(job(250, time.Now())); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("save did not finish")
	}

	want := []int{1, 101, 201, 250}
	if len(progress) != len(want) {
		t.Fatalf("progress calls = %v, want %v", progress, want)
	}
	for i := range want {
		if progress[i] != want[i] {
			t.Errorf("progress[%d] = %d, want %d", i, progress[i], want[i])
		}
	}

	t.Logf("✅ progress at %v for 250 frames", progress)
}

// TestCaptureFrameSingleShot validates the snapshot path.
func TestCaptureFrameSingleShot(t *testing.T) {
	base := t.TempDir()
	s := record.NewSaver(record.SaverConfig{BaseDir: base, Encoder: &stubEncoder{}})

	if _, err := s.CaptureFrame(nil); !errors.Is(err, record.ErrNoFrame) {
		t.Errorf("CaptureFrame(nil) = %v, want ErrNoFrame", err)
	}

	f := frame(1)
	f.Timestamp = time.Date(2026, 8, 23, 9, 5, 2, 123_000_000, time.Local)
	path, err := s.CaptureFrame(f)
	if err != nil {
		t.Fatalf("CaptureFrame() failed: %v", err)
	}
	if want := filepath.Join(base, "20260823_090502_123.tiff"); path != want {
		t.Errorf("path = %s, want %s", path, want)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("snapshot file missing: %v", err)
	}

	t.Logf("✅ snapshot written to %s", path)
}
