package record

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/haeminjung12/DCAM-Live-Viewer/internal/codec"
	"github.com/haeminjung12/DCAM-Live-Viewer/internal/types"
)

var (
	// ErrSaveInProgress is returned when a save job is already running.
	ErrSaveInProgress = errors.New("save already in progress")
	// ErrNoFrame is returned by CaptureFrame when no frame is available.
	ErrNoFrame = errors.New("no frame available")
)

// progressEvery is the frame cadence of save progress reports.
const progressEvery = 100

// Progress reports save advancement: Done frames written (or skipped)
// out of Total.
type Progress struct {
	JobID string
	Done  int
	Total int
}

// Result summarizes a finished save job.
type Result struct {
	JobID    string
	Dir      string
	Saved    int
	Failed   int
	Duration time.Duration
}

// Saver persists recording sessions to disk on a background goroutine.
//
// At most one job runs at a time: Save while busy returns
// ErrSaveInProgress instead of queueing, so a second stop-recording can
// never silently stack behind a slow disk. A failed frame is logged and
// skipped, the rest of the session still lands on disk.
type Saver struct {
	base string
	enc  codec.Encoder

	onProgress func(Progress)
	onDone     func(Result)

	saving atomic.Bool
	wg     sync.WaitGroup
}

// SaverConfig configures a Saver.
type SaverConfig struct {
	// BaseDir is the root directory session folders are created under.
	BaseDir string
	// Encoder writes individual frames (default TIFF).
	Encoder codec.Encoder
	// OnProgress, when non-nil, is called from the save goroutine every
	// 100 frames and on the final frame.
	OnProgress func(Progress)
	// OnDone, when non-nil, is called from the save goroutine when the job
	// finishes, after all files and the metadata sidecar are written.
	OnDone func(Result)
}

// NewSaver creates a Saver. BaseDir is created lazily per job.
func NewSaver(cfg SaverConfig) *Saver {
	if cfg.Encoder == nil {
		cfg.Encoder = codec.NewTIFF()
	}
	return &Saver{
		base:       cfg.BaseDir,
		enc:        cfg.Encoder,
		onProgress: cfg.OnProgress,
		onDone:     cfg.OnDone,
	}
}

// Saving reports whether a job is currently running.
func (s *Saver) Saving() bool {
	return s.saving.Load()
}

// Save starts persisting the job on a background goroutine and returns
// immediately with the destination directory. The directory is named
// after the session start time so re-runs never collide with live
// acquisition timing.
func (s *Saver) Save(job *types.SaveJob) (string, error) {
	if !s.saving.CompareAndSwap(false, true) {
		return "", ErrSaveInProgress
	}

	dir := filepath.Join(s.base, job.StartedAt.Format("20060102_150405"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		s.saving.Store(false)
		return "", fmt.Errorf("create session dir: %w", err)
	}

	s.wg.Add(1)
	go s.run(job, dir)
	return dir, nil
}

// Wait blocks until any in-flight job finishes. The shutdown join gate:
// the process must not exit while frames are mid-write.
func (s *Saver) Wait() {
	s.wg.Wait()
}

// run writes all frames and the metadata sidecar, then reports completion.
func (s *Saver) run(job *types.SaveJob, dir string) {
	defer s.wg.Done()
	defer s.saving.Store(false)

	start := time.Now()
	total := job.Count()
	width := padWidth(total)

	slog.Info("save started",
		"job_id", job.ID,
		"dir", dir,
		"frames", total,
	)

	saved, failed := 0, 0
	for i, f := range job.Frames {
		path := filepath.Join(dir, fmt.Sprintf("%0*d%s", width, i, s.enc.Ext()))
		if err := s.enc.Write(f, path); err != nil {
			failed++
			slog.Error("frame write failed, skipping",
				"job_id", job.ID,
				"frame", i,
				"path", path,
				"error", err,
			)
		} else {
			saved++
		}

		if i%progressEvery == 0 || i+1 == total {
			if s.onProgress != nil {
				s.onProgress(Progress{JobID: job.ID, Done: i + 1, Total: total})
			}
			slog.Debug("save progress", "job_id", job.ID, "done", i+1, "total", total)
		}
	}

	if err := writeCaptureInfo(dir, job); err != nil {
		slog.Error("capture info write failed", "job_id", job.ID, "error", err)
	}

	res := Result{
		JobID:    job.ID,
		Dir:      dir,
		Saved:    saved,
		Failed:   failed,
		Duration: time.Since(start),
	}
	slog.Info("save finished",
		"job_id", res.JobID,
		"dir", res.Dir,
		"saved", res.Saved,
		"failed", res.Failed,
		"duration", res.Duration,
	)
	if s.onDone != nil {
		s.onDone(res)
	}
}

// CaptureFrame writes a single frame directly under BaseDir, named by its
// millisecond timestamp. Independent of the session job slot: a snapshot
// is allowed while a session save is running.
func (s *Saver) CaptureFrame(f *types.Frame) (string, error) {
	if f == nil {
		return "", ErrNoFrame
	}
	if err := os.MkdirAll(s.base, 0o755); err != nil {
		return "", fmt.Errorf("create capture dir: %w", err)
	}
	name := f.Timestamp.Format("20060102_150405") +
		fmt.Sprintf("_%03d", f.Timestamp.Nanosecond()/int(time.Millisecond)) +
		s.enc.Ext()
	path := filepath.Join(s.base, name)
	if err := s.enc.Write(f, path); err != nil {
		return "", err
	}
	slog.Info("frame captured", "path", path, "trace_id", f.TraceID)
	return path, nil
}

// padWidth returns the zero-pad width for n sequence files: at least 6
// digits, more when the session outgrows a million frames.
func padWidth(n int) int {
	w := 6
	if n > 1 {
		if d := int(math.Ceil(math.Log10(float64(n)))); d > w {
			w = d
		}
	}
	return w
}

// writeCaptureInfo writes the human-readable session sidecar next to the
// frame files.
func writeCaptureInfo(dir string, job *types.SaveJob) error {
	m := job.Meta
	body := fmt.Sprintf(
		"Start: %s\nFrames: %d\nResolution: %d x %d\nBinning: %g\nBits: %d\nExposure(ms): %g\nInternal FPS: %g\nReadout speed: %g\n",
		job.StartedAt.Format("2006-01-02 15:04:05"),
		job.Count(),
		m.Width, m.Height,
		m.Binning,
		m.Bits,
		m.ExposureMS,
		m.InternalFPS,
		m.ReadoutSpeed,
	)
	return os.WriteFile(filepath.Join(dir, "capture_info.txt"), []byte(body), 0o644)
}
