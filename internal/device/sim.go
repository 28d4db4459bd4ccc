package device

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Simulator is an in-process Controller generating synthetic mono frames
// at a configured internal frame rate.
//
// It models the part of the hardware that matters to the acquisition loop:
// a device-side frame counter that keeps advancing whether or not the host
// reads frames, so slow readers observe real dropped-frame accounting, and
// a single rotating buffer that is overwritten on every device frame.
type Simulator struct {
	mu sync.Mutex

	opened    bool
	capturing bool
	startedAt time.Time

	width  int
	height int
	bits   int
	props  map[PropertyID]float64

	// frame counter advanced on the device clock, not the host clock
	lastWaited uint64

	buf []byte
}

// SimConfig configures a Simulator.
type SimConfig struct {
	Width  int
	Height int
	Bits   int
	// FPS is the simulated internal frame rate (default 30).
	FPS float64
}

// NewSimulator creates a simulated camera. The session starts closed.
func NewSimulator(cfg SimConfig) *Simulator {
	if cfg.Width <= 0 {
		cfg.Width = 2304
	}
	if cfg.Height <= 0 {
		cfg.Height = 2304
	}
	if cfg.Bits == 0 {
		cfg.Bits = 8
	}
	if cfg.FPS <= 0 {
		cfg.FPS = 30
	}
	return &Simulator{
		width:  cfg.Width,
		height: cfg.Height,
		bits:   cfg.Bits,
		props: map[PropertyID]float64{
			PropImageWidth:        float64(cfg.Width),
			PropImageHeight:       float64(cfg.Height),
			PropBinning:           1,
			PropBitsPerChannel:    float64(cfg.Bits),
			PropExposureTime:      0.010,
			PropInternalFrameRate: cfg.FPS,
			PropReadoutSpeed:      ReadoutFastest,
		},
	}
}

// Open establishes the simulated session.
func (s *Simulator) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.opened {
		return fmt.Errorf("device already open")
	}
	s.opened = true
	slog.Info("simulated camera opened",
		"width", s.width,
		"height", s.height,
		"bits", s.bits,
	)
	return nil
}

// Close tears down the session. Idempotent.
func (s *Simulator) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened = false
	s.capturing = false
	return nil
}

// StartCapture begins the simulated stream and resets the frame counter.
func (s *Simulator) StartCapture() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.opened {
		return fmt.Errorf("device not open")
	}
	if s.capturing {
		return nil
	}
	s.capturing = true
	s.startedAt = time.Now()
	s.lastWaited = 0
	return nil
}

// StopCapture halts the simulated stream. Idempotent.
func (s *Simulator) StopCapture() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.capturing = false
	return nil
}

// deviceFrameCount returns how many frames the device has produced since
// StartCapture, per the simulated internal clock. Caller holds s.mu.
func (s *Simulator) deviceFrameCount(now time.Time) uint64 {
	fps := s.props[PropInternalFrameRate]
	elapsed := now.Sub(s.startedAt).Seconds()
	if elapsed < 0 {
		return 0
	}
	return uint64(elapsed * fps)
}

// WaitForFrame blocks until the device clock produces a frame the caller
// has not yet seen, or the timeout elapses.
func (s *Simulator) WaitForFrame(timeout time.Duration) (WaitStatus, error) {
	deadline := time.Now().Add(timeout)
	for {
		s.mu.Lock()
		if !s.opened {
			s.mu.Unlock()
			return WaitTimeout, fmt.Errorf("device not open")
		}
		if !s.capturing {
			s.mu.Unlock()
			return WaitTimeout, fmt.Errorf("capture not started")
		}
		now := time.Now()
		count := s.deviceFrameCount(now)
		if count > s.lastWaited {
			s.lastWaited = count
			s.fillBuffer(count)
			s.mu.Unlock()
			return WaitReady, nil
		}
		fps := s.props[PropInternalFrameRate]
		s.mu.Unlock()

		if !now.Before(deadline) {
			return WaitTimeout, nil
		}
		// Sleep a fraction of the frame period, bounded by the deadline.
		nap := time.Duration(float64(time.Second) / fps / 4)
		if rem := time.Until(deadline); nap > rem {
			nap = rem
		}
		if nap <= 0 {
			nap = time.Millisecond
		}
		time.Sleep(nap)
	}
}

// fillBuffer renders a synthetic pattern into the rotating device buffer.
// Caller holds s.mu.
func (s *Simulator) fillBuffer(index uint64) {
	bpp := 1
	if s.bits > 8 {
		bpp = 2
	}
	size := s.width * s.height * bpp
	if cap(s.buf) < size {
		s.buf = make([]byte, size)
	}
	s.buf = s.buf[:size]
	// Moving gradient so consecutive frames differ.
	shift := byte(index)
	if bpp == 1 {
		for y := 0; y < s.height; y++ {
			row := s.buf[y*s.width:]
			for x := 0; x < s.width; x++ {
				row[x] = byte(x) + byte(y) + shift
			}
		}
		return
	}
	maxVal := uint16(1<<uint(s.bits)) - 1
	for y := 0; y < s.height; y++ {
		row := s.buf[y*s.width*2:]
		for x := 0; x < s.width; x++ {
			v := (uint16(x+y) + uint16(shift)) % (maxVal + 1)
			row[x*2] = byte(v)
			row[x*2+1] = byte(v >> 8)
		}
	}
}

// ReadCurrentFrame returns a view into the rotating device buffer.
func (s *Simulator) ReadCurrentFrame() (RawFrame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.capturing {
		return RawFrame{}, fmt.Errorf("capture not started")
	}
	if len(s.buf) == 0 {
		return RawFrame{}, fmt.Errorf("no frame available")
	}
	return RawFrame{
		Pixels:       s.buf, // device-owned, overwritten on next wait
		Width:        s.width,
		Height:       s.height,
		BitsPerPixel: s.bits,
	}, nil
}

// GetProperty reads a simulated property.
func (s *Simulator) GetProperty(id PropertyID) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id == PropFrameIndex {
		if !s.capturing {
			return 0, nil
		}
		return float64(s.lastWaited), nil
	}
	v, ok := s.props[id]
	if !ok {
		return 0, fmt.Errorf("unknown property %d", id)
	}
	return v, nil
}

// SetProperty writes a simulated property, clamping out-of-range values
// the way the SDK does (applied with a warning).
func (s *Simulator) SetProperty(id PropertyID, value float64) SetResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch id {
	case PropFrameIndex:
		return SetResult{Status: SetError, Message: "frame index is read-only"}
	case PropImageWidth, PropImageHeight:
		if value < 4 || value > 4096 {
			return SetResult{Status: SetError, Message: fmt.Sprintf("dimension %v out of range [4,4096]", value)}
		}
		s.props[id] = value
		if id == PropImageWidth {
			s.width = int(value)
		} else {
			s.height = int(value)
		}
	case PropBinning:
		if value != 1 && value != 2 && value != 4 {
			return SetResult{Status: SetError, Message: fmt.Sprintf("unsupported binning %v", value)}
		}
		s.props[id] = value
	case PropBitsPerChannel:
		if value != 8 && value != 12 && value != 16 {
			return SetResult{Status: SetError, Message: fmt.Sprintf("unsupported bit depth %v", value)}
		}
		s.props[id] = value
		s.bits = int(value)
	case PropExposureTime:
		const minExp, maxExp = 0.00001, 10.0
		if value < minExp {
			s.props[id] = minExp
			return SetResult{Status: SetWarn, Message: fmt.Sprintf("exposure clamped to %v s", minExp)}
		}
		if value > maxExp {
			s.props[id] = maxExp
			return SetResult{Status: SetWarn, Message: fmt.Sprintf("exposure clamped to %v s", maxExp)}
		}
		s.props[id] = value
	case PropReadoutSpeed:
		if value != ReadoutFastest && value != ReadoutSlowest {
			return SetResult{Status: SetError, Message: fmt.Sprintf("unsupported readout speed %v", value)}
		}
		s.props[id] = value
	case PropInternalFrameRate:
		if value <= 0 {
			return SetResult{Status: SetError, Message: "frame rate must be > 0"}
		}
		s.props[id] = value
	default:
		return SetResult{Status: SetError, Message: fmt.Sprintf("unknown property %d", id)}
	}
	return SetResult{Status: SetOK}
}
