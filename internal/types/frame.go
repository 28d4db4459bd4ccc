package types

import "time"

// PixelFormat identifies how Frame.Pixels is laid out.
type PixelFormat int

const (
	// Mono8 is 1 byte per pixel, row-major.
	Mono8 PixelFormat = iota
	// Mono16 is 2 bytes per pixel, little-endian, row-major.
	// 12-bit data is carried in the low bits of a 16-bit word.
	Mono16
)

// String returns a human-readable format name.
func (f PixelFormat) String() string {
	switch f {
	case Mono8:
		return "MONO8"
	case Mono16:
		return "MONO16"
	default:
		return "UNKNOWN"
	}
}

// BytesPerPixel returns the storage size of one pixel.
func (f PixelFormat) BytesPerPixel() int {
	if f == Mono16 {
		return 2
	}
	return 1
}

// Frame is an immutable snapshot of one acquired image.
//
// Pixels is a private copy made by the acquisition loop at read time —
// device buffers rotate as soon as the device signals frame-ready, so the
// copy is mandatory. After construction the frame is shared by reference
// (display mailbox, recording buffer, save jobs) and MUST NOT be modified.
type Frame struct {
	// Pixels contains the raw pixel data (format per Format).
	Pixels []byte
	// Width in pixels.
	Width int
	// Height in pixels.
	Height int
	// Bits is the significant bit depth (8, 12 or 16).
	Bits int
	// Format is the pixel layout of Pixels.
	Format PixelFormat
	// Timestamp is when the acquisition loop copied the frame out.
	Timestamp time.Time
	// TraceID is a unique identifier for tracing a frame through the pipeline.
	TraceID string
}

// FrameMeta carries the per-frame derived and device-reported attributes
// attached to every delivered frame.
//
// Invariant: Delivered + Dropped == FrameIndex, relative to the last
// acquisition (re)start.
type FrameMeta struct {
	// Width and Height of the frame in pixels.
	Width  int
	Height int
	// Binning is the device-reported binning factor.
	Binning float64
	// Bits is the significant bit depth.
	Bits int
	// FrameIndex is the device-reported monotonic frame counter.
	FrameIndex uint64
	// Delivered counts frames the acquisition loop successfully obtained.
	Delivered uint64
	// Dropped counts device-reported frames the loop never retrieved in time.
	Dropped uint64
	// InternalFPS is the device-reported internal frame rate.
	InternalFPS float64
	// ReadoutSpeed is the device-reported readout speed setting.
	ReadoutSpeed float64
}

// FrameEvent is the immutable payload posted to the display mailbox.
type FrameEvent struct {
	Frame *Frame
	Meta  FrameMeta
	// DisplayFPS is the smoothed rate of display dispatches (not acquisitions).
	DisplayFPS float64
}
