// Package device defines the contract with the camera SDK layer.
//
// The real hardware is driven through a DCAM-style controller: open a
// session, start capture, then poll with a bounded wait for frame-ready
// and read the current frame out of device-owned memory. Device buffers
// are recycled as soon as the next frame arrives, so callers must copy
// pixel data before the next wait.
//
// Errors are translated to human-readable text at this boundary; nothing
// above the device layer sees SDK error codes.
package device

import (
	"time"

	"github.com/haeminjung12/DCAM-Live-Viewer/internal/types"
)

// WaitStatus is the outcome of a bounded wait for frame-ready.
type WaitStatus int

const (
	// WaitReady means a new frame is available to read.
	WaitReady WaitStatus = iota
	// WaitTimeout means no frame arrived within the timeout window.
	// Non-fatal: the device may legitimately have nothing new yet.
	WaitTimeout
)

// PropertyID identifies a typed device property.
type PropertyID int

const (
	PropImageWidth PropertyID = iota
	PropImageHeight
	PropBinning
	PropBitsPerChannel
	PropExposureTime // seconds
	PropInternalFrameRate
	PropReadoutSpeed
	PropFrameIndex // device-side monotonic frame counter
)

// Readout speed settings, mirroring the SDK's fastest/slowest pair.
const (
	ReadoutFastest = 1.0
	ReadoutSlowest = 2.0
)

// SetStatus is the outcome trichotomy of a property write.
type SetStatus int

const (
	// SetOK means the value was applied as requested.
	SetOK SetStatus = iota
	// SetWarn means the device applied an adjusted value; Message explains.
	SetWarn
	// SetError means the write was rejected; Message explains.
	SetError
)

// SetResult carries the outcome of SetProperty.
type SetResult struct {
	Status  SetStatus
	Message string
}

// RawFrame is a view into device-owned memory returned by ReadCurrentFrame.
// Pixels is only valid until the next WaitForFrame; callers copy it.
type RawFrame struct {
	Pixels       []byte
	Width        int
	Height       int
	BitsPerPixel int
}

// Controller is the capture-session contract implemented by the SDK
// binding (and by Simulator for development and tests).
//
// Implementations must guarantee:
//   - WaitForFrame honors its timeout so callers observe stop requests
//     within one timeout interval
//   - ReadCurrentFrame is only valid after WaitForFrame returned WaitReady
//   - StartCapture resets the device frame counter (PropFrameIndex)
//   - all methods are safe to call from a single acquisition goroutine
//     plus a control goroutine doing Get/SetProperty
type Controller interface {
	// Open establishes the device session.
	Open() error
	// Close tears down the session. Idempotent.
	Close() error

	// StartCapture begins streaming into the device ring buffer.
	StartCapture() error
	// StopCapture halts streaming. Idempotent.
	StopCapture() error

	// WaitForFrame blocks up to timeout for the next frame-ready signal.
	// A non-nil error is fatal to the current acquisition run.
	WaitForFrame(timeout time.Duration) (WaitStatus, error)

	// ReadCurrentFrame returns the most recent frame in device memory.
	ReadCurrentFrame() (RawFrame, error)

	// GetProperty reads a device property value.
	GetProperty(id PropertyID) (float64, error)
	// SetProperty writes a device property value.
	SetProperty(id PropertyID, value float64) SetResult
}

// PixelFormatFor maps a bit depth to the frame pixel format.
func PixelFormatFor(bits int) types.PixelFormat {
	if bits > 8 {
		return types.Mono16
	}
	return types.Mono8
}
