package types

import "time"

// SessionMeta is the device/settings snapshot captured at stop-recording
// time. It is persisted verbatim to capture_info.txt; the device state may
// change between stop and save completion, so it is never re-queried.
type SessionMeta struct {
	Width        int
	Height       int
	Binning      float64
	Bits         int
	ExposureMS   float64
	InternalFPS  float64
	ReadoutSpeed float64
}

// SaveJob owns one recording session's frame sequence, handed off to the
// save worker at stop-recording time. The frames slice is moved out of the
// recording buffer (O(1) swap) and is exclusively owned by the job.
type SaveJob struct {
	// ID uniquely identifies the session (uuid).
	ID string
	// Frames in exact acquisition order.
	Frames []*Frame
	// StartedAt is the recording session start timestamp; the destination
	// directory name is derived from it.
	StartedAt time.Time
	// Meta is the settings snapshot taken at stop time.
	Meta SessionMeta
}

// Count returns the number of frames in the job.
func (j *SaveJob) Count() int { return len(j.Frames) }
