// Package core wires the capture pipeline: device session, acquisition
// loop, display consumer, recording buffer, save worker and the MQTT
// control/telemetry planes.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/haeminjung12/DCAM-Live-Viewer/internal/acquire"
	"github.com/haeminjung12/DCAM-Live-Viewer/internal/config"
	"github.com/haeminjung12/DCAM-Live-Viewer/internal/control"
	"github.com/haeminjung12/DCAM-Live-Viewer/internal/device"
	"github.com/haeminjung12/DCAM-Live-Viewer/internal/display"
	"github.com/haeminjung12/DCAM-Live-Viewer/internal/emitter"
	"github.com/haeminjung12/DCAM-Live-Viewer/internal/record"
	"github.com/haeminjung12/DCAM-Live-Viewer/internal/types"
)

// State names the pipeline's operator-visible state.
type State string

const (
	StateIdle      State = "idle"      // device open, no acquisition
	StateAcquiring State = "acquiring" // frames flowing, not recording
	StateRecording State = "recording" // frames flowing into the session buffer
)

// Capture is the main service orchestrator.
//
// State is derived, not stored: acquiring comes from the loop, recording
// from the buffer, saving from the saver. Saving is a side flag, not a
// state — acquisition and even a new recording continue while a previous
// session is being written out.
type Capture struct {
	cfg *config.Config

	// Core components
	dev            device.Controller
	loop           *acquire.Loop
	mailbox        *display.Mailbox
	recorder       *record.Buffer
	saver          *record.Saver
	emitter        *emitter.MQTTEmitter
	controlHandler *control.Handler

	// Lifecycle management
	started   time.Time
	mu        sync.RWMutex
	wg        sync.WaitGroup
	isRunning bool
	cancelCtx context.CancelFunc // For MQTT shutdown command

	// Latest display event, kept for status and single-frame capture
	lastEvent *types.FrameEvent
}

// NewCapture creates a capture service from an already-loaded
// configuration, backed by the simulated camera.
func NewCapture(cfg *config.Config) *Capture {
	dev := device.NewSimulator(device.SimConfig{
		Width:  cfg.Camera.Width,
		Height: cfg.Camera.Height,
		Bits:   cfg.Camera.Bits,
		FPS:    cfg.Camera.FPS,
	})
	return NewCaptureWith(cfg, dev)
}

// NewCaptureWith creates a capture service with an explicit device,
// letting callers substitute the camera backend.
func NewCaptureWith(cfg *config.Config, dev device.Controller) *Capture {
	c := &Capture{
		cfg:      cfg,
		dev:      dev,
		mailbox:  display.NewMailbox(),
		recorder: record.NewBuffer(),
		emitter:  emitter.NewMQTTEmitter(cfg),
	}

	c.saver = record.NewSaver(record.SaverConfig{
		BaseDir:    cfg.Storage.BaseDir,
		OnProgress: c.onSaveProgress,
		OnDone:     c.onSaveDone,
	})

	c.loop = acquire.NewLoop(acquire.Config{
		Device:       dev,
		WaitTimeout:  time.Duration(cfg.Capture.WaitTimeoutMS) * time.Millisecond,
		DisplayEvery: cfg.Capture.DisplayEvery,
		RecordHook:   c.recorder.Append,
		Display:      c.mailbox,
		OnError:      c.onLoopError,
	})

	return c
}

// Run starts the capture service and blocks until the context is
// cancelled. Acquisition starts immediately: the device is a streaming
// camera, idle-on-boot has no operator value here.
func (c *Capture) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.isRunning {
		c.mu.Unlock()
		return fmt.Errorf("service is already running")
	}
	c.isRunning = true
	c.started = time.Now()
	c.mu.Unlock()

	// Create cancellable context for MQTT shutdown command
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.mu.Lock()
	c.cancelCtx = cancel
	c.mu.Unlock()

	slog.Info("capture service starting",
		"instance_id", c.cfg.InstanceID,
	)

	// Open device session and push configured settings
	if err := c.dev.Open(); err != nil {
		return fmt.Errorf("failed to open device: %w", err)
	}
	if err := c.applyCameraConfig(); err != nil {
		return fmt.Errorf("failed to apply camera settings: %w", err)
	}

	// Connect MQTT emitter
	if err := c.emitter.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect mqtt: %w", err)
	}

	// Setup control plane handler
	c.controlHandler = control.NewHandler(c.cfg, c.emitter.Client, c.emitter.PublishHealth, control.CommandCallbacks{
		OnGetStatus:       c.GetStatus,
		OnStartAcq:        c.StartAcquisition,
		OnStopAcq:         c.StopAcquisition,
		OnApplySettings:   c.applySettings,
		OnStartRecording:  c.StartRecording,
		OnStopRecording:   c.stopRecordingData,
		OnCaptureFrame:    c.CaptureFrame,
		OnSetDisplayEvery: c.setDisplayEvery,
		OnReconnect:       c.Reconnect,
		OnShutdown:        c.shutdownViaControl,
	})

	if err := c.controlHandler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start control plane: %w", err)
	}

	// Start display consumer
	c.wg.Add(1)
	go c.consumeDisplay()

	// Start periodic stats publishing
	c.wg.Add(1)
	go c.publishStats(ctx)

	// Start acquiring
	if err := c.StartAcquisition(); err != nil {
		return fmt.Errorf("failed to start acquisition: %w", err)
	}

	slog.Info("capture service running")

	// Wait for context cancellation
	<-ctx.Done()

	slog.Info("capture service run loop exiting")
	return nil
}

// Shutdown performs graceful shutdown of all components.
//
// Order matters: stop acquisition first (which closes any open recording
// and hands it to the saver), then join the saver so no frames are lost
// mid-write, then tear down the control plane and device session.
func (c *Capture) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if !c.isRunning {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	slog.Info("shutting down capture service")

	// 1. Stop acquisition; an open recording is stopped and queued to save
	if err := c.StopAcquisition(); err != nil {
		slog.Error("failed to stop acquisition", "error", err)
	}

	// 2. Join the save worker, bounded by the shutdown context
	saveDone := make(chan struct{})
	go func() {
		c.saver.Wait()
		close(saveDone)
	}()
	select {
	case <-saveDone:
	case <-ctx.Done():
		slog.Error("shutdown deadline reached while save in progress",
			"action", "frames may be missing from the last session")
	}

	// 3. Stop control plane
	if c.controlHandler != nil {
		if err := c.controlHandler.Stop(); err != nil {
			slog.Error("failed to stop control handler", "error", err)
		}
	}

	// 4. Release the display consumer and join goroutines
	c.mailbox.Close()
	slog.Info("waiting for goroutines to finish")
	c.wg.Wait()

	// 5. Disconnect MQTT and close the device session
	if err := c.emitter.Disconnect(); err != nil {
		slog.Error("failed to disconnect mqtt", "error", err)
	}
	if err := c.dev.Close(); err != nil {
		slog.Error("failed to close device", "error", err)
	}

	c.mu.Lock()
	uptime := time.Since(c.started)
	c.isRunning = false
	c.mu.Unlock()

	slog.Info("capture service shutdown complete", "uptime", uptime)
	return nil
}

// State derives the current pipeline state.
func (c *Capture) State() State {
	switch {
	case c.recorder.Recording():
		return StateRecording
	case c.loop.Running():
		return StateAcquiring
	default:
		return StateIdle
	}
}

// StartAcquisition begins streaming frames from the device. No-op when
// already acquiring.
func (c *Capture) StartAcquisition() error {
	if c.loop.Running() {
		return nil
	}
	if err := c.dev.StartCapture(); err != nil {
		return fmt.Errorf("failed to start capture: %w", err)
	}
	c.loop.Start()
	return nil
}

// StopAcquisition halts streaming. An open recording session is stopped
// first and handed to the saver, so operator frames are never discarded
// by a bare stop. Idempotent.
func (c *Capture) StopAcquisition() error {
	if c.recorder.Recording() {
		if _, err := c.stopRecordingData(); err != nil {
			slog.Error("implicit stop-recording failed", "error", err)
		}
	}
	c.loop.Stop()
	if err := c.dev.StopCapture(); err != nil {
		return fmt.Errorf("failed to stop capture: %w", err)
	}
	return nil
}

// StartRecording opens a recording session. Requires active acquisition:
// an idle device produces no frames to record.
func (c *Capture) StartRecording() error {
	if !c.loop.Running() {
		return fmt.Errorf("cannot record while not acquiring")
	}
	if err := c.recorder.Start(); err != nil {
		return err
	}
	c.event("recording_started", nil)
	return nil
}

// StopRecording closes the session and starts its asynchronous save.
// Returns the destination directory.
func (c *Capture) StopRecording() (string, error) {
	job, err := c.recorder.Stop(c.sessionMeta())
	if err != nil {
		return "", err
	}
	dir, err := c.saver.Save(job)
	if err != nil {
		// Session frames exist but cannot be saved right now (a previous
		// save still running). Surface the error; the frames are gone.
		return "", err
	}
	c.event("recording_stopped", map[string]interface{}{
		"job_id": job.ID,
		"frames": job.Count(),
		"dir":    dir,
	})
	return dir, nil
}

// stopRecordingData adapts StopRecording for the control plane.
func (c *Capture) stopRecordingData() (map[string]interface{}, error) {
	dir, err := c.StopRecording()
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"dir": dir, "saving": true}, nil
}

// CaptureFrame saves the most recently displayed frame as a single file.
func (c *Capture) CaptureFrame() (string, error) {
	c.mu.RLock()
	ev := c.lastEvent
	c.mu.RUnlock()
	if ev == nil {
		return "", record.ErrNoFrame
	}
	return c.saver.CaptureFrame(ev.Frame)
}

// Reconnect tears down and re-establishes the device session, reapplying
// configured settings. Acquisition is restarted if it was running.
func (c *Capture) Reconnect() error {
	wasAcquiring := c.loop.Running()

	if err := c.StopAcquisition(); err != nil {
		slog.Error("stop before reconnect failed", "error", err)
	}
	if err := c.dev.Close(); err != nil {
		slog.Error("device close failed during reconnect", "error", err)
	}

	if err := c.dev.Open(); err != nil {
		return fmt.Errorf("failed to reopen device: %w", err)
	}
	if err := c.applyCameraConfig(); err != nil {
		return fmt.Errorf("failed to reapply camera settings: %w", err)
	}

	slog.Info("device reconnected", "resume_acquisition", wasAcquiring)
	c.event("device_reconnected", nil)

	if wasAcquiring {
		return c.StartAcquisition()
	}
	return nil
}

// applyCameraConfig pushes the configured camera settings to the device.
func (c *Capture) applyCameraConfig() error {
	readout := device.ReadoutFastest
	if c.cfg.Camera.ReadoutSpeed == "slowest" {
		readout = device.ReadoutSlowest
	}
	sets := []struct {
		id    device.PropertyID
		value float64
		name  string
	}{
		{device.PropImageWidth, float64(c.cfg.Camera.Width), "width"},
		{device.PropImageHeight, float64(c.cfg.Camera.Height), "height"},
		{device.PropBinning, c.cfg.Camera.Binning, "binning"},
		{device.PropBitsPerChannel, float64(c.cfg.Camera.Bits), "bits"},
		{device.PropExposureTime, c.cfg.Camera.ExposureMS / 1000.0, "exposure"},
		{device.PropInternalFrameRate, c.cfg.Camera.FPS, "fps"},
		{device.PropReadoutSpeed, readout, "readout_speed"},
	}
	for _, s := range sets {
		if err := c.setProp(s.id, s.value, s.name); err != nil {
			return err
		}
	}
	c.logAppliedSettings()
	return nil
}

// applySettings handles the apply_settings control command. Settings can
// only change while not acquiring; the device reconfigures its geometry
// between capture sessions.
func (c *Capture) applySettings(params map[string]interface{}) error {
	if c.loop.Running() {
		return fmt.Errorf("cannot apply settings while acquiring")
	}

	for key, raw := range params {
		v, ok := raw.(float64)
		if !ok && key != "readout_speed" {
			return fmt.Errorf("parameter %q must be a number", key)
		}
		switch key {
		case "exposure_ms":
			if err := c.setProp(device.PropExposureTime, v/1000.0, key); err != nil {
				return err
			}
			c.cfg.Camera.ExposureMS = v
		case "binning":
			if err := c.setProp(device.PropBinning, v, key); err != nil {
				return err
			}
			c.cfg.Camera.Binning = v
		case "bits":
			if err := c.setProp(device.PropBitsPerChannel, v, key); err != nil {
				return err
			}
			c.cfg.Camera.Bits = int(v)
		case "fps":
			if err := c.setProp(device.PropInternalFrameRate, v, key); err != nil {
				return err
			}
			c.cfg.Camera.FPS = v
		case "width":
			if err := c.setProp(device.PropImageWidth, v, key); err != nil {
				return err
			}
			c.cfg.Camera.Width = int(v)
		case "height":
			if err := c.setProp(device.PropImageHeight, v, key); err != nil {
				return err
			}
			c.cfg.Camera.Height = int(v)
		case "readout_speed":
			s, ok := raw.(string)
			if !ok || (s != "fastest" && s != "slowest") {
				return fmt.Errorf("readout_speed must be 'fastest' or 'slowest'")
			}
			value := device.ReadoutFastest
			if s == "slowest" {
				value = device.ReadoutSlowest
			}
			if err := c.setProp(device.PropReadoutSpeed, value, key); err != nil {
				return err
			}
			c.cfg.Camera.ReadoutSpeed = s
		default:
			return fmt.Errorf("unknown setting %q", key)
		}
	}

	c.logAppliedSettings()
	return nil
}

// setProp applies one property. A warning result (value clamped by the
// device) is logged and accepted; an error result rejects the apply.
func (c *Capture) setProp(id device.PropertyID, value float64, name string) error {
	res := c.dev.SetProperty(id, value)
	switch res.Status {
	case device.SetWarn:
		slog.Warn("setting adjusted by device",
			"setting", name,
			"requested", value,
			"detail", res.Message,
		)
	case device.SetError:
		return fmt.Errorf("set %s: %s", name, res.Message)
	}
	return nil
}

// logAppliedSettings reads back the device's actual values after an
// apply, so the log shows what the hardware settled on rather than what
// was requested.
func (c *Capture) logAppliedSettings() {
	slog.Info("camera settings applied",
		"width", c.readProp(device.PropImageWidth),
		"height", c.readProp(device.PropImageHeight),
		"binning", c.readProp(device.PropBinning),
		"bits", c.readProp(device.PropBitsPerChannel),
		"exposure_s", c.readProp(device.PropExposureTime),
		"fps", c.readProp(device.PropInternalFrameRate),
		"readout_speed", c.readProp(device.PropReadoutSpeed),
	)
}

func (c *Capture) readProp(id device.PropertyID) float64 {
	v, err := c.dev.GetProperty(id)
	if err != nil {
		return 0
	}
	return v
}

// sessionMeta snapshots the device settings for the session sidecar.
func (c *Capture) sessionMeta() types.SessionMeta {
	return types.SessionMeta{
		Width:        int(c.readProp(device.PropImageWidth)),
		Height:       int(c.readProp(device.PropImageHeight)),
		Binning:      c.readProp(device.PropBinning),
		Bits:         int(c.readProp(device.PropBitsPerChannel)),
		ExposureMS:   c.readProp(device.PropExposureTime) * 1000.0,
		InternalFPS:  c.readProp(device.PropInternalFrameRate),
		ReadoutSpeed: c.readProp(device.PropReadoutSpeed),
	}
}

// setDisplayEvery handles the set_display_every control command.
func (c *Capture) setDisplayEvery(n int) error {
	c.loop.SetDisplayEvery(n)
	slog.Info("display throttle updated", "display_every", n)
	return nil
}

// consumeDisplay drains the display mailbox, retaining the latest event
// for status reporting and single-frame capture. This is the headless
// stand-in for a renderer: a UI would hook in here.
func (c *Capture) consumeDisplay() {
	defer c.wg.Done()
	for {
		ev, ok := c.mailbox.Receive()
		if !ok {
			return
		}
		c.mu.Lock()
		c.lastEvent = &ev
		c.mu.Unlock()
	}
}

// publishStats periodically publishes the status snapshot.
func (c *Capture) publishStats(ctx context.Context) {
	defer c.wg.Done()

	period := time.Duration(c.cfg.Capture.StatsPeriodS) * time.Second
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.emitter.PublishStats(c.GetStatus()); err != nil {
				slog.Debug("stats publish skipped", "error", err)
			}
		}
	}
}

// GetStatus returns the current status of the service
func (c *Capture) GetStatus() map[string]interface{} {
	delivered, dropped, displayFPS := c.loop.Stats()
	recFrames, recElapsed := c.recorder.Snapshot()

	c.mu.RLock()
	uptime := time.Since(c.started)
	var camFPS float64
	if c.lastEvent != nil {
		camFPS = c.lastEvent.Meta.InternalFPS
	}
	c.mu.RUnlock()

	return map[string]interface{}{
		"instance_id":       c.cfg.InstanceID,
		"state":             string(c.State()),
		"uptime_s":          uptime.Seconds(),
		"delivered":         delivered,
		"dropped":           dropped,
		"display_fps":       displayFPS,
		"cam_fps":           camFPS,
		"display_every":     c.loop.DisplayEvery(),
		"display_overwrite": c.mailbox.Drops(),
		"recording_frames":  recFrames,
		"recording_s":       recElapsed.Seconds(),
		"saving":            c.saver.Saving(),
	}
}

// ShutdownTimeout returns the configured graceful shutdown timeout
func (c *Capture) ShutdownTimeout() time.Duration {
	return time.Duration(c.cfg.ShutdownTimeoutS) * time.Second
}

// onLoopError handles a fatal acquisition error: the loop has already
// stopped itself; stop the device side and report, leaving the operator
// to reconnect.
func (c *Capture) onLoopError(err error) {
	if c.recorder.Recording() {
		if _, stopErr := c.stopRecordingData(); stopErr != nil {
			slog.Error("recording stop after device error failed", "error", stopErr)
		}
	}
	if stopErr := c.dev.StopCapture(); stopErr != nil {
		slog.Error("device stop after error failed", "error", stopErr)
	}
	c.event("device_error", map[string]interface{}{
		"error": err.Error(),
	})
}

// onSaveProgress forwards saver progress to the events topic.
func (c *Capture) onSaveProgress(p record.Progress) {
	c.event("save_progress", map[string]interface{}{
		"job_id": p.JobID,
		"done":   p.Done,
		"total":  p.Total,
	})
}

// onSaveDone forwards saver completion to the events topic.
func (c *Capture) onSaveDone(r record.Result) {
	c.event("save_complete", map[string]interface{}{
		"job_id":     r.JobID,
		"dir":        r.Dir,
		"saved":      r.Saved,
		"failed":     r.Failed,
		"duration_s": r.Duration.Seconds(),
	})
}

// event publishes a lifecycle event, best-effort.
func (c *Capture) event(kind string, data map[string]interface{}) {
	if err := c.emitter.PublishEvent(kind, data); err != nil {
		slog.Debug("event publish skipped", "event", kind, "error", err)
	}
}

// shutdownViaControl cancels the run context on MQTT shutdown command.
func (c *Capture) shutdownViaControl() error {
	c.mu.RLock()
	cancel := c.cancelCtx
	c.mu.RUnlock()
	if cancel == nil {
		return fmt.Errorf("service not running")
	}
	cancel()
	return nil
}
