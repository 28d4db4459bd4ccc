package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/haeminjung12/DCAM-Live-Viewer/internal/config"
)

// Command represents a control plane command
type Command struct {
	Command string                 `json:"command"`
	Params  map[string]interface{} `json:"params,omitempty"`
}

// Response represents a command response
type Response struct {
	CommandAck string                 `json:"command_ack"`
	Status     string                 `json:"status"`
	Data       map[string]interface{} `json:"data,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Timestamp  string                 `json:"timestamp"`
}

// Handler handles control plane commands
type Handler struct {
	cfg      *config.Config
	client   mqtt.Client
	health   func([]byte) error // publishes responses to the health topic
	commands chan Command

	callbacks CommandCallbacks
}

// CommandCallbacks contains callback functions for commands
type CommandCallbacks struct {
	OnGetStatus       func() map[string]interface{}
	OnStartAcq        func() error
	OnStopAcq         func() error
	OnApplySettings   func(map[string]interface{}) error
	OnStartRecording  func() error
	OnStopRecording   func() (map[string]interface{}, error)
	OnCaptureFrame    func() (string, error)
	OnSetDisplayEvery func(int) error
	OnReconnect       func() error
	OnShutdown        func() error
}

// NewHandler creates a new control plane handler. health publishes command
// responses to the health topic (the emitter's PublishHealth).
func NewHandler(cfg *config.Config, client mqtt.Client, health func([]byte) error, callbacks CommandCallbacks) *Handler {
	return &Handler{
		cfg:       cfg,
		client:    client,
		health:    health,
		commands:  make(chan Command, 10),
		callbacks: callbacks,
	}
}

// Start starts listening for control commands
func (h *Handler) Start(ctx context.Context) error {
	topic := h.cfg.MQTT.Topics.Control
	qos := h.cfg.MQTT.QoS["control"]

	slog.Info("subscribing to control plane", "topic", topic, "qos", qos)

	token := h.client.Subscribe(topic, qos, h.messageHandler)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("control plane subscription timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("control plane subscription failed: %w", err)
	}

	slog.Info("control plane handler started")

	// Process commands
	go h.processCommands(ctx)

	return nil
}

// Stop stops the control plane handler
func (h *Handler) Stop() error {
	topic := h.cfg.MQTT.Topics.Control

	if h.client != nil && h.client.IsConnected() {
		token := h.client.Unsubscribe(topic)
		token.Wait()
	}

	close(h.commands)

	slog.Info("control plane handler stopped")
	return nil
}

// messageHandler is called when a control message is received
func (h *Handler) messageHandler(client mqtt.Client, msg mqtt.Message) {
	var cmd Command
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		slog.Error("failed to parse control command", "error", err)
		h.sendResponse(Response{
			CommandAck: "unknown",
			Status:     "error",
			Error:      "invalid JSON",
		})
		return
	}

	slog.Info("control command received", "command", cmd.Command)

	// Send to processing channel
	select {
	case h.commands <- cmd:
	default:
		slog.Warn("command queue full, dropping command", "command", cmd.Command)
	}
}

// processCommands processes commands from the queue
func (h *Handler) processCommands(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd, ok := <-h.commands:
			if !ok {
				return
			}
			h.handleCommand(cmd)
		}
	}
}

// handleCommand executes a command
func (h *Handler) handleCommand(cmd Command) {
	var resp Response
	resp.CommandAck = cmd.Command

	switch cmd.Command {
	case "get_status":
		if h.callbacks.OnGetStatus != nil {
			resp.Status = "success"
			resp.Data = h.callbacks.OnGetStatus()
		} else {
			resp.Status = "error"
			resp.Error = "get_status not implemented"
		}

	case "start_acquisition":
		if h.callbacks.OnStartAcq != nil {
			if err := h.callbacks.OnStartAcq(); err != nil {
				resp.Status = "error"
				resp.Error = err.Error()
			} else {
				resp.Status = "success"
				resp.Data = map[string]interface{}{
					"acquiring": true,
				}
			}
		} else {
			resp.Status = "error"
			resp.Error = "start_acquisition not implemented"
		}

	case "stop_acquisition":
		if h.callbacks.OnStopAcq != nil {
			if err := h.callbacks.OnStopAcq(); err != nil {
				resp.Status = "error"
				resp.Error = err.Error()
			} else {
				resp.Status = "success"
				resp.Data = map[string]interface{}{
					"acquiring": false,
				}
			}
		} else {
			resp.Status = "error"
			resp.Error = "stop_acquisition not implemented"
		}

	case "apply_settings":
		if h.callbacks.OnApplySettings != nil {
			if err := h.callbacks.OnApplySettings(cmd.Params); err != nil {
				resp.Status = "error"
				resp.Error = err.Error()
			} else {
				resp.Status = "success"
				resp.Data = map[string]interface{}{
					"settings_applied": true,
				}
			}
		} else {
			resp.Status = "error"
			resp.Error = "apply_settings not implemented"
		}

	case "start_recording":
		if h.callbacks.OnStartRecording != nil {
			if err := h.callbacks.OnStartRecording(); err != nil {
				resp.Status = "error"
				resp.Error = err.Error()
			} else {
				resp.Status = "success"
				resp.Data = map[string]interface{}{
					"recording": true,
				}
			}
		} else {
			resp.Status = "error"
			resp.Error = "start_recording not implemented"
		}

	case "stop_recording":
		if h.callbacks.OnStopRecording != nil {
			data, err := h.callbacks.OnStopRecording()
			if err != nil {
				resp.Status = "error"
				resp.Error = err.Error()
			} else {
				resp.Status = "success"
				resp.Data = data
			}
		} else {
			resp.Status = "error"
			resp.Error = "stop_recording not implemented"
		}

	case "capture_frame":
		if h.callbacks.OnCaptureFrame != nil {
			path, err := h.callbacks.OnCaptureFrame()
			if err != nil {
				resp.Status = "error"
				resp.Error = err.Error()
			} else {
				resp.Status = "success"
				resp.Data = map[string]interface{}{
					"path": path,
				}
			}
		} else {
			resp.Status = "error"
			resp.Error = "capture_frame not implemented"
		}

	case "set_display_every":
		if h.callbacks.OnSetDisplayEvery != nil {
			n, ok := cmd.Params["every"].(float64)
			if !ok || n < 1 {
				resp.Status = "error"
				resp.Error = "missing or invalid 'every' parameter (expected integer >= 1)"
			} else {
				if err := h.callbacks.OnSetDisplayEvery(int(n)); err != nil {
					resp.Status = "error"
					resp.Error = err.Error()
				} else {
					resp.Status = "success"
					resp.Data = map[string]interface{}{
						"display_every": int(n),
					}
				}
			}
		} else {
			resp.Status = "error"
			resp.Error = "set_display_every not implemented"
		}

	case "reconnect":
		if h.callbacks.OnReconnect != nil {
			if err := h.callbacks.OnReconnect(); err != nil {
				resp.Status = "error"
				resp.Error = err.Error()
			} else {
				resp.Status = "success"
				resp.Data = map[string]interface{}{
					"reconnected": true,
				}
			}
		} else {
			resp.Status = "error"
			resp.Error = "reconnect not implemented"
		}

	case "shutdown":
		if h.callbacks.OnShutdown != nil {
			slog.Warn("shutdown command received via MQTT control plane")
			resp.Status = "success"
			resp.Data = map[string]interface{}{
				"shutdown_initiated": true,
				"message":            "graceful shutdown in progress",
			}
			// Send response BEFORE triggering shutdown
			h.sendResponse(resp)

			// Trigger shutdown asynchronously
			go func() {
				time.Sleep(500 * time.Millisecond) // Brief delay to ensure response is sent
				if err := h.callbacks.OnShutdown(); err != nil {
					slog.Error("shutdown callback failed", "error", err)
				}
			}()
			return // Don't send response again
		} else {
			resp.Status = "error"
			resp.Error = "shutdown not implemented"
		}

	default:
		resp.Status = "error"
		resp.Error = fmt.Sprintf("unknown command: %s", cmd.Command)
	}

	h.sendResponse(resp)
}

// sendResponse sends a response to the health topic
func (h *Handler) sendResponse(resp Response) {
	resp.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)

	payload, err := json.Marshal(resp)
	if err != nil {
		slog.Error("failed to marshal response", "error", err)
		return
	}

	if err := h.health(payload); err != nil {
		slog.Error("failed to publish response", "error", err)
		return
	}

	slog.Debug("response sent", "command_ack", resp.CommandAck, "status", resp.Status)
}
