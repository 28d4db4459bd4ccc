package config

import (
	"fmt"
	"path/filepath"
	"regexp"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

// Validate checks the configuration and fills in defaults
func Validate(cfg *Config) error {
	// Validate instance_id
	if cfg.InstanceID == "" {
		return fmt.Errorf("instance_id is required")
	}
	if !instanceIDPattern.MatchString(cfg.InstanceID) {
		return fmt.Errorf("instance_id must match pattern [a-z0-9-]+")
	}

	if cfg.ShutdownTimeoutS <= 0 {
		cfg.ShutdownTimeoutS = 10 // default
	}

	// Validate camera config
	if cfg.Camera.Width <= 0 {
		cfg.Camera.Width = 2304 // sensor default
	}
	if cfg.Camera.Height <= 0 {
		cfg.Camera.Height = 2304
	}
	switch cfg.Camera.Bits {
	case 0:
		cfg.Camera.Bits = 8
	case 8, 12, 16:
	default:
		return fmt.Errorf("camera.bits must be 8, 12 or 16, got %d", cfg.Camera.Bits)
	}
	switch cfg.Camera.Binning {
	case 0:
		cfg.Camera.Binning = 1
	case 1, 2, 4:
	default:
		return fmt.Errorf("camera.binning must be 1, 2 or 4, got %g", cfg.Camera.Binning)
	}
	if cfg.Camera.ExposureMS <= 0 {
		cfg.Camera.ExposureMS = 10
	}
	if cfg.Camera.FPS <= 0 {
		cfg.Camera.FPS = 30
	}
	switch cfg.Camera.ReadoutSpeed {
	case "":
		cfg.Camera.ReadoutSpeed = "fastest"
	case "fastest", "slowest":
	default:
		return fmt.Errorf("camera.readout_speed must be 'fastest' or 'slowest', got %q", cfg.Camera.ReadoutSpeed)
	}

	// Validate capture config
	if cfg.Capture.WaitTimeoutMS <= 0 {
		cfg.Capture.WaitTimeoutMS = 100 // default
	}
	if cfg.Capture.DisplayEvery < 1 {
		cfg.Capture.DisplayEvery = 1
	}
	if cfg.Capture.StatsPeriodS <= 0 {
		cfg.Capture.StatsPeriodS = 1
	}

	// Validate storage config
	if cfg.Storage.BaseDir == "" {
		return fmt.Errorf("storage.base_dir is required")
	}
	if cfg.Storage.LogDir == "" {
		cfg.Storage.LogDir = filepath.Join(cfg.Storage.BaseDir, "logs")
	}

	// Validate MQTT broker
	if cfg.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required")
	}

	// Set default topics if not provided
	if cfg.MQTT.Topics.Control == "" {
		cfg.MQTT.Topics.Control = fmt.Sprintf("capture/control/%s", cfg.InstanceID)
	}
	if cfg.MQTT.Topics.Events == "" {
		cfg.MQTT.Topics.Events = fmt.Sprintf("capture/events/%s", cfg.InstanceID)
	}
	if cfg.MQTT.Topics.Stats == "" {
		cfg.MQTT.Topics.Stats = fmt.Sprintf("capture/stats/%s", cfg.InstanceID)
	}
	if cfg.MQTT.Topics.Health == "" {
		cfg.MQTT.Topics.Health = fmt.Sprintf("capture/health/%s", cfg.InstanceID)
	}

	// Set default QoS if not provided
	if cfg.MQTT.QoS == nil {
		cfg.MQTT.QoS = map[string]byte{
			"control": 1,
			"events":  1,
			"stats":   0,
			"health":  0,
		}
	}

	// Validate logging config
	switch cfg.Logging.Level {
	case "":
		cfg.Logging.Level = "info"
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.KeepLogs <= 0 {
		cfg.Logging.KeepLogs = 50
	}

	return nil
}
