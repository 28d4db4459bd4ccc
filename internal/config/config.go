package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the complete capture daemon configuration
type Config struct {
	InstanceID       string        `yaml:"instance_id"`
	ShutdownTimeoutS int           `yaml:"shutdown_timeout_s"` // Graceful shutdown timeout in seconds (default: 10)
	Camera           CameraConfig  `yaml:"camera"`
	Capture          CaptureConfig `yaml:"capture"`
	Storage          StorageConfig `yaml:"storage"`
	MQTT             MQTTConfig    `yaml:"mqtt"`
	Logging          LoggingConfig `yaml:"logging"`
}

// CameraConfig contains camera device settings
type CameraConfig struct {
	Width        int     `yaml:"width"`         // sensor width in pixels
	Height       int     `yaml:"height"`        // sensor height in pixels
	Bits         int     `yaml:"bits"`          // 8, 12 or 16
	Binning      float64 `yaml:"binning"`       // 1, 2 or 4
	ExposureMS   float64 `yaml:"exposure_ms"`   // exposure time in milliseconds
	FPS          float64 `yaml:"fps"`           // internal frame rate
	ReadoutSpeed string  `yaml:"readout_speed"` // fastest, slowest
}

// CaptureConfig contains acquisition pipeline settings
type CaptureConfig struct {
	WaitTimeoutMS int `yaml:"wait_timeout_ms"` // per-frame wait bound (default: 100)
	DisplayEvery  int `yaml:"display_every"`   // forward every Nth frame to display (default: 1)
	StatsPeriodS  int `yaml:"stats_period_s"`  // stats publish interval in seconds (default: 1)
}

// StorageConfig contains on-disk output settings
type StorageConfig struct {
	BaseDir string `yaml:"base_dir"` // root for session folders and snapshots
	LogDir  string `yaml:"log_dir"`  // session log directory (default: <base_dir>/logs)
}

// MQTTConfig contains MQTT broker settings
type MQTTConfig struct {
	Broker string          `yaml:"broker"`
	Topics MQTTTopics      `yaml:"topics"`
	QoS    map[string]byte `yaml:"qos"`
}

// MQTTTopics contains topic templates
type MQTTTopics struct {
	Control string `yaml:"control"`
	Events  string `yaml:"events"`
	Stats   string `yaml:"stats"`
	Health  string `yaml:"health"`
}

// LoggingConfig contains structured logging settings
type LoggingConfig struct {
	Level       string `yaml:"level"`        // debug, info, warn, error
	KeepLogs    int    `yaml:"keep_logs"`    // session logs retained on disk (default: 50)
	ConsoleOnly bool   `yaml:"console_only"` // skip the session log file
}

// Load reads and parses a YAML configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}
