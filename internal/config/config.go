// Package config handles configuration loading using viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"firestige.xyz/iris/internal/core"
	"firestige.xyz/iris/internal/device"
	"firestige.xyz/iris/internal/log"
)

// GlobalConfig is the top-level static configuration. Maps to the `iris:`
// root key in YAML.
type GlobalConfig struct {
	Log     *log.LoggerConfig `mapstructure:"log"`
	Metrics MetricsConfig     `mapstructure:"metrics"`
	Capture CaptureConfig     `mapstructure:"capture"`
	Server  ServerConfig      `mapstructure:"server"`
}

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Path    string `mapstructure:"path"`
}

// CaptureConfig configures the producer.
type CaptureConfig struct {
	// Source selects the acquisition path: v4l2, synthetic or snapshot.
	Source string `mapstructure:"source"`
	// Device is the capture device path.
	Device string `mapstructure:"device"`
	// Frame format negotiated with the device.
	Width       uint32 `mapstructure:"width"`
	Height      uint32 `mapstructure:"height"`
	PixelFormat string `mapstructure:"pixel_format"`
	// Buffers is the requested ring depth.
	Buffers uint32 `mapstructure:"buffers"`
	// Frames is the capture target per run.
	Frames int `mapstructure:"frames"`
	// WaitTimeout bounds each readiness wait.
	WaitTimeout time.Duration `mapstructure:"wait_timeout"`
	// NamePrefix/NameSuffix form the sequential message names.
	NamePrefix string `mapstructure:"name_prefix"`
	NameSuffix string `mapstructure:"name_suffix"`
	// Server is the receiver address to dial.
	Server string `mapstructure:"server"`
	// Options carries per-source settings, decoded by the source.
	Options map[string]interface{} `mapstructure:"options"`
	// Snapshot configures the external-utility acquisition path.
	Snapshot SnapshotConfig `mapstructure:"snapshot"`
}

// SnapshotConfig configures the still-image capture utility.
type SnapshotConfig struct {
	Binary      string `mapstructure:"binary"`
	Resolution  string `mapstructure:"resolution"`
	JPEGQuality int    `mapstructure:"jpeg_quality"`
	Dir         string `mapstructure:"dir"`
}

// ServerConfig configures the consumer.
type ServerConfig struct {
	Listen          string `mapstructure:"listen"`
	OutputDir       string `mapstructure:"output_dir"`
	MaxSessions     int    `mapstructure:"max_sessions"`
	ChunkSize       int    `mapstructure:"chunk_size"`
	MaxNameLength   int    `mapstructure:"max_name_length"`
	MaxPayloadBytes int64  `mapstructure:"max_payload_bytes"`
}

// configRoot is the wrapper matching the YAML structure `iris: ...`.
type configRoot struct {
	Iris GlobalConfig `mapstructure:"iris"`
}

// Load reads configuration from path. Env vars override file values via
// the key replacer (key "iris.server.listen" → env "IRIS_SERVER_LISTEN").
func Load(path string) (*GlobalConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg := root.Iris

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrConfigInvalid, err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Capture defaults
	v.SetDefault("iris.capture.source", "v4l2")
	v.SetDefault("iris.capture.device", "/dev/video0")
	v.SetDefault("iris.capture.width", 640)
	v.SetDefault("iris.capture.height", 480)
	v.SetDefault("iris.capture.pixel_format", "MJPG")
	v.SetDefault("iris.capture.buffers", 4)
	v.SetDefault("iris.capture.frames", 10)
	v.SetDefault("iris.capture.wait_timeout", "2s")
	v.SetDefault("iris.capture.name_prefix", "frame_")
	v.SetDefault("iris.capture.name_suffix", ".raw")
	v.SetDefault("iris.capture.server", "127.0.0.1:8080")
	v.SetDefault("iris.capture.snapshot.binary", "fswebcam")
	v.SetDefault("iris.capture.snapshot.resolution", "640x480")
	v.SetDefault("iris.capture.snapshot.jpeg_quality", 85)

	// Server defaults
	v.SetDefault("iris.server.listen", ":8080")
	v.SetDefault("iris.server.output_dir", ".")
	v.SetDefault("iris.server.max_sessions", 3)
	v.SetDefault("iris.server.chunk_size", 4096)
	v.SetDefault("iris.server.max_name_length", 255)
	v.SetDefault("iris.server.max_payload_bytes", 256<<20)

	// Metrics defaults
	v.SetDefault("iris.metrics.enabled", true)
	v.SetDefault("iris.metrics.listen", ":9091")
	v.SetDefault("iris.metrics.path", "/metrics")
}

// Validate checks the loaded configuration and fills derived defaults.
func (cfg *GlobalConfig) Validate() error {
	if cfg.Log == nil {
		cfg.Log = log.DefaultConfig()
	}

	switch strings.ToLower(cfg.Capture.Source) {
	case "snapshot":
		// External utility path; no device format to validate.
	default:
		if _, err := device.ParseSource(cfg.Capture.Source); err != nil {
			return err
		}
		if _, err := device.ParsePixelFormat(cfg.Capture.PixelFormat); err != nil {
			return err
		}
		if cfg.Capture.Buffers == 0 {
			return fmt.Errorf("capture.buffers must be positive")
		}
	}
	if cfg.Capture.Frames <= 0 {
		return fmt.Errorf("capture.frames must be positive")
	}
	if cfg.Capture.Server == "" {
		return fmt.Errorf("capture.server is required")
	}

	if cfg.Server.Listen == "" {
		return fmt.Errorf("server.listen is required")
	}
	if cfg.Server.MaxSessions <= 0 {
		return fmt.Errorf("server.max_sessions must be positive")
	}
	if cfg.Server.MaxNameLength <= 0 || cfg.Server.MaxPayloadBytes <= 0 {
		return fmt.Errorf("server limits must be positive")
	}
	return nil
}
