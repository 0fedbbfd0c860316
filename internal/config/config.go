// Package config provides configuration management for the canvas transform service.
// Configuration is initialized with defaults, optionally overlaid with a YAML file,
// and finally overridden by environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zachmartin/gaming-capture/host/canvas-transform/internal/render"
)

// Config holds all configuration for the canvas transform service.
type Config struct {
	// FrameSocketPath is the Unix socket path for receiving raw frames.
	// Default: "/tmp/canvas_transform_in.sock"
	FrameSocketPath string `yaml:"frame_socket_path"`

	// OutputSocketPath is the Unix socket path serving transformed frames.
	// Default: "/tmp/canvas_transform_out.sock"
	OutputSocketPath string `yaml:"output_socket_path"`

	// HTTPListenAddr is the address for metadata ingest, signaling and metrics.
	// Default: ":8080"
	HTTPListenAddr string `yaml:"http_listen_addr"`

	// AllowedOrigins specifies CORS allowed origins.
	// Default: ["*"]
	AllowedOrigins []string `yaml:"allowed_origins"`

	// ICEServers lists STUN/TURN URLs for metadata data channel peers.
	// Default: [] (host candidates only)
	ICEServers []string `yaml:"ice_servers"`

	// EmitDelay defers every transformed frame before it is emitted.
	// Zero emits synchronously.
	// Default: 1s
	EmitDelay time.Duration `yaml:"emit_delay"`

	// CancelPendingOnTeardown discards frames still waiting for emission when
	// the stage shuts down. When false, shutdown waits for them.
	// Default: true
	CancelPendingOnTeardown bool `yaml:"cancel_pending_on_teardown"`

	// QueueCapacity bounds the number of pending metadata records.
	// Default: 256
	QueueCapacity int `yaml:"queue_capacity"`

	// InboundBuffer is the size of the inbound metadata message channel.
	// Default: 64
	InboundBuffer int `yaml:"inbound_buffer"`

	// FrameBuffer is the size of the inbound frame channel.
	// Default: 120
	FrameBuffer int `yaml:"frame_buffer"`

	// BorderColor is the CSS hex color of the decorative border and its shadow.
	// Default: "#000"
	BorderColor string `yaml:"border_color"`

	// BorderWidth is the border stroke width in pixels.
	// Default: 50
	BorderWidth float64 `yaml:"border_width"`

	// BorderBlur is the border shadow blur in pixels.
	// Default: 20
	BorderBlur float64 `yaml:"border_blur"`

	// LogLevel specifies logging verbosity ("debug", "info", "warn", "error").
	// Default: "info"
	LogLevel string `yaml:"log_level"`

	// LogFormat selects "json" or "console" output.
	// Default: "json"
	LogFormat string `yaml:"log_format"`
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		FrameSocketPath:         "/tmp/canvas_transform_in.sock",
		OutputSocketPath:        "/tmp/canvas_transform_out.sock",
		HTTPListenAddr:          ":8080",
		AllowedOrigins:          []string{"*"},
		ICEServers:              []string{},
		EmitDelay:               time.Second,
		CancelPendingOnTeardown: true,
		QueueCapacity:           256,
		InboundBuffer:           64,
		FrameBuffer:             120,
		BorderColor:             "#000",
		BorderWidth:             50,
		BorderBlur:              20,
		LogLevel:                "info",
		LogFormat:               "json",
	}
}

// Load builds the configuration from defaults, the YAML file named by
// TRANSFORM_CONFIG_FILE (if set) and environment variables, then validates it.
//
// Environment variables:
//   - TRANSFORM_CONFIG_FILE: Path to a YAML configuration file
//   - TRANSFORM_FRAME_SOCKET_PATH: Unix socket path for inbound frames
//   - TRANSFORM_OUTPUT_SOCKET_PATH: Unix socket path for transformed frames
//   - TRANSFORM_HTTP_LISTEN_ADDR: HTTP server listen address
//   - TRANSFORM_ALLOWED_ORIGINS: Comma-separated list of allowed CORS origins
//   - TRANSFORM_ICE_SERVERS: Comma-separated list of STUN/TURN URLs
//   - TRANSFORM_EMIT_DELAY: Emission delay (Go duration or integer milliseconds)
//   - TRANSFORM_CANCEL_PENDING_ON_TEARDOWN: Discard pending emissions on shutdown (true/false)
//   - TRANSFORM_QUEUE_CAPACITY: Maximum pending metadata records
//   - TRANSFORM_INBOUND_BUFFER: Inbound metadata channel size
//   - TRANSFORM_FRAME_BUFFER: Inbound frame channel size
//   - TRANSFORM_BORDER_COLOR: Border color (#rgb or #rrggbb)
//   - TRANSFORM_BORDER_WIDTH: Border width in pixels
//   - TRANSFORM_BORDER_BLUR: Border shadow blur in pixels
//   - TRANSFORM_LOG_LEVEL: Logging level (debug, info, warn, error)
//   - TRANSFORM_LOG_FORMAT: Logging format (json, console)
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("TRANSFORM_CONFIG_FILE"); path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("config: open %q: %w", path, err)
		}
		err = cfg.decodeYAML(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("config: parse %q: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromReader overlays YAML from r on the defaults and validates the result.
// Environment variables are not consulted.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	if err := cfg.decodeYAML(r); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decodeYAML(r io.Reader) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode yaml: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	if val := os.Getenv("TRANSFORM_FRAME_SOCKET_PATH"); val != "" {
		c.FrameSocketPath = val
	}

	if val := os.Getenv("TRANSFORM_OUTPUT_SOCKET_PATH"); val != "" {
		c.OutputSocketPath = val
	}

	if val := os.Getenv("TRANSFORM_HTTP_LISTEN_ADDR"); val != "" {
		c.HTTPListenAddr = val
	}

	if val := os.Getenv("TRANSFORM_ALLOWED_ORIGINS"); val != "" {
		c.AllowedOrigins = splitList(val)
	}

	if val := os.Getenv("TRANSFORM_ICE_SERVERS"); val != "" {
		c.ICEServers = splitList(val)
	}

	if val := os.Getenv("TRANSFORM_EMIT_DELAY"); val != "" {
		delay, err := parseDelay(val)
		if err != nil {
			return errors.New("TRANSFORM_EMIT_DELAY must be a duration (e.g. 1s) or integer milliseconds")
		}
		c.EmitDelay = delay
	}

	if val := os.Getenv("TRANSFORM_CANCEL_PENDING_ON_TEARDOWN"); val != "" {
		c.CancelPendingOnTeardown = strings.ToLower(strings.TrimSpace(val)) == "true"
	}

	if val := os.Getenv("TRANSFORM_QUEUE_CAPACITY"); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return errors.New("TRANSFORM_QUEUE_CAPACITY must be a valid integer")
		}
		c.QueueCapacity = n
	}

	if val := os.Getenv("TRANSFORM_INBOUND_BUFFER"); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return errors.New("TRANSFORM_INBOUND_BUFFER must be a valid integer")
		}
		c.InboundBuffer = n
	}

	if val := os.Getenv("TRANSFORM_FRAME_BUFFER"); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return errors.New("TRANSFORM_FRAME_BUFFER must be a valid integer")
		}
		c.FrameBuffer = n
	}

	if val := os.Getenv("TRANSFORM_BORDER_COLOR"); val != "" {
		c.BorderColor = strings.TrimSpace(val)
	}

	if val := os.Getenv("TRANSFORM_BORDER_WIDTH"); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return errors.New("TRANSFORM_BORDER_WIDTH must be a valid number")
		}
		c.BorderWidth = f
	}

	if val := os.Getenv("TRANSFORM_BORDER_BLUR"); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return errors.New("TRANSFORM_BORDER_BLUR must be a valid number")
		}
		c.BorderBlur = f
	}

	if val := os.Getenv("TRANSFORM_LOG_LEVEL"); val != "" {
		c.LogLevel = strings.ToLower(strings.TrimSpace(val))
	}

	if val := os.Getenv("TRANSFORM_LOG_FORMAT"); val != "" {
		c.LogFormat = strings.ToLower(strings.TrimSpace(val))
	}

	return nil
}

func splitList(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parseDelay(val string) (time.Duration, error) {
	val = strings.TrimSpace(val)
	if ms, err := strconv.Atoi(val); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return time.ParseDuration(val)
}

// Validate checks that the configuration values are valid.
func (c *Config) Validate() error {
	if c.FrameSocketPath == "" {
		return errors.New("FrameSocketPath cannot be empty")
	}

	if c.OutputSocketPath == "" {
		return errors.New("OutputSocketPath cannot be empty")
	}

	if c.FrameSocketPath == c.OutputSocketPath {
		return errors.New("FrameSocketPath and OutputSocketPath must differ")
	}

	if c.HTTPListenAddr == "" {
		return errors.New("HTTPListenAddr cannot be empty")
	}

	if len(c.AllowedOrigins) == 0 {
		return errors.New("AllowedOrigins cannot be empty")
	}

	if c.EmitDelay < 0 {
		return errors.New("EmitDelay cannot be negative")
	}

	if c.EmitDelay > time.Minute {
		return errors.New("EmitDelay exceeds maximum allowed value of 1m")
	}

	if c.QueueCapacity <= 0 {
		return errors.New("QueueCapacity must be a positive integer")
	}

	if c.InboundBuffer <= 0 {
		return errors.New("InboundBuffer must be a positive integer")
	}

	if c.FrameBuffer <= 0 {
		return errors.New("FrameBuffer must be a positive integer")
	}

	if _, err := render.ParseColor(c.BorderColor); err != nil {
		return errors.New("BorderColor must be a hex color like #000 or #1a2b3c")
	}

	if c.BorderWidth < 0 {
		return errors.New("BorderWidth cannot be negative")
	}

	if c.BorderBlur < 0 {
		return errors.New("BorderBlur cannot be negative")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return errors.New("LogLevel must be 'debug', 'info', 'warn', or 'error'")
	}

	if c.LogFormat != "json" && c.LogFormat != "console" {
		return errors.New("LogFormat must be 'json' or 'console'")
	}

	return nil
}

// IsDebug returns true if the log level is set to debug.
func (c *Config) IsDebug() bool {
	return c.LogLevel == "debug"
}

// String returns a string representation of the config for logging purposes.
func (c *Config) String() string {
	return "Config{" +
		"FrameSocketPath: " + c.FrameSocketPath + ", " +
		"OutputSocketPath: " + c.OutputSocketPath + ", " +
		"HTTPListenAddr: " + c.HTTPListenAddr + ", " +
		"AllowedOrigins: [" + strings.Join(c.AllowedOrigins, ", ") + "], " +
		"ICEServers: [" + strings.Join(c.ICEServers, ", ") + "], " +
		"EmitDelay: " + c.EmitDelay.String() + ", " +
		"CancelPendingOnTeardown: " + strconv.FormatBool(c.CancelPendingOnTeardown) + ", " +
		"QueueCapacity: " + strconv.Itoa(c.QueueCapacity) + ", " +
		"BorderColor: " + c.BorderColor + ", " +
		"LogLevel: " + c.LogLevel +
		"}"
}
