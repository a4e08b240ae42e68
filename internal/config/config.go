// Package config loads the panel configuration.
//
// Values come from, in increasing precedence: built-in defaults, a YAML
// file, and PANEL_* environment variables. The result is validated before
// use.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/intercom-panel/panel-go/pkg/expander"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "PANEL_"

// Config is the complete panel configuration.
type Config struct {
	LogLevel string         `yaml:"log_level"`
	Server   ServerConfig   `yaml:"server"`
	Keypad   KeypadConfig   `yaml:"keypad"`
	Call     CallConfig     `yaml:"call"`
	Hardware HardwareConfig `yaml:"hardware"`
	Camera   CameraConfig   `yaml:"camera"`
	Capture  CaptureConfig  `yaml:"capture"`
}

// ServerConfig locates the call server.
type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	Discover       bool          `yaml:"discover"`
	Instance       string        `yaml:"instance"`
	Interface      string        `yaml:"interface"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	ReceiveTimeout time.Duration `yaml:"receive_timeout"`
}

// KeypadConfig tunes scanning and number entry.
type KeypadConfig struct {
	BufferCapacity    int           `yaml:"buffer_capacity"`
	InactivityTimeout time.Duration `yaml:"inactivity_timeout"`
	ScanInterval      time.Duration `yaml:"scan_interval"`
	Debounce          time.Duration `yaml:"debounce"`
	SettleDelay       time.Duration `yaml:"settle_delay"`
	ReleasePoll       time.Duration `yaml:"release_poll"`

	// Layout lists the key rows top to bottom, three keys each.
	Layout []string `yaml:"layout"`
}

// CallConfig tunes the call flow.
type CallConfig struct {
	SendGap      time.Duration `yaml:"send_gap"`
	ShowDuration time.Duration `yaml:"show_duration"`
}

// HardwareConfig names the buses and pins.
type HardwareConfig struct {
	I2CBus        string        `yaml:"i2c_bus"`
	ExpanderAddr  uint16        `yaml:"expander_addr"`
	LEDPin        string        `yaml:"led_pin"`
	StatusPin     string        `yaml:"status_pin"`
	FlashPin      string        `yaml:"flash_pin"`
	FlashLevel    float64       `yaml:"flash_level"`
	RelayMask     uint8         `yaml:"relay_mask"`
	DoorHold      time.Duration `yaml:"door_hold"`
	BlinkInterval time.Duration `yaml:"blink_interval"`
}

// CameraConfig selects the photo source.
type CameraConfig struct {
	// Source is "command", "file" or "static".
	Source  string        `yaml:"source"`
	Path    string        `yaml:"path"`
	Command []string      `yaml:"command"`
	Timeout time.Duration `yaml:"timeout"`
}

// CaptureConfig enables protocol capture.
type CaptureConfig struct {
	File string `yaml:"file"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Server: ServerConfig{
			Port:           3001,
			ConnectTimeout: 10 * time.Second,
		},
		Keypad: KeypadConfig{
			BufferCapacity:    32,
			InactivityTimeout: 3 * time.Second,
			ScanInterval:      100 * time.Millisecond,
			Debounce:          200 * time.Millisecond,
			SettleDelay:       10 * time.Millisecond,
			ReleasePoll:       10 * time.Millisecond,
			Layout:            []string{"123", "456", "789", "*0#"},
		},
		Call: CallConfig{
			SendGap:      500 * time.Millisecond,
			ShowDuration: time.Second,
		},
		Hardware: HardwareConfig{
			ExpanderAddr:  0x20,
			LEDPin:        "GPIO33",
			StatusPin:     "GPIO3",
			RelayMask:     0x01,
			DoorHold:      3 * time.Second,
			BlinkInterval: 500 * time.Millisecond,
			FlashLevel:    10.0 / 255,
		},
		Camera: CameraConfig{
			Source:  "command",
			Command: []string{"rpicam-still", "-n", "-t", "1", "-o", "-"},
			Timeout: 5 * time.Second,
		},
	}
}

// Override adjusts a loaded configuration before validation, e.g. from
// command-line flags.
type Override func(*Config) error

// Load builds the configuration from defaults, the file at path (skipped
// when empty), the environment and overrides, then validates it.
func Load(path string, overrides ...Override) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	for _, o := range overrides {
		if err := o(cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// applyEnv applies PANEL_* overrides.
func (c *Config) applyEnv() error {
	var errs []error
	str := func(name string, dst *string) {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok {
			*dst = v
		}
	}
	num := func(name string, dst *int) {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	flag := func(name string, dst *bool) {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = b
		}
	}
	dur := func(name string, dst *time.Duration) {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = d
		}
	}

	str("LOG_LEVEL", &c.LogLevel)
	str("SERVER_HOST", &c.Server.Host)
	num("SERVER_PORT", &c.Server.Port)
	flag("SERVER_DISCOVER", &c.Server.Discover)
	dur("CONNECT_TIMEOUT", &c.Server.ConnectTimeout)
	dur("RECEIVE_TIMEOUT", &c.Server.ReceiveTimeout)
	dur("INACTIVITY_TIMEOUT", &c.Keypad.InactivityTimeout)
	str("I2C_BUS", &c.Hardware.I2CBus)
	str("LED_PIN", &c.Hardware.LEDPin)
	str("STATUS_PIN", &c.Hardware.StatusPin)
	str("FLASH_PIN", &c.Hardware.FlashPin)
	str("CAMERA_SOURCE", &c.Camera.Source)
	str("CAMERA_PATH", &c.Camera.Path)
	str("CAPTURE_FILE", &c.Capture.File)

	return errors.Join(errs...)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log_level must be one of debug, info, warn, error: %q", c.LogLevel))
	}

	if c.Server.Host == "" && !c.Server.Discover {
		errs = append(errs, errors.New("server.host is required unless server.discover is set"))
	}
	if c.Server.Host != "" && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	if c.Server.ConnectTimeout <= 0 {
		errs = append(errs, errors.New("server.connect_timeout must be positive"))
	}
	if c.Server.ReceiveTimeout < 0 {
		errs = append(errs, errors.New("server.receive_timeout must not be negative"))
	}

	if c.Keypad.BufferCapacity < 2 {
		errs = append(errs, fmt.Errorf("keypad.buffer_capacity must be at least 2: %d", c.Keypad.BufferCapacity))
	}
	if c.Keypad.InactivityTimeout <= 0 {
		errs = append(errs, errors.New("keypad.inactivity_timeout must be positive"))
	}
	if c.Keypad.ScanInterval <= 0 || c.Keypad.Debounce <= 0 {
		errs = append(errs, errors.New("keypad.scan_interval and keypad.debounce must be positive"))
	}
	if _, err := c.KeypadLayout(); err != nil {
		errs = append(errs, err)
	}

	if c.Hardware.RelayMask == 0 {
		errs = append(errs, errors.New("hardware.relay_mask must select at least one bit"))
	}
	if c.Hardware.RelayMask&0xFE != 0 {
		errs = append(errs, fmt.Errorf("hardware.relay_mask 0x%02x overlaps the keypad lines", c.Hardware.RelayMask))
	}
	if c.Hardware.FlashLevel < 0 || c.Hardware.FlashLevel > 1 {
		errs = append(errs, fmt.Errorf("hardware.flash_level must be within [0, 1]: %g", c.Hardware.FlashLevel))
	}
	if c.Hardware.ExpanderAddr > 0x7F {
		errs = append(errs, fmt.Errorf("hardware.expander_addr is not a 7-bit address: 0x%x", c.Hardware.ExpanderAddr))
	}

	switch c.Camera.Source {
	case "command":
		if len(c.Camera.Command) == 0 {
			errs = append(errs, errors.New("camera.command is required for the command source"))
		}
	case "file":
		if c.Camera.Path == "" {
			errs = append(errs, errors.New("camera.path is required for the file source"))
		}
	case "static":
	default:
		errs = append(errs, fmt.Errorf("camera.source must be command, file or static: %q", c.Camera.Source))
	}

	return errors.Join(errs...)
}

// KeypadLayout converts the configured rows into an expander.Layout.
func (c *Config) KeypadLayout() (expander.Layout, error) {
	var layout expander.Layout
	if len(c.Keypad.Layout) != len(layout) {
		return layout, fmt.Errorf("keypad.layout needs %d rows, got %d", len(layout), len(c.Keypad.Layout))
	}
	for i, row := range c.Keypad.Layout {
		if len(row) != len(layout[i]) {
			return layout, fmt.Errorf("keypad.layout row %d needs %d keys: %q", i, len(layout[i]), row)
		}
		copy(layout[i][:], row)
	}
	return layout, nil
}
