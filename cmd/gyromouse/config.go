package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration for the gyromouse daemon.
//
// Defaults and validation live here so the rest of the code can assume a
// well-formed config. The file is the primary configuration surface; flags
// are for small overrides.
type Config struct {
	// Pointer host link
	Server ServerConfig `yaml:"server"`

	// Initial pointer settings (mutable at runtime via IPC)
	Pointer PointerConfig `yaml:"pointer"`

	// Motion input
	Sensor SensorConfig `yaml:"sensor"`

	// Control socket
	IPC IPCConfig `yaml:"ipc"`

	// Local status feed
	Status StatusConfig `yaml:"status"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

type ServerConfig struct {
	URL                string `yaml:"url"`
	AutoConnect        bool   `yaml:"auto_connect"`
	HandshakeTimeoutMS int    `yaml:"handshake_timeout_ms"`
	PingIntervalMS     int    `yaml:"ping_interval_ms"`
	PongTimeoutMS      int    `yaml:"pong_timeout_ms"`
}

type PointerConfig struct {
	SpeedFactor     float64 `yaml:"speed_factor"`
	EnforceBounds   bool    `yaml:"enforce_bounds"`
	UseMotionSensor bool    `yaml:"use_motion_sensor"`
	ShowControlPad  bool    `yaml:"show_control_pad"`
}

type SensorConfig struct {
	Mode   string `yaml:"mode"`   // "evdev", "mqtt", "mock" or "none"
	Device string `yaml:"device"` // evdev motion-sensor node

	// Raw IMU counts per deg/s (mqtt mode)
	GyroLSBPerDPS float64 `yaml:"gyro_lsb_per_dps"`

	MQTT MQTTConfig `yaml:"mqtt"`
}

type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
}

type IPCConfig struct {
	SocketPath string `yaml:"socket_path"`
}

type StatusConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns a fully-populated Config with defaults.
// Keep this aligned with constants.go.
func DefaultConfig() Config {
	s := DefaultSettings()
	return Config{
		Server: ServerConfig{
			URL:                s.ServerURL,
			AutoConnect:        false,
			HandshakeTimeoutMS: defaultHandshakeTimeoutMS,
			PingIntervalMS:     defaultPingIntervalMS,
			PongTimeoutMS:      defaultPongTimeoutMS,
		},
		Pointer: PointerConfig{
			SpeedFactor:     s.SpeedFactor,
			EnforceBounds:   s.EnforceBounds,
			UseMotionSensor: s.UseMotionSensor,
			ShowControlPad:  s.ShowControlPad,
		},
		Sensor: SensorConfig{
			Mode:          SensorModeEvdev,
			Device:        "/dev/input/event0",
			GyroLSBPerDPS: defaultGyroLSBPerDPS,
			MQTT: MQTTConfig{
				Broker:   "tcp://localhost:1883",
				Topic:    "inertial/imu/left",
				ClientID: "gyromouse",
			},
		},
		IPC: IPCConfig{
			SocketPath: "/tmp/gyromouse.sock",
		},
		Status: StatusConfig{
			Enabled: true,
			Listen:  "127.0.0.1:3002",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfigFile reads and parses a YAML config file on top of the defaults.
// Unknown fields are rejected to catch typos.
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}

	// Only whitespace/comments are allowed after the document. A node target
	// keeps KnownFields from turning a second document into a field error.
	var extra yaml.Node
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode config yaml: unexpected trailing document")
	}

	return cfg, nil
}

// FlagOverrides holds values from flags that were explicitly set. Nil
// pointers are ignored; non-nil values are applied even if zero.
type FlagOverrides struct {
	ServerURL   *string
	AutoConnect *bool

	SpeedFactor     *float64
	EnforceBounds   *bool
	UseMotionSensor *bool

	SensorMode   *string
	SensorDevice *string
	MQTTBroker   *string
	MQTTTopic    *string

	IPCSocketPath *string
	StatusListen  *string

	LogLevel *string
}

// Apply merges the overrides into cfg.
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}

	if o.ServerURL != nil {
		cfg.Server.URL = *o.ServerURL
	}
	if o.AutoConnect != nil {
		cfg.Server.AutoConnect = *o.AutoConnect
	}

	if o.SpeedFactor != nil {
		cfg.Pointer.SpeedFactor = *o.SpeedFactor
	}
	if o.EnforceBounds != nil {
		cfg.Pointer.EnforceBounds = *o.EnforceBounds
	}
	if o.UseMotionSensor != nil {
		cfg.Pointer.UseMotionSensor = *o.UseMotionSensor
	}

	if o.SensorMode != nil {
		cfg.Sensor.Mode = *o.SensorMode
	}
	if o.SensorDevice != nil {
		cfg.Sensor.Device = *o.SensorDevice
	}
	if o.MQTTBroker != nil {
		cfg.Sensor.MQTT.Broker = *o.MQTTBroker
	}
	if o.MQTTTopic != nil {
		cfg.Sensor.MQTT.Topic = *o.MQTTTopic
	}

	if o.IPCSocketPath != nil {
		cfg.IPC.SocketPath = *o.IPCSocketPath
	}
	if o.StatusListen != nil {
		cfg.Status.Listen = *o.StatusListen
		// Asking for a listen address implies wanting the feed.
		cfg.Status.Enabled = *o.StatusListen != ""
	}

	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
}

// Validate checks config invariants and returns a user-friendly error.
// Call it after defaults, file and overrides are applied.
func (c *Config) Validate() error {
	// Server
	if c.Server.URL == "" {
		return errors.New("server.url must not be empty")
	}
	if err := validateServerURL(c.Server.URL); err != nil {
		return fmt.Errorf("server.url: %w", err)
	}
	if c.Server.HandshakeTimeoutMS <= 0 {
		return errors.New("server.handshake_timeout_ms must be > 0")
	}
	if c.Server.PingIntervalMS <= 0 {
		return errors.New("server.ping_interval_ms must be > 0")
	}
	if c.Server.PongTimeoutMS <= c.Server.PingIntervalMS {
		return errors.New("server.pong_timeout_ms must be > server.ping_interval_ms")
	}

	// Pointer
	if c.Pointer.SpeedFactor < minSpeedFactor || c.Pointer.SpeedFactor > maxSpeedFactor {
		return fmt.Errorf("pointer.speed_factor must be between %.1f and %.1f", minSpeedFactor, maxSpeedFactor)
	}

	// Sensor
	switch c.Sensor.Mode {
	case SensorModeEvdev:
		if c.Sensor.Device == "" {
			return errors.New("sensor.device must not be empty in evdev mode")
		}
	case SensorModeMQTT:
		if c.Sensor.MQTT.Broker == "" {
			return errors.New("sensor.mqtt.broker must not be empty in mqtt mode")
		}
		if c.Sensor.MQTT.Topic == "" {
			return errors.New("sensor.mqtt.topic must not be empty in mqtt mode")
		}
		if c.Sensor.MQTT.ClientID == "" {
			return errors.New("sensor.mqtt.client_id must not be empty in mqtt mode")
		}
		if c.Sensor.GyroLSBPerDPS <= 0 {
			return errors.New("sensor.gyro_lsb_per_dps must be > 0")
		}
	case SensorModeMock, SensorModeNone:
	default:
		return fmt.Errorf("sensor.mode must be one of %q, %q, %q, %q",
			SensorModeEvdev, SensorModeMQTT, SensorModeMock, SensorModeNone)
	}

	// IPC
	if c.IPC.SocketPath == "" {
		return errors.New("ipc.socket_path must not be empty")
	}

	// Status
	if c.Status.Enabled && c.Status.Listen == "" {
		return errors.New("status.enabled is true but status.listen is empty")
	}

	// Logging
	if c.Logging.Level == "" {
		return errors.New("logging.level must not be empty")
	}
	if _, err := parseLogLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}

	return nil
}

// ToSettings returns the initial runtime settings.
func (c *Config) ToSettings() Settings {
	return Settings{
		ServerURL:       c.Server.URL,
		SpeedFactor:     clampSpeed(c.Pointer.SpeedFactor),
		EnforceBounds:   c.Pointer.EnforceBounds,
		UseMotionSensor: c.Pointer.UseMotionSensor,
		ShowControlPad:  c.Pointer.ShowControlPad,
	}
}

// ToDialerConfig converts millisecond fields into durations.
func (c *Config) ToDialerConfig() WSDialerConfig {
	return WSDialerConfig{
		HandshakeTimeout: time.Duration(c.Server.HandshakeTimeoutMS) * time.Millisecond,
		PingInterval:     time.Duration(c.Server.PingIntervalMS) * time.Millisecond,
		PongTimeout:      time.Duration(c.Server.PongTimeoutMS) * time.Millisecond,
	}
}

// ExpandPath expands a leading "~" in a path using $HOME.
func ExpandPath(p string) string {
	if p == "" || p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if len(p) >= 2 && (p[1] == '/' || p[1] == '\\') {
		return filepath.Join(home, p[2:])
	}
	return p
}
