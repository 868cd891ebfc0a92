package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/url"
)

// Settings is the live pointer configuration owned by the daemon loop.
//
// SpeedFactor and EnforceBounds are mirrored to the pointer host; the other
// fields are local.
type Settings struct {
	ServerURL       string  `json:"server_url"`
	SpeedFactor     float64 `json:"speed_factor"`
	EnforceBounds   bool    `json:"enforce_bounds"`
	UseMotionSensor bool    `json:"use_motion_sensor"`
	ShowControlPad  bool    `json:"show_control_pad"`
}

// DefaultSettings returns the settings used when nothing is configured.
func DefaultSettings() Settings {
	return Settings{
		ServerURL:       defaultServerURL,
		SpeedFactor:     defaultSpeedFactor,
		EnforceBounds:   true,
		UseMotionSensor: true,
		ShowControlPad:  true,
	}
}

// ConfigKey names a single settings field.
type ConfigKey string

const (
	KeyServerURL       ConfigKey = "serverUrl"
	KeySpeedFactor     ConfigKey = "speedFactor"
	KeyEnforceBounds   ConfigKey = "enforceBounds"
	KeyUseMotionSensor ConfigKey = "useMotionSensor"
	KeyShowControlPad  ConfigKey = "showControlPad"
)

// ErrUnknownConfigKey is returned by Apply for keys outside the closed set.
var ErrUnknownConfigKey = errors.New("unknown config key")

// validateServerURL checks that u is an absolute ws:// or wss:// URL.
func validateServerURL(u string) error {
	parsed, err := url.Parse(u)
	if err != nil {
		return fmt.Errorf("parse server url: %w", err)
	}
	if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
		return fmt.Errorf("server url %q: scheme must be ws or wss", u)
	}
	if parsed.Host == "" {
		return fmt.Errorf("server url %q: missing host", u)
	}
	return nil
}

// SetServerURL replaces the pointer host endpoint. The new URL is used on the
// next connect.
func (s *Settings) SetServerURL(u string) error {
	if err := validateServerURL(u); err != nil {
		return err
	}
	s.ServerURL = u
	return nil
}

// SetSpeedFactor clamps v into [minSpeedFactor, maxSpeedFactor].
func (s *Settings) SetSpeedFactor(v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("speed factor must be finite, got %v", v)
	}
	s.SpeedFactor = clampSpeed(v)
	return nil
}

func clampSpeed(v float64) float64 {
	return math.Max(minSpeedFactor, math.Min(maxSpeedFactor, v))
}

func (s *Settings) SetEnforceBounds(enabled bool)   { s.EnforceBounds = enabled }
func (s *Settings) SetUseMotionSensor(enabled bool) { s.UseMotionSensor = enabled }
func (s *Settings) SetShowControlPad(visible bool)  { s.ShowControlPad = visible }

// Apply dispatches a keyed change to the matching typed setter.
// On error s is left unchanged.
func (s *Settings) Apply(c SetConfig) error {
	switch c.Key {
	case KeyServerURL:
		var v string
		if err := json.Unmarshal(c.Value, &v); err != nil {
			return fmt.Errorf("%s: %w", c.Key, err)
		}
		return s.SetServerURL(v)

	case KeySpeedFactor:
		var v float64
		if err := json.Unmarshal(c.Value, &v); err != nil {
			return fmt.Errorf("%s: %w", c.Key, err)
		}
		return s.SetSpeedFactor(v)

	case KeyEnforceBounds, KeyUseMotionSensor, KeyShowControlPad:
		var v bool
		if err := json.Unmarshal(c.Value, &v); err != nil {
			return fmt.Errorf("%s: %w", c.Key, err)
		}
		switch c.Key {
		case KeyEnforceBounds:
			s.SetEnforceBounds(v)
		case KeyUseMotionSensor:
			s.SetUseMotionSensor(v)
		default:
			s.SetShowControlPad(v)
		}
		return nil

	default:
		return fmt.Errorf("%w: %q", ErrUnknownConfigKey, c.Key)
	}
}
