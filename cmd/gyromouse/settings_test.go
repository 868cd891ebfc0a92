package main

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
)

func TestSetSpeedFactor_Clamps(t *testing.T) {
	cases := []struct {
		in, want float64
	}{
		{0.1, 0.5},
		{0.5, 0.5},
		{2.5, 2.5},
		{5, 5},
		{12, 5},
		{-3, 0.5},
	}
	for _, tc := range cases {
		s := DefaultSettings()
		if err := s.SetSpeedFactor(tc.in); err != nil {
			t.Fatalf("SetSpeedFactor(%v): %v", tc.in, err)
		}
		if s.SpeedFactor != tc.want {
			t.Errorf("SetSpeedFactor(%v) -> %v, want %v", tc.in, s.SpeedFactor, tc.want)
		}
	}
}

func TestSetSpeedFactor_RejectsNonFinite(t *testing.T) {
	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		s := DefaultSettings()
		if err := s.SetSpeedFactor(v); err == nil {
			t.Errorf("SetSpeedFactor(%v): expected error", v)
		}
		if s.SpeedFactor != defaultSpeedFactor {
			t.Errorf("SetSpeedFactor(%v) changed speed to %v", v, s.SpeedFactor)
		}
	}
}

func TestSetServerURL(t *testing.T) {
	s := DefaultSettings()
	if err := s.SetServerURL("wss://host.example:9000/ws"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.ServerURL != "wss://host.example:9000/ws" {
		t.Fatalf("server url not updated: %q", s.ServerURL)
	}

	for _, bad := range []string{"http://host/ws", "host:8080", "ws://", "::nope"} {
		before := s.ServerURL
		if err := s.SetServerURL(bad); err == nil {
			t.Errorf("SetServerURL(%q): expected error", bad)
		}
		if s.ServerURL != before {
			t.Errorf("SetServerURL(%q) modified url", bad)
		}
	}
}

func TestApply_DispatchesByKey(t *testing.T) {
	s := DefaultSettings()

	steps := []SetConfig{
		{Key: KeySpeedFactor, Value: json.RawMessage(`3.5`)},
		{Key: KeyEnforceBounds, Value: json.RawMessage(`false`)},
		{Key: KeyUseMotionSensor, Value: json.RawMessage(`false`)},
		{Key: KeyShowControlPad, Value: json.RawMessage(`false`)},
		{Key: KeyServerURL, Value: json.RawMessage(`"ws://10.0.0.2:8080/ws"`)},
	}
	for _, c := range steps {
		if err := s.Apply(c); err != nil {
			t.Fatalf("Apply(%s): %v", c.Key, err)
		}
	}

	want := Settings{
		ServerURL:       "ws://10.0.0.2:8080/ws",
		SpeedFactor:     3.5,
		EnforceBounds:   false,
		UseMotionSensor: false,
		ShowControlPad:  false,
	}
	if s != want {
		t.Fatalf("settings = %+v, want %+v", s, want)
	}
}

func TestApply_Errors(t *testing.T) {
	s := DefaultSettings()

	err := s.Apply(SetConfig{Key: "volume", Value: json.RawMessage(`1`)})
	if !errors.Is(err, ErrUnknownConfigKey) {
		t.Fatalf("expected ErrUnknownConfigKey, got %v", err)
	}

	if err := s.Apply(SetConfig{Key: KeySpeedFactor, Value: json.RawMessage(`"fast"`)}); err == nil {
		t.Fatalf("expected type error for speed")
	}
	if err := s.Apply(SetConfig{Key: KeyEnforceBounds, Value: json.RawMessage(`1`)}); err == nil {
		t.Fatalf("expected type error for bounds")
	}

	if s != DefaultSettings() {
		t.Fatalf("failed applies modified settings: %+v", s)
	}
}
