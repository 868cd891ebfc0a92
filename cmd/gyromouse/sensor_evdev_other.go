//go:build !linux

package main

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

type evdevSource struct {
	path string
}

func newEvdevSource(path string, _ *slog.Logger) *evdevSource {
	return &evdevSource{path: path}
}

func (s *evdevSource) SetInterval(time.Duration) {}

func (s *evdevSource) Run(context.Context, chan<- SensorSample) error {
	return errors.New("evdev sensor source is only supported on linux")
}
