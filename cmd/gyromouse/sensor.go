package main

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"
)

// SensorSource delivers gyro samples until ctx is canceled.
//
// Run blocks; it must stop sending and return once ctx is done. A nil return
// after cancellation is a clean stop.
type SensorSource interface {
	Run(ctx context.Context, out chan<- SensorSample) error

	// SetInterval sets the nominal sample interval. Hardware-driven sources
	// may only use it as a hint.
	SetInterval(d time.Duration)
}

// Sensor modes
const (
	SensorModeEvdev = "evdev"
	SensorModeMQTT  = "mqtt"
	SensorModeMock  = "mock"
	SensorModeNone  = "none"
)

// newSensorSource builds the source selected by cfg.Mode. Mode "none"
// returns a nil source (control pad only).
func newSensorSource(cfg SensorConfig, logger *slog.Logger) (SensorSource, error) {
	switch cfg.Mode {
	case SensorModeEvdev:
		return newEvdevSource(ExpandPath(cfg.Device), logger), nil
	case SensorModeMQTT:
		return newMQTTSource(cfg.MQTT, cfg.GyroLSBPerDPS, logger), nil
	case SensorModeMock:
		return newMockSource(), nil
	case SensorModeNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown sensor mode %q", cfg.Mode)
	}
}

// sendSample delivers s unless ctx ends first. Nothing is delivered once ctx
// is done, even if out has room.
func sendSample(ctx context.Context, out chan<- SensorSample, s SensorSample) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case out <- s:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// mockSource synthesizes a slow figure-eight wave, for running without hardware.
type mockSource struct {
	interval atomic.Int64 // nanoseconds
	start    time.Time
}

func newMockSource() *mockSource {
	m := &mockSource{start: time.Now()}
	m.interval.Store(int64(updateInterval))
	return m
}

func (m *mockSource) SetInterval(d time.Duration) {
	if d > 0 {
		m.interval.Store(int64(d))
	}
}

func (m *mockSource) sample(at time.Time) SensorSample {
	t := at.Sub(m.start).Seconds()
	return SensorSample{
		X: 0.25 * math.Sin(2*t),
		Y: 0.05 * math.Sin(0.5*t),
		Z: 0.4 * math.Sin(t),
	}
}

func (m *mockSource) Run(ctx context.Context, out chan<- SensorSample) error {
	timer := time.NewTimer(time.Duration(m.interval.Load()))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-timer.C:
			if err := sendSample(ctx, out, m.sample(now)); err != nil {
				return nil
			}
			timer.Reset(time.Duration(m.interval.Load()))
		}
	}
}
