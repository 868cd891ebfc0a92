package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// imuRaw is the raw IMU frame published by inertial producers. Only the gyro
// fields are used.
type imuRaw struct {
	Source string `json:"source"`

	Gx int16 `json:"gx"`
	Gy int16 `json:"gy"`
	Gz int16 `json:"gz"`
}

// toSample converts raw gyro counts to rad/s.
func (r imuRaw) toSample(lsbPerDPS float64) SensorSample {
	if lsbPerDPS <= 0 {
		lsbPerDPS = defaultGyroLSBPerDPS
	}
	scale := degToRad / lsbPerDPS
	return SensorSample{
		X: float64(r.Gx) * scale,
		Y: float64(r.Gy) * scale,
		Z: float64(r.Gz) * scale,
	}
}

// decodeIMUSample parses one MQTT payload.
func decodeIMUSample(payload []byte, lsbPerDPS float64) (SensorSample, error) {
	var r imuRaw
	if err := json.Unmarshal(payload, &r); err != nil {
		return SensorSample{}, fmt.Errorf("decode imu payload: %w", err)
	}
	return r.toSample(lsbPerDPS), nil
}

// mqttSource subscribes to a topic carrying raw IMU frames.
type mqttSource struct {
	cfg       MQTTConfig
	lsbPerDPS float64
	logger    *slog.Logger

	dropped atomic.Uint64
}

func newMQTTSource(cfg MQTTConfig, lsbPerDPS float64, logger *slog.Logger) *mqttSource {
	return &mqttSource{cfg: cfg, lsbPerDPS: lsbPerDPS, logger: logger}
}

// SetInterval is a no-op: the publisher decides the rate.
func (s *mqttSource) SetInterval(time.Duration) {}

const mqttTokenTimeout = 5 * time.Second

func (s *mqttSource) Run(ctx context.Context, out chan<- SensorSample) error {
	opts := mqtt.NewClientOptions().
		AddBroker(s.cfg.Broker).
		SetClientID(s.cfg.ClientID).
		SetConnectTimeout(mqttTokenTimeout).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); !token.WaitTimeout(mqttTokenTimeout) {
		return fmt.Errorf("mqtt connect %s: timeout", s.cfg.Broker)
	} else if token.Error() != nil {
		return fmt.Errorf("mqtt connect %s: %w", s.cfg.Broker, token.Error())
	}
	defer client.Disconnect(250)

	s.logger.Info("connected to MQTT broker", "broker", s.cfg.Broker)

	token := client.Subscribe(s.cfg.Topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		sample, err := decodeIMUSample(msg.Payload(), s.lsbPerDPS)
		if err != nil {
			s.logger.Debug("mqtt imu payload rejected", "topic", msg.Topic(), "error", err)
			return
		}
		s.deliver(ctx, out, sample)
	})
	if !token.WaitTimeout(mqttTokenTimeout) {
		return fmt.Errorf("mqtt subscribe %s: timeout", s.cfg.Topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt subscribe %s: %w", s.cfg.Topic, err)
	}
	s.logger.Info("subscribed to imu topic", "topic", s.cfg.Topic)

	<-ctx.Done()

	if t := client.Unsubscribe(s.cfg.Topic); !t.WaitTimeout(time.Second) {
		s.logger.Debug("mqtt unsubscribe timed out", "topic", s.cfg.Topic)
	}
	return nil
}

// deliver hands a sample to the daemon without blocking the MQTT router.
// Callbacks that fire after ctx is done deliver nothing.
func (s *mqttSource) deliver(ctx context.Context, out chan<- SensorSample, sample SensorSample) bool {
	if ctx.Err() != nil {
		return false
	}
	select {
	case out <- sample:
		return true
	default:
		if n := s.dropped.Add(1); n%100 == 1 {
			s.logger.Debug("mqtt samples dropped (daemon busy)", "total", n)
		}
		return false
	}
}
