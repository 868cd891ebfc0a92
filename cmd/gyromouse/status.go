package main

import "time"

// StatusSnapshot is a point-in-time copy of daemon-owned state, safe to hand
// to other goroutines.
type StatusSnapshot struct {
	State             ConnState    `json:"state"`
	ReconnectAttempts int          `json:"reconnect_attempts"`
	Delta             PointerDelta `json:"delta"`
	Raw               SensorSample `json:"raw"`
	Settings          Settings     `json:"settings"`
	SensorActive      bool         `json:"sensor_active"`
	LastError         string       `json:"last_error,omitempty"`
}

// StatusBroadcast is a state change emitted by the daemon loop for
// presentation clients.
type StatusBroadcast interface {
	broadcastMarker()
}

type BroadcastConnState struct {
	State    ConnState
	Attempts int
	At       time.Time
}

type BroadcastPointerDelta struct {
	Delta PointerDelta
	At    time.Time
}

type BroadcastSensorReading struct {
	Sample SensorSample
	At     time.Time
}

type BroadcastConnectError struct {
	URL   string
	Error string
	At    time.Time
}

type BroadcastSettings struct {
	Settings Settings
	At       time.Time
}

func (BroadcastConnState) broadcastMarker()     {}
func (BroadcastPointerDelta) broadcastMarker()  {}
func (BroadcastSensorReading) broadcastMarker() {}
func (BroadcastConnectError) broadcastMarker()  {}
func (BroadcastSettings) broadcastMarker()      {}
