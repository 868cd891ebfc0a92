package main

import "time"

// Linux input event types and codes (from <linux/input.h>)
const (
	EV_SYN = 0x00
	EV_ABS = 0x03

	SYN_REPORT = 0x00

	// Gyroscope axes exposed by IMU motion-sensor nodes
	// (INPUT_PROP_ACCELEROMETER devices report angular rate on the RX/RY/RZ codes).
	ABS_RX = 0x03
	ABS_RY = 0x04
	ABS_RZ = 0x05
)

// Motion pipeline tuning
const (
	deadZone       = 0.003                 // |component| below this is forced to zero (rad/s)
	bufferSize     = 3                     // moving-average window length (samples)
	updateInterval = 30 * time.Millisecond // minimum spacing between accepted samples

	smoothFactor = 0.8  // weight of the new window mean
	decayFactor  = 0.95 // leak applied to the stored rotation each step

	baseMultiplier      = 15.0 // pointer units per rad/s at speed 1.0
	baseJitterThreshold = 0.2  // divided by the speed factor
)

// Pointer settings bounds
const (
	minSpeedFactor     = 0.5
	maxSpeedFactor     = 5.0
	defaultSpeedFactor = 2.0

	defaultServerURL = "ws://192.168.1.94:8080/ws"
)

// Connection resilience
const (
	maxReconnectAttempts = 3
	reconnectBaseDelay   = time.Second // delay for attempt n is reconnectBaseDelay << n

	configDebounce = 300 * time.Millisecond

	defaultHandshakeTimeoutMS = 5000
	defaultPingIntervalMS     = 10000
	defaultPongTimeoutMS      = 25000
)

// Sensor defaults
const (
	// MPU-6050/9250 at +-250 deg/s full scale
	defaultGyroLSBPerDPS = 131.0
)
