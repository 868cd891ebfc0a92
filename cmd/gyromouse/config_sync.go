package main

import (
	"log/slog"
	"time"

	"gyromouse/internal/protocol"
)

// Sender is the send primitive shared by the motion path and config sync.
type Sender interface {
	Send(payload string) bool
}

// ConfigSync mirrors speed and bounds changes to the pointer host with a
// per-key debounce window.
type ConfigSync struct {
	sender Sender
	logger *slog.Logger

	// last successful send per key; created lazily
	lastSent map[ConfigKey]time.Time
}

func NewConfigSync(sender Sender, logger *slog.Logger) *ConfigSync {
	return &ConfigSync{sender: sender, logger: logger}
}

// Update forwards the current value of key from s. Keys that are not
// mirrored are ignored. A send is suppressed when the previous successful
// send of the same key happened less than configDebounce before now; a failed
// send does not consume the window.
//
// It reports whether a message went out.
func (c *ConfigSync) Update(now time.Time, key ConfigKey, s Settings) bool {
	var msg string
	switch key {
	case KeySpeedFactor:
		msg = protocol.SpeedConfig(s.SpeedFactor)
	case KeyEnforceBounds:
		msg = protocol.BoundsConfig(s.EnforceBounds)
	default:
		return false
	}

	if last, ok := c.lastSent[key]; ok && now.Sub(last) < configDebounce {
		c.logger.Debug("config sync debounced", "key", key, "since_last_ms", now.Sub(last).Milliseconds())
		return false
	}

	if !c.sender.Send(msg) {
		c.logger.Debug("config sync send failed", "key", key)
		return false
	}

	if c.lastSent == nil {
		c.lastSent = make(map[ConfigKey]time.Time)
	}
	c.lastSent[key] = now
	return true
}
