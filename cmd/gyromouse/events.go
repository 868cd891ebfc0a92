package main

import (
	"encoding/json"
	"fmt"

	"gyromouse/internal/protocol"
)

// ============================================================================
// Event Types
// ============================================================================
// Events are everything the daemon loop reacts to. Control events come from
// IPC clients and the status page; internal events are posted by goroutines
// the loop started (dialers, transport watchers, reconnect timers, sensors).
// Only the loop mutates state in response to them.
// ============================================================================

// Event is a marker interface for all daemon loop inputs.
type Event interface {
	eventMarker()
}

// Connect requests an explicit connect to the configured server URL.
type Connect struct{}

func (Connect) eventMarker() {}

// Disconnect requests an intentional close. No reconnect follows.
type Disconnect struct{}

func (Disconnect) eventMarker() {}

// Click requests a click on the pointer host.
type Click struct {
	Kind protocol.ClickKind `json:"kind"`
}

func (Click) eventMarker() {}

// ButtonHold presses or releases a mouse button (drag support).
type ButtonHold struct {
	Button protocol.Button      `json:"button"`
	State  protocol.ButtonState `json:"state"`
}

func (ButtonHold) eventMarker() {}

// ManualMove sends a pointer delta from the on-screen control pad.
type ManualMove struct {
	DX int `json:"dx"`
	DY int `json:"dy"`
}

func (ManualMove) eventMarker() {}

// SetConfig changes one settings field. Value is the JSON encoding of the
// new value (string, number or bool depending on Key).
type SetConfig struct {
	Key   ConfigKey       `json:"key"`
	Value json.RawMessage `json:"value"`
}

func (SetConfig) eventMarker() {}

// ResetTracking clears the motion pipeline history and pointer delta.
type ResetTracking struct{}

func (ResetTracking) eventMarker() {}

// RequestStatus asks the loop for a snapshot. The loop replies without
// blocking, so Reply should be buffered.
type RequestStatus struct {
	Reply chan<- StatusSnapshot
}

func (RequestStatus) eventMarker() {}

// ============================================================================
// Internal events
// ============================================================================

type transportOpened struct {
	gen uint64
	t   Transport
}

type transportOpenFailed struct {
	gen      uint64
	explicit bool
	url      string
	err      error
}

type transportFailed struct {
	gen uint64
	err error
}

type reconnectDue struct {
	gen uint64
}

type sensorStopped struct {
	gen uint64
	err error
}

func (transportOpened) eventMarker()     {}
func (transportOpenFailed) eventMarker() {}
func (transportFailed) eventMarker()     {}
func (reconnectDue) eventMarker()        {}
func (sensorStopped) eventMarker()       {}

// ============================================================================
// JSON Encoding/Decoding Support
// ============================================================================

// EventEnvelope wraps an event with a type discriminator for JSON marshaling
type EventEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// UnmarshalEvent deserializes and validates a JSON event envelope.
func UnmarshalEvent(data []byte) (Event, error) {
	var env EventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}

	switch env.Type {
	case "connect":
		return Connect{}, nil

	case "disconnect":
		return Disconnect{}, nil

	case "click":
		var e Click
		if err := json.Unmarshal(env.Data, &e); err != nil {
			return nil, fmt.Errorf("unmarshal Click: %w", err)
		}
		if _, err := protocol.ParseClickKind(string(e.Kind)); err != nil {
			return nil, err
		}
		return e, nil

	case "button":
		var e ButtonHold
		if err := json.Unmarshal(env.Data, &e); err != nil {
			return nil, fmt.Errorf("unmarshal ButtonHold: %w", err)
		}
		if _, err := protocol.ParseButton(string(e.Button)); err != nil {
			return nil, err
		}
		if _, err := protocol.ParseButtonState(string(e.State)); err != nil {
			return nil, err
		}
		return e, nil

	case "manual_move":
		var e ManualMove
		if err := json.Unmarshal(env.Data, &e); err != nil {
			return nil, fmt.Errorf("unmarshal ManualMove: %w", err)
		}
		return e, nil

	case "set_config":
		var e SetConfig
		if err := json.Unmarshal(env.Data, &e); err != nil {
			return nil, fmt.Errorf("unmarshal SetConfig: %w", err)
		}
		// Validate against a scratch copy so bad values are rejected before
		// they reach the loop.
		scratch := DefaultSettings()
		if err := scratch.Apply(e); err != nil {
			return nil, fmt.Errorf("set_config: %w", err)
		}
		return e, nil

	case "reset_tracking":
		return ResetTracking{}, nil

	default:
		return nil, fmt.Errorf("unknown event type: %q", env.Type)
	}
}

// MarshalEvent serializes an Event into a JSON envelope with type discriminator
func MarshalEvent(e Event) ([]byte, error) {
	var env EventEnvelope

	marshalData := func(name string, v any) error {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", name, err)
		}
		env.Data = data
		return nil
	}

	switch e := e.(type) {
	case Connect:
		env.Type = "connect"
	case Disconnect:
		env.Type = "disconnect"
	case ResetTracking:
		env.Type = "reset_tracking"

	case Click:
		env.Type = "click"
		if err := marshalData("Click", e); err != nil {
			return nil, err
		}
	case ButtonHold:
		env.Type = "button"
		if err := marshalData("ButtonHold", e); err != nil {
			return nil, err
		}
	case ManualMove:
		env.Type = "manual_move"
		if err := marshalData("ManualMove", e); err != nil {
			return nil, err
		}
	case SetConfig:
		env.Type = "set_config"
		if err := marshalData("SetConfig", e); err != nil {
			return nil, err
		}

	default:
		return nil, fmt.Errorf("unsupported event type: %T", e)
	}

	return json.Marshal(env)
}
