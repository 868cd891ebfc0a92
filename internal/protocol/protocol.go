// Package protocol implements the text wire grammar spoken between the
// gyromouse daemon and a pointer host.
//
// Every message is a single ASCII WebSocket text frame without newlines:
//
//	<dx>,<dy>                      relative pointer movement
//	click:left|right|double        click
//	leftbutton:down|up             left button hold (drag)
//	rightbutton:down|up            right button hold
//	config:speed=<float>           host-side speed factor
//	config:bounds=<true|false>     clamp the cursor to the screen
//	config:silent=<true|false>     host-side logging (host extension)
//	stabilize:<key>=<value>        host-side stabilization (host extension)
//
// Stabilization keys are deadzone (int), smoothing (float) and the booleans
// jiggle, drift and enable. The daemon never sends them; Parse accepts them
// so a host can share the decoder.
//
// No inbound messages are defined; the link is fire-and-forget.
package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Kind identifies the category of a parsed message.
type Kind int

const (
	KindMove Kind = iota
	KindClick
	KindButton
	KindConfig
	KindStabilize
)

func (k Kind) String() string {
	switch k {
	case KindMove:
		return "move"
	case KindClick:
		return "click"
	case KindButton:
		return "button"
	case KindConfig:
		return "config"
	case KindStabilize:
		return "stabilize"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ClickKind is a click operation understood by the host.
type ClickKind string

const (
	ClickLeft   ClickKind = "left"
	ClickRight  ClickKind = "right"
	ClickDouble ClickKind = "double"
)

// Button selects which mouse button a hold message refers to.
type Button string

const (
	ButtonLeft  Button = "left"
	ButtonRight Button = "right"
)

// ButtonState is the pressed state carried by a button hold message.
type ButtonState string

const (
	ButtonDown ButtonState = "down"
	ButtonUp   ButtonState = "up"
)

// Config keys carried by config:key=value messages.
const (
	ConfigSpeed  = "speed"
	ConfigBounds = "bounds"
	ConfigSilent = "silent"
)

// Stabilization keys carried by stabilize:key=value messages.
const (
	StabilizeDeadZone  = "deadzone"
	StabilizeSmoothing = "smoothing"
	StabilizeJiggle    = "jiggle"
	StabilizeDrift     = "drift"
	StabilizeEnable    = "enable"
)

const (
	clickPrefix     = "click:"
	configPrefix    = "config:"
	stabilizePrefix = "stabilize:"
	buttonSuffix    = "button:"
)

var (
	// ErrMalformed is returned when a frame does not match any message form.
	ErrMalformed = errors.New("malformed message")

	// ErrUnknownKey is returned for config or stabilize messages with an
	// unsupported key.
	ErrUnknownKey = errors.New("unknown config key")
)

// ParseClickKind validates a click kind.
func ParseClickKind(s string) (ClickKind, error) {
	switch k := ClickKind(s); k {
	case ClickLeft, ClickRight, ClickDouble:
		return k, nil
	default:
		return "", fmt.Errorf("%w: unknown click type %q", ErrMalformed, s)
	}
}

// ParseButton validates a button name.
func ParseButton(s string) (Button, error) {
	switch b := Button(s); b {
	case ButtonLeft, ButtonRight:
		return b, nil
	default:
		return "", fmt.Errorf("%w: unknown button %q", ErrMalformed, s)
	}
}

// ParseButtonState validates a button state.
func ParseButtonState(s string) (ButtonState, error) {
	switch st := ButtonState(s); st {
	case ButtonDown, ButtonUp:
		return st, nil
	default:
		return "", fmt.Errorf("%w: unknown button state %q", ErrMalformed, s)
	}
}

// Move formats a pointer delta message.
func Move(dx, dy int) string {
	return strconv.Itoa(dx) + "," + strconv.Itoa(dy)
}

// Click formats a click message.
func Click(k ClickKind) string {
	return clickPrefix + string(k)
}

// Hold formats a button hold message.
func Hold(b Button, s ButtonState) string {
	return string(b) + buttonSuffix + string(s)
}

// SpeedConfig formats a speed factor config message using the shortest
// representation of v ("2", "2.5", "0.75").
func SpeedConfig(v float64) string {
	return configPrefix + ConfigSpeed + "=" + strconv.FormatFloat(v, 'f', -1, 64)
}

// BoundsConfig formats a bounds enforcement config message.
func BoundsConfig(enforce bool) string {
	return configPrefix + ConfigBounds + "=" + strconv.FormatBool(enforce)
}

// Message is a decoded frame. Only the fields relevant to Kind are set.
type Message struct {
	Kind Kind

	DX, DY int

	Click ClickKind

	Button Button
	State  ButtonState

	Key   string
	Value string
}

// String re-encodes the message in wire form.
func (m Message) String() string {
	switch m.Kind {
	case KindMove:
		return Move(m.DX, m.DY)
	case KindClick:
		return Click(m.Click)
	case KindButton:
		return Hold(m.Button, m.State)
	case KindConfig:
		return configPrefix + m.Key + "=" + m.Value
	case KindStabilize:
		return stabilizePrefix + m.Key + "=" + m.Value
	default:
		return ""
	}
}

// Parse decodes a single frame.
func Parse(frame string) (Message, error) {
	switch {
	case strings.HasPrefix(frame, clickPrefix):
		k, err := ParseClickKind(strings.TrimPrefix(frame, clickPrefix))
		if err != nil {
			return Message{}, err
		}
		return Message{Kind: KindClick, Click: k}, nil

	case strings.HasPrefix(frame, configPrefix):
		return parseConfig(strings.TrimPrefix(frame, configPrefix))

	case strings.HasPrefix(frame, stabilizePrefix):
		return parseStabilize(strings.TrimPrefix(frame, stabilizePrefix))

	case strings.Contains(frame, buttonSuffix):
		name, state, _ := strings.Cut(frame, buttonSuffix)
		b, err := ParseButton(name)
		if err != nil {
			return Message{}, err
		}
		st, err := ParseButtonState(state)
		if err != nil {
			return Message{}, err
		}
		return Message{Kind: KindButton, Button: b, State: st}, nil
	}

	xs, ys, ok := strings.Cut(frame, ",")
	if !ok || strings.Contains(ys, ",") {
		return Message{}, fmt.Errorf("%w: expected 'dx,dy', 'click:type', '<button>button:state', 'config:key=value' or 'stabilize:key=value', got %q", ErrMalformed, frame)
	}
	dx, err := strconv.Atoi(xs)
	if err != nil {
		return Message{}, fmt.Errorf("%w: x delta: %v", ErrMalformed, err)
	}
	dy, err := strconv.Atoi(ys)
	if err != nil {
		return Message{}, fmt.Errorf("%w: y delta: %v", ErrMalformed, err)
	}
	return Message{Kind: KindMove, DX: dx, DY: dy}, nil
}

func parseConfig(body string) (Message, error) {
	key, value, ok := strings.Cut(body, "=")
	if !ok || strings.Contains(value, "=") {
		return Message{}, fmt.Errorf("%w: expected 'config:key=value', got %q", ErrMalformed, body)
	}

	switch key {
	case ConfigSpeed:
		if _, err := strconv.ParseFloat(value, 64); err != nil {
			return Message{}, fmt.Errorf("%w: speed: %v", ErrMalformed, err)
		}
	case ConfigBounds, ConfigSilent:
		if _, err := strconv.ParseBool(value); err != nil {
			return Message{}, fmt.Errorf("%w: %s: %v", ErrMalformed, key, err)
		}
	default:
		return Message{}, fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}

	return Message{Kind: KindConfig, Key: key, Value: value}, nil
}

func parseStabilize(body string) (Message, error) {
	key, value, ok := strings.Cut(body, "=")
	if !ok || strings.Contains(value, "=") {
		return Message{}, fmt.Errorf("%w: expected 'stabilize:key=value', got %q", ErrMalformed, body)
	}

	var err error
	switch key {
	case StabilizeDeadZone:
		_, err = strconv.Atoi(value)
	case StabilizeSmoothing:
		_, err = strconv.ParseFloat(value, 64)
	case StabilizeJiggle, StabilizeDrift, StabilizeEnable:
		_, err = strconv.ParseBool(value)
	default:
		return Message{}, fmt.Errorf("%w: stabilize %q", ErrUnknownKey, key)
	}
	if err != nil {
		return Message{}, fmt.Errorf("%w: %s: %v", ErrMalformed, key, err)
	}

	return Message{Kind: KindStabilize, Key: key, Value: value}, nil
}
