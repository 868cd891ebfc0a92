package main

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
)

// ============================================================================
// gyromouse-ctl - Command-line IPC Client
// ============================================================================
// Sends control events to the gyromouse daemon over its Unix socket.
//
// Usage:
//   gyromouse-ctl connect
//   gyromouse-ctl click left
//   gyromouse-ctl button left down
//   gyromouse-ctl set speedFactor 3.5
//   gyromouse-ctl status
//
// Options:
//   -socket PATH    Unix domain socket path (default: /tmp/gyromouse.sock)
// ============================================================================

// Event types (duplicated from the daemon for a standalone binary)
type Event interface{}

type Connect struct{}

type Disconnect struct{}

type ResetTracking struct{}

type Click struct {
	Kind string `json:"kind"`
}

type ButtonHold struct {
	Button string `json:"button"`
	State  string `json:"state"`
}

type ManualMove struct {
	DX int `json:"dx"`
	DY int `json:"dy"`
}

type SetConfig struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

type StatusRequest struct{}

// EventEnvelope wraps events for JSON
type EventEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// IPCResponse represents the daemon's response
type IPCResponse struct {
	Status   string          `json:"status"`
	Error    string          `json:"error,omitempty"`
	Snapshot json.RawMessage `json:"snapshot,omitempty"`
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

func main() {
	socketPath := "/tmp/gyromouse.sock"

	args := os.Args[1:]
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	if args[0] == "-socket" || args[0] == "--socket" {
		if len(args) < 2 {
			fail("-socket requires an argument")
		}
		socketPath = args[1]
		args = args[2:]
	}

	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	var ev Event

	switch args[0] {
	case "connect":
		ev = Connect{}

	case "disconnect":
		ev = Disconnect{}

	case "reset", "reset-tracking":
		ev = ResetTracking{}

	case "click":
		kind := "left"
		if len(args) >= 2 {
			kind = args[1]
		}
		ev = Click{Kind: kind}

	case "button":
		if len(args) < 3 {
			fail("button requires <left|right> <down|up>")
		}
		ev = ButtonHold{Button: args[1], State: args[2]}

	case "move":
		if len(args) < 3 {
			fail("move requires <dx> <dy>")
		}
		dx, err := strconv.Atoi(args[1])
		if err != nil {
			fail("invalid dx: %v", err)
		}
		dy, err := strconv.Atoi(args[2])
		if err != nil {
			fail("invalid dy: %v", err)
		}
		ev = ManualMove{DX: dx, DY: dy}

	case "set":
		if len(args) < 3 {
			fail("set requires <key> <value>")
		}
		ev = SetConfig{Key: args[1], Value: configValue(args[2])}

	case "status":
		ev = StatusRequest{}

	case "help", "-h", "--help":
		printUsage()
		os.Exit(0)

	default:
		fmt.Fprintf(os.Stderr, "error: unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}

	resp, err := sendEvent(socketPath, ev)
	if err != nil {
		fail("%v", err)
	}

	if len(resp.Snapshot) > 0 {
		var pretty map[string]any
		if err := json.Unmarshal(resp.Snapshot, &pretty); err == nil {
			out, _ := json.MarshalIndent(pretty, "", "  ")
			fmt.Println(string(out))
			return
		}
		fmt.Println(string(resp.Snapshot))
		return
	}

	fmt.Println("ok")
}

// configValue passes JSON literals (numbers, booleans) through and quotes
// everything else as a string.
func configValue(v string) json.RawMessage {
	if json.Valid([]byte(v)) {
		return json.RawMessage(v)
	}
	b, _ := json.Marshal(v)
	return b
}

func sendEvent(socketPath string, ev Event) (IPCResponse, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return IPCResponse{}, fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()

	data, err := marshalEvent(ev)
	if err != nil {
		return IPCResponse{}, fmt.Errorf("marshal event: %w", err)
	}

	if _, err := fmt.Fprintf(conn, "%s\n", data); err != nil {
		return IPCResponse{}, fmt.Errorf("send event: %w", err)
	}

	var response IPCResponse
	if err := json.NewDecoder(conn).Decode(&response); err != nil {
		return IPCResponse{}, fmt.Errorf("decode response: %w", err)
	}

	if response.Status == "error" {
		return response, fmt.Errorf("daemon error: %s", response.Error)
	}

	return response, nil
}

func marshalEvent(ev Event) ([]byte, error) {
	var env EventEnvelope

	withData := func(name string, v any) error {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", name, err)
		}
		env.Data = data
		return nil
	}

	switch e := ev.(type) {
	case Connect:
		env.Type = "connect"
	case Disconnect:
		env.Type = "disconnect"
	case ResetTracking:
		env.Type = "reset_tracking"
	case StatusRequest:
		env.Type = "status"

	case Click:
		env.Type = "click"
		if err := withData("Click", e); err != nil {
			return nil, err
		}
	case ButtonHold:
		env.Type = "button"
		if err := withData("ButtonHold", e); err != nil {
			return nil, err
		}
	case ManualMove:
		env.Type = "manual_move"
		if err := withData("ManualMove", e); err != nil {
			return nil, err
		}
	case SetConfig:
		env.Type = "set_config"
		if err := withData("SetConfig", e); err != nil {
			return nil, err
		}

	default:
		return nil, fmt.Errorf("unknown event type: %T", ev)
	}

	return json.Marshal(env)
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `gyromouse-ctl - Control the gyromouse daemon via IPC

Usage:
  gyromouse-ctl [options] <command> [args]

Options:
  -socket PATH    Unix domain socket path (default: /tmp/gyromouse.sock)

Commands:
  connect                       Connect to the configured pointer host
  disconnect                    Close the pointer host link (no reconnect)
  click [left|right|double]     Send a click (default left)
  button <left|right> <down|up> Press or release a mouse button
  move <dx> <dy>                Send a relative pointer move
  set <key> <value>             Change a setting: serverUrl, speedFactor,
                                enforceBounds, useMotionSensor, showControlPad
  reset, reset-tracking         Clear motion history and pointer delta
  status                        Print the daemon status snapshot
  help, -h, --help              Show this help message

Examples:
  gyromouse-ctl set speedFactor 3.5
  gyromouse-ctl set serverUrl ws://192.168.1.50:8080/ws
  gyromouse-ctl -socket /run/gyromouse.sock status
`)
}
