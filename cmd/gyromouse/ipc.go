package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"
)

// ============================================================================
// IPC Server - Unix Domain Socket Interface
// ============================================================================
// Presentation clients (gyromouse-ctl, a UI shell, scripts) control the
// daemon through a Unix domain socket.
//
// Protocol: Line-delimited JSON
//   - Client sends: {"type": "event_name", "data": {...}}
//   - Server responds: {"status": "ok"} or {"status": "error", "error": "msg"}
//
// The "status" request is answered with {"status": "ok", "snapshot": {...}}.
// ============================================================================

// IPCResponse represents the response sent back to IPC clients
type IPCResponse struct {
	Status   string          `json:"status"`          // "ok" or "error"
	Error    string          `json:"error,omitempty"` // error message if status == "error"
	Snapshot *StatusSnapshot `json:"snapshot,omitempty"`
}

const ipcStatusTimeout = time.Second

// runIPCServer serves the control socket until ctx is canceled.
func runIPCServer(ctx context.Context, socketPath string, events chan<- Event, logger *slog.Logger) error {
	// Remove a stale socket from a previous run
	if err := os.RemoveAll(socketPath); err != nil {
		return fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", socketPath, err)
	}
	defer listener.Close()
	defer os.Remove(socketPath)

	if err := os.Chmod(socketPath, 0660); err != nil {
		return fmt.Errorf("chmod socket: %w", err)
	}

	logger.Info("IPC listening", "socket", socketPath)

	// Closing the listener unblocks Accept().
	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				logger.Debug("IPC listener closed (shutdown)")
				return nil
			}
			if errors.Is(err, net.ErrClosed) || strings.Contains(err.Error(), "use of closed network connection") {
				logger.Debug("IPC listener closed")
				return nil
			}

			logger.Error("IPC accept error", "error", err)
			continue
		}

		go handleIPCConnection(ctx, conn, events, logger)
	}
}

// handleIPCConnection handles a single IPC connection
func handleIPCConnection(ctx context.Context, conn net.Conn, events chan<- Event, logger *slog.Logger) {
	defer conn.Close()

	logger.Debug("IPC connection", "remote_addr", conn.RemoteAddr())

	scanner := bufio.NewScanner(conn)
	encoder := json.NewEncoder(conn)

	respond := func(resp IPCResponse) {
		if err := encoder.Encode(resp); err != nil {
			logger.Error("IPC failed to send response", "error", err)
		}
	}

	for scanner.Scan() {
		line := scanner.Bytes()
		logger.Debug("IPC received", "line", string(line))

		if isStatusRequest(line) {
			snap, err := requestStatus(ctx, events, ipcStatusTimeout)
			if err != nil {
				respond(IPCResponse{Status: "error", Error: err.Error()})
				continue
			}
			respond(IPCResponse{Status: "ok", Snapshot: &snap})
			continue
		}

		ev, err := UnmarshalEvent(line)
		if err != nil {
			respond(IPCResponse{Status: "error", Error: fmt.Sprintf("parse event: %v", err)})
			continue
		}

		select {
		case events <- ev:
			respond(IPCResponse{Status: "ok"})
		default:
			respond(IPCResponse{Status: "error", Error: "event queue full"})
		}
	}

	logger.Debug("IPC connection closed")
}

func isStatusRequest(line []byte) bool {
	var env EventEnvelope
	if err := json.Unmarshal(line, &env); err != nil {
		return false
	}
	return env.Type == "status"
}

// requestStatus asks the daemon loop for a snapshot.
func requestStatus(ctx context.Context, events chan<- Event, timeout time.Duration) (StatusSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	reply := make(chan StatusSnapshot, 1)
	select {
	case events <- RequestStatus{Reply: reply}:
	case <-ctx.Done():
		return StatusSnapshot{}, fmt.Errorf("status request: %w", ctx.Err())
	}

	select {
	case snap := <-reply:
		return snap, nil
	case <-ctx.Done():
		return StatusSnapshot{}, fmt.Errorf("status reply: %w", ctx.Err())
	}
}
