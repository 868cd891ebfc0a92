package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gyromouse/internal/protocol"
)

// ============================================================================
// Central Daemon Loop
// ============================================================================
//
// The daemon goroutine exclusively owns the settings, the motion pipeline,
// the connection manager and config sync. Everything else (IPC handlers,
// the status server, dialers, transport readers, reconnect timers, sensor
// readers) talks to it through channels and never touches this state.
//
// Each event is handled to completion before the next one is read.
//
// ============================================================================

// Daemon is the single event loop of the gyromouse service.
type Daemon struct {
	logger *slog.Logger
	now    func() time.Time

	settings Settings
	pipeline *MotionPipeline
	conn     *ConnectionManager
	sync     *ConfigSync

	source       SensorSource
	samples      chan SensorSample
	sensorCancel context.CancelFunc
	sensorGen    uint64
	sensorFailed bool

	internal   chan Event
	stopped    chan struct{}
	broadcasts chan<- StatusBroadcast

	lastError string
}

// DaemonConfig wires a Daemon.
type DaemonConfig struct {
	Settings Settings
	Dialer   Dialer
	Source   SensorSource // nil disables motion input

	// Broadcasts receives status changes. Sends never block; nil disables.
	Broadcasts chan<- StatusBroadcast

	// Optional overrides for tests.
	Scheduler Scheduler
	Now       func() time.Time
}

func NewDaemon(cfg DaemonConfig, logger *slog.Logger) *Daemon {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	d := &Daemon{
		logger:     logger,
		now:        now,
		settings:   cfg.Settings,
		pipeline:   NewMotionPipeline(),
		source:     cfg.Source,
		samples:    make(chan SensorSample, 64),
		internal:   make(chan Event, 16),
		stopped:    make(chan struct{}),
		broadcasts: cfg.Broadcasts,
	}

	d.conn = NewConnectionManager(ConnectionManagerConfig{
		Dialer:         cfg.Dialer,
		Scheduler:      cfg.Scheduler,
		Post:           d.post,
		Settings:       func() Settings { return d.settings },
		OnState:        d.onConnState,
		OnConnectError: d.onConnectError,
	}, logger)
	d.sync = NewConfigSync(d.conn, logger)

	return d
}

// post delivers an internal event. It gives up once the loop has exited.
func (d *Daemon) post(ev Event) {
	select {
	case d.internal <- ev:
	case <-d.stopped:
	}
}

// Run processes events until ctx is canceled or events is closed.
func (d *Daemon) Run(ctx context.Context, events <-chan Event) error {
	defer close(d.stopped)
	defer d.shutdown()

	d.logger.Info("daemon starting",
		"server_url", d.settings.ServerURL,
		"speed_factor", d.settings.SpeedFactor,
		"use_motion_sensor", d.settings.UseMotionSensor)

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("daemon stopping (context canceled)")
			return nil

		case ev, ok := <-events:
			if !ok {
				d.logger.Info("daemon stopping (events channel closed)")
				return nil
			}
			d.handleControl(ctx, ev)

		case ev := <-d.internal:
			d.handleInternal(ctx, ev)

		case s := <-d.samples:
			d.handleSample(s)
		}

		d.syncSensor(ctx)
	}
}

func (d *Daemon) shutdown() {
	d.stopSensor()
	d.conn.Shutdown()
}

func (d *Daemon) handleControl(ctx context.Context, ev Event) {
	switch ev := ev.(type) {
	case Connect:
		d.conn.Connect(ctx)

	case Disconnect:
		if err := d.conn.Disconnect(); err != nil {
			d.logger.Debug("disconnect ignored", "error", err)
		}

	case Click:
		if !d.conn.Send(protocol.Click(ev.Kind)) {
			d.logger.Debug("click dropped", "kind", ev.Kind, "state", d.conn.State())
		}

	case ButtonHold:
		if !d.conn.Send(protocol.Hold(ev.Button, ev.State)) {
			d.logger.Debug("button hold dropped", "button", ev.Button, "state", ev.State)
		}

	case ManualMove:
		if !d.conn.Send(protocol.Move(ev.DX, ev.DY)) {
			d.logger.Debug("manual move dropped", "dx", ev.DX, "dy", ev.DY)
		}

	case SetConfig:
		d.applyConfig(ev)

	case ResetTracking:
		d.pipeline.Reset()
		d.publish(BroadcastPointerDelta{Delta: d.pipeline.Delta(), At: d.now()})

	case RequestStatus:
		select {
		case ev.Reply <- d.snapshot():
		default:
			d.logger.Warn("status reply dropped (reply channel full)")
		}

	default:
		d.logger.Warn("unhandled event", "type", fmt.Sprintf("%T", ev))
	}
}

func (d *Daemon) handleInternal(ctx context.Context, ev Event) {
	if d.conn.Handle(ctx, ev) {
		return
	}

	switch ev := ev.(type) {
	case sensorStopped:
		if ev.gen != d.sensorGen || d.sensorCancel == nil {
			return
		}
		// The source ended on its own; keep it off until the next enable/open.
		d.sensorCancel()
		d.sensorCancel = nil
		d.sensorFailed = true
		if ev.err != nil {
			d.logger.Error("motion sensor failed", "error", ev.err)
		} else {
			d.logger.Warn("motion sensor ended")
		}
	}
}

func (d *Daemon) handleSample(s SensorSample) {
	// Samples queued before the sensor stopped are stale.
	if d.sensorCancel == nil {
		return
	}
	before := d.pipeline.Delta()

	delta, send := d.pipeline.Process(d.now(), s, d.settings, d.settings.UseMotionSensor, d.conn.State() == StateOpen)
	if send {
		d.conn.Send(protocol.Move(delta.X, delta.Y))
	}

	at := d.now()
	d.publish(BroadcastSensorReading{Sample: d.pipeline.Raw(), At: at})
	if d.pipeline.Delta() != before {
		d.publish(BroadcastPointerDelta{Delta: d.pipeline.Delta(), At: at})
	}
}

func (d *Daemon) applyConfig(c SetConfig) {
	if err := d.settings.Apply(c); err != nil {
		d.logger.Warn("config change rejected", "key", c.Key, "error", err)
		return
	}
	d.logger.Info("config changed", "key", c.Key, "value", string(c.Value))

	d.sync.Update(d.now(), c.Key, d.settings)
	d.publish(BroadcastSettings{Settings: d.settings, At: d.now()})
}

// syncSensor runs the sensor subscription only while motion input is enabled
// and the link is open. Stopping never clears the pointer delta.
func (d *Daemon) syncSensor(ctx context.Context) {
	if d.source == nil {
		return
	}

	base := d.settings.UseMotionSensor && d.conn.State() == StateOpen
	if !base {
		// A failed sensor gets another chance on the next enable/open.
		d.sensorFailed = false
	}
	want := base && !d.sensorFailed

	running := d.sensorCancel != nil
	switch {
	case want && !running:
		sctx, cancel := context.WithCancel(ctx)
		d.sensorCancel = cancel
		d.sensorGen++
		gen := d.sensorGen

		d.source.SetInterval(updateInterval)
		go func() {
			err := d.source.Run(sctx, d.samples)
			if sctx.Err() != nil {
				err = nil
			}
			d.post(sensorStopped{gen: gen, err: err})
		}()
		d.logger.Info("motion sensor started")

	case !want && running:
		d.stopSensor()
		d.logger.Info("motion sensor stopped")
	}
}

func (d *Daemon) stopSensor() {
	if d.sensorCancel != nil {
		d.sensorCancel()
		d.sensorCancel = nil
	}
}

func (d *Daemon) onConnState(s ConnState) {
	d.publish(BroadcastConnState{State: s, Attempts: d.conn.Attempts(), At: d.now()})
}

func (d *Daemon) onConnectError(err *TransportError) {
	d.lastError = err.Error()
	d.publish(BroadcastConnectError{URL: err.URL, Error: err.Err.Error(), At: d.now()})
}

func (d *Daemon) snapshot() StatusSnapshot {
	return StatusSnapshot{
		State:             d.conn.State(),
		ReconnectAttempts: d.conn.Attempts(),
		Delta:             d.pipeline.Delta(),
		Raw:               d.pipeline.Raw(),
		Settings:          d.settings,
		SensorActive:      d.sensorCancel != nil,
		LastError:         d.lastError,
	}
}

// publish emits a status change without blocking the loop.
func (d *Daemon) publish(b StatusBroadcast) {
	if d.broadcasts == nil {
		return
	}
	select {
	case d.broadcasts <- b:
	default:
		d.logger.Debug("status broadcast dropped (queue full)")
	}
}
