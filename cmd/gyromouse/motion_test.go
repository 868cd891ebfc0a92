package main

import (
	"math"
	"testing"
	"time"

	"gyromouse/internal/protocol"
)

func testSettings(speed float64) Settings {
	s := DefaultSettings()
	s.SpeedFactor = speed
	return s
}

// feeder drives a pipeline with samples spaced exactly one update interval apart.
type feeder struct {
	p   *MotionPipeline
	at  time.Time
	cfg Settings
}

func newFeeder(speed float64) *feeder {
	return &feeder{
		p:   NewMotionPipeline(),
		at:  time.Unix(1700000000, 0),
		cfg: testSettings(speed),
	}
}

func (f *feeder) feed(s SensorSample) (PointerDelta, bool) {
	d, send := f.p.Process(f.at, s, f.cfg, true, true)
	f.at = f.at.Add(updateInterval)
	return d, send
}

func TestDeadZone(t *testing.T) {
	for _, v := range []float64{0, 0.001, -0.001, 0.0029, -0.0029} {
		if got := deadZoned(v); got != 0 {
			t.Errorf("deadZoned(%v) = %v, want 0", v, got)
		}
	}
	for _, v := range []float64{0.01, -0.5, 2} {
		if got := deadZoned(v); got != v {
			t.Errorf("deadZoned(%v) = %v, want unchanged", v, got)
		}
	}
}

// The comparison is strict: a component of exactly deadZone is kept.
func TestDeadZone_BoundaryPasses(t *testing.T) {
	for _, v := range []float64{deadZone, -deadZone} {
		if got := deadZoned(v); got != v {
			t.Errorf("deadZoned(%v) = %v, want unchanged", v, got)
		}
	}
	got := filterSample(SensorSample{X: deadZone, Z: -deadZone})
	if got.X != deadZone || got.Z != -deadZone {
		t.Fatalf("boundary sample filtered to %+v", got)
	}
}

func TestFilterSample_LeavesYUntouched(t *testing.T) {
	got := filterSample(SensorSample{X: 0.001, Y: 0.001, Z: 0.002})
	if got.X != 0 || got.Z != 0 {
		t.Fatalf("expected x and z zeroed, got %+v", got)
	}
	if got.Y != 0.001 {
		t.Fatalf("expected y to pass through, got %v", got.Y)
	}
}

func TestSampleWindow_EvictsOldest(t *testing.T) {
	var w sampleWindow
	w.push(SensorSample{X: 100})
	w.push(SensorSample{X: 1})
	w.push(SensorSample{X: 2})
	if w.len() != 3 {
		t.Fatalf("expected 3 entries, got %d", w.len())
	}

	w.push(SensorSample{X: 3})
	if w.len() != 3 {
		t.Fatalf("window grew past capacity: %d", w.len())
	}
	if got := w.mean().X; got != 2 {
		t.Fatalf("mean after 4th push = %v, want 2 (first sample evicted)", got)
	}
}

func TestSampleWindow_EmptyMeanIsZero(t *testing.T) {
	var w sampleWindow
	if m := w.mean(); m != (SensorSample{}) {
		t.Fatalf("expected zero mean, got %+v", m)
	}
}

func TestRoundHalfUp(t *testing.T) {
	cases := map[float64]int{
		-6.0000001: -6,
		-2.5:       -2,
		2.5:        3,
		-7.14:      -7,
		0.49:       0,
	}
	for in, want := range cases {
		if got := roundHalfUp(in); got != want {
			t.Errorf("roundHalfUp(%v) = %d, want %d", in, got, want)
		}
	}
}

func TestTranslateDelta_SpeedTwo(t *testing.T) {
	// multiplier 30, jitter threshold 0.1
	got := translateDelta(0.05, 0.2, 2.0)
	if got != (PointerDelta{X: -6, Y: 0}) {
		t.Fatalf("translateDelta = %+v, want {-6 0}", got)
	}
	if msg := protocol.Move(got.X, got.Y); msg != "-6,0" {
		t.Fatalf("message = %q, want %q", msg, "-6,0")
	}
}

func TestTranslateDelta_HigherSpeedIsMoreSensitive(t *testing.T) {
	// 0.05 is below the threshold at speed 2 (0.1) but above it at speed 5 (0.04).
	if d := translateDelta(0.05, 0, 2.0); d.Y != 0 {
		t.Fatalf("expected y gated at speed 2, got %+v", d)
	}
	if d := translateDelta(0.05, 0, 5.0); d.Y == 0 {
		t.Fatalf("expected y to pass at speed 5, got %+v", d)
	}
}

func TestProcess_FirstSampleEmitsExpectedDelta(t *testing.T) {
	f := newFeeder(2.0)

	// Fresh pipeline: smoothed = 0.8 * sample, so z=0.25 -> 0.2 and x=0.0625 -> 0.05.
	d, send := f.feed(SensorSample{X: 0.0625, Z: 0.25})
	if !send {
		t.Fatalf("expected first significant delta to be sent")
	}
	if d != (PointerDelta{X: -6, Y: 0}) {
		t.Fatalf("delta = %+v, want {-6 0}", d)
	}
	if got := f.p.Delta(); got != d {
		t.Fatalf("visible delta = %+v, want %+v", got, d)
	}
}

func TestProcess_RepeatedEqualDeltaNotResent(t *testing.T) {
	f := newFeeder(2.0)
	s := SensorSample{Z: 0.25}

	if d, send := f.feed(s); !send || d.X != -6 {
		t.Fatalf("sample 1: got %+v send=%v, want -6 sent", d, send)
	}
	if d, send := f.feed(s); !send || d.X != -7 {
		t.Fatalf("sample 2: got %+v send=%v, want -7 sent", d, send)
	}
	// Converging toward ~-7.4: still rounds to -7, so nothing new goes out.
	if d, send := f.feed(s); send || d.X != -7 {
		t.Fatalf("sample 3: got %+v send=%v, want -7 retained and not sent", d, send)
	}
}

func TestProcess_InsignificantSamplesCarryForward(t *testing.T) {
	f := newFeeder(2.0)

	var lastSent PointerDelta
	d, send := f.feed(SensorSample{Z: 0.25})
	if !send {
		t.Fatalf("expected initial delta to be sent")
	}
	lastSent = d

	for i := 0; i < 10; i++ {
		d, send = f.feed(SensorSample{})
		if send {
			lastSent = d
		}
	}

	if send {
		t.Fatalf("expected the settled zero sample not to be sent")
	}
	if lastSent.IsZero() {
		t.Fatalf("expected a nonzero delta to have been sent")
	}
	// Once motion stops the last nonzero delta is kept, not reset to zero.
	if got := f.p.Delta(); got != lastSent {
		t.Fatalf("delta = %+v, want carried-forward %+v", got, lastSent)
	}
	if c := f.p.Cumulative(); math.Abs(c.Z) > 1e-3 {
		t.Fatalf("expected rotation to decay toward zero, got %+v", c)
	}
}

func TestProcess_YAxisTrackedButUnused(t *testing.T) {
	a := newFeeder(2.0)
	b := newFeeder(2.0)

	da, _ := a.feed(SensorSample{X: 0.3, Y: 0, Z: 0.25})
	db, _ := b.feed(SensorSample{X: 0.3, Y: 5.0, Z: 0.25})

	if da != db {
		t.Fatalf("y changed the delta: %+v vs %+v", da, db)
	}
	// y is stored raw: neither smoothed, decayed nor dead-zoned.
	if got := b.p.Cumulative().Y; got != 5.0 {
		t.Fatalf("cumulative y = %v, want raw 5.0", got)
	}
	c := newFeeder(2.0)
	c.feed(SensorSample{Y: 0.001})
	if got := c.p.Cumulative().Y; got != 0.001 {
		t.Fatalf("cumulative y = %v, want 0.001 (no dead zone)", got)
	}
}

func TestProcess_ThrottleDropsWithoutStateChange(t *testing.T) {
	p := NewMotionPipeline()
	cfg := testSettings(2.0)
	t0 := time.Unix(1700000000, 0)

	p.Process(t0, SensorSample{Z: 0.25}, cfg, true, true)
	before := p.Cumulative()

	d, send := p.Process(t0.Add(10*time.Millisecond), SensorSample{X: 9, Z: 9}, cfg, true, true)
	if send {
		t.Fatalf("throttled sample must not be sent")
	}
	if d != (PointerDelta{X: -6}) {
		t.Fatalf("throttled sample changed delta: %+v", d)
	}
	if p.Cumulative() != before {
		t.Fatalf("throttled sample changed rotation")
	}
	if p.Raw() != (SensorSample{Z: 0.25}) {
		t.Fatalf("throttled sample changed raw reading: %+v", p.Raw())
	}

	// Exactly one interval after the last accepted sample is accepted again.
	p.Process(t0.Add(updateInterval), SensorSample{Z: 0.5}, cfg, true, true)
	if p.Raw() != (SensorSample{Z: 0.5}) {
		t.Fatalf("expected sample at +30ms to be accepted, raw=%+v", p.Raw())
	}
}

func TestProcess_DisabledOrDisconnectedOnlyUpdatesRaw(t *testing.T) {
	p := NewMotionPipeline()
	cfg := testSettings(2.0)
	t0 := time.Unix(1700000000, 0)

	s := SensorSample{X: 1, Y: 2, Z: 3}
	if _, send := p.Process(t0, s, cfg, false, true); send {
		t.Fatalf("disabled pipeline must not send")
	}
	if p.Raw() != s {
		t.Fatalf("expected raw reading to update, got %+v", p.Raw())
	}
	if _, send := p.Process(t0.Add(updateInterval), s, cfg, true, false); send {
		t.Fatalf("disconnected pipeline must not send")
	}
	if p.Cumulative() != (Rotation{}) || !p.Delta().IsZero() {
		t.Fatalf("expected no integration, got rot=%+v delta=%+v", p.Cumulative(), p.Delta())
	}
}

func TestReset_ThenZeroSampleYieldsZeroDelta(t *testing.T) {
	f := newFeeder(2.0)
	f.feed(SensorSample{X: 0.4, Z: 0.4})
	if f.p.Delta().IsZero() {
		t.Fatalf("setup: expected nonzero delta")
	}

	f.p.Reset()
	if !f.p.Delta().IsZero() || f.p.Cumulative() != (Rotation{}) || f.p.window.len() != 0 {
		t.Fatalf("reset did not clear state")
	}

	d, send := f.feed(SensorSample{})
	if send || d != (PointerDelta{}) {
		t.Fatalf("after reset: delta=%+v send=%v, want {0 0} not sent", d, send)
	}
}
