package main

import (
	"math"
	"time"
)

// SensorSample is one raw angular-velocity reading in rad/s.
//
// X is pitch (drives vertical pointer motion), Z is yaw (drives horizontal
// pointer motion). Y (roll) is carried through the pipeline but does not
// contribute to the pointer delta.
type SensorSample struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Rotation is the smoothed, decayed rotation estimate.
type Rotation struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// PointerDelta is an integer relative pointer movement.
type PointerDelta struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// IsZero reports whether both components are zero.
func (d PointerDelta) IsZero() bool { return d.X == 0 && d.Y == 0 }

// deadZoned zeroes a component whose magnitude is below the dead zone.
func deadZoned(v float64) float64 {
	if math.Abs(v) < deadZone {
		return 0
	}
	return v
}

// filterSample applies the dead zone to x and z. Y is left untouched.
func filterSample(s SensorSample) SensorSample {
	return SensorSample{
		X: deadZoned(s.X),
		Y: s.Y,
		Z: deadZoned(s.Z),
	}
}

// sampleWindow is a bounded FIFO of filtered samples.
type sampleWindow struct {
	buf [bufferSize]SensorSample
	n   int
}

// push appends s, evicting the oldest entry when full.
func (w *sampleWindow) push(s SensorSample) {
	if w.n < len(w.buf) {
		w.buf[w.n] = s
		w.n++
		return
	}
	copy(w.buf[:], w.buf[1:])
	w.buf[len(w.buf)-1] = s
}

func (w *sampleWindow) len() int { return w.n }

// mean returns the per-axis arithmetic mean of the window contents.
// An empty window yields the zero sample.
func (w *sampleWindow) mean() SensorSample {
	if w.n == 0 {
		return SensorSample{}
	}
	var sum SensorSample
	for _, s := range w.buf[:w.n] {
		sum.X += s.X
		sum.Y += s.Y
		sum.Z += s.Z
	}
	n := float64(w.n)
	return SensorSample{X: sum.X / n, Y: sum.Y / n, Z: sum.Z / n}
}

func (w *sampleWindow) reset() { *w = sampleWindow{} }

// rotationIntegrator is a leaky integrator over the window mean.
type rotationIntegrator struct {
	cum Rotation
}

// step smooths the mean against the previous estimate, decays the result and
// stores it. It returns the smoothed (pre-decay) x and z used for translation.
//
// The stored y is the raw sample's y, neither smoothed nor decayed.
func (r *rotationIntegrator) step(mean SensorSample, raw SensorSample) (smoothedX, smoothedZ float64) {
	smoothedX = mean.X*smoothFactor + r.cum.X*(1-smoothFactor)
	smoothedZ = mean.Z*smoothFactor + r.cum.Z*(1-smoothFactor)

	r.cum = Rotation{
		X: smoothedX * decayFactor,
		Y: raw.Y,
		Z: smoothedZ * decayFactor,
	}
	return smoothedX, smoothedZ
}

func (r *rotationIntegrator) reset() { r.cum = Rotation{} }

// roundHalfUp rounds half-way values toward positive infinity (-2.5 -> -2, 2.5 -> 3).
func roundHalfUp(v float64) int {
	return int(math.Floor(v + 0.5))
}

// translateDelta maps smoothed rotation to a pointer delta.
// Horizontal motion comes from z, vertical from x; both are inverted.
func translateDelta(smoothedX, smoothedZ, speed float64) PointerDelta {
	multiplier := baseMultiplier * speed
	threshold := baseJitterThreshold / speed

	var d PointerDelta
	if math.Abs(smoothedZ) >= threshold {
		d.X = roundHalfUp(smoothedZ * -multiplier)
	}
	if math.Abs(smoothedX) >= threshold {
		d.Y = roundHalfUp(smoothedX * -multiplier)
	}
	return d
}

// gateDelta applies the significance rule. An all-zero computed delta keeps
// the previous delta instead of resetting it.
func gateDelta(computed, previous PointerDelta) (next PointerDelta, significant bool) {
	if computed.IsZero() {
		return previous, false
	}
	return computed, true
}

// MotionPipeline converts raw gyro samples into pointer deltas.
//
// It is owned by the daemon loop and is not safe for concurrent use.
type MotionPipeline struct {
	window     sampleWindow
	integrator rotationIntegrator

	delta PointerDelta
	raw   SensorSample

	lastAccepted time.Time
}

// NewMotionPipeline returns a pipeline with empty history.
func NewMotionPipeline() *MotionPipeline {
	return &MotionPipeline{}
}

// Process feeds one sample observed at time at.
//
// Samples arriving less than updateInterval after the previous accepted
// sample are dropped without any state change. An accepted sample always
// updates the raw reading; filtering and emission only happen while enabled
// and connected.
//
// The returned bool reports whether the returned delta should be sent.
func (p *MotionPipeline) Process(at time.Time, s SensorSample, cfg Settings, enabled, connected bool) (PointerDelta, bool) {
	if !p.lastAccepted.IsZero() && at.Sub(p.lastAccepted) < updateInterval {
		return p.delta, false
	}
	p.lastAccepted = at
	p.raw = s

	if !enabled || !connected {
		return p.delta, false
	}

	filtered := filterSample(s)
	p.window.push(filtered)

	sx, sz := p.integrator.step(p.window.mean(), s)

	next, significant := gateDelta(translateDelta(sx, sz, cfg.SpeedFactor), p.delta)
	if next == p.delta {
		return p.delta, false
	}

	p.delta = next
	return p.delta, significant
}

// Reset clears the history, the rotation estimate and the pointer delta.
// The throttle timestamp and raw reading are kept.
func (p *MotionPipeline) Reset() {
	p.window.reset()
	p.integrator.reset()
	p.delta = PointerDelta{}
}

// Delta returns the last emitted-or-retained delta.
func (p *MotionPipeline) Delta() PointerDelta { return p.delta }

// Raw returns the last accepted raw sample.
func (p *MotionPipeline) Raw() SensorSample { return p.raw }

// Cumulative returns the current rotation estimate.
func (p *MotionPipeline) Cumulative() Rotation { return p.integrator.cum }
