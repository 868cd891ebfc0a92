package main

import (
	"bytes"
	"encoding/binary"
	"math"
)

// inputEvent represents a Linux input event structure
// struct input_event { struct timeval time; __u16 type; __u16 code; __s32 value; };
type inputEvent struct {
	Sec   int64
	Usec  int64
	Type  uint16
	Code  uint16
	Value int32
}

var inputEventSize = binary.Size(inputEvent{})

// decodeInputEvents splits buf into input events. A trailing partial event is
// ignored.
func decodeInputEvents(buf []byte) []inputEvent {
	n := len(buf) / inputEventSize
	evs := make([]inputEvent, 0, n)
	reader := bytes.NewReader(nil)
	for i := 0; i < n; i++ {
		reader.Reset(buf[i*inputEventSize : (i+1)*inputEventSize])
		var ev inputEvent
		if err := binary.Read(reader, binary.LittleEndian, &ev); err != nil {
			// Skip malformed events
			continue
		}
		evs = append(evs, ev)
	}
	return evs
}

// gyroAssembler collects ABS_RX/RY/RZ updates and emits one sample per
// SYN_REPORT. Axes that did not change in a frame keep their last value, as
// evdev only reports changes.
type gyroAssembler struct {
	// units per deg/s, per axis (from EVIOCGABS resolution)
	resX, resY, resZ float64

	rx, ry, rz int32
	dirty      bool
}

func newGyroAssembler(resX, resY, resZ float64) *gyroAssembler {
	fix := func(r float64) float64 {
		if r <= 0 {
			return 1
		}
		return r
	}
	return &gyroAssembler{resX: fix(resX), resY: fix(resY), resZ: fix(resZ)}
}

const degToRad = math.Pi / 180

// feed consumes one event and reports a completed sample on SYN_REPORT.
func (a *gyroAssembler) feed(ev inputEvent) (SensorSample, bool) {
	switch ev.Type {
	case EV_ABS:
		switch ev.Code {
		case ABS_RX:
			a.rx = ev.Value
		case ABS_RY:
			a.ry = ev.Value
		case ABS_RZ:
			a.rz = ev.Value
		default:
			return SensorSample{}, false
		}
		a.dirty = true

	case EV_SYN:
		if ev.Code != SYN_REPORT || !a.dirty {
			return SensorSample{}, false
		}
		a.dirty = false
		return SensorSample{
			X: float64(a.rx) / a.resX * degToRad,
			Y: float64(a.ry) / a.resY * degToRad,
			Z: float64(a.rz) / a.resZ * degToRad,
		}, true
	}
	return SensorSample{}, false
}
