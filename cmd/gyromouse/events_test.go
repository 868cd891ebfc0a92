package main

import (
	"encoding/json"
	"testing"

	"gyromouse/internal/protocol"
)

func TestUnmarshalEvent_AllTypes(t *testing.T) {
	cases := []struct {
		in   string
		want Event
	}{
		{`{"type":"connect"}`, Connect{}},
		{`{"type":"disconnect"}`, Disconnect{}},
		{`{"type":"reset_tracking"}`, ResetTracking{}},
		{`{"type":"click","data":{"kind":"double"}}`, Click{Kind: protocol.ClickDouble}},
		{`{"type":"button","data":{"button":"right","state":"down"}}`, ButtonHold{Button: protocol.ButtonRight, State: protocol.ButtonDown}},
		{`{"type":"manual_move","data":{"dx":-3,"dy":4}}`, ManualMove{DX: -3, DY: 4}},
	}

	for _, tc := range cases {
		got, err := UnmarshalEvent([]byte(tc.in))
		if err != nil {
			t.Fatalf("UnmarshalEvent(%s): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("UnmarshalEvent(%s) = %#v, want %#v", tc.in, got, tc.want)
		}
	}
}

func TestUnmarshalEvent_SetConfig(t *testing.T) {
	got, err := UnmarshalEvent([]byte(`{"type":"set_config","data":{"key":"speedFactor","value":3.5}}`))
	if err != nil {
		t.Fatalf("UnmarshalEvent: %v", err)
	}
	sc, ok := got.(SetConfig)
	if !ok {
		t.Fatalf("got %T, want SetConfig", got)
	}
	if sc.Key != KeySpeedFactor || string(sc.Value) != "3.5" {
		t.Fatalf("unexpected SetConfig: key=%s value=%s", sc.Key, sc.Value)
	}
}

func TestUnmarshalEvent_Rejects(t *testing.T) {
	bad := []string{
		`not json`,
		`{"type":"volume_step"}`,
		`{"type":"click","data":{"kind":"middle"}}`,
		`{"type":"button","data":{"button":"middle","state":"down"}}`,
		`{"type":"button","data":{"button":"left","state":"pressed"}}`,
		`{"type":"manual_move","data":{"dx":"a"}}`,
		`{"type":"set_config","data":{"key":"volume","value":1}}`,
		`{"type":"set_config","data":{"key":"serverUrl","value":"http://host"}}`,
		`{"type":"set_config","data":{"key":"enforceBounds","value":"yes"}}`,
	}
	for _, in := range bad {
		if ev, err := UnmarshalEvent([]byte(in)); err == nil {
			t.Errorf("UnmarshalEvent(%s) = %#v, expected error", in, ev)
		}
	}
}

func TestMarshalEvent_RoundTrip(t *testing.T) {
	events := []Event{
		Connect{},
		Disconnect{},
		ResetTracking{},
		Click{Kind: protocol.ClickLeft},
		ButtonHold{Button: protocol.ButtonLeft, State: protocol.ButtonUp},
		ManualMove{DX: 10, DY: -10},
	}
	for _, ev := range events {
		b, err := MarshalEvent(ev)
		if err != nil {
			t.Fatalf("MarshalEvent(%T): %v", ev, err)
		}
		got, err := UnmarshalEvent(b)
		if err != nil {
			t.Fatalf("UnmarshalEvent(%s): %v", b, err)
		}
		if got != ev {
			t.Fatalf("round trip %T: got %#v", ev, got)
		}
	}

	b, err := MarshalEvent(SetConfig{Key: KeyEnforceBounds, Value: json.RawMessage(`false`)})
	if err != nil {
		t.Fatalf("MarshalEvent(SetConfig): %v", err)
	}
	if _, err := UnmarshalEvent(b); err != nil {
		t.Fatalf("SetConfig round trip: %v", err)
	}
}

func TestMarshalEvent_InternalEventsUnsupported(t *testing.T) {
	if _, err := MarshalEvent(reconnectDue{gen: 1}); err == nil {
		t.Fatalf("expected error for internal event")
	}
	if _, err := MarshalEvent(RequestStatus{}); err == nil {
		t.Fatalf("expected error for RequestStatus")
	}
}
