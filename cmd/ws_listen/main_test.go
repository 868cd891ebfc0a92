package main

import (
	"io"
	"log"
	"os"
	"testing"

	"gyromouse/internal/protocol"
)

func TestMain(m *testing.M) {
	log.SetOutput(io.Discard)
	os.Exit(m.Run())
}

func mustParse(t *testing.T, frame string) protocol.Message {
	t.Helper()
	m, err := protocol.Parse(frame)
	if err != nil {
		t.Fatalf("Parse(%q): %v", frame, err)
	}
	return m
}

func TestCursor_MoveAppliesSpeed(t *testing.T) {
	c := newCursor(100, 100)
	c.apply(mustParse(t, "config:speed=2"))
	c.apply(mustParse(t, "-6,3"))

	if x, y := c.position(); x != 38 || y != 56 {
		t.Fatalf("position = %d,%d want 38,56", x, y)
	}
}

func TestCursor_BoundsClampUnlessDisabled(t *testing.T) {
	c := newCursor(100, 100)
	c.apply(mustParse(t, "-500,500"))
	if x, y := c.position(); x != 0 || y != 99 {
		t.Fatalf("clamped position = %d,%d want 0,99", x, y)
	}

	c.apply(mustParse(t, "config:bounds=false"))
	c.apply(mustParse(t, "-10,10"))
	if x, y := c.position(); x != -10 || y != 109 {
		t.Fatalf("unclamped position = %d,%d want -10,109", x, y)
	}
}

func TestCursor_ButtonsAndSilent(t *testing.T) {
	c := newCursor(100, 100)
	c.apply(mustParse(t, "leftbutton:down"))
	c.apply(mustParse(t, "config:silent=true"))
	c.apply(mustParse(t, "click:double"))

	if c.buttons[protocol.ButtonLeft] != protocol.ButtonDown {
		t.Fatalf("left button = %q", c.buttons[protocol.ButtonLeft])
	}
	if !c.silent {
		t.Fatalf("silent not applied")
	}
}

func TestCursor_RecordsStabilization(t *testing.T) {
	c := newCursor(100, 100)
	c.apply(mustParse(t, "stabilize:deadzone=3"))
	c.apply(mustParse(t, "stabilize:enable=true"))
	c.apply(mustParse(t, "4,0"))

	if c.stabilization[protocol.StabilizeDeadZone] != "3" || c.stabilization[protocol.StabilizeEnable] != "true" {
		t.Fatalf("stabilization = %v", c.stabilization)
	}
	if x, _ := c.position(); x != 54 {
		t.Fatalf("x = %d, want 54", x)
	}
}
