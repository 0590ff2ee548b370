package modbus

import (
	"testing"
	"time"
)

var baseTime = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestCorrelatorS1Pairing(t *testing.T) {
	c := NewCorrelator()
	req := Decode(frameFromHex(t, "01 03 00 00 00 02 C4 0B"))
	if ups := c.Feed(req); len(ups) != 0 {
		t.Fatalf("request should not emit updates, got %v", ups)
	}
	resp := Decode(frameFromHex(t, "01 03 04 00 0A 00 14 DA 3E"))
	ups := c.Feed(resp)
	if len(ups) != 2 {
		t.Fatalf("got %d updates, want 2", len(ups))
	}
	if ups[0].Register != 0 || ups[0].Value != 10 || ups[1].Register != 1 || ups[1].Value != 20 {
		t.Fatalf("updates = %+v", ups)
	}
	if ups[0].CorrelationMissed {
		t.Fatal("should not be flagged as correlation-missed")
	}
}

func TestCorrelatorS4NoPendingRequest(t *testing.T) {
	c := NewCorrelator()
	resp := Decode(frameFromHex(t, "02 03 02 00 FF BC 04"))
	ups := c.Feed(resp)
	if len(ups) != 1 || ups[0].Register != 0 || ups[0].Value != 255 {
		t.Fatalf("updates = %+v", ups)
	}
	if !ups[0].CorrelationMissed {
		t.Fatal("expected CorrelationMissed flag")
	}
}

func TestCorrelatorTTLExpiry(t *testing.T) {
	c := NewCorrelator()
	clock := baseTime
	c.now = func() time.Time { return clock }

	req := Decode(frameFromHex(t, "01 03 00 00 00 02 C4 0B"))
	c.Feed(req)

	clock = clock.Add(5*time.Second + time.Millisecond)
	resp := Decode(frameFromHex(t, "01 03 04 00 0A 00 14 DA 3E"))
	ups := c.Feed(resp)
	if len(ups) != 2 || !ups[0].CorrelationMissed {
		t.Fatalf("expected an expired pending request to miss correlation, got %+v", ups)
	}
}

func TestCorrelatorFC06Bypass(t *testing.T) {
	c := NewCorrelator()
	d := Decode(frameFromHex(t, "01 06 00 05 00 64 98 20"))
	ups := c.Feed(d)
	if len(ups) != 1 || ups[0].Register != 5 || ups[0].Value != 100 {
		t.Fatalf("updates = %+v", ups)
	}
}

func TestCorrelatorS6FC16(t *testing.T) {
	c := NewCorrelator()
	d := Decode(frameFromHex(t, "01 10 00 10 00 02 04 00 01 00 02 22 A2"))
	ups := c.Feed(d)
	if len(ups) != 2 || ups[0].Register != 0x10 || ups[0].Value != 1 || ups[1].Register != 0x11 || ups[1].Value != 2 {
		t.Fatalf("updates = %+v", ups)
	}
}
