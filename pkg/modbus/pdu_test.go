package modbus

import "testing"

func frameFromHex(t *testing.T, s string) Frame {
	t.Helper()
	raw := hexBytes(t, s)
	frames, leftover, _ := Split(raw)
	if len(frames) != 1 || len(leftover) != 0 {
		t.Fatalf("fixture %q did not parse to exactly one frame: frames=%v leftover=%x", s, frames, leftover)
	}
	return frames[0]
}

func TestDecodeFC03Request(t *testing.T) {
	f := frameFromHex(t, "01 03 00 00 00 02 C4 0B")
	d := Decode(f)
	if d.Type != FrameRequest || d.StartAddress != 0 || d.Quantity != 2 {
		t.Fatalf("decode = %+v", d)
	}
}

func TestDecodeFC03Response(t *testing.T) {
	f := frameFromHex(t, "01 03 04 00 0A 00 14 DA 3E")
	d := Decode(f)
	if d.Type != FrameResponse {
		t.Fatalf("type = %v", d.Type)
	}
	if len(d.RegisterVals) != 2 || d.RegisterVals[0] != 10 || d.RegisterVals[1] != 20 {
		t.Fatalf("registers = %v", d.RegisterVals)
	}
}

func TestDecodeException(t *testing.T) {
	f := frameFromHex(t, "01 83 02 C0 F1")
	d := Decode(f)
	if d.Type != FrameException || d.ExceptionCode != 2 {
		t.Fatalf("decode = %+v", d)
	}
	if ExceptionDescription(d.ExceptionCode) != "illegal data address" {
		t.Fatalf("description = %q", ExceptionDescription(d.ExceptionCode))
	}
}

func TestDecodeFC16Request(t *testing.T) {
	f := frameFromHex(t, "01 10 00 10 00 02 04 00 01 00 02 22 A2")
	d := Decode(f)
	if d.Type != FrameRequest || d.StartAddress != 0x10 || d.Quantity != 2 {
		t.Fatalf("decode = %+v", d)
	}
	if len(d.RegisterVals) != 2 || d.RegisterVals[0] != 1 || d.RegisterVals[1] != 2 {
		t.Fatalf("registers = %v", d.RegisterVals)
	}
}

func TestDecodeFC06(t *testing.T) {
	f := frameFromHex(t, "FF 01 06 00 05 00 64 98 20"[3:]) // drop the leading resync byte
	d := Decode(f)
	if d.Type != FrameRequest || d.WriteAddress != 5 || d.WriteValue != 100 {
		t.Fatalf("decode = %+v", d)
	}
}
