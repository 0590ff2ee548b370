package crc

import "testing"

func TestModbus16Vectors(t *testing.T) {
	cases := []struct {
		name string
		in   []byte
		want uint16
	}{
		{"empty", nil, 0xFFFF},
		{"read-holding-request", []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x01}, 0x0A84},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := Modbus16(c.in); got != c.want {
				t.Fatalf("Modbus16(%x) = %#04x, want %#04x", c.in, got, c.want)
			}
		})
	}
}

func TestRoundTrip(t *testing.T) {
	bodies := [][]byte{
		{0x01, 0x03, 0x00, 0x00, 0x00, 0x02},
		{0x01, 0x06, 0x00, 0x05, 0x00, 0x64},
		{},
		{0xFF},
	}
	for _, body := range bodies {
		framed := AppendLE(body)
		if !ValidLE(framed) {
			t.Fatalf("AppendLE(%x) = %x, not self-valid", body, framed)
		}
	}
}

func TestValidLETooShort(t *testing.T) {
	if ValidLE([]byte{0x01}) {
		t.Fatal("expected false for sub-length frame")
	}
}
