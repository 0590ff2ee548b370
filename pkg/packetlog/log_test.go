package packetlog

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestAppendAndReadAll(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "packets.csv")
	l := New(path)
	l.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	if err := l.Append([]byte{0x01, 0x03, 0x00, 0x00}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := l.Append([]byte{0xAB}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	entries, err := ReadAll(path)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Timestamp != "2026-01-02 03:04:05" {
		t.Fatalf("timestamp = %q", entries[0].Timestamp)
	}
	if len(entries[0].Payload) != 4 || entries[0].Payload[0] != 0x01 {
		t.Fatalf("payload = %x", entries[0].Payload)
	}
}

func TestReadAllMissingFile(t *testing.T) {
	entries, err := ReadAll(filepath.Join(t.TempDir(), "missing.csv"))
	if err != nil || entries != nil {
		t.Fatalf("entries=%v err=%v, want nil, nil", entries, err)
	}
}

func TestReadAllSkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "packets.csv")
	content := "not-a-valid-line\n2026-01-02 03:04:05,ZZ\n2026-01-02 03:04:06,01 03\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	entries, err := ReadAll(path)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1 (malformed lines skipped)", len(entries))
	}
	if len(entries[0].Payload) != 2 {
		t.Fatalf("payload = %x", entries[0].Payload)
	}
}
