package anomaly

import (
	"path/filepath"
	"testing"
)

func TestWriteAndRecent(t *testing.T) {
	l, err := Open(filepath.Join(t.TempDir(), "anomalies.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer l.Close()

	if _, err := l.Write(Record{Kind: KindCorrelationMissed, Hub: "line1", Unit: 3, Detail: "no pending request"}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := l.Write(Record{Kind: KindFrameSemanticInconsistent, Hub: "line1", Unit: 3, Detail: "byte count mismatch"}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	all, err := l.Recent("", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("got %d records, want 2", len(all))
	}

	filtered, err := l.Recent(KindCorrelationMissed, 10)
	if err != nil {
		t.Fatalf("Recent filtered: %v", err)
	}
	if len(filtered) != 1 || filtered[0].Kind != KindCorrelationMissed {
		t.Fatalf("filtered = %+v", filtered)
	}
}

func TestWriteAssignsIDAndTimestamp(t *testing.T) {
	l, err := Open(filepath.Join(t.TempDir(), "anomalies.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer l.Close()

	rec, err := l.Write(Record{Kind: KindCorrelationMissed, Hub: "line1"})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if rec.ID == "" {
		t.Fatal("expected a generated ID")
	}
	if rec.CreatedAt.IsZero() {
		t.Fatal("expected a stamped CreatedAt")
	}
}
