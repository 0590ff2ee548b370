package register

import "testing"

func TestWriteAndGet(t *testing.T) {
	s := New()
	ev := s.Write(1, 10, 42, false)
	if ev.RawValue != 42 || ev.Unit != 1 || ev.Register != 10 {
		t.Fatalf("event = %+v", ev)
	}
	sample, ok := s.Get(1, 10)
	if !ok || sample.RawValue != 42 {
		t.Fatalf("Get = %+v, %v", sample, ok)
	}
}

func TestIdempotentWrites(t *testing.T) {
	s := New()
	s.Write(1, 10, 42, false)
	ev2 := s.Write(1, 10, 42, false)
	if ev2.RawValue != 42 {
		t.Fatalf("second write event = %+v", ev2)
	}
	if len(s.Snapshot()) != 1 {
		t.Fatalf("expected a single retained sample, got %d", len(s.Snapshot()))
	}
}

func TestGetByRegisterFallbackScansNewestFirst(t *testing.T) {
	s := New()
	s.Write(1, 10, 1, false)
	s.Write(2, 10, 2, false)
	sample, ok := s.GetByRegister(10)
	if !ok || sample.Unit != 2 || sample.RawValue != 2 {
		t.Fatalf("GetByRegister = %+v, %v, want unit 2 (most recent)", sample, ok)
	}
}

func TestGetByRegisterMiss(t *testing.T) {
	s := New()
	if _, ok := s.GetByRegister(99); ok {
		t.Fatal("expected miss on empty store")
	}
}
