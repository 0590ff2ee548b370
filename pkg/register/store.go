// Package register holds the last-value cache for observed Modbus
// registers (the Register Store) and the event shape it emits on every
// write.
package register

import (
	"sync"
	"time"
)

// Key identifies one register on one unit.
type Key struct {
	Unit     byte
	Register uint16
}

// Sample is the last known value of a register, per spec §3.
type Sample struct {
	Unit      byte
	Register  uint16
	RawValue  uint16
	UpdatedAt time.Time
}

// UpdateEvent is what the store hands to subscribers on every write.
type UpdateEvent struct {
	Unit              byte
	Register          uint16
	RawValue          uint16
	CorrelationMissed bool
}

// Store is a concurrency-safe (unit, register) -> Sample cache. Writes
// always overwrite; all access is guarded by a single RWMutex, matching
// the multi-reader/single-writer contract of §5.
type Store struct {
	mu      sync.RWMutex
	samples map[Key]Sample
	order   []Key // first-insertion order, newest last; used by GetByRegister's fallback scan
	now     func() time.Time
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		samples: make(map[Key]Sample),
		now:     time.Now,
	}
}

// Write overwrites the sample at key and returns the UpdateEvent to
// broadcast. Writing the same value twice is idempotent: the stored
// sample converges to the same state, though an event is emitted each
// time (testable property 7).
func (s *Store) Write(unit byte, reg uint16, raw uint16, correlationMissed bool) UpdateEvent {
	key := Key{Unit: unit, Register: reg}
	s.mu.Lock()
	if _, exists := s.samples[key]; !exists {
		s.order = append(s.order, key)
	}
	s.samples[key] = Sample{Unit: unit, Register: reg, RawValue: raw, UpdatedAt: s.now()}
	s.mu.Unlock()

	return UpdateEvent{Unit: unit, Register: reg, RawValue: raw, CorrelationMissed: correlationMissed}
}

// Get returns the sample for (unit, register) if present.
func (s *Store) Get(unit byte, reg uint16) (Sample, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.samples[Key{Unit: unit, Register: reg}]
	return v, ok
}

// GetByRegister returns the sample whose register matches reg,
// regardless of unit, taking the key first inserted most recently;
// rewriting an existing key does not move it forward. It is the
// fallback lookup used when a sensor binding has no unit_id.
func (s *Store) GetByRegister(reg uint16) (Sample, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.order) - 1; i >= 0; i-- {
		key := s.order[i]
		if key.Register != reg {
			continue
		}
		if v, ok := s.samples[key]; ok {
			return v, true
		}
	}
	return Sample{}, false
}

// Snapshot returns every held sample, in insertion order.
func (s *Store) Snapshot() []Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Sample, 0, len(s.order))
	for _, key := range s.order {
		out = append(out, s.samples[key])
	}
	return out
}
