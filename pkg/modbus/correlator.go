package modbus

import (
	"sync"
	"time"
)

// pendingTTL is the maximum age of a PendingRequest before it is
// purged without being matched to a response.
const pendingTTL = 5 * time.Second

// PendingRequest is an unmatched FC03 request waiting for its response,
// per spec §3. Arrival is recorded with a monotonic clock so wall-clock
// adjustments cannot extend or shrink the TTL window.
type PendingRequest struct {
	Start    uint16
	Quantity uint16
	Arrived  time.Time
}

// RegisterUpdate is what the Correlator hands the Register Store: one
// raw 16-bit value observed at one address on one unit.
type RegisterUpdate struct {
	Unit              byte
	Register          uint16
	Value             uint16
	CorrelationMissed bool
}

// Correlator pairs FC03 requests with the next FC03 response on the
// same unit, using a per-unit FIFO with a 5-second monotonic TTL. FC06
// and FC16 need no correlation: they carry their own address.
type Correlator struct {
	mu      sync.Mutex
	pending map[byte][]PendingRequest
	now     func() time.Time // overridable for tests
}

// NewCorrelator returns a Correlator ready to use.
func NewCorrelator() *Correlator {
	return &Correlator{
		pending: make(map[byte][]PendingRequest),
		now:     time.Now,
	}
}

func (c *Correlator) purgeLocked(unit byte) {
	q := c.pending[unit]
	now := c.now()
	i := 0
	for i < len(q) && now.Sub(q[i].Arrived) > pendingTTL {
		i++
	}
	if i > 0 {
		c.pending[unit] = q[i:]
	}
}

// Feed processes one DecodedFrame and returns the RegisterUpdates it
// produces, in address order. Frames that carry no register data (e.g.
// read-coil traffic, exceptions) yield no updates.
func (c *Correlator) Feed(d DecodedFrame) []RegisterUpdate {
	switch d.FunctionCode {
	case FuncReadHoldingRegisters:
		return c.feedFC03(d)
	case FuncWriteSingleRegister:
		if d.Type != FrameRequest {
			return nil
		}
		return []RegisterUpdate{{Unit: d.Unit, Register: d.WriteAddress, Value: d.WriteValue}}
	case FuncWriteMultipleRegisters:
		if d.Type != FrameRequest {
			return nil
		}
		updates := make([]RegisterUpdate, 0, len(d.RegisterVals))
		for i, v := range d.RegisterVals {
			updates = append(updates, RegisterUpdate{Unit: d.Unit, Register: d.StartAddress + uint16(i), Value: v})
		}
		return updates
	default:
		return nil
	}
}

func (c *Correlator) feedFC03(d DecodedFrame) []RegisterUpdate {
	c.mu.Lock()
	defer c.mu.Unlock()

	if d.Type == FrameRequest {
		c.purgeLocked(d.Unit)
		c.pending[d.Unit] = append(c.pending[d.Unit], PendingRequest{
			Start:    d.StartAddress,
			Quantity: d.Quantity,
			Arrived:  c.now(),
		})
		return nil
	}
	if d.Type != FrameResponse {
		return nil
	}

	c.purgeLocked(d.Unit)
	base := uint16(0)
	missed := true
	if q := c.pending[d.Unit]; len(q) > 0 {
		base = q[0].Start
		c.pending[d.Unit] = q[1:]
		missed = false
	}

	updates := make([]RegisterUpdate, 0, len(d.RegisterVals))
	for i, v := range d.RegisterVals {
		updates = append(updates, RegisterUpdate{
			Unit:              d.Unit,
			Register:          base + uint16(i),
			Value:             v,
			CorrelationMissed: missed,
		})
	}
	return updates
}
