// Package transport defines the passive receive-side contract the
// Capture Hub (spec §4.F) drives: a connection that can be opened,
// read from, and closed, with a shared reconnect/backoff policy for
// the transports (UDP, TCP) that implement it.
package transport

import (
	"context"
	"time"
)

// ConnectionState represents the current state of a transport connection.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateError
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Receiver is the contract the Capture Hub needs from a transport: it
// never sends, only listens for inbound Modbus RTU traffic. UDP and
// TCP each implement it with their own framing rules (spec §4.F).
type Receiver interface {
	Connect(ctx context.Context) error
	Close() error
	IsConnected() bool

	// Receive blocks until a chunk of bytes arrives, ctx's deadline
	// passes or the receiver's read timeout expires (UDP then returns
	// no data and no error). UDP implementations return one datagram per call;
	// TCP implementations return whatever a single read yielded.
	Receive(ctx context.Context) ([]byte, error)

	Info() Info
}

// Config holds the address and reconnect policy shared by the UDP and
// TCP receivers.
type Config struct {
	Address         string           `yaml:"address" json:"address"`
	Options         map[string]any   `yaml:"options" json:"options"`
	BufferSize      int              `yaml:"buffer_size" json:"buffer_size"`
	Timeout         time.Duration    `yaml:"timeout" json:"timeout"`
	ReconnectPolicy *ReconnectPolicy `yaml:"reconnect" json:"reconnect"`
}

// ReconnectPolicy defines how the TCP receiver backs off between
// reconnect attempts. UDP ignores it: a UDP socket has no peer to
// reconnect to.
type ReconnectPolicy struct {
	Enabled      bool          `yaml:"enabled" json:"enabled"`
	MaxAttempts  int           `yaml:"max_attempts" json:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay" json:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay" json:"max_delay"`
	Multiplier   float64       `yaml:"multiplier" json:"multiplier"`
}

// DefaultReconnectPolicy matches spec §4.F's TCP capture rule exactly:
// start at one second, double on every failed attempt, cap at thirty
// seconds, reset to the initial delay the moment a connection
// succeeds.
func DefaultReconnectPolicy() *ReconnectPolicy {
	return &ReconnectPolicy{
		Enabled:      true,
		MaxAttempts:  0,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
}

// Next returns the delay to wait after the given number of consecutive
// failed attempts (attempt 0 is the first failure), clamped to MaxDelay.
func (p *ReconnectPolicy) Next(attempt int) time.Duration {
	delay := float64(p.InitialDelay)
	for i := 0; i < attempt; i++ {
		delay *= p.Multiplier
		if delay >= float64(p.MaxDelay) {
			return p.MaxDelay
		}
	}
	d := time.Duration(delay)
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Info reports a receiver's current state for the status API (spec §4.K).
type Info struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Address     string          `json:"address"`
	State       ConnectionState `json:"state"`
	Statistics  Statistics      `json:"statistics"`
	ConnectedAt *time.Time      `json:"connected_at,omitempty"`
	LastError   string          `json:"last_error,omitempty"`
}

// Statistics counts bytes and reconnects for a receiver.
type Statistics struct {
	BytesReceived uint64 `json:"bytes_received"`
	Reads         uint64 `json:"reads"`
	Errors        uint64 `json:"errors"`
	Reconnects    uint64 `json:"reconnects"`
}
