// Package tcp implements the TCP capture transport (spec §4.F): it
// dials a remote RTU-over-TCP bridge and hands back each read as is;
// the Capture Hub carries leftover bytes between reads and reconnects
// using the backoff delays this Receiver tracks.
package tcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/commatea/modbus-sniffer/pkg/transport"
)

var (
	ErrNotConnected = errors.New("tcp: not connected")
	ErrConnClosed   = errors.New("tcp: connection closed")
)

// Config holds TCP-specific settings.
type Config struct {
	Host            string
	Port            int
	KeepAlive       bool
	KeepAlivePeriod time.Duration
	NoDelay         bool
	ReadBufferSize  int
	ConnectTimeout  time.Duration
	ReadTimeout     time.Duration
}

func DefaultConfig() Config {
	return Config{
		KeepAlive:       true,
		KeepAlivePeriod: 30 * time.Second,
		NoDelay:         true,
		ReadBufferSize:  1024,
		ConnectTimeout:  10 * time.Second,
		ReadTimeout:     30 * time.Second,
	}
}

// Receiver implements transport.Receiver for TCP. Reconnection with
// backoff is driven by the Capture Hub calling Connect again after a
// Receive error; Receiver itself only tracks the policy's attempt
// counter so Hub can ask it for the next delay.
type Receiver struct {
	mu sync.RWMutex

	config Config
	policy *transport.ReconnectPolicy
	attempt int

	conn        net.Conn
	id          string
	state       transport.ConnectionState
	stats       transport.Statistics
	readBuffer  []byte
	connectedAt *time.Time
	lastError   error
}

// New builds a Receiver from a shared transport.Config.
func New(config transport.Config) (*Receiver, error) {
	tcpConfig := DefaultConfig()

	if config.Address != "" {
		host, port, err := net.SplitHostPort(config.Address)
		if err == nil {
			tcpConfig.Host = host
			fmt.Sscanf(port, "%d", &tcpConfig.Port)
		}
	}
	if config.Timeout > 0 {
		tcpConfig.ReadTimeout = config.Timeout
	}
	if config.BufferSize > 0 {
		tcpConfig.ReadBufferSize = config.BufferSize
	}

	policy := config.ReconnectPolicy
	if policy == nil {
		policy = transport.DefaultReconnectPolicy()
	}

	return &Receiver{
		config:     tcpConfig,
		policy:     policy,
		id:         fmt.Sprintf("tcp-%s:%d", tcpConfig.Host, tcpConfig.Port),
		state:      transport.StateDisconnected,
		readBuffer: make([]byte, tcpConfig.ReadBufferSize),
	}, nil
}

// NextDelay returns how long the Hub should wait before the next
// Connect retry, then advances the attempt counter. A successful
// Connect resets the counter via ResetBackoff.
func (r *Receiver) NextDelay() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	d := r.policy.Next(r.attempt)
	r.attempt++
	return d
}

// ResetBackoff clears the attempt counter after a successful connect.
func (r *Receiver) ResetBackoff() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempt = 0
}

func (r *Receiver) Connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == transport.StateConnected {
		return nil
	}
	r.state = transport.StateConnecting

	address := fmt.Sprintf("%s:%d", r.config.Host, r.config.Port)
	dialer := &net.Dialer{Timeout: r.config.ConnectTimeout, KeepAlive: r.config.KeepAlivePeriod}

	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		r.state = transport.StateError
		r.lastError = err
		return err
	}

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		if r.config.KeepAlive {
			tcpConn.SetKeepAlive(true)
			tcpConn.SetKeepAlivePeriod(r.config.KeepAlivePeriod)
		}
		tcpConn.SetNoDelay(r.config.NoDelay)
	}

	r.conn = conn
	now := time.Now()
	r.connectedAt = &now
	r.state = transport.StateConnected
	r.stats.Reconnects++
	return nil
}

func (r *Receiver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == transport.StateDisconnected {
		return nil
	}
	var err error
	if r.conn != nil {
		err = r.conn.Close()
		r.conn = nil
	}
	r.state = transport.StateDisconnected
	r.connectedAt = nil
	return err
}

func (r *Receiver) IsConnected() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state == transport.StateConnected
}

// Receive returns whatever a single read off the socket yielded. The
// Capture Hub, not this type, is responsible for carrying leftover
// bytes between calls: Receive only ever hands back what the kernel
// gave it this time.
func (r *Receiver) Receive(ctx context.Context) ([]byte, error) {
	r.mu.RLock()
	if r.state != transport.StateConnected || r.conn == nil {
		r.mu.RUnlock()
		return nil, ErrNotConnected
	}
	conn := r.conn
	r.mu.RUnlock()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
	} else if r.config.ReadTimeout > 0 {
		conn.SetReadDeadline(time.Now().Add(r.config.ReadTimeout))
	}

	n, err := conn.Read(r.readBuffer)
	if err != nil {
		r.mu.Lock()
		r.state = transport.StateDisconnected
		if r.conn == conn {
			conn.Close()
			r.conn = nil
		}
		if err == io.EOF {
			r.lastError = ErrConnClosed
		} else {
			r.stats.Errors++
			r.lastError = err
		}
		r.mu.Unlock()
		if err == io.EOF {
			return nil, ErrConnClosed
		}
		return nil, err
	}

	data := make([]byte, n)
	copy(data, r.readBuffer[:n])

	r.mu.Lock()
	r.stats.BytesReceived += uint64(n)
	r.stats.Reads++
	r.mu.Unlock()

	return data, nil
}

func (r *Receiver) Info() transport.Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	info := transport.Info{
		ID:          r.id,
		Type:        "tcp",
		Address:     fmt.Sprintf("%s:%d", r.config.Host, r.config.Port),
		State:       r.state,
		Statistics:  r.stats,
		ConnectedAt: r.connectedAt,
	}
	if r.lastError != nil {
		info.LastError = r.lastError.Error()
	}
	return info
}
