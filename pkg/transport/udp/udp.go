// Package udp implements the UDP capture transport (spec §4.F): it
// binds one socket and returns each datagram as one Receive call, with
// no byte carried over between datagrams.
package udp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/commatea/modbus-sniffer/pkg/transport"
)

var ErrNotConnected = errors.New("udp: not connected")

// Config holds UDP-specific settings. Multicast is expressed via
// MulticastGroup: when set, the receiver joins that group on
// Interface (or the default interface when Interface is empty)
// instead of doing a plain bind.
type Config struct {
	Address         string
	MulticastGroup  string
	Interface       string
	ReadBufferSize  int
	WriteBufferSize int
	ReadTimeout     time.Duration
}

func DefaultConfig() Config {
	return Config{
		ReadBufferSize:  8192,
		WriteBufferSize: 8192,
		ReadTimeout:     time.Second,
	}
}

// Receiver implements transport.Receiver for UDP.
type Receiver struct {
	mu sync.RWMutex

	config Config
	conn   *net.UDPConn
	id     string
	state  transport.ConnectionState
	stats  transport.Statistics

	readBuffer  []byte
	connectedAt *time.Time
	lastError   error
}

// New builds a Receiver from a shared transport.Config, pulling
// UDP-specific fields out of Options.
func New(config transport.Config) (*Receiver, error) {
	udpConfig := DefaultConfig()
	udpConfig.Address = config.Address

	if opts := config.Options; opts != nil {
		if v, ok := opts["multicast_group"].(string); ok {
			udpConfig.MulticastGroup = v
		}
		if v, ok := opts["interface"].(string); ok {
			udpConfig.Interface = v
		}
	}
	if config.Timeout > 0 {
		udpConfig.ReadTimeout = config.Timeout
	}
	if config.BufferSize > 0 {
		udpConfig.ReadBufferSize = config.BufferSize
	}

	return &Receiver{
		config:     udpConfig,
		id:         fmt.Sprintf("udp-%s", udpConfig.Address),
		state:      transport.StateDisconnected,
		readBuffer: make([]byte, udpConfig.ReadBufferSize),
	}, nil
}

// Connect binds the socket: a plain ListenUDP for unicast, or a
// multicast join when MulticastGroup is set.
func (r *Receiver) Connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == transport.StateConnected {
		return nil
	}
	r.state = transport.StateConnecting

	addr, err := net.ResolveUDPAddr("udp", r.config.Address)
	if err != nil {
		r.state = transport.StateError
		r.lastError = err
		return err
	}

	var conn *net.UDPConn
	if r.config.MulticastGroup != "" {
		groupAddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(r.config.MulticastGroup, fmt.Sprint(addr.Port)))
		if err != nil {
			r.state = transport.StateError
			r.lastError = err
			return err
		}
		var iface *net.Interface
		if r.config.Interface != "" {
			iface, err = net.InterfaceByName(r.config.Interface)
			if err != nil {
				r.state = transport.StateError
				r.lastError = err
				return err
			}
		}
		conn, err = net.ListenMulticastUDP("udp", iface, groupAddr)
		if err != nil {
			r.state = transport.StateError
			r.lastError = err
			return err
		}
	} else {
		conn, err = net.ListenUDP("udp", addr)
		if err != nil {
			r.state = transport.StateError
			r.lastError = err
			return err
		}
	}

	r.conn = conn
	now := time.Now()
	r.connectedAt = &now
	r.state = transport.StateConnected

	if r.config.ReadBufferSize > 0 {
		r.conn.SetReadBuffer(r.config.ReadBufferSize)
	}
	if r.config.WriteBufferSize > 0 {
		r.conn.SetWriteBuffer(r.config.WriteBufferSize)
	}
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

// Receive returns exactly one datagram's payload. Unlike TCP, nothing
// is ever carried from one call to the next: a short or oversized
// datagram is the sender's problem, not a stream-framing one.
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

	n, _, err := conn.ReadFromUDP(r.readBuffer)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, nil
		}
		r.mu.Lock()
		r.stats.Errors++
		r.lastError = err
		r.mu.Unlock()
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
		Type:        "udp",
		Address:     r.config.Address,
		State:       r.state,
		Statistics:  r.stats,
		ConnectedAt: r.connectedAt,
	}
	if r.lastError != nil {
		info.LastError = r.lastError.Error()
	}
	return info
}
