// Package hub implements the Capture Hub (F): it owns one transport
// (UDP or TCP), turns its byte stream into frames, decodes and
// correlates them, and fans the results out to the Register Store, the
// Event Bus and the Packet Log.
package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/commatea/modbus-sniffer/pkg/anomaly"
	"github.com/commatea/modbus-sniffer/pkg/eventbus"
	"github.com/commatea/modbus-sniffer/pkg/logger"
	"github.com/commatea/modbus-sniffer/pkg/metrics"
	"github.com/commatea/modbus-sniffer/pkg/modbus"
	"github.com/commatea/modbus-sniffer/pkg/packetlog"
	"github.com/commatea/modbus-sniffer/pkg/register"
	"github.com/commatea/modbus-sniffer/pkg/transport"
	"github.com/commatea/modbus-sniffer/pkg/transport/tcp"
	"github.com/commatea/modbus-sniffer/pkg/transport/udp"
)

// State is the Capture Hub's lifecycle state, named directly in spec §4.F.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Mode selects which transport a Hub captures over.
type Mode string

const (
	ModeUDP Mode = "udp"
	ModeTCP Mode = "tcp"
)

// Config describes one configured capture hub (spec §4.J sensor
// binding config references a Hub by Name).
type Config struct {
	Name           string
	Mode           Mode
	Address        string
	MulticastGroup string
	Interface      string
}

// Hub owns one transport and drives bytes through the decode pipeline.
type Hub struct {
	cfg Config

	recv       transport.Receiver
	correlator *modbus.Correlator
	store      *register.Store
	bus        *eventbus.Bus
	packetLog  *packetlog.Log
	ledger     *anomaly.Ledger
	metrics    *metrics.Metrics
	logger     *logger.Logger

	leftover []byte // only ever non-empty for TCP

	mu    sync.Mutex
	state State
	stop  context.CancelFunc
	done  chan struct{}
}

// New constructs a Hub. store, bus and packetLog are shared across all
// configured hubs; each Hub gets its own Correlator since pending FC03
// requests on one transport must never match a response on another.
func New(cfg Config, store *register.Store, bus *eventbus.Bus, packetLog *packetlog.Log, ledger *anomaly.Ledger, lg *logger.Logger) (*Hub, error) {
	var recv transport.Receiver
	var err error

	switch cfg.Mode {
	case ModeUDP:
		recv, err = udp.New(transport.Config{
			Address: cfg.Address,
			Options: map[string]any{
				"multicast_group": cfg.MulticastGroup,
				"interface":       cfg.Interface,
			},
		})
	case ModeTCP:
		recv, err = tcp.New(transport.Config{
			Address:         cfg.Address,
			ReconnectPolicy: transport.DefaultReconnectPolicy(),
		})
	default:
		return nil, fmt.Errorf("hub %s: unknown mode %q", cfg.Name, cfg.Mode)
	}
	if err != nil {
		return nil, fmt.Errorf("hub %s: %w", cfg.Name, err)
	}

	return &Hub{
		cfg:        cfg,
		recv:       recv,
		correlator: modbus.NewCorrelator(),
		store:      store,
		bus:        bus,
		packetLog:  packetLog,
		ledger:     ledger,
		metrics:    metrics.ForHub(cfg.Name),
		logger:     lg.WithHub(cfg.Name),
	}, nil
}

func (h *Hub) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *Hub) Info() transport.Info {
	return h.recv.Info()
}

// Run blocks until ctx is cancelled or Stop is called, dispatching to
// the UDP or TCP capture loop. When it returns, the TCP leftover and
// every pending FC03 request are dropped.
func (h *Hub) Run(ctx context.Context) error {
	h.mu.Lock()
	if h.state != StateIdle {
		h.mu.Unlock()
		return errors.New("hub: already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	h.stop = cancel
	h.done = make(chan struct{})
	h.state = StateRunning
	h.mu.Unlock()
	h.metrics.IncActive()

	defer func() {
		h.leftover = nil
		h.correlator = modbus.NewCorrelator()
		h.mu.Lock()
		h.state = StateIdle
		close(h.done)
		h.mu.Unlock()
		h.metrics.DecActive()
	}()

	switch h.cfg.Mode {
	case ModeTCP:
		return h.runTCP(ctx)
	default:
		return h.runUDP(ctx)
	}
}

// Stop requests a cooperative shutdown and waits for Run to return.
func (h *Hub) Stop() {
	h.mu.Lock()
	if h.state == StateIdle {
		h.mu.Unlock()
		return
	}
	h.state = StateStopping
	stop := h.stop
	done := h.done
	h.mu.Unlock()

	if stop != nil {
		stop()
	}
	if done != nil {
		<-done
	}
	h.recv.Close()
}

// runUDP binds once and reads datagrams until cancelled. Each datagram
// is processed independently: no bytes ever carry from one to the
// next, matching spec §4.F's UDP rule.
func (h *Hub) runUDP(ctx context.Context) error {
	if err := h.recv.Connect(ctx); err != nil {
		h.logger.Error("hub: udp bind failed", "err", err)
		return err
	}
	defer h.recv.Close()

	for {
		if ctx.Err() != nil {
			return nil
		}
		data, err := h.recv.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			h.logger.Warn("hub: udp receive error", "err", err)
			continue
		}
		if len(data) == 0 {
			continue
		}
		h.processChunk(data)
	}
}

// runTCP dials, carries leftover bytes across reads, and reconnects
// with the receiver's exponential backoff on any read failure.
func (h *Hub) runTCP(ctx context.Context) error {
	receiver := h.recv.(*tcp.Receiver)

	for ctx.Err() == nil {
		if err := receiver.Connect(ctx); err != nil {
			delay := receiver.NextDelay()
			h.logger.Warn("hub: tcp connect failed, backing off", "err", err, "delay", delay)
			h.metrics.IncReconnectBackoff()
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(delay):
			}
			continue
		}
		receiver.ResetBackoff()
		h.leftover = nil

		for {
			if ctx.Err() != nil {
				return nil
			}
			data, err := receiver.Receive(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				delay := receiver.NextDelay()
				h.logger.Warn("hub: tcp connection lost, backing off", "err", err, "delay", delay)
				h.metrics.IncReconnectBackoff()
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(delay):
				}
				break
			}
			if len(data) == 0 {
				continue
			}
			h.processChunk(append(h.leftover, data...))
		}
	}
	return nil
}

// processChunk runs one buffer through the Frame Reconstructor, the
// PDU Decoder and the Correlator, then writes and broadcasts every
// register update produced. For TCP the returned leftover is stored
// for the next read; for UDP it is discarded immediately.
func (h *Hub) processChunk(buf []byte) {
	if err := h.packetLog.Append(buf); err != nil {
		h.logger.Warn("hub: packet log append failed", "err", err)
	}

	frames, leftover, resyncs := modbus.Split(buf)
	if h.cfg.Mode == ModeTCP {
		h.leftover = leftover
	}
	h.metrics.AddBytesCaptured(len(buf))
	h.metrics.AddFramesDecoded(len(frames))
	h.metrics.AddResync(resyncs)

	for _, frame := range frames {
		decoded := modbus.Decode(frame)

		for _, note := range decoded.Notes {
			h.writeAnomaly(anomaly.KindFrameSemanticInconsistent, decoded.Unit, note, frame.Raw)
		}

		updates := h.correlator.Feed(decoded)
		for _, u := range updates {
			if u.CorrelationMissed {
				h.metrics.IncCorrelationMissed()
				h.writeAnomaly(anomaly.KindCorrelationMissed, u.Unit, "FC03 response with no pending request", frame.Raw)
			}
			event := h.store.Write(u.Unit, u.Register, u.Value, u.CorrelationMissed)
			h.bus.Broadcast(event)
		}
	}
}

func (h *Hub) writeAnomaly(kind anomaly.Kind, unit byte, detail string, raw []byte) {
	if h.ledger == nil {
		return
	}
	if _, err := h.ledger.Write(anomaly.Record{Kind: kind, Hub: h.cfg.Name, Unit: unit, Detail: detail, Raw: raw}); err != nil {
		h.logger.WithUnit(unit).Warn("hub: anomaly ledger write failed", "err", err)
	}
}
