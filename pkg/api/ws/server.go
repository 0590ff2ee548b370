// Package ws mirrors the Event Bus (pkg/eventbus) to any number of
// live WebSocket clients, using the same bounded-inbox-plus-remove-
// on-full pattern the bus itself uses for its Go-side subscribers.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/commatea/modbus-sniffer/pkg/eventbus"
	"github.com/commatea/modbus-sniffer/pkg/logger"
	"github.com/commatea/modbus-sniffer/pkg/register"
)

// Server is the WebSocket half of the API surface (K). It owns no
// capture state; it only relays events already published on the bus.
type Server struct {
	mu       sync.RWMutex
	bus      *eventbus.Bus
	config   ServerConfig
	logger   *logger.Logger
	upgrader websocket.Upgrader
	clients  map[*Client]bool
	running  bool
	server   *http.Server
	stop     context.CancelFunc
}

// ServerConfig holds WebSocket server configuration.
type ServerConfig struct {
	Addr            string        `yaml:"addr" json:"addr"`
	Path            string        `yaml:"path" json:"path"`
	PingInterval    time.Duration `yaml:"ping_interval" json:"ping_interval"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout"`
	ReadBufferSize  int           `yaml:"read_buffer_size" json:"read_buffer_size"`
	WriteBufferSize int           `yaml:"write_buffer_size" json:"write_buffer_size"`
	AllowedOrigins  []string      `yaml:"allowed_origins" json:"allowed_origins"`
}

// DefaultServerConfig returns default configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:            ":8081",
		Path:            "/ws",
		PingInterval:    30 * time.Second,
		WriteTimeout:    10 * time.Second,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		AllowedOrigins:  []string{"*"},
	}
}

// Client is one connected WebSocket subscriber.
type Client struct {
	conn   *websocket.Conn
	server *Server
	send   chan []byte
}

// eventMessage is the wire shape of a mirrored register.UpdateEvent.
type eventMessage struct {
	Type              string `json:"type"`
	Unit              byte   `json:"unit"`
	Register          uint16 `json:"register"`
	RawValue          uint16 `json:"raw_value"`
	CorrelationMissed bool   `json:"correlation_missed"`
}

// NewServer creates a WebSocket server that mirrors bus onto clients
// connecting at config.Path.
func NewServer(bus *eventbus.Bus, config ServerConfig, lg *logger.Logger) *Server {
	return &Server{
		bus:     bus,
		config:  config,
		logger:  lg,
		clients: make(map[*Client]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin: func(r *http.Request) bool {
				if len(config.AllowedOrigins) == 0 {
					return true
				}
				origin := r.Header.Get("Origin")
				for _, allowed := range config.AllowedOrigins {
					if allowed == "*" || allowed == origin {
						return true
					}
				}
				return false
			},
		},
	}
}

// Start begins serving WebSocket upgrades and launches the bus-relay
// goroutine. Safe to call once.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}

	mux := http.NewServeMux()
	mux.HandleFunc(s.config.Path, s.handleWebSocket)

	addr := s.config.Addr
	if addr == "" {
		addr = ":8081"
	}
	s.server = &http.Server{Addr: addr, Handler: mux}

	ctx, cancel := context.WithCancel(context.Background())
	s.stop = cancel
	s.running = true
	s.mu.Unlock()

	go s.relay(ctx)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("ws: server error", "err", err)
		}
	}()
	s.logger.Info("ws: listening", "addr", addr, "path", s.config.Path)
	return nil
}

// relay drains the bus's own subscription and fans each event out to
// every connected client through Broadcast.
func (s *Server) relay(ctx context.Context) {
	if s.bus == nil {
		return
	}
	sub := s.bus.Subscribe()
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-sub.Events():
			if !ok {
				return
			}
			s.broadcastEvent(event)
		}
	}
}

func (s *Server) broadcastEvent(event any) {
	upd, ok := event.(register.UpdateEvent)
	if !ok {
		return
	}
	msg := eventMessage{
		Type:              "update",
		Unit:              upd.Unit,
		Register:          upd.Register,
		RawValue:          upd.RawValue,
		CorrelationMissed: upd.CorrelationMissed,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error("ws: marshal event", "err", err)
		return
	}
	s.Broadcast(data)
}

// Stop closes every client connection and shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	if s.stop != nil {
		s.stop()
	}
	for client := range s.clients {
		client.conn.Close()
	}
	s.running = false
	srv := s.server
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	client := &Client{
		conn:   conn,
		server: s,
		send:   make(chan []byte, 256),
	}

	s.mu.Lock()
	s.clients[client] = true
	s.mu.Unlock()

	go client.writePump()
	go client.readPump()
}

// Broadcast pushes message to every connected client, dropping (and
// disconnecting) any client whose send buffer is full rather than
// blocking the relay goroutine.
func (s *Server) Broadcast(message []byte) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for client := range s.clients {
		select {
		case client.send <- message:
		default:
			s.removeClient(client)
		}
	}
}

func (s *Server) removeClient(client *Client) {
	if _, ok := s.clients[client]; ok {
		delete(s.clients, client)
		close(client.send)
	}
}

// readPump only exists to notice client disconnects and keep the
// pong/close handshake alive; the sniffer's WebSocket stream is
// one-directional so any inbound payload is discarded.
func (c *Client) readPump() {
	defer func() {
		c.server.mu.Lock()
		c.server.removeClient(c)
		c.server.mu.Unlock()
		c.conn.Close()
	}()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.server.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.server.config.WriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.server.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
