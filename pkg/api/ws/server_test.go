package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/commatea/modbus-sniffer/pkg/eventbus"
	"github.com/commatea/modbus-sniffer/pkg/logger"
	"github.com/commatea/modbus-sniffer/pkg/register"
)

func TestRelayMirrorsBusEventToClient(t *testing.T) {
	bus := eventbus.New(2, 8)
	cfg := DefaultServerConfig()
	cfg.PingInterval = time.Hour
	s := NewServer(bus, cfg, logger.Global())

	srv := httptest.NewServer(http.HandlerFunc(s.handleWebSocket))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.relay(ctx)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// give handleWebSocket's goroutines a moment to register the client
	time.Sleep(20 * time.Millisecond)

	bus.Broadcast(register.UpdateEvent{Unit: 1, Register: 10, RawValue: 42})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var msg eventMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Unit != 1 || msg.Register != 10 || msg.RawValue != 42 {
		t.Fatalf("msg = %+v", msg)
	}
}

func TestBroadcastRemovesFullClient(t *testing.T) {
	s := NewServer(nil, DefaultServerConfig(), logger.Global())
	client := &Client{server: s, send: make(chan []byte)} // unbuffered: no reader, so it is always full
	s.clients[client] = true

	s.Broadcast([]byte("one"))

	s.mu.RLock()
	_, present := s.clients[client]
	s.mu.RUnlock()
	if present {
		t.Fatal("expected full client to be removed")
	}
}
