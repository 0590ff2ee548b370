package hub

import (
	"path/filepath"
	"testing"

	"github.com/commatea/modbus-sniffer/pkg/eventbus"
	"github.com/commatea/modbus-sniffer/pkg/logger"
	"github.com/commatea/modbus-sniffer/pkg/packetlog"
	"github.com/commatea/modbus-sniffer/pkg/register"
)

func newTestHub(t *testing.T, mode Mode) *Hub {
	t.Helper()
	store := register.New()
	bus := eventbus.New(eventbus.DefaultReplaySize, 32)
	log := packetlog.New(filepath.Join(t.TempDir(), "packets.csv"))
	h, err := New(Config{Name: "test", Mode: mode, Address: "127.0.0.1:0"}, store, bus, log, nil, logger.Global())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return h
}

// TestProcessChunkWritesAndBroadcasts feeds a complete FC03
// request/response pair through processChunk and checks the register
// store and event bus both observe the decoded values.
func TestProcessChunkWritesAndBroadcasts(t *testing.T) {
	h := newTestHub(t, ModeUDP)
	sub := h.bus.Subscribe()
	defer sub.Unsubscribe()

	req := hexBytes("010300000002" + "C40B")
	resp := hexBytes("010304000A0014" + "DA3E")

	h.processChunk(req)
	h.processChunk(resp)

	sample, ok := h.store.Get(1, 0)
	if !ok || sample.RawValue != 10 {
		t.Fatalf("register 0 = %+v, ok=%v", sample, ok)
	}
	sample, ok = h.store.Get(1, 1)
	if !ok || sample.RawValue != 20 {
		t.Fatalf("register 1 = %+v, ok=%v", sample, ok)
	}

	select {
	case ev := <-sub.Events():
		update, ok := ev.(register.UpdateEvent)
		if !ok {
			t.Fatalf("unexpected event type %T", ev)
		}
		if update.RawValue != 10 {
			t.Fatalf("first broadcast = %+v", update)
		}
	default:
		t.Fatal("expected a broadcast event")
	}
}

// TestProcessChunkTCPCarriesLeftover confirms that a frame split
// across two TCP reads is only decoded once the second chunk arrives,
// and that the leftover field is cleared once the frame completes.
func TestProcessChunkTCPCarriesLeftover(t *testing.T) {
	h := newTestHub(t, ModeTCP)
	full := hexBytes("010300000002C40B")

	h.processChunk(full[:4])
	if _, ok := h.store.Get(1, 0); ok {
		t.Fatal("expected no register written from a partial frame")
	}
	if len(h.leftover) != 4 {
		t.Fatalf("leftover = %x, want the 4 held-back bytes", h.leftover)
	}

	h.processChunk(append(h.leftover, full[4:]...))
	if len(h.leftover) != 0 {
		t.Fatalf("leftover after complete frame = %x, want empty", h.leftover)
	}
}

func hexBytes(s string) []byte {
	out := make([]byte, len(s)/2)
	for i := range out {
		var b byte
		for j := 0; j < 2; j++ {
			c := s[i*2+j]
			b <<= 4
			switch {
			case c >= '0' && c <= '9':
				b |= c - '0'
			case c >= 'A' && c <= 'F':
				b |= c - 'A' + 10
			case c >= 'a' && c <= 'f':
				b |= c - 'a' + 10
			}
		}
		out[i] = b
	}
	return out
}
