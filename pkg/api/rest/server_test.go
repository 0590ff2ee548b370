package rest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/commatea/modbus-sniffer/pkg/anomaly"
	"github.com/commatea/modbus-sniffer/pkg/config"
	"github.com/commatea/modbus-sniffer/pkg/eventbus"
	"github.com/commatea/modbus-sniffer/pkg/logger"
	"github.com/commatea/modbus-sniffer/pkg/register"
)

func newTestServer(t *testing.T) (*Server, *register.Store) {
	t.Helper()
	store := register.New()
	store.Write(1, 10, 42, false)

	logPath := filepath.Join(t.TempDir(), "packets.csv")
	if err := os.WriteFile(logPath, []byte{}, 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	bus := eventbus.New(0, 0)
	s := NewServer(nil, store, bus, nil, logPath, config.APIConfig{}, "", logger.Global())
	return s, store
}

func TestHandleHealth(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.handleHealth(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestHandleRegistersByUnitAndRegister(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/registers?unit=1&register=10", nil)
	rec := httptest.NewRecorder()
	s.handleRegisters(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestHandleRegistersByRegisterFallback(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/registers?register=10", nil)
	rec := httptest.NewRecorder()
	s.handleRegisters(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestHandleRegistersMissing(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/registers?register=99", nil)
	rec := httptest.NewRecorder()
	s.handleRegisters(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestHandleStatusReportsSubscriberCount(t *testing.T) {
	s, _ := newTestServer(t)
	sub := s.bus.Subscribe()
	defer sub.Unsubscribe()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	rec := httptest.NewRecorder()
	s.handleStatus(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if count, ok := body["subscribers"].(float64); !ok || count != 1 {
		t.Fatalf("subscribers = %v", body["subscribers"])
	}
}

func TestHandleAnomaliesWithoutLedgerReturnsEmptyList(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/anomalies", nil)
	rec := httptest.NewRecorder()
	s.handleAnomalies(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	anomalies, ok := body["anomalies"].([]any)
	if !ok || len(anomalies) != 0 {
		t.Fatalf("anomalies = %v", body["anomalies"])
	}
}

func TestHandleAnomaliesWithLedgerFiltersByKind(t *testing.T) {
	s, _ := newTestServer(t)
	ledger, err := anomaly.Open(filepath.Join(t.TempDir(), "anomalies.db"))
	if err != nil {
		t.Fatalf("anomaly.Open: %v", err)
	}
	defer ledger.Close()
	s.ledger = ledger

	if _, err := ledger.Write(anomaly.Record{Kind: anomaly.KindCorrelationMissed, Hub: "line1"}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := ledger.Write(anomaly.Record{Kind: anomaly.KindFrameSemanticInconsistent, Hub: "line1"}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/anomalies?kind=correlation_missed", nil)
	rec := httptest.NewRecorder()
	s.handleAnomalies(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	anomalies, ok := body["anomalies"].([]any)
	if !ok || len(anomalies) != 1 {
		t.Fatalf("anomalies = %v", body["anomalies"])
	}
}
