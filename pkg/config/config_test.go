package config

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleYAML = `
hubs:
  - name: line1
    mode: udp
    host: 0.0.0.0
    port: 5020
packet_log_path: ./packets.csv
anomaly_ledger_path: ./anomalies.db
event_bus_replay_size: 2
sensor_bindings:
  - name: boiler_temp
    hub: line1
    register: 10
    scale: 0.1
  - name: bad_binding
    hub: line1
    register: 11
logging:
  level: info
  format: text
  output: stdout
api:
  rest_addr: ":8080"
  ws_addr: ":8081"
  users: ["operator"]
`

func TestLoadValidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Hubs) != 1 || cfg.Hubs[0].Name != "line1" {
		t.Fatalf("hubs = %+v", cfg.Hubs)
	}
	// bad_binding has no `scale` (required) and must be dropped, not fail the load.
	if len(cfg.SensorBindings) != 1 || cfg.SensorBindings[0].Name != "boiler_temp" {
		t.Fatalf("sensor bindings = %+v", cfg.SensorBindings)
	}
}

func TestLoadMissingPathFallsBackToDefault(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Hubs) == 0 {
		t.Fatal("expected DefaultConfig to seed at least one hub")
	}
}

func TestScaledValueAppliesScaleAndOffset(t *testing.T) {
	b := SensorBinding{Scale: 0.1, Offset: -5}
	v, label, isState := b.ScaledValue(100)
	if isState {
		t.Fatal("expected a numeric value, not a state label")
	}
	if v != 5 {
		t.Fatalf("v = %v, want 5", v)
	}
	if label != "" {
		t.Fatalf("label = %q", label)
	}
}

func TestScaledValueResolvesStateMap(t *testing.T) {
	b := SensorBinding{Scale: 1, StateMap: map[uint16]string{0: "off", 1: "on"}}
	_, label, isState := b.ScaledValue(1)
	if !isState || label != "on" {
		t.Fatalf("label=%q isState=%v, want on/true", label, isState)
	}
}
