package config

import (
	"os"
	"testing"

	"github.com/axonmesh/axonmesh/pkg/signal"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestValidateRejectsUnknownLayer(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Neurons = []NeuronConfig{{ID: "n1", Layer: signal.Layer("L9")}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown layer")
	}
}

func TestValidateRejectsDuplicateID(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Neurons = []NeuronConfig{
		{ID: "n1", Layer: signal.L3},
		{ID: "n1", Layer: signal.L4},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for duplicate neuron id")
	}
}

func TestFromFileOverlay(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "cfg-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	_, err = f.WriteString("serverId: custom-server\nlistenPort: 9100\n")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()

	cfg, err := FromFile(f.Name())
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ServerID != "custom-server" {
		t.Errorf("expected overridden serverId, got %q", cfg.ServerID)
	}
	if cfg.ListenPort != 9100 {
		t.Errorf("expected overridden listenPort, got %d", cfg.ListenPort)
	}
	// Values not present in the file retain defaults.
	if cfg.MaxHops != 5 {
		t.Errorf("expected default maxHops to survive overlay, got %d", cfg.MaxHops)
	}
}

func TestFromEnvOverlay(t *testing.T) {
	t.Setenv("AXONMESH_SERVER_ID", "env-server")
	t.Setenv("AXONMESH_LISTEN_PORT", "1234")

	cfg := DefaultConfig()
	FromEnv(cfg)

	if cfg.ServerID != "env-server" {
		t.Errorf("expected env override, got %q", cfg.ServerID)
	}
	if cfg.ListenPort != 1234 {
		t.Errorf("expected env override, got %d", cfg.ListenPort)
	}
}
