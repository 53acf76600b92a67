package strategy

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleYAML = `strategies:
  - id: sma-main
    name: Primary crossover
    type: sma_cross
    enabled: true
    params:
      short_window: 5
      long_window: 20
      volume_threshold: 1.8
      flatten_at: "15:40"
  - id: rsi-alt
    name: Reversion
    type: rsi
    enabled: false
    params:
      period: 7
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "strategies.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	configs, err := LoadConfig(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if len(configs) != 2 {
		t.Fatalf("got %d configs, expected 2", len(configs))
	}
	if configs[0].ID != "sma-main" || !configs[0].Enabled {
		t.Errorf("first config = %+v", configs[0])
	}
	if configs[1].Type != "rsi" || configs[1].Enabled {
		t.Errorf("second config = %+v", configs[1])
	}
}

func TestLoadConfigErrors(t *testing.T) {
	if _, err := LoadConfig("/nonexistent/strategies.yaml"); err == nil {
		t.Error("missing file did not error")
	}
	if _, err := LoadConfig(writeConfig(t, ":\nnot yaml at all\n\t")); err == nil {
		t.Error("malformed yaml did not error")
	}
}

func TestFirstEnabled(t *testing.T) {
	configs := []Config{
		{ID: "a", Enabled: false},
		{ID: "b", Enabled: true},
		{ID: "c", Enabled: true},
	}
	cfg, err := FirstEnabled(configs)
	if err != nil {
		t.Fatalf("FirstEnabled: %v", err)
	}
	if cfg.ID != "b" {
		t.Errorf("picked %q, expected b", cfg.ID)
	}

	if _, err := FirstEnabled([]Config{{ID: "a"}}); err == nil {
		t.Error("all-disabled did not error")
	}
}

func TestBuildFromConfig(t *testing.T) {
	configs, err := LoadConfig(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	sma, err := Build(configs[0])
	if err != nil {
		t.Fatalf("Build sma: %v", err)
	}
	if sma.ID() != "sma-main" || sma.Name() != "SMA_Cross_5_20" {
		t.Errorf("sma = %s / %s", sma.ID(), sma.Name())
	}

	rsi, err := Build(configs[1])
	if err != nil {
		t.Fatalf("Build rsi: %v", err)
	}
	if rsi.Name() != "RSI_Reversion_7" {
		t.Errorf("rsi name = %s", rsi.Name())
	}
}

func TestBuildRejectsBadConfig(t *testing.T) {
	if _, err := Build(Config{ID: "x", Type: "martingale"}); err == nil {
		t.Error("unknown type did not error")
	}
	if _, err := Build(Config{Type: "sma_cross"}); err == nil {
		t.Error("missing id did not error")
	}
	if _, err := Build(Config{ID: "x", Type: "sma_cross", Params: map[string]any{
		"short_window": 30, "long_window": 10,
	}}); err == nil {
		t.Error("invalid params did not error")
	}
}
