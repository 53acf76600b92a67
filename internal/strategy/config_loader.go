package strategy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is one strategy instance entry in the YAML file.
type Config struct {
	ID      string         `yaml:"id"`
	Name    string         `yaml:"name"`
	Type    string         `yaml:"type"`
	Enabled bool           `yaml:"enabled"`
	Params  map[string]any `yaml:"params"`
}

// ConfigFile is the top-level YAML structure.
type ConfigFile struct {
	Strategies []Config `yaml:"strategies"`
}

// LoadConfig reads strategy instances from a YAML file.
func LoadConfig(path string) ([]Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file ConfigFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return file.Strategies, nil
}

// FirstEnabled returns the first enabled instance. The engine runs one
// strategy at a time; extra enabled entries are ignored by the caller.
func FirstEnabled(configs []Config) (Config, error) {
	for _, cfg := range configs {
		if cfg.Enabled {
			return cfg, nil
		}
	}
	return Config{}, fmt.Errorf("no enabled strategy in config")
}

// Build constructs a strategy instance by type.
func Build(cfg Config) (Strategy, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("strategy config missing id")
	}
	switch cfg.Type {
	case "sma_cross":
		return NewSMACross(cfg.ID, SMAParams{
			ShortWindow:     paramInt(cfg.Params, "short_window"),
			LongWindow:      paramInt(cfg.Params, "long_window"),
			VolumeWindow:    paramInt(cfg.Params, "volume_window"),
			VolumeThreshold: paramFloat(cfg.Params, "volume_threshold"),
			StopLossPct:     paramFloat(cfg.Params, "stop_loss_pct"),
			FlattenAt:       paramString(cfg.Params, "flatten_at"),
		})
	case "rsi":
		return NewRSIReversion(cfg.ID, RSIParams{
			Period:      paramInt(cfg.Params, "period"),
			Oversold:    paramFloat(cfg.Params, "oversold"),
			Overbought:  paramFloat(cfg.Params, "overbought"),
			StopLossPct: paramFloat(cfg.Params, "stop_loss_pct"),
		})
	default:
		return nil, fmt.Errorf("unknown strategy type %q", cfg.Type)
	}
}

// YAML decodes numbers as int or float64 depending on the literal, so
// the extractors accept both. Missing keys read as zero and pick up the
// strategy defaults.

func paramFloat(params map[string]any, key string) float64 {
	switch v := params[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

func paramInt(params map[string]any, key string) int {
	switch v := params[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

func paramString(params map[string]any, key string) string {
	if v, ok := params[key].(string); ok {
		return v
	}
	return ""
}
