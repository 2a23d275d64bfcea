// Package config loads the server configuration from a YAML file, applying
// defaults for anything left unset.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// HTTPAddr serves the session API and the websocket endpoint.
	HTTPAddr string `yaml:"http_addr"`
	// QUICAddr serves full-state sync snapshots to reconnecting replicas.
	QUICAddr string `yaml:"quic_addr"`
	LogLevel string `yaml:"log_level"`

	Undo     UndoConfig     `yaml:"undo"`
	Presence PresenceConfig `yaml:"presence"`
}

type UndoConfig struct {
	// MaxBatches is the stack size that triggers truncation.
	MaxBatches int `yaml:"max_batches"`
	// KeepBatches is how many of the newest batches survive truncation.
	KeepBatches int `yaml:"keep_batches"`
}

type PresenceConfig struct {
	// IdleAfter is how long without activity before an active participant
	// is marked idle. Zero disables the sweep.
	IdleAfter time.Duration `yaml:"idle_after"`
	// SweepEvery is the idle sweep interval.
	SweepEvery time.Duration `yaml:"sweep_every"`
}

// UnmarshalYAML accepts "5m"-style duration strings, which yaml cannot
// decode into time.Duration on its own.
func (p *PresenceConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		IdleAfter  string `yaml:"idle_after"`
		SweepEvery string `yaml:"sweep_every"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw.IdleAfter != "" {
		d, err := time.ParseDuration(raw.IdleAfter)
		if err != nil {
			return fmt.Errorf("idle_after: %w", err)
		}
		p.IdleAfter = d
	}
	if raw.SweepEvery != "" {
		d, err := time.ParseDuration(raw.SweepEvery)
		if err != nil {
			return fmt.Errorf("sweep_every: %w", err)
		}
		p.SweepEvery = d
	}
	return nil
}

func Default() Config {
	return Config{
		HTTPAddr: "localhost:8080",
		QUICAddr: "localhost:8443",
		LogLevel: "info",
		Undo: UndoConfig{
			MaxBatches:  100,
			KeepBatches: 50,
		},
		Presence: PresenceConfig{
			IdleAfter:  5 * time.Minute,
			SweepEvery: 30 * time.Second,
		},
	}
}

// Load reads path and unmarshals it over the defaults. An empty path returns
// the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}
