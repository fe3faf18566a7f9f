// Package config loads Fireline settings from defaults, an optional YAML
// file, and environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config carries all tunables for the edge node and the simulator client.
type Config struct {
	ListenAddr    string `env:"FIRELINE_LISTEN_ADDR" yaml:"listen_addr"`
	EdgeURL       string `env:"EDGE_URL" yaml:"edge_url"`
	IncidentID    string `env:"INCIDENT_ID" yaml:"incident_id"`
	ResponderID   string `env:"RESPONDER_ID" yaml:"responder_id"`
	DedupTTLMS    int    `env:"DEDUP_TTL_MS" yaml:"dedup_ttl_ms"`
	ResendAfterMS int    `env:"RESEND_AFTER_MS" yaml:"resend_after_ms"`
	FlushTickMS   int    `env:"FLUSH_TICK_MS" yaml:"flush_tick_ms"`
}

// Default returns the reference configuration.
func Default() *Config {
	return &Config{
		ListenAddr:    ":3000",
		EdgeURL:       "ws://localhost:3000/",
		IncidentID:    "incident-1",
		ResponderID:   "responder-1",
		DedupTTLMS:    900_000,
		ResendAfterMS: 1_500,
		FlushTickMS:   300,
	}
}

// Load builds a Config from defaults, then the YAML file at path (skipped
// when path is empty or the file does not exist), then the environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			// Optional file.
		case err != nil:
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.ListenAddr == "" {
		return errors.New("config: listen_addr must not be empty")
	}
	if c.DedupTTLMS <= 0 {
		return fmt.Errorf("config: dedup_ttl_ms must be positive, got %d", c.DedupTTLMS)
	}
	if c.ResendAfterMS <= 0 {
		return fmt.Errorf("config: resend_after_ms must be positive, got %d", c.ResendAfterMS)
	}
	if c.FlushTickMS <= 0 {
		return fmt.Errorf("config: flush_tick_ms must be positive, got %d", c.FlushTickMS)
	}
	return nil
}

// DedupTTL returns the dedup effect window as a duration.
func (c *Config) DedupTTL() time.Duration { return time.Duration(c.DedupTTLMS) * time.Millisecond }

// ResendAfter returns the client retry timeout as a duration.
func (c *Config) ResendAfter() time.Duration {
	return time.Duration(c.ResendAfterMS) * time.Millisecond
}

// FlushTick returns the client flush cadence as a duration.
func (c *Config) FlushTick() time.Duration { return time.Duration(c.FlushTickMS) * time.Millisecond }
