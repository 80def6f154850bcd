// Package config loads the relay's JSON configuration file. Fields use
// pointers with omitempty so a partial file overrides only what it names;
// everything else keeps its default.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/suscart-data/freshrelay/internal/relay"
)

// Config is the file schema. All fields are optional.
type Config struct {
	ListenAddr   *string `json:"listen_addr,omitempty"`
	DatabasePath *string `json:"database_path,omitempty"`
	DetectorURL  *string `json:"detector_url,omitempty"`

	ProducerToken *string `json:"producer_token,omitempty"`

	// Duration strings like "10s"
	IdleTimeout       *string `json:"idle_timeout,omitempty"`
	ProcessingTimeout *string `json:"processing_timeout,omitempty"`

	FrameQueueCapacity *int `json:"frame_queue_capacity,omitempty"`
	EventQueueCapacity *int `json:"event_queue_capacity,omitempty"`
}

// Load reads and validates a config file. A missing path returns an empty
// config so every value falls back to its default.
func Load(path string) (*Config, error) {
	if path == "" {
		return &Config{}, nil
	}

	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks duration strings and capacities.
func (c *Config) Validate() error {
	if c.IdleTimeout != nil && *c.IdleTimeout != "" {
		if _, err := time.ParseDuration(*c.IdleTimeout); err != nil {
			return fmt.Errorf("invalid idle_timeout '%s': %w", *c.IdleTimeout, err)
		}
	}
	if c.ProcessingTimeout != nil && *c.ProcessingTimeout != "" {
		if _, err := time.ParseDuration(*c.ProcessingTimeout); err != nil {
			return fmt.Errorf("invalid processing_timeout '%s': %w", *c.ProcessingTimeout, err)
		}
	}
	if c.FrameQueueCapacity != nil && *c.FrameQueueCapacity <= 0 {
		return fmt.Errorf("frame_queue_capacity must be positive, got %d", *c.FrameQueueCapacity)
	}
	if c.EventQueueCapacity != nil && *c.EventQueueCapacity <= 0 {
		return fmt.Errorf("event_queue_capacity must be positive, got %d", *c.EventQueueCapacity)
	}
	return nil
}

// GetListenAddr returns the listen_addr value or the default.
func (c *Config) GetListenAddr() string {
	if c.ListenAddr == nil || *c.ListenAddr == "" {
		return ":8080"
	}
	return *c.ListenAddr
}

// GetDatabasePath returns the database_path value or the default.
func (c *Config) GetDatabasePath() string {
	if c.DatabasePath == nil || *c.DatabasePath == "" {
		return "inventory.db"
	}
	return *c.DatabasePath
}

// GetDetectorURL returns the detector_url value, or empty when no detector
// sidecar is configured.
func (c *Config) GetDetectorURL() string {
	if c.DetectorURL == nil {
		return ""
	}
	return *c.DetectorURL
}

// GetProducerToken returns the producer_token value, or empty when producer
// handshakes are unauthenticated.
func (c *Config) GetProducerToken() string {
	if c.ProducerToken == nil {
		return ""
	}
	return *c.ProducerToken
}

// GetIdleTimeout parses and returns the idle_timeout as a time.Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	if c.IdleTimeout == nil || *c.IdleTimeout == "" {
		return 10 * time.Second
	}
	d, err := time.ParseDuration(*c.IdleTimeout)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// GetProcessingTimeout parses and returns the processing_timeout as a
// time.Duration.
func (c *Config) GetProcessingTimeout() time.Duration {
	if c.ProcessingTimeout == nil || *c.ProcessingTimeout == "" {
		return 2 * time.Second
	}
	d, err := time.ParseDuration(*c.ProcessingTimeout)
	if err != nil {
		return 2 * time.Second
	}
	return d
}

// GetFrameQueueCapacity returns the frame_queue_capacity value or the default.
func (c *Config) GetFrameQueueCapacity() int {
	if c.FrameQueueCapacity == nil {
		return 8
	}
	return *c.FrameQueueCapacity
}

// GetEventQueueCapacity returns the event_queue_capacity value or the default.
func (c *Config) GetEventQueueCapacity() int {
	if c.EventQueueCapacity == nil {
		return 1000
	}
	return *c.EventQueueCapacity
}

// RelayConfig converts the file values to a hub configuration. Processor,
// Snapshots and Clock are wired by the caller.
func (c *Config) RelayConfig() relay.Config {
	return relay.Config{
		FrameQueueCapacity: c.GetFrameQueueCapacity(),
		EventQueueCapacity: c.GetEventQueueCapacity(),
		IdleTimeout:        c.GetIdleTimeout(),
		ProcessingTimeout:  c.GetProcessingTimeout(),
		Token:              c.GetProducerToken(),
	}
}
