package cli

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/parley-proto/parley/internal/session"
)

// NodeConfig is the YAML configuration for a running node.
type NodeConfig struct {
	// SelfID is this node's protocol identity.
	SelfID string `yaml:"self_id"`

	// ListenAddr is the UDP address the QUIC listener binds to, and the
	// address advertised to peers for directed replies.
	ListenAddr string `yaml:"listen_addr"`

	// Database is the path to the SQLite database, created if missing.
	Database string `yaml:"database"`

	// Bootstrap lists peer addresses the liveness broadcast reaches.
	Bootstrap []string `yaml:"bootstrap,omitempty"`

	// Tick is the outbound sweep interval. Zero means the engine default.
	Tick time.Duration `yaml:"tick,omitempty"`

	// Limits overrides the retry policy. Nil means protocol defaults.
	Limits *session.Limits `yaml:"limits,omitempty"`
}

// LoadNodeConfig reads and validates a node configuration file.
func LoadNodeConfig(path string) (*NodeConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg NodeConfig
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateNodeConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func validateNodeConfig(cfg *NodeConfig) error {
	if cfg.SelfID == "" {
		return fmt.Errorf("self_id is required")
	}
	if cfg.ListenAddr == "" {
		return fmt.Errorf("listen_addr is required")
	}
	if cfg.Database == "" {
		return fmt.Errorf("database is required")
	}
	if cfg.Tick < 0 {
		return fmt.Errorf("tick must be non-negative")
	}
	if cfg.Limits != nil {
		if cfg.Limits.Exchange < 0 || cfg.Limits.Finalize < 0 {
			return fmt.Errorf("limits must be non-negative")
		}
	}
	for i, addr := range cfg.Bootstrap {
		if addr == "" {
			return fmt.Errorf("bootstrap[%d]: empty address", i)
		}
	}
	return nil
}
