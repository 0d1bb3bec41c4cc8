// Package config loads the process-wide configuration tree described in
// the external interfaces surface: network, security, routing,
// network_mesh, and metrics options, from YAML.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ContractAddresses names the on-chain contracts the Bridge submits to.
type ContractAddresses struct {
	Bridge         string `yaml:"bridge"`
	ChannelManager string `yaml:"channel_manager"`
	ValidatorSet   string `yaml:"validator_set"`
}

// GasPolicy bounds the Bridge's gas pricing.
type GasPolicy struct {
	MaxPrice      uint64  `yaml:"max_price"`
	Multiplier    float64 `yaml:"multiplier"`
	MaxFee        *uint64 `yaml:"max_fee,omitempty"`
	MaxPriority   *uint64 `yaml:"max_priority,omitempty"`
}

// Network configures the RPC/chain collaborators Bridge depends on.
type Network struct {
	RPCURL    string            `yaml:"rpc_url"`
	WSURL     string            `yaml:"ws_url,omitempty"`
	NetworkID uint64            `yaml:"network_id"`
	ChainID   uint64            `yaml:"chain_id"`
	Contracts ContractAddresses `yaml:"contracts"`
	Gas       GasPolicy         `yaml:"gas"`
}

// Security configures StateManager/Bridge admission limits.
type Security struct {
	MinValidatorStake  uint64 `yaml:"min_validator_stake"`
	MaxChannelsPerNode int    `yaml:"max_channels_per_node"`
	TimeoutPeriod      uint64 `yaml:"timeout_period_seconds"`
}

// Routing configures PathFinder/RoutingManager policy bounds.
type Routing struct {
	MaxHops            int    `yaml:"max_hops"`
	MaxTimelockBlocks  uint64 `yaml:"max_timelock_blocks"`
	MaxFeeRatePPM      uint64 `yaml:"max_fee_rate_ppm"`
	MinChannelCapacity string `yaml:"min_channel_capacity"`
}

// NetworkMesh configures PeerManager.
type NetworkMesh struct {
	MaxPeers                 int   `yaml:"max_peers"`
	HeartbeatIntervalSeconds int   `yaml:"heartbeat_interval_seconds"`
	ConnectionTimeoutSeconds int   `yaml:"connection_timeout_seconds"`
	MaxRetryAttempts         int   `yaml:"max_retry_attempts"`
	BandwidthLimit           int64 `yaml:"bandwidth_limit"`
}

// Metrics configures the Prometheus exporter.
type Metrics struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// Config is the full recognized option tree, enumerated in the external
// interfaces surface.
type Config struct {
	Network     Network     `yaml:"network"`
	Security    Security    `yaml:"security"`
	Routing     Routing     `yaml:"routing"`
	NetworkMesh NetworkMesh `yaml:"network_mesh"`
	Metrics     Metrics     `yaml:"metrics"`
}

// Default returns conservative defaults, overridden by whatever the
// loaded file specifies.
func Default() *Config {
	return &Config{
		Security: Security{MaxChannelsPerNode: 1000, TimeoutPeriod: 86400},
		Routing:  Routing{MaxHops: 5, MaxTimelockBlocks: 1000, MaxFeeRatePPM: 10_000},
		NetworkMesh: NetworkMesh{
			MaxPeers: 50, HeartbeatIntervalSeconds: 30,
			ConnectionTimeoutSeconds: 10, MaxRetryAttempts: 3,
		},
		Metrics: Metrics{Enabled: false, Host: "127.0.0.1", Port: 9090},
	}
}

// Load reads and parses a YAML configuration file at path, starting from
// Default() so an absent section falls back sensibly.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the minimal set of invariants the rest of the system
// assumes hold: positive routing.max_hops, network_mesh.max_peers and
// network_mesh.heartbeat_interval_seconds. The RPC URL and the other
// options are not checked.
func (c *Config) Validate() error {
	if c.Routing.MaxHops <= 0 {
		return fmt.Errorf("routing.max_hops must be positive, got %d", c.Routing.MaxHops)
	}
	if c.NetworkMesh.MaxPeers <= 0 {
		return fmt.Errorf("network_mesh.max_peers must be positive, got %d", c.NetworkMesh.MaxPeers)
	}
	if c.NetworkMesh.HeartbeatIntervalSeconds <= 0 {
		return fmt.Errorf("network_mesh.heartbeat_interval_seconds must be positive, got %d", c.NetworkMesh.HeartbeatIntervalSeconds)
	}
	return nil
}
