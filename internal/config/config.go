// Package config loads the gateway's JSON configuration file, following the
// same shape the corpus uses elsewhere: a struct decoded from JSON, an
// environment variable naming the file path, defaults filled in and a
// verify() pass run after every load.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"devicehub/internal/logging"
)

// DispatchStrategy selects how client ids are assigned to app-dispatch
// shards (see appmux.ShardPool).
type DispatchStrategy string

const (
	DispatchConsistentHash DispatchStrategy = "consistent_hash"
	DispatchRoundRobin     DispatchStrategy = "round_robin"
	DispatchWeightedRandom DispatchStrategy = "weighted_random"
)

// GatewayConfig is the top-level configuration for a devicehub process.
type GatewayConfig struct {
	Hostname string `json:"hostname"`
	Port     int    `json:"port"`

	// TimeoutConnectionMS is the RX-silence deadline for an attached
	// transport; 0 uses the 1500ms default.
	TimeoutConnectionMS int `json:"timeout_connection_ms"`
	// TimeoutObjectS is how long a Client Object survives after its
	// transport is lost before eviction. Omitted uses the 3600s default;
	// an explicit null, 0 or a negative value means infinite.
	TimeoutObjectS *int64 `json:"timeout_object_s"`

	RXBufferCap int `json:"rx_buffer_cap"`
	TXBufferCap int `json:"tx_buffer_cap"`

	DispatchStrategy DispatchStrategy `json:"dispatch_strategy"`
	DispatchShards   int              `json:"dispatch_shards"`

	// ReconnectFloodPerIP / ReconnectFloodWindowS guard the Connection
	// Layer against a device fleet hammering the listener with
	// connections. Every accepted connection counts, rebinding or not;
	// a limit of 0 disables the guard.
	ReconnectFloodPerIP   int `json:"reconnect_flood_per_ip"`
	ReconnectFloodWindowS int `json:"reconnect_flood_window_s"`

	// EtcdEndpoints lists etcd endpoints for the optional ops
	// self-registration (see registry.EtcdRegistry). The gateway does not
	// read this field itself: it registers only when an OpsRegistry is
	// passed with gateway.WithOpsRegistry. It never participates in
	// client-id routing.
	EtcdEndpoints []string `json:"etcd_endpoints"`

	Log logging.Config `json:"log"`
}

const (
	defaultTimeoutConnectionMS = 1500
	defaultTimeoutObjectS      = int64(3600)
	defaultRXBufferCap         = 100
	defaultTXBufferCap         = 100
	defaultDispatchShards      = 16
)

// Load reads and verifies a config file, applying defaults for anything
// left zero-valued. An empty path falls back to $DEVICEHUB_CONFIG, then
// "config/devicehub.json".
func Load(path string) (*GatewayConfig, error) {
	if path == "" {
		path = os.Getenv("DEVICEHUB_CONFIG")
	}
	if path == "" {
		path = "config/devicehub.json"
	}
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg GatewayConfig
	if err := json.Unmarshal(buf, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	// An explicit "timeout_object_s": null means infinite; only an omitted
	// key falls back to the default in applyDefaults.
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(buf, &raw); err == nil {
		if v, ok := raw["timeout_object_s"]; ok && string(v) == "null" {
			infinite := int64(0)
			cfg.TimeoutObjectS = &infinite
		}
	}
	applyDefaults(&cfg)
	if err := cfg.verify(); err != nil {
		return nil, fmt.Errorf("config: verify %s: %w", path, err)
	}
	return &cfg, nil
}

func applyDefaults(cfg *GatewayConfig) {
	if cfg.Hostname == "" {
		cfg.Hostname = "0.0.0.0"
	}
	if cfg.Port == 0 {
		cfg.Port = 8888
	}
	if cfg.TimeoutConnectionMS == 0 {
		cfg.TimeoutConnectionMS = defaultTimeoutConnectionMS
	}
	if cfg.TimeoutObjectS == nil {
		v := defaultTimeoutObjectS
		cfg.TimeoutObjectS = &v
	}
	if cfg.RXBufferCap == 0 {
		cfg.RXBufferCap = defaultRXBufferCap
	}
	if cfg.TXBufferCap == 0 {
		cfg.TXBufferCap = defaultTXBufferCap
	}
	if cfg.DispatchStrategy == "" {
		cfg.DispatchStrategy = DispatchConsistentHash
	}
	if cfg.DispatchShards == 0 {
		cfg.DispatchShards = defaultDispatchShards
	}
}

// InfiniteObjectTimeout reports whether the client object TTL means
// "never evict except on shutdown".
func (c *GatewayConfig) InfiniteObjectTimeout() bool {
	return c.TimeoutObjectS == nil || *c.TimeoutObjectS <= 0
}

func (c *GatewayConfig) verify() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.TimeoutConnectionMS <= 0 {
		return fmt.Errorf("timeout_connection_ms must be positive")
	}
	if c.RXBufferCap <= 0 || c.TXBufferCap <= 0 {
		return fmt.Errorf("buffer caps must be positive")
	}
	switch c.DispatchStrategy {
	case DispatchConsistentHash, DispatchRoundRobin, DispatchWeightedRandom:
	default:
		return fmt.Errorf("unknown dispatch_strategy %q", c.DispatchStrategy)
	}
	if c.DispatchShards <= 0 {
		return fmt.Errorf("dispatch_shards must be positive")
	}
	return nil
}
