// Package config resolves server and neuron configuration through a
// four-level hierarchy: compiled-in defaults, an optional YAML file,
// environment variable overrides, and finally CLI flag overrides applied
// by the caller.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/axonmesh/axonmesh/pkg/signal"
)

// NeuronConfig is the stable identity and connection declaration for one
// neuron, as accepted in the configuration schema (§6).
type NeuronConfig struct {
	ID                 string       `yaml:"id"`
	Layer              signal.Layer `yaml:"layer"`
	ForwardConnections []string     `yaml:"forwardConnections"`
	BackwardConnections []string    `yaml:"backwardConnections"`
	SystemPrompt       string       `yaml:"systemPrompt,omitempty"`
	ToolOverrides      []string     `yaml:"toolOverrides,omitempty"`
}

// RemoteServer declares a peer server reachable over the peer transport.
type RemoteServer struct {
	ID   string `yaml:"id"`
	Addr string `yaml:"addr"`
	Port int    `yaml:"port"`
}

// BreakerConfig carries circuit breaker defaults (Open Question in §9,
// resolved here with the suggested defaults).
type BreakerConfig struct {
	Threshold int           `yaml:"threshold"`
	Backoff   time.Duration `yaml:"backoff"`
}

// CacheConfig carries per-layer response cache bounds (§4.3 step 8).
type CacheConfig struct {
	Capacity int           `yaml:"capacity"`
	TTL      time.Duration `yaml:"ttl"`
}

// DiscoveryConfig groups UDP multicast discovery settings (§6).
type DiscoveryConfig struct {
	Enabled              bool          `yaml:"enabled"`
	MulticastGroup       string        `yaml:"multicastGroup"`
	MulticastPort        int           `yaml:"multicastPort"`
	AnnounceInterval     time.Duration `yaml:"announceInterval"`
	MissedIntervalsDead  int           `yaml:"missedIntervalsDead"`
}

// ResourceConfig groups resource manager limits (C10).
type ResourceConfig struct {
	TotalCPUCores   float64 `yaml:"totalCpuCores"`
	TotalMemoryMiB  int64   `yaml:"totalMemoryMiB"`
	SweepInterval   time.Duration `yaml:"sweepInterval"`
}

// ReorgConfig groups self-reorganization controller settings (C9).
type ReorgConfig struct {
	EverySignals      int           `yaml:"everySignals"`
	LoadImbalanceMax  float64       `yaml:"loadImbalanceMax"`
	InactiveEdgeAge   time.Duration `yaml:"inactiveEdgeAge"`
	InactiveEdgeUsage int           `yaml:"inactiveEdgeUsage"`
	SpecialistMinActivations int    `yaml:"specialistMinActivations"`
	SpecialistMinScore       float64 `yaml:"specialistMinScore"`
}

// ServerConfig is the top-level configuration the core consumes (§6).
type ServerConfig struct {
	ServerID      string         `yaml:"serverId"`
	ListenAddr    string         `yaml:"listenAddr"`
	ListenPort    int            `yaml:"listenPort"`
	RemoteServers []RemoteServer `yaml:"remoteServers"`
	Neurons       []NeuronConfig `yaml:"neurons"`

	MaxHops       int            `yaml:"maxHops"`
	RemoteTimeout time.Duration  `yaml:"remoteTimeout"`
	LMTimeout     time.Duration  `yaml:"lmTimeout"`
	MaxToolIterations int        `yaml:"maxToolIterations"`

	Breaker   BreakerConfig   `yaml:"breaker"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Resource  ResourceConfig  `yaml:"resource"`
	Reorg     ReorgConfig     `yaml:"reorg"`

	// CacheByLayer holds the per-layer cache bounds named in §4.3 step 8.
	// Layers absent from the map (L1, L5 by default) have caching disabled.
	CacheByLayer map[signal.Layer]CacheConfig `yaml:"cacheByLayer"`
}

// DefaultConfig returns the compiled-in defaults, matching the suggested
// values called out across §4 and §9.
func DefaultConfig() *ServerConfig {
	return &ServerConfig{
		ServerID:   "axonmesh-local",
		ListenAddr: "0.0.0.0",
		ListenPort: 7100,

		MaxHops:           5,
		RemoteTimeout:     30 * time.Second,
		LMTimeout:         30 * time.Second,
		MaxToolIterations: 5,

		Breaker: BreakerConfig{
			Threshold: 5,
			Backoff:   30 * time.Second,
		},
		Discovery: DiscoveryConfig{
			Enabled:             true,
			MulticastGroup:      "239.0.0.1",
			MulticastPort:       7200,
			AnnounceInterval:    5 * time.Second,
			MissedIntervalsDead: 3,
		},
		Resource: ResourceConfig{
			TotalCPUCores:  4,
			TotalMemoryMiB: 8192,
			SweepInterval:  1 * time.Second,
		},
		Reorg: ReorgConfig{
			EverySignals:             100,
			LoadImbalanceMax:         0.3,
			InactiveEdgeAge:          5 * time.Minute,
			InactiveEdgeUsage:        10,
			SpecialistMinActivations: 100,
			SpecialistMinScore:       0.8,
		},
		CacheByLayer: map[signal.Layer]CacheConfig{
			signal.L2: {Capacity: 2000, TTL: 10 * time.Minute},
			signal.L3: {Capacity: 1000, TTL: 5 * time.Minute},
			signal.L4: {Capacity: 500, TTL: 2 * time.Minute},
		},
	}
}

// FromFile overlays a YAML file's contents onto the defaults.
func FromFile(path string) (*ServerConfig, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

// FromEnv overlays AXONMESH_* environment variables onto cfg in place.
func FromEnv(cfg *ServerConfig) {
	setEnvStr(&cfg.ServerID, "AXONMESH_SERVER_ID")
	setEnvStr(&cfg.ListenAddr, "AXONMESH_LISTEN_ADDR")
	setEnvInt(&cfg.ListenPort, "AXONMESH_LISTEN_PORT")
	setEnvInt(&cfg.MaxHops, "AXONMESH_MAX_HOPS")
	setEnvDuration(&cfg.RemoteTimeout, "AXONMESH_REMOTE_TIMEOUT")
	setEnvDuration(&cfg.LMTimeout, "AXONMESH_LM_TIMEOUT")
	setEnvInt(&cfg.MaxToolIterations, "AXONMESH_MAX_TOOL_ITERATIONS")
	setEnvInt(&cfg.Breaker.Threshold, "AXONMESH_BREAKER_THRESHOLD")
	setEnvDuration(&cfg.Breaker.Backoff, "AXONMESH_BREAKER_BACKOFF")
	setEnvBool(&cfg.Discovery.Enabled, "AXONMESH_DISCOVERY_ENABLED")
	setEnvStr(&cfg.Discovery.MulticastGroup, "AXONMESH_MULTICAST_GROUP")
	setEnvInt(&cfg.Discovery.MulticastPort, "AXONMESH_MULTICAST_PORT")
}

// Load resolves defaults -> YAML file -> environment. CLI flag overrides
// are applied by the caller after Load returns.
func Load(configPath string) (*ServerConfig, error) {
	cfg, err := FromFile(configPath)
	if err != nil {
		return nil, err
	}
	FromEnv(cfg)
	return cfg, nil
}

// Validate checks structural validity and logs warnings for risky but
// legal settings. It returns on the first structural error and logs one
// warning line per risky setting it finds.
func (c *ServerConfig) Validate() error {
	if c.ServerID == "" {
		return fmt.Errorf("serverId must not be empty")
	}
	if c.ListenPort <= 0 || c.ListenPort > 65535 {
		return fmt.Errorf("listenPort %d out of range", c.ListenPort)
	}
	if c.MaxHops <= 0 {
		return fmt.Errorf("maxHops must be positive, got %d", c.MaxHops)
	}
	if c.Breaker.Threshold <= 0 {
		return fmt.Errorf("breaker.threshold must be positive, got %d", c.Breaker.Threshold)
	}
	if c.Breaker.Backoff <= 0 {
		return fmt.Errorf("breaker.backoff must be positive, got %s", c.Breaker.Backoff)
	}
	if c.MaxToolIterations <= 0 {
		return fmt.Errorf("maxToolIterations must be positive, got %d", c.MaxToolIterations)
	}

	seen := make(map[string]bool, len(c.Neurons))
	for _, n := range c.Neurons {
		if n.ID == "" {
			return fmt.Errorf("neuron config with empty id")
		}
		if !n.Layer.Valid() {
			return fmt.Errorf("neuron %q declares unknown layer %q", n.ID, n.Layer)
		}
		if seen[n.ID] {
			return fmt.Errorf("duplicate neuron id %q in configuration", n.ID)
		}
		seen[n.ID] = true
		if len(n.ForwardConnections) == 0 && len(n.BackwardConnections) == 0 {
			logWarnf("neuron %q declares no forward or backward connections", n.ID)
		}
	}
	for _, n := range c.Neurons {
		for _, fc := range n.ForwardConnections {
			if !seen[fc] {
				logWarnf("neuron %q forward-connects to undeclared id %q", n.ID, fc)
			}
		}
	}
	return nil
}

func setEnvStr(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func setEnvBool(dst *bool, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = strings.EqualFold(v, "true") || v == "1"
	}
}

func setEnvInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setEnvDuration(dst *time.Duration, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
