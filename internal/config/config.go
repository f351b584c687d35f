// Package config holds the configuration of a validator's safety rules.
package config

import (
	"fmt"
	"time"

	"github.com/relab/safetyrules"
	"github.com/relab/safetyrules/storage"
)

// Service types.
const (
	ServiceLocal          = "local"
	ServiceSerializer     = "serializer"
	ServiceThread         = "thread"
	ServiceSpawnedProcess = "spawned-process"
)

// NodeConfig is the configuration of a validator's safety rules.
type NodeConfig struct {
	// Author is the hex encoded account address of the validator.
	Author      string      `mapstructure:"author"`
	SafetyRules SafetyRules `mapstructure:"safety-rules"`
	Test        Test        `mapstructure:"test"`
}

// SafetyRules configures the storage and execution topology of the engine.
type SafetyRules struct {
	Backend Backend `mapstructure:"backend"`
	Service Service `mapstructure:"service"`
	// MetricsListen is the address of the prometheus endpoint. Empty disables the endpoint.
	MetricsListen string `mapstructure:"metrics-listen"`
}

// Backend configures the storage backend.
type Backend struct {
	Type string `mapstructure:"type"`
	Path string `mapstructure:"path"`
	// Default seeds the backend with the test consensus key.
	Default    bool   `mapstructure:"default"`
	Passphrase string `mapstructure:"passphrase"`
}

// Service configures the execution topology.
type Service struct {
	Type string `mapstructure:"type"`
	// Executable and Args start the child of the spawned-process service.
	Executable      string        `mapstructure:"executable"`
	Args            []string      `mapstructure:"args"`
	Timeout         time.Duration `mapstructure:"timeout"`
	RestartInterval time.Duration `mapstructure:"restart-interval"`
}

// Test holds bootstrap material for tests and local networks.
type Test struct {
	// ConsensusKey is the path of a PEM encoded private key.
	ConsensusKey string `mapstructure:"consensus-key"`
}

// Default returns a configuration with an in-memory backend and the local service.
func Default() *NodeConfig {
	return &NodeConfig{
		SafetyRules: SafetyRules{
			Backend: Backend{Type: storage.TypeInMemory},
			Service: Service{Type: ServiceLocal, Timeout: 5 * time.Second, RestartInterval: time.Second},
		},
	}
}

// SeedsKey returns true if the backend is seeded with the test consensus key.
func (c *NodeConfig) SeedsKey() bool {
	return c.SafetyRules.Backend.Type == storage.TypeInMemory || c.SafetyRules.Backend.Default
}

// StorageOptions returns the options that open the configured backend.
func (c *NodeConfig) StorageOptions() storage.Options {
	b := c.SafetyRules.Backend
	return storage.Options{Type: b.Type, Path: b.Path, Passphrase: b.Passphrase}
}

// Validate returns an error wrapping safetyrules.ErrConfiguration if the configuration cannot be used.
func (c *NodeConfig) Validate() error {
	if _, err := safetyrules.ParseAuthor(c.Author); err != nil {
		return invalid("author: %v", err)
	}

	b := c.SafetyRules.Backend
	switch b.Type {
	case storage.TypeInMemory:
	case storage.TypeOnDisk, storage.TypeLevelDB, storage.TypeBadger, storage.TypeSecure:
		if b.Path == "" {
			return invalid("backend type '%s' requires a path", b.Type)
		}
	default:
		return invalid("unknown backend type '%s'", b.Type)
	}
	if b.Type == storage.TypeSecure && b.Passphrase == "" {
		return invalid("backend type '%s' requires a passphrase", b.Type)
	}
	if c.SeedsKey() && c.Test.ConsensusKey == "" {
		return invalid("backend type '%s' (default: %t) requires test.consensus-key", b.Type, b.Default)
	}

	s := c.SafetyRules.Service
	switch s.Type {
	case ServiceLocal, ServiceSerializer, ServiceThread:
	case ServiceSpawnedProcess:
		if b.Type == storage.TypeInMemory {
			return invalid("service type '%s' cannot use an in-memory backend", s.Type)
		}
	default:
		return invalid("unknown service type '%s'", s.Type)
	}
	if s.Timeout < 0 || s.RestartInterval < 0 {
		return invalid("negative service timeout or restart interval")
	}
	return nil
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", safetyrules.ErrConfiguration, fmt.Sprintf(format, args...))
}
