package config

import (
	"fmt"
	"strings"

	"github.com/relab/safetyrules"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variables that override the configuration file.
// For example, SAFETYRULES_SAFETY_RULES_BACKEND_PATH overrides safety-rules.backend.path.
const EnvPrefix = "safetyrules"

var keys = []string{
	"author",
	"safety-rules.backend.type",
	"safety-rules.backend.path",
	"safety-rules.backend.default",
	"safety-rules.backend.passphrase",
	"safety-rules.service.type",
	"safety-rules.service.executable",
	"safety-rules.service.args",
	"safety-rules.service.timeout",
	"safety-rules.service.restart-interval",
	"safety-rules.metrics-listen",
	"test.consensus-key",
}

// NewViper returns a viper instance with the defaults of the configuration and environment overrides.
func NewViper() *viper.Viper {
	v := viper.New()
	def := Default()
	v.SetDefault("author", def.Author)
	v.SetDefault("safety-rules.backend.type", def.SafetyRules.Backend.Type)
	v.SetDefault("safety-rules.backend.path", "")
	v.SetDefault("safety-rules.backend.default", false)
	v.SetDefault("safety-rules.backend.passphrase", "")
	v.SetDefault("safety-rules.service.type", def.SafetyRules.Service.Type)
	v.SetDefault("safety-rules.service.executable", "")
	v.SetDefault("safety-rules.service.args", []string{})
	v.SetDefault("safety-rules.service.timeout", def.SafetyRules.Service.Timeout)
	v.SetDefault("safety-rules.service.restart-interval", def.SafetyRules.Service.RestartInterval)
	v.SetDefault("safety-rules.metrics-listen", "")
	v.SetDefault("test.consensus-key", "")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads and validates the configuration file at path. YAML, TOML and JSON files are supported.
func Load(path string) (*NodeConfig, error) {
	v := NewViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("%w: failed to read %s: %v", safetyrules.ErrConfiguration, path, err)
	}
	return FromViper(v)
}

// FromViper decodes and validates the configuration held by v.
func FromViper(v *viper.Viper) (*NodeConfig, error) {
	cfg := &NodeConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", safetyrules.ErrConfiguration, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to path, readable only by the owner. The format follows the file extension.
func Save(cfg *NodeConfig, path string) error {
	v := viper.New()
	v.SetConfigPermissions(0o600)
	values := []interface{}{
		cfg.Author,
		cfg.SafetyRules.Backend.Type,
		cfg.SafetyRules.Backend.Path,
		cfg.SafetyRules.Backend.Default,
		cfg.SafetyRules.Backend.Passphrase,
		cfg.SafetyRules.Service.Type,
		cfg.SafetyRules.Service.Executable,
		cfg.SafetyRules.Service.Args,
		cfg.SafetyRules.Service.Timeout.String(),
		cfg.SafetyRules.Service.RestartInterval.String(),
		cfg.SafetyRules.MetricsListen,
		cfg.Test.ConsensusKey,
	}
	for i, key := range keys {
		v.Set(key, values[i])
	}
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config to %s: %w", path, err)
	}
	return nil
}
