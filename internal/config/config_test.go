package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/relab/safetyrules"
	"github.com/relab/safetyrules/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const author = "a0000000000000000000000000000001"

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "node.yaml", `
author: `+author+`
safety-rules:
  backend:
    type: on-disk
    path: /var/lib/safetyrules/safety.cbor
  service:
    type: spawned-process
    args: [--log-level, debug]
    timeout: 250ms
  metrics-listen: localhost:9100
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)

	want := &config.NodeConfig{
		Author: author,
		SafetyRules: config.SafetyRules{
			Backend: config.Backend{Type: "on-disk", Path: "/var/lib/safetyrules/safety.cbor"},
			Service: config.Service{
				Type:            config.ServiceSpawnedProcess,
				Args:            []string{"--log-level", "debug"},
				Timeout:         250 * time.Millisecond,
				RestartInterval: time.Second,
			},
			MetricsListen: "localhost:9100",
		},
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("Load() mismatch (-want +got):\n%s", diff)
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	path := writeFile(t, "node.toml", `
author = "`+author+`"

[test]
consensus-key = "key.pem"
`)
	t.Setenv("SAFETYRULES_SAFETY_RULES_SERVICE_TYPE", "thread")
	t.Setenv("SAFETYRULES_SAFETY_RULES_SERVICE_TIMEOUT", "3s")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.ServiceThread, cfg.SafetyRules.Service.Type)
	assert.Equal(t, 3*time.Second, cfg.SafetyRules.Service.Timeout)
	assert.Equal(t, "in-memory", cfg.SafetyRules.Backend.Type)
	assert.Equal(t, "key.pem", cfg.Test.ConsensusKey)
}

func TestSave(t *testing.T) {
	want := config.Default()
	want.Author = author
	want.SafetyRules.Backend = config.Backend{Type: "secure", Path: "safety.cbor", Passphrase: "hunter2", Default: true}
	want.SafetyRules.Service.Type = config.ServiceSerializer
	want.SafetyRules.Service.Args = []string{"-v"}
	want.Test.ConsensusKey = "key.pem"

	path := filepath.Join(t.TempDir(), "node.yaml")
	require.NoError(t, config.Save(want, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	got, err := config.Load(path)
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Save() then Load() mismatch (-want +got):\n%s", diff)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(cfg *config.NodeConfig)
		ok     bool
	}{
		{"Valid", func(cfg *config.NodeConfig) {}, true},
		{"BadAuthor", func(cfg *config.NodeConfig) { cfg.Author = "xyz" }, false},
		{"MissingAuthor", func(cfg *config.NodeConfig) { cfg.Author = "" }, false},
		{"UnknownBackend", func(cfg *config.NodeConfig) { cfg.SafetyRules.Backend.Type = "vault" }, false},
		{"MissingPath", func(cfg *config.NodeConfig) { cfg.SafetyRules.Backend.Type = "leveldb" }, false},
		{"SecureWithoutPassphrase", func(cfg *config.NodeConfig) {
			cfg.SafetyRules.Backend = config.Backend{Type: "secure", Path: "s"}
		}, false},
		{"InMemoryWithoutKey", func(cfg *config.NodeConfig) { cfg.Test.ConsensusKey = "" }, false},
		{"DurableWithoutKey", func(cfg *config.NodeConfig) {
			cfg.SafetyRules.Backend = config.Backend{Type: "badger", Path: "db"}
			cfg.Test.ConsensusKey = ""
		}, true},
		{"UnknownService", func(cfg *config.NodeConfig) { cfg.SafetyRules.Service.Type = "remote" }, false},
		{"SpawnedProcessInMemory", func(cfg *config.NodeConfig) { cfg.SafetyRules.Service.Type = config.ServiceSpawnedProcess }, false},
		{"NegativeTimeout", func(cfg *config.NodeConfig) { cfg.SafetyRules.Service.Timeout = -time.Second }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Author = author
			cfg.Test.ConsensusKey = "key.pem"
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else if !errors.Is(err, safetyrules.ErrConfiguration) {
				t.Errorf("expected ErrConfiguration, got %v", err)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if !errors.Is(err, safetyrules.ErrConfiguration) {
		t.Errorf("expected ErrConfiguration, got %v", err)
	}
}
