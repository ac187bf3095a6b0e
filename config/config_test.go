package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/riftkeep/gamecore/config"
)

func writeFile(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "node.ini")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadNodeConfigAppliesCommonDefaults(t *testing.T) {
	path := writeFile(t, `
[node_common]
log_level = warn
tick_interval_ms = 50

[node1]
tcp_port = 9001
workers = 8
`)
	cfg, err := config.LoadNodeConfig(path, 1)
	require.NoError(t, err)
	require.Equal(t, 8, cfg.Workers)
	require.Equal(t, 9001, cfg.TCPPort)
	require.Equal(t, "warn", cfg.LogLevel)
	require.Equal(t, 50*time.Millisecond, cfg.TickInterval)
}

func TestLoadNodeConfigSectionOverridesCommon(t *testing.T) {
	path := writeFile(t, `
[node_common]
log_level = warn

[node1]
tcp_port = 9001
log_level = debug
`)
	cfg, err := config.LoadNodeConfig(path, 1)
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadNodeConfigMissingSectionErrors(t *testing.T) {
	path := writeFile(t, `
[node1]
tcp_port = 9001
`)
	_, err := config.LoadNodeConfig(path, 2)
	require.Error(t, err)
}

func TestLoadNodeConfigZeroWorkersErrors(t *testing.T) {
	path := writeFile(t, `
[node1]
tcp_port = 9001
workers = 0
`)
	_, err := config.LoadNodeConfig(path, 1)
	require.Error(t, err)
}

func TestLoadNodeConfigNoPortsErrors(t *testing.T) {
	path := writeFile(t, `
[node1]
workers = 4
`)
	_, err := config.LoadNodeConfig(path, 1)
	require.Error(t, err)
}

func TestLoadNodeConfigParsesAreaAndBroker(t *testing.T) {
	path := writeFile(t, `
[node1]
tcp_port = 9001
area_id = 7
broker_addr = 127.0.0.1:9999
is_broker = false
`)
	cfg, err := config.LoadNodeConfig(path, 1)
	require.NoError(t, err)
	require.Equal(t, uint64(7), cfg.AreaID)
	require.Equal(t, "127.0.0.1:9999", cfg.BrokerAddr)
	require.False(t, cfg.IsBroker)
}

func TestExpandEnvResolvesVariables(t *testing.T) {
	t.Setenv("GAMECORE_TEST_DSN", "postgres://x")
	require.Equal(t, "postgres://x/db", config.ExpandEnv("${GAMECORE_TEST_DSN}/db"))
}

func writeTopology(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "topology.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadTopologyValidManifest(t *testing.T) {
	path := writeTopology(t, `
broker_addr: 127.0.0.1:9999
areas:
  - id: 1
    node_addr: 127.0.0.1:9001
    auth_levels:
      1: 0
      2: 1
  - id: 2
    node_addr: 127.0.0.1:9002
`)
	topo, err := config.LoadTopology(path)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9999", topo.BrokerAddr)
	require.Len(t, topo.Areas, 2)

	area, ok := topo.AreaByID(1)
	require.True(t, ok)
	require.Equal(t, "127.0.0.1:9001", area.NodeAddr)
	require.Equal(t, uint8(1), area.AuthLevels[2])

	_, ok = topo.AreaByID(99)
	require.False(t, ok)
}

func TestLoadTopologyMissingRequiredFieldRejected(t *testing.T) {
	path := writeTopology(t, `
areas:
  - node_addr: 127.0.0.1:9001
`)
	_, err := config.LoadTopology(path)
	require.Error(t, err)
}

func TestLoadTopologyNegativeAuthLevelRejected(t *testing.T) {
	path := writeTopology(t, `
areas:
  - id: 1
    node_addr: 127.0.0.1:9001
    auth_levels:
      1: -1
`)
	_, err := config.LoadTopology(path)
	require.Error(t, err)
}

func TestLoadTopologyMalformedYAMLRejected(t *testing.T) {
	path := writeTopology(t, "areas: [this is not: valid: yaml")
	_, err := config.LoadTopology(path)
	require.Error(t, err)
}
