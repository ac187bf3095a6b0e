// Package config reads a node's own settings from an INI file, the same
// per-section-with-defaults shape the reference config reader uses for
// its game/gate/dispatcher sections, plus a YAML cluster topology
// manifest validated against a compiled JSON Schema so a malformed
// manifest fails at startup instead of mid-dispatch.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-ini/ini"
	"github.com/pkg/errors"
)

const (
	defaultLogLevel     = "debug"
	defaultTickInterval = 100 * time.Millisecond
)

// NodeConfig is one node's scalar settings, read from a `[node<id>]` section
// with an optional `[node_common]` section supplying defaults shared
// across every node in the file.
type NodeConfig struct {
	Workers       int
	TCPPort       int
	WebSocketPort int
	LogLevel      string
	LogFile       string
	LogStderr     bool
	TickInterval  time.Duration
	DatabaseDSN   string
	MigrationsDir string
	AreaID        uint64
	BrokerAddr    string // broker a processor (non-zero AreaID) dials; unused when empty
	IsBroker      bool
}

func defaultNodeConfig() NodeConfig {
	return NodeConfig{
		Workers:       4,
		TCPPort:       0,
		WebSocketPort: 0,
		LogLevel:      defaultLogLevel,
		LogFile:       "",
		LogStderr:     true,
		TickInterval:  defaultTickInterval,
		MigrationsDir: "txdb/migrations",
	}
}

// LoadNodeConfig reads path and returns the settings for section
// "node<id>" (e.g. "node1"), falling back to "node_common" for any key
// the node-specific section omits.
func LoadNodeConfig(path string, id int) (NodeConfig, error) {
	iniFile, err := ini.Load(path)
	if err != nil {
		return NodeConfig{}, errors.Wrapf(err, "config: load %s", path)
	}

	cfg := defaultNodeConfig()
	if common, err := iniFile.GetSection("node_common"); err == nil {
		readNodeSection(common, &cfg)
	}

	sectionName := fmt.Sprintf("node%d", id)
	sec, err := iniFile.GetSection(sectionName)
	if err != nil {
		return NodeConfig{}, errors.Wrapf(err, "config: section %q not found in %s", sectionName, path)
	}
	readNodeSection(sec, &cfg)

	if cfg.Workers <= 0 {
		return NodeConfig{}, errors.Errorf("config: node%d: workers must be positive", id)
	}
	if cfg.TCPPort == 0 && cfg.WebSocketPort == 0 {
		return NodeConfig{}, errors.Errorf("config: node%d: at least one of tcp_port/websocket_port must be set", id)
	}
	return cfg, nil
}

func readNodeSection(sec *ini.Section, cfg *NodeConfig) {
	for _, key := range sec.Keys() {
		name := strings.ToLower(key.Name())
		switch name {
		case "workers":
			cfg.Workers = key.MustInt(cfg.Workers)
		case "tcp_port":
			cfg.TCPPort = key.MustInt(cfg.TCPPort)
		case "websocket_port":
			cfg.WebSocketPort = key.MustInt(cfg.WebSocketPort)
		case "log_level":
			cfg.LogLevel = key.MustString(cfg.LogLevel)
		case "log_file":
			cfg.LogFile = key.MustString(cfg.LogFile)
		case "log_stderr":
			cfg.LogStderr = key.MustBool(cfg.LogStderr)
		case "tick_interval_ms":
			cfg.TickInterval = time.Duration(key.MustInt(int(cfg.TickInterval/time.Millisecond))) * time.Millisecond
		case "database_dsn":
			cfg.DatabaseDSN = key.MustString(cfg.DatabaseDSN)
		case "migrations_dir":
			cfg.MigrationsDir = key.MustString(cfg.MigrationsDir)
		case "area_id":
			id, err := strconv.ParseUint(key.Value(), 10, 64)
			if err == nil {
				cfg.AreaID = id
			}
		case "broker_addr":
			cfg.BrokerAddr = key.MustString(cfg.BrokerAddr)
		case "is_broker":
			cfg.IsBroker = key.MustBool(cfg.IsBroker)
		}
	}
}

// ExpandEnv resolves ${VAR} references in a DSN or address string against
// the process environment, the way the reference node reads secrets out
// of the environment rather than the INI file itself.
func ExpandEnv(s string) string { return os.Expand(s, os.Getenv) }
