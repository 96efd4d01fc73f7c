// Package config provides startup configuration for the sunday server.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete server configuration.
type Config struct {
	Server    ServerConfig      `yaml:"server"`
	Machines  []MachineConfig   `yaml:"machines"`
	Addresses map[string]string `yaml:"addresses"`
	Database  DatabaseConfig    `yaml:"database"`
	Timeouts  TimeoutConfig     `yaml:"timeouts"`
	Health    HealthConfig      `yaml:"health"`
	Log       LogConfig         `yaml:"log"`
}

// ServerConfig configures the protocol listener.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// FallbackMachine is the default machine alias for connections
	// from unmapped addresses.
	FallbackMachine string `yaml:"fallback_machine"`
}

// MachineConfig defines one machine in the fleet.
type MachineConfig struct {
	Alias       string `yaml:"alias"`
	DisplayName string `yaml:"display_name"`

	// ActuatorAddr is the host:port of the machine's dispense hardware.
	ActuatorAddr string `yaml:"actuator_addr"`
}

// DatabaseConfig configures the inventory/audit/directory database.
// An empty DSN selects in-memory dev mode.
type DatabaseConfig struct {
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// TimeoutConfig bounds external calls.
type TimeoutConfig struct {
	Store        time.Duration `yaml:"store"`
	Actuator     time.Duration `yaml:"actuator"`
	PingInterval time.Duration `yaml:"ping_interval"`
}

// HealthConfig configures the optional HTTP health listener.
type HealthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `yaml:"level"` // "debug", "info", "warn", "error"
}

// Load reads, expands, and validates a configuration file.
func Load(path string) (*Config, error) {
	// #nosec G304 -- path is from CLI args, controlled by admin
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	data = []byte(expandEnvVars(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// expandEnvVars expands ${VAR} patterns in the string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		return os.Getenv(varName)
	})
}

// applyDefaults applies default values to the config.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 4242
	}
	if cfg.Server.FallbackMachine == "" {
		cfg.Server.FallbackMachine = "d"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Timeouts.Store == 0 {
		cfg.Timeouts.Store = 5 * time.Second
	}
	if cfg.Timeouts.Actuator == 0 {
		cfg.Timeouts.Actuator = 30 * time.Second
	}
	if cfg.Timeouts.PingInterval == 0 {
		cfg.Timeouts.PingInterval = 15 * time.Second
	}
	if cfg.Health.Address == "" {
		cfg.Health.Address = ":8080"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	aliases := make(map[string]bool)
	for i, m := range c.Machines {
		if m.Alias == "" {
			errs = append(errs, fmt.Sprintf("machines[%d].alias is required", i))
			continue
		}
		if aliases[m.Alias] {
			errs = append(errs, fmt.Sprintf("machines[%d].alias %q is duplicated", i, m.Alias))
		}
		aliases[m.Alias] = true
		if m.ActuatorAddr == "" {
			errs = append(errs, fmt.Sprintf("machines[%d].actuator_addr is required", i))
		}
	}

	for addr, alias := range c.Addresses {
		if !aliases[alias] {
			errs = append(errs, fmt.Sprintf("addresses[%s] maps to unknown machine %q", addr, alias))
		}
	}

	if len(c.Machines) > 0 && !aliases[c.Server.FallbackMachine] {
		errs = append(errs, fmt.Sprintf("server.fallback_machine %q is not a configured machine", c.Server.FallbackMachine))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return nil
}
