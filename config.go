package jobsched

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.yaml.in/yaml/v3"
)

// Backend kinds accepted by Config.Backend.
const (
	BackendMemory = "memory"
	BackendBadger = "badger"
	BackendSQLite = "sqlite"
)

// Config represents scheduler configuration.
type Config struct {
	// Storage backend for persisted jobs: "memory", "badger" or "sqlite" (default: badger).
	Backend string `yaml:"backend"`

	// Directory for the backend data and the boot marker (default: ./jobsched-data).
	DataDir string `yaml:"data_dir"`

	// How often network and power signals are sampled (default: 30s).
	PollInterval time.Duration `yaml:"poll_interval"`

	// Minimum spacing between notifications from one signal source (default: 1s).
	NotifyInterval time.Duration `yaml:"notify_interval"`

	// TCP address dialed to detect connectivity; empty means always connected.
	NetworkProbeAddr string `yaml:"network_probe_addr"`

	// Dial timeout of the connectivity probe (default: 3s).
	NetworkProbeTimeout time.Duration `yaml:"network_probe_timeout"`

	// Interface name prefixes that mark a connection as metered.
	MeteredInterfaces []string `yaml:"metered_interfaces"`

	// Directory of power supplies (default: /sys/class/power_supply on Linux).
	PowerSupplyPath string `yaml:"power_supply_path"`

	// One-minute load average below which the host counts as idle (0 = never idle).
	IdleLoad float64 `yaml:"idle_load"`

	// Hold a systemd-logind sleep inhibitor while jobs run (default: false).
	InhibitSleep bool `yaml:"inhibit_sleep"`
}

// LoadConfig loads scheduler configuration from environment variables.
// It reads the following environment variables:
//   - JOBSCHED_BACKEND: memory, badger or sqlite (default: badger)
//   - JOBSCHED_DATA_DIR: data directory (default: ./jobsched-data)
//   - JOBSCHED_POLL_INTERVAL: signal sampling interval (default: 30s)
//   - JOBSCHED_NOTIFY_INTERVAL: minimum spacing of signal notifications (default: 1s)
//   - JOBSCHED_NETWORK_PROBE_ADDR: host:port dialed for connectivity (default: empty)
//   - JOBSCHED_NETWORK_PROBE_TIMEOUT: dial timeout (default: 3s)
//   - JOBSCHED_METERED_INTERFACES: comma separated interface prefixes
//   - JOBSCHED_POWER_SUPPLY_PATH: power supply directory
//   - JOBSCHED_IDLE_LOAD: idle load average threshold (default: 0)
//   - JOBSCHED_INHIBIT_SLEEP: "true" to take a logind sleep inhibitor
//
// Duration values can be specified as:
//   - Integer number of seconds (e.g., "30" = 30 seconds)
//   - Duration string (e.g., "30s", "1m30s")
//
// Returns a Config struct with default values if environment variables are not set.
func LoadConfig() *Config {
	cfg := DefaultConfig()
	cfg.Backend = getEnvString("JOBSCHED_BACKEND", cfg.Backend)
	cfg.DataDir = getEnvString("JOBSCHED_DATA_DIR", cfg.DataDir)
	cfg.PollInterval = getEnvDuration("JOBSCHED_POLL_INTERVAL", cfg.PollInterval)
	cfg.NotifyInterval = getEnvDuration("JOBSCHED_NOTIFY_INTERVAL", cfg.NotifyInterval)
	cfg.NetworkProbeAddr = getEnvString("JOBSCHED_NETWORK_PROBE_ADDR", cfg.NetworkProbeAddr)
	cfg.NetworkProbeTimeout = getEnvDuration("JOBSCHED_NETWORK_PROBE_TIMEOUT", cfg.NetworkProbeTimeout)
	if v := os.Getenv("JOBSCHED_METERED_INTERFACES"); v != "" {
		cfg.MeteredInterfaces = splitList(v)
	}
	cfg.PowerSupplyPath = getEnvString("JOBSCHED_POWER_SUPPLY_PATH", cfg.PowerSupplyPath)
	cfg.IdleLoad = getEnvFloat("JOBSCHED_IDLE_LOAD", cfg.IdleLoad)
	cfg.InhibitSleep = getEnvBool("JOBSCHED_INHIBIT_SLEEP", cfg.InhibitSleep)
	return cfg
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() *Config {
	return &Config{
		Backend:             BackendBadger,
		DataDir:             "./jobsched-data",
		PollInterval:        30 * time.Second,
		NotifyInterval:      1 * time.Second,
		NetworkProbeTimeout: 3 * time.Second,
	}
}

// LoadConfigFile reads a YAML file over the environment configuration.
// Keys missing from the file keep their LoadConfig values.
func LoadConfigFile(path string) (*Config, error) {
	cfg := LoadConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the scheduler cannot use.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendMemory, BackendBadger, BackendSQLite:
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if c.Backend != BackendMemory && c.DataDir == "" {
		return fmt.Errorf("data_dir is required for backend %q", c.Backend)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be > 0, got %s", c.PollInterval)
	}
	if c.NotifyInterval < 0 {
		return fmt.Errorf("notify_interval must be >= 0, got %s", c.NotifyInterval)
	}
	return nil
}

func getEnvString(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if secs, err := strconv.Atoi(value); err == nil {
			return time.Duration(secs) * time.Second
		}
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
