package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/wics-station/wics/internal/protocol"
	"github.com/wics-station/wics/internal/upgrade"
	"gopkg.in/yaml.v3"
)

// Config holds the wics client configuration.
type Config struct {
	Port              int    `yaml:"port" json:"port"`
	DevicePort        int    `yaml:"device_port" json:"device_port"`
	MaxRetries        int    `yaml:"max_retries" json:"max_retries"`
	DatagramTimeoutMS int    `yaml:"datagram_timeout_ms" json:"datagram_timeout_ms"`
	UpgradeTimeoutMS  int    `yaml:"upgrade_timeout_ms" json:"upgrade_timeout_ms"`
	PollIntervalMS    int    `yaml:"poll_interval_ms" json:"poll_interval_ms"`
	Coalesce          bool   `yaml:"coalesce" json:"coalesce"`
	Database          string `yaml:"database" json:"database"`
	LogLevel          string `yaml:"log_level" json:"log_level"`
	MetricsAddr       string `yaml:"metrics_addr" json:"metrics_addr"`
	OutputFormat      string `yaml:"output_format" json:"output_format"`
}

// Dir returns the per-user state directory: ~/.wics
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".wics")
	}
	return filepath.Join(home, ".wics")
}

// DefaultPath returns the default config file path: ~/.wics/config.yaml
func DefaultPath() string {
	return filepath.Join(Dir(), "config.yaml")
}

func Default() *Config {
	return &Config{
		Port:              protocol.DefaultPort,
		DevicePort:        protocol.DefaultPort,
		MaxRetries:        upgrade.DefaultMaxRetries,
		DatagramTimeoutMS: int(upgrade.DefaultDatagramTimeout / time.Millisecond),
		UpgradeTimeoutMS:  int(upgrade.DefaultUpgradeTimeout / time.Millisecond),
		PollIntervalMS:    10,
		Database:          filepath.Join(Dir(), "wics.sqlite3"),
		LogLevel:          "info",
		OutputFormat:      "table",
	}
}

// Load reads the configuration from the given YAML file path.
// If the file does not exist, it returns the defaults with no error.
func Load(path string) (*Config, error) {
	cfg := Default()

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if perm := info.Mode().Perm(); perm&0o022 != 0 {
		fmt.Fprintf(os.Stderr,
			"warning: config file %s has permissions %04o, other users can change it\n",
			path, perm)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	return cfg, nil
}

// Save writes cfg to path with owner-only permissions, creating the
// directory if needed.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func (c *Config) Validate() error {
	if err := validPort("port", c.Port, true); err != nil {
		return err
	}
	if err := validPort("device_port", c.DevicePort, false); err != nil {
		return err
	}
	if c.PollIntervalMS <= 0 {
		return fmt.Errorf("poll_interval_ms must be positive, got %d", c.PollIntervalMS)
	}
	switch c.OutputFormat {
	case "table", "json", "yaml":
	default:
		return fmt.Errorf("output_format must be table, json or yaml, got %q", c.OutputFormat)
	}
	return c.Policy().Validate()
}

// Policy converts the timeout settings into an upgrade policy.
func (c *Config) Policy() upgrade.Policy {
	return upgrade.Policy{
		MaxRetries:      c.MaxRetries,
		DatagramTimeout: time.Duration(c.DatagramTimeoutMS) * time.Millisecond,
		UpgradeTimeout:  time.Duration(c.UpgradeTimeoutMS) * time.Millisecond,
	}
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

func validPort(name string, port int, zeroOK bool) error {
	if port < 0 || port > 0xFFFF || (port == 0 && !zeroOK) {
		return fmt.Errorf("%s out of range: %d", name, port)
	}
	return nil
}
