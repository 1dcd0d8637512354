// Package config loads bridge configuration from a YAML file with
// pflag-bound command-line overrides, the way the host and embedded
// binaries share settings between a config file and ad hoc flags.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Host is the configuration surface for cmd/vkvmhost.
type Host struct {
	SerialDevice string        `yaml:"serial_device"`
	QueueLimit   int           `yaml:"queue_limit"`
	Timeout      time.Duration `yaml:"timeout"`
	LogLevel     string        `yaml:"log_level"`
	Discovery    Discovery     `yaml:"discovery"`
}

// Discovery configures mDNS advertisement/browsing (§6).
type Discovery struct {
	Enabled     bool   `yaml:"enabled"`
	InstanceName string `yaml:"instance_name"`
	Port        int    `yaml:"port"`
}

// DefaultHost returns the zero-config defaults, overridden by any file
// and then any flags.
func DefaultHost() Host {
	return Host{
		SerialDevice: "/dev/ttyUSB0",
		QueueLimit:   64,
		Timeout:      time.Second,
		LogLevel:     "info",
		Discovery: Discovery{
			Enabled:      true,
			InstanceName: "vkvm-host",
			Port:         5900,
		},
	}
}

// LoadHostFile reads and merges a YAML config file onto the defaults.
// A missing file is not an error: defaults apply as-is.
func LoadHostFile(path string) (Host, error) {
	cfg := DefaultHost()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// BindHostFlags registers pflag overrides for every Host field onto fs,
// bound directly to cfg's fields, so parsing fs after LoadHostFile
// overrides the file's values with any flags given.
func BindHostFlags(fs *pflag.FlagSet, cfg *Host) {
	fs.StringVar(&cfg.SerialDevice, "serial-device", cfg.SerialDevice, "serial device path")
	fs.IntVar(&cfg.QueueLimit, "queue-limit", cfg.QueueLimit, "bounded request queue size")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "max idle/unanswered time before a keep-alive or disconnect")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn, error")
	fs.BoolVar(&cfg.Discovery.Enabled, "discovery", cfg.Discovery.Enabled, "advertise this host over mDNS")
	fs.StringVar(&cfg.Discovery.InstanceName, "discovery-name", cfg.Discovery.InstanceName, "mDNS instance name")
	fs.IntVar(&cfg.Discovery.Port, "discovery-port", cfg.Discovery.Port, "mDNS advertised port")
}
