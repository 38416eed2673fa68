// Package config loads the node configuration.
//
// The config file holds identity and policy ("who I am, whom I trust"); the
// object store holds what the node has produced and received. A device id
// generated on first start is written back so it survives restarts.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is wrapped by every Validate failure
var ErrInvalidConfig = errors.New("invalid config")

const (
	defaultDeviceType = "beacon"
	defaultStorePath  = "./beacon.db"
	defaultPort       = 49497
)

// Load finds and loads the config file, or returns defaults if none found
func Load() (*Config, string, error) {
	path := FindConfigPath()
	if path == "" {
		return DefaultConfig(), "", nil
	}
	return LoadFromPath(path)
}

// LoadFromPath loads config from a specific path
func LoadFromPath(path string) (*Config, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, path, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, path, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, path, err
	}
	return &cfg, path, nil
}

// Save writes config to the specified path
func (c *Config) Save(path string) error {
	if err := EnsureConfigDir(path); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// DefaultConfig returns defaults for a new installation. The device id is
// left empty; EnsureDeviceID fills it.
func DefaultConfig() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.Version == 0 {
		c.Version = 1
	}
	if c.Node.DeviceType == "" {
		c.Node.DeviceType = defaultDeviceType
	}

	d := &c.Discovery
	if d.BindAddress == "" {
		d.BindAddress = "0.0.0.0"
	}
	if d.Port == 0 {
		d.Port = defaultPort
	}
	if d.BroadcastAddress == "" {
		d.BroadcastAddress = "255.255.255.255"
	}
	if d.BroadcastInterval == 0 {
		d.BroadcastInterval = Duration(5 * time.Second)
	}
	if d.SweepInterval == 0 {
		d.SweepInterval = Duration(10 * time.Second)
	}
	if d.DeviceTimeout == 0 {
		d.DeviceTimeout = Duration(30 * time.Second)
	}
	if d.Format == "" {
		d.Format = "extended"
	}

	cr := &c.Credential
	if cr.TrustedTTL == 0 {
		cr.TrustedTTL = Duration(time.Hour)
	}
	if cr.UntrustedTTL == 0 {
		cr.UntrustedTTL = Duration(5 * time.Minute)
	}
	if cr.PendingTTL == 0 {
		cr.PendingTTL = Duration(time.Minute)
	}

	if c.Store.Path == "" {
		c.Store.Path = defaultStorePath
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// EnsureDeviceID generates a device id when none is configured. It reports
// whether the config changed and should be saved.
func (c *Config) EnsureDeviceID() bool {
	if strings.TrimSpace(c.Node.DeviceID) != "" {
		return false
	}
	c.Node.DeviceID = uuid.NewString()
	return true
}

// Validate rejects values the engines cannot run with
func (c *Config) Validate() error {
	var problems []string

	d := c.Discovery
	if d.Port < 0 || d.Port > 65535 {
		problems = append(problems, fmt.Sprintf("discovery.port %d out of range", d.Port))
	}
	if d.Format != "extended" && d.Format != "compact" {
		problems = append(problems, fmt.Sprintf("discovery.format %q must be extended or compact", d.Format))
	}
	if d.BroadcastAddress != "auto" && net.ParseIP(d.BroadcastAddress).To4() == nil {
		problems = append(problems, fmt.Sprintf("discovery.broadcast_address %q must be an IPv4 address or auto", d.BroadcastAddress))
	}
	if d.BroadcastInterval.Duration() <= 0 || d.SweepInterval.Duration() <= 0 {
		problems = append(problems, "discovery intervals must be positive")
	}
	if d.DeviceTimeout.Duration() < d.BroadcastInterval.Duration() {
		problems = append(problems, "discovery.device_timeout is shorter than broadcast_interval")
	}

	cr := c.Credential
	if cr.TrustedTTL.Duration() <= 0 || cr.UntrustedTTL.Duration() <= 0 || cr.PendingTTL.Duration() <= 0 {
		problems = append(problems, "credential ttls must be positive")
	}

	for issuer, key := range c.Trust.IssuerKeys {
		if strings.TrimSpace(issuer) == "" || strings.TrimSpace(key) == "" {
			problems = append(problems, "trust.issuer_keys has an empty issuer or key")
			break
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// Summary returns a human-readable config summary
func (c *Config) Summary() string {
	summary := fmt.Sprintf("Node: %s (%s)\n", c.Node.DeviceID, c.Node.DeviceType)
	summary += fmt.Sprintf("Discovery: %s:%d, format %s, broadcast %s, timeout %s\n",
		c.Discovery.BindAddress, c.Discovery.Port, c.Discovery.Format,
		c.Discovery.BroadcastInterval.Duration(), c.Discovery.DeviceTimeout.Duration())
	summary += fmt.Sprintf("Trust: %d trusted issuers, %d issuer keys", len(c.Trust.TrustedIssuers), len(c.Trust.IssuerKeys))
	if c.Trust.PolicyPath != "" {
		summary += fmt.Sprintf(", policy %s", c.Trust.PolicyPath)
	}
	return summary
}
