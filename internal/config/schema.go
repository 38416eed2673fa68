package config

import (
	"time"

	"beacon/internal/logger"
)

// Config is the root configuration structure
type Config struct {
	Version    int              `yaml:"version"`
	Node       NodeConfig       `yaml:"node"`
	Discovery  DiscoveryConfig  `yaml:"discovery"`
	Trust      TrustConfig      `yaml:"trust"`
	Credential CredentialConfig `yaml:"credential"`
	Store      StoreConfig      `yaml:"store"`
	HTTP       HTTPConfig       `yaml:"http"`
	Logging    logger.Config    `yaml:"logging"`
}

// NodeConfig is this node's identity
type NodeConfig struct {
	DeviceID     string   `yaml:"device_id"`
	DeviceType   string   `yaml:"device_type"`
	Capabilities []string `yaml:"capabilities,omitempty"`
	// CredentialPath holds this node's own ownership credential, if provisioned
	CredentialPath string `yaml:"credential_path,omitempty"`
}

// DiscoveryConfig controls the broadcast and sweep loops
type DiscoveryConfig struct {
	BindAddress       string   `yaml:"bind_address"`
	Port              int      `yaml:"port"`
	// BroadcastAddress is an IPv4 address or "auto" for the local subnet's
	BroadcastAddress  string   `yaml:"broadcast_address"`
	BroadcastInterval Duration `yaml:"broadcast_interval"`
	SweepInterval     Duration `yaml:"sweep_interval"`
	DeviceTimeout     Duration `yaml:"device_timeout"`
	// Format is "extended" (attestation) or "compact" (presence)
	Format string `yaml:"format"`
}

// TrustConfig seeds the trust policy. Entries from PolicyPath are merged on
// top and hot-reloaded.
type TrustConfig struct {
	PolicyPath     string            `yaml:"policy_path,omitempty"`
	TrustedIssuers []string          `yaml:"trusted_issuers,omitempty"`
	IssuerKeys     map[string]string `yaml:"issuer_keys,omitempty"`
}

// CredentialConfig controls the exchange engine's caches
type CredentialConfig struct {
	TrustedTTL         Duration `yaml:"trusted_ttl"`
	UntrustedTTL       Duration `yaml:"untrusted_ttl"`
	PendingTTL         Duration `yaml:"pending_ttl"`
	AcceptProvisioning bool     `yaml:"accept_provisioning"`
}

// StoreConfig holds database settings
type StoreConfig struct {
	Path string `yaml:"path"`
}

// HTTPConfig enables the status API when Addr is set
type HTTPConfig struct {
	Addr string `yaml:"addr,omitempty"`
}

// Duration wraps time.Duration for YAML unmarshaling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}
