package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// PolicyFile is the hot-reloadable trust policy
type PolicyFile struct {
	TrustedIssuers []string          `yaml:"trusted_issuers,omitempty"`
	IssuerKeys     map[string]string `yaml:"issuer_keys,omitempty"`
}

// LoadPolicyFile reads a trust policy file. An empty file is an empty policy.
func LoadPolicyFile(path string) (PolicyFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return PolicyFile{}, fmt.Errorf("read policy: %w", err)
	}
	var p PolicyFile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return PolicyFile{}, fmt.Errorf("parse policy %s: %w", path, err)
	}
	return p, nil
}

// Save writes the policy file
func (p PolicyFile) Save(path string) error {
	if err := EnsureConfigDir(path); err != nil {
		return fmt.Errorf("create policy dir: %w", err)
	}
	data, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal policy: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// Effective merges the file over the static trust section. Issuers are
// de-duplicated and sorted; file keys win over config keys.
func (t TrustConfig) Effective(file PolicyFile) ([]string, map[string]string) {
	seen := make(map[string]bool)
	var issuers []string
	for _, list := range [][]string{t.TrustedIssuers, file.TrustedIssuers} {
		for _, issuer := range list {
			issuer = strings.TrimSpace(issuer)
			if issuer == "" || seen[issuer] {
				continue
			}
			seen[issuer] = true
			issuers = append(issuers, issuer)
		}
	}
	sort.Strings(issuers)

	keys := make(map[string]string, len(t.IssuerKeys)+len(file.IssuerKeys))
	for issuer, key := range t.IssuerKeys {
		keys[issuer] = key
	}
	for issuer, key := range file.IssuerKeys {
		keys[issuer] = key
	}
	return issuers, keys
}
