package trust

import (
	"maps"
	"strings"
	"sync"
)

// KeyDirectory is a KeyResolver backed by an in-memory issuer→key table,
// filled from configuration and the policy file.
type KeyDirectory struct {
	mu   sync.RWMutex
	keys map[string]string
}

// NewKeyDirectory copies keys into a new directory
func NewKeyDirectory(keys map[string]string) *KeyDirectory {
	d := &KeyDirectory{}
	d.Replace(keys)
	return d
}

// Replace swaps the whole table
func (d *KeyDirectory) Replace(keys map[string]string) {
	table := make(map[string]string, len(keys))
	for issuer, key := range keys {
		if issuer != "" && key != "" {
			table[issuer] = strings.ToLower(strings.TrimSpace(key))
		}
	}
	d.mu.Lock()
	d.keys = table
	d.mu.Unlock()
}

// Set adds or replaces one issuer key
func (d *KeyDirectory) Set(issuer, publicKeyHex string) {
	d.mu.Lock()
	d.keys[issuer] = strings.ToLower(strings.TrimSpace(publicKeyHex))
	d.mu.Unlock()
}

// IssuerPublicKey implements KeyResolver
func (d *KeyDirectory) IssuerPublicKey(issuer string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	key, ok := d.keys[issuer]
	return key, ok
}

// Snapshot returns a copy of the table
func (d *KeyDirectory) Snapshot() map[string]string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return maps.Clone(d.keys)
}
