package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"beacon/internal/domain"
	"beacon/internal/repository"
)

// LicenseCache resolves License hashes, backed by the object store when one
// is configured.
type LicenseCache struct {
	store repository.ObjectStore

	mu     sync.RWMutex
	byHash map[string]domain.License
}

// NewLicenseCache creates a cache; store may be nil
func NewLicenseCache(store repository.ObjectStore) *LicenseCache {
	return &LicenseCache{store: store, byHash: make(map[string]domain.License)}
}

// Put stores a license and returns its content hash
func (c *LicenseCache) Put(ctx context.Context, l domain.License) (string, error) {
	data, err := json.Marshal(l)
	if err != nil {
		return "", fmt.Errorf("marshal license: %w", err)
	}

	hash := repository.ContentHash(data)
	if c.store != nil {
		if hash, err = c.store.Store(ctx, repository.KindLicense, data); err != nil {
			return "", err
		}
	}

	c.mu.Lock()
	c.byHash[hash] = l
	c.mu.Unlock()
	return hash, nil
}

// Get resolves a hash. Unknown hashes, and objects that are not licenses,
// return false.
func (c *LicenseCache) Get(ctx context.Context, hash string) (*domain.License, bool) {
	c.mu.RLock()
	l, ok := c.byHash[hash]
	c.mu.RUnlock()
	if ok {
		return &l, true
	}
	if c.store == nil {
		return nil, false
	}

	obj, found, err := c.store.GetByHash(ctx, hash)
	if err != nil || !found || obj.Kind != repository.KindLicense {
		return nil, false
	}
	if err := json.Unmarshal(obj.Data, &l); err != nil {
		return nil, false
	}

	c.mu.Lock()
	c.byHash[hash] = l
	c.mu.Unlock()
	return &l, true
}
