package trust

import (
	"slices"
	"sync"

	"beacon/internal/domain"
)

// Policy decides which issuers are accepted without signature verification:
// this node itself and an explicit trusted set. It is safe for concurrent use
// and can be replaced at runtime when the policy file changes.
type Policy struct {
	mu      sync.RWMutex
	selfID  string
	trusted map[string]struct{}
}

// NewPolicy creates a policy for the given local identity
func NewPolicy(selfID string, trusted ...string) *Policy {
	p := &Policy{selfID: selfID}
	p.SetTrusted(trusted)
	return p
}

// SetSelf changes the local identity, e.g. after the node is claimed
func (p *Policy) SetSelf(id string) {
	p.mu.Lock()
	p.selfID = id
	p.mu.Unlock()
}

// SetTrusted replaces the trusted issuer set
func (p *Policy) SetTrusted(issuers []string) {
	set := make(map[string]struct{}, len(issuers))
	for _, id := range issuers {
		if id != "" {
			set[id] = struct{}{}
		}
	}
	p.mu.Lock()
	p.trusted = set
	p.mu.Unlock()
}

// Trust adds one issuer
func (p *Policy) Trust(issuer string) {
	if issuer == "" {
		return
	}
	p.mu.Lock()
	p.trusted[issuer] = struct{}{}
	p.mu.Unlock()
}

// Trusted returns the trusted issuers, sorted
func (p *Policy) Trusted() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.trusted))
	for id := range p.trusted {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// Classify returns how an issuer is treated. IssuerVerified means the
// signature must be checked.
func (p *Policy) Classify(issuer string) domain.IssuerTrust {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if issuer != "" && issuer == p.selfID {
		return domain.IssuerSelf
	}
	if _, ok := p.trusted[issuer]; ok {
		return domain.IssuerTrusted
	}
	return domain.IssuerVerified
}
