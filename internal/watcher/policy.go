package watcher

import (
	"context"
	"time"

	"beacon/internal/config"
	"beacon/internal/logger"
	"beacon/internal/trust"
)

// PolicyReloader keeps the live trust policy and issuer keys in step with a
// policy file merged over the static trust config.
type PolicyReloader struct {
	path   string
	base   config.TrustConfig
	policy *trust.Policy
	keys   *trust.KeyDirectory
	log    logger.Logger
	w      *Watcher
}

// NewPolicyReloader binds a policy file to the live trust state
func NewPolicyReloader(path string, base config.TrustConfig, policy *trust.Policy, keys *trust.KeyDirectory, log logger.Logger) *PolicyReloader {
	r := &PolicyReloader{
		path:   path,
		base:   base,
		policy: policy,
		keys:   keys,
		log:    log.WithComponent("policy"),
	}
	r.w = New(path, r.reloadLogged, log)
	return r
}

// WithDebounce sets the debounce of the underlying watcher
func (r *PolicyReloader) WithDebounce(d time.Duration) *PolicyReloader {
	r.w.WithDebounce(d)
	return r
}

// Reload reads the policy file and replaces the trusted issuers and issuer
// keys. On error the previous policy stays in force.
func (r *PolicyReloader) Reload() error {
	file, err := config.LoadPolicyFile(r.path)
	if err != nil {
		return err
	}
	issuers, keys := r.base.Effective(file)
	r.policy.SetTrusted(issuers)
	r.keys.Replace(keys)

	r.log.Info().
		Int("trusted_issuers", len(issuers)).
		Int("issuer_keys", len(keys)).
		Msg("Trust policy loaded")
	return nil
}

func (r *PolicyReloader) reloadLogged() {
	if err := r.Reload(); err != nil {
		r.log.Error().Err(err).Str("path", r.path).Msg("Trust policy reload failed, keeping previous policy")
	}
}

// Ready is closed once the file watch is installed
func (r *PolicyReloader) Ready() <-chan struct{} {
	return r.w.Ready()
}

// Watch reloads on every change until ctx is cancelled
func (r *PolicyReloader) Watch(ctx context.Context) error {
	return r.w.Watch(ctx)
}
