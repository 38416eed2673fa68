package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"beacon/internal/config"
	"beacon/internal/domain"
	"beacon/internal/logger"
	"beacon/internal/trust"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startWatch(t *testing.T, watch func(context.Context) error, ready <-chan struct{}) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- watch(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	select {
	case <-ready:
	case err := <-done:
		t.Fatalf("watch exited early: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch never became ready")
	}
}

func TestWatcherDebouncesWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("a"), 0644))

	var calls atomic.Int32
	w := New(path, func() { calls.Add(1) }, logger.NewTestLogger()).WithDebounce(50 * time.Millisecond)
	startWatch(t, w.Watch, w.Ready())

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte{byte('b' + i)}, 0644))
	}

	assert.Eventually(t, func() bool { return calls.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestWatcherIgnoresSiblings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")

	var calls atomic.Int32
	w := New(path, func() { calls.Add(1) }, logger.NewTestLogger()).WithDebounce(20 * time.Millisecond)
	startWatch(t, w.Watch, w.Ready())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x"), 0644))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(0), calls.Load())

	// created after the watch started
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
	assert.Eventually(t, func() bool { return calls.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestWatchMissingDirectory(t *testing.T) {
	w := New(filepath.Join(t.TempDir(), "gone", "policy.yaml"), func() {}, logger.NewTestLogger())
	assert.Error(t, w.Watch(context.Background()))
}

func TestPolicyReloaderAppliesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, config.PolicyFile{
		TrustedIssuers: []string{"did:key:carol"},
		IssuerKeys:     map[string]string{"did:key:bob": "AB12"},
	}.Save(path))

	policy := trust.NewPolicy("node-1")
	keys := trust.NewKeyDirectory(nil)
	base := config.TrustConfig{TrustedIssuers: []string{"did:key:alice"}}

	r := NewPolicyReloader(path, base, policy, keys, logger.NewTestLogger())
	require.NoError(t, r.Reload())

	assert.Equal(t, []string{"did:key:alice", "did:key:carol"}, policy.Trusted())
	assert.Equal(t, domain.IssuerTrusted, policy.Classify("did:key:carol"))
	key, ok := keys.IssuerPublicKey("did:key:bob")
	assert.True(t, ok)
	assert.Equal(t, "ab12", key)
}

func TestPolicyReloaderHotReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, config.PolicyFile{TrustedIssuers: []string{"did:key:carol"}}.Save(path))

	policy := trust.NewPolicy("node-1")
	keys := trust.NewKeyDirectory(nil)
	r := NewPolicyReloader(path, config.TrustConfig{}, policy, keys, logger.NewTestLogger()).
		WithDebounce(20 * time.Millisecond)
	require.NoError(t, r.Reload())
	startWatch(t, r.Watch, r.Ready())

	require.NoError(t, config.PolicyFile{
		TrustedIssuers: []string{"did:key:dave"},
		IssuerKeys:     map[string]string{"did:key:erin": "cd34"},
	}.Save(path))

	assert.Eventually(t, func() bool {
		return policy.Classify("did:key:dave") == domain.IssuerTrusted
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, domain.IssuerVerified, policy.Classify("did:key:carol"))
	assert.Eventually(t, func() bool {
		_, ok := keys.IssuerPublicKey("did:key:erin")
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	// a broken file keeps the last good policy
	require.NoError(t, os.WriteFile(path, []byte("trusted_issuers: {"), 0644))
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, []string{"did:key:dave"}, policy.Trusted())
}
