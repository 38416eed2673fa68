package registry

import (
	"testing"
	"time"

	"beacon/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

func update(id string, at time.Time) domain.DeviceUpdate {
	return domain.DeviceUpdate{
		DeviceID:   id,
		DeviceType: "ESP32",
		Address:    "192.168.1.20",
		Port:       49497,
		SeenAt:     at,
	}
}

func TestUpsertCreatesThenUnchanged(t *testing.T) {
	r := New("local")

	rec, res := r.Upsert(update("d1", t0))
	assert.Equal(t, Created, res)
	assert.Equal(t, t0, rec.FirstSeen)
	assert.Equal(t, t0, rec.LastSeen)
	assert.True(t, rec.Online)

	rec, res = r.Upsert(update("d1", t0.Add(10*time.Second)))
	assert.Equal(t, Unchanged, res)
	assert.Equal(t, t0, rec.FirstSeen)
	assert.Equal(t, t0.Add(10*time.Second), rec.LastSeen)

	stored, ok := r.Get("d1")
	require.True(t, ok)
	assert.Equal(t, t0.Add(10*time.Second), stored.LastSeen)
}

func TestUpsertMaterialChanges(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*domain.DeviceUpdate)
		want   UpsertResult
	}{
		{"address", func(u *domain.DeviceUpdate) { u.Address = "192.168.1.21" }, Updated},
		{"port", func(u *domain.DeviceUpdate) { u.Port = 5000 }, Updated},
		{"type", func(u *domain.DeviceUpdate) { u.DeviceType = "ESP32-S3" }, Updated},
		{"capabilities", func(u *domain.DeviceUpdate) { u.Capabilities = []string{"led"} }, Updated},
		{"claimed", func(u *domain.DeviceUpdate) { u.Owner.State = domain.OwnershipClaimed }, Updated},
		{"owner", func(u *domain.DeviceUpdate) {
			u.Owner = domain.Ownership{State: domain.OwnershipAsserted, OwnerID: "alice"}
		}, Updated},
		{"trust only", func(u *domain.DeviceUpdate) { v := 0.9; u.TrustLevel = &v }, Unchanged},
		{"ownership none on unowned", func(u *domain.DeviceUpdate) { u.Owner.State = domain.OwnershipNone }, Unchanged},
		{"same capabilities reordered", func(u *domain.DeviceUpdate) { u.Capabilities = []string{"b", "a", "a"} }, Unchanged},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New("local")
			first := update("d1", t0)
			first.Capabilities = []string{"a", "b"}
			r.Upsert(first)

			next := update("d1", t0.Add(time.Second))
			next.Capabilities = []string{"a", "b"}
			tt.mutate(&next)
			_, res := r.Upsert(next)
			assert.Equal(t, tt.want, res)
		})
	}
}

func TestUpsertReplacesWholesaleButKeepsUnsuppliedFields(t *testing.T) {
	r := New("local")
	trust := 0.7
	first := update("d1", t0)
	first.Capabilities = []string{"led", "journal"}
	first.TrustLevel = &trust
	first.Owner = domain.Ownership{State: domain.OwnershipAsserted, OwnerID: "alice"}
	r.Upsert(first)
	_, ok := r.ApplyCredential("d1", "alice")
	require.True(t, ok)

	// compact messages supply neither capabilities nor trust nor owner
	rec, res := r.Upsert(update("d1", t0.Add(time.Second)))
	assert.Equal(t, Unchanged, res)
	assert.Equal(t, []string{"journal", "led"}, rec.Capabilities)
	assert.Equal(t, "alice", rec.OwnerID)
	assert.True(t, rec.Claimed)
	assert.True(t, rec.HasValidCredential)
	assert.Equal(t, VerifiedTrustLevel, rec.TrustLevel)

	next := update("d1", t0.Add(2*time.Second))
	next.Address = "10.0.0.5"
	next.Capabilities = []string{}
	next.Owner.State = domain.OwnershipNone
	rec, res = r.Upsert(next)
	assert.Equal(t, Updated, res)
	assert.Equal(t, "10.0.0.5", rec.Address)
	assert.Empty(t, rec.Capabilities)
	assert.Empty(t, rec.OwnerID)
	assert.False(t, rec.Claimed)
}

func TestClaimedMarkerNeverSetsOwnerIdentity(t *testing.T) {
	r := New("local")
	u := update("d1", t0)
	u.Owner.State = domain.OwnershipClaimed
	u.Owner.OwnerID = "mallory"

	rec, _ := r.Upsert(u)
	assert.True(t, rec.Claimed)
	assert.Empty(t, rec.OwnerID)
}

func TestUpsertLastSeenNeverGoesBackwards(t *testing.T) {
	r := New("local")
	r.Upsert(update("d1", t0.Add(time.Minute)))
	rec, _ := r.Upsert(update("d1", t0))
	assert.Equal(t, t0.Add(time.Minute), rec.LastSeen)
	assert.False(t, rec.LastSeen.Before(rec.FirstSeen))
}

func TestUpsertUsesClockWhenSeenAtMissing(t *testing.T) {
	r := New("local")
	r.SetClock(func() time.Time { return t0 })
	rec, _ := r.Upsert(update("d1", time.Time{}))
	assert.Equal(t, t0, rec.LastSeen)

	_, res := r.Upsert(domain.DeviceUpdate{})
	assert.Equal(t, Unchanged, res)
	assert.Equal(t, 1, r.Len())
}

func TestSweepBoundary(t *testing.T) {
	r := New("local")
	r.Upsert(update("local", t0))
	r.Upsert(update("exact", t0))
	r.Upsert(update("over", t0.Add(-time.Millisecond)))
	r.Upsert(update("fresh", t0.Add(20*time.Second)))

	evicted := r.Sweep(t0.Add(30*time.Second), 30*time.Second)
	assert.Equal(t, []string{"over"}, evicted)

	evicted = r.Sweep(t0.Add(time.Hour), 30*time.Second)
	assert.Equal(t, []string{"exact", "fresh"}, evicted)

	_, ok := r.Get("local")
	assert.True(t, ok, "local record is never evicted")
	assert.Equal(t, 1, r.Len())
}

func TestReannouncementAfterEvictionCreates(t *testing.T) {
	r := New("local")
	r.Upsert(update("d1", t0))
	r.Sweep(t0.Add(time.Minute), 30*time.Second)

	rec, res := r.Upsert(update("d1", t0.Add(2*time.Minute)))
	assert.Equal(t, Created, res)
	assert.Equal(t, t0.Add(2*time.Minute), rec.FirstSeen)
}

func TestApplyCredentialAndUnclaimed(t *testing.T) {
	r := New("local")
	_, ok := r.ApplyCredential("ghost", "alice")
	assert.False(t, ok)
	_, ok = r.ApplyUnclaimed("ghost")
	assert.False(t, ok)

	r.Upsert(update("d1", t0))
	rec, ok := r.ApplyCredential("d1", "alice")
	require.True(t, ok)
	assert.Equal(t, "alice", rec.OwnerID)
	assert.True(t, rec.HasValidCredential)

	rec, ok = r.ApplyUnclaimed("d1")
	require.True(t, ok)
	assert.Empty(t, rec.OwnerID)
	assert.False(t, rec.Claimed)
	assert.False(t, rec.HasValidCredential)
}

func TestVerifiedOwnerSurvivesSelfReportedMarkers(t *testing.T) {
	r := New("local")
	first := update("d1", t0)
	first.Owner = domain.Ownership{State: domain.OwnershipClaimed}
	r.Upsert(first)
	_, ok := r.ApplyCredential("d1", "alice")
	require.True(t, ok)

	score := 0.5
	for i, state := range []domain.OwnershipState{domain.OwnershipNone, domain.OwnershipClaimed, domain.OwnershipUnspecified} {
		u := update("d1", t0.Add(time.Duration(i+1)*time.Second))
		u.Owner = domain.Ownership{State: state}
		u.TrustLevel = &score

		rec, res := r.Upsert(u)
		assert.Equal(t, Unchanged, res, "state %v", state)
		assert.Equal(t, "alice", rec.OwnerID)
		assert.True(t, rec.Claimed)
		assert.True(t, rec.HasValidCredential)
		assert.Equal(t, VerifiedTrustLevel, rec.TrustLevel)
	}

	u := update("d1", t0.Add(10*time.Second))
	u.Owner = domain.Ownership{State: domain.OwnershipAsserted, OwnerID: "bob"}
	rec, res := r.Upsert(u)
	assert.Equal(t, Updated, res)
	assert.Equal(t, "bob", rec.OwnerID)
	assert.Equal(t, VerifiedTrustLevel, rec.TrustLevel)

	// once the credential is gone, markers and scores apply again
	r.ApplyUnclaimed("d1")
	u = update("d1", t0.Add(11*time.Second))
	u.Owner = domain.Ownership{State: domain.OwnershipClaimed}
	u.TrustLevel = &score
	rec, _ = r.Upsert(u)
	assert.True(t, rec.Claimed)
	assert.InDelta(t, 0.5, rec.TrustLevel, 1e-9)
}

func TestAllSortedAndCopied(t *testing.T) {
	r := New("local")
	for _, id := range []string{"c", "a", "b"} {
		u := update(id, t0)
		u.Capabilities = []string{"x"}
		r.Upsert(u)
	}

	all := r.All()
	require.Len(t, all, 3)
	assert.Equal(t, "a", all[0].DeviceID)
	assert.Equal(t, "c", all[2].DeviceID)

	all[0].Capabilities[0] = "mutated"
	rec, _ := r.Get("a")
	assert.Equal(t, []string{"x"}, rec.Capabilities)
}

func TestRemove(t *testing.T) {
	r := New("local")
	r.Upsert(update("local", t0))
	r.Upsert(update("d1", t0))

	assert.False(t, r.Remove("local"))
	assert.True(t, r.Remove("d1"))
	assert.False(t, r.Remove("d1"))
	assert.Equal(t, 1, r.Len())
}
