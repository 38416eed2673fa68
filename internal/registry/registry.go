// Package registry keeps the table of devices observed on the network.
package registry

import (
	"slices"
	"sort"
	"sync"
	"time"

	"beacon/internal/domain"
)

// UpsertResult reports what an Upsert did
type UpsertResult int

const (
	// Unchanged means nothing material changed; LastSeen was still refreshed
	Unchanged UpsertResult = iota
	// Created means a new record was added
	Created
	// Updated means a material field changed
	Updated
)

func (r UpsertResult) String() string {
	switch r {
	case Created:
		return "created"
	case Updated:
		return "updated"
	default:
		return "unchanged"
	}
}

// VerifiedTrustLevel is the trust assigned once a credential is verified
const VerifiedTrustLevel = 1.0

// Registry is the mutex-guarded device table. The local node's record is
// never evicted.
type Registry struct {
	mu      sync.Mutex
	localID string
	devices map[string]*domain.DeviceRecord
	now     func() time.Time
}

// New creates an empty registry for the node identified by localID
func New(localID string) *Registry {
	return &Registry{
		localID: localID,
		devices: make(map[string]*domain.DeviceRecord),
		now:     time.Now,
	}
}

// SetClock overrides the time source used when an update has no SeenAt
func (r *Registry) SetClock(now func() time.Time) {
	r.mu.Lock()
	r.now = now
	r.mu.Unlock()
}

// LocalID returns the id of the record that is never evicted
func (r *Registry) LocalID() string {
	return r.localID
}

// Upsert inserts or replaces a record from an update. Mutable fields are
// taken wholesale from the update; fields the update does not supply keep
// their stored value. The credential flag is only changed by ApplyCredential
// and ApplyUnclaimed, and while it is set the owner and trust level ignore
// ownership markers and advisory scores.
func (r *Registry) Upsert(u domain.DeviceUpdate) (domain.DeviceRecord, UpsertResult) {
	if u.DeviceID == "" {
		return domain.DeviceRecord{}, Unchanged
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	seen := u.SeenAt
	if seen.IsZero() {
		seen = r.now()
	}

	old, exists := r.devices[u.DeviceID]
	if !exists {
		rec := &domain.DeviceRecord{
			DeviceID:     u.DeviceID,
			DeviceType:   u.DeviceType,
			Address:      u.Address,
			Port:         u.Port,
			Capabilities: domain.NormalizeCapabilities(u.Capabilities),
			FirstSeen:    seen,
			LastSeen:     seen,
			Online:       true,
		}
		applyOwnership(rec, u.Owner)
		if u.TrustLevel != nil {
			rec.TrustLevel = clampTrust(*u.TrustLevel)
		}
		r.devices[u.DeviceID] = rec
		return rec.Clone(), Created
	}

	next := &domain.DeviceRecord{
		DeviceID:           u.DeviceID,
		DeviceType:         u.DeviceType,
		Address:            u.Address,
		Port:               u.Port,
		Capabilities:       old.Capabilities,
		FirstSeen:          old.FirstSeen,
		LastSeen:           seen,
		Online:             true,
		OwnerID:            old.OwnerID,
		Claimed:            old.Claimed,
		TrustLevel:         old.TrustLevel,
		HasValidCredential: old.HasValidCredential,
	}
	if next.LastSeen.Before(old.LastSeen) {
		next.LastSeen = old.LastSeen
	}
	if u.Capabilities != nil {
		next.Capabilities = domain.NormalizeCapabilities(u.Capabilities)
	}
	switch {
	case !old.HasValidCredential:
		applyOwnership(next, u.Owner)
		if u.TrustLevel != nil {
			next.TrustLevel = clampTrust(*u.TrustLevel)
		}
	case u.Owner.State == domain.OwnershipAsserted:
		// a verified owner only yields to an operator assertion or the
		// credential path, never to a self-reported marker or score
		applyOwnership(next, u.Owner)
	}

	result := Unchanged
	if materiallyChanged(old, next) {
		result = Updated
	}
	r.devices[u.DeviceID] = next
	return next.Clone(), result
}

func applyOwnership(rec *domain.DeviceRecord, o domain.Ownership) {
	switch o.State {
	case domain.OwnershipNone:
		rec.OwnerID = ""
		rec.Claimed = false
	case domain.OwnershipClaimed:
		rec.Claimed = true
	case domain.OwnershipAsserted:
		rec.OwnerID = o.OwnerID
		rec.Claimed = o.OwnerID != ""
	}
}

func materiallyChanged(old, next *domain.DeviceRecord) bool {
	return old.Address != next.Address ||
		old.Port != next.Port ||
		old.OwnerID != next.OwnerID ||
		old.Claimed != next.Claimed ||
		old.DeviceType != next.DeviceType ||
		!slices.Equal(old.Capabilities, next.Capabilities)
}

func clampTrust(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// ApplyCredential records a verified ownership credential for a known
// device. It reports false when the device is not in the table.
func (r *Registry) ApplyCredential(deviceID, ownerID string) (domain.DeviceRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.devices[deviceID]
	if !ok {
		return domain.DeviceRecord{}, false
	}
	rec.OwnerID = ownerID
	rec.Claimed = true
	rec.HasValidCredential = true
	rec.TrustLevel = VerifiedTrustLevel
	return rec.Clone(), true
}

// ApplyUnclaimed records that a device answered as unclaimed
func (r *Registry) ApplyUnclaimed(deviceID string) (domain.DeviceRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.devices[deviceID]
	if !ok {
		return domain.DeviceRecord{}, false
	}
	rec.OwnerID = ""
	rec.Claimed = false
	rec.HasValidCredential = false
	return rec.Clone(), true
}

// Get returns a copy of one record
func (r *Registry) Get(id string) (domain.DeviceRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.devices[id]
	if !ok {
		return domain.DeviceRecord{}, false
	}
	return rec.Clone(), true
}

// All returns copies of every record, sorted by device id
func (r *Registry) All() []domain.DeviceRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.DeviceRecord, 0, len(r.devices))
	for _, rec := range r.devices {
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}

// Len returns the number of records, the local one included
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.devices)
}

// Remove deletes a record. The local record cannot be removed.
func (r *Registry) Remove(id string) bool {
	if id == r.localID {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.devices[id]; !ok {
		return false
	}
	delete(r.devices, id)
	return true
}

// Sweep evicts every record not seen for strictly longer than timeout and
// returns the evicted ids, sorted.
func (r *Registry) Sweep(now time.Time, timeout time.Duration) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var evicted []string
	for id, rec := range r.devices {
		if id == r.localID {
			continue
		}
		if now.Sub(rec.LastSeen) > timeout {
			delete(r.devices, id)
			evicted = append(evicted, id)
		}
	}
	sort.Strings(evicted)
	return evicted
}
