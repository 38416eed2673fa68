package domain

import (
	"slices"
	"time"
)

// DeviceRecord is one entry per observed device
type DeviceRecord struct {
	DeviceID     string    `json:"device_id"`
	DeviceType   string    `json:"device_type"`
	Address      string    `json:"address"`
	Port         int       `json:"port"`
	Capabilities []string  `json:"capabilities,omitempty"`
	FirstSeen    time.Time `json:"first_seen"`
	LastSeen     time.Time `json:"last_seen"`
	Online       bool      `json:"online"`

	// OwnerID is set only from a verified credential; empty means unclaimed
	OwnerID string `json:"owner_id,omitempty"`
	// Claimed mirrors the device's own ownership marker; identity is never taken from it
	Claimed bool `json:"claimed"`

	TrustLevel         float64 `json:"trust_level"`
	HasValidCredential bool    `json:"has_valid_credential"`
}

// Clone returns a deep copy safe to hand outside the registry
func (d DeviceRecord) Clone() DeviceRecord {
	d.Capabilities = slices.Clone(d.Capabilities)
	return d
}

// OwnershipState says what a message asserts about ownership
type OwnershipState uint8

const (
	// OwnershipUnspecified means the message says nothing about the owner
	OwnershipUnspecified OwnershipState = iota
	// OwnershipNone means the message asserts there is no owner
	OwnershipNone
	// OwnershipClaimed means the device reports an owner without naming one
	OwnershipClaimed
	// OwnershipAsserted carries an owner identity (credential path only)
	OwnershipAsserted
)

// Ownership is the owner field of a DeviceUpdate
type Ownership struct {
	State   OwnershipState
	OwnerID string
}

// DeviceUpdate is the candidate handed to the registry's upsert
type DeviceUpdate struct {
	DeviceID   string
	DeviceType string
	Address    string
	Port       int
	// Capabilities nil means "not supplied"
	Capabilities []string
	Owner        Ownership
	// TrustLevel nil means "not supplied"
	TrustLevel *float64
	SeenAt     time.Time
}

// NormalizeCapabilities sorts and de-duplicates a capability list, dropping empties
func NormalizeCapabilities(caps []string) []string {
	if caps == nil {
		return nil
	}
	out := make([]string, 0, len(caps))
	for _, c := range caps {
		if c != "" {
			out = append(out, c)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
