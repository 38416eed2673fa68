package domain

import "time"

// Well-known attestation types
const (
	AttestationDevicePresence = "DevicePresence"
)

// Claim keys used by presence attestations
const (
	ClaimDeviceID     = "deviceId"
	ClaimDeviceType   = "deviceType"
	ClaimStatus       = "status"
	ClaimOwnership    = "ownership"
	ClaimOwner        = "owner"
	ClaimCapabilities = "capabilities"
)

// Attestation is an immutable typed claim bounded by a validity window and a License
type Attestation struct {
	AttestationType string
	Claim           ClaimMap
	// License is the content hash of the governing License
	License    string
	Timestamp  time.Time
	ValidUntil *time.Time
	// References link prior attestations (hashes); used only as a trust signal
	References []string
}

// StructurallyValid reports whether the required fields are present
func (a Attestation) StructurallyValid() bool {
	return a.AttestationType != "" && a.License != "" && !a.Timestamp.IsZero() && a.Claim.Len() > 0
}

// Expired reports whether ValidUntil is set and already passed
func (a Attestation) Expired(now time.Time) bool {
	return a.ValidUntil != nil && now.After(*a.ValidUntil)
}
