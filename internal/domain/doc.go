// Package domain defines the core types shared by discovery and trust.
//
// # Devices
//
// DeviceRecord is what a node knows about one peer on the LAN: identity,
// address, declared capabilities, and an ownership state. Ownership has four
// values. Unspecified means the peer said nothing, None means it declared
// itself unowned, Claimed means an owner is named, and Asserted is reserved
// for operator overrides.
//
// # Attestations
//
// An Attestation is a self-issued statement a device broadcasts about itself.
// It names a License by hash and may reference earlier attestations. TrustScore
// ranks an attestation for display only; it never replaces verifying a
// credential.
//
// # Credentials
//
// A Credential is a signed verifiable credential asserting ownership of a
// device. Claims carry the subject and role. Verification lives in the trust
// package; this package only holds the data and its validity checks.
//
// Nothing here touches the network or the database.
package domain
