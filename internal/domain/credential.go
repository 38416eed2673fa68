package domain

import (
	"encoding/json"
	"time"
)

// Credential is a signed identity document binding a device id to a public key
// and an issuing identity. Raw keeps the bytes as received for canonicalization.
type Credential struct {
	ID                string            `json:"id,omitempty"`
	Type              []string          `json:"type,omitempty"`
	Issuer            string            `json:"issuer"`
	IssuanceDate      string            `json:"issuanceDate,omitempty"`
	ExpirationDate    string            `json:"expirationDate,omitempty"`
	CredentialSubject CredentialSubject `json:"credentialSubject"`
	Proof             *Proof            `json:"proof,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// CredentialSubject names the device the credential is about
type CredentialSubject struct {
	ID           string `json:"id"`
	PublicKeyHex string `json:"publicKeyHex,omitempty"`
	DeviceType   string `json:"deviceType,omitempty"`
	Role         string `json:"role,omitempty"`
}

// Proof is the detached signature over the credential minus this field
type Proof struct {
	Type               string `json:"type"`
	Created            string `json:"created,omitempty"`
	VerificationMethod string `json:"verificationMethod,omitempty"`
	ProofPurpose       string `json:"proofPurpose,omitempty"`
	ProofValue         string `json:"proofValue"`
}

// IssuerTrust records how the issuer was accepted
type IssuerTrust string

const (
	IssuerSelf     IssuerTrust = "self"
	IssuerTrusted  IssuerTrust = "trusted"
	IssuerVerified IssuerTrust = "verified"
)

// VerifiedCredentialInfo is produced only after a credential passes verification
type VerifiedCredentialInfo struct {
	Credential          json.RawMessage `json:"credential"`
	SubjectDeviceID     string          `json:"subject_device_id"`
	SubjectPublicKeyHex string          `json:"subject_public_key_hex"`
	IssuerIdentity      string          `json:"issuer_identity"`
	IssuerTrust         IssuerTrust     `json:"issuer_trust"`
	VerifiedAt          time.Time       `json:"verified_at"`
	ExpiresAt           time.Time       `json:"expires_at"`
}

// Expired reports whether the cache entry has lapsed
func (v VerifiedCredentialInfo) Expired(now time.Time) bool {
	return !now.Before(v.ExpiresAt)
}
