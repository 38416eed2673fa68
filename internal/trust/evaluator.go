package trust

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"beacon/internal/domain"
)

// Evaluator runs the credential acceptance pipeline and scores attestations
type Evaluator struct {
	policy   *Policy
	keys     KeyResolver
	verifier SignatureVerifier
	now      func() time.Time
}

// NewEvaluator wires the collaborators. A nil verifier defaults to Ed25519Verifier.
func NewEvaluator(policy *Policy, keys KeyResolver, verifier SignatureVerifier) *Evaluator {
	if verifier == nil {
		verifier = Ed25519Verifier{}
	}
	return &Evaluator{policy: policy, keys: keys, verifier: verifier, now: time.Now}
}

// SetClock overrides the time source
func (e *Evaluator) SetClock(now func() time.Time) {
	e.now = now
}

// Policy returns the issuer policy in use
func (e *Evaluator) Policy() *Policy {
	return e.policy
}

// VerifyCredential checks a received credential. Stages run in order:
// structure, subject match, expiry, issuer policy, signature, subject key.
// responderID, when set, must equal the credential subject. The returned info
// has VerifiedAt set; the caller decides ExpiresAt.
func (e *Evaluator) VerifyCredential(raw []byte, responderID string) (domain.VerifiedCredentialInfo, error) {
	var cred domain.Credential
	if err := json.Unmarshal(raw, &cred); err != nil {
		return domain.VerifiedCredentialInfo{}, fmt.Errorf("%w: %v", ErrMalformedCredential, err)
	}

	if cred.Issuer == "" || cred.CredentialSubject.ID == "" || cred.Proof == nil ||
		cred.Proof.Type == "" || cred.Proof.ProofValue == "" {
		return domain.VerifiedCredentialInfo{}, ErrIncompleteCredential
	}
	if responderID != "" && responderID != cred.CredentialSubject.ID {
		return domain.VerifiedCredentialInfo{}, fmt.Errorf("%w: %s != %s", ErrSubjectMismatch, cred.CredentialSubject.ID, responderID)
	}

	now := e.now()
	if cred.ExpirationDate != "" {
		expires, err := time.Parse(time.RFC3339, cred.ExpirationDate)
		if err != nil {
			return domain.VerifiedCredentialInfo{}, fmt.Errorf("%w: expirationDate: %v", ErrMalformedCredential, err)
		}
		if !now.Before(expires) {
			return domain.VerifiedCredentialInfo{}, fmt.Errorf("%w at %s", ErrCredentialExpired, cred.ExpirationDate)
		}
	}

	issuerTrust := e.policy.Classify(cred.Issuer)
	if issuerTrust == domain.IssuerVerified {
		if err := e.verifySignature(raw, cred); err != nil {
			return domain.VerifiedCredentialInfo{}, err
		}
	}

	if cred.CredentialSubject.PublicKeyHex == "" {
		return domain.VerifiedCredentialInfo{}, ErrMissingSubjectKey
	}

	return domain.VerifiedCredentialInfo{
		Credential:          slices.Clone(raw),
		SubjectDeviceID:     cred.CredentialSubject.ID,
		SubjectPublicKeyHex: cred.CredentialSubject.PublicKeyHex,
		IssuerIdentity:      cred.Issuer,
		IssuerTrust:         issuerTrust,
		VerifiedAt:          now,
	}, nil
}

func (e *Evaluator) verifySignature(raw []byte, cred domain.Credential) error {
	return e.verifyProof(raw, cred.Issuer, cred.Proof)
}

// VerifySignedBy checks that the JSON object raw carries a valid proof made
// with signer's configured key. Unlike credentials, signed messages are
// never accepted on policy alone.
func (e *Evaluator) VerifySignedBy(raw []byte, signer string) error {
	var envelope struct {
		Proof *domain.Proof `json:"proof"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedCredential, err)
	}
	if signer == "" || envelope.Proof == nil || envelope.Proof.Type == "" || envelope.Proof.ProofValue == "" {
		return ErrUnsigned
	}
	return e.verifyProof(raw, signer, envelope.Proof)
}

func (e *Evaluator) verifyProof(raw []byte, signer string, proof *domain.Proof) error {
	key, ok := e.keys.IssuerPublicKey(signer)
	if !ok || key == "" {
		return fmt.Errorf("%w: %s", ErrIssuerKeyUnavailable, signer)
	}
	canonical, err := Canonicalize(raw)
	if err != nil {
		return err
	}
	valid, err := e.verifier.VerifySignature(canonical, proof.ProofValue, key, proof.Type)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if !valid {
		return ErrInvalidSignature
	}
	return nil
}

// EvaluateAttestation scores a received attestation. Structurally invalid or
// expired attestations are rejected.
func (e *Evaluator) EvaluateAttestation(a domain.Attestation, license *domain.License) (float64, bool) {
	if !a.StructurallyValid() || a.Expired(e.now()) {
		return 0, false
	}
	return domain.TrustScore(a, license), true
}
