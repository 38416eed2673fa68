package trust

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"beacon/internal/domain"
)

// Supported proof types
const (
	ProofEd25519Signature2020 = "Ed25519Signature2020"
	ProofEd25519Signature2018 = "Ed25519Signature2018"
)

// Ed25519Verifier is the default SignatureVerifier. Proof values may be hex or
// base64 (standard or URL alphabet, padded or not).
type Ed25519Verifier struct{}

// VerifySignature implements SignatureVerifier
func (Ed25519Verifier) VerifySignature(data []byte, proofValue, publicKeyHex, proofType string) (bool, error) {
	if proofType != ProofEd25519Signature2020 && proofType != ProofEd25519Signature2018 {
		return false, fmt.Errorf("%w: %s", ErrUnsupportedProof, proofType)
	}

	key, err := hex.DecodeString(strings.TrimSpace(publicKeyHex))
	if err != nil || len(key) != ed25519.PublicKeySize {
		return false, fmt.Errorf("bad issuer key: expected %d hex-encoded bytes", ed25519.PublicKeySize)
	}

	sig, ok := decodeSignature(proofValue)
	if !ok {
		return false, nil
	}
	return ed25519.Verify(ed25519.PublicKey(key), data, sig), nil
}

func decodeSignature(s string) ([]byte, bool) {
	s = strings.TrimSpace(s)
	if b, err := hex.DecodeString(s); err == nil && len(b) == ed25519.SignatureSize {
		return b, true
	}
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if b, err := enc.DecodeString(s); err == nil && len(b) == ed25519.SignatureSize {
			return b, true
		}
	}
	return nil, false
}

// Sign issues cred with an Ed25519Signature2020 proof. Any proof already on
// cred is replaced. The returned bytes are what a holder presents.
func Sign(cred domain.Credential, key ed25519.PrivateKey, created time.Time) ([]byte, error) {
	cred.Proof = nil
	body, err := json.Marshal(cred)
	if err != nil {
		return nil, fmt.Errorf("marshal credential: %w", err)
	}
	proof, err := newProof(body, cred.Issuer, "assertionMethod", key, created)
	if err != nil {
		return nil, err
	}
	cred.Proof = proof
	return json.Marshal(cred)
}

// SignMessage adds a proof by signer to the JSON object v. The signature
// covers the same canonical form credentials use, so VerifySignedBy checks it
// against the signer's configured key.
func SignMessage(v any, signer string, key ed25519.PrivateKey, created time.Time) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("message is not a JSON object: %w", err)
	}
	delete(fields, proofField)

	unsigned, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}
	proof, err := newProof(unsigned, signer, "authentication", key, created)
	if err != nil {
		return nil, err
	}
	if fields[proofField], err = json.Marshal(proof); err != nil {
		return nil, fmt.Errorf("marshal proof: %w", err)
	}
	return json.Marshal(fields)
}

func newProof(body []byte, signer, purpose string, key ed25519.PrivateKey, created time.Time) (*domain.Proof, error) {
	canonical, err := Canonicalize(body)
	if err != nil {
		return nil, err
	}
	return &domain.Proof{
		Type:               ProofEd25519Signature2020,
		Created:            created.UTC().Format(time.RFC3339),
		VerificationMethod: signer + "#key-1",
		ProofPurpose:       purpose,
		ProofValue:         hex.EncodeToString(ed25519.Sign(key, canonical)),
	}, nil
}
