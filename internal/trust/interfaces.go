package trust

//go:generate mockgen -destination=mock_trust.go -package=trust beacon/internal/trust SignatureVerifier,KeyResolver

// SignatureVerifier checks a detached signature over canonical bytes.
// publicKeyHex is the issuer key; proofType names the signature scheme.
type SignatureVerifier interface {
	VerifySignature(data []byte, proofValue, publicKeyHex, proofType string) (bool, error)
}

// KeyResolver maps an issuer identity to its public key. A missing key is
// reported as ok=false, not as an error.
type KeyResolver interface {
	IssuerPublicKey(issuer string) (string, bool)
}
