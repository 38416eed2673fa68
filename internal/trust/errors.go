package trust

import "errors"

var (
	ErrMalformedCredential  = errors.New("malformed credential")
	ErrIncompleteCredential = errors.New("credential missing issuer, subject or proof")
	ErrCredentialExpired    = errors.New("credential expired")
	ErrSubjectMismatch      = errors.New("credential subject does not match responding device")
	ErrIssuerKeyUnavailable = errors.New("issuer public key unavailable")
	ErrInvalidSignature     = errors.New("invalid credential signature")
	ErrUnsupportedProof     = errors.New("unsupported proof type")
	ErrMissingSubjectKey    = errors.New("credential subject has no public key")
	ErrUnsigned             = errors.New("message carries no proof")
)
