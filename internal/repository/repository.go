package repository

import (
	"context"
	"encoding/hex"
	"time"

	"golang.org/x/crypto/blake2b"
)

// Object kinds stored by this module
const (
	KindLicense     = "License"
	KindAttestation = "Attestation"
	KindCredential  = "Credential"
	// KindOwnershipRemoval records that a stored credential was given up
	KindOwnershipRemoval = "OwnershipRemoval"
)

// Object is one immutable, content-addressed blob
type Object struct {
	Hash      string    `json:"hash"`
	Kind      string    `json:"kind"`
	Data      []byte    `json:"data"`
	CreatedAt time.Time `json:"created_at"`
}

// ObjectStore persists immutable objects by the hash of their bytes
type ObjectStore interface {
	// Store saves data and returns its hash. Storing identical bytes again is a no-op.
	Store(ctx context.Context, kind string, data []byte) (string, error)
	// GetByHash loads an object; ok is false when it does not exist
	GetByHash(ctx context.Context, hash string) (Object, bool, error)
	// List returns objects of one kind, newest first
	List(ctx context.Context, kind string, limit int) ([]Object, error)

	Close() error
}

// ContentHash is the lowercase hex BLAKE2b-256 digest of data
func ContentHash(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}
