// Package repository defines the content-addressed object store.
//
// Objects are immutable byte blobs keyed by their BLAKE2b-256 hash. Licenses
// are stored here so attestations can reference them by hash, and each
// attestation this node issues is stored so the next one can reference it.
//
// The sqlite subpackage provides the implementation, using WAL mode on disk
// and a single connection for in-memory databases.
package repository
