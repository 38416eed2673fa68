package service

import "errors"

var (
	// ErrNotInitialized is returned when an engine is used before Init
	ErrNotInitialized = errors.New("not initialized")
	// ErrAlreadyOwned is returned when provisioning a node that already holds a credential
	ErrAlreadyOwned = errors.New("node already holds an ownership credential")
	// ErrRemovalRejected is logged when an ownership removal fails authorization
	ErrRemovalRejected = errors.New("ownership removal rejected")
)
