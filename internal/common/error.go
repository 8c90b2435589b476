// Sentinel errors shared between client and service layers. Callers should
// use errors.Is to match these values.
package common

import "errors"

var (
	// Auth errors.
	ErrNotInitialized = errors.New("credential not initialized")
	ErrNoToken        = errors.New("no token available")

	// Envelope cipher errors.
	ErrEncryptionFailed = errors.New("encryption failed")

	// Repository-level errors.
	ErrorNotFound = errors.New("not found")
)
