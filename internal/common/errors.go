// Package common defines shared constants and sentinel errors used across
// the vaultguard layers. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Store-level errors.
	ErrNotFound         = errors.New("not found")
	ErrStoreUnavailable = errors.New("store unavailable")

	// Validation errors (always a caller bug, never retried).
	ErrInvalidArgument = errors.New("invalid argument")

	// Registry lifecycle errors.
	ErrAlreadyEnrolled    = errors.New("already enrolled")
	ErrInvalidCredentials = errors.New("invalid credentials")

	// Cipher/rotation errors.
	ErrDecryptionFailed = errors.New("decryption failed")
	ErrRotationFailed   = errors.New("rotation failed")

	// Session lifecycle errors.
	ErrSessionLocked = errors.New("session locked")
)
