// Package models defines the records crossing the record-store boundary.
// Salt, verification hash, ciphertext and nonce fields are opaque text at
// this layer; their encoding belongs to the vault subsystem.
package models

import "time"

// RegistryRecord is the single per-user vault registry row: the salt used
// for key derivation and the hash proving passphrase knowledge. Exactly zero
// or one record exists per user; it is created once on enrollment and
// mutated only by passphrase rotation.
type RegistryRecord struct {
	// UserID identifies the vault owner.
	UserID string

	// Salt is the random per-user salt in storage text form.
	Salt string

	// VerificationHash proves knowledge of the passphrase without
	// revealing the encryption key.
	VerificationHash string

	// Generation is an optimistic-concurrency token incremented on every
	// rotation. The registry update is the rotation commit point and is
	// compare-and-swapped on this value.
	Generation int64

	CreatedAt time.Time
	UpdatedAt time.Time
}
