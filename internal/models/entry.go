package models

import "time"

// Entry is a vault record: a plaintext searchable envelope plus an opaque
// encrypted payload. The envelope must never contain values that were
// available only inside the payload.
type Entry struct {
	// ID is a globally unique identifier for the entry.
	ID string

	// UserID identifies the vault owner.
	UserID string

	// Envelope fields, stored in plaintext and searchable.
	Title     string
	URL       string
	Tags      []string
	Favorite  bool
	ExpiresAt *time.Time

	// Ciphertext is the encrypted payload in storage text form.
	Ciphertext string
	// Nonce is the AEAD nonce for Ciphertext, in storage text form.
	Nonce string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Document is a document-vault record. Structurally it mirrors Entry
// (plaintext envelope + ciphertext/nonce pair) in a separate collection.
// Large document bodies may be staged in the blob store instead of inline;
// StorageKey is then set and Ciphertext holds the encrypted body reference.
type Document struct {
	ID     string
	UserID string

	Title        string
	Provider     string
	DocumentType string
	IssuedAt     *time.Time
	ExpiresAt    *time.Time
	Favorite     bool

	Ciphertext string
	Nonce      string

	// StorageKey locates an externally staged encrypted body, if any.
	StorageKey string

	CreatedAt time.Time
	UpdatedAt time.Time
}
