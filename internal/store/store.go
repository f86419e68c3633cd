// Package store defines the record-store boundary of the vault subsystem
// and helpers shared by its implementations. The store only ever sees
// ciphertext and non-sensitive envelope metadata.
package store

import (
	"context"

	"github.com/dmitrijs2005/vaultguard/internal/models"
)

// RegistryStore persists the single per-user registry record.
type RegistryStore interface {
	// GetRegistry returns the registry record for userID, or
	// common.ErrNotFound if the user has not enrolled.
	GetRegistry(ctx context.Context, userID string) (*models.RegistryRecord, error)

	// InsertRegistry creates the registry record. It is insert-if-absent:
	// a second insert for the same user fails with common.ErrAlreadyEnrolled
	// and leaves the first record unchanged.
	InsertRegistry(ctx context.Context, rec *models.RegistryRecord) error

	// UpdateRegistry replaces the salt/hash pair, guarded by an
	// optimistic-concurrency check: the update applies only if the stored
	// Generation equals expectedGeneration, and stores rec.Generation.
	// A generation mismatch or missing record fails with common.ErrNotFound.
	UpdateRegistry(ctx context.Context, rec *models.RegistryRecord, expectedGeneration int64) error
}

// EntryStore persists vault entries.
type EntryStore interface {
	ListEntries(ctx context.Context, userID string) ([]*models.Entry, error)

	// GetEntry returns the entry or common.ErrNotFound.
	GetEntry(ctx context.Context, id string) (*models.Entry, error)

	// PutEntry inserts or replaces an entry by ID.
	PutEntry(ctx context.Context, entry *models.Entry) error

	// DeleteEntry removes the entry, failing with common.ErrNotFound if it
	// does not exist.
	DeleteEntry(ctx context.Context, id string) error

	// DeleteEntriesByTag removes up to limit entries carrying the tag and
	// reports how many it removed. Callers loop until it returns 0.
	DeleteEntriesByTag(ctx context.Context, userID, tag string, limit int) (int, error)
}

// DocumentStore persists document-vault records.
type DocumentStore interface {
	ListDocuments(ctx context.Context, userID string) ([]*models.Document, error)
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	PutDocument(ctx context.Context, doc *models.Document) error
	DeleteDocument(ctx context.Context, id string) error
}

// Store is the full record-store surface consumed by the vault service.
type Store interface {
	RegistryStore
	EntryStore
	DocumentStore
}

// RotationCommitter is an optional capability: persist every re-encrypted
// record and the updated registry in a single atomic commit, guarded by the
// registry generation check. SQL-backed stores implement it with one
// transaction; without it the vault falls back to writing records first and
// the registry last.
type RotationCommitter interface {
	CommitRotation(ctx context.Context, rec *models.RegistryRecord, expectedGeneration int64,
		entries []*models.Entry, docs []*models.Document) error
}
