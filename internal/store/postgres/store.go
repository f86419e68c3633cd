package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/vaultguard/internal/common"
	"github.com/dmitrijs2005/vaultguard/internal/dbx"
	"github.com/dmitrijs2005/vaultguard/internal/models"
	"github.com/dmitrijs2005/vaultguard/internal/tags"
)

// Store implements the record-store and tag-store boundaries over
// PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore wraps an already-migrated database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for lifecycle management.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) GetRegistry(ctx context.Context, userID string) (*models.RegistryRecord, error) {
	query := `SELECT user_id, salt, verification_hash, generation, created_at, updated_at
		FROM registry WHERE user_id = $1`

	var rec models.RegistryRecord
	err := s.db.QueryRowContext(ctx, query, userID).
		Scan(&rec.UserID, &rec.Salt, &rec.VerificationHash, &rec.Generation, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return &rec, nil
}

func (s *Store) InsertRegistry(ctx context.Context, rec *models.RegistryRecord) error {
	query := `INSERT INTO registry (user_id, salt, verification_hash, generation, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id) DO NOTHING`

	res, err := s.db.ExecContext(ctx, query,
		rec.UserID, rec.Salt, rec.VerificationHash, rec.Generation, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrAlreadyEnrolled
	}
	return nil
}

func (s *Store) UpdateRegistry(ctx context.Context, rec *models.RegistryRecord, expectedGeneration int64) error {
	return updateRegistry(ctx, s.db, rec, expectedGeneration)
}

func updateRegistry(ctx context.Context, q dbx.DBTX, rec *models.RegistryRecord, expectedGeneration int64) error {
	query := `UPDATE registry
		SET salt = $1, verification_hash = $2, generation = $3, updated_at = $4
		WHERE user_id = $5 AND generation = $6`

	res, err := q.ExecContext(ctx, query,
		rec.Salt, rec.VerificationHash, rec.Generation, rec.UpdatedAt,
		rec.UserID, expectedGeneration)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrNotFound
	}
	return nil
}

func (s *Store) ListEntries(ctx context.Context, userID string) ([]*models.Entry, error) {
	query := `SELECT id, user_id, title, url, favorite, expires_at, ciphertext, nonce, created_at, updated_at
		FROM entries WHERE user_id = $1`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to select entries: %w", err)
	}
	defer rows.Close()

	var result []*models.Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	tagsByEntry, err := s.loadTags(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, e := range result {
		e.Tags = tagsByEntry[e.ID]
	}
	return result, nil
}

func (s *Store) GetEntry(ctx context.Context, id string) (*models.Entry, error) {
	query := `SELECT id, user_id, title, url, favorite, expires_at, ciphertext, nonce, created_at, updated_at
		FROM entries WHERE id = $1`

	entry, err := scanEntry(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT tag FROM entry_tags WHERE entry_id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to select tags: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, err
		}
		entry.Tags = append(entry.Tags, tag)
	}
	return entry, rows.Err()
}

func (s *Store) PutEntry(ctx context.Context, entry *models.Entry) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return putEntry(ctx, tx, entry)
	})
}

func putEntry(ctx context.Context, q dbx.DBTX, entry *models.Entry) error {
	query := `INSERT INTO entries (id, user_id, title, url, favorite, expires_at, ciphertext, nonce, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			url = EXCLUDED.url,
			favorite = EXCLUDED.favorite,
			expires_at = EXCLUDED.expires_at,
			ciphertext = EXCLUDED.ciphertext,
			nonce = EXCLUDED.nonce,
			updated_at = EXCLUDED.updated_at`

	_, err := q.ExecContext(ctx, query,
		entry.ID, entry.UserID, entry.Title, entry.URL, entry.Favorite,
		entry.ExpiresAt, entry.Ciphertext, entry.Nonce, entry.CreatedAt, entry.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert entry: %w", err)
	}

	if _, err := q.ExecContext(ctx, `DELETE FROM entry_tags WHERE entry_id = $1`, entry.ID); err != nil {
		return fmt.Errorf("failed to clear tags: %w", err)
	}
	for _, tag := range entry.Tags {
		if _, err := q.ExecContext(ctx,
			`INSERT INTO entry_tags (entry_id, tag) VALUES ($1, $2)`, entry.ID, tag); err != nil {
			return fmt.Errorf("failed to insert tag: %w", err)
		}
	}
	return nil
}

func (s *Store) DeleteEntry(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM entries WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteEntriesByTag(ctx context.Context, userID, tag string, limit int) (int, error) {
	query := `DELETE FROM entries WHERE id IN (
		SELECT e.id FROM entries e
		JOIN entry_tags t ON t.entry_id = e.id
		WHERE e.user_id = $1 AND t.tag = $2
		LIMIT $3)`

	res, err := s.db.ExecContext(ctx, query, userID, tag, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to delete entries by tag: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected error: %w", err)
	}
	return int(n), nil
}

func (s *Store) ListDocuments(ctx context.Context, userID string) ([]*models.Document, error) {
	query := `SELECT id, user_id, title, provider, document_type, issued_at, expires_at, favorite,
			ciphertext, nonce, storage_key, created_at, updated_at
		FROM documents WHERE user_id = $1`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to select documents: %w", err)
	}
	defer rows.Close()

	var result []*models.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, doc)
	}
	return result, rows.Err()
}

func (s *Store) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	query := `SELECT id, user_id, title, provider, document_type, issued_at, expires_at, favorite,
			ciphertext, nonce, storage_key, created_at, updated_at
		FROM documents WHERE id = $1`

	doc, err := scanDocument(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, err
	}
	return doc, nil
}

const putDocumentQuery = `INSERT INTO documents
		(id, user_id, title, provider, document_type, issued_at, expires_at, favorite,
		 ciphertext, nonce, storage_key, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	ON CONFLICT (id) DO UPDATE SET
		title = EXCLUDED.title,
		provider = EXCLUDED.provider,
		document_type = EXCLUDED.document_type,
		issued_at = EXCLUDED.issued_at,
		expires_at = EXCLUDED.expires_at,
		favorite = EXCLUDED.favorite,
		ciphertext = EXCLUDED.ciphertext,
		nonce = EXCLUDED.nonce,
		storage_key = EXCLUDED.storage_key,
		updated_at = EXCLUDED.updated_at`

func (s *Store) PutDocument(ctx context.Context, doc *models.Document) error {
	return putDocument(ctx, s.db, doc)
}

func putDocument(ctx context.Context, q dbx.DBTX, doc *models.Document) error {
	_, err := q.ExecContext(ctx, putDocumentQuery,
		doc.ID, doc.UserID, doc.Title, doc.Provider, doc.DocumentType,
		doc.IssuedAt, doc.ExpiresAt, doc.Favorite,
		doc.Ciphertext, doc.Nonce, doc.StorageKey, doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert document: %w", err)
	}
	return nil
}

func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrNotFound
	}
	return nil
}

// CommitRotation writes the full rotation set in one transaction, the
// registry update (guarded by the generation check) last. A generation miss
// rolls everything back.
func (s *Store) CommitRotation(ctx context.Context, rec *models.RegistryRecord, expectedGeneration int64,
	entries []*models.Entry, docs []*models.Document) error {

	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		for _, e := range entries {
			if err := putEntry(ctx, tx, e); err != nil {
				return err
			}
		}
		for _, d := range docs {
			if err := putDocument(ctx, tx, d); err != nil {
				return err
			}
		}
		return updateRegistry(ctx, tx, rec, expectedGeneration)
	})
}

// CreateDefaultCategories implements the tag-store boundary.
func (s *Store) CreateDefaultCategories(ctx context.Context, userID string) error {
	for _, name := range tags.DefaultCategories {
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO tags (user_id, name) VALUES ($1, $2) ON CONFLICT (user_id, name) DO NOTHING`,
			userID, name); err != nil {
			return fmt.Errorf("failed to seed category: %w", err)
		}
	}
	return nil
}

// List returns the category labels known for userID.
func (s *Store) List(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM tags WHERE user_id = $1 ORDER BY name`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to select tags: %w", err)
	}
	defer rows.Close()

	var result []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		result = append(result, name)
	}
	return result, rows.Err()
}

// loadTags fetches the tag sets for all of a user's entries in one query.
func (s *Store) loadTags(ctx context.Context, userID string) (map[string][]string, error) {
	query := `SELECT t.entry_id, t.tag FROM entry_tags t
		JOIN entries e ON e.id = t.entry_id
		WHERE e.user_id = $1`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to select tags: %w", err)
	}
	defer rows.Close()

	result := make(map[string][]string)
	for rows.Next() {
		var entryID, tag string
		if err := rows.Scan(&entryID, &tag); err != nil {
			return nil, err
		}
		result[entryID] = append(result[entryID], tag)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*models.Entry, error) {
	var e models.Entry
	if err := row.Scan(&e.ID, &e.UserID, &e.Title, &e.URL, &e.Favorite, &e.ExpiresAt,
		&e.Ciphertext, &e.Nonce, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	return &e, nil
}

func scanDocument(row rowScanner) (*models.Document, error) {
	var d models.Document
	if err := row.Scan(&d.ID, &d.UserID, &d.Title, &d.Provider, &d.DocumentType,
		&d.IssuedAt, &d.ExpiresAt, &d.Favorite, &d.Ciphertext, &d.Nonce, &d.StorageKey,
		&d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	return &d, nil
}
