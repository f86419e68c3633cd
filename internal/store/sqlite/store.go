package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/vaultguard/internal/common"
	"github.com/dmitrijs2005/vaultguard/internal/dbx"
	"github.com/dmitrijs2005/vaultguard/internal/models"
	"github.com/dmitrijs2005/vaultguard/internal/tags"
)

// Store implements the record-store and tag-store boundaries over SQLite.
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

// Times are persisted as RFC 3339 text; SQLite has no native timestamp type.
const timeLayout = time.RFC3339Nano

func encodeTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func decodeTime(s string) (time.Time, error) { return time.Parse(timeLayout, s) }

func encodeTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: encodeTime(*t), Valid: true}
}

func decodeTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := decodeTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) GetRegistry(ctx context.Context, userID string) (*models.RegistryRecord, error) {
	query := `SELECT user_id, salt, verification_hash, generation, created_at, updated_at
		FROM registry WHERE user_id = ?`

	var rec models.RegistryRecord
	var created, updated string
	err := s.db.QueryRowContext(ctx, query, userID).
		Scan(&rec.UserID, &rec.Salt, &rec.VerificationHash, &rec.Generation, &created, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	if rec.CreatedAt, err = decodeTime(created); err != nil {
		return nil, err
	}
	if rec.UpdatedAt, err = decodeTime(updated); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) InsertRegistry(ctx context.Context, rec *models.RegistryRecord) error {
	query := `INSERT INTO registry (user_id, salt, verification_hash, generation, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO NOTHING`

	res, err := s.db.ExecContext(ctx, query,
		rec.UserID, rec.Salt, rec.VerificationHash, rec.Generation,
		encodeTime(rec.CreatedAt), encodeTime(rec.UpdatedAt))
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
		SET salt = ?, verification_hash = ?, generation = ?, updated_at = ?
		WHERE user_id = ? AND generation = ?`

	res, err := q.ExecContext(ctx, query,
		rec.Salt, rec.VerificationHash, rec.Generation, encodeTime(rec.UpdatedAt),
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
		FROM entries WHERE user_id = ?`

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
		FROM entries WHERE id = ?`

	row := s.db.QueryRowContext(ctx, query, id)
	entry, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT tag FROM entry_tags WHERE entry_id = ?`, id)
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
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *Store) PutEntry(ctx context.Context, entry *models.Entry) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return putEntry(ctx, tx, entry)
	})
}

func putEntry(ctx context.Context, q dbx.DBTX, entry *models.Entry) error {
	query := `INSERT INTO entries (id, user_id, title, url, favorite, expires_at, ciphertext, nonce, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			title = excluded.title,
			url = excluded.url,
			favorite = excluded.favorite,
			expires_at = excluded.expires_at,
			ciphertext = excluded.ciphertext,
			nonce = excluded.nonce,
			updated_at = excluded.updated_at`

	_, err := q.ExecContext(ctx, query,
		entry.ID, entry.UserID, entry.Title, entry.URL, entry.Favorite,
		encodeTimePtr(entry.ExpiresAt), entry.Ciphertext, entry.Nonce,
		encodeTime(entry.CreatedAt), encodeTime(entry.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert entry: %w", err)
	}

	if _, err := q.ExecContext(ctx, `DELETE FROM entry_tags WHERE entry_id = ?`, entry.ID); err != nil {
		return fmt.Errorf("failed to clear tags: %w", err)
	}
	for _, tag := range entry.Tags {
		if _, err := q.ExecContext(ctx, `INSERT INTO entry_tags (entry_id, tag) VALUES (?, ?)`, entry.ID, tag); err != nil {
			return fmt.Errorf("failed to insert tag: %w", err)
		}
	}
	return nil
}

func (s *Store) DeleteEntry(ctx context.Context, id string) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE id = ?`, id)
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
		_, err = tx.ExecContext(ctx, `DELETE FROM entry_tags WHERE entry_id = ?`, id)
		return err
	})
}

func (s *Store) DeleteEntriesByTag(ctx context.Context, userID, tag string, limit int) (int, error) {
	var removed int
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		query := `DELETE FROM entries WHERE id IN (
			SELECT e.id FROM entries e
			JOIN entry_tags t ON t.entry_id = e.id
			WHERE e.user_id = ? AND t.tag = ?
			LIMIT ?)`

		res, err := tx.ExecContext(ctx, query, userID, tag, limit)
		if err != nil {
			return fmt.Errorf("failed to delete entries by tag: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected error: %w", err)
		}
		removed = int(n)

		_, err = tx.ExecContext(ctx, `DELETE FROM entry_tags WHERE entry_id NOT IN (SELECT id FROM entries)`)
		return err
	})
	return removed, err
}

func (s *Store) ListDocuments(ctx context.Context, userID string) ([]*models.Document, error) {
	query := `SELECT id, user_id, title, provider, document_type, issued_at, expires_at, favorite,
			ciphertext, nonce, storage_key, created_at, updated_at
		FROM documents WHERE user_id = ?`

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
		FROM documents WHERE id = ?`

	doc, err := scanDocument(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, err
	}
	return doc, nil
}

func (s *Store) PutDocument(ctx context.Context, doc *models.Document) error {
	_, err := s.db.ExecContext(ctx, putDocumentQuery,
		doc.ID, doc.UserID, doc.Title, doc.Provider, doc.DocumentType,
		encodeTimePtr(doc.IssuedAt), encodeTimePtr(doc.ExpiresAt), doc.Favorite,
		doc.Ciphertext, doc.Nonce, doc.StorageKey,
		encodeTime(doc.CreatedAt), encodeTime(doc.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert document: %w", err)
	}
	return nil
}

const putDocumentQuery = `INSERT INTO documents
		(id, user_id, title, provider, document_type, issued_at, expires_at, favorite,
		 ciphertext, nonce, storage_key, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (id) DO UPDATE SET
		title = excluded.title,
		provider = excluded.provider,
		document_type = excluded.document_type,
		issued_at = excluded.issued_at,
		expires_at = excluded.expires_at,
		favorite = excluded.favorite,
		ciphertext = excluded.ciphertext,
		nonce = excluded.nonce,
		storage_key = excluded.storage_key,
		updated_at = excluded.updated_at`

func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
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

// CommitRotation writes the full rotation set in one transaction: every
// re-encrypted entry and document, then the registry update guarded by the
// generation check. A generation miss rolls everything back.
func (s *Store) CommitRotation(ctx context.Context, rec *models.RegistryRecord, expectedGeneration int64,
	entries []*models.Entry, docs []*models.Document) error {

	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		for _, e := range entries {
			if err := putEntry(ctx, tx, e); err != nil {
				return err
			}
		}
		for _, d := range docs {
			if _, err := tx.ExecContext(ctx, putDocumentQuery,
				d.ID, d.UserID, d.Title, d.Provider, d.DocumentType,
				encodeTimePtr(d.IssuedAt), encodeTimePtr(d.ExpiresAt), d.Favorite,
				d.Ciphertext, d.Nonce, d.StorageKey,
				encodeTime(d.CreatedAt), encodeTime(d.UpdatedAt)); err != nil {
				return fmt.Errorf("failed to upsert document: %w", err)
			}
		}
		return updateRegistry(ctx, tx, rec, expectedGeneration)
	})
}

// CreateDefaultCategories implements the tag-store boundary.
func (s *Store) CreateDefaultCategories(ctx context.Context, userID string) error {
	return createDefaultCategories(ctx, s.db, userID)
}

func createDefaultCategories(ctx context.Context, q dbx.DBTX, userID string) error {
	for _, name := range tags.DefaultCategories {
		if _, err := q.ExecContext(ctx,
			`INSERT INTO tags (user_id, name) VALUES (?, ?) ON CONFLICT (user_id, name) DO NOTHING`,
			userID, name); err != nil {
			return fmt.Errorf("failed to seed category: %w", err)
		}
	}
	return nil
}

// List returns the category labels known for userID.
func (s *Store) List(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM tags WHERE user_id = ? ORDER BY name`, userID)
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
		WHERE e.user_id = ?`

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
	var expires sql.NullString
	var created, updated string
	if err := row.Scan(&e.ID, &e.UserID, &e.Title, &e.URL, &e.Favorite, &expires,
		&e.Ciphertext, &e.Nonce, &created, &updated); err != nil {
		return nil, err
	}

	var err error
	if e.ExpiresAt, err = decodeTimePtr(expires); err != nil {
		return nil, err
	}
	if e.CreatedAt, err = decodeTime(created); err != nil {
		return nil, err
	}
	if e.UpdatedAt, err = decodeTime(updated); err != nil {
		return nil, err
	}
	return &e, nil
}

func scanDocument(row rowScanner) (*models.Document, error) {
	var d models.Document
	var issued, expires sql.NullString
	var created, updated string
	if err := row.Scan(&d.ID, &d.UserID, &d.Title, &d.Provider, &d.DocumentType,
		&issued, &expires, &d.Favorite, &d.Ciphertext, &d.Nonce, &d.StorageKey,
		&created, &updated); err != nil {
		return nil, err
	}

	var err error
	if d.IssuedAt, err = decodeTimePtr(issued); err != nil {
		return nil, err
	}
	if d.ExpiresAt, err = decodeTimePtr(expires); err != nil {
		return nil, err
	}
	if d.CreatedAt, err = decodeTime(created); err != nil {
		return nil, err
	}
	if d.UpdatedAt, err = decodeTime(updated); err != nil {
		return nil, err
	}
	return &d, nil
}
