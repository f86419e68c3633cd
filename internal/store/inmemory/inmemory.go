// Package inmemory provides a map-backed record store. It is used by tests
// and by short-lived tooling that does not need persistence.
package inmemory

import (
	"context"
	"slices"
	"sync"

	"github.com/dmitrijs2005/vaultguard/internal/common"
	"github.com/dmitrijs2005/vaultguard/internal/models"
)

type Store struct {
	mu         sync.Mutex
	registries map[string]*models.RegistryRecord
	entries    map[string]*models.Entry
	documents  map[string]*models.Document
}

func New() *Store {
	return &Store{
		registries: make(map[string]*models.RegistryRecord),
		entries:    make(map[string]*models.Entry),
		documents:  make(map[string]*models.Document),
	}
}

func (s *Store) GetRegistry(ctx context.Context, userID string) (*models.RegistryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.registries[userID]
	if !ok {
		return nil, common.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *Store) InsertRegistry(ctx context.Context, rec *models.RegistryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.registries[rec.UserID]; ok {
		return common.ErrAlreadyEnrolled
	}
	cp := *rec
	s.registries[rec.UserID] = &cp
	return nil
}

func (s *Store) UpdateRegistry(ctx context.Context, rec *models.RegistryRecord, expectedGeneration int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.registries[rec.UserID]
	if !ok || cur.Generation != expectedGeneration {
		return common.ErrNotFound
	}
	cp := *rec
	s.registries[rec.UserID] = &cp
	return nil
}

func (s *Store) ListEntries(ctx context.Context, userID string) ([]*models.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*models.Entry
	for _, e := range s.entries {
		if e.UserID == userID {
			result = append(result, copyEntry(e))
		}
	}
	return result, nil
}

func (s *Store) GetEntry(ctx context.Context, id string) (*models.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	return copyEntry(e), nil
}

func (s *Store) PutEntry(ctx context.Context, entry *models.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[entry.ID] = copyEntry(entry)
	return nil
}

func (s *Store) DeleteEntry(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[id]; !ok {
		return common.ErrNotFound
	}
	delete(s.entries, id)
	return nil
}

func (s *Store) DeleteEntriesByTag(ctx context.Context, userID, tag string, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, e := range s.entries {
		if removed >= limit {
			break
		}
		if e.UserID == userID && slices.Contains(e.Tags, tag) {
			delete(s.entries, id)
			removed++
		}
	}
	return removed, nil
}

func (s *Store) ListDocuments(ctx context.Context, userID string) ([]*models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*models.Document
	for _, d := range s.documents {
		if d.UserID == userID {
			cp := *d
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (s *Store) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.documents[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (s *Store) PutDocument(ctx context.Context, doc *models.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *doc
	s.documents[doc.ID] = &cp
	return nil
}

func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.documents[id]; !ok {
		return common.ErrNotFound
	}
	delete(s.documents, id)
	return nil
}

// CommitRotation applies the full rotation write set atomically under the
// store mutex, guarded by the registry generation check.
func (s *Store) CommitRotation(ctx context.Context, rec *models.RegistryRecord, expectedGeneration int64,
	entries []*models.Entry, docs []*models.Document) error {

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.registries[rec.UserID]
	if !ok || cur.Generation != expectedGeneration {
		return common.ErrNotFound
	}
	for _, e := range entries {
		s.entries[e.ID] = copyEntry(e)
	}
	for _, d := range docs {
		cp := *d
		s.documents[d.ID] = &cp
	}
	cp := *rec
	s.registries[rec.UserID] = &cp
	return nil
}

func copyEntry(e *models.Entry) *models.Entry {
	cp := *e
	cp.Tags = slices.Clone(e.Tags)
	return &cp
}
