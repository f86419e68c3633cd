// Package tags defines the category-label collaborator consulted during
// enrollment. The vault subsystem only seeds the fixed default set; category
// semantics are a presentation concern of the surrounding application.
package tags

import (
	"context"
	"slices"
	"sync"
)

// DefaultCategories is the fixed label set seeded for every new vault.
var DefaultCategories = []string{
	"Login/Credentials",
	"Credit Card",
	"Bank Account",
	"Secure Note",
	"Identity",
	"Two-Factor",
	"Document",
}

// Store is the tag-store boundary.
type Store interface {
	// CreateDefaultCategories seeds the default label set for userID.
	// Seeding an already-seeded user is a no-op.
	CreateDefaultCategories(ctx context.Context, userID string) error

	// List returns the category labels known for userID.
	List(ctx context.Context, userID string) ([]string, error)
}

// InMemory is a map-backed Store for tests and tooling.
type InMemory struct {
	mu   sync.Mutex
	tags map[string][]string
}

func NewInMemory() *InMemory {
	return &InMemory{tags: make(map[string][]string)}
}

func (s *InMemory) CreateDefaultCategories(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tags[userID]; ok {
		return nil
	}
	s.tags[userID] = slices.Clone(DefaultCategories)
	return nil
}

func (s *InMemory) List(ctx context.Context, userID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return slices.Clone(s.tags[userID]), nil
}
