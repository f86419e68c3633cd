package vault

import (
	"context"
	"sync"

	"github.com/dmitrijs2005/vaultguard/internal/logging"
	"github.com/dmitrijs2005/vaultguard/internal/store"
	"github.com/dmitrijs2005/vaultguard/internal/tags"
)

// BlobStore stages large encrypted document bodies outside the record
// store. Implementations receive ciphertext only.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// Service is the vault subsystem facade: registry enrollment/rotation,
// unlock sessions, and entry/document management over an external record
// store.
type Service struct {
	store store.Store
	tags  tags.Store
	blobs BlobStore
	log   logging.Logger

	locks userLocks
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the structured logger. Defaults to a no-op logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithBlobStore enables external staging of large document bodies.
func WithBlobStore(b BlobStore) Option {
	return func(s *Service) { s.blobs = b }
}

// New constructs a Service over the given record store and tag store.
func New(st store.Store, tagStore tags.Store, opts ...Option) *Service {
	s := &Service{
		store: st,
		tags:  tagStore,
		log:   logging.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// userLocks serializes rotation against all other vault mutations for the
// same user. Rotation assumes it observes a complete and stable record set.
type userLocks struct {
	mu sync.Mutex
	m  map[string]*sync.Mutex
}

func (l *userLocks) lock(userID string) func() {
	l.mu.Lock()
	if l.m == nil {
		l.m = make(map[string]*sync.Mutex)
	}
	um, ok := l.m[userID]
	if !ok {
		um = &sync.Mutex{}
		l.m[userID] = um
	}
	l.mu.Unlock()

	um.Lock()
	return um.Unlock
}
