package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/dmitrijs2005/vaultguard/internal/common"
	"github.com/dmitrijs2005/vaultguard/internal/models"
)

const (
	defaultRetryBase = 50 * time.Millisecond
	defaultRetryMax  = 3
)

// RetryingStore wraps a Store with fibonacci backoff on transient failures.
// Domain errors (not found, already enrolled) pass through untouched; a
// failure that survives all attempts surfaces as common.ErrStoreUnavailable
// so callers never mistake an outage for missing data.
type RetryingStore struct {
	inner      Store
	base       time.Duration
	maxRetries uint64
}

// NewRetryingStore wraps inner with the default backoff policy.
func NewRetryingStore(inner Store) *RetryingStore {
	return &RetryingStore{inner: inner, base: defaultRetryBase, maxRetries: defaultRetryMax}
}

// permanent reports whether err is a domain outcome rather than a transport
// failure, and therefore must not be retried.
func permanent(err error) bool {
	return errors.Is(err, common.ErrNotFound) ||
		errors.Is(err, common.ErrAlreadyEnrolled) ||
		errors.Is(err, common.ErrInvalidArgument) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func (r *RetryingStore) do(ctx context.Context, op func(ctx context.Context) error) error {
	b := retry.WithMaxRetries(r.maxRetries, retry.NewFibonacci(r.base))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		if err := op(ctx); err != nil {
			if permanent(err) {
				return err
			}
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil && !permanent(err) {
		return fmt.Errorf("%w: %v", common.ErrStoreUnavailable, err)
	}
	return err
}

func doValue[T any](ctx context.Context, r *RetryingStore, op func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := r.do(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}

func (r *RetryingStore) GetRegistry(ctx context.Context, userID string) (*models.RegistryRecord, error) {
	return doValue(ctx, r, func(ctx context.Context) (*models.RegistryRecord, error) {
		return r.inner.GetRegistry(ctx, userID)
	})
}

func (r *RetryingStore) InsertRegistry(ctx context.Context, rec *models.RegistryRecord) error {
	return r.do(ctx, func(ctx context.Context) error {
		return r.inner.InsertRegistry(ctx, rec)
	})
}

func (r *RetryingStore) UpdateRegistry(ctx context.Context, rec *models.RegistryRecord, expectedGeneration int64) error {
	return r.do(ctx, func(ctx context.Context) error {
		return r.inner.UpdateRegistry(ctx, rec, expectedGeneration)
	})
}

func (r *RetryingStore) ListEntries(ctx context.Context, userID string) ([]*models.Entry, error) {
	return doValue(ctx, r, func(ctx context.Context) ([]*models.Entry, error) {
		return r.inner.ListEntries(ctx, userID)
	})
}

func (r *RetryingStore) GetEntry(ctx context.Context, id string) (*models.Entry, error) {
	return doValue(ctx, r, func(ctx context.Context) (*models.Entry, error) {
		return r.inner.GetEntry(ctx, id)
	})
}

func (r *RetryingStore) PutEntry(ctx context.Context, entry *models.Entry) error {
	return r.do(ctx, func(ctx context.Context) error {
		return r.inner.PutEntry(ctx, entry)
	})
}

func (r *RetryingStore) DeleteEntry(ctx context.Context, id string) error {
	return r.do(ctx, func(ctx context.Context) error {
		return r.inner.DeleteEntry(ctx, id)
	})
}

func (r *RetryingStore) DeleteEntriesByTag(ctx context.Context, userID, tag string, limit int) (int, error) {
	return doValue(ctx, r, func(ctx context.Context) (int, error) {
		return r.inner.DeleteEntriesByTag(ctx, userID, tag, limit)
	})
}

// CommitRotation passes the atomic-rotation capability through to the inner
// store. The commit itself is never retried here: after an ambiguous failure
// the generation token may already be spent, and the rotation caller owns
// the retry decision.
func (r *RetryingStore) CommitRotation(ctx context.Context, rec *models.RegistryRecord, expectedGeneration int64,
	entries []*models.Entry, docs []*models.Document) error {

	rc, ok := r.inner.(RotationCommitter)
	if !ok {
		return errors.ErrUnsupported
	}
	return rc.CommitRotation(ctx, rec, expectedGeneration, entries, docs)
}

func (r *RetryingStore) ListDocuments(ctx context.Context, userID string) ([]*models.Document, error) {
	return doValue(ctx, r, func(ctx context.Context) ([]*models.Document, error) {
		return r.inner.ListDocuments(ctx, userID)
	})
}

func (r *RetryingStore) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	return doValue(ctx, r, func(ctx context.Context) (*models.Document, error) {
		return r.inner.GetDocument(ctx, id)
	})
}

func (r *RetryingStore) PutDocument(ctx context.Context, doc *models.Document) error {
	return r.do(ctx, func(ctx context.Context) error {
		return r.inner.PutDocument(ctx, doc)
	})
}

func (r *RetryingStore) DeleteDocument(ctx context.Context, id string) error {
	return r.do(ctx, func(ctx context.Context) error {
		return r.inner.DeleteDocument(ctx, id)
	})
}
