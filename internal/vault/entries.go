package vault

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/vaultguard/internal/common"
	"github.com/dmitrijs2005/vaultguard/internal/models"
	"github.com/dmitrijs2005/vaultguard/internal/secretx"
)

// deleteByTagBatchSize bounds each bulk-delete round trip against the store.
const deleteByTagBatchSize = 100

// EntryEnvelope carries the plaintext, searchable fields of an entry. It
// must never hold values that belong inside the encrypted payload.
type EntryEnvelope struct {
	Title     string
	URL       string
	Tags      []string
	Favorite  bool
	ExpiresAt *time.Time
}

// EntryView is a created or decrypted entry: the stored record plus its
// transient decrypted payload. Views are never written back to storage.
type EntryView struct {
	Entry   *models.Entry
	Payload Payload
}

// EntryFilter selects entries by their plaintext envelope.
type EntryFilter struct {
	Tag            string
	FavoritesOnly  bool
	ExpiringBefore *time.Time
}

// CreateEntry encrypts payload with the session key and persists a new
// record. The returned view includes the decrypted payload for immediate
// display.
func (s *Service) CreateEntry(ctx context.Context, sess *Session, env EntryEnvelope, payload Payload) (*EntryView, error) {
	unlock := s.locks.lock(sess.UserID())
	defer unlock()

	ciphertext, nonce, err := sess.EncryptPayload(payload)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	entry := &models.Entry{
		ID:         uuid.NewString(),
		UserID:     sess.UserID(),
		Title:      env.Title,
		URL:        env.URL,
		Tags:       env.Tags,
		Favorite:   env.Favorite,
		ExpiresAt:  env.ExpiresAt,
		Ciphertext: secretx.EncodeForStorage(ciphertext),
		Nonce:      secretx.EncodeForStorage(nonce),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.PutEntry(ctx, entry); err != nil {
		return nil, err
	}

	s.log.Info(ctx, "entry created", "user_id", entry.UserID, "entry_id", entry.ID)
	return &EntryView{Entry: entry, Payload: payload}, nil
}

// GetEntry fetches a stored record without touching its ciphertext.
func (s *Service) GetEntry(ctx context.Context, id string) (*models.Entry, error) {
	return s.store.GetEntry(ctx, id)
}

// ListEntries returns the user's entries whose envelope matches the filter.
// Matching is envelope-only; ciphertext is never inspected.
func (s *Service) ListEntries(ctx context.Context, userID string, filter EntryFilter) ([]*models.Entry, error) {
	entries, err := s.store.ListEntries(ctx, userID)
	if err != nil {
		return nil, err
	}

	result := entries[:0]
	for _, e := range entries {
		if filter.FavoritesOnly && !e.Favorite {
			continue
		}
		if filter.Tag != "" && !containsTag(e.Tags, filter.Tag) {
			continue
		}
		if filter.ExpiringBefore != nil {
			if e.ExpiresAt == nil || e.ExpiresAt.After(*filter.ExpiringBefore) {
				continue
			}
		}
		result = append(result, e)
	}
	return result, nil
}

// UpdateEntry applies envelope and/or payload changes. Envelope-only updates
// never touch ciphertext; a payload change re-encrypts the entire payload
// under a fresh nonce (there is no field-level patching of ciphertext).
func (s *Service) UpdateEntry(ctx context.Context, sess *Session, id string, env *EntryEnvelope, payload *Payload) (*models.Entry, error) {
	unlock := s.locks.lock(sess.UserID())
	defer unlock()

	entry, err := s.store.GetEntry(ctx, id)
	if err != nil {
		return nil, err
	}
	if entry.UserID != sess.UserID() {
		return nil, common.ErrNotFound
	}

	if env != nil {
		entry.Title = env.Title
		entry.URL = env.URL
		entry.Tags = env.Tags
		entry.Favorite = env.Favorite
		entry.ExpiresAt = env.ExpiresAt
	}
	if payload != nil {
		ciphertext, nonce, err := sess.EncryptPayload(*payload)
		if err != nil {
			return nil, err
		}
		entry.Ciphertext = secretx.EncodeForStorage(ciphertext)
		entry.Nonce = secretx.EncodeForStorage(nonce)
	}
	entry.UpdatedAt = time.Now().UTC()

	if err := s.store.PutEntry(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// DeleteEntry removes the record. Deletion is strict: a missing id fails
// with common.ErrNotFound.
func (s *Service) DeleteEntry(ctx context.Context, userID, id string) error {
	unlock := s.locks.lock(userID)
	defer unlock()

	entry, err := s.store.GetEntry(ctx, id)
	if err != nil {
		return err
	}
	if entry.UserID != userID {
		return common.ErrNotFound
	}
	return s.store.DeleteEntry(ctx, id)
}

// DeleteEntriesByTag removes all of the user's entries carrying the tag, in
// bounded batches, and reports the count actually removed.
func (s *Service) DeleteEntriesByTag(ctx context.Context, userID, tag string) (int, error) {
	if tag == "" {
		return 0, fmt.Errorf("%w: empty tag", common.ErrInvalidArgument)
	}

	unlock := s.locks.lock(userID)
	defer unlock()

	total := 0
	for {
		n, err := s.store.DeleteEntriesByTag(ctx, userID, tag, deleteByTagBatchSize)
		if err != nil {
			return total, err
		}
		total += n
		if n == 0 {
			break
		}
	}

	s.log.Info(ctx, "entries deleted by tag", "user_id", userID, "tag", tag, "count", total)
	return total, nil
}

// DecryptEntry opens an entry's payload with the session key. A session
// unlocked before a rotation by another process fails here with
// common.ErrDecryptionFailed.
func (s *Service) DecryptEntry(sess *Session, entry *models.Entry) (Payload, error) {
	ciphertext, err := secretx.DecodeFromStorage(entry.Ciphertext)
	if err != nil {
		return Payload{}, err
	}
	nonce, err := secretx.DecodeFromStorage(entry.Nonce)
	if err != nil {
		return Payload{}, err
	}
	return sess.DecryptPayload(ciphertext, nonce)
}

func containsTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}
