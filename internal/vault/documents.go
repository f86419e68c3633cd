package vault

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/vaultguard/internal/common"
	"github.com/dmitrijs2005/vaultguard/internal/models"
	"github.com/dmitrijs2005/vaultguard/internal/secretx"
)

// blobThreshold is the ciphertext size above which a document body is
// staged in the blob store instead of inline in the record.
const blobThreshold = 32 * 1024

// DocumentEnvelope carries the plaintext, searchable fields of a document
// record.
type DocumentEnvelope struct {
	Title        string
	Provider     string
	DocumentType string
	IssuedAt     *time.Time
	ExpiresAt    *time.Time
	Favorite     bool
}

// DocumentView is a created or decrypted document record.
type DocumentView struct {
	Document *models.Document
	Payload  Payload
}

// CreateDocument encrypts payload with the session key and persists a new
// document record. Ciphertext larger than the inline threshold is staged in
// the blob store when one is configured; the record then carries only the
// storage key and the nonce.
func (s *Service) CreateDocument(ctx context.Context, sess *Session, env DocumentEnvelope, payload Payload) (*DocumentView, error) {
	unlock := s.locks.lock(sess.UserID())
	defer unlock()

	ciphertext, nonce, err := sess.EncryptPayload(payload)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	doc := &models.Document{
		ID:           uuid.NewString(),
		UserID:       sess.UserID(),
		Title:        env.Title,
		Provider:     env.Provider,
		DocumentType: env.DocumentType,
		IssuedAt:     env.IssuedAt,
		ExpiresAt:    env.ExpiresAt,
		Favorite:     env.Favorite,
		Nonce:        secretx.EncodeForStorage(nonce),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.placeDocumentBody(ctx, doc, ciphertext); err != nil {
		return nil, err
	}
	if err := s.store.PutDocument(ctx, doc); err != nil {
		s.deleteBlobs(ctx, []string{doc.StorageKey})
		return nil, err
	}

	s.log.Info(ctx, "document created", "user_id", doc.UserID, "document_id", doc.ID)
	return &DocumentView{Document: doc, Payload: payload}, nil
}

// GetDocument fetches a stored document record without touching ciphertext.
func (s *Service) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	return s.store.GetDocument(ctx, id)
}

// ListDocuments returns the user's document records.
func (s *Service) ListDocuments(ctx context.Context, userID string) ([]*models.Document, error) {
	return s.store.ListDocuments(ctx, userID)
}

// UpdateDocument applies envelope and/or payload changes, mirroring
// UpdateEntry semantics.
func (s *Service) UpdateDocument(ctx context.Context, sess *Session, id string, env *DocumentEnvelope, payload *Payload) (*models.Document, error) {
	unlock := s.locks.lock(sess.UserID())
	defer unlock()

	doc, err := s.store.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc.UserID != sess.UserID() {
		return nil, common.ErrNotFound
	}

	if env != nil {
		doc.Title = env.Title
		doc.Provider = env.Provider
		doc.DocumentType = env.DocumentType
		doc.IssuedAt = env.IssuedAt
		doc.ExpiresAt = env.ExpiresAt
		doc.Favorite = env.Favorite
	}
	// A replaced body is staged under a fresh key so the stored record stays
	// decryptable if the write below fails; only a committed record write
	// retires the previous blob.
	bodyReplaced := false
	var staleKey string
	if payload != nil {
		ciphertext, nonce, err := sess.EncryptPayload(*payload)
		if err != nil {
			return nil, err
		}
		staleKey = doc.StorageKey
		doc.Nonce = secretx.EncodeForStorage(nonce)
		if err := s.placeDocumentBody(ctx, doc, ciphertext); err != nil {
			return nil, err
		}
		bodyReplaced = true
	}
	doc.UpdatedAt = time.Now().UTC()

	if err := s.store.PutDocument(ctx, doc); err != nil {
		if bodyReplaced {
			s.deleteBlobs(ctx, []string{doc.StorageKey})
		}
		return nil, err
	}
	if bodyReplaced && staleKey != doc.StorageKey {
		s.deleteBlobs(ctx, []string{staleKey})
	}
	return doc, nil
}

// DeleteDocument removes the record and any staged blob. Strict on missing
// ids, like DeleteEntry.
func (s *Service) DeleteDocument(ctx context.Context, userID, id string) error {
	unlock := s.locks.lock(userID)
	defer unlock()

	doc, err := s.store.GetDocument(ctx, id)
	if err != nil {
		return err
	}
	if doc.UserID != userID {
		return common.ErrNotFound
	}
	// Record first: if this fails the blob must stay readable for a retry.
	if err := s.store.DeleteDocument(ctx, id); err != nil {
		return err
	}
	s.deleteBlobs(ctx, []string{doc.StorageKey})
	return nil
}

// DecryptDocument opens a document's payload with the session key, reading
// the body from the blob store when it was staged externally.
func (s *Service) DecryptDocument(ctx context.Context, sess *Session, doc *models.Document) (Payload, error) {
	ciphertext, err := s.documentBody(ctx, doc)
	if err != nil {
		return Payload{}, err
	}
	nonce, err := secretx.DecodeFromStorage(doc.Nonce)
	if err != nil {
		return Payload{}, err
	}
	return sess.DecryptPayload(ciphertext, nonce)
}

// placeDocumentBody stores ciphertext inline or in the blob store, updating
// the record's Ciphertext/StorageKey pair. A staged body always goes under a
// fresh storage key so the previous blob stays readable until the record
// write commits; disposing of the previous blob is the caller's job.
func (s *Service) placeDocumentBody(ctx context.Context, doc *models.Document, ciphertext []byte) error {
	if s.blobs != nil && len(ciphertext) > blobThreshold {
		key := blobStorageKey(doc.UserID)
		if err := s.blobs.Put(ctx, key, ciphertext); err != nil {
			return err
		}
		doc.StorageKey = key
		doc.Ciphertext = ""
		return nil
	}
	doc.StorageKey = ""
	doc.Ciphertext = secretx.EncodeForStorage(ciphertext)
	return nil
}

func (s *Service) documentBody(ctx context.Context, doc *models.Document) ([]byte, error) {
	if doc.StorageKey != "" {
		if s.blobs == nil {
			return nil, common.ErrDecryptionFailed
		}
		return s.blobs.Get(ctx, doc.StorageKey)
	}
	return secretx.DecodeFromStorage(doc.Ciphertext)
}

func blobStorageKey(userID string) string {
	d := time.Now()
	return "vaults/" + userID + "/" + d.UTC().Format("2006/01/02") + "/" + uuid.NewString()
}
