package vault

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/vaultguard/internal/cipherx"
	"github.com/dmitrijs2005/vaultguard/internal/common"
	"github.com/dmitrijs2005/vaultguard/internal/kdfx"
	"github.com/dmitrijs2005/vaultguard/internal/models"
	"github.com/dmitrijs2005/vaultguard/internal/secretx"
	"github.com/dmitrijs2005/vaultguard/internal/store"
)

// decryptedRecord buffers one record's plaintext between the decrypt phase
// and the re-encrypt phase of a rotation.
type decryptedRecord struct {
	entry     *models.Entry
	doc       *models.Document
	plaintext []byte
}

// wipeRecords zeroes every buffered plaintext. Safe to call on records
// already wiped.
func wipeRecords(records []decryptedRecord) {
	for i := range records {
		common.WipeByteArray(records[i].plaintext)
	}
}

// Rotate changes the master passphrase. The protocol is two-phase:
//
//  1. Verify oldPassphrase and derive the old key.
//  2. Fetch every entry and document and decrypt all of them into memory.
//     Any single failure aborts the whole rotation before anything is
//     written; the stored corpus stays untouched.
//  3. Generate a new salt, derive the new key and verification hash, and
//     re-encrypt every buffered plaintext, each under a fresh nonce.
//  4. Persist all re-encrypted records, then the updated registry record
//     last. The registry write is the commit point: a crash before it
//     leaves the vault in the old-but-consistent state. Stores implementing
//     store.RotationCommitter make the whole step one atomic commit.
//
// Rotation holds the per-user lock for its duration, so no entry or
// document mutation can interleave with it. Once writes have begun the
// operation is not cancellable.
func (s *Service) Rotate(ctx context.Context, userID string, oldPassphrase, newPassphrase []byte) error {
	if len(newPassphrase) == 0 {
		return fmt.Errorf("%w: empty passphrase", common.ErrInvalidArgument)
	}

	unlock := s.locks.lock(userID)
	defer unlock()

	rec, err := s.store.GetRegistry(ctx, userID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return common.ErrInvalidCredentials
		}
		return err
	}

	ok, err := s.verifyAgainst(ctx, rec, oldPassphrase)
	if err != nil {
		return err
	}
	if !ok {
		return common.ErrInvalidCredentials
	}

	oldSalt, err := secretx.DecodeFromStorage(rec.Salt)
	if err != nil {
		return err
	}
	oldKey, err := kdfx.DeriveKey(ctx, oldPassphrase, oldSalt)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(oldKey)

	// Phase one: decrypt the complete corpus into memory. Nothing is
	// written until every record has been opened successfully.
	buffered, err := s.decryptCorpus(ctx, userID, oldKey)
	if err != nil {
		return err
	}
	defer wipeRecords(buffered)

	// Cancellation is still safe here; no side effects yet.
	if err := ctx.Err(); err != nil {
		return err
	}

	newSalt, err := kdfx.GenerateSalt()
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrRotationFailed, err)
	}
	newKey, err := kdfx.DeriveKey(ctx, newPassphrase, newSalt)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrRotationFailed, err)
	}
	defer common.WipeByteArray(newKey)
	newHash, err := kdfx.DeriveVerificationHash(ctx, newPassphrase, newSalt)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrRotationFailed, err)
	}

	// Phase two: re-encrypt every buffered plaintext, fresh nonce each.
	// Blob-staged document bodies are written under fresh storage keys so
	// the old-key blobs survive until the registry commit succeeds.
	now := time.Now().UTC()
	var entries []*models.Entry
	var docs []*models.Document
	var staleBlobs, freshBlobs []string
	for _, r := range buffered {
		ciphertext, nonce, err := cipherx.Encrypt(r.plaintext, newKey)
		common.WipeByteArray(r.plaintext)
		if err != nil {
			s.deleteBlobs(ctx, freshBlobs)
			return fmt.Errorf("%w: %v", common.ErrRotationFailed, err)
		}
		switch {
		case r.entry != nil:
			r.entry.Ciphertext = secretx.EncodeForStorage(ciphertext)
			r.entry.Nonce = secretx.EncodeForStorage(nonce)
			r.entry.UpdatedAt = now
			entries = append(entries, r.entry)
		case r.doc != nil:
			r.doc.Nonce = secretx.EncodeForStorage(nonce)
			r.doc.UpdatedAt = now
			if r.doc.StorageKey != "" {
				staleBlobs = append(staleBlobs, r.doc.StorageKey)
			}
			if err := s.placeDocumentBody(ctx, r.doc, ciphertext); err != nil {
				s.deleteBlobs(ctx, freshBlobs)
				return fmt.Errorf("%w: %v", common.ErrRotationFailed, err)
			}
			if r.doc.StorageKey != "" {
				freshBlobs = append(freshBlobs, r.doc.StorageKey)
			}
			docs = append(docs, r.doc)
		}
	}

	updated := &models.RegistryRecord{
		UserID:           userID,
		Salt:             secretx.EncodeForStorage(newSalt),
		VerificationHash: secretx.EncodeForStorage(newHash),
		Generation:       rec.Generation + 1,
		CreatedAt:        rec.CreatedAt,
		UpdatedAt:        now,
	}

	if err := s.commitRotation(ctx, updated, rec.Generation, entries, docs); err != nil {
		s.deleteBlobs(ctx, freshBlobs)
		s.log.Error(ctx, "rotation commit failed", "user_id", userID, "error", err)
		return fmt.Errorf("%w: %v", common.ErrRotationFailed, err)
	}
	s.deleteBlobs(ctx, staleBlobs)

	s.log.Info(ctx, "rotation committed", "user_id", userID,
		"entries", len(entries), "documents", len(docs), "generation", updated.Generation)
	return nil
}

// decryptCorpus loads and decrypts every record the user owns. A failure on
// any single record aborts with ErrRotationFailed; only the failing record's
// identifier is logged.
func (s *Service) decryptCorpus(ctx context.Context, userID string, key []byte) ([]decryptedRecord, error) {
	entries, err := s.store.ListEntries(ctx, userID)
	if err != nil {
		return nil, err
	}
	docs, err := s.store.ListDocuments(ctx, userID)
	if err != nil {
		return nil, err
	}

	buffered := make([]decryptedRecord, 0, len(entries)+len(docs))
	for _, e := range entries {
		plaintext, err := s.openRecord(e.Ciphertext, e.Nonce, key)
		if err != nil {
			wipeRecords(buffered)
			s.log.Error(ctx, "rotation aborted: entry undecryptable", "user_id", userID, "entry_id", e.ID)
			return nil, fmt.Errorf("%w: entry %s: %v", common.ErrRotationFailed, e.ID, err)
		}
		buffered = append(buffered, decryptedRecord{entry: e, plaintext: plaintext})
	}
	for _, d := range docs {
		body, err := s.documentBody(ctx, d)
		if err != nil {
			wipeRecords(buffered)
			return nil, fmt.Errorf("%w: document %s: %v", common.ErrRotationFailed, d.ID, err)
		}
		nonce, err := secretx.DecodeFromStorage(d.Nonce)
		if err != nil {
			wipeRecords(buffered)
			return nil, fmt.Errorf("%w: document %s: %v", common.ErrRotationFailed, d.ID, err)
		}
		plaintext, err := cipherx.Decrypt(body, nonce, key)
		if err != nil {
			wipeRecords(buffered)
			s.log.Error(ctx, "rotation aborted: document undecryptable", "user_id", userID, "document_id", d.ID)
			return nil, fmt.Errorf("%w: document %s: %v", common.ErrRotationFailed, d.ID, err)
		}
		buffered = append(buffered, decryptedRecord{doc: d, plaintext: plaintext})
	}
	return buffered, nil
}

func (s *Service) openRecord(ciphertext, nonce string, key []byte) ([]byte, error) {
	ct, err := secretx.DecodeFromStorage(ciphertext)
	if err != nil {
		return nil, err
	}
	n, err := secretx.DecodeFromStorage(nonce)
	if err != nil {
		return nil, err
	}
	return cipherx.Decrypt(ct, n, key)
}

// commitRotation persists the re-encrypted corpus and then the registry.
// When the store supports atomic rotation commits, the whole write is one
// transaction; otherwise records go first and the registry update, guarded
// by the generation token, is the commit point.
func (s *Service) commitRotation(ctx context.Context, rec *models.RegistryRecord, expectedGeneration int64,
	entries []*models.Entry, docs []*models.Document) error {

	if rc, ok := s.store.(store.RotationCommitter); ok {
		err := rc.CommitRotation(ctx, rec, expectedGeneration, entries, docs)
		if !errors.Is(err, errors.ErrUnsupported) {
			return err
		}
		// wrapper without an atomic inner store: fall through
	}

	for _, e := range entries {
		if err := s.store.PutEntry(ctx, e); err != nil {
			return err
		}
	}
	for _, d := range docs {
		if err := s.store.PutDocument(ctx, d); err != nil {
			return err
		}
	}
	return s.store.UpdateRegistry(ctx, rec, expectedGeneration)
}

// deleteBlobs best-effort removes staged blobs left over by a finished or
// aborted rotation. Failures are logged and otherwise ignored; an orphaned
// blob is unreadable ciphertext, not a correctness problem.
func (s *Service) deleteBlobs(ctx context.Context, keys []string) {
	if s.blobs == nil {
		return
	}
	for _, key := range keys {
		if key == "" {
			continue
		}
		if err := s.blobs.Delete(ctx, key); err != nil {
			s.log.Warn(ctx, "orphaned rotation blob", "storage_key", key, "error", err)
		}
	}
}
