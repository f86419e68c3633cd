package vault

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/vaultguard/internal/common"
	"github.com/dmitrijs2005/vaultguard/internal/kdfx"
	"github.com/dmitrijs2005/vaultguard/internal/models"
	"github.com/dmitrijs2005/vaultguard/internal/secretx"
)

// Enroll performs one-time passphrase enrollment for userID: generates a
// salt, derives the verification hash, persists the registry record and
// seeds the default categories. A second enrollment fails with
// common.ErrAlreadyEnrolled and leaves the first record unchanged.
func (s *Service) Enroll(ctx context.Context, userID string, passphrase []byte) error {
	if userID == "" {
		return fmt.Errorf("%w: empty user id", common.ErrInvalidArgument)
	}

	salt, err := kdfx.GenerateSalt()
	if err != nil {
		return err
	}
	hash, err := kdfx.DeriveVerificationHash(ctx, passphrase, salt)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	rec := &models.RegistryRecord{
		UserID:           userID,
		Salt:             secretx.EncodeForStorage(salt),
		VerificationHash: secretx.EncodeForStorage(hash),
		Generation:       1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.store.InsertRegistry(ctx, rec); err != nil {
		return err
	}

	if err := s.tags.CreateDefaultCategories(ctx, userID); err != nil {
		return fmt.Errorf("seeding default categories: %w", err)
	}

	s.log.Info(ctx, "vault enrolled", "user_id", userID)
	return nil
}

// Verify reports whether passphrase matches the enrolled one. A wrong
// passphrase (or a user with no registry) returns false, never an error;
// store failures still propagate.
func (s *Service) Verify(ctx context.Context, userID string, passphrase []byte) (bool, error) {
	rec, err := s.store.GetRegistry(ctx, userID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return s.verifyAgainst(ctx, rec, passphrase)
}

// Unlock verifies the passphrase against the registry record and, on match,
// derives the session key. The key is never constructed on a mismatch.
// A missing registry is indistinguishable from a wrong passphrase.
func (s *Service) Unlock(ctx context.Context, userID string, passphrase []byte) (*Session, error) {
	rec, err := s.store.GetRegistry(ctx, userID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, common.ErrInvalidCredentials
		}
		return nil, err
	}

	ok, err := s.verifyAgainst(ctx, rec, passphrase)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, common.ErrInvalidCredentials
	}

	salt, err := secretx.DecodeFromStorage(rec.Salt)
	if err != nil {
		return nil, err
	}
	key, err := kdfx.DeriveKey(ctx, passphrase, salt)
	if err != nil {
		return nil, err
	}

	s.log.Info(ctx, "vault unlocked", "user_id", userID)
	return newSession(userID, key), nil
}

// verifyAgainst derives the verification hash with the record's salt and
// compares in constant time.
func (s *Service) verifyAgainst(ctx context.Context, rec *models.RegistryRecord, passphrase []byte) (bool, error) {
	salt, err := secretx.DecodeFromStorage(rec.Salt)
	if err != nil {
		return false, err
	}
	stored, err := secretx.DecodeFromStorage(rec.VerificationHash)
	if err != nil {
		return false, err
	}

	derived, err := kdfx.DeriveVerificationHash(ctx, passphrase, salt)
	if err != nil {
		if errors.Is(err, common.ErrInvalidArgument) {
			return false, nil
		}
		return false, err
	}
	return subtle.ConstantTimeCompare(derived, stored) == 1, nil
}
