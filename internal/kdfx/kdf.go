// Package kdfx derives symmetric key material from a master passphrase.
//
// Two independent derivations exist: DeriveKey produces the session
// encryption key, DeriveVerificationHash produces the value stored to prove
// passphrase knowledge. They use distinct domain-separation tags and cost
// parameters, so the stored hash plus salt cannot reconstruct the key.
package kdfx

import (
	"context"
	"fmt"

	"golang.org/x/crypto/argon2"

	"github.com/dmitrijs2005/vaultguard/internal/common"
	"github.com/dmitrijs2005/vaultguard/internal/secretx"
)

const (
	// SaltSize is the length in bytes of per-user salts.
	SaltSize = 16

	// KeySize is the length in bytes of derived keys and verification hashes.
	KeySize = 32

	keyTime      = 1
	keyMemory    = 64 * 1024
	verifyTime   = 2
	verifyMemory = 32 * 1024
	threads      = 4
)

// Derivation tags keep the two argon2 instances in separate domains even
// for identical passphrase/salt pairs.
var (
	tagKey    = []byte("vaultguard/key/v1")
	tagVerify = []byte("vaultguard/verify/v1")
)

// GenerateSalt returns a fresh random salt of SaltSize bytes.
func GenerateSalt() ([]byte, error) {
	return secretx.RandomBytes(SaltSize)
}

// DeriveKey derives the session encryption key from the passphrase and salt.
// Deterministic: the same inputs always produce the same key.
//
// Argon2id is deliberately expensive; the work runs on its own goroutine and
// the call returns early with the context's error if ctx is done first.
func DeriveKey(ctx context.Context, passphrase []byte, salt []byte) ([]byte, error) {
	return derive(ctx, passphrase, salt, tagKey, keyTime, keyMemory)
}

// DeriveVerificationHash derives the stored verifier from the passphrase and
// salt. Its output shares no bytes with DeriveKey's.
func DeriveVerificationHash(ctx context.Context, passphrase []byte, salt []byte) ([]byte, error) {
	return derive(ctx, passphrase, salt, tagVerify, verifyTime, verifyMemory)
}

func derive(ctx context.Context, passphrase, salt, tag []byte, time uint32, memory uint32) ([]byte, error) {
	if len(passphrase) == 0 {
		return nil, fmt.Errorf("%w: empty passphrase", common.ErrInvalidArgument)
	}
	if len(salt) != SaltSize {
		return nil, fmt.Errorf("%w: salt must be %d bytes", common.ErrInvalidArgument, SaltSize)
	}

	taggedSalt := make([]byte, 0, len(salt)+len(tag))
	taggedSalt = append(taggedSalt, salt...)
	taggedSalt = append(taggedSalt, tag...)

	out := make(chan []byte, 1)
	go func() {
		out <- argon2.IDKey(passphrase, taggedSalt, time, memory, threads, KeySize)
	}()

	select {
	case <-ctx.Done():
		// The argon2 computation cannot be interrupted; the result is
		// discarded when it arrives.
		return nil, ctx.Err()
	case key := <-out:
		return key, nil
	}
}
