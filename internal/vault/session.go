package vault

import (
	"encoding/json"
	"sync"

	"github.com/dmitrijs2005/vaultguard/internal/cipherx"
	"github.com/dmitrijs2005/vaultguard/internal/common"
)

// Session holds the derived master key for the lifetime of an unlocked
// vault. The key lives only in process memory; Lock wipes it. No other
// component keeps a copy.
type Session struct {
	userID string

	mu     sync.Mutex
	key    []byte
	locked bool
}

func newSession(userID string, key []byte) *Session {
	return &Session{userID: userID, key: key}
}

// UserID returns the vault owner this session was unlocked for.
func (s *Session) UserID() string { return s.userID }

// EncryptPayload serializes the payload and seals it with the session key.
// Returns raw ciphertext and nonce; storage encoding is the caller's job.
func (s *Session) EncryptPayload(p Payload) (ciphertext, nonce []byte, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.locked {
		return nil, nil, common.ErrSessionLocked
	}
	plaintext, err := json.Marshal(p)
	if err != nil {
		return nil, nil, err
	}
	return cipherx.Encrypt(plaintext, s.key)
}

// DecryptPayload is the inverse of EncryptPayload. A session unlocked before
// a rotation by another process fails here with common.ErrDecryptionFailed.
func (s *Session) DecryptPayload(ciphertext, nonce []byte) (Payload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.locked {
		return Payload{}, common.ErrSessionLocked
	}
	plaintext, err := cipherx.Decrypt(ciphertext, nonce, s.key)
	if err != nil {
		return Payload{}, err
	}
	var p Payload
	if err := json.Unmarshal(plaintext, &p); err != nil {
		return Payload{}, err
	}
	return p, nil
}

// Lock ends the session and wipes the key from memory. Further use of the
// session fails with common.ErrSessionLocked.
func (s *Session) Lock() {
	s.mu.Lock()
	defer s.mu.Unlock()

	common.WipeByteArray(s.key)
	s.key = nil
	s.locked = true
}
