// Package secretx turns random byte sequences into transportable secrets:
// storage encodings for salts and ciphertext, unpadded base32 for TOTP
// seeds, and otpauth provisioning URIs.
package secretx

import (
	"crypto/rand"
	"encoding/base32"
	"encoding/base64"
	"fmt"
	"net/url"

	"github.com/dmitrijs2005/vaultguard/internal/common"
)

// RandomBytes returns n cryptographically secure random bytes.
func RandomBytes(n int) ([]byte, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: size must be positive", common.ErrInvalidArgument)
	}
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// EncodeForStorage converts raw bytes into the text form persisted by the
// record store (salts, nonces, ciphertext). The store treats the result as
// an opaque string.
func EncodeForStorage(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// DecodeFromStorage reverses EncodeForStorage.
func DecodeFromStorage(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed storage encoding", common.ErrInvalidArgument)
	}
	return b, nil
}

// EncodeBase32 encodes bytes as uppercase RFC 4648 base32 without padding.
// Used only for TOTP shared secrets.
func EncodeBase32(b []byte) string {
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(b)
}

// BuildProvisioningURI constructs an otpauth URI for authenticator-app
// enrollment:
//
//	otpauth://totp/{issuer}:{account}?secret={secret}&issuer={issuer}
//
// The label components are path-escaped (a space becomes %20, not +); the
// issuer query parameter is query-escaped. All three inputs must be non-empty.
func BuildProvisioningURI(secret, issuer, account string) (string, error) {
	if secret == "" || issuer == "" || account == "" {
		return "", fmt.Errorf("%w: secret, issuer and account are required", common.ErrInvalidArgument)
	}
	return fmt.Sprintf("otpauth://totp/%s:%s?secret=%s&issuer=%s",
		url.PathEscape(issuer), url.PathEscape(account), secret, url.QueryEscape(issuer)), nil
}
