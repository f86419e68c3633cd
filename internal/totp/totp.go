// Package totp provisions shared secrets for two-factor authenticator
// enrollment. Code generation and verification are out of scope: the secret
// is stored as an encrypted vault field and the user's authenticator app
// computes the time-based codes.
package totp

import (
	"fmt"
	"strings"

	"github.com/dmitrijs2005/vaultguard/internal/common"
	"github.com/dmitrijs2005/vaultguard/internal/secretx"
)

// secretSize is the shared-secret length in bytes (160 bits, the size
// authenticator apps expect for SHA-1 TOTP).
const secretSize = 20

// GenerateSecret returns a fresh shared secret as uppercase unpadded base32
// with no embedded whitespace.
func GenerateSecret() (string, error) {
	b, err := secretx.RandomBytes(secretSize)
	if err != nil {
		return "", err
	}
	return secretx.EncodeBase32(b), nil
}

// BuildURI constructs the otpauth provisioning URI for the given secret.
// All inputs must be non-blank.
func BuildURI(secret, issuer, account string) (string, error) {
	if strings.TrimSpace(secret) == "" || strings.TrimSpace(issuer) == "" || strings.TrimSpace(account) == "" {
		return "", fmt.Errorf("%w: secret, issuer and account must not be blank", common.ErrInvalidArgument)
	}
	return secretx.BuildProvisioningURI(secret, issuer, account)
}
