package crypto

import (
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

// DeriveKeyFromPassword derives a KeySize key from a password using
// PBKDF2-SHA-256 with PBKDF2Iterations rounds. The same password and salt
// always produce the same key.
func DeriveKeyFromPassword(password string, salt []byte) ([]byte, error) {
	if len(salt) == 0 {
		return nil, ErrEmptySalt
	}

	key := pbkdf2.Key([]byte(password), salt, PBKDF2Iterations, KeySize, sha256.New)
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrKeyDerivation, len(key), KeySize)
	}

	return key, nil
}
