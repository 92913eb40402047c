package crypto

import (
	"crypto/rand"
	"fmt"
	"io"
)

// randReader is the random source used for keys, salts and nonces.
// It defaults to nil (which uses crypto/rand) but can be overridden for testing.
var randReader io.Reader

func random() io.Reader {
	if randReader != nil {
		return randReader
	}
	return rand.Reader
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(random(), b); err != nil {
		return nil, fmt.Errorf("failed to read random bytes: %w", err)
	}
	return b, nil
}

// GenerateNonce returns a fresh random nonce of NonceSize bytes.
func GenerateNonce() ([]byte, error) {
	return randomBytes(NonceSize)
}

// GenerateSalt returns a fresh random salt of SaltSize bytes.
func GenerateSalt() ([]byte, error) {
	return randomBytes(SaltSize)
}
