package crypto

import (
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"
)

// EncryptSymmetric encrypts data with XSalsa20-Poly1305 under key, using a
// fresh random nonce for every call.
func EncryptSymmetric(data any, key []byte) (*EncryptedData, error) {
	k, ok := key32(key)
	if !ok {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrInvalidKeySize, len(key), KeySize)
	}

	plaintext, err := Serialize(data)
	if err != nil {
		return nil, err
	}

	nonce, err := GenerateNonce()
	if err != nil {
		return nil, err
	}
	n, _ := nonceArray(nonce)

	return &EncryptedData{
		Ciphertext: secretbox.Seal(nil, plaintext, n, k),
		Nonce:      nonce,
	}, nil
}

// DecryptSymmetric opens a symmetric envelope. It reports false when the
// envelope cannot be authenticated: wrong key, tampered ciphertext, or a
// wrong or malformed nonce. No partial plaintext is ever returned.
func DecryptSymmetric(data *EncryptedData, key []byte) ([]byte, bool) {
	if data == nil {
		return nil, false
	}
	k, ok := key32(key)
	if !ok {
		return nil, false
	}
	n, ok := nonceArray(data.Nonce)
	if !ok {
		return nil, false
	}

	plaintext, ok := secretbox.Open(nil, data.Ciphertext, n, k)
	if !ok {
		return nil, false
	}
	if plaintext == nil {
		plaintext = []byte{}
	}
	return plaintext, true
}
