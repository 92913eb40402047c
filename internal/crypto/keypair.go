package crypto

import (
	"bytes"
	"fmt"

	"github.com/cloudflare/circl/dh/x25519"
	"golang.org/x/crypto/nacl/box"
)

// KeyPair represents an X25519 key pair for box encryption.
type KeyPair struct {
	// PublicKey is the raw X25519 public key bytes.
	PublicKey []byte
	// SecretKey is the raw X25519 secret key bytes. Never leaves the device.
	SecretKey []byte
}

// GenerateKeyPair creates a new random X25519 key pair.
func GenerateKeyPair() (*KeyPair, error) {
	pub, priv, err := box.GenerateKey(random())
	if err != nil {
		return nil, fmt.Errorf("failed to generate key pair: %w", err)
	}

	return &KeyPair{
		PublicKey: pub[:],
		SecretKey: priv[:],
	}, nil
}

// KeyPairFromSecretKey reconstructs a key pair from a secret key by
// multiplying the X25519 base point. Any 32-byte string is a valid secret
// key, which is what lets a password-derived key act as one.
func KeyPairFromSecretKey(secretKey []byte) (*KeyPair, error) {
	if len(secretKey) != SecretKeySize {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrInvalidSecretKeySize, len(secretKey), SecretKeySize)
	}

	var secret, public x25519.Key
	copy(secret[:], secretKey)
	x25519.KeyGen(&public, &secret)

	sk := make([]byte, SecretKeySize)
	copy(sk, secretKey)
	return &KeyPair{
		PublicKey: public[:],
		SecretKey: sk,
	}, nil
}

// ValidateKeyPair reports whether the public key matches the secret key.
func ValidateKeyPair(kp *KeyPair) bool {
	if kp == nil || len(kp.PublicKey) != PublicKeySize || len(kp.SecretKey) != SecretKeySize {
		return false
	}
	derived, err := KeyPairFromSecretKey(kp.SecretKey)
	if err != nil {
		return false
	}
	return bytes.Equal(derived.PublicKey, kp.PublicKey)
}

// EncryptAsymmetric encrypts data from the holder of senderSecretKey to the
// holder of recipientPublicKey. The envelope carries the sender's public key
// so the recipient can authenticate it.
func EncryptAsymmetric(data any, recipientPublicKey, senderSecretKey []byte) (*EncryptedData, error) {
	peer, ok := key32(recipientPublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrInvalidPublicKeySize, len(recipientPublicKey), PublicKeySize)
	}
	sender, err := KeyPairFromSecretKey(senderSecretKey)
	if err != nil {
		return nil, err
	}
	sk, _ := key32(sender.SecretKey)

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
		Ciphertext: box.Seal(nil, plaintext, n, peer, sk),
		Nonce:      nonce,
		PublicKey:  sender.PublicKey,
	}, nil
}

// DecryptAsymmetric opens a box envelope. The peer key is taken from
// data.PublicKey, or from senderPublicKey when the envelope has none.
//
// It returns ErrMissingSenderPublicKey if no peer key is available at all.
// Any authentication failure is reported as (nil, false, nil).
func DecryptAsymmetric(data *EncryptedData, recipientSecretKey, senderPublicKey []byte) ([]byte, bool, error) {
	if data == nil {
		return nil, false, nil
	}

	peerKey := data.PublicKey
	if len(peerKey) == 0 {
		peerKey = senderPublicKey
	}
	if len(peerKey) == 0 {
		return nil, false, ErrMissingSenderPublicKey
	}

	peer, ok := key32(peerKey)
	if !ok {
		return nil, false, nil
	}
	sk, ok := key32(recipientSecretKey)
	if !ok {
		return nil, false, nil
	}
	n, ok := nonceArray(data.Nonce)
	if !ok {
		return nil, false, nil
	}

	plaintext, ok := box.Open(nil, data.Ciphertext, n, peer, sk)
	if !ok {
		return nil, false, nil
	}
	if plaintext == nil {
		plaintext = []byte{}
	}
	return plaintext, true, nil
}
