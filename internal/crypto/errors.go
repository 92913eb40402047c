package crypto

import "errors"

var (
	// ErrInvalidKeySize is returned when a symmetric key is not KeySize bytes.
	ErrInvalidKeySize = errors.New("invalid key size")

	// ErrInvalidPublicKeySize is returned when a public key size is invalid.
	ErrInvalidPublicKeySize = errors.New("invalid public key size")

	// ErrInvalidSecretKeySize is returned when a secret key size is invalid.
	ErrInvalidSecretKeySize = errors.New("invalid secret key size")

	// ErrMissingSenderPublicKey is returned by DecryptAsymmetric when neither
	// the envelope nor the caller supplies the sender's public key. This is a
	// caller configuration error, not an authentication failure.
	ErrMissingSenderPublicKey = errors.New("sender public key is required for decryption")

	// ErrKeyDerivation is returned when password-based key derivation cannot
	// produce a key of the required length.
	ErrKeyDerivation = errors.New("key derivation failed")

	// ErrEmptySalt is returned when key derivation is attempted without a salt.
	ErrEmptySalt = errors.New("salt is required for key derivation")

	// ErrSerialize is returned when a payload cannot be converted to its
	// canonical string form before encryption.
	ErrSerialize = errors.New("cannot serialize payload")
)
