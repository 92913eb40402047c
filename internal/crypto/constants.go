package crypto

const (
	// KeySize is the size of a secretbox key and of the PBKDF2 output in bytes.
	KeySize = 32
	// NonceSize is the size of a secretbox/box nonce in bytes.
	NonceSize = 24
	// SaltSize is the size of a password-derivation salt in bytes.
	SaltSize = 16
	// PublicKeySize is the size of an X25519 box public key in bytes.
	PublicKeySize = 32
	// SecretKeySize is the size of an X25519 box secret key in bytes.
	SecretKeySize = 32
	// OverheadSize is the Poly1305 authenticator prepended to every ciphertext.
	OverheadSize = 16

	// PBKDF2Iterations is the iteration count for password-based key derivation.
	PBKDF2Iterations = 100000
)

// AlgsCiphersuite is the canonical string representation of the algorithm suite.
var AlgsCiphersuite = "X25519-XSalsa20-Poly1305:XSalsa20-Poly1305:PBKDF2-SHA-256"
