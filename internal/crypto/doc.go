// Package crypto provides the cryptographic primitives for MoodMash
// end-to-end encryption. It wraps NaCl secretbox and box and the password
// key derivation used to produce long-lived user keys.
//
// # Algorithm Suite
//
//   - XSalsa20-Poly1305 (secretbox): symmetric authenticated encryption for
//     data the user encrypts to themselves, such as preferences.
//
//   - X25519-XSalsa20-Poly1305 (box): public-key authenticated encryption for
//     point-to-point messages. Sender-authenticated, recipient-confidential.
//
//   - PBKDF2-SHA-256, 100,000 iterations: derives a 32-byte key from the
//     user's password and a 16-byte salt. The same output doubles as the
//     user's box secret key, so the key pair can be re-derived on any device.
//
// # Failure Semantics
//
// Decryption never returns an error for an authentication failure. A wrong
// key, a tampered ciphertext or a wrong nonce all produce (nil, false). The
// caller must treat that as "cannot trust this data".
//
// Configuration mistakes are errors. [DecryptAsymmetric] returns
// [ErrMissingSenderPublicKey] when no sender key is available, and
// [EncryptSymmetric] rejects keys of the wrong size.
//
// Nonces MUST be unique for each encryption under the same key. Every
// encryption function draws a fresh 24-byte random nonce; the nonce space is
// large enough that random generation is safe.
//
// # Encoding
//
// [EncryptedData] marshals its byte fields as standard base64 with padding,
// the same encoding used by [EncodeBase64] for keys and salts at rest.
package crypto
