package crypto

import (
	"encoding/json"
	"fmt"
)

// EncryptedData is the envelope produced by every encryption operation.
// Byte fields are encoded as standard base64 in JSON.
type EncryptedData struct {
	// Ciphertext is the authenticated ciphertext (Poly1305 tag || XSalsa20 output).
	Ciphertext []byte `json:"ciphertext"`
	// Nonce is the NonceSize nonce used for this ciphertext. Never reused under a key.
	Nonce []byte `json:"nonce"`
	// PublicKey is the sender's box public key. Only set for asymmetric envelopes.
	PublicKey []byte `json:"publicKey,omitempty"`
}

type encryptedDataJSON struct {
	Ciphertext string `json:"ciphertext"`
	Nonce      string `json:"nonce"`
	PublicKey  string `json:"publicKey,omitempty"`
}

// MarshalJSON encodes the byte fields as standard padded base64.
func (d EncryptedData) MarshalJSON() ([]byte, error) {
	out := encryptedDataJSON{
		Ciphertext: EncodeBase64(d.Ciphertext),
		Nonce:      EncodeBase64(d.Nonce),
	}
	if len(d.PublicKey) > 0 {
		out.PublicKey = EncodeBase64(d.PublicKey)
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts any base64 flavour DecodeBase64 understands, so
// envelopes written by other clients decode regardless of padding or
// alphabet. Unknown fields such as a server-added updatedAt are ignored.
func (d *EncryptedData) UnmarshalJSON(data []byte) error {
	var in encryptedDataJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}

	ciphertext, err := DecodeBase64(in.Ciphertext)
	if err != nil {
		return fmt.Errorf("invalid ciphertext: %w", err)
	}
	nonce, err := DecodeBase64(in.Nonce)
	if err != nil {
		return fmt.Errorf("invalid nonce: %w", err)
	}
	var publicKey []byte
	if in.PublicKey != "" {
		if publicKey, err = DecodeBase64(in.PublicKey); err != nil {
			return fmt.Errorf("invalid public key: %w", err)
		}
	}

	*d = EncryptedData{Ciphertext: ciphertext, Nonce: nonce, PublicKey: publicKey}
	return nil
}

// Serialize converts a payload to the canonical byte form that is encrypted.
// Strings and byte slices are used verbatim; everything else is JSON-encoded.
func Serialize(data any) ([]byte, error) {
	switch v := data.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	case json.RawMessage:
		return v, nil
	case nil:
		return nil, fmt.Errorf("%w: nil payload", ErrSerialize)
	}

	b, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialize, err)
	}
	return b, nil
}

// nonceArray copies a nonce into the fixed-size array expected by nacl.
// It reports false if the nonce has the wrong length.
func nonceArray(nonce []byte) (*[NonceSize]byte, bool) {
	if len(nonce) != NonceSize {
		return nil, false
	}
	var n [NonceSize]byte
	copy(n[:], nonce)
	return &n, true
}

func key32(b []byte) (*[32]byte, bool) {
	if len(b) != 32 {
		return nil, false
	}
	var k [32]byte
	copy(k[:], b)
	return &k, true
}
