package crypto

import (
	"encoding/base64"
)

// EncodeBase64 encodes bytes to standard base64 with padding. This is the
// encoding used for every key, nonce and ciphertext on the wire and in local
// storage.
func EncodeBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeBase64 decodes base64 to bytes. It accepts standard base64 with or
// without padding, and falls back to the URL-safe alphabet.
func DecodeBase64(s string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(s)
	if err == nil {
		return data, nil
	}

	data, err = base64.RawStdEncoding.DecodeString(s)
	if err == nil {
		return data, nil
	}

	data, err = base64.URLEncoding.DecodeString(s)
	if err == nil {
		return data, nil
	}

	return base64.RawURLEncoding.DecodeString(s)
}
