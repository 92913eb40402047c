package api

import (
	"encoding/json"

	"github.com/moodmash/client-go/internal/crypto"
)

// PublicKeyResponse represents the GET /users/{id}/public-key response.
type PublicKeyResponse struct {
	PublicKey string `json:"publicKey"`
}

// SetupEncryptionRequest represents the POST /profile/setup-encryption request.
type SetupEncryptionRequest struct {
	PublicKey            string                `json:"publicKey"`
	Salt                 string                `json:"salt"`
	EncryptedPreferences *crypto.EncryptedData `json:"encryptedPreferences"`
}

// PreferencesResponse represents the GET /profile/encrypted-preferences
// response. Data holds an EncryptedData envelope when Encrypted is true and
// a plain preferences object otherwise.
type PreferencesResponse struct {
	Encrypted bool            `json:"encrypted"`
	Data      json.RawMessage `json:"data"`
}

// UpdateEncryptedPreferencesRequest represents the PATCH
// /profile/encrypted-preferences request.
type UpdateEncryptedPreferencesRequest struct {
	EncryptedData *crypto.EncryptedData `json:"encryptedData"`
	Encrypted     bool                  `json:"encrypted"`
}

// EncryptedMessage is a box envelope plus routing data, as stored by the
// server. The sender's public key travels in the embedded envelope.
type EncryptedMessage struct {
	crypto.EncryptedData
	ID        string          `json:"id,omitempty"`
	Sender    string          `json:"sender"`
	Recipient string          `json:"recipient"`
	Timestamp int64           `json:"timestamp"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
}

// MarshalJSON flattens the envelope fields next to the routing fields.
// Without it the embedded MarshalJSON would be promoted and drop them.
func (m EncryptedMessage) MarshalJSON() ([]byte, error) {
	envelope, err := json.Marshal(m.EncryptedData)
	if err != nil {
		return nil, err
	}
	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(envelope, &fields); err != nil {
		return nil, err
	}

	routing, err := json.Marshal(encryptedMessageRouting{
		ID:        m.ID,
		Sender:    m.Sender,
		Recipient: m.Recipient,
		Timestamp: m.Timestamp,
		Metadata:  m.Metadata,
	})
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(routing, &fields); err != nil {
		return nil, err
	}
	return json.Marshal(fields)
}

// UnmarshalJSON reads the flattened form written by MarshalJSON.
func (m *EncryptedMessage) UnmarshalJSON(data []byte) error {
	var envelope crypto.EncryptedData
	if err := json.Unmarshal(data, &envelope); err != nil {
		return err
	}
	var routing encryptedMessageRouting
	if err := json.Unmarshal(data, &routing); err != nil {
		return err
	}

	*m = EncryptedMessage{
		EncryptedData: envelope,
		ID:            routing.ID,
		Sender:        routing.Sender,
		Recipient:     routing.Recipient,
		Timestamp:     routing.Timestamp,
		Metadata:      routing.Metadata,
	}
	return nil
}

type encryptedMessageRouting struct {
	ID        string          `json:"id,omitempty"`
	Sender    string          `json:"sender"`
	Recipient string          `json:"recipient"`
	Timestamp int64           `json:"timestamp"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
}

// MessagesResponse represents the GET /api/messages/secure response.
type MessagesResponse struct {
	Messages []EncryptedMessage `json:"messages"`
}

// SendMessageRequest represents the POST /api/messages/secure request.
type SendMessageRequest struct {
	Recipient        string            `json:"recipient"`
	EncryptedMessage *EncryptedMessage `json:"encryptedMessage"`
}
