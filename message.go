package moodmash

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// MetadataType tags a MessageMetadata variant on the wire.
type MetadataType string

const (
	MetadataTypeText  MetadataType = "text"
	MetadataTypeImage MetadataType = "image"
)

// ErrUnknownMetadataType is returned when message metadata carries a type
// tag this client does not understand.
var ErrUnknownMetadataType = errors.New("unknown message metadata type")

// MessageMetadata is the closed set of metadata variants a secure message
// may carry: *TextMetadata or *ImageMetadata. Switch on the concrete type.
type MessageMetadata interface {
	MetadataType() MetadataType
	isMessageMetadata()
}

// TextMetadata marks a plain text message.
type TextMetadata struct{}

// MetadataType implements MessageMetadata.
func (*TextMetadata) MetadataType() MetadataType { return MetadataTypeText }
func (*TextMetadata) isMessageMetadata()         {}

// ImageMetadata describes an image attached to a message.
type ImageMetadata struct {
	URL      string `json:"url"`
	MimeType string `json:"mimeType,omitempty"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
}

// MetadataType implements MessageMetadata.
func (*ImageMetadata) MetadataType() MetadataType { return MetadataTypeImage }
func (*ImageMetadata) isMessageMetadata()         {}

// encodeMetadata writes m with its type tag. A nil m encodes as text.
func encodeMetadata(m MessageMetadata) (json.RawMessage, error) {
	switch v := m.(type) {
	case nil, *TextMetadata:
		return json.Marshal(struct {
			Type MetadataType `json:"type"`
		}{MetadataTypeText})
	case *ImageMetadata:
		return json.Marshal(struct {
			Type MetadataType `json:"type"`
			*ImageMetadata
		}{MetadataTypeImage, v})
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownMetadataType, m)
	}
}

// decodeMetadata parses tagged metadata. Empty input yields nil.
func decodeMetadata(raw json.RawMessage) (MessageMetadata, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var tag struct {
		Type MetadataType `json:"type"`
	}
	if err := json.Unmarshal(raw, &tag); err != nil {
		return nil, fmt.Errorf("parse message metadata: %w", err)
	}

	switch tag.Type {
	case MetadataTypeText:
		return &TextMetadata{}, nil
	case MetadataTypeImage:
		var img ImageMetadata
		if err := json.Unmarshal(raw, &img); err != nil {
			return nil, fmt.Errorf("parse image metadata: %w", err)
		}
		return &img, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMetadataType, tag.Type)
	}
}

// MessageStatus is the local delivery state of a displayed message.
type MessageStatus string

const (
	// MessageStatusDelivered means the message is stored on the server and
	// was decrypted.
	MessageStatusDelivered MessageStatus = "delivered"
	// MessageStatusPending means a sent message awaits the server.
	MessageStatusPending MessageStatus = "pending"
	// MessageStatusFailed means sending the message failed.
	MessageStatusFailed MessageStatus = "failed"
	// MessageStatusUndecryptable means the message could not be
	// authenticated with the available keys.
	MessageStatusUndecryptable MessageStatus = "undecryptable"
)

// MessageDisplay is a decrypted (or failed) message ready for display.
type MessageDisplay struct {
	ID        string
	Content   string // empty unless Status is delivered, pending or failed
	Sender    string
	Recipient string
	Timestamp time.Time
	Outgoing  bool
	Status    MessageStatus
	Metadata  MessageMetadata
}

// Failed reports whether the message failed to send or to decrypt.
func (m MessageDisplay) Failed() bool {
	return m.Status == MessageStatusFailed || m.Status == MessageStatusUndecryptable
}

// optimisticPrefix marks local entries that the server has not confirmed.
const optimisticPrefix = "temp-"
