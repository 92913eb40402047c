package moodmash

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/moodmash/client-go/internal/api"
	"github.com/moodmash/client-go/internal/crypto"
)

// Readiness is the encryption readiness of a conversation.
type Readiness int

const (
	// ReadinessChecking means readiness has not been checked yet.
	ReadinessChecking Readiness = iota
	// ReadinessSignedOut means the local user is not authenticated.
	ReadinessSignedOut
	// ReadinessNeedsPassword means local keys or the session encryption key
	// are missing. Call Unlock with the user's password.
	ReadinessNeedsPassword
	// ReadinessRecipientUnavailable means the recipient has not published a
	// public key. It is terminal for the conversation.
	ReadinessRecipientUnavailable
	// ReadinessReady means messages can be sent and read.
	ReadinessReady
)

func (r Readiness) String() string {
	switch r {
	case ReadinessChecking:
		return "checking"
	case ReadinessSignedOut:
		return "signed_out"
	case ReadinessNeedsPassword:
		return "needs_password"
	case ReadinessRecipientUnavailable:
		return "recipient_unavailable"
	case ReadinessReady:
		return "ready"
	default:
		return fmt.Sprintf("Readiness(%d)", int(r))
	}
}

// ErrEmptyMessage is returned when sending a blank message.
var ErrEmptyMessage = errors.New("message is empty")

// Conversation is an end-to-end encrypted message exchange with one peer.
// Obtain one with Client.Conversation. It is safe for concurrent use.
type Conversation struct {
	client      *Client
	recipientID string

	mu           sync.Mutex
	readiness    Readiness
	recipientKey []byte
	unavailable  *RecipientUnavailableError
	messages     []MessageDisplay
}

func newConversation(c *Client, recipientID string) *Conversation {
	return &Conversation{client: c, recipientID: recipientID}
}

// RecipientID returns the peer's user ID.
func (cv *Conversation) RecipientID() string {
	return cv.recipientID
}

// Readiness returns the result of the last readiness check.
func (cv *Conversation) Readiness() Readiness {
	cv.mu.Lock()
	defer cv.mu.Unlock()
	return cv.readiness
}

// CheckReadiness verifies, in order, that the user is signed in, that the
// user's keys and session encryption key are available, and that the
// recipient's public key is cached or can be fetched. Missing local key
// material yields ReadinessNeedsPassword with a nil error. A recipient
// without a published key yields ReadinessRecipientUnavailable and a
// *RecipientUnavailableError; that result is sticky and never retried.
func (cv *Conversation) CheckReadiness(ctx context.Context) (Readiness, error) {
	if err := cv.client.checkClosed(); err != nil {
		return ReadinessChecking, err
	}

	cv.mu.Lock()
	defer cv.mu.Unlock()

	if cv.unavailable != nil {
		cv.readiness = ReadinessRecipientUnavailable
		return cv.readiness, cv.unavailable
	}
	if !cv.client.Authenticated() {
		cv.readiness = ReadinessSignedOut
		return cv.readiness, ErrNotAuthenticated
	}

	km := cv.client.keys
	if !km.HasKeys() || km.EncryptionKey(ctx) == nil {
		cv.readiness = ReadinessNeedsPassword
		return cv.readiness, nil
	}

	if cv.recipientKey == nil {
		key, err := cv.client.lookupPublicKey(ctx, cv.recipientID)
		if err != nil {
			// Transient; the next check retries the lookup.
			cv.readiness = ReadinessChecking
			return cv.readiness, err
		}
		if key == nil {
			cv.unavailable = &RecipientUnavailableError{RecipientID: cv.recipientID}
			cv.readiness = ReadinessRecipientUnavailable
			cv.client.logger.Warn().Str("recipient_id", cv.recipientID).Msg("recipient has not set up encryption")
			return cv.readiness, cv.unavailable
		}
		cv.recipientKey = key
	}

	cv.readiness = ReadinessReady
	return cv.readiness, nil
}

// Unlock derives the session encryption key from password and checks
// readiness again. Keys are not re-fetched from the server.
func (cv *Conversation) Unlock(ctx context.Context, password string) (Readiness, error) {
	if err := cv.client.checkClosed(); err != nil {
		return ReadinessChecking, err
	}
	if _, err := cv.client.keys.SetEncryptionKeyFromPassword(ctx, password); err != nil {
		return cv.Readiness(), err
	}
	return cv.CheckReadiness(ctx)
}

// ensureReady returns the recipient key, or an error when the conversation
// is not ready.
func (cv *Conversation) ensureReady(ctx context.Context) ([]byte, error) {
	r, err := cv.CheckReadiness(ctx)
	if err != nil {
		return nil, err
	}
	if r != ReadinessReady {
		return nil, fmt.Errorf("%w: %s", ErrNotReady, r)
	}
	cv.mu.Lock()
	defer cv.mu.Unlock()
	return clone(cv.recipientKey), nil
}

// Fetch downloads the secure messages exchanged with the recipient and
// decrypts each one independently. A message that fails to authenticate is
// kept with MessageStatusUndecryptable and does not affect the others.
// Unconfirmed local messages stay at the front of the list.
func (cv *Conversation) Fetch(ctx context.Context) ([]MessageDisplay, error) {
	peerKey, err := cv.ensureReady(ctx)
	if err != nil {
		return nil, err
	}

	msgs, err := cv.client.apiClient.GetMessages(ctx)
	if err != nil {
		return nil, wrapError(err)
	}

	secret := cv.client.keys.SecretKey()
	defer zero(secret)

	fetched := make([]MessageDisplay, 0, len(msgs))
	for i := range msgs {
		if !cv.involves(&msgs[i]) {
			continue
		}
		fetched = append(fetched, cv.decrypt(&msgs[i], secret, peerKey))
	}

	cv.mu.Lock()
	defer cv.mu.Unlock()
	list := make([]MessageDisplay, 0, len(cv.messages)+len(fetched))
	for _, m := range cv.messages {
		if strings.HasPrefix(m.ID, optimisticPrefix) && m.Status != MessageStatusDelivered {
			list = append(list, m)
		}
	}
	cv.messages = append(list, fetched...)
	return cv.snapshotLocked(), nil
}

func (cv *Conversation) involves(m *api.EncryptedMessage) bool {
	return m.Sender == cv.recipientID || m.Recipient == cv.recipientID
}

// decrypt opens one message. Outgoing envelopes carry our own public key, so
// both directions are opened against the recipient's key.
func (cv *Conversation) decrypt(m *api.EncryptedMessage, secret, peerKey []byte) MessageDisplay {
	self := cv.client.UserID()
	d := MessageDisplay{
		ID:        m.ID,
		Sender:    m.Sender,
		Recipient: m.Recipient,
		Timestamp: time.UnixMilli(m.Timestamp),
		Outgoing:  m.Sender == self,
		Status:    MessageStatusUndecryptable,
	}
	if d.ID == "" && len(m.Nonce) > 0 {
		d.ID = "n_" + hex.EncodeToString(m.Nonce[:min(8, len(m.Nonce))])
	}

	log := cv.client.logger.With().Str("message_id", d.ID).Logger()

	meta, err := decodeMetadata(m.Metadata)
	if err != nil {
		log.Warn().Err(err).Msg("dropping message metadata")
	}
	d.Metadata = meta

	if !d.Outgoing && len(m.PublicKey) > 0 && len(peerKey) > 0 && !bytes.Equal(m.PublicKey, peerKey) {
		log.Warn().Str("sender", m.Sender).Msg("sender key differs from cached key")
	}

	if len(peerKey) == 0 {
		log.Warn().Err(ErrMissingSenderPublicKey).Str("sender", m.Sender).Msg("no public key for peer, message not decrypted")
		return d
	}

	env := &crypto.EncryptedData{Ciphertext: m.Ciphertext, Nonce: m.Nonce}
	plaintext, ok, err := crypto.DecryptAsymmetric(env, secret, peerKey)
	if err != nil {
		log.Warn().Err(err).Msg("message not decrypted")
		return d
	}
	if !ok {
		log.Debug().Msg("message failed to authenticate")
		return d
	}
	d.Content = string(plaintext)
	d.Status = MessageStatusDelivered
	return d
}

// Send encrypts text for the recipient and posts it. The message is inserted
// locally as pending before the request; if the request fails only that
// entry is marked failed. Nothing is posted unless the conversation is ready.
// A nil metadata sends text metadata.
func (cv *Conversation) Send(ctx context.Context, text string, metadata MessageMetadata) (MessageDisplay, error) {
	if strings.TrimSpace(text) == "" {
		return MessageDisplay{}, ErrEmptyMessage
	}
	peerKey, err := cv.ensureReady(ctx)
	if err != nil {
		return MessageDisplay{}, err
	}

	secret := cv.client.keys.SecretKey()
	if secret == nil {
		return MessageDisplay{}, configError("send message", ErrKeysUnavailable)
	}
	env, err := crypto.EncryptAsymmetric(text, peerKey, secret)
	zero(secret)
	if err != nil {
		return MessageDisplay{}, err
	}

	if metadata == nil {
		metadata = &TextMetadata{}
	}
	rawMeta, err := encodeMetadata(metadata)
	if err != nil {
		return MessageDisplay{}, err
	}

	now := cv.client.now()
	self := cv.client.UserID()
	msg := &api.EncryptedMessage{
		EncryptedData: *env,
		Sender:        self,
		Recipient:     cv.recipientID,
		Timestamp:     now.UnixMilli(),
		Metadata:      rawMeta,
	}

	pending := MessageDisplay{
		ID:        optimisticPrefix + uuid.NewString(),
		Content:   text,
		Sender:    self,
		Recipient: cv.recipientID,
		Timestamp: time.UnixMilli(msg.Timestamp),
		Outgoing:  true,
		Status:    MessageStatusPending,
		Metadata:  metadata,
	}
	cv.mu.Lock()
	cv.messages = append([]MessageDisplay{pending}, cv.messages...)
	cv.mu.Unlock()

	if err := cv.client.apiClient.SendMessage(ctx, cv.recipientID, msg); err != nil {
		cv.client.logger.Warn().Err(err).Str("recipient_id", cv.recipientID).Msg("failed to send secure message")
		return cv.setStatus(pending.ID, MessageStatusFailed), wrapError(err)
	}
	return cv.setStatus(pending.ID, MessageStatusDelivered), nil
}

// setStatus updates the local entry with id and returns it.
func (cv *Conversation) setStatus(id string, status MessageStatus) MessageDisplay {
	cv.mu.Lock()
	defer cv.mu.Unlock()
	for i := range cv.messages {
		if cv.messages[i].ID == id {
			cv.messages[i].Status = status
			return cv.messages[i]
		}
	}
	return MessageDisplay{ID: id, Status: status}
}

// Messages returns a snapshot of the local message list, newest local
// entries first.
func (cv *Conversation) Messages() []MessageDisplay {
	cv.mu.Lock()
	defer cv.mu.Unlock()
	return cv.snapshotLocked()
}

func (cv *Conversation) snapshotLocked() []MessageDisplay {
	out := make([]MessageDisplay, len(cv.messages))
	copy(out, cv.messages)
	return out
}

// add records a message delivered by Watch unless it is already listed.
func (cv *Conversation) add(m MessageDisplay) {
	cv.mu.Lock()
	defer cv.mu.Unlock()
	for _, existing := range cv.messages {
		if existing.ID == m.ID {
			return
		}
	}
	cv.messages = append(cv.messages, m)
}
