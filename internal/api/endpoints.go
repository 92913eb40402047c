package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/moodmash/client-go/internal/apierrors"
	"github.com/moodmash/client-go/internal/crypto"
)

// Endpoint paths, appended verbatim to the base URL.
const (
	pathPublicKey            = "/users/%s/public-key"
	pathSetupEncryption      = "/profile/setup-encryption"
	pathEncryptedPreferences = "/profile/encrypted-preferences"
	pathPlainPreferences     = "/profile/preferences"
	pathSecureMessages       = "/api/messages/secure"
)

// GetPublicKey fetches a user's published box public key. It returns
// (nil, nil) when the user has no key: a 404 or an empty publicKey field.
func (c *Client) GetPublicKey(ctx context.Context, userID string) ([]byte, error) {
	path := fmt.Sprintf(pathPublicKey, url.PathEscape(userID))

	var result PublicKeyResponse
	err := c.Do(ctx, http.MethodGet, path, nil, &result)
	if err != nil {
		err = apierrors.WithResourceType(err, apierrors.ResourcePublicKey)
		if errors.Is(err, apierrors.ErrPublicKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if result.PublicKey == "" {
		return nil, nil
	}

	key, err := crypto.DecodeBase64(result.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decode public key: %w", err)
	}
	return key, nil
}

// SetupEncryption publishes the user's public key and salt together with the
// first encrypted preferences blob.
func (c *Client) SetupEncryption(ctx context.Context, req SetupEncryptionRequest) error {
	return c.Do(ctx, http.MethodPost, pathSetupEncryption, req, nil)
}

// GetPreferences fetches the stored preferences, encrypted or plain.
func (c *Client) GetPreferences(ctx context.Context) (*PreferencesResponse, error) {
	var result PreferencesResponse
	if err := c.Do(ctx, http.MethodGet, pathEncryptedPreferences, nil, &result); err != nil {
		return nil, apierrors.WithResourceType(err, apierrors.ResourcePreferences)
	}
	return &result, nil
}

// UpdateEncryptedPreferences replaces the stored preferences blob.
func (c *Client) UpdateEncryptedPreferences(ctx context.Context, data *crypto.EncryptedData) error {
	req := UpdateEncryptedPreferencesRequest{EncryptedData: data, Encrypted: true}
	err := c.Do(ctx, http.MethodPatch, pathEncryptedPreferences, req, nil)
	return apierrors.WithResourceType(err, apierrors.ResourcePreferences)
}

// UpdatePlainPreferences patches preferences for users without encryption.
func (c *Client) UpdatePlainPreferences(ctx context.Context, patch any) error {
	err := c.Do(ctx, http.MethodPatch, pathPlainPreferences, patch, nil)
	return apierrors.WithResourceType(err, apierrors.ResourcePreferences)
}

// GetMessages lists every secure message the caller sent or received.
func (c *Client) GetMessages(ctx context.Context) ([]EncryptedMessage, error) {
	var result MessagesResponse
	if err := c.Do(ctx, http.MethodGet, pathSecureMessages, nil, &result); err != nil {
		return nil, apierrors.WithResourceType(err, apierrors.ResourceMessage)
	}
	return result.Messages, nil
}

// SendMessage stores an encrypted message for recipient.
func (c *Client) SendMessage(ctx context.Context, recipient string, msg *EncryptedMessage) error {
	req := SendMessageRequest{Recipient: recipient, EncryptedMessage: msg}
	err := c.Do(ctx, http.MethodPost, pathSecureMessages, req, nil)
	return apierrors.WithResourceType(err, apierrors.ResourceMessage)
}
