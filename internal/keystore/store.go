package keystore

import (
	"context"
	"errors"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("keystore: store is closed")

// Store is a string key/value store. Values are opaque to the store;
// callers encode binary data as base64 and structured data as JSON.
type Store interface {
	// Get returns the value for key. The boolean is false if the key is
	// absent, in which case err is nil.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores value under key, replacing any existing value.
	Set(ctx context.Context, key, value string) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}

// Storage key names. The layout matches what the web client keeps in
// localStorage so that exported state stays recognizable.
const (
	keyPrefix     = "moodmash_keys_"
	metaPrefix    = "moodmash_key_meta_"
	sessionPrefix = "moodmash_enc_key_"

	// DeviceIDKey holds the device identifier, created once per device.
	DeviceIDKey = "moodmash_device_id"
)

// SecretKeyName returns the durable key holding userID's secret key.
func SecretKeyName(userID string) string { return keyPrefix + userID }

// PublicKeyName returns the durable key holding userID's public key.
// Cached peer public keys are stored under the same name.
func PublicKeyName(userID string) string { return keyPrefix + userID + "_public" }

// SaltName returns the durable key holding userID's key-derivation salt.
func SaltName(userID string) string { return keyPrefix + userID + "_salt" }

// MetadataName returns the durable key holding userID's key metadata JSON.
func MetadataName(userID string) string { return metaPrefix + userID }

// SessionKeyName returns the session key holding userID's encryption key.
func SessionKeyName(userID string) string { return sessionPrefix + userID }

var (
	_ Store = (*Memory)(nil)
	_ Store = (*SQLite)(nil)
)
