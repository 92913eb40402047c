package moodmash

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"filippo.io/age"
	"filippo.io/age/armor"

	"github.com/moodmash/client-go/internal/crypto"
)

// KeyExportVersion is the current key export format version.
const KeyExportVersion = 1

// exportWorkFactor is the scrypt log2 work factor for encrypted key exports.
// Zero uses the age default.
var exportWorkFactor = 0

// ExportedKeys contains everything needed to restore a user's key pair on
// another device.
// WARNING: this contains the secret key - handle securely.
type ExportedKeys struct {
	// Version is the export format version. MUST be 1.
	Version int `json:"version"`
	// UserID is the owner of the keys.
	UserID string `json:"userId"`
	// PublicKey is the X25519 public key (base64).
	PublicKey string `json:"publicKey"`
	// SecretKey is the X25519 secret key (base64).
	SecretKey string `json:"secretKey"`
	// Salt is the password-derivation salt (base64).
	Salt string `json:"salt"`
	// Metadata is the key metadata at export time.
	Metadata *KeyMetadata `json:"metadata,omitempty"`
	// ExportedAt is informational only.
	ExportedAt time.Time `json:"exportedAt"`
}

// Validate checks that the exported data is complete and that the public
// key belongs to the secret key.
func (e *ExportedKeys) Validate() error {
	if e.Version != KeyExportVersion {
		return fmt.Errorf("%w: unsupported version %d, expected %d", ErrInvalidExport, e.Version, KeyExportVersion)
	}
	if e.UserID == "" {
		return fmt.Errorf("%w: userId is required", ErrInvalidExport)
	}

	keys, err := e.userKeys()
	if err != nil {
		return err
	}
	if !crypto.ValidateKeyPair(&crypto.KeyPair{PublicKey: keys.PublicKey, SecretKey: keys.SecretKey}) {
		return fmt.Errorf("%w: public key does not match secret key", ErrInvalidExport)
	}
	if len(keys.Salt) != crypto.SaltSize {
		return fmt.Errorf("%w: salt size %d, expected %d", ErrInvalidExport, len(keys.Salt), crypto.SaltSize)
	}
	if e.Metadata != nil && e.Metadata.UserID != "" && e.Metadata.UserID != e.UserID {
		return fmt.Errorf("%w: metadata belongs to %q", ErrInvalidExport, e.Metadata.UserID)
	}
	return nil
}

func (e *ExportedKeys) userKeys() (*crypto.UserKeys, error) {
	fields := []struct {
		name  string
		value string
	}{
		{"publicKey", e.PublicKey},
		{"secretKey", e.SecretKey},
		{"salt", e.Salt},
	}
	decoded := make([][]byte, len(fields))
	for i, f := range fields {
		if f.value == "" {
			return nil, fmt.Errorf("%w: %s is required", ErrInvalidExport, f.name)
		}
		b, err := crypto.DecodeBase64(f.value)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid %s encoding", ErrInvalidExport, f.name)
		}
		decoded[i] = b
	}
	return &crypto.UserKeys{PublicKey: decoded[0], SecretKey: decoded[1], Salt: decoded[2]}, nil
}

// ExportKeys returns the user's key pair, salt and metadata.
func (c *Client) ExportKeys() (*ExportedKeys, error) {
	if err := c.checkClosed(); err != nil {
		return nil, err
	}
	kp := c.keys.Keys()
	if kp == nil {
		return nil, configError("export keys", ErrKeysUnavailable)
	}
	defer zero(kp.SecretKey)

	return &ExportedKeys{
		Version:    KeyExportVersion,
		UserID:     c.userID,
		PublicKey:  crypto.EncodeBase64(kp.PublicKey),
		SecretKey:  crypto.EncodeBase64(kp.SecretKey),
		Salt:       crypto.EncodeBase64(c.keys.Salt()),
		Metadata:   c.keys.Metadata(),
		ExportedAt: c.now().UTC(),
	}, nil
}

// ImportKeys replaces the local key pair with exported keys. The key ID and
// creation time of the export are kept. The session is locked afterwards;
// unlock it with the password the keys were created with.
func (c *Client) ImportKeys(ctx context.Context, data *ExportedKeys) error {
	if err := c.checkClosed(); err != nil {
		return err
	}
	if data == nil {
		return fmt.Errorf("%w: no data", ErrInvalidExport)
	}
	if err := data.Validate(); err != nil {
		return err
	}
	if data.UserID != c.userID {
		return fmt.Errorf("%w: keys belong to %q, not %q", ErrInvalidExport, data.UserID, c.userID)
	}

	keys, _ := data.userKeys()
	defer zero(keys.SecretKey)

	var override *KeyMetadata
	if data.Metadata != nil {
		m := *data.Metadata
		// The device ID always belongs to this device.
		m.DeviceID = ""
		override = &m
	}
	return c.keys.SetKeys(ctx, keys, override)
}

// ExportKeysToFile writes the user's keys to filePath, encrypted with
// passphrase and ASCII armored, with secure permissions (0600).
func (c *Client) ExportKeysToFile(filePath, passphrase string) error {
	if passphrase == "" {
		return configError("export keys", fmt.Errorf("passphrase is required"))
	}
	data, err := c.ExportKeys()
	if err != nil {
		return err
	}

	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal key data: %w", err) //coverage:ignore
	}
	defer zero(jsonData)

	sealed, err := sealExport(jsonData, passphrase)
	if err != nil {
		return err
	}

	if err := os.WriteFile(filePath, sealed, 0600); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	return nil
}

// ImportKeysFromFile reads keys written by ExportKeysToFile and imports them.
func (c *Client) ImportKeysFromFile(ctx context.Context, filePath, passphrase string) error {
	if err := c.checkClosed(); err != nil {
		return err
	}

	sealed, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	jsonData, err := openExport(sealed, passphrase)
	if err != nil {
		return err
	}
	defer zero(jsonData)

	var data ExportedKeys
	if err := json.Unmarshal(jsonData, &data); err != nil {
		return fmt.Errorf("%w: parse key data: %v", ErrInvalidExport, err)
	}
	return c.ImportKeys(ctx, &data)
}

func sealExport(plaintext []byte, passphrase string) ([]byte, error) {
	recipient, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return nil, fmt.Errorf("creating scrypt recipient: %w", err)
	}
	if exportWorkFactor > 0 {
		recipient.SetWorkFactor(exportWorkFactor)
	}

	var buf bytes.Buffer
	armored := armor.NewWriter(&buf)
	w, err := age.Encrypt(armored, recipient)
	if err != nil {
		return nil, fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := w.Write(plaintext); err != nil {
		return nil, fmt.Errorf("writing key data: %w", err) //coverage:ignore
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalizing age encryption: %w", err) //coverage:ignore
	}
	if err := armored.Close(); err != nil {
		return nil, fmt.Errorf("finalizing armor: %w", err) //coverage:ignore
	}
	return buf.Bytes(), nil
}

func openExport(sealed []byte, passphrase string) ([]byte, error) {
	identity, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return nil, fmt.Errorf("creating scrypt identity: %w", err)
	}

	r, err := age.Decrypt(armor.NewReader(bytes.NewReader(sealed)), identity)
	if err != nil {
		return nil, fmt.Errorf("%w: decrypt: %v", ErrInvalidExport, err)
	}
	plaintext, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: read: %v", ErrInvalidExport, err)
	}
	return plaintext, nil
}
