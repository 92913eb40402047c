package moodmash

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/moodmash/client-go/internal/crypto"
	"github.com/moodmash/client-go/internal/keystore"
)

// KeyState is the lifecycle state of a KeyManager.
type KeyState int

const (
	// KeyStateUninitialized means no user is bound yet.
	KeyStateUninitialized KeyState = iota
	// KeyStateNoKeys means a user is bound but has no key pair on this device.
	KeyStateNoKeys
	// KeyStateKeysSet means a key pair and salt are loaded.
	KeyStateKeysSet
	// KeyStateSessionUnlocked means the session encryption key is available.
	KeyStateSessionUnlocked
	// KeyStateLocked means keys are set and the session key was cleared.
	KeyStateLocked
	// KeyStateRotated means the key pair was replaced and the session key
	// has not been re-derived yet.
	KeyStateRotated
	// KeyStateCleared means all key material was wiped.
	KeyStateCleared
)

func (s KeyState) String() string {
	switch s {
	case KeyStateUninitialized:
		return "uninitialized"
	case KeyStateNoKeys:
		return "no_keys"
	case KeyStateKeysSet:
		return "keys_set"
	case KeyStateSessionUnlocked:
		return "session_unlocked"
	case KeyStateLocked:
		return "locked"
	case KeyStateRotated:
		return "rotated"
	case KeyStateCleared:
		return "cleared"
	default:
		return fmt.Sprintf("KeyState(%d)", int(s))
	}
}

// KeyType classifies a key pair.
type KeyType string

const (
	KeyTypePrimary  KeyType = "primary"
	KeyTypeRecovery KeyType = "recovery"
	KeyTypeDevice   KeyType = "device"
)

// KeyMetadata describes the identity and rotation state of a user's key pair.
// Timestamps are Unix milliseconds.
type KeyMetadata struct {
	UserID          string  `json:"userId"`
	KeyID           string  `json:"keyId"`
	CreatedAt       int64   `json:"createdAt"`
	UpdatedAt       int64   `json:"updatedAt"`
	PublicKeyShared bool    `json:"publicKeyShared"`
	DeviceID        string  `json:"deviceId"`
	KeyType         KeyType `json:"keyType"`
}

// Created returns CreatedAt as a time.Time.
func (m KeyMetadata) Created() time.Time { return time.UnixMilli(m.CreatedAt) }

// Updated returns UpdatedAt as a time.Time.
func (m KeyMetadata) Updated() time.Time { return time.UnixMilli(m.UpdatedAt) }

// merge copies the non-zero fields of o over m.
func (m *KeyMetadata) merge(o *KeyMetadata) {
	if o == nil {
		return
	}
	if o.UserID != "" {
		m.UserID = o.UserID
	}
	if o.KeyID != "" {
		m.KeyID = o.KeyID
	}
	if o.CreatedAt != 0 {
		m.CreatedAt = o.CreatedAt
	}
	if o.UpdatedAt != 0 {
		m.UpdatedAt = o.UpdatedAt
	}
	if o.PublicKeyShared {
		m.PublicKeyShared = true
	}
	if o.DeviceID != "" {
		m.DeviceID = o.DeviceID
	}
	if o.KeyType != "" {
		m.KeyType = o.KeyType
	}
}

// KeyManagerConfig configures a KeyManager.
type KeyManagerConfig struct {
	// Durable holds key material, metadata and cached peer keys.
	// If nil, an in-memory store is used.
	Durable keystore.Store
	// Session holds the password-derived encryption key.
	// If nil, an in-memory store is used.
	Session keystore.Store
	// Logger receives storage warnings. The zero value logs nothing.
	Logger *zerolog.Logger
	// Now is the clock. If nil, time.Now is used.
	Now func() time.Time
}

// KeyManager owns the lifecycle of one user's key pair, salt, session
// encryption key and key metadata, plus the device's peer public-key cache.
//
// Managers bound to the same user and sharing a durable store do not
// coordinate: the last SetKeys or StorePublicKeyForUser to complete wins and
// other instances see the change only after calling Initialize again. The
// internal mutex only makes a single instance safe for concurrent use.
type KeyManager struct {
	durable keystore.Store
	session keystore.Store
	logger  zerolog.Logger
	now     func() time.Time

	mu            sync.RWMutex
	userID        string
	state         KeyState
	publicKey     []byte
	secretKey     []byte
	salt          []byte
	encryptionKey []byte
	metadata      *KeyMetadata
}

// NewKeyManager creates an unbound key manager.
func NewKeyManager(cfg KeyManagerConfig) *KeyManager {
	km := &KeyManager{
		durable: cfg.Durable,
		session: cfg.Session,
		logger:  zerolog.Nop(),
		now:     cfg.Now,
	}
	if km.durable == nil {
		km.durable = keystore.NewMemory()
	}
	if km.session == nil {
		km.session = keystore.NewMemory()
	}
	if cfg.Logger != nil {
		km.logger = *cfg.Logger
	}
	if km.now == nil {
		km.now = time.Now
	}
	return km
}

// Initialize binds the manager to userID and loads any key material,
// metadata and session key stored for that user. Unreadable or corrupt
// entries are logged and treated as absent.
func (km *KeyManager) Initialize(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrMissingUserID
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	km.mu.Lock()
	defer km.mu.Unlock()

	km.wipeLocked()
	km.userID = userID
	km.loadLocked(ctx)

	switch {
	case !km.hasKeysLocked():
		km.state = KeyStateNoKeys
	case km.encryptionKey != nil:
		km.state = KeyStateSessionUnlocked
	default:
		km.state = KeyStateKeysSet
	}

	km.logger.Debug().
		Str("user_id", userID).
		Stringer("state", km.state).
		Msg("key manager initialized")
	return nil
}

func (km *KeyManager) loadLocked(ctx context.Context) {
	uid := km.userID

	secret := km.loadBytes(ctx, keystore.SecretKeyName(uid))
	if len(secret) == 0 {
		return
	}
	kp, err := crypto.KeyPairFromSecretKey(secret)
	if err != nil {
		km.storageWarn(keystore.SecretKeyName(uid), err)
		return
	}
	stored := km.loadBytes(ctx, keystore.PublicKeyName(uid))
	if stored != nil && !crypto.ValidateKeyPair(&crypto.KeyPair{PublicKey: stored, SecretKey: secret}) {
		km.logger.Warn().Str("user_id", uid).Msg("stored public key does not match secret key, using derived key")
	}
	km.secretKey = kp.SecretKey
	km.publicKey = kp.PublicKey
	km.salt = km.loadBytes(ctx, keystore.SaltName(uid))

	if raw, ok := km.loadString(ctx, km.durable, keystore.MetadataName(uid)); ok {
		var meta KeyMetadata
		if err := json.Unmarshal([]byte(raw), &meta); err != nil {
			km.storageWarn(keystore.MetadataName(uid), err)
		} else {
			km.metadata = &meta
		}
	}

	if raw, ok := km.loadString(ctx, km.session, keystore.SessionKeyName(uid)); ok {
		key, err := crypto.DecodeBase64(raw)
		if err != nil || len(key) != crypto.KeySize {
			km.storageWarn(keystore.SessionKeyName(uid), errors.New("malformed session key"))
		} else {
			km.encryptionKey = key
		}
	}
}

func (km *KeyManager) loadString(ctx context.Context, store keystore.Store, key string) (string, bool) {
	value, ok, err := store.Get(ctx, key)
	if err != nil {
		km.storageWarn(key, err)
		return "", false
	}
	return value, ok
}

func (km *KeyManager) loadBytes(ctx context.Context, key string) []byte {
	raw, ok := km.loadString(ctx, km.durable, key)
	if !ok {
		return nil
	}
	b, err := crypto.DecodeBase64(raw)
	if err != nil {
		km.storageWarn(key, err)
		return nil
	}
	return b
}

func (km *KeyManager) storageWarn(key string, err error) {
	km.logger.Warn().Err(err).Str("key", key).Msg("ignoring unreadable key storage entry")
}

// SetKeys replaces all key material for the bound user and persists it.
// Fresh metadata is generated with a new key ID; non-zero fields of
// override are applied on top (restore and rotation flows). Calling SetKeys
// on a manager that already has keys is a rotation: the old secret key and
// the session key derived from the old salt are discarded.
func (km *KeyManager) SetKeys(ctx context.Context, keys *crypto.UserKeys, override *KeyMetadata) error {
	if keys == nil {
		return configError("set keys", ErrKeysUnavailable)
	}
	kp := &crypto.KeyPair{PublicKey: keys.PublicKey, SecretKey: keys.SecretKey}
	if !crypto.ValidateKeyPair(kp) {
		return configError("set keys", ErrInvalidKeyPair)
	}

	km.mu.Lock()
	defer km.mu.Unlock()

	if km.userID == "" {
		return configError("set keys", ErrNotInitialized)
	}
	uid := km.userID

	deviceID, err := km.deviceID(ctx)
	if err != nil {
		return err
	}

	now := km.now().UnixMilli()
	meta := KeyMetadata{
		UserID:    uid,
		KeyID:     newKeyID(),
		CreatedAt: now,
		UpdatedAt: now,
		DeviceID:  deviceID,
		KeyType:   KeyTypePrimary,
	}
	meta.merge(override)
	km.bumpUpdatedAt(&meta)

	writes := []struct{ key, value string }{
		{keystore.SecretKeyName(uid), crypto.EncodeBase64(keys.SecretKey)},
		{keystore.PublicKeyName(uid), crypto.EncodeBase64(keys.PublicKey)},
		{keystore.SaltName(uid), crypto.EncodeBase64(keys.Salt)},
	}
	for _, w := range writes {
		if err := km.durable.Set(ctx, w.key, w.value); err != nil {
			return &StorageError{Op: "set", Key: w.key, Err: err}
		}
	}
	if err := km.saveMetadata(ctx, &meta); err != nil {
		return err
	}

	rotated := km.hasKeysLocked()
	if km.encryptionKey != nil {
		zero(km.encryptionKey)
		km.encryptionKey = nil
	}
	if err := km.session.Delete(ctx, keystore.SessionKeyName(uid)); err != nil {
		km.storageWarn(keystore.SessionKeyName(uid), err)
	}

	zero(km.secretKey)
	km.secretKey = clone(keys.SecretKey)
	km.publicKey = clone(keys.PublicKey)
	km.salt = clone(keys.Salt)
	km.metadata = &meta

	if rotated {
		km.state = KeyStateRotated
	} else {
		km.state = KeyStateKeysSet
	}

	km.logger.Info().
		Str("user_id", uid).
		Str("key_id", meta.KeyID).
		Bool("rotated", rotated).
		Msg("keys set")
	return nil
}

// bumpUpdatedAt keeps UpdatedAt strictly increasing across mutations even
// when the clock has not advanced.
func (km *KeyManager) bumpUpdatedAt(meta *KeyMetadata) {
	if km.metadata != nil && meta.UpdatedAt <= km.metadata.UpdatedAt {
		meta.UpdatedAt = km.metadata.UpdatedAt + 1
	}
}

func (km *KeyManager) saveMetadata(ctx context.Context, meta *KeyMetadata) error {
	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal key metadata: %w", err) //coverage:ignore
	}
	key := keystore.MetadataName(meta.UserID)
	if err := km.durable.Set(ctx, key, string(raw)); err != nil {
		return &StorageError{Op: "set", Key: key, Err: err}
	}
	return nil
}

// deviceID returns the device ID, creating and persisting one on first use.
func (km *KeyManager) deviceID(ctx context.Context) (string, error) {
	id, ok, err := km.durable.Get(ctx, keystore.DeviceIDKey)
	if err != nil {
		return "", &StorageError{Op: "get", Key: keystore.DeviceIDKey, Err: err}
	}
	if ok && id != "" {
		return id, nil
	}
	id = "device_" + uuid.NewString()
	if err := km.durable.Set(ctx, keystore.DeviceIDKey, id); err != nil {
		return "", &StorageError{Op: "set", Key: keystore.DeviceIDKey, Err: err}
	}
	return id, nil
}

func newKeyID() string {
	return "key_" + uuid.NewString()
}

// SetEncryptionKeyFromPassword derives the session encryption key from
// password and the stored salt, and keeps it in memory and in the session
// store. It fails with ErrSaltUnavailable before SetKeys.
func (km *KeyManager) SetEncryptionKeyFromPassword(ctx context.Context, password string) ([]byte, error) {
	km.mu.Lock()
	defer km.mu.Unlock()

	if km.userID == "" {
		return nil, configError("set encryption key", ErrNotInitialized)
	}
	if len(km.salt) == 0 {
		return nil, configError("set encryption key", ErrSaltUnavailable)
	}

	key, err := crypto.DeriveKeyFromPassword(password, km.salt)
	if err != nil {
		return nil, err
	}
	if err := km.setEncryptionKeyLocked(ctx, key); err != nil {
		zero(key)
		return nil, err
	}
	return clone(key), nil
}

// restoreEncryptionKey reinstalls a previously derived session key.
func (km *KeyManager) restoreEncryptionKey(ctx context.Context, key []byte) error {
	if len(key) != crypto.KeySize {
		return configError("restore encryption key", ErrEncryptionKeyUnavailable)
	}
	km.mu.Lock()
	defer km.mu.Unlock()
	if km.userID == "" {
		return configError("restore encryption key", ErrNotInitialized)
	}
	return km.setEncryptionKeyLocked(ctx, clone(key))
}

// setEncryptionKeyLocked takes ownership of key.
func (km *KeyManager) setEncryptionKeyLocked(ctx context.Context, key []byte) error {
	name := keystore.SessionKeyName(km.userID)
	if err := km.session.Set(ctx, name, crypto.EncodeBase64(key)); err != nil {
		return &StorageError{Op: "set", Key: name, Err: err}
	}

	zero(km.encryptionKey)
	km.encryptionKey = key
	km.state = KeyStateSessionUnlocked
	return nil
}

// EncryptionKey returns a copy of the session encryption key. If it is not
// in memory it is recovered from the session store. It returns nil when the
// session is locked.
func (km *KeyManager) EncryptionKey(ctx context.Context) []byte {
	km.mu.Lock()
	defer km.mu.Unlock()

	if km.encryptionKey != nil {
		return clone(km.encryptionKey)
	}
	if km.userID == "" {
		return nil
	}

	raw, ok := km.loadString(ctx, km.session, keystore.SessionKeyName(km.userID))
	if !ok {
		return nil
	}
	key, err := crypto.DecodeBase64(raw)
	if err != nil || len(key) != crypto.KeySize {
		km.storageWarn(keystore.SessionKeyName(km.userID), errors.New("malformed session key"))
		return nil
	}
	km.encryptionKey = key
	if km.hasKeysLocked() {
		km.state = KeyStateSessionUnlocked
	}
	return clone(key)
}

// ClearEncryptionKey wipes the session encryption key from memory and from
// the session store.
func (km *KeyManager) ClearEncryptionKey(ctx context.Context) error {
	km.mu.Lock()
	defer km.mu.Unlock()

	zero(km.encryptionKey)
	km.encryptionKey = nil
	if km.hasKeysLocked() {
		km.state = KeyStateLocked
	}
	if km.userID == "" {
		return nil
	}
	name := keystore.SessionKeyName(km.userID)
	if err := km.session.Delete(ctx, name); err != nil {
		return &StorageError{Op: "delete", Key: name, Err: err}
	}
	return nil
}

// ClearKeys wipes all key material of the bound user from memory, the
// durable store and the session store. A later Initialize starts from NoKeys.
func (km *KeyManager) ClearKeys(ctx context.Context) error {
	km.mu.Lock()
	defer km.mu.Unlock()

	km.wipeLocked()
	if km.userID == "" {
		return nil
	}
	km.state = KeyStateCleared

	uid := km.userID
	var errs []error
	for _, name := range []string{
		keystore.SecretKeyName(uid),
		keystore.PublicKeyName(uid),
		keystore.SaltName(uid),
		keystore.MetadataName(uid),
	} {
		if err := km.durable.Delete(ctx, name); err != nil {
			errs = append(errs, &StorageError{Op: "delete", Key: name, Err: err})
		}
	}
	name := keystore.SessionKeyName(uid)
	if err := km.session.Delete(ctx, name); err != nil {
		errs = append(errs, &StorageError{Op: "delete", Key: name, Err: err})
	}

	km.logger.Info().Str("user_id", uid).Msg("keys cleared")
	return errors.Join(errs...)
}

func (km *KeyManager) wipeLocked() {
	zero(km.secretKey)
	zero(km.encryptionKey)
	km.secretKey = nil
	km.publicKey = nil
	km.salt = nil
	km.encryptionKey = nil
	km.metadata = nil
}

// MarkPublicKeyAsShared records that the public key was published to the
// server.
func (km *KeyManager) MarkPublicKeyAsShared(ctx context.Context) error {
	km.mu.Lock()
	defer km.mu.Unlock()

	if km.metadata == nil {
		return nil
	}
	meta := *km.metadata
	meta.PublicKeyShared = true
	meta.UpdatedAt = km.now().UnixMilli()
	km.bumpUpdatedAt(&meta)
	if err := km.saveMetadata(ctx, &meta); err != nil {
		return err
	}
	km.metadata = &meta
	return nil
}

// PublicKeyForUser returns the cached public key of a peer, or nil when
// none is cached. Cached keys never expire.
func (km *KeyManager) PublicKeyForUser(ctx context.Context, userID string) []byte {
	if userID == "" {
		return nil
	}
	key := km.loadBytes(ctx, keystore.PublicKeyName(userID))
	if key != nil && len(key) != crypto.PublicKeySize {
		km.storageWarn(keystore.PublicKeyName(userID), crypto.ErrInvalidPublicKeySize)
		return nil
	}
	return key
}

// StorePublicKeyForUser caches a peer's public key, replacing any previous
// entry.
func (km *KeyManager) StorePublicKeyForUser(ctx context.Context, userID string, publicKey []byte) error {
	if userID == "" {
		return ErrMissingUserID
	}
	if len(publicKey) != crypto.PublicKeySize {
		return configError("store public key", crypto.ErrInvalidPublicKeySize)
	}
	name := keystore.PublicKeyName(userID)
	if err := km.durable.Set(ctx, name, crypto.EncodeBase64(publicKey)); err != nil {
		return &StorageError{Op: "set", Key: name, Err: err}
	}
	return nil
}

// ForgetPublicKeyForUser removes a peer's cached public key so that the next
// lookup fetches it from the server again.
func (km *KeyManager) ForgetPublicKeyForUser(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrMissingUserID
	}
	km.mu.RLock()
	own := userID == km.userID
	km.mu.RUnlock()
	if own {
		return configError("forget public key", errors.New("cannot forget own public key"))
	}
	name := keystore.PublicKeyName(userID)
	if err := km.durable.Delete(ctx, name); err != nil {
		return &StorageError{Op: "delete", Key: name, Err: err}
	}
	return nil
}

// UserID returns the bound user ID.
func (km *KeyManager) UserID() string {
	km.mu.RLock()
	defer km.mu.RUnlock()
	return km.userID
}

// State returns the current lifecycle state.
func (km *KeyManager) State() KeyState {
	km.mu.RLock()
	defer km.mu.RUnlock()
	return km.state
}

// HasKeys reports whether a key pair is loaded.
func (km *KeyManager) HasKeys() bool {
	km.mu.RLock()
	defer km.mu.RUnlock()
	return km.hasKeysLocked()
}

func (km *KeyManager) hasKeysLocked() bool {
	return len(km.secretKey) > 0 && len(km.publicKey) > 0
}

// Keys returns a copy of the key pair, or nil if none is set.
func (km *KeyManager) Keys() *crypto.KeyPair {
	km.mu.RLock()
	defer km.mu.RUnlock()
	if !km.hasKeysLocked() {
		return nil
	}
	return &crypto.KeyPair{PublicKey: clone(km.publicKey), SecretKey: clone(km.secretKey)}
}

// PublicKey returns a copy of the user's public key.
func (km *KeyManager) PublicKey() []byte {
	km.mu.RLock()
	defer km.mu.RUnlock()
	return clone(km.publicKey)
}

// SecretKey returns a copy of the user's secret key. It must never leave
// the device.
func (km *KeyManager) SecretKey() []byte {
	km.mu.RLock()
	defer km.mu.RUnlock()
	return clone(km.secretKey)
}

// Salt returns a copy of the key-derivation salt.
func (km *KeyManager) Salt() []byte {
	km.mu.RLock()
	defer km.mu.RUnlock()
	return clone(km.salt)
}

// Metadata returns a copy of the key metadata, or nil if none is set.
func (km *KeyManager) Metadata() *KeyMetadata {
	km.mu.RLock()
	defer km.mu.RUnlock()
	if km.metadata == nil {
		return nil
	}
	m := *km.metadata
	return &m
}

// Fingerprint returns a short human-comparable fingerprint of the user's
// public key, or "" if none is set.
func (km *KeyManager) Fingerprint() string {
	km.mu.RLock()
	defer km.mu.RUnlock()
	if len(km.publicKey) == 0 {
		return ""
	}
	return crypto.Fingerprint(km.publicKey)
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	c := make([]byte, len(b))
	copy(c, b)
	return c
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
