package moodmash

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/moodmash/client-go/internal/api"
	"github.com/moodmash/client-go/internal/crypto"
)

// Client is the MoodMash E2E service object for one signed-in user. Create
// one per session with New and pass it to everything that needs keys,
// conversations or preferences.
type Client struct {
	apiClient *api.Client
	keys      *KeyManager
	prefs     *PreferencesStore
	cfg       *clientConfig
	logger    zerolog.Logger
	now       func() time.Time
	userID    string

	mu            sync.RWMutex
	closed        bool
	conversations map[string]*Conversation

	closeCtx    context.Context
	closeCancel context.CancelFunc
}

// buildAPIClient creates and configures an API client from the given config.
func buildAPIClient(token string, cfg *clientConfig) (*api.Client, error) {
	apiOpts := []api.Option{
		api.WithBaseURL(cfg.baseURL),
		api.WithLogger(cfg.logger),
	}
	if cfg.httpClient != nil {
		apiOpts = append(apiOpts, api.WithHTTPClient(cfg.httpClient))
	} else if cfg.timeout > 0 {
		apiOpts = append(apiOpts, api.WithTimeout(cfg.timeout))
	}
	if cfg.retries >= 0 {
		apiOpts = append(apiOpts, api.WithRetries(cfg.retries))
	}
	if len(cfg.retryOn) > 0 {
		apiOpts = append(apiOpts, api.WithRetryOn(cfg.retryOn))
	}

	return api.New(token, apiOpts...)
}

// New creates a client for userID. token is the session bearer token; an
// empty token creates a signed-out client (see SignIn). Keys stored for the
// user in the key store are loaded immediately. Invalid options are reported
// as a *ConfigurationError.
func New(userID, token string, opts ...Option) (*Client, error) {
	if userID == "" {
		return nil, ErrMissingUserID
	}

	cfg := &clientConfig{
		baseURL: defaultBaseURL,
		timeout: defaultTimeout,
		retries: -1,
		logger:  zerolog.Nop(),
		now:     time.Now,
	}

	for _, opt := range opts {
		opt(cfg)
	}
	if err := cfg.validate(); err != nil {
		return nil, configError("new client", err)
	}

	apiClient, err := buildAPIClient(token, cfg)
	if err != nil {
		return nil, err
	}

	logger := cfg.logger.With().Str("component", "moodmash").Logger()
	keys := NewKeyManager(KeyManagerConfig{
		Durable: cfg.keyStore,
		Session: cfg.sessionStore,
		Logger:  &logger,
		Now:     cfg.now,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.timeout)
	defer cancel()
	if err := keys.Initialize(ctx, userID); err != nil {
		return nil, fmt.Errorf("initialize keys: %w", err)
	}

	closeCtx, closeCancel := context.WithCancel(context.Background())

	c := &Client{
		apiClient:     apiClient,
		keys:          keys,
		cfg:           cfg,
		logger:        logger,
		now:           cfg.now,
		userID:        userID,
		conversations: make(map[string]*Conversation),
		closeCtx:      closeCtx,
		closeCancel:   closeCancel,
	}
	c.prefs = newPreferencesStore(c)
	return c, nil
}

// checkClosed returns ErrClientClosed if the client has been closed.
func (c *Client) checkClosed() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClientClosed
	}
	return nil
}

// UserID returns the ID of the local user.
func (c *Client) UserID() string {
	return c.userID
}

// KeyManager returns the user's key manager.
func (c *Client) KeyManager() *KeyManager {
	return c.keys
}

// Preferences returns the user's preferences store.
func (c *Client) Preferences() *PreferencesStore {
	return c.prefs
}

// Authenticated reports whether a session token is set.
func (c *Client) Authenticated() bool {
	return c.apiClient.HasToken()
}

// SignIn sets the session token.
func (c *Client) SignIn(token string) error {
	if err := c.checkClosed(); err != nil {
		return err
	}
	if token == "" {
		return ErrMissingToken
	}
	c.apiClient.SetToken(token)
	return nil
}

// SignOut ends the session: the token is dropped and the session encryption
// key is wiped. The durable key pair stays on the device.
func (c *Client) SignOut(ctx context.Context) error {
	c.apiClient.SetToken("")
	return c.keys.ClearEncryptionKey(ctx)
}

// Conversation returns the conversation with recipientID. Repeated calls
// return the same conversation, so a recipient found to be unavailable
// stays unavailable for the life of the client.
func (c *Client) Conversation(recipientID string) (*Conversation, error) {
	if recipientID == "" {
		return nil, ErrMissingUserID
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClientClosed
	}
	cv, ok := c.conversations[recipientID]
	if !ok {
		cv = newConversation(c, recipientID)
		c.conversations[recipientID] = cv
	}
	return cv, nil
}

// lookupPublicKey returns a peer's public key from the local cache, or
// fetches and caches it (trust on first use). It returns (nil, nil) when the
// peer has not published a key.
func (c *Client) lookupPublicKey(ctx context.Context, userID string) ([]byte, error) {
	if key := c.keys.PublicKeyForUser(ctx, userID); key != nil {
		return key, nil
	}

	key, err := c.apiClient.GetPublicKey(ctx, userID)
	if err != nil {
		return nil, wrapError(err)
	}
	if key == nil {
		return nil, nil
	}
	if len(key) != crypto.PublicKeySize {
		c.logger.Warn().Str("user_id", userID).Int("size", len(key)).Msg("ignoring malformed published key")
		return nil, nil
	}

	if err := c.keys.StorePublicKeyForUser(ctx, userID, key); err != nil {
		c.logger.Warn().Err(err).Str("user_id", userID).Msg("failed to cache public key")
	}
	return key, nil
}

// PeerFingerprint returns the fingerprint of a peer's public key, looking it
// up as a conversation would. It returns ErrRecipientUnavailable if the peer
// has not published a key.
func (c *Client) PeerFingerprint(ctx context.Context, userID string) (string, error) {
	if err := c.checkClosed(); err != nil {
		return "", err
	}
	key, err := c.lookupPublicKey(ctx, userID)
	if err != nil {
		return "", err
	}
	if key == nil {
		return "", &RecipientUnavailableError{RecipientID: userID}
	}
	return crypto.Fingerprint(key), nil
}

// SetupEncryption creates the user's key pair from password, unlocks the
// session, and publishes the public key and salt together with the current
// preferences encrypted under the new session key. If publishing fails the
// local key state is restored. If the server already holds encrypted
// preferences this device cannot read, setup is refused with a
// *ConfigurationError; import the existing keys instead.
func (c *Client) SetupEncryption(ctx context.Context, password string) error {
	return c.establishKeys(ctx, password, false)
}

// RotateKeys replaces the user's key pair with one derived from password and
// a fresh salt, and re-encrypts the preferences under the new session key.
// The session must be unlocked so the current preferences can be read.
func (c *Client) RotateKeys(ctx context.Context, password string) error {
	if !c.keys.HasKeys() {
		return configError("rotate keys", ErrKeysUnavailable)
	}
	if c.keys.EncryptionKey(ctx) == nil {
		return configError("rotate keys", ErrEncryptionKeyUnavailable)
	}
	return c.establishKeys(ctx, password, true)
}

func (c *Client) establishKeys(ctx context.Context, password string, rotate bool) error {
	op := "setup encryption"
	if rotate {
		op = "rotate keys"
	}
	if err := c.checkClosed(); err != nil {
		return err
	}
	if password == "" {
		return configError(op, fmt.Errorf("password is required"))
	}
	if !c.Authenticated() {
		return ErrNotAuthenticated
	}

	// Read the preferences to carry over before the keys change. Encrypted
	// preferences this device cannot read would be replaced by defaults.
	res, err := c.prefs.Fetch(ctx)
	if err != nil {
		return err
	}
	if res.NeedsPassword {
		if rotate {
			return configError(op, ErrEncryptionKeyUnavailable)
		}
		return configError(op, fmt.Errorf("%w: the server holds encrypted preferences this device cannot read, import the existing keys instead", ErrEncryptionKeyUnavailable))
	}
	prefs := res.Preferences

	prevKeys := c.keys.Keys()
	prevSalt := c.keys.Salt()
	prevMeta := c.keys.Metadata()
	prevEncKey := c.keys.EncryptionKey(ctx)
	defer zero(prevEncKey)

	keys, err := crypto.GenerateUserKeys(password)
	if err != nil {
		return err
	}
	if err := c.keys.SetKeys(ctx, keys, nil); err != nil {
		return err
	}

	restore := func(cause error) error {
		c.logger.Warn().Err(cause).Str("op", op).Msg("publishing keys failed, restoring previous keys")
		var rerr error
		if prevKeys == nil {
			rerr = c.keys.ClearKeys(ctx)
		} else {
			rerr = c.keys.SetKeys(ctx, &crypto.UserKeys{
				PublicKey: prevKeys.PublicKey,
				SecretKey: prevKeys.SecretKey,
				Salt:      prevSalt,
			}, prevMeta)
			if rerr == nil && prevEncKey != nil {
				rerr = c.keys.restoreEncryptionKey(ctx, prevEncKey)
			}
		}
		if rerr != nil {
			c.logger.Error().Err(rerr).Msg("failed to restore previous keys")
		}
		return cause
	}

	encKey, err := c.keys.SetEncryptionKeyFromPassword(ctx, password)
	if err != nil {
		return restore(err)
	}
	encPrefs, err := crypto.EncryptSymmetric(prefs, encKey)
	zero(encKey)
	if err != nil {
		return restore(err)
	}

	req := api.SetupEncryptionRequest{
		PublicKey:            crypto.EncodeBase64(keys.PublicKey),
		Salt:                 crypto.EncodeBase64(keys.Salt),
		EncryptedPreferences: encPrefs,
	}
	if err := c.apiClient.SetupEncryption(ctx, req); err != nil {
		return restore(wrapError(err))
	}

	if err := c.keys.MarkPublicKeyAsShared(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("failed to record shared public key")
	}
	c.prefs.markEncrypted(prefs)

	meta := c.keys.Metadata()
	c.logger.Info().
		Str("op", op).
		Str("key_id", meta.KeyID).
		Str("fingerprint", c.keys.Fingerprint()).
		Msg("encryption keys published")
	return nil
}

// Close closes the client and stops any running Watch. Stores passed in
// with WithKeyStore or WithSessionStore are not closed.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true
	c.closeCancel()
	c.conversations = make(map[string]*Conversation)
	return nil
}
