package moodmash

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/moodmash/client-go/internal/crypto"
)

// Theme is the UI color theme.
type Theme string

const (
	ThemeLight  Theme = "light"
	ThemeDark   Theme = "dark"
	ThemeSystem Theme = "system"
)

// Preferences are the user's settings. The whole object is encrypted with
// the session encryption key once encryption is set up. Fields unknown to
// this client are kept in Extra and round-trip unchanged.
type Preferences struct {
	Theme              Theme
	EmailNotifications bool
	PushNotifications  bool
	WeeklyDigest       bool
	Language           string
	Timezone           string
	Extra              map[string]any
}

// DefaultPreferences returns the settings used when none are stored or they
// cannot be decrypted.
func DefaultPreferences() Preferences {
	return Preferences{
		Theme:              ThemeSystem,
		EmailNotifications: true,
		PushNotifications:  true,
		WeeklyDigest:       true,
		Language:           "en",
		Timezone:           "UTC",
	}
}

type preferencesJSON struct {
	Theme              Theme  `json:"theme,omitempty"`
	EmailNotifications bool   `json:"emailNotifications"`
	PushNotifications  bool   `json:"pushNotifications"`
	WeeklyDigest       bool   `json:"weeklyDigest"`
	Language           string `json:"language,omitempty"`
	Timezone           string `json:"timezone,omitempty"`
}

var knownPreferenceFields = map[string]bool{
	"theme":              true,
	"emailNotifications": true,
	"pushNotifications":  true,
	"weeklyDigest":       true,
	"language":           true,
	"timezone":           true,
}

// MarshalJSON writes known fields and Extra side by side.
func (p Preferences) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(preferencesJSON{
		Theme:              p.Theme,
		EmailNotifications: p.EmailNotifications,
		PushNotifications:  p.PushNotifications,
		WeeklyDigest:       p.WeeklyDigest,
		Language:           p.Language,
		Timezone:           p.Timezone,
	})
	if err != nil || len(p.Extra) == 0 {
		return known, err
	}

	fields := make(map[string]any, len(p.Extra)+len(knownPreferenceFields))
	for k, v := range p.Extra {
		if !knownPreferenceFields[k] {
			fields[k] = v
		}
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(known, &m); err != nil {
		return nil, err
	}
	for k, v := range m {
		fields[k] = v
	}
	return json.Marshal(fields)
}

// UnmarshalJSON reads known fields over the current values and collects the
// rest into Extra.
func (p *Preferences) UnmarshalJSON(data []byte) error {
	cur := preferencesJSON{
		Theme:              p.Theme,
		EmailNotifications: p.EmailNotifications,
		PushNotifications:  p.PushNotifications,
		WeeklyDigest:       p.WeeklyDigest,
		Language:           p.Language,
		Timezone:           p.Timezone,
	}
	if err := json.Unmarshal(data, &cur); err != nil {
		return err
	}
	var all map[string]any
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}

	p.Theme = cur.Theme
	p.EmailNotifications = cur.EmailNotifications
	p.PushNotifications = cur.PushNotifications
	p.WeeklyDigest = cur.WeeklyDigest
	p.Language = cur.Language
	p.Timezone = cur.Timezone
	p.Extra = nil
	for k, v := range all {
		if knownPreferenceFields[k] {
			continue
		}
		if p.Extra == nil {
			p.Extra = make(map[string]any)
		}
		p.Extra[k] = v
	}
	return nil
}

func (p Preferences) clone() Preferences {
	if p.Extra != nil {
		extra := make(map[string]any, len(p.Extra))
		for k, v := range p.Extra {
			extra[k] = v
		}
		p.Extra = extra
	}
	return p
}

// PreferencesPatch is a partial update. Nil fields are left unchanged.
type PreferencesPatch struct {
	Theme              *Theme         `json:"theme,omitempty"`
	EmailNotifications *bool          `json:"emailNotifications,omitempty"`
	PushNotifications  *bool          `json:"pushNotifications,omitempty"`
	WeeklyDigest       *bool          `json:"weeklyDigest,omitempty"`
	Language           *string        `json:"language,omitempty"`
	Timezone           *string        `json:"timezone,omitempty"`
	Extra              map[string]any `json:"-"`
}

// MarshalJSON writes the set fields and Extra as one flat object, the shape
// of the plain preferences endpoint.
func (pp PreferencesPatch) MarshalJSON() ([]byte, error) {
	type plain PreferencesPatch
	known, err := json.Marshal(plain(pp))
	if err != nil || len(pp.Extra) == 0 {
		return known, err
	}
	var m map[string]any
	if err := json.Unmarshal(known, &m); err != nil {
		return nil, err
	}
	for k, v := range pp.Extra {
		if !knownPreferenceFields[k] {
			m[k] = v
		}
	}
	return json.Marshal(m)
}

func (pp PreferencesPatch) apply(p Preferences) Preferences {
	p = p.clone()
	if pp.Theme != nil {
		p.Theme = *pp.Theme
	}
	if pp.EmailNotifications != nil {
		p.EmailNotifications = *pp.EmailNotifications
	}
	if pp.PushNotifications != nil {
		p.PushNotifications = *pp.PushNotifications
	}
	if pp.WeeklyDigest != nil {
		p.WeeklyDigest = *pp.WeeklyDigest
	}
	if pp.Language != nil {
		p.Language = *pp.Language
	}
	if pp.Timezone != nil {
		p.Timezone = *pp.Timezone
	}
	for k, v := range pp.Extra {
		if knownPreferenceFields[k] {
			continue
		}
		if p.Extra == nil {
			p.Extra = make(map[string]any)
		}
		p.Extra[k] = v
	}
	return p
}

// PatchFrom returns a patch that sets every field to the value in p.
func PatchFrom(p Preferences) PreferencesPatch {
	p = p.clone()
	return PreferencesPatch{
		Theme:              &p.Theme,
		EmailNotifications: &p.EmailNotifications,
		PushNotifications:  &p.PushNotifications,
		WeeklyDigest:       &p.WeeklyDigest,
		Language:           &p.Language,
		Timezone:           &p.Timezone,
		Extra:              p.Extra,
	}
}

// PreferencesResult is the outcome of PreferencesStore.Fetch.
type PreferencesResult struct {
	Preferences Preferences
	// Encrypted reports whether the server holds an encrypted blob.
	Encrypted bool
	// NeedsPassword reports that the blob could not be read with the
	// current session and the user should enter the password. Preferences
	// then holds the defaults.
	NeedsPassword bool
	// DecryptFailed reports that a session key was present but the blob
	// did not authenticate with it.
	DecryptFailed bool
}

// PreferencesStore reads and writes the user's preferences, encrypting them
// end-to-end once encryption is set up. Reads never block on a locked
// session: they fall back to defaults and report NeedsPassword.
type PreferencesStore struct {
	client *Client

	mu        sync.Mutex
	prefs     Preferences
	encrypted bool
	loaded    bool
	// fallback is set while prefs holds defaults standing in for server
	// preferences that could not be read. Nothing is written until a fetch
	// succeeds.
	fallback bool
	version  uint64
}

func newPreferencesStore(c *Client) *PreferencesStore {
	return &PreferencesStore{client: c, prefs: DefaultPreferences()}
}

// Preferences returns the locally known preferences.
func (s *PreferencesStore) Preferences() Preferences {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prefs.clone()
}

// Encrypted reports whether the last fetch found encrypted preferences.
func (s *PreferencesStore) Encrypted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.encrypted
}

// Fetch loads the preferences from the server. Any failure to read them
// yields the defaults; only transport and authorization failures are
// returned as errors. A missing preferences record is not an error.
func (s *PreferencesStore) Fetch(ctx context.Context) (PreferencesResult, error) {
	result := PreferencesResult{Preferences: DefaultPreferences()}
	if err := s.client.checkClosed(); err != nil {
		return result, err
	}
	if !s.client.Authenticated() {
		s.setFallback(result.Preferences)
		return result, ErrNotAuthenticated
	}

	log := s.client.logger
	resp, err := s.client.apiClient.GetPreferences(ctx)
	if err != nil {
		if errors.Is(err, ErrPreferencesNotFound) {
			s.set(result)
			return result, nil
		}
		log.Warn().Err(err).Msg("failed to load preferences, using defaults")
		s.setFallback(result.Preferences)
		return result, wrapError(err)
	}

	if !resp.Encrypted {
		prefs := DefaultPreferences()
		if len(resp.Data) > 0 && string(resp.Data) != "null" {
			if err := json.Unmarshal(resp.Data, &prefs); err != nil {
				log.Warn().Err(err).Msg("malformed preferences, using defaults")
				prefs = DefaultPreferences()
			}
		}
		result.Preferences = prefs
		s.set(result)
		return result, nil
	}

	result.Encrypted = true
	key := s.client.keys.EncryptionKey(ctx)
	if key == nil {
		log.Info().Msg("preferences are encrypted and the session is locked")
		result.NeedsPassword = true
		s.set(result)
		return result, nil
	}
	defer zero(key)

	prefs, ok := decryptPreferences(resp.Data, key)
	if !ok {
		log.Warn().Msg("could not decrypt preferences, using defaults")
		result.NeedsPassword = true
		result.DecryptFailed = true
		s.set(result)
		return result, nil
	}
	result.Preferences = prefs
	s.set(result)
	return result, nil
}

func decryptPreferences(data json.RawMessage, key []byte) (Preferences, bool) {
	var env crypto.EncryptedData
	if err := json.Unmarshal(data, &env); err != nil {
		return Preferences{}, false
	}
	plaintext, ok := crypto.DecryptSymmetric(&env, key)
	if !ok {
		return Preferences{}, false
	}
	prefs := DefaultPreferences()
	if err := json.Unmarshal(plaintext, &prefs); err != nil {
		return Preferences{}, false
	}
	return prefs, true
}

func (s *PreferencesStore) set(r PreferencesResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefs = r.Preferences.clone()
	s.encrypted = r.Encrypted
	s.loaded = true
	s.fallback = r.NeedsPassword || r.DecryptFailed
	s.version++
}

func (s *PreferencesStore) setFallback(p Preferences) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefs = p.clone()
	s.fallback = true
	s.version++
}

// Update applies patch locally at once and saves it. Encrypted preferences
// are re-encrypted in full with the session encryption key; plain ones are
// patched. If saving fails the local change is rolled back, unless a newer
// change has been made since.
//
// Preferences that have not been read successfully are fetched first. If
// they are encrypted and still unreadable, Update returns
// ErrEncryptionKeyUnavailable without writing anything.
func (s *PreferencesStore) Update(ctx context.Context, patch PreferencesPatch) (Preferences, error) {
	if err := s.client.checkClosed(); err != nil {
		return s.Preferences(), err
	}
	if !s.client.Authenticated() {
		return s.Preferences(), ErrNotAuthenticated
	}
	if err := s.current(ctx); err != nil {
		return s.Preferences(), err
	}

	s.mu.Lock()
	if s.fallback {
		s.mu.Unlock()
		return s.Preferences(), ErrEncryptionKeyUnavailable
	}
	prev := s.prefs
	updated := patch.apply(prev)
	encrypted := s.encrypted
	s.prefs = updated
	s.version++
	version := s.version
	s.mu.Unlock()

	err := s.save(ctx, encrypted, updated, patch)
	if err != nil {
		s.mu.Lock()
		if s.version == version {
			s.prefs = prev
			s.version++
		}
		s.mu.Unlock()
		s.client.logger.Warn().Err(err).Msg("failed to save preferences, rolled back")
		return s.Preferences(), err
	}
	return updated.clone(), nil
}

func (s *PreferencesStore) save(ctx context.Context, encrypted bool, prefs Preferences, patch PreferencesPatch) error {
	if !encrypted {
		return wrapError(s.client.apiClient.UpdatePlainPreferences(ctx, patch))
	}

	key := s.client.keys.EncryptionKey(ctx)
	if key == nil {
		return ErrEncryptionKeyUnavailable
	}
	defer zero(key)

	env, err := crypto.EncryptSymmetric(prefs, key)
	if err != nil {
		return err
	}
	return wrapError(s.client.apiClient.UpdateEncryptedPreferences(ctx, env))
}

// Reset saves the default preferences.
func (s *PreferencesStore) Reset(ctx context.Context) (Preferences, error) {
	return s.Update(ctx, PatchFrom(DefaultPreferences()))
}

// current makes sure the local preferences mirror the server before a
// write. It fetches when nothing has been loaded yet or the last fetch fell
// back to defaults.
func (s *PreferencesStore) current(ctx context.Context) error {
	s.mu.Lock()
	stale := !s.loaded || s.fallback
	s.mu.Unlock()
	if !stale {
		return nil
	}
	res, err := s.Fetch(ctx)
	if err != nil {
		return err
	}
	if res.NeedsPassword {
		return ErrEncryptionKeyUnavailable
	}
	return nil
}

// markEncrypted records that the server now holds prefs encrypted.
func (s *PreferencesStore) markEncrypted(prefs Preferences) {
	s.set(PreferencesResult{Preferences: prefs, Encrypted: true})
}
