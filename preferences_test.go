package moodmash

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/moodmash/client-go/internal/api"
	"github.com/moodmash/client-go/internal/crypto"
)

func ptr[T any](v T) *T { return &v }

func TestDefaultPreferences(t *testing.T) {
	p := DefaultPreferences()
	want := Preferences{
		Theme:              ThemeSystem,
		EmailNotifications: true,
		PushNotifications:  true,
		WeeklyDigest:       true,
		Language:           "en",
		Timezone:           "UTC",
	}
	if !reflect.DeepEqual(p, want) {
		t.Errorf("DefaultPreferences() = %+v, want %+v", p, want)
	}
}

func TestPreferences_UnknownFieldsSurvive(t *testing.T) {
	in := `{"theme":"dark","emailNotifications":false,"moodReminders":"daily","layout":{"compact":true}}`

	p := DefaultPreferences()
	if err := json.Unmarshal([]byte(in), &p); err != nil {
		t.Fatal(err)
	}
	if p.Theme != ThemeDark || p.EmailNotifications || !p.PushNotifications || p.Language != "en" {
		t.Errorf("known fields = %+v", p)
	}
	if p.Extra["moodReminders"] != "daily" {
		t.Errorf("Extra = %v", p.Extra)
	}

	out, err := json.Marshal(p)
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	json.Unmarshal(out, &m)
	if m["moodReminders"] != "daily" || m["theme"] != "dark" || m["layout"] == nil {
		t.Errorf("MarshalJSON() = %s", out)
	}
	if _, ok := m["Extra"]; ok {
		t.Error("Extra written as a nested field")
	}
}

func TestPreferencesPatch_MarshalJSON(t *testing.T) {
	patch := PreferencesPatch{
		Theme:        ptr(ThemeLight),
		WeeklyDigest: ptr(false),
		Extra:        map[string]any{"moodReminders": "weekly", "theme": "ignored"},
	}
	out, err := json.Marshal(patch)
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	json.Unmarshal(out, &m)
	want := map[string]any{"theme": "light", "weeklyDigest": false, "moodReminders": "weekly"}
	if !reflect.DeepEqual(m, want) {
		t.Errorf("MarshalJSON() = %v, want %v", m, want)
	}
}

func TestPreferencesStore_FetchMissing(t *testing.T) {
	f := newFakeServer(t)
	c := newTestClient(t, f, "alice")

	res, err := c.Preferences().Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if res.Encrypted || res.NeedsPassword || !reflect.DeepEqual(res.Preferences, DefaultPreferences()) {
		t.Errorf("Fetch() = %+v, want plain defaults", res)
	}
}

func TestPreferencesStore_FetchSignedOut(t *testing.T) {
	c, err := New("alice", "")
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	res, err := c.Preferences().Fetch(context.Background())
	if !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("Fetch() error = %v, want ErrNotAuthenticated", err)
	}
	if !reflect.DeepEqual(res.Preferences, DefaultPreferences()) {
		t.Errorf("Fetch() preferences = %+v, want defaults", res.Preferences)
	}
}

func TestPreferencesStore_FetchServerError(t *testing.T) {
	f := newFakeServer(t)
	c := newTestClient(t, f, "alice")
	f.mu.Lock()
	f.failGetPref = 1
	f.mu.Unlock()

	res, err := c.Preferences().Fetch(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != 500 || apiErr.ResourceType != ResourcePreferences {
		t.Errorf("Fetch() error = %v, want preferences APIError 500", err)
	}
	if !reflect.DeepEqual(res.Preferences, DefaultPreferences()) {
		t.Errorf("Fetch() preferences = %+v, want defaults", res.Preferences)
	}
}

func TestPreferencesStore_FetchPlain(t *testing.T) {
	f := newFakeServer(t)
	c := newTestClient(t, f, "alice")
	f.mu.Lock()
	f.prefs["alice"] = api.PreferencesResponse{Data: json.RawMessage(`{"theme":"light","language":"de"}`)}
	f.mu.Unlock()

	res, err := c.Preferences().Fetch(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	p := res.Preferences
	if res.Encrypted || p.Theme != ThemeLight || p.Language != "de" || p.Timezone != "UTC" {
		t.Errorf("Fetch() = %+v", res)
	}
}

func TestPreferencesStore_FetchEncryptedLocked(t *testing.T) {
	f := newFakeServer(t)
	ctx := context.Background()
	c := newReadyClient(t, f, "alice")
	if _, err := c.Preferences().Update(ctx, PreferencesPatch{Theme: ptr(ThemeDark)}); err != nil {
		t.Fatal(err)
	}
	if err := c.KeyManager().ClearEncryptionKey(ctx); err != nil {
		t.Fatal(err)
	}

	res, err := c.Preferences().Fetch(ctx)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if !res.Encrypted || !res.NeedsPassword || res.DecryptFailed {
		t.Errorf("Fetch() = %+v, want NeedsPassword", res)
	}
	if res.Preferences.Theme != ThemeSystem {
		t.Errorf("Theme = %q, want defaults while locked", res.Preferences.Theme)
	}

	// Re-entering the password makes them readable again.
	if _, err := c.KeyManager().SetEncryptionKeyFromPassword(ctx, testPassword); err != nil {
		t.Fatal(err)
	}
	res, err = c.Preferences().Fetch(ctx)
	if err != nil || res.NeedsPassword || res.Preferences.Theme != ThemeDark {
		t.Errorf("Fetch() after unlock = %+v, %v", res, err)
	}
}

func TestPreferencesStore_FetchUndecryptable(t *testing.T) {
	f := newFakeServer(t)
	c := newReadyClient(t, f, "alice")

	other, _ := crypto.DeriveKeyFromPassword("someone else", make([]byte, crypto.SaltSize))
	env, err := crypto.EncryptSymmetric(map[string]string{"theme": "dark"}, other)
	if err != nil {
		t.Fatal(err)
	}
	data, _ := json.Marshal(env)
	f.mu.Lock()
	f.prefs["alice"] = api.PreferencesResponse{Encrypted: true, Data: data}
	f.mu.Unlock()

	res, err := c.Preferences().Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if !res.NeedsPassword || !res.DecryptFailed {
		t.Errorf("Fetch() = %+v, want DecryptFailed", res)
	}
	if !reflect.DeepEqual(res.Preferences, DefaultPreferences()) {
		t.Errorf("Fetch() preferences = %+v, want defaults", res.Preferences)
	}
}

func TestPreferencesStore_UpdatePlain(t *testing.T) {
	f := newFakeServer(t)
	c := newTestClient(t, f, "alice")
	ctx := context.Background()

	got, err := c.Preferences().Update(ctx, PreferencesPatch{PushNotifications: ptr(false)})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if got.PushNotifications {
		t.Error("Update() did not apply the patch")
	}

	f.mu.Lock()
	patch := f.lastPatch
	f.mu.Unlock()
	if !reflect.DeepEqual(patch, map[string]any{"pushNotifications": false}) {
		t.Errorf("server patch = %v, want only the changed field", patch)
	}
	if f.requestCount("PATCH /profile/encrypted-preferences") != 0 {
		t.Error("plain update used the encrypted endpoint")
	}
}

func TestPreferencesStore_UpdateEncrypted(t *testing.T) {
	f := newFakeServer(t)
	c := newReadyClient(t, f, "alice")
	ctx := context.Background()

	if _, err := c.Preferences().Update(ctx, PreferencesPatch{Timezone: ptr("Europe/Berlin")}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	stored, _ := f.storedPreferences("alice")
	if !stored.Encrypted || strings.Contains(string(stored.Data), "Berlin") {
		t.Fatalf("stored preferences = %s, want ciphertext", stored.Data)
	}
	var env crypto.EncryptedData
	if err := json.Unmarshal(stored.Data, &env); err != nil {
		t.Fatal(err)
	}
	key := c.KeyManager().EncryptionKey(ctx)
	plaintext, ok := crypto.DecryptSymmetric(&env, key)
	if !ok {
		t.Fatal("stored preferences do not decrypt with the session key")
	}
	var p Preferences
	if err := json.Unmarshal(plaintext, &p); err != nil {
		t.Fatal(err)
	}
	if p.Timezone != "Europe/Berlin" || p.Theme != ThemeSystem {
		t.Errorf("stored preferences = %+v", p)
	}
	if f.requestCount("PATCH /profile/preferences") != 0 {
		t.Error("encrypted update leaked to the plain endpoint")
	}
}

func TestPreferencesStore_UpdateEncryptedLocked(t *testing.T) {
	f := newFakeServer(t)
	c := newReadyClient(t, f, "alice")
	ctx := context.Background()
	if err := c.KeyManager().ClearEncryptionKey(ctx); err != nil {
		t.Fatal(err)
	}
	before := c.Preferences().Preferences()

	_, err := c.Preferences().Update(ctx, PreferencesPatch{Theme: ptr(ThemeDark)})
	if !errors.Is(err, ErrEncryptionKeyUnavailable) {
		t.Errorf("Update() error = %v, want ErrEncryptionKeyUnavailable", err)
	}
	if !reflect.DeepEqual(c.Preferences().Preferences(), before) {
		t.Error("local change not rolled back")
	}
	if f.requestCount("PATCH /profile/preferences")+f.requestCount("PATCH /profile/encrypted-preferences") != 0 {
		t.Error("preferences sent while locked")
	}
}

func TestPreferencesStore_UpdateRollback(t *testing.T) {
	f := newFakeServer(t)
	c := newReadyClient(t, f, "alice")
	ctx := context.Background()
	store := c.Preferences()

	if _, err := store.Update(ctx, PreferencesPatch{Language: ptr("fr")}); err != nil {
		t.Fatal(err)
	}
	f.mu.Lock()
	f.failPrefs = 1
	f.mu.Unlock()

	got, err := store.Update(ctx, PreferencesPatch{Language: ptr("es")})
	if err == nil {
		t.Fatal("Update() error = nil, want server error")
	}
	if got.Language != "fr" || store.Preferences().Language != "fr" {
		t.Errorf("Language = %q / %q, want rolled back to fr", got.Language, store.Preferences().Language)
	}
}

func TestPreferencesStore_Reset(t *testing.T) {
	f := newFakeServer(t)
	c := newReadyClient(t, f, "alice")
	ctx := context.Background()
	store := c.Preferences()

	if _, err := store.Update(ctx, PreferencesPatch{Theme: ptr(ThemeDark), WeeklyDigest: ptr(false)}); err != nil {
		t.Fatal(err)
	}
	got, err := store.Reset(ctx)
	if err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if !reflect.DeepEqual(got, DefaultPreferences()) {
		t.Errorf("Reset() = %+v, want defaults", got)
	}

	res, err := store.Fetch(ctx)
	if err != nil || !reflect.DeepEqual(res.Preferences, DefaultPreferences()) {
		t.Errorf("Fetch() after Reset = %+v, %v", res.Preferences, err)
	}
}

func TestPreferencesStore_UpdateAfterLockedFetch(t *testing.T) {
	f := newFakeServer(t)
	ctx := context.Background()
	c := newReadyClient(t, f, "alice")
	store := c.Preferences()

	if _, err := store.Update(ctx, PreferencesPatch{Theme: ptr(ThemeDark), Language: ptr("fr")}); err != nil {
		t.Fatal(err)
	}
	if err := c.KeyManager().ClearEncryptionKey(ctx); err != nil {
		t.Fatal(err)
	}
	if res, err := store.Fetch(ctx); err != nil || !res.NeedsPassword {
		t.Fatalf("Fetch() while locked = %+v, %v", res, err)
	}
	stored, _ := f.storedPreferences("alice")
	patches := f.requestCount("PATCH /profile/encrypted-preferences")

	_, err := store.Update(ctx, PreferencesPatch{WeeklyDigest: ptr(false)})
	if !errors.Is(err, ErrEncryptionKeyUnavailable) {
		t.Errorf("Update() while locked error = %v, want ErrEncryptionKeyUnavailable", err)
	}
	if got := f.requestCount("PATCH /profile/encrypted-preferences"); got != patches {
		t.Errorf("Update() while locked sent %d PATCH requests", got-patches)
	}
	if after, _ := f.storedPreferences("alice"); string(after.Data) != string(stored.Data) {
		t.Error("stored preferences changed while locked")
	}

	if _, err := c.KeyManager().SetEncryptionKeyFromPassword(ctx, testPassword); err != nil {
		t.Fatal(err)
	}
	got, err := store.Update(ctx, PreferencesPatch{WeeklyDigest: ptr(false)})
	if err != nil {
		t.Fatalf("Update() after unlock error = %v", err)
	}
	if got.Theme != ThemeDark || got.Language != "fr" || got.WeeklyDigest {
		t.Errorf("Update() after unlock = %+v, want stored values kept", got)
	}

	res, err := store.Fetch(ctx)
	if err != nil {
		t.Fatal(err)
	}
	p := res.Preferences
	if p.Theme != ThemeDark || p.Language != "fr" || p.WeeklyDigest {
		t.Errorf("stored preferences = %+v, want dark/fr without weekly digest", p)
	}
}

func TestPreferencesStore_UpdateAfterDecryptFailure(t *testing.T) {
	f := newFakeServer(t)
	ctx := context.Background()
	c := newReadyClient(t, f, "alice")

	other, _ := crypto.DeriveKeyFromPassword("someone else", make([]byte, crypto.SaltSize))
	env, err := crypto.EncryptSymmetric(map[string]string{"theme": "dark"}, other)
	if err != nil {
		t.Fatal(err)
	}
	data, _ := json.Marshal(env)
	f.mu.Lock()
	f.prefs["alice"] = api.PreferencesResponse{Encrypted: true, Data: data}
	f.mu.Unlock()

	if res, err := c.Preferences().Fetch(ctx); err != nil || !res.DecryptFailed {
		t.Fatalf("Fetch() = %+v, %v, want DecryptFailed", res, err)
	}

	_, err = c.Preferences().Update(ctx, PreferencesPatch{Timezone: ptr("Asia/Tokyo")})
	if !errors.Is(err, ErrEncryptionKeyUnavailable) {
		t.Errorf("Update() error = %v, want ErrEncryptionKeyUnavailable", err)
	}
	if stored, _ := f.storedPreferences("alice"); string(stored.Data) != string(data) {
		t.Error("unreadable preferences were overwritten")
	}
}

func TestPreferencesStore_UpdateAfterFetchError(t *testing.T) {
	f := newFakeServer(t)
	ctx := context.Background()
	c := newReadyClient(t, f, "alice")
	store := c.Preferences()

	if _, err := store.Update(ctx, PreferencesPatch{Theme: ptr(ThemeDark)}); err != nil {
		t.Fatal(err)
	}
	f.mu.Lock()
	f.failGetPref = 1
	f.mu.Unlock()
	if _, err := store.Fetch(ctx); err == nil {
		t.Fatal("Fetch() error = nil, want server error")
	}

	// The next update reads the server copy again instead of saving the
	// defaults the failed fetch left behind.
	got, err := store.Update(ctx, PreferencesPatch{Language: ptr("es")})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if got.Theme != ThemeDark || got.Language != "es" {
		t.Errorf("Update() = %+v, want dark/es", got)
	}
}

func TestClient_SetupEncryption_RefusesUnreadablePreferences(t *testing.T) {
	f := newFakeServer(t)
	ctx := context.Background()
	first := newReadyClient(t, f, "alice")
	if _, err := first.Preferences().Update(ctx, PreferencesPatch{Theme: ptr(ThemeDark)}); err != nil {
		t.Fatal(err)
	}

	// A second device without the keys.
	second := newTestClient(t, f, "alice")
	setups := f.requestCount("POST /profile/setup-encryption")

	err := second.SetupEncryption(ctx, testPassword)
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) || !errors.Is(err, ErrEncryptionKeyUnavailable) {
		t.Fatalf("SetupEncryption() error = %v, want *ConfigurationError wrapping ErrEncryptionKeyUnavailable", err)
	}
	if got := f.requestCount("POST /profile/setup-encryption"); got != setups {
		t.Error("keys published over unreadable preferences")
	}
	if second.KeyManager().HasKeys() {
		t.Error("HasKeys() = true after refused setup")
	}

	res, err := first.Preferences().Fetch(ctx)
	if err != nil || res.Preferences.Theme != ThemeDark {
		t.Errorf("Fetch() on first device = %+v, %v", res, err)
	}
}
