package moodmash

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/moodmash/client-go/internal/api"
	"github.com/moodmash/client-go/internal/crypto"
	"github.com/moodmash/client-go/internal/keystore"
)

const testPassword = "correct horse battery staple"

// fakeServer is an in-memory MoodMash API. Callers are identified by their
// bearer token, which is "tok-" followed by the user ID.
type fakeServer struct {
	t   *testing.T
	srv *httptest.Server

	mu          sync.Mutex
	publicKeys  map[string]string
	salts       map[string]string
	prefs       map[string]api.PreferencesResponse
	messages    []api.EncryptedMessage
	nextID      int
	requests    map[string]int
	failSend    int
	failSetup   int
	failPrefs   int
	failGetPref int
	lastPatch   map[string]any
	keyLookupFn func(userID string) (int, string)
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	f := &fakeServer{
		t:          t,
		publicKeys: make(map[string]string),
		salts:      make(map[string]string),
		prefs:      make(map[string]api.PreferencesResponse),
		requests:   make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /users/{id}/public-key", f.getPublicKey)
	mux.HandleFunc("POST /profile/setup-encryption", f.setupEncryption)
	mux.HandleFunc("GET /profile/encrypted-preferences", f.getPreferences)
	mux.HandleFunc("PATCH /profile/encrypted-preferences", f.patchEncryptedPreferences)
	mux.HandleFunc("PATCH /profile/preferences", f.patchPlainPreferences)
	mux.HandleFunc("GET /api/messages/secure", f.getMessages)
	mux.HandleFunc("POST /api/messages/secure", f.postMessage)

	f.srv = httptest.NewServer(f.count(mux))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeServer) count(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.requests[r.Method+" "+r.URL.Path]++
		f.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (f *fakeServer) caller(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer tok-")
	if !ok || id == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return "", false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// consume decrements a failure counter and reports whether to fail.
func consume(n *int) bool {
	if *n > 0 {
		*n--
		return true
	}
	return false
}

func (f *fakeServer) getPublicKey(w http.ResponseWriter, r *http.Request) {
	if _, ok := f.caller(w, r); !ok {
		return
	}
	id := r.PathValue("id")

	f.mu.Lock()
	fn := f.keyLookupFn
	key, ok := f.publicKeys[id]
	f.mu.Unlock()

	if fn != nil {
		if status, msg := fn(id); status != 0 {
			writeError(w, status, msg)
			return
		}
	}
	if !ok {
		writeError(w, http.StatusNotFound, "user has no public key")
		return
	}
	writeJSON(w, http.StatusOK, api.PublicKeyResponse{PublicKey: key})
}

func (f *fakeServer) setupEncryption(w http.ResponseWriter, r *http.Request) {
	uid, ok := f.caller(w, r)
	if !ok {
		return
	}
	var req api.SetupEncryptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if consume(&f.failSetup) {
		writeError(w, http.StatusInternalServerError, "setup failed")
		return
	}
	f.publicKeys[uid] = req.PublicKey
	f.salts[uid] = req.Salt
	data, _ := json.Marshal(req.EncryptedPreferences)
	f.prefs[uid] = api.PreferencesResponse{Encrypted: true, Data: data}
	w.WriteHeader(http.StatusNoContent)
}

func (f *fakeServer) getPreferences(w http.ResponseWriter, r *http.Request) {
	uid, ok := f.caller(w, r)
	if !ok {
		return
	}
	f.mu.Lock()
	p, found := f.prefs[uid]
	fail := consume(&f.failGetPref)
	f.mu.Unlock()
	if fail {
		writeError(w, http.StatusInternalServerError, "database unavailable")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "no preferences")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (f *fakeServer) patchEncryptedPreferences(w http.ResponseWriter, r *http.Request) {
	uid, ok := f.caller(w, r)
	if !ok {
		return
	}
	var req api.UpdateEncryptedPreferencesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if consume(&f.failPrefs) {
		writeError(w, http.StatusInternalServerError, "save failed")
		return
	}
	data, _ := json.Marshal(req.EncryptedData)
	f.prefs[uid] = api.PreferencesResponse{Encrypted: true, Data: data}
	w.WriteHeader(http.StatusNoContent)
}

func (f *fakeServer) patchPlainPreferences(w http.ResponseWriter, r *http.Request) {
	uid, ok := f.caller(w, r)
	if !ok {
		return
	}
	var patch map[string]any
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if consume(&f.failPrefs) {
		writeError(w, http.StatusInternalServerError, "save failed")
		return
	}
	f.lastPatch = patch
	current := map[string]any{}
	if p, found := f.prefs[uid]; found && !p.Encrypted {
		json.Unmarshal(p.Data, &current)
	}
	for k, v := range patch {
		current[k] = v
	}
	data, _ := json.Marshal(current)
	f.prefs[uid] = api.PreferencesResponse{Data: data}
	w.WriteHeader(http.StatusNoContent)
}

func (f *fakeServer) getMessages(w http.ResponseWriter, r *http.Request) {
	uid, ok := f.caller(w, r)
	if !ok {
		return
	}
	f.mu.Lock()
	out := []api.EncryptedMessage{}
	for _, m := range f.messages {
		if m.Sender == uid || m.Recipient == uid {
			out = append(out, m)
		}
	}
	f.mu.Unlock()
	writeJSON(w, http.StatusOK, api.MessagesResponse{Messages: out})
}

func (f *fakeServer) postMessage(w http.ResponseWriter, r *http.Request) {
	uid, ok := f.caller(w, r)
	if !ok {
		return
	}
	var req api.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.EncryptedMessage == nil {
		writeError(w, http.StatusBadRequest, "bad message")
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if consume(&f.failSend) {
		writeError(w, http.StatusServiceUnavailable, "try later")
		return
	}
	f.nextID++
	m := *req.EncryptedMessage
	m.ID = fmt.Sprintf("msg-%d", f.nextID)
	m.Sender = uid
	m.Recipient = req.Recipient
	f.messages = append(f.messages, m)
	writeJSON(w, http.StatusCreated, map[string]string{"id": m.ID})
}

func (f *fakeServer) requestCount(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[key]
}

func (f *fakeServer) setPublicKey(userID string, key []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.publicKeys[userID] = crypto.EncodeBase64(key)
}

func (f *fakeServer) addMessage(m api.EncryptedMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	if m.ID == "" {
		m.ID = fmt.Sprintf("msg-%d", f.nextID)
	}
	f.messages = append(f.messages, m)
}

func (f *fakeServer) storedPreferences(userID string) (api.PreferencesResponse, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.prefs[userID]
	return p, ok
}

// newTestClient creates a signed-in client for userID against f with its
// own key store.
func newTestClient(t *testing.T, f *fakeServer, userID string, opts ...Option) *Client {
	t.Helper()
	base := []Option{
		WithBaseURL(f.srv.URL),
		WithRetries(0),
		WithTimeout(5 * time.Second),
		WithKeyStore(keystore.NewMemory()),
		WithPollingConfig(PollingConfig{
			InitialInterval: 20 * time.Millisecond,
			MaxBackoff:      50 * time.Millisecond,
			JitterFactor:    -1,
		}),
	}
	c, err := New(userID, "tok-"+userID, append(base, opts...)...)
	if err != nil {
		t.Fatalf("New(%q) error = %v", userID, err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

// newReadyClient creates a client that has set up encryption.
func newReadyClient(t *testing.T, f *fakeServer, userID string, opts ...Option) *Client {
	t.Helper()
	c := newTestClient(t, f, userID, opts...)
	if err := c.SetupEncryption(context.Background(), testPassword); err != nil {
		t.Fatalf("SetupEncryption(%q) error = %v", userID, err)
	}
	return c
}
