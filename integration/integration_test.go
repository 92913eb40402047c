//go:build integration

package integration

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/joho/godotenv"

	moodmash "github.com/moodmash/client-go"
	"github.com/moodmash/client-go/internal/keystore"
)

// Two accounts on a MoodMash deployment. Their passwords are only used for
// key derivation on this machine.
var (
	baseURL  string
	accountA account
	accountB account
)

type account struct {
	userID   string
	token    string
	password string
}

func TestMain(m *testing.M) {
	// Load .env file if it exists (won't error if missing)
	if err := godotenv.Load("../.env"); err != nil {
		os.Stderr.WriteString("Note: .env file not found at project root\n")
	}

	baseURL = os.Getenv("MOODMASH_URL")
	accountA = account{os.Getenv("MOODMASH_USER_A"), os.Getenv("MOODMASH_TOKEN_A"), os.Getenv("MOODMASH_PASSWORD_A")}
	accountB = account{os.Getenv("MOODMASH_USER_B"), os.Getenv("MOODMASH_TOKEN_B"), os.Getenv("MOODMASH_PASSWORD_B")}

	if baseURL == "" {
		os.Stderr.WriteString("Skipping integration tests: MOODMASH_URL not set\n")
		os.Exit(0)
	}
	for _, a := range []account{accountA, accountB} {
		if a.userID == "" || a.token == "" || a.password == "" {
			os.Stderr.WriteString("Skipping integration tests: MOODMASH_{USER,TOKEN,PASSWORD}_{A,B} not set\n")
			os.Exit(0)
		}
	}

	os.Stderr.WriteString("Running integration tests...\n")
	os.Stderr.WriteString("API URL: " + baseURL + "\n")

	os.Exit(m.Run())
}

func newClient(t *testing.T, a account) *moodmash.Client {
	t.Helper()

	client, err := moodmash.New(a.userID, a.token,
		moodmash.WithBaseURL(baseURL),
		moodmash.WithTimeout(30*time.Second),
		moodmash.WithKeyStore(keystore.NewMemory()),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() {
		client.Close()
	})
	return client
}

func TestIntegration_SetupAndMessage(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	a := newClient(t, accountA)
	b := newClient(t, accountB)
	if err := a.SetupEncryption(ctx, accountA.password); err != nil {
		t.Fatalf("SetupEncryption(A) error = %v", err)
	}
	if err := b.SetupEncryption(ctx, accountB.password); err != nil {
		t.Fatalf("SetupEncryption(B) error = %v", err)
	}

	fpA, err := b.PeerFingerprint(ctx, accountA.userID)
	if err != nil {
		t.Fatalf("PeerFingerprint() error = %v", err)
	}
	if fpA != a.KeyManager().Fingerprint() {
		t.Errorf("server returned a different key for A: %s != %s", fpA, a.KeyManager().Fingerprint())
	}

	conv, err := a.Conversation(accountB.userID)
	if err != nil {
		t.Fatal(err)
	}
	if r, err := conv.CheckReadiness(ctx); err != nil || r != moodmash.ReadinessReady {
		t.Fatalf("CheckReadiness() = %s, %v", r, err)
	}
	text := "integration " + time.Now().Format(time.RFC3339Nano)
	if _, err := conv.Send(ctx, text, nil); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	back, err := b.Conversation(accountA.userID)
	if err != nil {
		t.Fatal(err)
	}
	msgs, err := back.Fetch(ctx)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	found := false
	for _, m := range msgs {
		if m.Content == text && m.Status == moodmash.MessageStatusDelivered {
			found = true
		}
	}
	if !found {
		t.Errorf("message %q not received by B (%d messages)", text, len(msgs))
	}
}

func TestIntegration_EncryptedPreferences(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	c := newClient(t, accountA)
	if err := c.SetupEncryption(ctx, accountA.password); err != nil {
		t.Fatalf("SetupEncryption() error = %v", err)
	}

	tz := "Europe/Lisbon"
	if _, err := c.Preferences().Update(ctx, moodmash.PreferencesPatch{Timezone: &tz}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	if err := c.KeyManager().ClearEncryptionKey(ctx); err != nil {
		t.Fatal(err)
	}
	res, err := c.Preferences().Fetch(ctx)
	if err != nil || !res.NeedsPassword {
		t.Fatalf("Fetch() while locked = %+v, %v", res, err)
	}

	if _, err := c.KeyManager().SetEncryptionKeyFromPassword(ctx, accountA.password); err != nil {
		t.Fatal(err)
	}
	res, err = c.Preferences().Fetch(ctx)
	if err != nil || res.Preferences.Timezone != tz {
		t.Errorf("Fetch() after unlock = %+v, %v", res, err)
	}
}
