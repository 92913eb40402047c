// Package moodmash provides the client-side end-to-end encryption layer of
// MoodMash: per-user key management, encrypted direct messages and
// encrypted user preferences.
//
// Keys are X25519 box key pairs derived from the user's password with
// PBKDF2-SHA256. Messages are sealed with NaCl box, preferences with NaCl
// secretbox under a session key derived from the same password. The server
// only ever sees public keys, salts and ciphertext.
//
// Basic usage:
//
//	client, err := moodmash.New("user-123", sessionToken,
//	    moodmash.WithKeyStore(store))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// First run on this account
//	if !client.KeyManager().HasKeys() {
//	    if err := client.SetupEncryption(ctx, password); err != nil {
//	        log.Fatal(err)
//	    }
//	}
//
//	conv, err := client.Conversation("user-456")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if r, _ := conv.CheckReadiness(ctx); r == moodmash.ReadinessNeedsPassword {
//	    conv.Unlock(ctx, password)
//	}
//
//	msg, err := conv.Send(ctx, "hello", nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println("sent:", msg.ID)
package moodmash
