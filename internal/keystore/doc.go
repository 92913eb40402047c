// Package keystore provides the namespaced key/value storage that holds key
// material on the device.
//
// Two scopes exist. The durable store survives restarts and holds the user's
// key pair, salt, key metadata, the device ID and cached peer public keys.
// The session store lives only as long as the process (or browser tab, in the
// original application) and holds the password-derived session encryption key.
//
// [Memory] serves as the session store and as a test double. [SQLite] is the
// durable store, backed by modernc.org/sqlite so no cgo toolchain is needed.
//
// Stores are shared by every KeyManager instance on the device. Writes are
// last-writer-wins; there is no cross-instance locking.
package keystore
