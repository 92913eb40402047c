package crypto

import (
	"encoding/hex"
	"strings"

	"github.com/zeebo/blake3"
)

// fingerprintDomainKey is the BLAKE3 key for public-key fingerprints.
// ASCII "moodmash.key.fingerprint", zero-padded to 32 bytes.
var fingerprintDomainKey = [32]byte{
	'm', 'o', 'o', 'd', 'm', 'a', 's', 'h', '.', 'k', 'e', 'y', '.',
	'f', 'i', 'n', 'g', 'e', 'r', 'p', 'r', 'i', 'n', 't',
}

// fingerprintBytes is the number of digest bytes shown to users.
const fingerprintBytes = 16

// Fingerprint returns a short, human-comparable digest of a public key,
// formatted as eight space-separated groups of four hex digits. Two users
// comparing fingerprints out of band can detect a substituted key.
func Fingerprint(publicKey []byte) string {
	hasher, err := blake3.NewKeyed(fingerprintDomainKey[:])
	if err != nil {
		panic("crypto: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(publicKey)
	digest := hex.EncodeToString(hasher.Sum(nil)[:fingerprintBytes])

	groups := make([]string, 0, len(digest)/4)
	for i := 0; i < len(digest); i += 4 {
		groups = append(groups, digest[i:i+4])
	}
	return strings.Join(groups, " ")
}
