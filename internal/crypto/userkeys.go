package crypto

import "fmt"

// UserKeys is the persisted form of a user's key pair together with the salt
// needed to re-derive it from the password.
type UserKeys struct {
	PublicKey []byte `json:"publicKey"`
	SecretKey []byte `json:"secretKey"`
	Salt      []byte `json:"salt"`
}

// GenerateUserKeys creates a fresh salt and derives the user's key pair
// from password and that salt.
func GenerateUserKeys(password string) (*UserKeys, error) {
	salt, err := GenerateSalt()
	if err != nil {
		return nil, err
	}
	return DeriveUserKeys(password, salt)
}

// DeriveUserKeys deterministically derives a key pair from password and salt.
// The PBKDF2 output is used directly as the box secret key.
func DeriveUserKeys(password string, salt []byte) (*UserKeys, error) {
	seed, err := DeriveKeyFromPassword(password, salt)
	if err != nil {
		return nil, err
	}

	kp, err := KeyPairFromSecretKey(seed)
	if err != nil {
		return nil, fmt.Errorf("failed to build key pair: %w", err)
	}

	s := make([]byte, len(salt))
	copy(s, salt)
	return &UserKeys{
		PublicKey: kp.PublicKey,
		SecretKey: kp.SecretKey,
		Salt:      s,
	}, nil
}
