package profiles

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"

	"golang.org/x/crypto/pbkdf2"
)

// KDF parameters shared by accounts and nickname registration. Channel
// passwords live in channelstore with a single SHA-256; the secrets here
// guard long-lived identities and get the slow treatment.
const (
	kdfIterations = 100000
	kdfSaltBytes  = 32
	kdfKeyBytes   = 32
)

func newSalt() ([]byte, error) {
	salt := make([]byte, kdfSaltBytes)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	return salt, nil
}

func hashPassword(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, kdfIterations, kdfKeyBytes, sha256.New)
}

// verifyHash re-derives password under the hex-encoded stored salt and
// compares in constant time. Malformed or empty stored fields verify false.
func verifyHash(password, hexHash, hexSalt string) bool {
	stored, err := hex.DecodeString(hexHash)
	if err != nil || len(stored) == 0 {
		return false
	}
	salt, err := hex.DecodeString(hexSalt)
	if err != nil || len(salt) == 0 {
		return false
	}
	return hmac.Equal(hashPassword(password, salt), stored)
}
