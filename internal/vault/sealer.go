package vault

import (
	"crypto/cipher"
	"encoding/base64"
	"fmt"
)

// Sealer encrypts short secrets such as the login of a shared subscription.
// The key is derived once; each value gets its own random nonce.
type Sealer struct {
	gcm cipher.AEAD
}

// NewSealer derives the vault key from passphrase and salt.
func NewSealer(passphrase string, salt []byte) (*Sealer, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("vault passphrase is empty")
	}
	if len(salt) != saltSize {
		return nil, fmt.Errorf("vault salt must be %d bytes, got %d", saltSize, len(salt))
	}
	gcm, err := newGCM(DeriveKey(passphrase, salt))
	if err != nil {
		return nil, err
	}
	return &Sealer{gcm: gcm}, nil
}

// Seal encrypts plaintext and returns it base64 encoded.
func (s *Sealer) Seal(plaintext string) (string, error) {
	sealed, err := seal(s.gcm, []byte(plaintext))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal.
func (s *Sealer) Open(sealed string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("decode sealed value: %w", err)
	}
	plaintext, err := open(s.gcm, data)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
