// Package cryptoutil encrypts integration secrets at rest. Tokens are
// base64(nonce || AES-256-GCM ciphertext) with the key derived from a
// passphrase, so values written by other NextScript services decrypt here.
package cryptoutil

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	iterations = 100000
	keyLength  = 32
	nonceSize  = 12
)

// salt is fixed so every service derives the same key from ENCRYPTION_KEY
var salt = []byte("nextscript-oscar-emr-salt-v1")

// ErrInvalidToken is returned for values that are not well formed tokens or
// fail authentication
var ErrInvalidToken = errors.New("invalid encrypted value")

// Cipher encrypts and decrypts string values
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher derives the key from passphrase
func NewCipher(passphrase string) (*Cipher, error) {
	if passphrase == "" {
		return nil, errors.New("encryption passphrase is empty")
	}

	key := pbkdf2.Key([]byte(passphrase), salt, iterations, keyLength, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create block cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// Encrypt returns a token for plaintext. The empty string stays empty.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	nonce := make([]byte, nonceSize, nonceSize+len(plaintext)+c.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. The empty string stays empty.
func (c *Cipher) Decrypt(token string) (string, error) {
	if token == "" {
		return "", nil
	}

	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if len(raw) < nonceSize+c.aead.Overhead() {
		return "", fmt.Errorf("%w: too short", ErrInvalidToken)
	}

	plaintext, err := c.aead.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	return string(plaintext), nil
}

// DecryptOrPlain returns value unchanged when it is not a valid token.
// Rows stored before encryption was enabled hold plaintext.
func (c *Cipher) DecryptOrPlain(value string) string {
	plaintext, err := c.Decrypt(value)
	if err != nil {
		return value
	}
	return plaintext
}
