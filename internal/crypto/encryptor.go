package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
)

// passphraseSalt domain-separates keys derived by NewEncryptorFromPassphrase.
var passphraseSalt = []byte("nowplaying/refresh-token-store/v1")

// Encryptor seals refresh tokens at rest with AES-256-GCM. Each ciphertext is
// bound to an owner string (the user identity) through the GCM additional data,
// so a sealed token copied onto another user's row fails to open.
type Encryptor struct {
	gcm cipher.AEAD
}

// NewEncryptor creates an Encryptor from a base64-encoded 32-byte key.
func NewEncryptor(base64Key string) (*Encryptor, error) {
	key, err := base64.StdEncoding.DecodeString(base64Key)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 key: %w", err)
	}
	return newEncryptor(key)
}

// NewEncryptorFromPassphrase derives the AES key from a passphrase with argon2id.
func NewEncryptorFromPassphrase(passphrase string) (*Encryptor, error) {
	if passphrase == "" {
		return nil, errors.New("empty passphrase")
	}
	key := argon2.IDKey([]byte(passphrase), passphraseSalt, 1, 64*1024, 4, 32)
	return newEncryptor(key)
}

func newEncryptor(key []byte) (*Encryptor, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("key must be 32 bytes (AES-256), got %d", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}

	return &Encryptor{gcm: gcm}, nil
}

// Encrypt seals plaintext for owner and returns base64(nonce + sealed data).
func (e *Encryptor) Encrypt(plaintext, owner string) (string, error) {
	nonce := make([]byte, e.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}

	sealed := e.gcm.Seal(nonce, nonce, []byte(plaintext), []byte(owner))
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a ciphertext produced by Encrypt for the same owner.
func (e *Encryptor) Decrypt(ciphertext, owner string) (string, error) {
	if ciphertext == "" {
		return "", errors.New("empty ciphertext")
	}

	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("invalid base64: %w", err)
	}

	nonceSize := e.gcm.NonceSize()
	if len(raw) < nonceSize {
		return "", errors.New("ciphertext too short")
	}

	nonce, sealed := raw[:nonceSize], raw[nonceSize:]
	plaintext, err := e.gcm.Open(nil, nonce, sealed, []byte(owner))
	if err != nil {
		return "", fmt.Errorf("decryption failed: %w", err)
	}

	return string(plaintext), nil
}
