// Package crypto seals the Slack credential's tokens before they reach disk or
// a database. Tokens are encrypted with AES-256-GCM; each record stores an
// encryption version so plaintext rows written before a key was configured
// remain readable.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

const (
	// VersionPlaintext marks tokens stored as-is.
	VersionPlaintext = 0
	// VersionAESGCM marks tokens stored as base64(nonce || ciphertext || tag).
	VersionAESGCM = 1
)

// ErrKeyRequired is returned when reading sealed tokens without a key.
var ErrKeyRequired = errors.New("token is encrypted but ENCRYPTION_KEY is not configured")

// Encryptor is an authenticated cipher.
type Encryptor interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// AESEncryptor implements Encryptor with AES-256-GCM.
type AESEncryptor struct {
	aead cipher.AEAD
}

// NewAESEncryptor builds an encryptor from a base64 encoded 32 byte key
// (for example `openssl rand -base64 32`).
func NewAESEncryptor(base64Key string) (*AESEncryptor, error) {
	if base64Key == "" {
		return nil, fmt.Errorf("encryption key is empty")
	}
	key, err := base64.StdEncoding.DecodeString(base64Key)
	if err != nil {
		return nil, fmt.Errorf("invalid encryption key: base64 decode failed: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("invalid encryption key: must be 32 bytes (256 bits), got %d bytes", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return &AESEncryptor{aead: aead}, nil
}

// Encrypt returns nonce || ciphertext || tag with a fresh random nonce.
func (e *AESEncryptor) Encrypt(plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("plaintext is empty")
	}
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return e.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt reverses Encrypt, failing when the data was tampered with or sealed
// under another key.
func (e *AESEncryptor) Decrypt(ciphertext []byte) ([]byte, error) {
	n := e.aead.NonceSize()
	if len(ciphertext) < n {
		return nil, fmt.Errorf("ciphertext too short: expected at least %d bytes, got %d", n, len(ciphertext))
	}
	plaintext, err := e.aead.Open(nil, ciphertext[:n], ciphertext[n:], nil)
	if err != nil {
		return nil, fmt.Errorf("decryption failed: authentication or integrity check failed")
	}
	return plaintext, nil
}

// EncryptString encrypts s and base64 encodes the result for text columns.
// The empty string stays empty.
func EncryptString(enc Encryptor, s string) (string, error) {
	if s == "" {
		return "", nil
	}
	ct, err := enc.Encrypt([]byte(s))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(ct), nil
}

// DecryptString reverses EncryptString.
func DecryptString(enc Encryptor, s string) (string, error) {
	if s == "" {
		return "", nil
	}
	ct, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return "", fmt.Errorf("base64 decode failed: %w", err)
	}
	pt, err := enc.Decrypt(ct)
	if err != nil {
		return "", err
	}
	return string(pt), nil
}

// SealTokens prepares an access/refresh pair for storage. With a nil enc the
// tokens are returned unchanged under VersionPlaintext.
func SealTokens(enc Encryptor, access, refresh string) (string, string, int, error) {
	if enc == nil {
		return access, refresh, VersionPlaintext, nil
	}
	a, err := EncryptString(enc, access)
	if err != nil {
		return "", "", 0, fmt.Errorf("encrypt access token: %w", err)
	}
	r, err := EncryptString(enc, refresh)
	if err != nil {
		return "", "", 0, fmt.Errorf("encrypt refresh token: %w", err)
	}
	return a, r, VersionAESGCM, nil
}

// OpenTokens reverses SealTokens for a record stored under version.
func OpenTokens(enc Encryptor, access, refresh string, version int) (string, string, error) {
	switch version {
	case VersionPlaintext:
		return access, refresh, nil
	case VersionAESGCM:
		if enc == nil {
			return "", "", ErrKeyRequired
		}
		a, err := DecryptString(enc, access)
		if err != nil {
			return "", "", fmt.Errorf("decrypt access token: %w", err)
		}
		r, err := DecryptString(enc, refresh)
		if err != nil {
			return "", "", fmt.Errorf("decrypt refresh token: %w", err)
		}
		return a, r, nil
	default:
		return "", "", fmt.Errorf("unknown token encryption version %d", version)
	}
}
