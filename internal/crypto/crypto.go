package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/org/passkeeper/internal/shared"
	"github.com/org/passkeeper/pkg/models"
	"golang.org/x/crypto/hkdf"
)

const (
	keySize          = 32
	cipherKeyContext = "passkeeper-secret-cipher-v1"
)

// GenerateKey returns a new random 32-byte key, hex-encoded, suitable for the
// encryption_key setting.
func GenerateKey() (string, error) {
	key := make([]byte, keySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", fmt.Errorf("generating key: %w", err)
	}
	return hex.EncodeToString(key), nil
}

// DeriveKey stretches secret material into a 32-byte key using HKDF-SHA256.
func DeriveKey(secret []byte, context string) ([]byte, error) {
	key := make([]byte, keySize)
	r := hkdf.New(sha256.New, secret, nil, []byte(context))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("deriving key: %w", err)
	}
	return key, nil
}

// Cipher encrypts and decrypts short strings with AES-256-GCM under a single
// process-wide key. It is safe for concurrent use.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher builds a Cipher from the configured key. A 64-character hex
// string is used as the raw key; any other value of at least 32 bytes is
// treated as a passphrase and run through HKDF.
func NewCipher(key string) (*Cipher, error) {
	raw, err := parseKey(key)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(raw)
	if err != nil {
		return nil, fmt.Errorf("creating AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return &Cipher{aead: gcm}, nil
}

func parseKey(key string) ([]byte, error) {
	if key == "" {
		return nil, shared.ConfigurationError("encryption key is not configured")
	}
	if len(key) == hex.EncodedLen(keySize) {
		if raw, err := hex.DecodeString(key); err == nil {
			return raw, nil
		}
	}
	if len(key) < keySize {
		return nil, shared.ConfigurationError("encryption key must be 64 hex characters or a passphrase of at least 32 bytes")
	}
	return DeriveKey([]byte(key), cipherKeyContext)
}

// Encrypt seals plaintext under a freshly generated nonce.
func (c *Cipher) Encrypt(plaintext string) (models.Bundle, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return models.Bundle{}, fmt.Errorf("generating nonce: %w", err)
	}
	sealed := c.aead.Seal(nil, nonce, []byte(plaintext), nil)
	split := len(sealed) - c.aead.Overhead()
	return models.Bundle{
		Ciphertext: hex.EncodeToString(sealed[:split]),
		IV:         hex.EncodeToString(nonce),
		AuthTag:    hex.EncodeToString(sealed[split:]),
	}, nil
}

// Decrypt opens a bundle produced by Encrypt. Any malformed field, tag
// mismatch or key mismatch yields a decryption error and no plaintext.
func (c *Cipher) Decrypt(b models.Bundle) (string, error) {
	if !b.Complete() {
		return "", shared.DecryptionError(errors.New("incomplete bundle"))
	}
	ciphertext, err := hex.DecodeString(b.Ciphertext)
	if err != nil {
		return "", shared.DecryptionError(fmt.Errorf("decoding ciphertext: %w", err))
	}
	nonce, err := hex.DecodeString(b.IV)
	if err != nil || len(nonce) != c.aead.NonceSize() {
		return "", shared.DecryptionError(errors.New("malformed iv"))
	}
	tag, err := hex.DecodeString(b.AuthTag)
	if err != nil || len(tag) != c.aead.Overhead() {
		return "", shared.DecryptionError(errors.New("malformed auth tag"))
	}

	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)
	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", shared.DecryptionError(err)
	}
	return string(plaintext), nil
}
