// Package crypto provides authenticated encryption for stored upstream
// credentials (refresh_credentials.password_ciphertext and
// totp_secret_ciphertext), so plaintext secrets never reach disk.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/crypto/pbkdf2"
)

const (
	kdfIterations = 100_000
	keyLen        = 32 // AES-256
)

// kdfSalt is fixed rather than per-secret: the process secret is the only
// variable input, and a fixed salt keeps key derivation deterministic across
// restarts without needing a second piece of stored state.
var kdfSalt = []byte("unmutual-credential-kdf-salt-v1")

// fallbackSecret is used when no process secret is configured. Using it
// means stored ciphertexts are only as safe as this source file.
const fallbackSecret = "unmutual-insecure-default-secret-change-me"

// Box encrypts and decrypts credential secrets with a key derived once from
// a process secret via PBKDF2-HMAC-SHA256.
type Box struct {
	key []byte
}

// NewBox derives the encryption key from secret. If secret is empty, it
// falls back to a hardcoded key and logs a loud warning once — intended as
// a safety net for local development, never for production use.
func NewBox(secret string, logger *slog.Logger) *Box {
	if secret == "" {
		logger.Warn("credential encryption secret not configured, falling back to insecure default key; set CREDENTIAL_ENCRYPTION_SECRET before handling real credentials")
		secret = fallbackSecret
	}
	key := pbkdf2.Key([]byte(secret), kdfSalt, kdfIterations, keyLen, sha256.New)
	return &Box{key: key}
}

// Encrypt seals plaintext with AES-256-GCM and returns a base64-encoded
// nonce||ciphertext string suitable for a TEXT column.
func (b *Box) Encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(b.key)
	if err != nil {
		return "", fmt.Errorf("constructing cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("constructing gcm: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt, returning an error if the ciphertext is
// malformed or the authentication tag doesn't verify.
func (b *Box) Decrypt(encoded string) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decoding ciphertext: %w", err)
	}

	block, err := aes.NewCipher(b.key)
	if err != nil {
		return "", fmt.Errorf("constructing cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("constructing gcm: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(sealed) < nonceSize {
		return "", errors.New("ciphertext shorter than nonce")
	}
	nonce, body := sealed[:nonceSize], sealed[nonceSize:]

	plaintext, err := gcm.Open(nil, nonce, body, nil)
	if err != nil {
		return "", fmt.Errorf("decrypting: %w", err)
	}
	return string(plaintext), nil
}
