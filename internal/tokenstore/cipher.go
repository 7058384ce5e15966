package tokenstore

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// KeySize is the length in bytes of a master key.
const KeySize = chacha20poly1305.KeySize

// ErrCipherUnavailable is returned by Encrypt and Decrypt when no key can be obtained.
var ErrCipherUnavailable = errors.New("encryption unavailable")

// UnavailableCipher never encrypts. Stores built with it always use the
// insecure encoded fallback.
type UnavailableCipher struct{}

// Compile-time check to ensure UnavailableCipher implements Cipher
var _ Cipher = UnavailableCipher{}

// Available always reports false.
func (UnavailableCipher) Available(context.Context) bool { return false }

// Encrypt always fails with ErrCipherUnavailable.
func (UnavailableCipher) Encrypt(context.Context, string) ([]byte, error) {
	return nil, ErrCipherUnavailable
}

// Decrypt always fails with ErrCipherUnavailable.
func (UnavailableCipher) Decrypt(context.Context, []byte) (string, error) {
	return "", ErrCipherUnavailable
}

// NewMasterKey returns a random key suitable for KeyringCipher or EnvCipher,
// encoded as standard base64.
func NewMasterKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("generating master key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

func parseMasterKey(encoded string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decoding master key: %w", err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("master key must be %d bytes, got %d", KeySize, len(key))
	}
	return key, nil
}

// seal encrypts plaintext with XChaCha20-Poly1305. Output layout is nonce || ciphertext.
func seal(key []byte, plaintext string) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}

	return aead.Seal(nonce, nonce, []byte(plaintext), nil), nil
}

func open(key []byte, ciphertext []byte) (string, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", fmt.Errorf("creating cipher: %w", err)
	}

	if len(ciphertext) < aead.NonceSize() {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, sealed := ciphertext[:aead.NonceSize()], ciphertext[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("decrypting payload: %w", err)
	}
	return string(plaintext), nil
}
