package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/zalando/go-keyring"
)

// KeyringCipher encrypts token values with a master key held in the OS-native
// credential store (macOS Keychain, Windows Credential Manager, Linux Secret Service).
// The key is generated on first use and cached for the lifetime of the cipher.
type KeyringCipher struct {
	service string
	user    string

	mu  sync.Mutex
	key []byte
}

// Compile-time check to ensure KeyringCipher implements Cipher
var _ Cipher = (*KeyringCipher)(nil)

// NewKeyringCipher creates a KeyringCipher using the given service and user identifiers.
func NewKeyringCipher(service, user string) (*KeyringCipher, error) {
	if service == "" {
		return nil, fmt.Errorf("service cannot be empty")
	}
	if user == "" {
		return nil, fmt.Errorf("user cannot be empty")
	}

	return &KeyringCipher{
		service: service,
		user:    user,
	}, nil
}

// Available reports whether the master key could be read from or created in the keyring.
func (k *KeyringCipher) Available(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}

	if _, err := k.masterKey(); err != nil {
		slog.DebugContext(ctx, "keyring unavailable", "service", k.service, "error", err)
		return false
	}
	return true
}

// Encrypt seals plaintext with the keyring master key.
func (k *KeyringCipher) Encrypt(ctx context.Context, plaintext string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key, err := k.masterKey()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCipherUnavailable, err)
	}
	return seal(key, plaintext)
}

// Decrypt opens a payload sealed by Encrypt.
func (k *KeyringCipher) Decrypt(ctx context.Context, ciphertext []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	key, err := k.masterKey()
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrCipherUnavailable, err)
	}
	return open(key, ciphertext)
}

// masterKey returns the cached key, loading it from the keyring or creating it.
// Failures are not cached so a keyring that comes up later is picked up.
func (k *KeyringCipher) masterKey() ([]byte, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.key != nil {
		return k.key, nil
	}

	encoded, err := keyring.Get(k.service, k.user)
	switch {
	case errors.Is(err, keyring.ErrNotFound):
		encoded, err = NewMasterKey()
		if err != nil {
			return nil, err
		}
		if err := keyring.Set(k.service, k.user, encoded); err != nil {
			return nil, fmt.Errorf("storing master key: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("reading master key: %w", err)
	}

	key, err := parseMasterKey(encoded)
	if err != nil {
		return nil, err
	}
	k.key = key
	return key, nil
}
