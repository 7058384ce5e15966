package tokenstore

import (
	"context"
	"fmt"
	"os"
)

// EnvCipher encrypts token values with a master key read from an environment
// variable (base64, KeySize bytes). Suitable for hosts without a keyring where
// the key is provisioned by external secret management.
type EnvCipher struct {
	envKey string
}

// Compile-time check to ensure EnvCipher implements Cipher
var _ Cipher = (*EnvCipher)(nil)

// NewEnvCipher creates an EnvCipher for the given environment variable.
// The variable is read on every call, so it may be set after construction.
func NewEnvCipher(envKey string) (*EnvCipher, error) {
	if envKey == "" {
		return nil, fmt.Errorf("environment key cannot be empty")
	}

	return &EnvCipher{
		envKey: envKey,
	}, nil
}

// Available reports whether the variable holds a well-formed key.
func (e *EnvCipher) Available(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}

	_, err := e.masterKey()
	return err == nil
}

// Encrypt seals plaintext with the environment master key.
func (e *EnvCipher) Encrypt(ctx context.Context, plaintext string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key, err := e.masterKey()
	if err != nil {
		return nil, err
	}
	return seal(key, plaintext)
}

// Decrypt opens a payload sealed by Encrypt.
func (e *EnvCipher) Decrypt(ctx context.Context, ciphertext []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	key, err := e.masterKey()
	if err != nil {
		return "", err
	}
	return open(key, ciphertext)
}

func (e *EnvCipher) masterKey() ([]byte, error) {
	encoded, exists := os.LookupEnv(e.envKey)
	if !exists || encoded == "" {
		return nil, fmt.Errorf("%w: environment variable %s not set", ErrCipherUnavailable, e.envKey)
	}

	key, err := parseMasterKey(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: environment variable %s: %w", ErrCipherUnavailable, e.envKey, err)
	}
	return key, nil
}
