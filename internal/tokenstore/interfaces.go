package tokenstore

import "context"

// Backend loads and saves the full token map.
type Backend interface {
	// Load returns the persisted entries. Returns an error wrapping
	// fs.ErrNotExist if nothing has been persisted yet.
	Load(ctx context.Context) (map[string]Entry, error)

	// Save replaces the persisted entries with the given map.
	Save(ctx context.Context, entries map[string]Entry) error
}

// Cipher protects token values at rest.
//
// Implementations may be unavailable on some hosts (no keyring daemon, key
// not configured). Callers must check Available before Encrypt.
type Cipher interface {
	// Available reports whether Encrypt and Decrypt can be used.
	Available(ctx context.Context) bool

	// Encrypt seals plaintext. The result is opaque and safe to base64-encode.
	Encrypt(ctx context.Context, plaintext string) ([]byte, error)

	// Decrypt opens a payload previously returned by Encrypt.
	Decrypt(ctx context.Context, ciphertext []byte) (string, error)
}
