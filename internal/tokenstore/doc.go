// Package tokenstore provides encrypted, expiring storage for named secrets.
//
// A Store keeps short-lived credentials (access and refresh tokens for the
// remote code-generation API) in memory and mirrors every mutation to a single
// JSON file. Each entry carries an absolute expiry; expired entries are never
// returned and are evicted lazily on access and periodically by a sweep loop.
//
// Values are protected at rest by a Cipher:
//   - Keyring: master key held in the OS credential store (macOS Keychain,
//     Windows Credential Manager, Linux Secret Service)
//   - Env: master key supplied through an environment variable (headless hosts)
//   - Unavailable: no encryption
//
// When the cipher reports itself unavailable the Store falls back to plain
// base64 encoding. That fallback is NOT secure; entries written that way are
// tagged EncodingEncoded in the file so they can be told apart later.
package tokenstore
