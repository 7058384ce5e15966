package tokenstore

import (
	"encoding/base64"
	"fmt"
	"time"
)

// Encoding tags how an entry's payload was produced.
type Encoding string

const (
	// EncodingEncrypted marks payloads sealed by a Cipher.
	EncodingEncrypted Encoding = "encrypted"
	// EncodingEncoded marks payloads that are only base64 of the plaintext.
	EncodingEncoded Encoding = "encoded"
)

// Entry is the persisted form of a stored token.
type Entry struct {
	// EncryptedData is base64 of the ciphertext, or of the plaintext when
	// Encoding is EncodingEncoded.
	EncryptedData string `json:"encryptedData"`
	// ExpiresAt is the absolute expiry in Unix milliseconds.
	ExpiresAt int64 `json:"expiresAt"`
	// Encoding is omitted by older files; an empty value means encrypted.
	Encoding Encoding `json:"encoding,omitempty"`
}

// Expired reports whether the entry is no longer valid at now.
func (e Entry) Expired(now time.Time) bool {
	return now.UnixMilli() >= e.ExpiresAt
}

// Expiry returns ExpiresAt as a time.Time.
func (e Entry) Expiry() time.Time {
	return time.UnixMilli(e.ExpiresAt)
}

func (e Entry) encoding() Encoding {
	if e.Encoding == "" {
		return EncodingEncrypted
	}
	return e.Encoding
}

func (e Entry) payload() ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(e.EncryptedData)
	if err != nil {
		return nil, fmt.Errorf("decoding payload: %w", err)
	}
	return data, nil
}
