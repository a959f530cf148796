// Package fieldcrypt provides authenticated encryption for sensitive
// dataset payloads. Blobs are stored as base64(nonce || tag || ciphertext)
// so they survive any JSON-capable document store unchanged.
package fieldcrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

const (
	keySize   = 32
	nonceSize = 12
	tagSize   = 16
)

// ErrDecryptionFailed indicates the ciphertext blob could not be
// authenticated or parsed. Decryption is never retried: the same input
// cannot succeed on a second attempt.
var ErrDecryptionFailed = errors.New("fieldcrypt: decryption failed")

// Cipher encrypts and decrypts JSON-serializable values with AES-256-GCM.
type Cipher struct {
	aead cipher.AEAD
	rand io.Reader
}

// New validates the key and constructs a Cipher. The key must be exactly
// 32 bytes; anything else is a configuration error surfaced at startup,
// not deferred to the first encrypt call.
func New(key []byte) (*Cipher, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("fieldcrypt: key must be %d bytes, got %d", keySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("fieldcrypt: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("fieldcrypt: %w", err)
	}
	return &Cipher{aead: aead, rand: rand.Reader}, nil
}

// Encrypt serializes value to JSON and seals it under a fresh random
// nonce. A new nonce is drawn on every call; nonce reuse under the same
// key breaks GCM entirely.
func (c *Cipher) Encrypt(value any) (string, error) {
	plaintext, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("fieldcrypt: marshal: %w", err)
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(c.rand, nonce); err != nil {
		return "", fmt.Errorf("fieldcrypt: nonce: %w", err)
	}

	sealed := c.aead.Seal(nil, nonce, plaintext, nil)
	// Seal appends the tag; reorder to nonce || tag || ciphertext.
	ciphertext := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]

	blob := make([]byte, 0, nonceSize+len(sealed))
	blob = append(blob, nonce...)
	blob = append(blob, tag...)
	blob = append(blob, ciphertext...)
	return base64.StdEncoding.EncodeToString(blob), nil
}

// Decrypt reverses the blob layout, verifies the authentication tag and
// unmarshals the plaintext into out. Any tamper, truncation or decoding
// failure yields ErrDecryptionFailed; corrupted plaintext is never
// returned.
func (c *Cipher) Decrypt(blob string, out any) error {
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return ErrDecryptionFailed
	}
	if len(raw) < nonceSize+tagSize {
		return ErrDecryptionFailed
	}
	nonce := raw[:nonceSize]
	tag := raw[nonceSize : nonceSize+tagSize]
	ciphertext := raw[nonceSize+tagSize:]

	sealed := make([]byte, 0, len(ciphertext)+tagSize)
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return ErrDecryptionFailed
	}
	if err := json.Unmarshal(plaintext, out); err != nil {
		return ErrDecryptionFailed
	}
	return nil
}
