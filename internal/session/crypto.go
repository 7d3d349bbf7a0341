package session

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"
)

// keySize is the secretbox key length (XSalsa20-Poly1305).
const keySize = 32

// nonceSize is the secretbox nonce length.
const nonceSize = 24

// cipher seals and opens the store file with a fixed symmetric key
// using NaCl secretbox, an authenticated encryption construction: a
// tampered or truncated ciphertext fails to open rather than silently
// returning garbage.
type cipher struct {
	key [keySize]byte
}

// newCipher decodes a base64-encoded symmetric key, as read from the
// AGENTBOT_SESSION_KEY environment variable or passed to WithEncryptionKey.
func newCipher(base64Key string) (*cipher, error) {
	raw, err := base64.StdEncoding.DecodeString(base64Key)
	if err != nil {
		return nil, fmt.Errorf("decode session key: %w", err)
	}
	if len(raw) != keySize {
		return nil, fmt.Errorf("session key must decode to %d bytes, got %d", keySize, len(raw))
	}
	c := &cipher{}
	copy(c.key[:], raw)
	return c, nil
}

// seal encrypts plaintext with a fresh random nonce prepended to the
// ciphertext.
func (c *cipher) seal(plaintext []byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	out := make([]byte, 0, nonceSize+len(plaintext)+secretbox.Overhead)
	out = append(out, nonce[:]...)
	return secretbox.Seal(out, plaintext, &nonce, &c.key), nil
}

// open decrypts data produced by seal. It fails loudly — returning an
// error rather than stale or garbage plaintext — on any tampering,
// truncation, or key mismatch, per the store's load-time contract.
func (c *cipher) open(data []byte) ([]byte, error) {
	if len(data) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}
	var nonce [nonceSize]byte
	copy(nonce[:], data[:nonceSize])

	plaintext, ok := secretbox.Open(nil, data[nonceSize:], &nonce, &c.key)
	if !ok {
		return nil, fmt.Errorf("decryption failed: wrong key or corrupted session store")
	}
	return plaintext, nil
}
