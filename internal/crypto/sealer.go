// Package crypto implements server-side envelope encryption of device addresses
// and Ed25519 ownership verification.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/and161185/inbox-relay/internal/codec"
	"github.com/and161185/inbox-relay/internal/errs"
	"github.com/and161185/inbox-relay/internal/keycache"
	"golang.org/x/crypto/hkdf"
)

// NonceSize is the AES-GCM nonce length (96 bits).
const NonceSize = 12

const routeKeyInfo = "inbox-relay/sealed-route/v1"

// RandBytes returns n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// Sealer converts device addresses to sealed routes and back.
type Sealer struct {
	keys *keycache.Cache[cipher.AEAD]
}

// NewSealer constructs a Sealer with its own AEAD key cache.
func NewSealer() *Sealer {
	return &Sealer{keys: keycache.New(importRouteKey)}
}

// Seal encrypts address under secret and returns base64(nonce || ciphertext).
func (s *Sealer) Seal(address, secret string) (string, error) {
	aead, err := s.keys.Get(secret)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errs.ErrSealFailed, err)
	}
	nonce, err := RandBytes(NonceSize)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errs.ErrSealFailed, err)
	}
	out := make([]byte, 0, NonceSize+len(address)+aead.Overhead())
	out = append(out, nonce...)
	out = aead.Seal(out, nonce, []byte(address), nil)
	return codec.EncodeBase64(out), nil
}

// Unseal recovers the device address from a sealed route.
// Any decoding or authentication failure yields ErrMalformedRoute or ErrDecryptionFailed.
func (s *Sealer) Unseal(route, secret string) (string, error) {
	payload, err := codec.DecodeBase64(route)
	if err != nil || len(payload) <= NonceSize {
		return "", errs.ErrMalformedRoute
	}
	aead, err := s.keys.Get(secret)
	if err != nil {
		return "", errs.ErrDecryptionFailed
	}
	plain, err := aead.Open(nil, payload[:NonceSize], payload[NonceSize:], nil)
	if err != nil {
		return "", errs.ErrDecryptionFailed
	}
	return string(plain), nil
}

// importRouteKey builds the AEAD for a secret. AES-sized secrets are used as-is,
// anything else goes through HKDF-SHA256.
func importRouteKey(secret string) (cipher.AEAD, error) {
	raw := codec.DecodeSecret(secret)
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty push secret")
	}
	key := raw
	switch len(raw) {
	case 16, 24, 32:
	default:
		key = make([]byte, 32)
		if _, err := io.ReadFull(hkdf.New(sha256.New, raw, nil, []byte(routeKeyInfo)), key); err != nil {
			return nil, err
		}
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
