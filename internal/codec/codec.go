// Package codec holds the byte/text encoding helpers shared by the relay:
// lenient base64 decoding, url-safe encoding, hex and secret normalization.
package codec

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
	"unicode"
)

// ErrInvalidHex is returned for odd-length or non-hex input.
var ErrInvalidHex = errors.New("invalid hex string")

// NormalizeBase64 strips whitespace, maps the url alphabet onto the standard one
// and restores padding.
func NormalizeBase64(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 3)
	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
			continue
		case r == '-':
			b.WriteByte('+')
		case r == '_':
			b.WriteByte('/')
		default:
			b.WriteRune(r)
		}
	}
	out := b.String()
	if pad := len(out) % 4; pad != 0 {
		out += strings.Repeat("=", 4-pad)
	}
	return out
}

// DecodeBase64 decodes standard or url-safe base64, padded or not.
func DecodeBase64(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(NormalizeBase64(s))
}

// EncodeBase64 encodes bytes to standard base64 with padding.
func EncodeBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// EncodeBase64URL encodes bytes to url-safe base64 without padding.
func EncodeBase64URL(data []byte) string {
	return base64.RawURLEncoding.EncodeToString(data)
}

// DecodeHex decodes an even-length hex string.
func DecodeHex(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, ErrInvalidHex
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, ErrInvalidHex
	}
	return b, nil
}

// DecodeSecret turns an operator-supplied secret into bytes.
// Base64 wins, then even-length hex, otherwise the raw UTF-8 text is used.
func DecodeSecret(secret string) []byte {
	if b, err := DecodeBase64(secret); err == nil && len(b) > 0 {
		return b
	}
	if isHex(secret) {
		if b, err := DecodeHex(secret); err == nil {
			return b
		}
	}
	return []byte(secret)
}

func isHex(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F') {
			return false
		}
	}
	return true
}
