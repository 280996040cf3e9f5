package crypto

import (
	"bytes"
	"crypto/ed25519"
	"encoding/json"

	"github.com/and161185/inbox-relay/internal/codec"
)

// Verify reports whether sig is a valid Ed25519 signature of msg by pubkey.
// Both pubkey and sig are base64 (any variant). It never panics; malformed
// input of any kind is simply false.
func Verify(pubkey, sig string, msg []byte) bool {
	pk, err := codec.DecodeBase64(pubkey)
	if err != nil || len(pk) != ed25519.PublicKeySize {
		return false
	}
	s, err := codec.DecodeBase64(sig)
	if err != nil || len(s) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pk), msg, s)
}

// OwnerChallenge is the message an inbox owner signs: the pubkey string itself.
func OwnerChallenge(pubkey string) []byte {
	return []byte(pubkey)
}

type sendChallenge struct {
	RecipientPubkey string `json:"recipient_pubkey"`
	Blob            string `json:"blob"`
	SealedRoute     string `json:"sealed_route"`
}

// SendChallenge is the canonical message a sender signs:
// {"recipient_pubkey":…,"blob":…,"sealed_route":…} with keys in that order
// and no HTML escaping. The bytes match JSON.stringify, which leaves U+2028
// and U+2029 unescaped.
func SendChallenge(recipientPubkey, blob, sealedRoute string) []byte {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(sendChallenge{
		RecipientPubkey: recipientPubkey,
		Blob:            blob,
		SealedRoute:     sealedRoute,
	})
	return rawLineSeparators(bytes.TrimSuffix(buf.Bytes(), []byte("\n")))
}

// rawLineSeparators rewrites the \u2028 and \u2029 escapes emitted by
// encoding/json as the raw characters. Escaped backslashes are copied as is.
func rawLineSeparators(b []byte) []byte {
	if !bytes.Contains(b, []byte(`\u202`)) {
		return b
	}
	out := make([]byte, 0, len(b))
	for i := 0; i < len(b); i++ {
		if b[i] != '\\' || i+1 == len(b) {
			out = append(out, b[i])
			continue
		}
		if i+6 <= len(b) {
			switch string(b[i : i+6]) {
			case `\u2028`:
				out = append(out, "\u2028"...)
				i += 5
				continue
			case `\u2029`:
				out = append(out, "\u2029"...)
				i += 5
				continue
			}
		}
		out = append(out, b[i], b[i+1])
		i++
	}
	return out
}

// VerifyOwner checks an owner proof over the pubkey challenge.
func VerifyOwner(pubkey, sig string) bool {
	return Verify(pubkey, sig, OwnerChallenge(pubkey))
}

// SignOwner produces the owner proof for priv. Used by clients and tests.
func SignOwner(priv ed25519.PrivateKey) (pubkey, sig string) {
	pubkey = codec.EncodeBase64(priv.Public().(ed25519.PublicKey))
	sig = codec.EncodeBase64(ed25519.Sign(priv, OwnerChallenge(pubkey)))
	return pubkey, sig
}

// SignSend produces a sender signature over the send challenge.
func SignSend(priv ed25519.PrivateKey, recipientPubkey, blob, sealedRoute string) (pubkey, sig string) {
	pubkey = codec.EncodeBase64(priv.Public().(ed25519.PublicKey))
	sig = codec.EncodeBase64(ed25519.Sign(priv, SendChallenge(recipientPubkey, blob, sealedRoute)))
	return pubkey, sig
}
