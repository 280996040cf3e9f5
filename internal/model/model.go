// Package model defines domain entities used by services and repositories.
package model

// InboxMessage is a pending message stored for a recipient until acked or expired.
type InboxMessage struct {
	ID          string // UUIDv4 assigned at insert time
	OwnerPubkey string // recipient identity, opaque to the relay
	Blob        string // sender ciphertext, opaque to the relay
	CreatedAt   int64  // unix seconds
}

// SendRequest is a validated send intent.
type SendRequest struct {
	RecipientPubkey string
	Blob            string
	SealedRoute     string
	SenderPubkey    string // optional, set together with SenderSig
	SenderSig       string
}

// SendResult reports the stored message id and the best-effort push outcome.
type SendResult struct {
	MessageID  string
	Notified   bool
	APNsStatus int    // 0 when the gateway was not reached
	APNsError  string // empty on success
}

// OwnershipProof is a (public key, signature) pair over the owner challenge.
type OwnershipProof struct {
	Pubkey    string
	Signature string
}
