// Package inboxrpc declares the inbox.v1.Inbox gRPC service: message types,
// a JSON wire codec, the service descriptor and a typed client.
package inboxrpc

// SealRequest asks the relay to seal a device address.
type SealRequest struct {
	DeviceToken string `json:"device_token"`
}

type SealResponse struct {
	SealedRoute string `json:"sealed_route"`
}

// SendRequest delivers a blob to a recipient through a sealed route.
type SendRequest struct {
	RecipientPubkey string `json:"recipient_pubkey"`
	Blob            string `json:"blob"`
	SealedRoute     string `json:"sealed_route"`
	SenderPubkey    string `json:"sender_pubkey,omitempty"`
	SenderSig       string `json:"sender_sig,omitempty"`
}

type SendResponse struct {
	MessageID  string `json:"message_id"`
	Notified   bool   `json:"notified"`
	APNsStatus int32  `json:"apns_status,omitempty"`
	APNsError  string `json:"apns_error,omitempty"`
}

// SyncRequest carries the ownership proof. Both fields may be left empty when
// the proof is sent as x-inbox-pubkey / x-inbox-signature metadata.
type SyncRequest struct {
	Pubkey string `json:"pubkey,omitempty"`
	Sig    string `json:"sig,omitempty"`
}

type Message struct {
	ID          string `json:"id"`
	OwnerPubkey string `json:"owner_pubkey"`
	Blob        string `json:"blob"`
	CreatedAt   int64  `json:"created_at"`
}

type SyncResponse struct {
	Messages []Message `json:"messages"`
}

// AckRequest deletes messages. Proof fields follow the SyncRequest rules.
type AckRequest struct {
	MessageIDs []string `json:"message_ids"`
	Pubkey     string   `json:"pubkey,omitempty"`
	Sig        string   `json:"sig,omitempty"`
}

type AckResponse struct {
	Deleted int64 `json:"deleted"`
}
