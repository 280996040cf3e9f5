// Package convert maps between inboxrpc wire messages and domain models.
package convert

import (
	"fmt"
	"unicode/utf8"

	"github.com/and161185/inbox-relay/internal/errs"
	rpc "github.com/and161185/inbox-relay/internal/inboxrpc"
	model "github.com/and161185/inbox-relay/internal/model"
	u "github.com/gofrs/uuid/v5"
)

// Field limits shared with the HTTP surface.
const (
	MaxDeviceToken = 512
	MaxPubkey      = 200
	MaxBlob        = 100000
	MaxSealedRoute = 1000
	MaxSignature   = 500
	MaxAckBatch    = 100
)

// --- helpers ---

func field(name, v string, limit int, required bool) error {
	n := utf8.RuneCountInString(v)
	if n == 0 {
		if required {
			return fmt.Errorf("%w: %s is required", errs.ErrInvalidInput, name)
		}
		return nil
	}
	if n > limit {
		return fmt.Errorf("%w: %s exceeds %d characters", errs.ErrInvalidInput, name, limit)
	}
	return nil
}

// --- Seal ---

// FromRPCSeal validates the device token.
func FromRPCSeal(in *rpc.SealRequest) (string, error) {
	if in == nil {
		return "", fmt.Errorf("%w: empty request", errs.ErrInvalidInput)
	}
	if err := field("device_token", in.DeviceToken, MaxDeviceToken, true); err != nil {
		return "", err
	}
	return in.DeviceToken, nil
}

// --- Send ---

// FromRPCSend validates a send request and converts it to the domain form.
func FromRPCSend(in *rpc.SendRequest) (model.SendRequest, error) {
	if in == nil {
		return model.SendRequest{}, fmt.Errorf("%w: empty request", errs.ErrInvalidInput)
	}
	checks := []struct {
		name     string
		v        string
		limit    int
		required bool
	}{
		{"recipient_pubkey", in.RecipientPubkey, MaxPubkey, true},
		{"blob", in.Blob, MaxBlob, true},
		{"sealed_route", in.SealedRoute, MaxSealedRoute, true},
		{"sender_pubkey", in.SenderPubkey, MaxPubkey, false},
		{"sender_sig", in.SenderSig, MaxSignature, false},
	}
	for _, c := range checks {
		if err := field(c.name, c.v, c.limit, c.required); err != nil {
			return model.SendRequest{}, err
		}
	}
	return model.SendRequest{
		RecipientPubkey: in.RecipientPubkey,
		Blob:            in.Blob,
		SealedRoute:     in.SealedRoute,
		SenderPubkey:    in.SenderPubkey,
		SenderSig:       in.SenderSig,
	}, nil
}

// ToRPCSendResponse wraps the send outcome.
func ToRPCSendResponse(r model.SendResult) *rpc.SendResponse {
	return &rpc.SendResponse{
		MessageID:  r.MessageID,
		Notified:   r.Notified,
		APNsStatus: int32(r.APNsStatus),
		APNsError:  r.APNsError,
	}
}

// --- Sync ---

// ToRPCMessages converts stored messages. The result is never nil.
func ToRPCMessages(msgs []model.InboxMessage) []rpc.Message {
	out := make([]rpc.Message, len(msgs))
	for i, m := range msgs {
		out[i] = rpc.Message{ID: m.ID, OwnerPubkey: m.OwnerPubkey, Blob: m.Blob, CreatedAt: m.CreatedAt}
	}
	return out
}

// FromRPCMessages is the inverse of ToRPCMessages, used by clients.
func FromRPCMessages(in []rpc.Message) []model.InboxMessage {
	out := make([]model.InboxMessage, len(in))
	for i, m := range in {
		out[i] = model.InboxMessage{ID: m.ID, OwnerPubkey: m.OwnerPubkey, Blob: m.Blob, CreatedAt: m.CreatedAt}
	}
	return out
}

// --- Ack ---

// FromRPCAckIDs checks that 1..MaxAckBatch ids are given and each is a UUID
// in canonical lowercase hyphenated form, the only form ids are issued in.
func FromRPCAckIDs(ids []string) ([]string, error) {
	if len(ids) == 0 || len(ids) > MaxAckBatch {
		return nil, fmt.Errorf("%w: message_ids must hold 1 to %d ids", errs.ErrInvalidInput, MaxAckBatch)
	}
	for _, id := range ids {
		if parsed, err := u.FromString(id); err != nil || parsed.String() != id {
			return nil, fmt.Errorf("%w: bad message id %q", errs.ErrInvalidInput, id)
		}
	}
	return ids, nil
}
