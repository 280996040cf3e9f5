package httpserver

import "github.com/and161185/inbox-relay/internal/model"

type sealRequest struct {
	DeviceToken string `json:"device_token" binding:"required,min=1,max=512"`
}

type sealResponse struct {
	SealedRoute string `json:"sealed_route"`
}

type sendRequest struct {
	RecipientPubkey string `json:"recipient_pubkey" binding:"required,min=1,max=200"`
	Blob            string `json:"blob" binding:"required,min=1,max=100000"`
	SealedRoute     string `json:"sealed_route" binding:"required,min=1,max=1000"`
	SenderPubkey    string `json:"sender_pubkey" binding:"omitempty,min=1,max=200"`
	SenderSig       string `json:"sender_sig" binding:"omitempty,min=1,max=500"`
}

type sendResponse struct {
	MessageID  string `json:"message_id"`
	Notified   bool   `json:"notified"`
	APNsStatus int    `json:"apns_status,omitempty"`
	APNsError  string `json:"apns_error,omitempty"`
}

type syncQuery struct {
	Pubkey string `form:"pubkey" binding:"required"`
	Sig    string `form:"sig" binding:"required"`
}

type messageDTO struct {
	ID          string `json:"id"`
	OwnerPubkey string `json:"owner_pubkey"`
	Blob        string `json:"blob"`
	CreatedAt   int64  `json:"created_at"`
}

type syncResponse struct {
	Messages []messageDTO `json:"messages"`
}

type ackRequest struct {
	MessageIDs []string `json:"message_ids" binding:"required,min=1,max=100,dive,uuid"`
	Pubkey     string   `json:"pubkey" binding:"required"`
	Sig        string   `json:"sig" binding:"required"`
}

type ownerAckRequest struct {
	MessageIDs []string `json:"message_ids" binding:"required,min=1,max=100,dive,uuid"`
}

type ackResponse struct {
	Deleted int64 `json:"deleted"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func (r sendRequest) toModel() model.SendRequest {
	return model.SendRequest{
		RecipientPubkey: r.RecipientPubkey,
		Blob:            r.Blob,
		SealedRoute:     r.SealedRoute,
		SenderPubkey:    r.SenderPubkey,
		SenderSig:       r.SenderSig,
	}
}

func toMessageDTOs(msgs []model.InboxMessage) []messageDTO {
	out := make([]messageDTO, len(msgs))
	for i, m := range msgs {
		out[i] = messageDTO{ID: m.ID, OwnerPubkey: m.OwnerPubkey, Blob: m.Blob, CreatedAt: m.CreatedAt}
	}
	return out
}
