package httpserver

import (
	"errors"
	"net/http"

	"github.com/and161185/inbox-relay/internal/errs"
	"github.com/gin-gonic/gin"
)

// Stable error codes returned in the "error" field.
const (
	codeInvalidRequest         = "invalid_request"
	codeSealFailed             = "seal_failed"
	codeInvalidSealedRoute     = "invalid_sealed_route"
	codeInvalidSenderSignature = "invalid_sender_signature"
	codeRateLimited            = "rate_limit_exceeded"
	codeInboxFull              = "recipient_inbox_full"
	codeStorageFailed          = "storage_failed"
	codeInvalidSignature       = "invalid_signature"
	codeSyncFailed             = "sync_failed"
	codeUnauthorizedDeletion   = "unauthorized_deletion"
	codeAckFailed              = "ack_failed"
	codeNotFound               = "not_found"
)

type mapped struct {
	status int
	code   string
	detail string
}

var known = []struct {
	err error
	mapped
}{
	{errs.ErrInvalidInput, mapped{http.StatusBadRequest, codeInvalidRequest, ""}},
	{errs.ErrSealFailed, mapped{http.StatusBadRequest, codeSealFailed, "Failed to encrypt device token. Please verify the input."}},
	{errs.ErrInvalidSealedRoute, mapped{http.StatusBadRequest, codeInvalidSealedRoute, "The sealed route is invalid or corrupted."}},
	{errs.ErrInvalidSenderSignature, mapped{http.StatusUnauthorized, codeInvalidSenderSignature, "Sender signature verification failed."}},
	{errs.ErrInboxFull, mapped{http.StatusTooManyRequests, codeInboxFull, "Recipient inbox has reached maximum capacity."}},
	{errs.ErrInvalidSignature, mapped{http.StatusUnauthorized, codeInvalidSignature, "Signature verification failed."}},
	{errs.ErrUnauthorizedDeletion, mapped{http.StatusForbidden, codeUnauthorizedDeletion, "Some messages do not belong to the specified public key."}},
}

// fail writes the error body for err. Unknown errors become 500 with fallback.
func fail(c *gin.Context, err error, fallback mapped) {
	for _, k := range known {
		if errors.Is(err, k.err) {
			detail := k.detail
			if detail == "" {
				detail = err.Error()
			}
			abort(c, k.status, k.code, detail)
			return
		}
	}
	abort(c, fallback.status, fallback.code, fallback.detail)
}

func abort(c *gin.Context, status int, code, detail string) {
	c.AbortWithStatusJSON(status, errorResponse{Error: code, Detail: detail})
}

var (
	sendFailed = mapped{http.StatusInternalServerError, codeStorageFailed, "Failed to store message. Please try again."}
	syncFailed = mapped{http.StatusInternalServerError, codeSyncFailed, "Failed to retrieve messages. Please try again."}
	ackFailed  = mapped{http.StatusInternalServerError, codeAckFailed, "Failed to delete messages. Please try again."}
	sealFailed = mapped{http.StatusBadRequest, codeSealFailed, "Failed to encrypt device token. Please verify the input."}
)
