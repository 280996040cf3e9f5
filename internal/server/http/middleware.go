package httpserver

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/and161185/inbox-relay/internal/crypto"
	"github.com/and161185/inbox-relay/internal/limiter"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Header names for the authenticated owner routes.
const (
	HeaderRequestID = "X-Request-Id"
	HeaderPubkey    = "X-Inbox-Pubkey"
	HeaderSignature = "X-Inbox-Signature"
)

type ctxKey string

const (
	requestIDKey ctxKey = "request_id"
	ownerKey            = "inbox.owner"
)

// RequestIDFromCtx returns the request id set by requestID.
func RequestIDFromCtx(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" || len(id) > 64 {
			id = newRequestID()
		}
		c.Writer.Header().Set(HeaderRequestID, id)
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), requestIDKey, id))
		c.Next()
	}
}

func newRequestID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return ""
	}
	return hex.EncodeToString(buf)
}

// accessLog records one line per request; no bodies, no query strings.
func accessLog(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info("http",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("request_id", RequestIDFromCtx(c.Request.Context())),
		)
	}
}

func recovery(log *zap.Logger) gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, rec any) {
		log.Error("panic",
			zap.Any("reason", rec),
			zap.String("path", c.FullPath()),
			zap.String("request_id", RequestIDFromCtx(c.Request.Context())),
		)
		abort(c, http.StatusInternalServerError, "internal_error", "Internal server error.")
	})
}

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+HeaderPubkey+", "+HeaderSignature+", "+HeaderRequestID)
		h.Set("Access-Control-Max-Age", "600")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// rateLimit consumes one token per request for scope:<hashed client ip>.
// Limiter backend errors let the request through.
func rateLimit(l limiter.Limiter, scope, detail string, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, retry, err := l.Allow(c.Request.Context(), limiter.IPKey(scope, c.ClientIP()))
		if err != nil {
			log.Warn("rate limiter unavailable", zap.String("scope", scope), zap.Error(err))
			c.Next()
			return
		}
		if !ok {
			if retry > 0 {
				c.Header("Retry-After", strconv.Itoa(int(math.Ceil(retry.Seconds()))))
			}
			abort(c, http.StatusTooManyRequests, codeRateLimited, detail)
			return
		}
		c.Next()
	}
}

// ownerAuth verifies the owner proof carried in headers and stores the pubkey.
func ownerAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		pk := c.GetHeader(HeaderPubkey)
		sig := c.GetHeader(HeaderSignature)
		if pk == "" || sig == "" || !crypto.VerifyOwner(pk, sig) {
			abort(c, http.StatusUnauthorized, codeInvalidSignature, "Signature verification failed.")
			return
		}
		c.Set(ownerKey, pk)
		c.Next()
	}
}

func ownerFrom(c *gin.Context) string {
	return c.GetString(ownerKey)
}
