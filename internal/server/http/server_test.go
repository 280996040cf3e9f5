package httpserver

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/and161185/inbox-relay/internal/crypto"
	"github.com/and161185/inbox-relay/internal/limiter"
	"github.com/and161185/inbox-relay/internal/model"
	"github.com/and161185/inbox-relay/internal/push"
	"github.com/and161185/inbox-relay/internal/repository/memory"
	"github.com/and161185/inbox-relay/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func init() { gin.SetMode(gin.TestMode) }

type stubNotifier struct{ res push.Result }

func (s stubNotifier) Notify(context.Context, string, push.Payload) push.Result { return s.res }

type fixture struct {
	srv  *Server
	repo *memory.InboxRepo
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	repo := memory.NewInboxRepo()
	svc := service.NewInboxService(repo, crypto.NewSealer(), stubNotifier{res: push.Result{OK: true, Status: 200}},
		service.Options{Secret: "s", MaxMessages: 3}, zaptest.NewLogger(t))
	return &fixture{srv: New(svc, opts, zaptest.NewLogger(t)), repo: repo}
}

func (f *fixture) do(t *testing.T, method, target string, body any, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	switch b := body.(type) {
	case nil:
		rd = bytes.NewReader(nil)
	case string:
		rd = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, rd)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

type ident struct {
	priv     ed25519.PrivateKey
	pub, sig string
}

func newIdent(t *testing.T) ident {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	pub, sig := crypto.SignOwner(priv)
	return ident{priv: priv, pub: pub, sig: sig}
}

func (f *fixture) sealRoute(t *testing.T, token string) string {
	t.Helper()
	w := f.do(t, http.MethodPost, "/seal", map[string]string{"device_token": token}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return decode[sealResponse](t, w).SealedRoute
}

func syncURL(id ident) string {
	return "/sync?pubkey=" + url.QueryEscape(id.pub) + "&sig=" + url.QueryEscape(id.sig)
}

func TestHealth(t *testing.T) {
	f := newFixture(t, Options{})
	w := f.do(t, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"status":"ok"}`, w.Body.String())
	require.NotEmpty(t, w.Header().Get(HeaderRequestID))

	f = newFixture(t, Options{Health: func(context.Context) error { return errors.New("db down") }})
	w = f.do(t, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRequestID_Propagated(t *testing.T) {
	f := newFixture(t, Options{})
	w := f.do(t, http.MethodGet, "/health", nil, map[string]string{HeaderRequestID: "abc"})
	require.Equal(t, "abc", w.Header().Get(HeaderRequestID))
}

func TestSeal_Validation(t *testing.T) {
	f := newFixture(t, Options{})

	w := f.do(t, http.MethodPost, "/seal", map[string]string{}, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, codeInvalidRequest, decode[errorResponse](t, w).Error)

	w = f.do(t, http.MethodPost, "/seal", map[string]string{"device_token": strings.Repeat("a", 513)}, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/seal", "{not json", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSendSyncAck_EndToEnd(t *testing.T) {
	f := newFixture(t, Options{})
	bob := newIdent(t)
	route := f.sealRoute(t, "X")

	w := f.do(t, http.MethodPost, "/send", sendRequest{RecipientPubkey: bob.pub, Blob: "B", SealedRoute: route}, nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	sent := decode[sendResponse](t, w)
	require.True(t, sent.Notified)
	require.Equal(t, 200, sent.APNsStatus)

	w = f.do(t, http.MethodGet, syncURL(bob), nil, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	synced := decode[syncResponse](t, w)
	require.Len(t, synced.Messages, 1)
	require.Equal(t, sent.MessageID, synced.Messages[0].ID)
	require.Equal(t, "B", synced.Messages[0].Blob)
	require.Equal(t, bob.pub, synced.Messages[0].OwnerPubkey)

	w = f.do(t, http.MethodPost, "/ack", ackRequest{MessageIDs: []string{sent.MessageID}, Pubkey: bob.pub, Sig: bob.sig}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Equal(t, int64(1), decode[ackResponse](t, w).Deleted)

	w = f.do(t, http.MethodGet, syncURL(bob), nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"messages":[]}`, w.Body.String())
}

func TestSend_Errors(t *testing.T) {
	f := newFixture(t, Options{})
	bob := newIdent(t)
	alice := newIdent(t)
	route := f.sealRoute(t, "X")

	w := f.do(t, http.MethodPost, "/send", sendRequest{RecipientPubkey: bob.pub, Blob: "B", SealedRoute: "bogus"}, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, codeInvalidSealedRoute, decode[errorResponse](t, w).Error)

	_, badSig := crypto.SignSend(alice.priv, bob.pub, "other", route)
	w = f.do(t, http.MethodPost, "/send", sendRequest{RecipientPubkey: bob.pub, Blob: "B", SealedRoute: route, SenderPubkey: alice.pub, SenderSig: badSig}, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, codeInvalidSenderSignature, decode[errorResponse](t, w).Error)

	w = f.do(t, http.MethodPost, "/send", sendRequest{RecipientPubkey: bob.pub, Blob: "B", SealedRoute: route, SenderPubkey: alice.pub}, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, codeInvalidRequest, decode[errorResponse](t, w).Error)

	w = f.do(t, http.MethodPost, "/send", sendRequest{RecipientPubkey: bob.pub, Blob: strings.Repeat("b", 100001), SealedRoute: route}, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/send", `{"recipient_pubkey":"`+bob.pub+`","blob":"a\u0000b","sealed_route":"`+route+`"}`, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, codeInvalidRequest, decode[errorResponse](t, w).Error)

	for i := 0; i < 3; i++ {
		w = f.do(t, http.MethodPost, "/send", sendRequest{RecipientPubkey: bob.pub, Blob: fmt.Sprint(i), SealedRoute: route}, nil)
		require.Equal(t, http.StatusAccepted, w.Code)
	}
	w = f.do(t, http.MethodPost, "/send", sendRequest{RecipientPubkey: bob.pub, Blob: "full", SealedRoute: route}, nil)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.Equal(t, codeInboxFull, decode[errorResponse](t, w).Error)
}

func TestSync_Errors(t *testing.T) {
	f := newFixture(t, Options{})
	bob := newIdent(t)
	eve := newIdent(t)

	w := f.do(t, http.MethodGet, "/sync?pubkey="+url.QueryEscape(bob.pub), nil, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodGet, "/sync?pubkey="+url.QueryEscape(bob.pub)+"&sig="+url.QueryEscape(eve.sig), nil, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, codeInvalidSignature, decode[errorResponse](t, w).Error)
}

func TestAck_Errors(t *testing.T) {
	f := newFixture(t, Options{})
	bob := newIdent(t)
	carol := newIdent(t)
	require.NoError(t, f.repo.Insert(context.Background(), model.InboxMessage{
		ID: "7b0e5a53-8e7f-4d43-9f3a-3c1b2a4d5e6f", OwnerPubkey: carol.pub, Blob: "c", CreatedAt: time.Now().Unix(),
	}))

	w := f.do(t, http.MethodPost, "/ack", ackRequest{MessageIDs: []string{"7b0e5a53-8e7f-4d43-9f3a-3c1b2a4d5e6f"}, Pubkey: bob.pub, Sig: bob.sig}, nil)
	require.Equal(t, http.StatusForbidden, w.Code)
	require.Equal(t, codeUnauthorizedDeletion, decode[errorResponse](t, w).Error)

	w = f.do(t, http.MethodPost, "/ack", ackRequest{MessageIDs: []string{"not-a-uuid"}, Pubkey: bob.pub, Sig: bob.sig}, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/ack", ackRequest{MessageIDs: []string{}, Pubkey: bob.pub, Sig: bob.sig}, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)

	ids := make([]string, 101)
	for i := range ids {
		ids[i] = "7b0e5a53-8e7f-4d43-9f3a-3c1b2a4d5e6f"
	}
	w = f.do(t, http.MethodPost, "/ack", ackRequest{MessageIDs: ids, Pubkey: bob.pub, Sig: bob.sig}, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/ack", ackRequest{MessageIDs: []string{"7b0e5a53-8e7f-4d43-9f3a-3c1b2a4d5e6f"}, Pubkey: bob.pub, Sig: carol.sig}, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestOwnerRoutes(t *testing.T) {
	f := newFixture(t, Options{})
	bob := newIdent(t)
	route := f.sealRoute(t, "X")

	w := f.do(t, http.MethodPost, "/send", sendRequest{RecipientPubkey: bob.pub, Blob: "B", SealedRoute: route}, nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	id := decode[sendResponse](t, w).MessageID

	auth := map[string]string{HeaderPubkey: bob.pub, HeaderSignature: bob.sig}

	w = f.do(t, http.MethodGet, "/v1/owner/sync", nil, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(t, http.MethodGet, "/v1/owner/sync", nil, auth)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, decode[syncResponse](t, w).Messages, 1)

	w = f.do(t, http.MethodPost, "/v1/owner/ack", ownerAckRequest{MessageIDs: []string{id}}, auth)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Equal(t, int64(1), decode[ackResponse](t, w).Deleted)
}

func TestCORS_Preflight(t *testing.T) {
	f := newFixture(t, Options{})
	w := f.do(t, http.MethodOptions, "/send", nil, nil)
	require.Equal(t, http.StatusNoContent, w.Code)
	require.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	require.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "POST")
}

func TestRateLimit_SendScope(t *testing.T) {
	f := newFixture(t, Options{
		Global: limiter.NewMemory(limiter.Policy{Rate: 100, Burst: 100}),
		Send:   limiter.NewMemory(limiter.Policy{Rate: 0.001, Burst: 1}),
	})
	bob := newIdent(t)
	route := f.sealRoute(t, "X")

	w := f.do(t, http.MethodPost, "/send", sendRequest{RecipientPubkey: bob.pub, Blob: "1", SealedRoute: route}, nil)
	require.Equal(t, http.StatusAccepted, w.Code)

	w = f.do(t, http.MethodPost, "/send", sendRequest{RecipientPubkey: bob.pub, Blob: "2", SealedRoute: route}, nil)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.Equal(t, codeRateLimited, decode[errorResponse](t, w).Error)
	require.NotEmpty(t, w.Header().Get("Retry-After"))

	w = f.do(t, http.MethodGet, syncURL(bob), nil, nil)
	require.Equal(t, http.StatusOK, w.Code, "other routes are not send-limited")
}

type brokenLimiter struct{}

func (brokenLimiter) Allow(context.Context, string) (bool, time.Duration, error) {
	return false, 0, errors.New("redis down")
}

func TestRateLimit_BackendErrorLetsThrough(t *testing.T) {
	f := newFixture(t, Options{Global: brokenLimiter{}})
	w := f.do(t, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimit_IgnoresSpoofedForwardingHeaders(t *testing.T) {
	f := newFixture(t, Options{Global: limiter.NewMemory(limiter.Policy{Rate: 0.001, Burst: 1})})

	w := f.do(t, http.MethodGet, "/health", nil, map[string]string{"X-Forwarded-For": "10.9.9.1"})
	require.Equal(t, http.StatusOK, w.Code)

	for i := 2; i <= 5; i++ {
		ip := fmt.Sprintf("10.9.9.%d", i)
		w = f.do(t, http.MethodGet, "/health", nil, map[string]string{
			"X-Forwarded-For":  ip,
			"X-Real-IP":        ip,
			"CF-Connecting-IP": ip,
		})
		require.Equal(t, http.StatusTooManyRequests, w.Code, "request %d keyed by a forged header", i)
		require.Equal(t, codeRateLimited, decode[errorResponse](t, w).Error)
	}
}

func TestRateLimit_TrustedProxyForwardsClientIP(t *testing.T) {
	// httptest requests arrive from 192.0.2.1.
	f := newFixture(t, Options{
		Global:         limiter.NewMemory(limiter.Policy{Rate: 0.001, Burst: 1}),
		TrustedProxies: []string{"192.0.2.0/24"},
	})
	xff := func(ip string) map[string]string { return map[string]string{"X-Forwarded-For": ip} }

	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/health", nil, xff("10.0.0.1")).Code)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/health", nil, xff("10.0.0.2")).Code)
	require.Equal(t, http.StatusTooManyRequests, f.do(t, http.MethodGet, "/health", nil, xff("10.0.0.1")).Code)
}

func TestRateLimit_TrustedPlatformHeader(t *testing.T) {
	f := newFixture(t, Options{
		Global:          limiter.NewMemory(limiter.Policy{Rate: 0.001, Burst: 1}),
		TrustedPlatform: "cloudflare",
	})
	cf := func(ip string) map[string]string { return map[string]string{"CF-Connecting-IP": ip} }

	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/health", nil, cf("10.0.0.1")).Code)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/health", nil, cf("10.0.0.2")).Code)
	require.Equal(t, http.StatusTooManyRequests, f.do(t, http.MethodGet, "/health", nil, cf("10.0.0.2")).Code)
}

func TestNew_InvalidTrustedProxiesTrustsNone(t *testing.T) {
	f := newFixture(t, Options{
		Global:         limiter.NewMemory(limiter.Policy{Rate: 0.001, Burst: 1}),
		TrustedProxies: []string{"not-an-ip"},
	})
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/health", nil, map[string]string{"X-Forwarded-For": "10.0.0.1"}).Code)
	require.Equal(t, http.StatusTooManyRequests, f.do(t, http.MethodGet, "/health", nil, map[string]string{"X-Forwarded-For": "10.0.0.2"}).Code)
}

func TestGinMode(t *testing.T) {
	require.Equal(t, gin.ReleaseMode, GinMode(true))
	require.Equal(t, gin.TestMode, GinMode(false), "non-production keeps the configured mode")
}

func TestNoRoute(t *testing.T) {
	f := newFixture(t, Options{})
	w := f.do(t, http.MethodGet, "/nope", nil, nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Equal(t, codeNotFound, decode[errorResponse](t, w).Error)
}
