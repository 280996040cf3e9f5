// Package push delivers notifications to the Apple Push Notification service
// using token-based (ES256 JWT) provider authentication.
package push

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/and161185/inbox-relay/internal/codec"
	"github.com/and161185/inbox-relay/internal/keycache"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// DefaultHost is the production APNs endpoint.
const DefaultHost = "https://api.push.apple.com"

// ErrRequestFailed is the Result.Error value for non-2xx gateway replies.
const ErrRequestFailed = "apns_request_failed"

// tokenTTL is how long a provider token is reused. APNs rejects tokens older
// than one hour and throttles refreshes more often than every 20 minutes.
const tokenTTL = 50 * time.Minute

const maxBody = 4 << 10

var errNotConfigured = errors.New("push credentials not configured")

// Config holds gateway endpoint and provider credentials.
type Config struct {
	Host       string
	Topic      string
	TeamID     string
	KeyID      string
	SigningKey string // PEM or base64 of PEM
	Timeout    time.Duration
}

// Alert is the visible part of a notification.
type Alert struct {
	Title    string `json:"title,omitempty"`
	Subtitle string `json:"subtitle,omitempty"`
	Body     string `json:"body,omitempty"`
}

// Aps is the reserved "aps" dictionary.
type Aps struct {
	Alert            *Alert `json:"alert,omitempty"`
	ContentAvailable int    `json:"content-available,omitempty"`
	Sound            string `json:"sound,omitempty"`
	Badge            int    `json:"badge,omitempty"`
}

// Payload is the notification body: the aps dictionary plus custom top-level keys.
type Payload struct {
	Aps    Aps
	Custom map[string]any
}

// MarshalJSON flattens Custom next to "aps".
func (p Payload) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(p.Custom)+1)
	for k, v := range p.Custom {
		out[k] = v
	}
	out["aps"] = p.Aps
	return json.Marshal(out)
}

// Result classifies a single delivery attempt.
type Result struct {
	OK     bool
	Status int    // 0 when the gateway was never reached
	Body   string // raw body for non-2xx
	Reason string // "reason" from the gateway JSON body, if any
	Error  string
}

// Client talks to APNs. It is safe for concurrent use.
type Client struct {
	cfg  Config
	http *http.Client
	keys *keycache.Cache[*ecdsa.PrivateKey]
	log  *zap.Logger
	now  func() time.Time

	mu       sync.Mutex
	token    string
	issuedAt time.Time
}

// New constructs a Client. A nil logger is replaced with a no-op one.
func New(cfg Config, log *zap.Logger) *Client {
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	cfg.Host = strings.TrimRight(cfg.Host, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		keys: keycache.New(parseSigningKey),
		log:  log,
		now:  time.Now,
	}
}

// BuildAuthToken signs a fresh provider token: header {alg:ES256, kid}, claims {iss, iat}.
func (c *Client) BuildAuthToken(issuer, keyID, signingKey string) (string, error) {
	key, err := c.keys.Get(signingKey)
	if err != nil {
		return "", err
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.MapClaims{
		"iss": issuer,
		"iat": c.now().Unix(),
	})
	tok.Header["kid"] = keyID
	delete(tok.Header, "typ")
	return tok.SignedString(key)
}

// authToken returns the reusable provider token, rebuilding it once it ages out.
func (c *Client) authToken() (string, error) {
	if c.cfg.SigningKey == "" || c.cfg.KeyID == "" || c.cfg.TeamID == "" {
		return "", errNotConfigured
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && c.now().Sub(c.issuedAt) < tokenTTL {
		return c.token, nil
	}
	tok, err := c.BuildAuthToken(c.cfg.TeamID, c.cfg.KeyID, c.cfg.SigningKey)
	if err != nil {
		return "", fmt.Errorf("build provider token: %w", err)
	}
	c.token, c.issuedAt = tok, c.now()
	return tok, nil
}

// Notify delivers payload to address with the current provider token.
func (c *Client) Notify(ctx context.Context, address string, payload Payload) Result {
	tok, err := c.authToken()
	if err != nil {
		return Result{Error: err.Error()}
	}
	return c.Deliver(ctx, address, payload, tok)
}

// BackgroundPing sends a silent content-available notification.
func (c *Client) BackgroundPing(ctx context.Context, address string) Result {
	return c.Notify(ctx, address, Payload{Aps: Aps{ContentAvailable: 1}})
}

// Deliver performs one POST to the gateway. It never retries.
func (c *Client) Deliver(ctx context.Context, address string, payload Payload, token string) Result {
	body, err := json.Marshal(payload)
	if err != nil {
		return Result{Error: err.Error()}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Host+"/3/device/"+url.PathEscape(address), bytes.NewReader(body))
	if err != nil {
		return Result{Error: err.Error()}
	}
	pushType, priority := "background", "5"
	if payload.Aps.Alert != nil {
		pushType, priority = "alert", "10"
	}
	req.Header.Set("authorization", "bearer "+token)
	req.Header.Set("content-type", "application/json")
	req.Header.Set("apns-topic", c.cfg.Topic)
	req.Header.Set("apns-push-type", pushType)
	req.Header.Set("apns-priority", priority)

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn("push gateway unreachable", zap.String("device_prefix", Prefix(address)), zap.Error(err))
		return Result{Error: err.Error()}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return Result{OK: true, Status: resp.StatusCode}
	}
	res := Result{
		Status: resp.StatusCode,
		Body:   string(raw),
		Reason: reasonOf(raw),
		Error:  ErrRequestFailed,
	}
	c.log.Warn("push delivery rejected",
		zap.Int("status", res.Status),
		zap.String("reason", res.Reason),
		zap.String("device_prefix", Prefix(address)),
	)
	return res
}

// Prefix returns at most the first 8 characters of a device address, for logs.
func Prefix(address string) string {
	if len(address) > 8 {
		return address[:8]
	}
	return address
}

func reasonOf(body []byte) string {
	var v struct {
		Reason string `json:"reason"`
	}
	if json.Unmarshal(body, &v) != nil {
		return ""
	}
	return v.Reason
}

// parseSigningKey accepts a PEM block (PKCS#8 or SEC1) or base64 of one.
func parseSigningKey(material string) (*ecdsa.PrivateKey, error) {
	pemBytes := []byte(material)
	if !strings.Contains(material, "-----BEGIN") {
		decoded, err := codec.DecodeBase64(material)
		if err != nil {
			return nil, fmt.Errorf("signing key is neither PEM nor base64: %w", err)
		}
		pemBytes = decoded
	}
	key, err := jwt.ParseECPrivateKeyFromPEM(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("parse signing key: %w", err)
	}
	return key, nil
}
