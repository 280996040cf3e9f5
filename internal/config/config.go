// Package config loads relay settings from .env, the environment and flags.
package config

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backends.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config holds all relay settings.
type Config struct {
	HTTPAddr string
	GRPCAddr string // empty disables the gRPC listener
	Env      string

	Store       string
	DatabaseDSN string

	PushSecret  string
	APNs        APNsConfig
	MaxMessages int
	Retention   time.Duration
	Cleanup     time.Duration
	Strict      bool

	Redis RedisConfig
	Rate  RateConfig

	TLSCert string
	TLSKey  string

	// TrustedProxies are proxy IPs/CIDRs allowed to set X-Forwarded-For.
	// Empty trusts none and keys rate limits on the TCP peer.
	TrustedProxies  []string
	TrustedPlatform string
}

// APNsConfig holds push provider credentials.
type APNsConfig struct {
	P8Key   string
	TeamID  string
	KeyID   string
	Topic   string
	Host    string
	Timeout time.Duration
}

// RedisConfig selects the shared limiter backend. Empty Addr means in-process limiting.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RateConfig holds token-bucket parameters for the global and send limits.
type RateConfig struct {
	RPS       float64
	Burst     int
	SendRPS   float64
	SendBurst int
}

// Load reads ".env" if present, then the environment, then args.
func Load(args []string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	c := &Config{}
	fs := flag.NewFlagSet("inbox-relay", flag.ContinueOnError)
	fs.StringVar(&c.HTTPAddr, "http-addr", getEnv("HTTP_ADDR", ":8080"), "HTTP listen address")
	fs.StringVar(&c.GRPCAddr, "grpc-addr", getEnv("GRPC_ADDR", ""), "gRPC listen address (empty disables)")
	fs.StringVar(&c.Env, "env", getEnv("APP_ENV", "development"), "environment: development|production")
	fs.StringVar(&c.Store, "store", getEnv("STORE", StorePostgres), "message store: postgres|memory")
	fs.StringVar(&c.DatabaseDSN, "dsn", getEnv("DATABASE_DSN", ""), "PostgreSQL DSN")
	fs.StringVar(&c.PushSecret, "push-secret", getEnv("PUSH_SECRET", ""), "sealed route secret (required)")

	fs.StringVar(&c.APNs.P8Key, "apple-p8-key", getEnv("APPLE_P8_KEY", ""), "APNs signing key, PEM or base64 PEM")
	fs.StringVar(&c.APNs.TeamID, "apple-team-id", getEnv("APPLE_TEAM_ID", ""), "Apple team id")
	fs.StringVar(&c.APNs.KeyID, "apple-key-id", getEnv("APPLE_KEY_ID", ""), "APNs key id")
	fs.StringVar(&c.APNs.Topic, "apns-topic", getEnv("APNS_TOPIC", ""), "APNs topic (bundle id)")
	fs.StringVar(&c.APNs.Host, "apns-host", getEnv("APNS_HOST", "https://api.push.apple.com"), "APNs endpoint")
	fs.DurationVar(&c.APNs.Timeout, "apns-timeout", getEnvDuration("APNS_TIMEOUT", 10*time.Second), "APNs request timeout")

	fs.IntVar(&c.MaxMessages, "max-messages", getEnvInt("INBOX_MAX_MESSAGES", 1000), "per-recipient message ceiling")
	fs.DurationVar(&c.Retention, "retention", getEnvDuration("INBOX_RETENTION", 24*time.Hour), "message retention")
	fs.DurationVar(&c.Cleanup, "cleanup-interval", getEnvDuration("CLEANUP_INTERVAL", time.Hour), "purge interval")
	fs.BoolVar(&c.Strict, "strict-capacity", getEnvBool("STRICT_CAPACITY", false), "enforce the ceiling atomically")

	fs.StringVar(&c.Redis.Addr, "redis-addr", getEnv("REDIS_ADDR", ""), "Redis address for shared rate limits")
	fs.StringVar(&c.Redis.Password, "redis-password", getEnv("REDIS_PASSWORD", ""), "Redis password")
	fs.IntVar(&c.Redis.DB, "redis-db", getEnvInt("REDIS_DB", 0), "Redis database")

	fs.Float64Var(&c.Rate.RPS, "rate-rps", getEnvFloat("RATE_LIMIT_RPS", 5), "global requests/s per IP")
	fs.IntVar(&c.Rate.Burst, "rate-burst", getEnvInt("RATE_LIMIT_BURST", 20), "global burst per IP")
	fs.Float64Var(&c.Rate.SendRPS, "send-rate-rps", getEnvFloat("SEND_RATE_LIMIT_RPS", 1), "send requests/s per IP")
	fs.IntVar(&c.Rate.SendBurst, "send-rate-burst", getEnvInt("SEND_RATE_LIMIT_BURST", 10), "send burst per IP")

	fs.StringVar(&c.TLSCert, "tls-cert", getEnv("TLS_CERT", ""), "gRPC TLS certificate (PEM)")
	fs.StringVar(&c.TLSKey, "tls-key", getEnv("TLS_KEY", ""), "gRPC TLS private key (PEM)")

	var proxies string
	fs.StringVar(&proxies, "trusted-proxies", getEnv("TRUSTED_PROXIES", ""), "comma separated proxy IPs/CIDRs trusted for X-Forwarded-For")
	fs.StringVar(&c.TrustedPlatform, "trusted-platform", getEnv("TRUSTED_PLATFORM", ""), "CDN client IP header: cloudflare|appengine|<header>")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	c.TrustedProxies = splitList(proxies)
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks required settings and ranges.
func (c *Config) Validate() error {
	var problems []error
	if c.PushSecret == "" {
		problems = append(problems, errors.New("PUSH_SECRET is required"))
	}
	switch c.Store {
	case StorePostgres:
		if c.DatabaseDSN == "" {
			problems = append(problems, errors.New("DATABASE_DSN is required for the postgres store"))
		}
	case StoreMemory:
	default:
		problems = append(problems, fmt.Errorf("unknown store %q", c.Store))
	}
	if c.MaxMessages <= 0 {
		problems = append(problems, errors.New("INBOX_MAX_MESSAGES must be positive"))
	}
	if c.Retention <= 0 || c.Cleanup <= 0 {
		problems = append(problems, errors.New("INBOX_RETENTION and CLEANUP_INTERVAL must be positive"))
	}
	if c.Rate.RPS <= 0 || c.Rate.SendRPS <= 0 || c.Rate.Burst <= 0 || c.Rate.SendBurst <= 0 {
		problems = append(problems, errors.New("rate limits must be positive"))
	}
	if (c.TLSCert == "") != (c.TLSKey == "") {
		problems = append(problems, errors.New("TLS_CERT and TLS_KEY must be set together"))
	}
	for _, p := range c.TrustedProxies {
		if net.ParseIP(p) == nil {
			if _, _, err := net.ParseCIDR(p); err != nil {
				problems = append(problems, fmt.Errorf("TRUSTED_PROXIES: %q is not an IP or CIDR", p))
			}
		}
	}
	return errors.Join(problems...)
}

// Production reports whether APP_ENV selects production behaviour.
func (c *Config) Production() bool { return c.Env == "production" }

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return v
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v, err := strconv.ParseFloat(getEnv(key, ""), 64); err == nil {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, err := strconv.ParseBool(getEnv(key, "")); err == nil {
		return v
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, err := time.ParseDuration(getEnv(key, "")); err == nil {
		return v
	}
	return fallback
}
