// Package httpserver exposes the inbox relay over HTTP/JSON using gin.
package httpserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/and161185/inbox-relay/internal/limiter"
	"github.com/and161185/inbox-relay/internal/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// HealthFunc reports whether backing dependencies are reachable.
type HealthFunc func(ctx context.Context) error

// Options carries the optional collaborators of Server.
type Options struct {
	Global limiter.Limiter // per-IP limit for every route; nil disables
	Send   limiter.Limiter // extra per-IP limit for /send; nil disables
	Health HealthFunc

	// TrustedProxies lists proxy IPs or CIDRs whose forwarding headers are
	// believed when resolving the client IP. nil trusts no proxy.
	TrustedProxies []string
	// TrustedPlatform names a CDN ("cloudflare", "appengine") or a raw header
	// carrying the client IP. Empty disables it.
	TrustedPlatform string
}

// Server wires the inbox service into gin handlers.
type Server struct {
	svc    service.InboxService
	opts   Options
	log    *zap.Logger
	engine *gin.Engine
}

// New constructs the server and its routes.
func New(svc service.InboxService, opts Options, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{svc: svc, opts: opts, log: log}
	s.engine = s.routes()
	return s
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	if err := r.SetTrustedProxies(s.opts.TrustedProxies); err != nil {
		s.log.Warn("invalid trusted proxies; trusting none", zap.Error(err))
		_ = r.SetTrustedProxies(nil)
	}
	r.TrustedPlatform = platformHeader(s.opts.TrustedPlatform)
	r.Use(requestID(), recovery(s.log), accessLog(s.log), cors())
	if s.opts.Global != nil {
		r.Use(rateLimit(s.opts.Global, "global", "Too many requests. Please try again later.", s.log))
	}
	r.NoRoute(func(c *gin.Context) { abort(c, http.StatusNotFound, codeNotFound, "Not found.") })

	r.GET("/health", s.health)
	r.POST("/seal", s.seal)

	send := []gin.HandlerFunc{}
	if s.opts.Send != nil {
		send = append(send, rateLimit(s.opts.Send, "send", "Too many send requests. Please try again later.", s.log))
	}
	r.POST("/send", append(send, s.send)...)
	r.GET("/sync", s.sync)
	r.POST("/ack", s.ack)

	owner := r.Group("/v1/owner", ownerAuth())
	owner.GET("/sync", s.ownerSync)
	owner.POST("/ack", s.ownerAck)
	return r
}

func platformHeader(name string) string {
	switch name {
	case "cloudflare":
		return gin.PlatformCloudflare
	case "appengine":
		return gin.PlatformGoogleAppEngine
	}
	return name
}

// GinMode returns the gin mode for the deployment: release in production,
// otherwise whatever GIN_MODE selected.
func GinMode(production bool) string {
	if production {
		return gin.ReleaseMode
	}
	return gin.Mode()
}

// Run serves on addr until ctx is canceled, then drains for up to 10 seconds.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shCtx); err != nil {
		return err
	}
	return nil
}
