// Command inbox-relay starts the encrypted inbox relay (HTTP and optional gRPC).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/reflection"

	"github.com/and161185/inbox-relay/internal/config"
	"github.com/and161185/inbox-relay/internal/crypto"
	"github.com/and161185/inbox-relay/internal/limiter"
	"github.com/and161185/inbox-relay/internal/logging"
	"github.com/and161185/inbox-relay/internal/migrate"
	"github.com/and161185/inbox-relay/internal/push"
	"github.com/and161185/inbox-relay/internal/repository"
	"github.com/and161185/inbox-relay/internal/repository/memory"
	"github.com/and161185/inbox-relay/internal/repository/postgres"
	grpcserver "github.com/and161185/inbox-relay/internal/server/grpc"
	httpserver "github.com/and161185/inbox-relay/internal/server/http"
	"github.com/and161185/inbox-relay/internal/service"
	"github.com/and161185/inbox-relay/internal/worker"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// main loads configuration, wires the store, limiters and push client, and
// serves until SIGINT or SIGTERM.
func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}

	logger, err := logging.New(cfg.Production())
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("env", cfg.Env),
		zap.String("store", cfg.Store),
		zap.String("http", cfg.HTTPAddr),
		zap.String("grpc", cfg.GRPCAddr),
	)

	// Context with OS signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Store
	var (
		repo   repository.InboxRepository
		health httpserver.HealthFunc
	)
	switch cfg.Store {
	case config.StorePostgres:
		if err := migrate.Up(ctx, cfg.DatabaseDSN, logger); err != nil {
			logger.Fatal("migrate up", zap.Error(err))
		}
		db, err := postgres.New(ctx, cfg.DatabaseDSN)
		if err != nil {
			logger.Fatal("postgres", zap.Error(err))
		}
		defer db.Close()
		repo = postgres.NewInboxRepo(db)
		health = db.Ping
	default:
		logger.Warn("using in-memory store; messages are lost on restart")
		repo = memory.NewInboxRepo()
	}

	// Rate limiters
	global := limiter.Policy{Rate: cfg.Rate.RPS, Burst: cfg.Rate.Burst}
	send := limiter.Policy{Rate: cfg.Rate.SendRPS, Burst: cfg.Rate.SendBurst}
	var globalLim, sendLim limiter.Limiter
	if cfg.Redis.Addr != "" {
		rdb := goredis.NewClient(&goredis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer func() { _ = rdb.Close() }()
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := rdb.Ping(pctx).Err(); err != nil {
			logger.Warn("redis unreachable; limiter requests will pass until it recovers", zap.Error(err))
		}
		cancel()
		globalLim = limiter.NewRedis(rdb, "global", global)
		sendLim = limiter.NewRedis(rdb, "send", send)
	} else {
		globalLim = limiter.NewMemory(global)
		sendLim = limiter.NewMemory(send)
	}

	// Services
	pusher := push.New(push.Config{
		Host:       cfg.APNs.Host,
		Topic:      cfg.APNs.Topic,
		TeamID:     cfg.APNs.TeamID,
		KeyID:      cfg.APNs.KeyID,
		SigningKey: cfg.APNs.P8Key,
		Timeout:    cfg.APNs.Timeout,
	}, logger)
	svc := service.NewInboxService(repo, crypto.NewSealer(), pusher, service.Options{
		Secret:         cfg.PushSecret,
		MaxMessages:    cfg.MaxMessages,
		Retention:      cfg.Retention,
		StrictCapacity: cfg.Strict,
	}, logger)

	cleanup := worker.NewRunner("inbox-cleanup", svc.Cleanup, cfg.Cleanup, logger)
	cleanup.Start(ctx)
	defer cleanup.Stop()

	g, gctx := errgroup.WithContext(ctx)

	// gRPC (optional)
	if cfg.GRPCAddr != "" {
		var opts []grpc.ServerOption
		if cfg.TLSCert != "" {
			creds, err := credentials.NewServerTLSFromFile(cfg.TLSCert, cfg.TLSKey)
			if err != nil {
				logger.Fatal("failed to load TLS cert/key", zap.Error(err))
			}
			opts = append(opts, grpc.Creds(creds))
		} else {
			logger.Warn("gRPC without TLS")
		}
		gs, hs := grpcserver.NewGRPCServer(grpcserver.New(svc), globalLim, sendLim, logger, opts...)
		if !cfg.Production() {
			reflection.Register(gs)
		}
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			logger.Fatal("listen", zap.Error(err))
		}
		g.Go(func() error {
			logger.Info("grpc listening", zap.String("addr", cfg.GRPCAddr), zap.Bool("tls", cfg.TLSCert != ""))
			return gs.Serve(lis)
		})
		g.Go(func() error {
			<-gctx.Done()
			hs.Shutdown()
			// graceful shutdown
			done := make(chan struct{})
			go func() {
				gs.GracefulStop()
				close(done)
			}()
			select {
			case <-done:
			case <-time.After(5 * time.Second):
				gs.Stop()
			}
			return nil
		})
	}

	// HTTP
	gin.SetMode(httpserver.GinMode(cfg.Production()))
	hsrv := httpserver.New(svc, httpserver.Options{
		Global:          globalLim,
		Send:            sendLim,
		Health:          health,
		TrustedProxies:  cfg.TrustedProxies,
		TrustedPlatform: cfg.TrustedPlatform,
	}, logger)
	g.Go(func() error { return hsrv.Run(gctx, cfg.HTTPAddr) })

	if err := g.Wait(); err != nil {
		logger.Error("server error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
