package grpcserver

import (
	"context"
	"errors"
	"math"
	"net"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/and161185/inbox-relay/internal/crypto"
	"github.com/and161185/inbox-relay/internal/inboxrpc"
	"github.com/and161185/inbox-relay/internal/limiter"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// LoggingUnary returns a unary server interceptor for structured logging.
func LoggingUnary(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := next(ctx, req)
		code := status.Code(err)

		// metadata only, never payloads
		log.Info("grpc",
			zap.String("method", info.FullMethod),
			zap.String("code", code.String()),
			zap.Duration("dur", time.Since(start)),
			zap.String("peer", remoteAddr(ctx)),
		)
		return resp, err
	}
}

// RecoverUnary returns a unary server interceptor that recovers from panics.
func RecoverUnary(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("panic",
					zap.Any("reason", r),
					zap.ByteString("stack", debug.Stack()),
					zap.String("method", info.FullMethod),
				)
				err = status.Error(codes.Internal, "internal")
			}
		}()
		return next(ctx, req)
	}
}

// RateLimitUnary charges every call against global and Send calls against
// send as well. Either limiter may be nil. Backend errors let the call through.
func RateLimitUnary(global, send limiter.Limiter, log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		ip := remoteIP(ctx)
		if err := charge(ctx, global, "grpc", ip, log); err != nil {
			return nil, err
		}
		if info.FullMethod == inboxrpc.MethodSend {
			if err := charge(ctx, send, "send", ip, log); err != nil {
				return nil, err
			}
		}
		return next(ctx, req)
	}
}

func charge(ctx context.Context, l limiter.Limiter, scope, ip string, log *zap.Logger) error {
	if l == nil {
		return nil
	}
	ok, retry, err := l.Allow(ctx, limiter.IPKey(scope, ip))
	if err != nil {
		log.Warn("rate limiter unavailable", zap.String("scope", scope), zap.Error(err))
		return nil
	}
	if ok {
		return nil
	}
	if retry > 0 {
		// no transport stream when the interceptor is invoked directly
		_ = grpc.SetHeader(ctx, metadata.Pairs("retry-after", strconv.Itoa(int(math.Ceil(retry.Seconds())))))
	}
	return status.Error(codes.ResourceExhausted, codeRateLimited)
}

// OwnerUnary verifies an owner proof carried in metadata and stores the
// pubkey with WithOwner. Calls without proof metadata pass untouched.
func OwnerUnary() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		pk, sig, err := ownerProofFromMD(ctx)
		if errors.Is(err, errNoProof) {
			return next(ctx, req)
		}
		if err != nil || !crypto.VerifyOwner(pk, sig) {
			return nil, status.Error(codes.Unauthenticated, codeInvalidSignature)
		}
		return next(WithOwner(ctx, pk), req)
	}
}

func remoteAddr(ctx context.Context) string {
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return p.Addr.String()
	}
	return ""
}

func remoteIP(ctx context.Context) string {
	addr := remoteAddr(ctx)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
