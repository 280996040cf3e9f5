// Package grpcserver exposes the inbox relay over gRPC (inbox.v1.Inbox).
package grpcserver

import (
	"context"
	"errors"

	"github.com/and161185/inbox-relay/internal/convert"
	"github.com/and161185/inbox-relay/internal/errs"
	"github.com/and161185/inbox-relay/internal/inboxrpc"
	"github.com/and161185/inbox-relay/internal/limiter"
	"github.com/and161185/inbox-relay/internal/service"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// Status messages, matching the HTTP error codes.
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
)

// Server wires the inbox service into gRPC handlers.
type Server struct {
	svc service.InboxService
}

var _ inboxrpc.InboxServer = (*Server)(nil)

// New constructs a gRPC server with the injected service.
func New(svc service.InboxService) *Server {
	return &Server{svc: svc}
}

// NewGRPCServer builds a grpc.Server with the standard interceptor chain,
// the inbox service and a health service. Inbox calls use the "json"
// content-subtype registered by inboxrpc; health keeps protobuf.
func NewGRPCServer(srv *Server, global, send limiter.Limiter, log *zap.Logger, opts ...grpc.ServerOption) (*grpc.Server, *health.Server) {
	opts = append([]grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			RecoverUnary(log),
			LoggingUnary(log),
			RateLimitUnary(global, send, log),
			OwnerUnary(),
		),
	}, opts...)
	gs := grpc.NewServer(opts...)
	inboxrpc.RegisterInboxServer(gs, srv)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	hs.SetServingStatus(inboxrpc.ServiceName, healthpb.HealthCheckResponse_SERVING)
	return gs, hs
}

// Seal encrypts a device token into a sealed route.
func (s *Server) Seal(ctx context.Context, req *inboxrpc.SealRequest) (*inboxrpc.SealResponse, error) {
	token, err := convert.FromRPCSeal(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	route, err := s.svc.Seal(ctx, token)
	if err != nil {
		return nil, toStatus(err, codeSealFailed)
	}
	return &inboxrpc.SealResponse{SealedRoute: route}, nil
}

// Send stores a message and notifies the recipient device.
func (s *Server) Send(ctx context.Context, req *inboxrpc.SendRequest) (*inboxrpc.SendResponse, error) {
	in, err := convert.FromRPCSend(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	res, err := s.svc.Send(ctx, in)
	if err != nil {
		return nil, toStatus(err, codeStorageFailed)
	}
	return convert.ToRPCSendResponse(res), nil
}

// Sync lists the owner's messages. The proof comes from the request or,
// when the request carries none, from verified metadata.
func (s *Server) Sync(ctx context.Context, req *inboxrpc.SyncRequest) (*inboxrpc.SyncResponse, error) {
	if req.Pubkey != "" || req.Sig != "" {
		msgs, err := s.svc.Sync(ctx, req.Pubkey, req.Sig)
		if err != nil {
			return nil, toStatus(err, codeSyncFailed)
		}
		return &inboxrpc.SyncResponse{Messages: convert.ToRPCMessages(msgs)}, nil
	}
	owner, ok := OwnerFromCtx(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, codeInvalidSignature)
	}
	msgs, err := s.svc.SyncOwned(ctx, owner)
	if err != nil {
		return nil, toStatus(err, codeSyncFailed)
	}
	return &inboxrpc.SyncResponse{Messages: convert.ToRPCMessages(msgs)}, nil
}

// Ack deletes acknowledged messages, all or nothing.
func (s *Server) Ack(ctx context.Context, req *inboxrpc.AckRequest) (*inboxrpc.AckResponse, error) {
	ids, err := convert.FromRPCAckIDs(req.MessageIDs)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	var n int64
	if req.Pubkey != "" || req.Sig != "" {
		n, err = s.svc.Ack(ctx, req.Pubkey, req.Sig, ids)
	} else if owner, ok := OwnerFromCtx(ctx); ok {
		n, err = s.svc.AckOwned(ctx, owner, ids)
	} else {
		return nil, status.Error(codes.Unauthenticated, codeInvalidSignature)
	}
	if err != nil {
		return nil, toStatus(err, codeAckFailed)
	}
	return &inboxrpc.AckResponse{Deleted: n}, nil
}

// toStatus maps service errors to gRPC codes; anything unknown is Internal
// with a fixed message.
func toStatus(err error, fallback string) error {
	switch {
	case errors.Is(err, errs.ErrInvalidInput):
		return status.Error(codes.InvalidArgument, codeInvalidRequest)
	case errors.Is(err, errs.ErrSealFailed):
		return status.Error(codes.InvalidArgument, codeSealFailed)
	case errors.Is(err, errs.ErrInvalidSealedRoute):
		return status.Error(codes.InvalidArgument, codeInvalidSealedRoute)
	case errors.Is(err, errs.ErrInvalidSenderSignature):
		return status.Error(codes.Unauthenticated, codeInvalidSenderSignature)
	case errors.Is(err, errs.ErrInvalidSignature):
		return status.Error(codes.Unauthenticated, codeInvalidSignature)
	case errors.Is(err, errs.ErrUnauthorizedDeletion):
		return status.Error(codes.PermissionDenied, codeUnauthorizedDeletion)
	case errors.Is(err, errs.ErrInboxFull):
		return status.Error(codes.ResourceExhausted, codeInboxFull)
	default:
		return status.Error(codes.Internal, fallback)
	}
}
