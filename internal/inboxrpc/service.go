package inboxrpc

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "inbox.v1.Inbox"

// Full method names.
const (
	MethodSeal = "/" + ServiceName + "/Seal"
	MethodSend = "/" + ServiceName + "/Send"
	MethodSync = "/" + ServiceName + "/Sync"
	MethodAck  = "/" + ServiceName + "/Ack"
)

// InboxServer is implemented by the relay.
type InboxServer interface {
	Seal(context.Context, *SealRequest) (*SealResponse, error)
	Send(context.Context, *SendRequest) (*SendResponse, error)
	Sync(context.Context, *SyncRequest) (*SyncResponse, error)
	Ack(context.Context, *AckRequest) (*AckResponse, error)
}

// ServiceDesc describes inbox.v1.Inbox for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*InboxServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Seal", InboxServer.Seal),
		unary("Send", InboxServer.Send),
		unary("Sync", InboxServer.Sync),
		unary("Ack", InboxServer.Ack),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "inbox/v1/inbox",
}

// RegisterInboxServer registers srv on s.
func RegisterInboxServer(s grpc.ServiceRegistrar, srv InboxServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func unary[Req, Resp any](name string, call func(InboxServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	full := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(InboxServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: full}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(InboxServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}
