package inboxrpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// Metadata keys for the owner proof.
const (
	MDPubkey    = "x-inbox-pubkey"
	MDSignature = "x-inbox-signature"
)

// Client is a typed inbox.v1.Inbox client using the JSON codec.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps cc.
func NewClient(cc grpc.ClientConnInterface) *Client { return &Client{cc: cc} }

// WithOwnerProof attaches the owner proof to outgoing metadata.
func WithOwnerProof(ctx context.Context, pubkey, sig string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, MDPubkey, pubkey, MDSignature, sig)
}

func (c *Client) Seal(ctx context.Context, in *SealRequest, opts ...grpc.CallOption) (*SealResponse, error) {
	out := new(SealResponse)
	return out, c.invoke(ctx, MethodSeal, in, out, opts)
}

func (c *Client) Send(ctx context.Context, in *SendRequest, opts ...grpc.CallOption) (*SendResponse, error) {
	out := new(SendResponse)
	return out, c.invoke(ctx, MethodSend, in, out, opts)
}

func (c *Client) Sync(ctx context.Context, in *SyncRequest, opts ...grpc.CallOption) (*SyncResponse, error) {
	out := new(SyncResponse)
	return out, c.invoke(ctx, MethodSync, in, out, opts)
}

func (c *Client) Ack(ctx context.Context, in *AckRequest, opts ...grpc.CallOption) (*AckResponse, error) {
	out := new(AckResponse)
	return out, c.invoke(ctx, MethodAck, in, out, opts)
}

func (c *Client) invoke(ctx context.Context, method string, in, out any, opts []grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.ForceCodec(Codec{})}, opts...)
	return c.cc.Invoke(ctx, method, in, out, opts...)
}
