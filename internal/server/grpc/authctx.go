package grpcserver

import (
	"context"
	"errors"
	"strings"

	"github.com/and161185/inbox-relay/internal/inboxrpc"
	"google.golang.org/grpc/metadata"
)

type ctxKey string

const ownerKey ctxKey = "inbox.owner"

var errNoProof = errors.New("no owner proof")

// WithOwner stores an authenticated owner pubkey in context.
func WithOwner(ctx context.Context, pubkey string) context.Context {
	return context.WithValue(ctx, ownerKey, pubkey)
}

// OwnerFromCtx fetches the owner pubkey from context.
func OwnerFromCtx(ctx context.Context) (string, bool) {
	pk, ok := ctx.Value(ownerKey).(string)
	return pk, ok && pk != ""
}

// ownerProofFromMD reads x-inbox-pubkey and x-inbox-signature.
// errNoProof means neither key is present.
func ownerProofFromMD(ctx context.Context) (pubkey, sig string, err error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", "", errNoProof
	}
	pubkey = first(md.Get(inboxrpc.MDPubkey))
	sig = first(md.Get(inboxrpc.MDSignature))
	switch {
	case pubkey == "" && sig == "":
		return "", "", errNoProof
	case pubkey == "" || sig == "":
		return "", "", errors.New("incomplete owner proof")
	}
	return pubkey, sig, nil
}

func first(vs []string) string {
	for _, v := range vs {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
