package grpcserver

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"net"
	"testing"

	"github.com/and161185/inbox-relay/internal/crypto"
	"github.com/and161185/inbox-relay/internal/errs"
	"github.com/and161185/inbox-relay/internal/inboxrpc"
	"github.com/and161185/inbox-relay/internal/limiter"
	"github.com/and161185/inbox-relay/internal/model"
	"github.com/and161185/inbox-relay/internal/push"
	"github.com/and161185/inbox-relay/internal/repository/memory"
	"github.com/and161185/inbox-relay/internal/service"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

const bufSize = 1 << 20

type stubNotifier struct {
	res     push.Result
	address string
}

func (s *stubNotifier) Notify(_ context.Context, address string, _ push.Payload) push.Result {
	s.address = address
	return s.res
}

type fixture struct {
	cl       *inboxrpc.Client
	cc       *grpc.ClientConn
	repo     *memory.InboxRepo
	notifier *stubNotifier
}

func startBufGRPC(t *testing.T, send limiter.Limiter) *fixture {
	t.Helper()
	repo := memory.NewInboxRepo()
	n := &stubNotifier{res: push.Result{OK: true, Status: 200}}
	svc := service.NewInboxService(repo, crypto.NewSealer(), n,
		service.Options{Secret: "s", MaxMessages: 2}, zaptest.NewLogger(t))

	lis := bufconn.Listen(bufSize)
	gs, _ := NewGRPCServer(New(svc), nil, send, zaptest.NewLogger(t))
	go func() { _ = gs.Serve(lis) }()

	dialer := func(context.Context, string) (net.Conn, error) { return lis.Dial() }
	cc, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(dialer), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = cc.Close(); gs.Stop(); _ = lis.Close() })
	return &fixture{cl: inboxrpc.NewClient(cc), cc: cc, repo: repo, notifier: n}
}

func newOwner(t *testing.T) (ed25519.PrivateKey, string, string) {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	pub, sig := crypto.SignOwner(priv)
	return priv, pub, sig
}

func wantCode(t *testing.T, err error, code codes.Code, msg string) {
	t.Helper()
	st, ok := status.FromError(err)
	if !ok || st.Code() != code {
		t.Fatalf("want %s, got %v", code, err)
	}
	if msg != "" && st.Message() != msg {
		t.Fatalf("want message %q, got %q", msg, st.Message())
	}
}

func TestServer_E2E_BasicFlow(t *testing.T) {
	t.Parallel()
	f := startBufGRPC(t, nil)
	ctx := context.Background()
	_, pub, sig := newOwner(t)

	sealed, err := f.cl.Seal(ctx, &inboxrpc.SealRequest{DeviceToken: "device-abc"})
	if err != nil || sealed.SealedRoute == "" {
		t.Fatalf("seal: %v, resp=%+v", err, sealed)
	}

	sent, err := f.cl.Send(ctx, &inboxrpc.SendRequest{RecipientPubkey: pub, Blob: "hello", SealedRoute: sealed.SealedRoute})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !sent.Notified || sent.APNsStatus != 200 || sent.MessageID == "" {
		t.Fatalf("send resp: %+v", sent)
	}
	if f.notifier.address != "device-abc" {
		t.Fatalf("notifier got %q", f.notifier.address)
	}

	synced, err := f.cl.Sync(ctx, &inboxrpc.SyncRequest{Pubkey: pub, Sig: sig})
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if len(synced.Messages) != 1 || synced.Messages[0].ID != sent.MessageID || synced.Messages[0].Blob != "hello" {
		t.Fatalf("sync resp: %+v", synced)
	}

	acked, err := f.cl.Ack(ctx, &inboxrpc.AckRequest{MessageIDs: []string{sent.MessageID}, Pubkey: pub, Sig: sig})
	if err != nil || acked.Deleted != 1 {
		t.Fatalf("ack: %v, resp=%+v", err, acked)
	}

	synced, err = f.cl.Sync(ctx, &inboxrpc.SyncRequest{Pubkey: pub, Sig: sig})
	if err != nil || synced.Messages == nil || len(synced.Messages) != 0 {
		t.Fatalf("sync after ack: %v, resp=%+v", err, synced)
	}
}

func TestServer_OwnerProofInMetadata(t *testing.T) {
	t.Parallel()
	f := startBufGRPC(t, nil)
	_, pub, sig := newOwner(t)

	id := uuid.Must(uuid.NewV4()).String()
	if err := f.repo.Insert(context.Background(), model.InboxMessage{ID: id, OwnerPubkey: pub, Blob: "b", CreatedAt: 1}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	ctx := inboxrpc.WithOwnerProof(context.Background(), pub, sig)
	synced, err := f.cl.Sync(ctx, &inboxrpc.SyncRequest{})
	if err != nil || len(synced.Messages) != 1 {
		t.Fatalf("sync: %v, resp=%+v", err, synced)
	}
	acked, err := f.cl.Ack(ctx, &inboxrpc.AckRequest{MessageIDs: []string{id}})
	if err != nil || acked.Deleted != 1 {
		t.Fatalf("ack: %v, resp=%+v", err, acked)
	}

	_, err = f.cl.Sync(context.Background(), &inboxrpc.SyncRequest{})
	wantCode(t, err, codes.Unauthenticated, "invalid_signature")

	_, err = f.cl.Sync(inboxrpc.WithOwnerProof(context.Background(), pub, "AAAA"), &inboxrpc.SyncRequest{})
	wantCode(t, err, codes.Unauthenticated, "invalid_signature")
}

func TestServer_ErrorMapping(t *testing.T) {
	t.Parallel()
	f := startBufGRPC(t, nil)
	ctx := context.Background()
	_, pub, sig := newOwner(t)
	_, other, otherSig := newOwner(t)

	_, err := f.cl.Seal(ctx, &inboxrpc.SealRequest{})
	wantCode(t, err, codes.InvalidArgument, "")

	_, err = f.cl.Send(ctx, &inboxrpc.SendRequest{RecipientPubkey: pub, Blob: "b", SealedRoute: "garbage!!"})
	wantCode(t, err, codes.InvalidArgument, "invalid_sealed_route")

	sealed, err := f.cl.Seal(ctx, &inboxrpc.SealRequest{DeviceToken: "dev"})
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	_, err = f.cl.Send(ctx, &inboxrpc.SendRequest{
		RecipientPubkey: pub, Blob: "b", SealedRoute: sealed.SealedRoute,
		SenderPubkey: other, SenderSig: otherSig,
	})
	wantCode(t, err, codes.Unauthenticated, "invalid_sender_signature")

	_, err = f.cl.Send(ctx, &inboxrpc.SendRequest{RecipientPubkey: pub, Blob: "b", SealedRoute: sealed.SealedRoute, SenderPubkey: other})
	wantCode(t, err, codes.InvalidArgument, "invalid_request")

	_, err = f.cl.Sync(ctx, &inboxrpc.SyncRequest{Pubkey: pub, Sig: otherSig})
	wantCode(t, err, codes.Unauthenticated, "invalid_signature")

	// capacity is 2
	var ids []string
	for i := 0; i < 2; i++ {
		r, err := f.cl.Send(ctx, &inboxrpc.SendRequest{RecipientPubkey: pub, Blob: "b", SealedRoute: sealed.SealedRoute})
		if err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
		ids = append(ids, r.MessageID)
	}
	_, err = f.cl.Send(ctx, &inboxrpc.SendRequest{RecipientPubkey: pub, Blob: "b", SealedRoute: sealed.SealedRoute})
	wantCode(t, err, codes.ResourceExhausted, "recipient_inbox_full")

	_, err = f.cl.Ack(ctx, &inboxrpc.AckRequest{MessageIDs: ids, Pubkey: other, Sig: otherSig})
	wantCode(t, err, codes.PermissionDenied, "unauthorized_deletion")
	if n, _ := f.repo.Count(ctx, pub); n != 2 {
		t.Fatalf("failed ack must delete nothing, count=%d", n)
	}

	_, err = f.cl.Ack(ctx, &inboxrpc.AckRequest{MessageIDs: []string{"not-a-uuid"}, Pubkey: pub, Sig: sig})
	wantCode(t, err, codes.InvalidArgument, "")
}

func TestServer_SendRateLimited(t *testing.T) {
	t.Parallel()
	f := startBufGRPC(t, limiter.NewMemory(limiter.Policy{Rate: 0.001, Burst: 1}))
	ctx := context.Background()
	_, pub, _ := newOwner(t)

	sealed, err := f.cl.Seal(ctx, &inboxrpc.SealRequest{DeviceToken: "dev"})
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	req := &inboxrpc.SendRequest{RecipientPubkey: pub, Blob: "b", SealedRoute: sealed.SealedRoute}
	if _, err := f.cl.Send(ctx, req); err != nil {
		t.Fatalf("first send: %v", err)
	}
	_, err = f.cl.Send(ctx, req)
	wantCode(t, err, codes.ResourceExhausted, "rate_limit_exceeded")
}

func TestServer_Health(t *testing.T) {
	t.Parallel()
	f := startBufGRPC(t, nil)

	resp, err := healthpb.NewHealthClient(f.cc).Check(context.Background(),
		&healthpb.HealthCheckRequest{Service: inboxrpc.ServiceName})
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("status = %v", resp.GetStatus())
	}
}

type brokenService struct{ service.InboxService }

func (brokenService) SyncOwned(context.Context, string) ([]model.InboxMessage, error) {
	return nil, errs.ErrStorage
}

func TestServer_StorageErrorIsInternal(t *testing.T) {
	t.Parallel()

	s := New(brokenService{})
	_, err := s.Sync(WithOwner(context.Background(), "alice"), &inboxrpc.SyncRequest{})
	wantCode(t, err, codes.Internal, "sync_failed")

	if err := toStatus(errors.New("surprise"), "ack_failed"); status.Code(err) != codes.Internal {
		t.Fatalf("unknown errors must map to Internal, got %v", err)
	}
}
