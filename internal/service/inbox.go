// Package service contains the inbox relay application service.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/and161185/inbox-relay/internal/crypto"
	"github.com/and161185/inbox-relay/internal/errs"
	"github.com/and161185/inbox-relay/internal/model"
	"github.com/and161185/inbox-relay/internal/push"
	"github.com/and161185/inbox-relay/internal/repository"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
)

// Defaults applied by NewInboxService when Options leave them zero.
const (
	DefaultMaxMessages = 1000
	DefaultRetention   = 24 * time.Hour

	alertTitle = "New message"
	alertBody  = "You have a new message"
)

// InboxService defines the relay operations exposed to transports.
type InboxService interface {
	// Seal turns a raw device address into an opaque sealed route.
	Seal(ctx context.Context, address string) (string, error)
	// Send stores a message for the recipient and notifies the sealed route.
	Send(ctx context.Context, req model.SendRequest) (model.SendResult, error)
	// Sync verifies the ownership proof and lists the owner's messages.
	Sync(ctx context.Context, pubkey, sig string) ([]model.InboxMessage, error)
	// SyncOwned lists messages of an already authenticated owner.
	SyncOwned(ctx context.Context, owner string) ([]model.InboxMessage, error)
	// Ack verifies the ownership proof and deletes ids, all or nothing.
	Ack(ctx context.Context, pubkey, sig string, ids []string) (int64, error)
	// AckOwned deletes ids for an already authenticated owner.
	AckOwned(ctx context.Context, owner string, ids []string) (int64, error)
	// Cleanup purges messages older than the retention window.
	Cleanup(ctx context.Context) int64
}

// Sealer seals and unseals device addresses.
type Sealer interface {
	Seal(address, secret string) (string, error)
	Unseal(route, secret string) (string, error)
}

// Notifier delivers a push notification to a device address.
type Notifier interface {
	Notify(ctx context.Context, address string, payload push.Payload) push.Result
}

// Options tune InboxServiceImpl.
type Options struct {
	Secret         string
	MaxMessages    int
	Retention      time.Duration
	StrictCapacity bool
}

type InboxServiceImpl struct {
	repo   repository.InboxRepository
	sealer Sealer
	push   Notifier
	opts   Options
	log    *zap.Logger
	now    func() time.Time
}

// NewInboxService constructs the service with its dependencies.
func NewInboxService(repo repository.InboxRepository, sealer Sealer, notifier Notifier, opts Options, log *zap.Logger) *InboxServiceImpl {
	if opts.MaxMessages <= 0 {
		opts.MaxMessages = DefaultMaxMessages
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &InboxServiceImpl{repo: repo, sealer: sealer, push: notifier, opts: opts, log: log, now: time.Now}
}

// Seal encrypts address under the relay secret.
func (s *InboxServiceImpl) Seal(_ context.Context, address string) (string, error) {
	if address == "" {
		return "", fmt.Errorf("%w: empty device token", errs.ErrInvalidInput)
	}
	route, err := s.sealer.Seal(address, s.opts.Secret)
	if err != nil {
		s.log.Error("seal failed", zap.Error(err))
		if errors.Is(err, errs.ErrSealFailed) {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", errs.ErrSealFailed, err)
	}
	return route, nil
}

// Send runs: sender signature, unseal, capacity, insert, notify.
// Once the insert succeeds the message is accepted; push failures only
// show up in the result.
func (s *InboxServiceImpl) Send(ctx context.Context, req model.SendRequest) (model.SendResult, error) {
	if req.RecipientPubkey == "" || req.Blob == "" || req.SealedRoute == "" {
		return model.SendResult{}, fmt.Errorf("%w: recipient_pubkey, blob and sealed_route are required", errs.ErrInvalidInput)
	}
	// Stored as PostgreSQL TEXT, which cannot hold NUL.
	if strings.ContainsRune(req.Blob, 0) || strings.ContainsRune(req.RecipientPubkey, 0) {
		return model.SendResult{}, fmt.Errorf("%w: recipient_pubkey and blob must not contain NUL", errs.ErrInvalidInput)
	}
	if (req.SenderPubkey == "") != (req.SenderSig == "") {
		return model.SendResult{}, fmt.Errorf("%w: sender_pubkey and sender_sig must be given together", errs.ErrInvalidInput)
	}
	if req.SenderPubkey != "" {
		msg := crypto.SendChallenge(req.RecipientPubkey, req.Blob, req.SealedRoute)
		if !crypto.Verify(req.SenderPubkey, req.SenderSig, msg) {
			return model.SendResult{}, errs.ErrInvalidSenderSignature
		}
	}

	address, err := s.sealer.Unseal(req.SealedRoute, s.opts.Secret)
	if err != nil {
		s.log.Info("unseal rejected", zap.Error(err))
		return model.SendResult{}, errs.ErrInvalidSealedRoute
	}

	id, err := uuid.NewV4()
	if err != nil {
		return model.SendResult{}, fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}
	msg := model.InboxMessage{
		ID:          id.String(),
		OwnerPubkey: req.RecipientPubkey,
		Blob:        req.Blob,
		CreatedAt:   s.now().Unix(),
	}
	if err := s.store(ctx, msg); err != nil {
		return model.SendResult{}, err
	}

	res := s.push.Notify(ctx, address, push.Payload{
		Aps: push.Aps{
			Alert: &push.Alert{Title: alertTitle, Body: alertBody},
			Sound: "default",
			Badge: 1,
		},
		Custom: map[string]any{"message_id": msg.ID},
	})
	out := model.SendResult{MessageID: msg.ID, Notified: res.OK, APNsStatus: res.Status}
	if res.OK {
		s.log.Info("push delivered", zap.String("message_id", msg.ID), zap.Int("status", res.Status))
		return out, nil
	}
	out.APNsError = res.Error
	if out.APNsError == "" {
		out.APNsError = res.Body
	}
	reason := res.Reason
	if reason == "" {
		reason = res.Error
	}
	s.log.Warn("push delivery failed",
		zap.String("message_id", msg.ID),
		zap.Int("status", res.Status),
		zap.String("reason", reason),
		zap.String("device_prefix", push.Prefix(address)),
	)
	return out, nil
}

// store applies the capacity ceiling and inserts msg.
func (s *InboxServiceImpl) store(ctx context.Context, msg model.InboxMessage) error {
	if s.opts.StrictCapacity {
		err := s.repo.InsertCapped(ctx, msg, s.opts.MaxMessages)
		switch {
		case errors.Is(err, errs.ErrInboxFull):
			return errs.ErrInboxFull
		case err != nil:
			s.log.Error("insert message", zap.String("message_id", msg.ID), zap.Error(err))
			return fmt.Errorf("%w: %v", errs.ErrStorage, err)
		}
		return nil
	}

	n, err := s.repo.Count(ctx, msg.OwnerPubkey)
	if err != nil {
		s.log.Error("count messages", zap.Error(err))
		return fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}
	if n >= s.opts.MaxMessages {
		return errs.ErrInboxFull
	}
	if err := s.repo.Insert(ctx, msg); err != nil {
		s.log.Error("insert message", zap.String("message_id", msg.ID), zap.Error(err))
		return fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}
	return nil
}

// Sync returns the owner's messages oldest first.
func (s *InboxServiceImpl) Sync(ctx context.Context, pubkey, sig string) ([]model.InboxMessage, error) {
	if !crypto.VerifyOwner(pubkey, sig) {
		return nil, errs.ErrInvalidSignature
	}
	return s.SyncOwned(ctx, pubkey)
}

// SyncOwned lists messages for an owner whose proof was checked by the transport.
func (s *InboxServiceImpl) SyncOwned(ctx context.Context, owner string) ([]model.InboxMessage, error) {
	msgs, err := s.repo.List(ctx, owner)
	if err != nil {
		s.log.Error("list messages", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}
	return msgs, nil
}

// Ack deletes ids after checking the ownership proof.
func (s *InboxServiceImpl) Ack(ctx context.Context, pubkey, sig string, ids []string) (int64, error) {
	if !crypto.VerifyOwner(pubkey, sig) {
		return 0, errs.ErrInvalidSignature
	}
	return s.AckOwned(ctx, pubkey, ids)
}

// AckOwned deletes ids only if every one of them belongs to owner.
func (s *InboxServiceImpl) AckOwned(ctx context.Context, owner string, ids []string) (int64, error) {
	ids = dedupe(ids)
	if len(ids) == 0 {
		return 0, nil
	}
	owned, err := s.repo.OwnedIDs(ctx, ids, owner)
	if err != nil {
		s.log.Error("ownership lookup", zap.Error(err))
		return 0, fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}
	if len(dedupe(owned)) != len(ids) {
		return 0, errs.ErrUnauthorizedDeletion
	}
	n, err := s.repo.Delete(ctx, ids)
	if err != nil {
		s.log.Error("delete messages", zap.Error(err))
		return 0, fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}
	return n, nil
}

// Cleanup purges expired messages. Failures are logged, never returned.
func (s *InboxServiceImpl) Cleanup(ctx context.Context) int64 {
	cutoff := s.now().Add(-s.opts.Retention).Unix()
	n, err := s.repo.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		s.log.Error("inbox cleanup failed", zap.Int64("cutoff", cutoff), zap.Error(err))
		return 0
	}
	s.log.Info("inbox cleanup", zap.Int64("removed", n), zap.Int64("cutoff", cutoff))
	return n
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
