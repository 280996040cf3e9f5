// Package repository declares storage interfaces used by services.
package repository

import (
	"context"

	"github.com/and161185/inbox-relay/internal/model"
)

// InboxRepository stores pending inbox messages.
type InboxRepository interface {
	// Insert stores a new message. A duplicate id yields errs.ErrAlreadyExists.
	Insert(ctx context.Context, msg model.InboxMessage) error

	// InsertCapped atomically checks the owner's message count against max and
	// inserts. It returns errs.ErrInboxFull when the owner already holds max messages.
	InsertCapped(ctx context.Context, msg model.InboxMessage, max int) error

	// List returns all messages of owner ordered by created_at ascending.
	List(ctx context.Context, owner string) ([]model.InboxMessage, error)

	// Count returns the number of messages held for owner.
	Count(ctx context.Context, owner string) (int, error)

	// OwnedIDs returns the subset of ids that belong to owner.
	OwnedIDs(ctx context.Context, ids []string, owner string) ([]string, error)

	// Delete removes messages by id and reports how many rows went away.
	Delete(ctx context.Context, ids []string) (int64, error)

	// PurgeOlderThan removes messages with created_at strictly before cutoff (unix seconds).
	PurgeOlderThan(ctx context.Context, cutoff int64) (int64, error)
}
