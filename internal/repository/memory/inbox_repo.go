// Package memory is an in-process inbox store for development and tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/and161185/inbox-relay/internal/errs"
	"github.com/and161185/inbox-relay/internal/model"
)

type entry struct {
	msg model.InboxMessage
	seq uint64 // insertion order, breaks created_at ties
}

// InboxRepo keeps messages in mutex-guarded maps. Contents are lost on restart.
type InboxRepo struct {
	mu      sync.RWMutex
	seq     uint64
	byID    map[string]*entry
	byOwner map[string]map[string]struct{}
}

// NewInboxRepo constructs an empty store.
func NewInboxRepo() *InboxRepo {
	return &InboxRepo{
		byID:    make(map[string]*entry),
		byOwner: make(map[string]map[string]struct{}),
	}
}

// Insert stores a message.
func (r *InboxRepo) Insert(ctx context.Context, msg model.InboxMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.insertLocked(msg)
}

// InsertCapped checks capacity and inserts under the same lock.
func (r *InboxRepo) InsertCapped(ctx context.Context, msg model.InboxMessage, max int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.byOwner[msg.OwnerPubkey]) >= max {
		return errs.ErrInboxFull
	}
	return r.insertLocked(msg)
}

func (r *InboxRepo) insertLocked(msg model.InboxMessage) error {
	if _, dup := r.byID[msg.ID]; dup {
		return errs.ErrAlreadyExists
	}
	r.seq++
	r.byID[msg.ID] = &entry{msg: msg, seq: r.seq}
	ids := r.byOwner[msg.OwnerPubkey]
	if ids == nil {
		ids = make(map[string]struct{})
		r.byOwner[msg.OwnerPubkey] = ids
	}
	ids[msg.ID] = struct{}{}
	return nil
}

// List returns owner's messages by created_at, then insertion order.
func (r *InboxRepo) List(ctx context.Context, owner string) ([]model.InboxMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.byOwner[owner]))
	for id := range r.byOwner[owner] {
		entries = append(entries, r.byID[id])
	}
	r.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].msg.CreatedAt != entries[j].msg.CreatedAt {
			return entries[i].msg.CreatedAt < entries[j].msg.CreatedAt
		}
		return entries[i].seq < entries[j].seq
	})
	out := make([]model.InboxMessage, len(entries))
	for i, e := range entries {
		out[i] = e.msg
	}
	return out, nil
}

// Count returns the number of messages held for owner.
func (r *InboxRepo) Count(ctx context.Context, owner string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byOwner[owner]), nil
}

// OwnedIDs returns the subset of ids owned by owner, without duplicates.
func (r *InboxRepo) OwnedIDs(ctx context.Context, ids []string, owner string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	owned := r.byOwner[owner]
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := owned[id]; !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, nil
}

// Delete removes messages by id.
func (r *InboxRepo) Delete(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, id := range ids {
		if r.removeLocked(id) {
			n++
		}
	}
	return n, nil
}

// PurgeOlderThan removes messages created strictly before cutoff.
func (r *InboxRepo) PurgeOlderThan(ctx context.Context, cutoff int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, e := range r.byID {
		if e.msg.CreatedAt < cutoff && r.removeLocked(id) {
			n++
		}
	}
	return n, nil
}

func (r *InboxRepo) removeLocked(id string) bool {
	e, ok := r.byID[id]
	if !ok {
		return false
	}
	delete(r.byID, id)
	owned := r.byOwner[e.msg.OwnerPubkey]
	delete(owned, id)
	if len(owned) == 0 {
		delete(r.byOwner, e.msg.OwnerPubkey)
	}
	return true
}
