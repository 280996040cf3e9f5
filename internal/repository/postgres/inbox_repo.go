package postgres

import (
	"context"

	"github.com/and161185/inbox-relay/internal/errs"
	"github.com/and161185/inbox-relay/internal/model"
	"github.com/jackc/pgx/v5"
)

// InboxRepo implements InboxRepository using PostgreSQL.
type InboxRepo struct{ db *DB }

// NewInboxRepo constructs an inbox repository.
func NewInboxRepo(db *DB) *InboxRepo { return &InboxRepo{db: db} }

const insertMessage = `INSERT INTO inbox (id, owner_pubkey, blob, created_at) VALUES ($1,$2,$3,$4)`

// Insert stores a message.
func (r *InboxRepo) Insert(ctx context.Context, msg model.InboxMessage) error {
	_, err := r.db.Pool.Exec(ctx, insertMessage, msg.ID, msg.OwnerPubkey, msg.Blob, msg.CreatedAt)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

// InsertCapped serializes inserts per owner with a transaction-scoped advisory
// lock so the count check and the insert cannot interleave.
func (r *InboxRepo) InsertCapped(ctx context.Context, msg model.InboxMessage, max int) (err error) {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if e := tx.Commit(ctx); e != nil {
			err = e
		}
	}()

	const lock = `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`
	const cnt = `SELECT COUNT(*) FROM inbox WHERE owner_pubkey=$1`

	if _, err = tx.Exec(ctx, lock, msg.OwnerPubkey); err != nil {
		return err
	}
	var n int64
	if err = tx.QueryRow(ctx, cnt, msg.OwnerPubkey).Scan(&n); err != nil {
		return err
	}
	if n >= int64(max) {
		return errs.ErrInboxFull
	}
	if _, err = tx.Exec(ctx, insertMessage, msg.ID, msg.OwnerPubkey, msg.Blob, msg.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return errs.ErrAlreadyExists
		}
		return err
	}
	return nil
}

// List returns owner's messages oldest first.
func (r *InboxRepo) List(ctx context.Context, owner string) ([]model.InboxMessage, error) {
	const q = `
SELECT id, owner_pubkey, blob, created_at
FROM inbox
WHERE owner_pubkey=$1
ORDER BY created_at ASC, id ASC`
	rows, err := r.db.Pool.Query(ctx, q, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.InboxMessage{}
	for rows.Next() {
		var m model.InboxMessage
		if err = rows.Scan(&m.ID, &m.OwnerPubkey, &m.Blob, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Count returns the number of messages held for owner.
func (r *InboxRepo) Count(ctx context.Context, owner string) (int, error) {
	const q = `SELECT COUNT(*) FROM inbox WHERE owner_pubkey=$1`
	var n int64
	if err := r.db.Pool.QueryRow(ctx, q, owner).Scan(&n); err != nil {
		return 0, err
	}
	return int(n), nil
}

// OwnedIDs returns the subset of ids owned by owner.
func (r *InboxRepo) OwnedIDs(ctx context.Context, ids []string, owner string) ([]string, error) {
	if len(ids) == 0 {
		return []string{}, nil
	}
	const q = `SELECT id FROM inbox WHERE owner_pubkey=$1 AND id = ANY($2)`
	rows, err := r.db.Pool.Query(ctx, q, owner, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]string, 0, len(ids))
	for rows.Next() {
		var id string
		if err = rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Delete removes messages by id. An empty list is a no-op.
func (r *InboxRepo) Delete(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	const q = `DELETE FROM inbox WHERE id = ANY($1)`
	tag, err := r.db.Pool.Exec(ctx, q, ids)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// PurgeOlderThan removes messages created strictly before cutoff.
func (r *InboxRepo) PurgeOlderThan(ctx context.Context, cutoff int64) (int64, error) {
	const q = `DELETE FROM inbox WHERE created_at < $1`
	tag, err := r.db.Pool.Exec(ctx, q, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
