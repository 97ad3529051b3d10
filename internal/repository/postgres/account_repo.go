package postgres

import (
	"context"

	"github.com/and161185/datagate/internal/errs"
	"github.com/and161185/datagate/internal/model"
	"github.com/gofrs/uuid/v5"
)

// MessageRepo implements MessageRepository using PostgreSQL.
type MessageRepo struct{ db *DB }

// NewMessageRepo constructs a message repository.
func NewMessageRepo(db *DB) *MessageRepo { return &MessageRepo{db: db} }

// Create inserts a message.
func (r *MessageRepo) Create(ctx context.Context, m *model.Message) error {
	const q = `
INSERT INTO messages (id, sender_id, recipient_id, group_name, body)
VALUES ($1, $2, $3, $4, $5)`
	var group *string
	if m.GroupName != "" {
		group = &m.GroupName
	}
	_, err := r.db.Pool.Exec(ctx, q, m.ID, m.SenderID, nullableID(m.RecipientID), group, m.Body)
	return mapErr(err)
}

// DeleteOrphaned removes messages that no surviving party can still see.
func (r *MessageRepo) DeleteOrphaned(ctx context.Context, leaving uuid.UUID) (int64, error) {
	const q = `
DELETE FROM messages m
WHERE (m.group_name IS NOT NULL AND NOT EXISTS (SELECT 1 FROM groups g WHERE g.name = m.group_name))
   OR (m.group_name IS NULL
       AND (m.sender_id = $1 OR NOT EXISTS (SELECT 1 FROM principals p WHERE p.id = m.sender_id))
       AND (m.recipient_id = $1 OR NOT EXISTS (SELECT 1 FROM principals p WHERE p.id = m.recipient_id)))`
	tag, err := r.db.Pool.Exec(ctx, q, leaving)
	if err != nil {
		return 0, mapErr(err)
	}
	return tag.RowsAffected(), nil
}

// DeletionRepo implements DeletionRepository using PostgreSQL.
type DeletionRepo struct{ db *DB }

// NewDeletionRepo constructs a deletion request repository.
func NewDeletionRepo(db *DB) *DeletionRepo { return &DeletionRepo{db: db} }

// Put upserts the request of a principal.
func (r *DeletionRepo) Put(ctx context.Context, d *model.DeletionRequest) error {
	const q = `
INSERT INTO deletion_requests (principal_id, token_hash, token_salt, state, requested_at, expires_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, now())
ON CONFLICT (principal_id) DO UPDATE
SET token_hash=EXCLUDED.token_hash, token_salt=EXCLUDED.token_salt, state=EXCLUDED.state,
    requested_at=EXCLUDED.requested_at, expires_at=EXCLUDED.expires_at, updated_at=now()`
	_, err := r.db.Pool.Exec(ctx, q, d.PrincipalID, d.TokenHash, d.TokenSalt, string(d.State), d.RequestedAt, d.ExpiresAt)
	return mapErr(err)
}

// Get loads the request of a principal.
func (r *DeletionRepo) Get(ctx context.Context, principalID uuid.UUID) (*model.DeletionRequest, error) {
	const q = `
SELECT principal_id, token_hash, token_salt, state, requested_at, expires_at, updated_at, new_owner
FROM deletion_requests WHERE principal_id=$1`
	var (
		d     model.DeletionRequest
		state string
		owner *uuid.UUID
	)
	err := r.db.Pool.QueryRow(ctx, q, principalID).
		Scan(&d.PrincipalID, &d.TokenHash, &d.TokenSalt, &state, &d.RequestedAt, &d.ExpiresAt, &d.UpdatedAt, &owner)
	if err != nil {
		return nil, mapErr(err)
	}
	d.State = model.DeletionState(state)
	if owner != nil {
		d.NewOwner = *owner
	}
	return &d, nil
}

// SetState advances the state of a request.
func (r *DeletionRepo) SetState(ctx context.Context, principalID uuid.UUID, state model.DeletionState) error {
	const q = `UPDATE deletion_requests SET state=$2, updated_at=now() WHERE principal_id=$1`
	tag, err := r.db.Pool.Exec(ctx, q, principalID, string(state))
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// SetNewOwner records who inherits the principal's items.
func (r *DeletionRepo) SetNewOwner(ctx context.Context, principalID, owner uuid.UUID) error {
	const q = `UPDATE deletion_requests SET new_owner=$2, updated_at=now() WHERE principal_id=$1`
	tag, err := r.db.Pool.Exec(ctx, q, principalID, owner)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}
