package postgres

import (
	"context"

	"github.com/and161185/datagate/internal/errs"
	"github.com/and161185/datagate/internal/model"
	"github.com/and161185/datagate/internal/permission"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

// GroupRepo implements GroupRepository using PostgreSQL.
type GroupRepo struct{ db *DB }

// NewGroupRepo constructs a group repository.
func NewGroupRepo(db *DB) *GroupRepo { return &GroupRepo{db: db} }

// Create inserts the group row and its initial memberships.
func (r *GroupRepo) Create(ctx context.Context, g *model.Group) error {
	const ins = `INSERT INTO groups (name, manager_id) VALUES ($1,$2)`
	const mem = `INSERT INTO group_members (group_name, principal_id) VALUES ($1,$2) ON CONFLICT DO NOTHING`
	return r.db.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, ins, g.Name, nullableID(g.Manager)); err != nil {
			return mapErr(err)
		}
		for _, m := range g.Members {
			if _, err := tx.Exec(ctx, mem, g.Name, m); err != nil {
				return mapErr(err)
			}
		}
		return nil
	})
}

// Get loads a group and its members ordered by id.
func (r *GroupRepo) Get(ctx context.Context, name string) (*model.Group, error) {
	const sel = `SELECT name, manager_id, created_at FROM groups WHERE name=$1`
	const members = `SELECT principal_id FROM group_members WHERE group_name=$1 ORDER BY principal_id`

	var (
		g       model.Group
		manager *uuid.UUID
	)
	if err := r.db.Pool.QueryRow(ctx, sel, name).Scan(&g.Name, &manager, &g.CreatedAt); err != nil {
		return nil, mapErr(err)
	}
	if manager != nil {
		g.Manager = *manager
	}

	rows, err := r.db.Pool.Query(ctx, members, name)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		g.Members = append(g.Members, id)
	}
	return &g, rows.Err()
}

// ListForMember returns names of groups containing id.
func (r *GroupRepo) ListForMember(ctx context.Context, id uuid.UUID) ([]string, error) {
	const q = `SELECT group_name FROM group_members WHERE principal_id=$1 ORDER BY group_name`
	rows, err := r.db.Pool.Query(ctx, q, id)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// AddMember inserts a membership if absent.
func (r *GroupRepo) AddMember(ctx context.Context, name string, id uuid.UUID) error {
	const q = `INSERT INTO group_members (group_name, principal_id) VALUES ($1,$2) ON CONFLICT DO NOTHING`
	_, err := r.db.Pool.Exec(ctx, q, name, id)
	return mapErr(err)
}

// RemoveMember deletes a membership if present.
func (r *GroupRepo) RemoveMember(ctx context.Context, name string, id uuid.UUID) error {
	const q = `DELETE FROM group_members WHERE group_name=$1 AND principal_id=$2`
	_, err := r.db.Pool.Exec(ctx, q, name, id)
	return mapErr(err)
}

// SetManager records the group's manager.
func (r *GroupRepo) SetManager(ctx context.Context, name string, id uuid.UUID) error {
	const q = `UPDATE groups SET manager_id=$2 WHERE name=$1`
	tag, err := r.db.Pool.Exec(ctx, q, name, id)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// Delete removes the group together with everything that only exists for it.
func (r *GroupRepo) Delete(ctx context.Context, name string) error {
	const delHeld = `DELETE FROM claims WHERE holder_kind='group' AND holder_id=$1`
	const delManager = `DELETE FROM claims WHERE claim_type=$1 AND claim_value=$2`
	const delMessages = `DELETE FROM messages WHERE group_name=$1`
	const delGroup = `DELETE FROM groups WHERE name=$1`

	kind, value := permission.ManagerClaim(name).Encode()
	return r.db.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, delHeld, name); err != nil {
			return mapErr(err)
		}
		if _, err := tx.Exec(ctx, delManager, kind, value); err != nil {
			return mapErr(err)
		}
		if _, err := tx.Exec(ctx, delMessages, name); err != nil {
			return mapErr(err)
		}
		if _, err := tx.Exec(ctx, delGroup, name); err != nil {
			return mapErr(err)
		}
		return nil
	})
}

func nullableID(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}
