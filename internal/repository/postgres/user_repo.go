package postgres

import (
	"context"

	"github.com/and161185/datagate/internal/errs"
	"github.com/and161185/datagate/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

// PrincipalRepo implements PrincipalRepository using PostgreSQL.
type PrincipalRepo struct{ db *DB }

// NewPrincipalRepo constructs a principal repository.
func NewPrincipalRepo(db *DB) *PrincipalRepo { return &PrincipalRepo{db: db} }

// Create inserts a new principal row.
func (r *PrincipalRepo) Create(ctx context.Context, p *model.Principal) error {
	const q = `
INSERT INTO principals (id, username, email, locked)
VALUES ($1, $2, $3, $4)`
	_, err := r.db.Pool.Exec(ctx, q, p.ID, p.Username, p.Email, p.Locked)
	return mapErr(err)
}

// GetByID selects a principal by ID.
func (r *PrincipalRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Principal, error) {
	const q = `
SELECT id, username, email, locked, created_at
FROM principals WHERE id=$1`
	return scanPrincipal(r.db.Pool.QueryRow(ctx, q, id))
}

// GetByUsername selects a principal by username.
func (r *PrincipalRepo) GetByUsername(ctx context.Context, username string) (*model.Principal, error) {
	const q = `
SELECT id, username, email, locked, created_at
FROM principals WHERE username=$1`
	return scanPrincipal(r.db.Pool.QueryRow(ctx, q, username))
}

func scanPrincipal(row pgx.Row) (*model.Principal, error) {
	var p model.Principal
	if err := row.Scan(&p.ID, &p.Username, &p.Email, &p.Locked, &p.CreatedAt); err != nil {
		return nil, mapErr(err)
	}
	return &p, nil
}

// SetLocked updates the locked flag.
func (r *PrincipalRepo) SetLocked(ctx context.Context, id uuid.UUID, locked bool) error {
	const q = `UPDATE principals SET locked=$2 WHERE id=$1`
	tag, err := r.db.Pool.Exec(ctx, q, id, locked)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// Delete removes the principal, the claims it holds and (by cascade) its memberships.
func (r *PrincipalRepo) Delete(ctx context.Context, id uuid.UUID) error {
	const delClaims = `DELETE FROM claims WHERE holder_kind='user' AND holder_id=$1`
	const delPrincipal = `DELETE FROM principals WHERE id=$1`
	return r.db.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, delClaims, id.String()); err != nil {
			return mapErr(err)
		}
		if _, err := tx.Exec(ctx, delPrincipal, id); err != nil {
			return mapErr(err)
		}
		return nil
	})
}
