package postgres

import (
	"context"

	"github.com/and161185/datagate/internal/model"
	"github.com/and161185/datagate/internal/permission"
	"github.com/jackc/pgx/v5"
)

// ClaimRepo implements ClaimRepository using PostgreSQL.
type ClaimRepo struct{ db *DB }

// NewClaimRepo constructs a claim repository.
func NewClaimRepo(db *DB) *ClaimRepo { return &ClaimRepo{db: db} }

// Add inserts a claim unless the holder already has it.
func (r *ClaimRepo) Add(ctx context.Context, h model.Holder, c permission.Claim) error {
	const q = `INSERT INTO claims (holder_kind, holder_id, claim_type, claim_value) VALUES ($1,$2,$3,$4) ON CONFLICT DO NOTHING`
	kind, value := c.Encode()
	_, err := r.db.Pool.Exec(ctx, q, string(h.Kind), h.ID, kind, value)
	return mapErr(err)
}

// Remove deletes a claim if present.
func (r *ClaimRepo) Remove(ctx context.Context, h model.Holder, c permission.Claim) error {
	const q = `DELETE FROM claims WHERE holder_kind=$1 AND holder_id=$2 AND claim_type=$3 AND claim_value=$4`
	kind, value := c.Encode()
	_, err := r.db.Pool.Exec(ctx, q, string(h.Kind), h.ID, kind, value)
	return mapErr(err)
}

// RemoveScope deletes claims of the given kinds on exactly scope held by h.
func (r *ClaimRepo) RemoveScope(ctx context.Context, h model.Holder, scope permission.Scope, kinds ...permission.Kind) error {
	const q = `DELETE FROM claims WHERE holder_kind=$1 AND holder_id=$2 AND claim_value=$3 AND claim_type = ANY($4)`
	_, err := r.db.Pool.Exec(ctx, q, string(h.Kind), h.ID, scope.String(), kindNames(kinds))
	return mapErr(err)
}

// ListForHolders returns the claims of the given users and groups.
func (r *ClaimRepo) ListForHolders(ctx context.Context, holders []model.Holder) ([]model.HeldClaim, error) {
	const q = `
SELECT holder_kind, holder_id, claim_type, claim_value
FROM claims
WHERE (holder_kind='user' AND holder_id = ANY($1))
   OR (holder_kind='group' AND holder_id = ANY($2))`
	users := make([]string, 0, len(holders))
	groups := make([]string, 0, len(holders))
	for _, h := range holders {
		if h.Kind == model.HolderGroup {
			groups = append(groups, h.ID)
		} else {
			users = append(users, h.ID)
		}
	}
	rows, err := r.db.Pool.Query(ctx, q, users, groups)
	if err != nil {
		return nil, mapErr(err)
	}
	return scanClaims(rows)
}

// ListByScope returns every holder of a claim of the given kinds on scope.
func (r *ClaimRepo) ListByScope(ctx context.Context, scope permission.Scope, kinds ...permission.Kind) ([]model.HeldClaim, error) {
	const q = `
SELECT holder_kind, holder_id, claim_type, claim_value
FROM claims
WHERE claim_value=$1 AND claim_type = ANY($2)
ORDER BY holder_kind, holder_id`
	if len(kinds) == 0 {
		kinds = append(append([]permission.Kind{}, permission.DataKinds...), permission.KindDataOwner)
	}
	rows, err := r.db.Pool.Query(ctx, q, scope.String(), kindNames(kinds))
	if err != nil {
		return nil, mapErr(err)
	}
	return scanClaims(rows)
}

// scanClaims decodes claim rows; rows with malformed values are skipped.
func scanClaims(rows pgx.Rows) ([]model.HeldClaim, error) {
	defer rows.Close()
	var out []model.HeldClaim
	for rows.Next() {
		var hk, hid, kind, value string
		if err := rows.Scan(&hk, &hid, &kind, &value); err != nil {
			return nil, err
		}
		c, err := permission.Decode(kind, value)
		if err != nil {
			continue
		}
		out = append(out, model.HeldClaim{Holder: model.Holder{Kind: model.HolderKind(hk), ID: hid}, Claim: c})
	}
	return out, rows.Err()
}

func kindNames(kinds []permission.Kind) []string {
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}
