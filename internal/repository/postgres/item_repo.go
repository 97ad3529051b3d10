package postgres

import (
	"context"

	"github.com/and161185/datagate/internal/errs"
	"github.com/and161185/datagate/internal/model"
	"github.com/and161185/datagate/internal/permission"
	"github.com/jackc/pgx/v5"
)

// ItemRepo implements ItemRepository using PostgreSQL.
type ItemRepo struct{ db *DB }

// NewItemRepo constructs an item repository.
func NewItemRepo(db *DB) *ItemRepo { return &ItemRepo{db: db} }

// Insert stores a new item and its owner claim in one transaction.
func (r *ItemRepo) Insert(ctx context.Context, it model.StoredItem, owner model.Holder) error {
	const ins = `INSERT INTO data_items (type_name, id, payload, created_at, updated_at) VALUES ($1,$2,$3,$4,$5)`
	const claim = `INSERT INTO claims (holder_kind, holder_id, claim_type, claim_value) VALUES ($1,$2,$3,$4) ON CONFLICT DO NOTHING`

	kind, value := permission.OwnerClaim(it.TypeName, it.ID).Encode()
	return r.db.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, ins, it.TypeName, it.ID, it.Payload, it.CreatedAt, it.UpdatedAt); err != nil {
			return mapErr(err)
		}
		if _, err := tx.Exec(ctx, claim, string(owner.Kind), owner.ID, kind, value); err != nil {
			return mapErr(err)
		}
		return nil
	})
}

// Get returns a single item.
func (r *ItemRepo) Get(ctx context.Context, typeName, id string) (*model.StoredItem, error) {
	const q = `
SELECT type_name, id, payload, created_at, updated_at
FROM data_items WHERE type_name=$1 AND id=$2`
	var it model.StoredItem
	row := r.db.Pool.QueryRow(ctx, q, typeName, id)
	if err := row.Scan(&it.TypeName, &it.ID, &it.Payload, &it.CreatedAt, &it.UpdatedAt); err != nil {
		return nil, mapErr(err)
	}
	return &it, nil
}

// Update replaces the payload of an existing item.
func (r *ItemRepo) Update(ctx context.Context, it model.StoredItem) error {
	const q = `UPDATE data_items SET payload=$3, updated_at=$4 WHERE type_name=$1 AND id=$2`
	tag, err := r.db.Pool.Exec(ctx, q, it.TypeName, it.ID, it.Payload, it.UpdatedAt)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// Delete removes the item and all claims whose value addresses it.
func (r *ItemRepo) Delete(ctx context.Context, typeName, id string) error {
	const del = `DELETE FROM data_items WHERE type_name=$1 AND id=$2`
	const delClaims = `DELETE FROM claims WHERE claim_value=$1`

	scope := permission.InstanceScope(typeName, id).String()
	return r.db.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, del, typeName, id)
		if err != nil {
			return mapErr(err)
		}
		if tag.RowsAffected() == 0 {
			return errs.ErrNotFound
		}
		if _, err := tx.Exec(ctx, delClaims, scope); err != nil {
			return mapErr(err)
		}
		return nil
	})
}

// List returns all items of a type ordered by id.
func (r *ItemRepo) List(ctx context.Context, typeName string) ([]model.StoredItem, error) {
	const q = `
SELECT type_name, id, payload, created_at, updated_at
FROM data_items
WHERE type_name=$1
ORDER BY id ASC`
	rows, err := r.db.Pool.Query(ctx, q, typeName)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []model.StoredItem
	for rows.Next() {
		var it model.StoredItem
		if err = rows.Scan(&it.TypeName, &it.ID, &it.Payload, &it.CreatedAt, &it.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}
