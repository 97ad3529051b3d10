package repository

import (
	"context"

	"github.com/and161185/datagate/internal/model"
)

// ItemRepository persists entities of every registered type as generic rows.
type ItemRepository interface {
	// Insert stores the item and issues the owner claim to owner in one transaction.
	Insert(ctx context.Context, item model.StoredItem, owner model.Holder) error

	// Get returns a single item.
	Get(ctx context.Context, typeName, id string) (*model.StoredItem, error)

	// Update replaces the payload and update timestamp of an existing item.
	Update(ctx context.Context, item model.StoredItem) error

	// Delete removes the item and every claim scoped to it in one transaction.
	Delete(ctx context.Context, typeName, id string) error

	// List returns every item of a type ordered by id.
	List(ctx context.Context, typeName string) ([]model.StoredItem, error)
}
