// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/and161185/datagate/internal/model"
	"github.com/gofrs/uuid/v5"
)

// PrincipalRepository provides CRUD access for accounts.
type PrincipalRepository interface {
	// Create inserts a new principal; duplicate username/email yields errs.ErrConflict.
	Create(ctx context.Context, p *model.Principal) error
	// GetByID loads a principal by ID.
	GetByID(ctx context.Context, id uuid.UUID) (*model.Principal, error)
	// GetByUsername loads a principal by username.
	GetByUsername(ctx context.Context, username string) (*model.Principal, error)
	// SetLocked sets or clears the locked flag.
	SetLocked(ctx context.Context, id uuid.UUID, locked bool) error
	// Delete removes the principal together with its memberships and the
	// claims it holds. Deleting a missing principal is a no-op.
	Delete(ctx context.Context, id uuid.UUID) error
}
