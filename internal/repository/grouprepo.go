package repository

import (
	"context"

	"github.com/and161185/datagate/internal/model"
	"github.com/gofrs/uuid/v5"
)

// GroupRepository manages groups, their manager and memberships.
type GroupRepository interface {
	// Create inserts a group with its manager and initial members.
	Create(ctx context.Context, g *model.Group) error
	// Get loads a group with its members.
	Get(ctx context.Context, name string) (*model.Group, error)
	// ListForMember returns the names of groups id belongs to.
	ListForMember(ctx context.Context, id uuid.UUID) ([]string, error)
	// AddMember adds id to the group; idempotent.
	AddMember(ctx context.Context, name string, id uuid.UUID) error
	// RemoveMember removes id from the group; idempotent.
	RemoveMember(ctx context.Context, name string, id uuid.UUID) error
	// SetManager records id as the group's manager.
	SetManager(ctx context.Context, name string, id uuid.UUID) error
	// Delete removes the group, its memberships, the claims it holds, manager
	// claims naming it and its messages in one transaction. Missing groups are a no-op.
	Delete(ctx context.Context, name string) error
}
