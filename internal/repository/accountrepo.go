package repository

import (
	"context"

	"github.com/and161185/datagate/internal/model"
	"github.com/gofrs/uuid/v5"
)

// MessageRepository manages message rows whose lifetime follows their parties.
type MessageRepository interface {
	// Create stores a message.
	Create(ctx context.Context, m *model.Message) error
	// DeleteOrphaned removes messages with no surviving party once leaving is
	// gone: direct messages whose other side is leaving or already missing,
	// and group messages whose group no longer exists.
	DeleteOrphaned(ctx context.Context, leaving uuid.UUID) (int64, error)
}

// DeletionRepository stores account deletion requests.
type DeletionRepository interface {
	// Put creates or replaces the request of a principal.
	Put(ctx context.Context, r *model.DeletionRequest) error
	// Get loads the request of a principal.
	Get(ctx context.Context, principalID uuid.UUID) (*model.DeletionRequest, error)
	// SetState advances the request state.
	SetState(ctx context.Context, principalID uuid.UUID, state model.DeletionState) error
	// SetNewOwner records who inherits the principal's items.
	SetNewOwner(ctx context.Context, principalID, owner uuid.UUID) error
}
