package repository

import (
	"context"

	"github.com/and161185/datagate/internal/model"
	"github.com/and161185/datagate/internal/permission"
)

// ClaimRepository stores claims attached to users and groups. Values are
// decoded at this boundary; rows that fail to decode are skipped.
type ClaimRepository interface {
	// Add attaches a claim to a holder; adding an existing claim is a no-op.
	Add(ctx context.Context, h model.Holder, c permission.Claim) error
	// Remove detaches a claim; removing a missing claim is a no-op.
	Remove(ctx context.Context, h model.Holder, c permission.Claim) error
	// RemoveScope detaches every claim of the given kinds on exactly scope from h.
	RemoveScope(ctx context.Context, h model.Holder, scope permission.Scope, kinds ...permission.Kind) error
	// ListForHolders returns the claims of all given holders.
	ListForHolders(ctx context.Context, holders []model.Holder) ([]model.HeldClaim, error)
	// ListByScope returns claims of the given kinds (all scoped kinds when
	// none given) whose value is exactly scope.
	ListByScope(ctx context.Context, scope permission.Scope, kinds ...permission.Kind) ([]model.HeldClaim, error)
}
