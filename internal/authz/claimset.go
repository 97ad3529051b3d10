// Package authz turns stored claims into authorization decisions.
//
// Aggregator loads the flattened claim set of a principal on every call.
// Resolver is a pure function over that set. Authorizer glues the two and
// is the only surface the services depend on.
package authz

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/datagate/internal/errs"
	"github.com/and161185/datagate/internal/model"
	"github.com/and161185/datagate/internal/permission"
	"github.com/and161185/datagate/internal/repository"
)

// ClaimSet is everything a principal holds for one request.
type ClaimSet struct {
	PrincipalID uuid.UUID
	Locked      bool
	Groups      []string // memberships, AllUsers included
	Claims      []permission.Claim
}

func (s ClaimSet) has(k permission.Kind) bool {
	for _, c := range s.Claims {
		if c.Kind == k {
			return true
		}
	}
	return false
}

// IsSiteAdmin reports a PermissionGroupSiteAdmin claim.
func (s ClaimSet) IsSiteAdmin() bool { return s.has(permission.KindGroupSiteAdmin) }

// IsAdmin reports a PermissionGroupAdmin claim.
func (s ClaimSet) IsAdmin() bool { return s.has(permission.KindGroupAdmin) }

// ManagedGroups lists groups named by the set's manager claims.
func (s ClaimSet) ManagedGroups() []string {
	var out []string
	for _, c := range s.Claims {
		if c.Kind == permission.KindGroupManager {
			out = append(out, c.Group)
		}
	}
	return out
}

// Manages reports whether the principal manages group.
func (s ClaimSet) Manages(group string) bool {
	for _, g := range s.ManagedGroups() {
		if g == group {
			return true
		}
	}
	return false
}

// Owns reports an owner claim on exactly scope.
func (s ClaimSet) Owns(scope permission.Scope) bool {
	if !scope.IsInstance() {
		return false
	}
	for _, c := range s.Claims {
		if c.Kind == permission.KindDataOwner && c.Scope == scope {
			return true
		}
	}
	return false
}

// Aggregator builds claim sets from storage.
type Aggregator struct {
	principals repository.PrincipalRepository
	groups     repository.GroupRepository
	claims     repository.ClaimRepository
	log        *zap.Logger
}

// NewAggregator constructs an Aggregator.
func NewAggregator(p repository.PrincipalRepository, g repository.GroupRepository, c repository.ClaimRepository, log *zap.Logger) *Aggregator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Aggregator{principals: p, groups: g, claims: c, log: log}
}

// Aggregate returns the principal's direct claims together with the claims
// of every group it belongs to and of AllUsers. Locked accounts fail before
// any claim is read.
func (a *Aggregator) Aggregate(ctx context.Context, principalID uuid.UUID) (ClaimSet, error) {
	if principalID == uuid.Nil {
		return ClaimSet{}, errs.ErrInvalidPrincipal
	}
	p, err := a.principals.GetByID(ctx, principalID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return ClaimSet{}, fmt.Errorf("%w: %s", errs.ErrInvalidPrincipal, principalID)
		}
		return ClaimSet{}, err
	}
	if p.Locked {
		return ClaimSet{PrincipalID: p.ID, Locked: true}, errs.ErrAccountLocked
	}

	groups, err := a.groups.ListForMember(ctx, p.ID)
	if err != nil {
		return ClaimSet{}, err
	}
	groups = withAllUsers(groups)

	holders := make([]model.Holder, 0, len(groups)+1)
	holders = append(holders, model.UserHolder(p.ID))
	for _, g := range groups {
		holders = append(holders, model.GroupHolder(g))
	}

	held, err := a.claims.ListForHolders(ctx, holders)
	if err != nil {
		return ClaimSet{}, err
	}
	set := ClaimSet{PrincipalID: p.ID, Groups: groups, Claims: make([]permission.Claim, 0, len(held))}
	for _, h := range held {
		set.Claims = append(set.Claims, h.Claim)
	}
	a.log.Debug("claims aggregated",
		zap.String("principal", p.ID.String()),
		zap.Int("groups", len(groups)),
		zap.Int("claims", len(set.Claims)))
	return set, nil
}

func withAllUsers(groups []string) []string {
	for _, g := range groups {
		if g == model.GroupAllUsers {
			return groups
		}
	}
	return append(groups, model.GroupAllUsers)
}
