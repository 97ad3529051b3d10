package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/datagate/internal/authz"
	"github.com/and161185/datagate/internal/entity"
	"github.com/and161185/datagate/internal/errs"
	"github.com/and161185/datagate/internal/metrics"
	"github.com/and161185/datagate/internal/model"
	"github.com/and161185/datagate/internal/permission"
	"github.com/and161185/datagate/internal/repository"
)

// ShareService grants and revokes data-level claims on behalf of an actor.
type ShareService interface {
	ShareWithUser(ctx context.Context, actor, target uuid.UUID, typeName, instanceID string, level permission.Level) error
	ShareWithGroup(ctx context.Context, actor uuid.UUID, group, typeName, instanceID string, level permission.Level) error
	ShareWithAll(ctx context.Context, actor uuid.UUID, typeName, instanceID string, level permission.Level) error
	HideFromUser(ctx context.Context, actor, target uuid.UUID, typeName, instanceID string) error
	HideFromGroup(ctx context.Context, actor uuid.UUID, group, typeName, instanceID string) error
	HideFromAll(ctx context.Context, actor uuid.UUID, typeName, instanceID string) error
	// ListShares returns who holds data-level claims on exactly the given scope.
	ListShares(ctx context.Context, actor uuid.UUID, typeName, instanceID string) ([]model.ShareRecord, error)
}

// ClaimSource yields claim sets and the resolver to evaluate them with.
// *authz.ClaimsAuthorizer satisfies it.
type ClaimSource interface {
	Claims(ctx context.Context, principalID uuid.UUID) (authz.ClaimSet, error)
	Resolver() *authz.Resolver
}

type ShareServiceImpl struct {
	reg        *entity.Registry
	source     ClaimSource
	claims     repository.ClaimRepository
	groups     repository.GroupRepository
	principals repository.PrincipalRepository
	log        *zap.Logger
}

var _ ShareService = (*ShareServiceImpl)(nil)

// NewShareService constructs ShareService.
func NewShareService(
	reg *entity.Registry,
	source ClaimSource,
	claims repository.ClaimRepository,
	groups repository.GroupRepository,
	principals repository.PrincipalRepository,
	log *zap.Logger,
) *ShareServiceImpl {
	if log == nil {
		log = zap.NewNop()
	}
	return &ShareServiceImpl{reg: reg, source: source, claims: claims, groups: groups, principals: principals, log: log}
}

// ShareWithUser sets target's level on the scope.
func (s *ShareServiceImpl) ShareWithUser(ctx context.Context, actor, target uuid.UUID, typeName, instanceID string, level permission.Level) error {
	if _, err := s.principals.GetByID(ctx, target); err != nil {
		return err
	}
	return s.share(ctx, actor, model.UserHolder(target), typeName, instanceID, level)
}

// ShareWithGroup sets the group's level on the scope.
func (s *ShareServiceImpl) ShareWithGroup(ctx context.Context, actor uuid.UUID, group, typeName, instanceID string, level permission.Level) error {
	if _, err := s.groups.Get(ctx, group); err != nil {
		return err
	}
	return s.share(ctx, actor, model.GroupHolder(group), typeName, instanceID, level)
}

// ShareWithAll sets the AllUsers group's level on the scope.
func (s *ShareServiceImpl) ShareWithAll(ctx context.Context, actor uuid.UUID, typeName, instanceID string, level permission.Level) error {
	return s.share(ctx, actor, model.GroupHolder(model.GroupAllUsers), typeName, instanceID, level)
}

// HideFromUser removes target's data-level claims on the scope.
func (s *ShareServiceImpl) HideFromUser(ctx context.Context, actor, target uuid.UUID, typeName, instanceID string) error {
	return s.hide(ctx, actor, model.UserHolder(target), typeName, instanceID)
}

// HideFromGroup removes the group's data-level claims on the scope.
func (s *ShareServiceImpl) HideFromGroup(ctx context.Context, actor uuid.UUID, group, typeName, instanceID string) error {
	return s.hide(ctx, actor, model.GroupHolder(group), typeName, instanceID)
}

// HideFromAll removes the scope from AllUsers only; individual grants stay.
func (s *ShareServiceImpl) HideFromAll(ctx context.Context, actor uuid.UUID, typeName, instanceID string) error {
	return s.hide(ctx, actor, model.GroupHolder(model.GroupAllUsers), typeName, instanceID)
}

// ListShares needs View on the scope.
func (s *ShareServiceImpl) ListShares(ctx context.Context, actor uuid.UUID, typeName, instanceID string) ([]model.ShareRecord, error) {
	if _, err := s.reg.Lookup(typeName); err != nil {
		return nil, err
	}
	set, err := s.source.Claims(ctx, actor)
	if err != nil {
		return nil, err
	}
	if d := s.source.Resolver().Resolve(set, typeName, instanceID, permission.OpView); !d.Allowed() {
		return nil, errs.ErrUnauthorized
	}
	scope := permission.InstanceScope(typeName, instanceID)
	held, err := s.claims.ListByScope(ctx, scope, permission.DataKinds...)
	if err != nil {
		return nil, err
	}
	out := make([]model.ShareRecord, 0, len(held))
	for _, h := range held {
		out = append(out, model.ShareRecord{Holder: h.Holder, Level: h.Claim.Level(), Scope: scope})
	}
	return out, nil
}

func (s *ShareServiceImpl) share(ctx context.Context, actor uuid.UUID, target model.Holder, typeName, instanceID string, level permission.Level) error {
	scope := permission.InstanceScope(typeName, instanceID)
	claim, err := permission.DataClaim(level, scope)
	if err != nil {
		return err
	}
	d, err := s.authorize(ctx, actor, target, typeName, instanceID)
	if err != nil {
		return err
	}
	if !d.Ceiling.Covers(level) {
		return fmt.Errorf("%w: cannot grant %s above own %s", errs.ErrForbidden, level, d.Ceiling)
	}

	// grant first so the target never loses access while the level changes
	if err := s.claims.Add(ctx, target, claim); err != nil {
		return err
	}
	others := make([]permission.Kind, 0, len(permission.DataKinds)-1)
	for _, k := range permission.DataKinds {
		if k != claim.Kind {
			others = append(others, k)
		}
	}
	if err := s.claims.RemoveScope(ctx, target, scope, others...); err != nil {
		return err
	}

	metrics.ShareChange("share", targetLabel(target))
	s.log.Info("shared",
		zap.String("actor", actor.String()),
		zap.Stringer("target", target),
		zap.Stringer("scope", scope),
		zap.Stringer("level", level))
	return nil
}

func (s *ShareServiceImpl) hide(ctx context.Context, actor uuid.UUID, target model.Holder, typeName, instanceID string) error {
	if _, err := s.authorize(ctx, actor, target, typeName, instanceID); err != nil {
		return err
	}
	scope := permission.InstanceScope(typeName, instanceID)
	if err := s.claims.RemoveScope(ctx, target, scope, permission.DataKinds...); err != nil {
		return err
	}
	metrics.ShareChange("hide", targetLabel(target))
	s.log.Info("hidden",
		zap.String("actor", actor.String()),
		zap.Stringer("target", target),
		zap.Stringer("scope", scope))
	return nil
}

// authorize checks the actor's sharing capability against the target.
func (s *ShareServiceImpl) authorize(ctx context.Context, actor uuid.UUID, target model.Holder, typeName, instanceID string) (authz.Decision, error) {
	if _, err := s.reg.Lookup(typeName); err != nil {
		return authz.Decision{}, err
	}
	set, err := s.source.Claims(ctx, actor)
	if err != nil {
		return authz.Decision{}, err
	}
	d := s.source.Resolver().Resolve(set, typeName, instanceID, permission.OpView)
	switch d.CanShare {
	case authz.ShareAny:
		return d, nil
	case authz.ShareGroup:
		ok, err := s.withinManagedGroups(ctx, set, target)
		if err != nil {
			return d, err
		}
		if !ok {
			return d, fmt.Errorf("%w: target %s is outside the managed groups", errs.ErrForbidden, target)
		}
		return d, nil
	default:
		return d, fmt.Errorf("%w: no sharing capability on %s", errs.ErrForbidden, permission.InstanceScope(typeName, instanceID))
	}
}

func (s *ShareServiceImpl) withinManagedGroups(ctx context.Context, set authz.ClaimSet, target model.Holder) (bool, error) {
	if target.Kind == model.HolderGroup {
		return target.ID != model.GroupAllUsers && set.Manages(target.ID), nil
	}
	id, ok := target.UserID()
	if !ok {
		return false, nil
	}
	for _, name := range set.ManagedGroups() {
		g, err := s.groups.Get(ctx, name)
		if err != nil {
			if errors.Is(err, errs.ErrNotFound) {
				continue
			}
			return false, err
		}
		if g.HasMember(id) {
			return true, nil
		}
	}
	return false, nil
}

func targetLabel(h model.Holder) string {
	if h.Kind == model.HolderGroup && h.ID == model.GroupAllUsers {
		return "all"
	}
	return string(h.Kind)
}
