package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/datagate/internal/authz"
	"github.com/and161185/datagate/internal/errs"
	"github.com/and161185/datagate/internal/model"
	"github.com/and161185/datagate/internal/permission"
	"github.com/and161185/datagate/internal/repository"
)

// GroupService manages user-created groups.
type GroupService interface {
	// CreateGroup creates a group managed by the actor; the actor is a member.
	CreateGroup(ctx context.Context, actor uuid.UUID, name string, members []uuid.UUID) (*model.Group, error)
	AddMember(ctx context.Context, actor uuid.UUID, group string, member uuid.UUID) error
	RemoveMember(ctx context.Context, actor uuid.UUID, group string, member uuid.UUID) error
	// DeleteGroup removes the group, its claims and its messages.
	DeleteGroup(ctx context.Context, actor uuid.UUID, group string) error
}

type GroupServiceImpl struct {
	source ClaimSource
	groups repository.GroupRepository
	claims repository.ClaimRepository
	log    *zap.Logger
}

var _ GroupService = (*GroupServiceImpl)(nil)

// NewGroupService constructs GroupService.
func NewGroupService(source ClaimSource, groups repository.GroupRepository, claims repository.ClaimRepository, log *zap.Logger) *GroupServiceImpl {
	if log == nil {
		log = zap.NewNop()
	}
	return &GroupServiceImpl{source: source, groups: groups, claims: claims, log: log}
}

// CreateGroup stores the group and issues the actor's manager claim.
func (s *GroupServiceImpl) CreateGroup(ctx context.Context, actor uuid.UUID, name string, members []uuid.UUID) (*model.Group, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.ContainsAny(name, "{}") || model.IsSystemGroup(name) {
		return nil, fmt.Errorf("%w: group name %q", errs.ErrInvalidArgument, name)
	}
	if _, err := s.source.Claims(ctx, actor); err != nil {
		return nil, err
	}

	g := &model.Group{Name: name, Manager: actor, Members: []uuid.UUID{actor}}
	for _, m := range members {
		if m != actor && m != uuid.Nil && !g.HasMember(m) {
			g.Members = append(g.Members, m)
		}
	}
	if err := s.groups.Create(ctx, g); err != nil {
		return nil, err
	}
	if err := s.claims.Add(ctx, model.UserHolder(actor), permission.ManagerClaim(name)); err != nil {
		if derr := s.groups.Delete(ctx, name); derr != nil {
			s.log.Error("rollback group create", zap.String("group", name), zap.Error(derr))
		}
		return nil, err
	}
	s.log.Info("group created", zap.String("group", name), zap.String("manager", actor.String()), zap.Int("members", len(g.Members)))
	return s.groups.Get(ctx, name)
}

// AddMember adds member to group. Admin and SiteAdmin memberships are
// managed by site admins only.
func (s *GroupServiceImpl) AddMember(ctx context.Context, actor uuid.UUID, group string, member uuid.UUID) error {
	if err := s.authorizeMembership(ctx, actor, group); err != nil {
		return err
	}
	return s.groups.AddMember(ctx, group, member)
}

// RemoveMember removes member from group.
func (s *GroupServiceImpl) RemoveMember(ctx context.Context, actor uuid.UUID, group string, member uuid.UUID) error {
	if err := s.authorizeMembership(ctx, actor, group); err != nil {
		return err
	}
	return s.groups.RemoveMember(ctx, group, member)
}

// DeleteGroup is allowed to the manager and to admins; system groups stay.
func (s *GroupServiceImpl) DeleteGroup(ctx context.Context, actor uuid.UUID, group string) error {
	if model.IsSystemGroup(group) {
		return fmt.Errorf("%w: %s is a system group", errs.ErrInvalidArgument, group)
	}
	set, err := s.source.Claims(ctx, actor)
	if err != nil {
		return err
	}
	if _, err := s.groups.Get(ctx, group); err != nil {
		return err
	}
	if !set.Manages(group) && !set.IsAdmin() && !set.IsSiteAdmin() {
		return fmt.Errorf("%w: not the manager of %s", errs.ErrForbidden, group)
	}
	if err := s.groups.Delete(ctx, group); err != nil {
		return err
	}
	s.log.Info("group deleted", zap.String("group", group), zap.String("actor", actor.String()))
	return nil
}

func (s *GroupServiceImpl) authorizeMembership(ctx context.Context, actor uuid.UUID, group string) error {
	if group == model.GroupAllUsers {
		return fmt.Errorf("%w: %s membership is implicit", errs.ErrInvalidArgument, group)
	}
	set, err := s.source.Claims(ctx, actor)
	if err != nil {
		return err
	}
	if _, err := s.groups.Get(ctx, group); err != nil {
		return err
	}
	if !canManageMembers(set, group) {
		return fmt.Errorf("%w: cannot change members of %s", errs.ErrForbidden, group)
	}
	return nil
}

func canManageMembers(set authz.ClaimSet, group string) bool {
	if set.IsSiteAdmin() {
		return true
	}
	if model.IsSystemGroup(group) {
		return false
	}
	return set.Manages(group) || set.IsAdmin()
}
