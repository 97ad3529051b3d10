// Package service contains the application services: generic data access,
// sharing, groups and account lifecycle.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/datagate/internal/authz"
	"github.com/and161185/datagate/internal/entity"
	"github.com/and161185/datagate/internal/errs"
	"github.com/and161185/datagate/internal/model"
	"github.com/and161185/datagate/internal/permission"
	"github.com/and161185/datagate/internal/repository"
)

// DataService is CRUD over every registered entity type, gated by authorization.
type DataService interface {
	// Add creates an item and makes the actor its owner.
	Add(ctx context.Context, actor uuid.UUID, typeName string, values map[string]any) (entity.Entity, error)
	// Find returns one item.
	Find(ctx context.Context, actor uuid.UUID, typeName, id string) (entity.Entity, error)
	// Update writes values into an existing item.
	Update(ctx context.Context, actor uuid.UUID, typeName, id string, values map[string]any) (entity.Entity, error)
	// Remove deletes an item and every claim on it.
	Remove(ctx context.Context, actor uuid.UUID, typeName, id string) error
	// RemoveRange removes what it can and returns the removed ids.
	RemoveRange(ctx context.Context, actor uuid.UUID, typeName string, ids []string) ([]string, error)
	// GetPage searches, sorts and pages a type.
	GetPage(ctx context.Context, actor uuid.UUID, typeName string, q entity.Query) (entity.Page, error)
	// GetFieldDefinitions describes a type's fields.
	GetFieldDefinitions(typeName string) ([]entity.FieldDefinition, error)
}

type DataServiceImpl struct {
	reg   *entity.Registry
	items repository.ItemRepository
	authz authz.Authorizer
	log   *zap.Logger
	now   func() time.Time
}

var _ DataService = (*DataServiceImpl)(nil)

// NewDataService constructs DataService.
func NewDataService(reg *entity.Registry, items repository.ItemRepository, az authz.Authorizer, log *zap.Logger) *DataServiceImpl {
	if log == nil {
		log = zap.NewNop()
	}
	return &DataServiceImpl{reg: reg, items: items, authz: az, log: log, now: time.Now}
}

// Add applies values, fills defaults for required fields and stores the
// item together with the actor's owner claim.
func (s *DataServiceImpl) Add(ctx context.Context, actor uuid.UUID, typeName string, values map[string]any) (entity.Entity, error) {
	d, err := s.reg.Lookup(typeName)
	if err != nil {
		return nil, err
	}
	if _, err := s.authz.Authorize(ctx, actor, typeName, permission.OpAdd, ""); err != nil {
		return nil, err
	}

	e := d.New()
	written, err := entity.Apply(d, e, values)
	if err != nil {
		return nil, err
	}
	entity.PopulateDefaults(d, e, written)

	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	e.SetKey(id.String())
	*e.Stamps() = entity.Timestamps{CreatedAt: now, UpdatedAt: now}

	payload, err := d.Encode(e)
	if err != nil {
		return nil, err
	}
	item := model.StoredItem{TypeName: typeName, ID: e.Key(), Payload: payload, CreatedAt: now, UpdatedAt: now}
	if err := s.items.Insert(ctx, item, model.UserHolder(actor)); err != nil {
		return nil, err
	}
	s.log.Debug("item added", zap.String("type", typeName), zap.String("id", e.Key()), zap.String("owner", actor.String()))
	return e, nil
}

// Find returns the item when the actor may view it.
func (s *DataServiceImpl) Find(ctx context.Context, actor uuid.UUID, typeName, id string) (entity.Entity, error) {
	d, err := s.reg.Lookup(typeName)
	if err != nil {
		return nil, err
	}
	if _, err := s.authz.Authorize(ctx, actor, typeName, permission.OpView, id); err != nil {
		return nil, err
	}
	return s.load(ctx, d, id)
}

// Update writes values through the accessors and bumps UpdatedAt.
func (s *DataServiceImpl) Update(ctx context.Context, actor uuid.UUID, typeName, id string, values map[string]any) (entity.Entity, error) {
	d, err := s.reg.Lookup(typeName)
	if err != nil {
		return nil, err
	}
	if _, err := s.authz.Authorize(ctx, actor, typeName, permission.OpEdit, id); err != nil {
		return nil, err
	}
	e, err := s.load(ctx, d, id)
	if err != nil {
		return nil, err
	}
	if _, err := entity.Apply(d, e, values); err != nil {
		return nil, err
	}
	e.Stamps().UpdatedAt = s.now().UTC()

	payload, err := d.Encode(e)
	if err != nil {
		return nil, err
	}
	st := e.Stamps()
	if err := s.items.Update(ctx, model.StoredItem{TypeName: typeName, ID: id, Payload: payload, CreatedAt: st.CreatedAt, UpdatedAt: st.UpdatedAt}); err != nil {
		return nil, err
	}
	return e, nil
}

// Remove deletes the item when the actor holds All on it.
func (s *DataServiceImpl) Remove(ctx context.Context, actor uuid.UUID, typeName, id string) error {
	if _, err := s.reg.Lookup(typeName); err != nil {
		return err
	}
	if _, err := s.authz.Authorize(ctx, actor, typeName, permission.OpDelete, id); err != nil {
		return err
	}
	return s.items.Delete(ctx, typeName, id)
}

// RemoveRange resolves every id on its own. Ids that are missing or that the
// actor may not delete are skipped.
func (s *DataServiceImpl) RemoveRange(ctx context.Context, actor uuid.UUID, typeName string, ids []string) ([]string, error) {
	if _, err := s.reg.Lookup(typeName); err != nil {
		return nil, err
	}
	removed := make([]string, 0, len(ids))
	for _, id := range ids {
		_, err := s.authz.Authorize(ctx, actor, typeName, permission.OpDelete, id)
		if err == nil {
			err = s.items.Delete(ctx, typeName, id)
		}
		switch {
		case err == nil:
			removed = append(removed, id)
		case errors.Is(err, errs.ErrNotFound), errors.Is(err, errs.ErrUnauthorized):
			s.log.Debug("remove range: skipped", zap.String("type", typeName), zap.String("id", id), zap.Error(err))
		default:
			return removed, err
		}
	}
	return removed, nil
}

// GetPage needs View on the whole type.
func (s *DataServiceImpl) GetPage(ctx context.Context, actor uuid.UUID, typeName string, q entity.Query) (entity.Page, error) {
	d, err := s.reg.Lookup(typeName)
	if err != nil {
		return entity.Page{}, err
	}
	if _, err := s.authz.Authorize(ctx, actor, typeName, permission.OpView, ""); err != nil {
		return entity.Page{}, err
	}
	stored, err := s.items.List(ctx, typeName)
	if err != nil {
		return entity.Page{}, err
	}
	all := make([]entity.Entity, 0, len(stored))
	for i := range stored {
		e, err := materialize(d, &stored[i])
		if err != nil {
			s.log.Warn("skip undecodable item", zap.String("type", typeName), zap.String("id", stored[i].ID), zap.Error(err))
			continue
		}
		all = append(all, e)
	}
	return entity.Select(d, all, q)
}

// GetFieldDefinitions describes a type for UI collaborators.
func (s *DataServiceImpl) GetFieldDefinitions(typeName string) ([]entity.FieldDefinition, error) {
	d, err := s.reg.Lookup(typeName)
	if err != nil {
		return nil, err
	}
	return d.Definitions(), nil
}

func (s *DataServiceImpl) load(ctx context.Context, d *entity.Descriptor, id string) (entity.Entity, error) {
	it, err := s.items.Get(ctx, d.Name, id)
	if err != nil {
		return nil, err
	}
	return materialize(d, it)
}

// materialize decodes a stored row; the row's id and timestamps win over the payload.
func materialize(d *entity.Descriptor, it *model.StoredItem) (entity.Entity, error) {
	e, err := d.Decode(it.Payload)
	if err != nil {
		return nil, fmt.Errorf("%s{%s}: %w", d.Name, it.ID, err)
	}
	e.SetKey(it.ID)
	*e.Stamps() = entity.Timestamps{CreatedAt: it.CreatedAt, UpdatedAt: it.UpdatedAt}
	return e, nil
}
