package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/datagate/internal/errs"
	"github.com/and161185/datagate/internal/metrics"
	"github.com/and161185/datagate/internal/model"
	"github.com/and161185/datagate/internal/permission"
	"github.com/and161185/datagate/internal/repository"
)

// Result summarizes one run.
type Result struct {
	GroupsDeleted    int
	GroupsReassigned int
	ItemsTransferred int
	ItemsDeleted     int
	MessagesDeleted  int64
	NewOwner         uuid.UUID
	PrincipalDeleted bool
}

// Reconciler executes reconciliation plans. Every step reads current state
// first and is safe to repeat, so a failed run is retried by running again.
type Reconciler struct {
	principals repository.PrincipalRepository
	groups     repository.GroupRepository
	claims     repository.ClaimRepository
	items      repository.ItemRepository
	messages   repository.MessageRepository
	owners     OwnerStore
	log        *zap.Logger
}

// OwnerStore remembers the owner picked for a leaving account.
// repository.DeletionRepository satisfies it.
type OwnerStore interface {
	Get(ctx context.Context, principalID uuid.UUID) (*model.DeletionRequest, error)
	SetNewOwner(ctx context.Context, principalID, owner uuid.UUID) error
}

// New constructs a Reconciler.
func New(
	p repository.PrincipalRepository,
	g repository.GroupRepository,
	c repository.ClaimRepository,
	i repository.ItemRepository,
	m repository.MessageRepository,
	log *zap.Logger,
) *Reconciler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reconciler{principals: p, groups: g, claims: c, items: i, messages: m, log: log}
}

// WithOwnerStore makes the picked owner survive a failed run: it is recorded
// before the first transfer and reused by the next run.
func (r *Reconciler) WithOwnerStore(s OwnerStore) *Reconciler {
	r.owners = s
	return r
}

// Run removes the account's footprint. Failures of individual steps are
// logged and collected; the remaining steps still run. When any step
// failed the account itself is kept and the joined error is returned.
func (r *Reconciler) Run(ctx context.Context, account, transferTarget uuid.UUID) (Result, error) {
	var res Result
	log := r.log.With(zap.String("account", account.String()))

	held, err := r.claims.ListForHolders(ctx, []model.Holder{model.UserHolder(account)})
	if err != nil {
		return res, fmt.Errorf("list claims: %w", err)
	}
	var managed []string
	var owned []permission.Scope
	for _, hc := range held {
		switch hc.Claim.Kind {
		case permission.KindGroupManager:
			managed = append(managed, hc.Claim.Group)
		case permission.KindDataOwner:
			owned = append(owned, hc.Claim.Scope)
		}
	}

	var failures []error
	fail := func(step string, err error) {
		metrics.ReconcileStep(step, err)
		if err != nil {
			log.Warn("reconcile step failed", zap.String("step", step), zap.Error(err))
			failures = append(failures, fmt.Errorf("%s: %w", step, err))
		}
	}

	r.reconcileGroups(ctx, account, managed, &res, fail)
	r.reconcileItems(ctx, account, transferTarget, owned, &res, fail)

	if len(failures) > 0 {
		return res, errors.Join(failures...)
	}

	n, err := r.messages.DeleteOrphaned(ctx, account)
	fail("messages", err)
	if err != nil {
		return res, errors.Join(failures...)
	}
	res.MessagesDeleted = n

	err = r.principals.Delete(ctx, account)
	fail("principal", err)
	if err != nil {
		return res, errors.Join(failures...)
	}
	res.PrincipalDeleted = true

	log.Info("account reconciled",
		zap.Int("groups_deleted", res.GroupsDeleted),
		zap.Int("groups_reassigned", res.GroupsReassigned),
		zap.Int("items_transferred", res.ItemsTransferred),
		zap.Int("items_deleted", res.ItemsDeleted),
		zap.Int64("messages_deleted", res.MessagesDeleted))
	return res, nil
}

func (r *Reconciler) reconcileGroups(ctx context.Context, account uuid.UUID, names []string, res *Result, fail func(string, error)) {
	snaps := make([]GroupSnapshot, 0, len(names))
	for _, name := range names {
		g, err := r.groups.Get(ctx, name)
		if errors.Is(err, errs.ErrNotFound) {
			fail("group", r.claims.Remove(ctx, model.UserHolder(account), permission.ManagerClaim(name)))
			continue
		}
		if err != nil {
			fail("group", err)
			continue
		}
		snaps = append(snaps, GroupSnapshot{Name: g.Name, Manager: g.Manager, Members: g.Members})
	}

	for _, a := range PlanGroups(account, snaps) {
		if a.Delete {
			err := r.groups.Delete(ctx, a.Group)
			fail("group", err)
			if err == nil {
				res.GroupsDeleted++
			}
			continue
		}
		err := r.reassignManager(ctx, account, a)
		fail("group", err)
		if err == nil {
			res.GroupsReassigned++
		}
	}
}

// reassignManager grants the new manager claim before revoking the old one
// so the group is never left without a manager.
func (r *Reconciler) reassignManager(ctx context.Context, account uuid.UUID, a GroupAction) error {
	mc := permission.ManagerClaim(a.Group)
	if err := r.claims.Add(ctx, model.UserHolder(a.NewManager), mc); err != nil {
		return err
	}
	if err := r.groups.SetManager(ctx, a.Group, a.NewManager); err != nil {
		return err
	}
	return r.claims.Remove(ctx, model.UserHolder(account), mc)
}

func (r *Reconciler) reconcileItems(ctx context.Context, account, target uuid.UUID, owned []permission.Scope, res *Result, fail func(string, error)) {
	var snaps []OwnedItem
	for _, scope := range owned {
		if !scope.IsInstance() {
			continue
		}
		if _, err := r.items.Get(ctx, scope.TypeName, scope.InstanceID); err != nil {
			if errors.Is(err, errs.ErrNotFound) {
				fail("owner", r.claims.RemoveScope(ctx, model.UserHolder(account), scope, permission.KindDataOwner))
			} else {
				fail("owner", err)
			}
			continue
		}
		item, err := r.sharers(ctx, account, scope)
		if err != nil {
			fail("owner", err)
			continue
		}
		snaps = append(snaps, item)
	}

	previous, err := r.previousOwner(ctx, account)
	if err != nil {
		fail("owner", err)
		return
	}
	plan := PlanOwnership(account, target, previous, snaps)
	res.NewOwner = plan.NewOwner
	if plan.Transfers() && plan.NewOwner != previous && r.owners != nil {
		err := r.owners.SetNewOwner(ctx, account, plan.NewOwner)
		if err != nil && !errors.Is(err, errs.ErrNotFound) {
			fail("owner", err)
			return
		}
	}
	for _, scope := range plan.Items {
		if plan.Transfers() {
			err := r.transfer(ctx, account, plan.NewOwner, scope)
			fail("owner", err)
			if err == nil {
				res.ItemsTransferred++
			}
			continue
		}
		err := r.items.Delete(ctx, scope.TypeName, scope.InstanceID)
		if errors.Is(err, errs.ErrNotFound) {
			err = nil
		}
		fail("owner", err)
		if err == nil {
			res.ItemsDeleted++
		}
	}
}

// previousOwner returns the owner recorded by an earlier run, or uuid.Nil
// when none was recorded or that principal is gone since.
func (r *Reconciler) previousOwner(ctx context.Context, account uuid.UUID) (uuid.UUID, error) {
	if r.owners == nil {
		return uuid.Nil, nil
	}
	req, err := r.owners.Get(ctx, account)
	if errors.Is(err, errs.ErrNotFound) {
		return uuid.Nil, nil
	}
	if err != nil {
		return uuid.Nil, err
	}
	if req.NewOwner == uuid.Nil {
		return uuid.Nil, nil
	}
	_, err = r.principals.GetByID(ctx, req.NewOwner)
	if errors.Is(err, errs.ErrNotFound) {
		r.log.Info("recorded owner is gone, choosing again",
			zap.String("account", account.String()), zap.String("owner", req.NewOwner.String()))
		return uuid.Nil, nil
	}
	if err != nil {
		return uuid.Nil, err
	}
	return req.NewOwner, nil
}

func (r *Reconciler) sharers(ctx context.Context, account uuid.UUID, scope permission.Scope) (OwnedItem, error) {
	item := OwnedItem{Scope: scope}
	held, err := r.claims.ListByScope(ctx, scope, permission.DataKinds...)
	if err != nil {
		return item, err
	}
	seenUser := map[uuid.UUID]bool{}
	seenGroup := map[string]bool{}
	for _, hc := range held {
		switch hc.Holder.Kind {
		case model.HolderUser:
			id, ok := hc.Holder.UserID()
			if !ok || id == account || seenUser[id] {
				continue
			}
			seenUser[id] = true
			item.Users = append(item.Users, id)
		case model.HolderGroup:
			if seenGroup[hc.Holder.ID] {
				continue
			}
			seenGroup[hc.Holder.ID] = true
			g, err := r.groups.Get(ctx, hc.Holder.ID)
			if errors.Is(err, errs.ErrNotFound) {
				continue
			}
			if err != nil {
				return item, err
			}
			item.Groups = append(item.Groups, SharingGroup{Name: g.Name, Manager: g.Manager})
		}
	}
	return item, nil
}

func (r *Reconciler) transfer(ctx context.Context, from, to uuid.UUID, scope permission.Scope) error {
	oc := permission.OwnerClaim(scope.TypeName, scope.InstanceID)
	if err := r.claims.Add(ctx, model.UserHolder(to), oc); err != nil {
		return err
	}
	return r.claims.Remove(ctx, model.UserHolder(from), oc)
}
