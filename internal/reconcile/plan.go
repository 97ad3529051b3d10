// Package reconcile removes a deleted account's footprint: the groups it
// manages and the items it owns. Planning is pure and works on snapshots;
// Reconciler executes plans against storage, one idempotent step at a time.
package reconcile

import (
	"github.com/gofrs/uuid/v5"

	"github.com/and161185/datagate/internal/permission"
)

// GroupSnapshot is a managed group as seen before reconciliation.
type GroupSnapshot struct {
	Name    string
	Manager uuid.UUID
	Members []uuid.UUID // ordered by id
}

// GroupAction is what happens to one managed group.
type GroupAction struct {
	Group      string
	Delete     bool
	NewManager uuid.UUID // set when Delete is false
}

// PlanGroups decides the fate of every group the leaving account manages.
// A group with at most one member is deleted; otherwise the first remaining
// member in id order becomes manager.
func PlanGroups(leaving uuid.UUID, groups []GroupSnapshot) []GroupAction {
	out := make([]GroupAction, 0, len(groups))
	for _, g := range groups {
		if len(g.Members) <= 1 {
			out = append(out, GroupAction{Group: g.Name, Delete: true})
			continue
		}
		next := uuid.Nil
		for _, m := range g.Members {
			if m != leaving {
				next = m
				break
			}
		}
		if next == uuid.Nil {
			out = append(out, GroupAction{Group: g.Name, Delete: true})
			continue
		}
		out = append(out, GroupAction{Group: g.Name, NewManager: next})
	}
	return out
}

// SharingGroup is a group holding a share on an owned item.
type SharingGroup struct {
	Name    string
	Manager uuid.UUID // uuid.Nil for system groups
}

// OwnedItem is one item owned by the leaving account with the holders of
// shares (View level or above) on that exact instance.
type OwnedItem struct {
	Scope  permission.Scope
	Users  []uuid.UUID
	Groups []SharingGroup
}

// OwnershipPlan moves every owned item to NewOwner, or deletes them all when
// NewOwner is uuid.Nil.
type OwnershipPlan struct {
	NewOwner uuid.UUID
	Items    []permission.Scope
}

// Transfers reports whether the plan keeps the items.
func (p OwnershipPlan) Transfers() bool { return p.NewOwner != uuid.Nil }

// PlanOwnership picks one new owner for all items the account owns.
// An owner picked by an earlier interrupted run (previous) is kept, so items
// left over from that run follow the ones already moved. Otherwise the
// preference is: the transfer target when it already shares an item directly
// or manages a sharing group; then the first manager of a sharing group;
// then the first individual sharer. Once chosen the owner is used for every
// item.
func PlanOwnership(leaving, target, previous uuid.UUID, items []OwnedItem) OwnershipPlan {
	plan := OwnershipPlan{Items: make([]permission.Scope, 0, len(items))}
	for _, it := range items {
		plan.Items = append(plan.Items, it.Scope)
	}

	eligible := func(id uuid.UUID) bool { return id != uuid.Nil && id != leaving }

	if eligible(previous) {
		plan.NewOwner = previous
		return plan
	}

	if eligible(target) {
		for _, it := range items {
			for _, u := range it.Users {
				if u == target {
					plan.NewOwner = target
					return plan
				}
			}
			for _, g := range it.Groups {
				if g.Manager == target {
					plan.NewOwner = target
					return plan
				}
			}
		}
	}
	for _, it := range items {
		for _, g := range it.Groups {
			if eligible(g.Manager) {
				plan.NewOwner = g.Manager
				return plan
			}
		}
	}
	for _, it := range items {
		for _, u := range it.Users {
			if eligible(u) {
				plan.NewOwner = u
				return plan
			}
		}
	}
	return plan
}
