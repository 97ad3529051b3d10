// Package memory provides an in-process implementation of every repository
// interface. It backs the server in -dsn=memory mode and the service tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/and161185/datagate/internal/errs"
	"github.com/and161185/datagate/internal/model"
	"github.com/and161185/datagate/internal/permission"
	"github.com/and161185/datagate/internal/repository"
	"github.com/gofrs/uuid/v5"
)

type claimKey struct {
	holder model.Holder
	kind   string
	value  string
}

type itemKey struct{ typeName, id string }

type group struct {
	name    string
	manager uuid.UUID
	members map[uuid.UUID]struct{}
	created time.Time
}

// Store holds all tables in maps guarded by a single lock; every method is
// atomic with respect to the others.
type Store struct {
	mu         sync.RWMutex
	principals map[uuid.UUID]model.Principal
	groups     map[string]*group
	claims     map[claimKey]model.HeldClaim
	items      map[itemKey]model.StoredItem
	messages   map[uuid.UUID]model.Message
	deletions  map[uuid.UUID]model.DeletionRequest
	now        func() time.Time
}

// NewStore returns an empty store seeded with the system groups and their role claims.
func NewStore() *Store {
	s := &Store{
		principals: map[uuid.UUID]model.Principal{},
		groups:     map[string]*group{},
		claims:     map[claimKey]model.HeldClaim{},
		items:      map[itemKey]model.StoredItem{},
		messages:   map[uuid.UUID]model.Message{},
		deletions:  map[uuid.UUID]model.DeletionRequest{},
		now:        time.Now,
	}
	for _, name := range []string{model.GroupAllUsers, model.GroupAdmin, model.GroupSiteAdmin} {
		s.groups[name] = &group{name: name, members: map[uuid.UUID]struct{}{}, created: s.now()}
	}
	s.addClaim(model.GroupHolder(model.GroupAdmin), permission.Claim{Kind: permission.KindGroupAdmin})
	s.addClaim(model.GroupHolder(model.GroupSiteAdmin), permission.Claim{Kind: permission.KindGroupSiteAdmin})
	return s
}

// Principals returns the principal repository view.
func (s *Store) Principals() repository.PrincipalRepository { return principals{s} }

// Groups returns the group repository view.
func (s *Store) Groups() repository.GroupRepository { return groups{s} }

// Claims returns the claim repository view.
func (s *Store) Claims() repository.ClaimRepository { return claims{s} }

// Items returns the item repository view.
func (s *Store) Items() repository.ItemRepository { return items{s} }

// Messages returns the message repository view.
func (s *Store) Messages() repository.MessageRepository { return messages{s} }

// Deletions returns the deletion request repository view.
func (s *Store) Deletions() repository.DeletionRepository { return deletions{s} }

// caller holds s.mu
func (s *Store) addClaim(h model.Holder, c permission.Claim) {
	kind, value := c.Encode()
	s.claims[claimKey{holder: h, kind: kind, value: value}] = model.HeldClaim{Holder: h, Claim: c}
}

// caller holds s.mu
func (s *Store) sortedClaims(keep func(model.HeldClaim) bool) []model.HeldClaim {
	var out []model.HeldClaim
	for _, hc := range s.claims {
		if keep(hc) {
			out = append(out, hc)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Holder.Kind != b.Holder.Kind {
			return a.Holder.Kind < b.Holder.Kind
		}
		if a.Holder.ID != b.Holder.ID {
			return a.Holder.ID < b.Holder.ID
		}
		ak, av := a.Claim.Encode()
		bk, bv := b.Claim.Encode()
		if ak != bk {
			return ak < bk
		}
		return av < bv
	})
	return out
}

// --- principals ---

type principals struct{ s *Store }

func (p principals) Create(_ context.Context, in *model.Principal) error {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	if _, ok := p.s.principals[in.ID]; ok {
		return errs.ErrConflict
	}
	for _, ex := range p.s.principals {
		if ex.Username == in.Username || ex.Email == in.Email {
			return errs.ErrConflict
		}
	}
	cp := *in
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = p.s.now()
	}
	p.s.principals[in.ID] = cp
	return nil
}

func (p principals) GetByID(_ context.Context, id uuid.UUID) (*model.Principal, error) {
	p.s.mu.RLock()
	defer p.s.mu.RUnlock()
	v, ok := p.s.principals[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &v, nil
}

func (p principals) GetByUsername(_ context.Context, username string) (*model.Principal, error) {
	p.s.mu.RLock()
	defer p.s.mu.RUnlock()
	for _, v := range p.s.principals {
		if v.Username == username {
			cp := v
			return &cp, nil
		}
	}
	return nil, errs.ErrNotFound
}

func (p principals) SetLocked(_ context.Context, id uuid.UUID, locked bool) error {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	v, ok := p.s.principals[id]
	if !ok {
		return errs.ErrNotFound
	}
	v.Locked = locked
	p.s.principals[id] = v
	return nil
}

func (p principals) Delete(_ context.Context, id uuid.UUID) error {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	delete(p.s.principals, id)
	for _, g := range p.s.groups {
		delete(g.members, id)
	}
	h := model.UserHolder(id)
	for k := range p.s.claims {
		if k.holder == h {
			delete(p.s.claims, k)
		}
	}
	return nil
}

// --- groups ---

type groups struct{ s *Store }

func (g groups) Create(_ context.Context, in *model.Group) error {
	g.s.mu.Lock()
	defer g.s.mu.Unlock()
	if _, ok := g.s.groups[in.Name]; ok {
		return errs.ErrConflict
	}
	row := &group{name: in.Name, manager: in.Manager, members: map[uuid.UUID]struct{}{}, created: g.s.now()}
	for _, m := range in.Members {
		row.members[m] = struct{}{}
	}
	g.s.groups[in.Name] = row
	return nil
}

func (g groups) Get(_ context.Context, name string) (*model.Group, error) {
	g.s.mu.RLock()
	defer g.s.mu.RUnlock()
	row, ok := g.s.groups[name]
	if !ok {
		return nil, errs.ErrNotFound
	}
	out := &model.Group{Name: row.name, Manager: row.manager, CreatedAt: row.created}
	for m := range row.members {
		out.Members = append(out.Members, m)
	}
	sort.Slice(out.Members, func(i, j int) bool { return out.Members[i].String() < out.Members[j].String() })
	return out, nil
}

func (g groups) ListForMember(_ context.Context, id uuid.UUID) ([]string, error) {
	g.s.mu.RLock()
	defer g.s.mu.RUnlock()
	var out []string
	for name, row := range g.s.groups {
		if _, ok := row.members[id]; ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (g groups) AddMember(_ context.Context, name string, id uuid.UUID) error {
	g.s.mu.Lock()
	defer g.s.mu.Unlock()
	row, ok := g.s.groups[name]
	if !ok {
		return errs.ErrNotFound
	}
	if _, ok := g.s.principals[id]; !ok {
		return errs.ErrNotFound
	}
	row.members[id] = struct{}{}
	return nil
}

func (g groups) RemoveMember(_ context.Context, name string, id uuid.UUID) error {
	g.s.mu.Lock()
	defer g.s.mu.Unlock()
	if row, ok := g.s.groups[name]; ok {
		delete(row.members, id)
	}
	return nil
}

func (g groups) SetManager(_ context.Context, name string, id uuid.UUID) error {
	g.s.mu.Lock()
	defer g.s.mu.Unlock()
	row, ok := g.s.groups[name]
	if !ok {
		return errs.ErrNotFound
	}
	row.manager = id
	return nil
}

func (g groups) Delete(_ context.Context, name string) error {
	g.s.mu.Lock()
	defer g.s.mu.Unlock()
	delete(g.s.groups, name)
	held := model.GroupHolder(name)
	mk, mv := permission.ManagerClaim(name).Encode()
	for k := range g.s.claims {
		if k.holder == held || (k.kind == mk && k.value == mv) {
			delete(g.s.claims, k)
		}
	}
	for id, m := range g.s.messages {
		if m.GroupName == name {
			delete(g.s.messages, id)
		}
	}
	return nil
}

// --- claims ---

type claims struct{ s *Store }

func (c claims) Add(_ context.Context, h model.Holder, cl permission.Claim) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	c.s.addClaim(h, cl)
	return nil
}

func (c claims) Remove(_ context.Context, h model.Holder, cl permission.Claim) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	kind, value := cl.Encode()
	delete(c.s.claims, claimKey{holder: h, kind: kind, value: value})
	return nil
}

func (c claims) RemoveScope(_ context.Context, h model.Holder, scope permission.Scope, kinds ...permission.Kind) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	value := scope.String()
	for _, k := range kinds {
		delete(c.s.claims, claimKey{holder: h, kind: string(k), value: value})
	}
	return nil
}

func (c claims) ListForHolders(_ context.Context, holders []model.Holder) ([]model.HeldClaim, error) {
	c.s.mu.RLock()
	defer c.s.mu.RUnlock()
	want := make(map[model.Holder]struct{}, len(holders))
	for _, h := range holders {
		want[h] = struct{}{}
	}
	return c.s.sortedClaims(func(hc model.HeldClaim) bool {
		_, ok := want[hc.Holder]
		return ok
	}), nil
}

func (c claims) ListByScope(_ context.Context, scope permission.Scope, kinds ...permission.Kind) ([]model.HeldClaim, error) {
	c.s.mu.RLock()
	defer c.s.mu.RUnlock()
	want := map[permission.Kind]struct{}{}
	for _, k := range kinds {
		want[k] = struct{}{}
	}
	return c.s.sortedClaims(func(hc model.HeldClaim) bool {
		if !hc.Claim.Kind.HasScope() || hc.Claim.Scope != scope {
			return false
		}
		if len(want) == 0 {
			return true
		}
		_, ok := want[hc.Claim.Kind]
		return ok
	}), nil
}

// --- items ---

type items struct{ s *Store }

func (i items) Insert(_ context.Context, it model.StoredItem, owner model.Holder) error {
	i.s.mu.Lock()
	defer i.s.mu.Unlock()
	k := itemKey{it.TypeName, it.ID}
	if _, ok := i.s.items[k]; ok {
		return errs.ErrConflict
	}
	it.Payload = append([]byte(nil), it.Payload...)
	i.s.items[k] = it
	i.s.addClaim(owner, permission.OwnerClaim(it.TypeName, it.ID))
	return nil
}

func (i items) Get(_ context.Context, typeName, id string) (*model.StoredItem, error) {
	i.s.mu.RLock()
	defer i.s.mu.RUnlock()
	it, ok := i.s.items[itemKey{typeName, id}]
	if !ok {
		return nil, errs.ErrNotFound
	}
	it.Payload = append([]byte(nil), it.Payload...)
	return &it, nil
}

func (i items) Update(_ context.Context, it model.StoredItem) error {
	i.s.mu.Lock()
	defer i.s.mu.Unlock()
	k := itemKey{it.TypeName, it.ID}
	cur, ok := i.s.items[k]
	if !ok {
		return errs.ErrNotFound
	}
	cur.Payload = append([]byte(nil), it.Payload...)
	cur.UpdatedAt = it.UpdatedAt
	i.s.items[k] = cur
	return nil
}

func (i items) Delete(_ context.Context, typeName, id string) error {
	i.s.mu.Lock()
	defer i.s.mu.Unlock()
	k := itemKey{typeName, id}
	if _, ok := i.s.items[k]; !ok {
		return errs.ErrNotFound
	}
	delete(i.s.items, k)
	value := permission.InstanceScope(typeName, id).String()
	for ck := range i.s.claims {
		if ck.value == value {
			delete(i.s.claims, ck)
		}
	}
	return nil
}

func (i items) List(_ context.Context, typeName string) ([]model.StoredItem, error) {
	i.s.mu.RLock()
	defer i.s.mu.RUnlock()
	var out []model.StoredItem
	for k, it := range i.s.items {
		if k.typeName == typeName {
			it.Payload = append([]byte(nil), it.Payload...)
			out = append(out, it)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out, nil
}

// --- messages ---

type messages struct{ s *Store }

func (m messages) Create(_ context.Context, in *model.Message) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	cp := *in
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = m.s.now()
	}
	m.s.messages[in.ID] = cp
	return nil
}

func (m messages) DeleteOrphaned(_ context.Context, leaving uuid.UUID) (int64, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	gone := func(id uuid.UUID) bool {
		if id == leaving {
			return true
		}
		_, ok := m.s.principals[id]
		return !ok
	}
	var n int64
	for id, msg := range m.s.messages {
		orphan := false
		if msg.GroupName != "" {
			_, ok := m.s.groups[msg.GroupName]
			orphan = !ok
		} else {
			orphan = gone(msg.SenderID) && gone(msg.RecipientID)
		}
		if orphan {
			delete(m.s.messages, id)
			n++
		}
	}
	return n, nil
}

// MessageCount reports how many messages are stored.
func (s *Store) MessageCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// --- deletion requests ---

type deletions struct{ s *Store }

func (d deletions) Put(_ context.Context, in *model.DeletionRequest) error {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	cp := *in
	cp.UpdatedAt = d.s.now()
	if prev, ok := d.s.deletions[in.PrincipalID]; ok {
		cp.NewOwner = prev.NewOwner
	}
	d.s.deletions[in.PrincipalID] = cp
	return nil
}

func (d deletions) Get(_ context.Context, id uuid.UUID) (*model.DeletionRequest, error) {
	d.s.mu.RLock()
	defer d.s.mu.RUnlock()
	v, ok := d.s.deletions[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &v, nil
}

func (d deletions) SetState(_ context.Context, id uuid.UUID, state model.DeletionState) error {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	v, ok := d.s.deletions[id]
	if !ok {
		return errs.ErrNotFound
	}
	v.State = state
	v.UpdatedAt = d.s.now()
	d.s.deletions[id] = v
	return nil
}

func (d deletions) SetNewOwner(_ context.Context, id, owner uuid.UUID) error {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	v, ok := d.s.deletions[id]
	if !ok {
		return errs.ErrNotFound
	}
	v.NewOwner = owner
	v.UpdatedAt = d.s.now()
	d.s.deletions[id] = v
	return nil
}
