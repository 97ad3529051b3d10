// Package entity holds the per-type registry that lets one repository serve
// every entity type. Each type registers small accessor functions for its
// fields; search, sort, default population and field metadata go through
// those accessors only.
package entity

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/and161185/datagate/internal/errs"
)

// Timestamps are carried by every entity.
type Timestamps struct {
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Entity is implemented by every registered type (as a pointer).
type Entity interface {
	Key() string
	SetKey(id string)
	Stamps() *Timestamps
}

// Descriptor describes one registered type.
type Descriptor struct {
	Name   string
	System bool // administration types; Admin does not implicitly get All on them
	New    func() Entity
	Fields []FieldAccessor
}

// Field returns the accessor named name.
func (d *Descriptor) Field(name string) (FieldAccessor, bool) {
	for _, f := range d.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldAccessor{}, false
}

// FieldDefinition is the metadata handed to UI collaborators.
type FieldDefinition struct {
	Name     string
	Kind     Kind
	Required bool
}

// Definitions lists field metadata in declaration order.
func (d *Descriptor) Definitions() []FieldDefinition {
	out := make([]FieldDefinition, len(d.Fields))
	for i, f := range d.Fields {
		out[i] = FieldDefinition{Name: f.Name, Kind: f.Kind, Required: f.Required}
	}
	return out
}

// Encode serializes an entity for storage.
func (d *Descriptor) Encode(e Entity) ([]byte, error) {
	return json.Marshal(e)
}

// Decode restores an entity from its stored payload.
func (d *Descriptor) Decode(payload []byte) (Entity, error) {
	e := d.New()
	if err := json.Unmarshal(payload, e); err != nil {
		return nil, fmt.Errorf("decode %s: %w", d.Name, err)
	}
	return e, nil
}

// Registry maps type names to descriptors.
type Registry struct {
	mu    sync.RWMutex
	types map[string]*Descriptor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{types: map[string]*Descriptor{}}
}

// Register adds a type. Names must be unique and usable inside a claim value.
func (r *Registry) Register(d Descriptor) error {
	if d.Name == "" || d.New == nil {
		return fmt.Errorf("%w: descriptor needs a name and constructor", errs.ErrInvalidArgument)
	}
	for _, c := range d.Name {
		if c == '{' || c == '}' {
			return fmt.Errorf("%w: type name %q contains braces", errs.ErrInvalidArgument, d.Name)
		}
	}
	seen := map[string]struct{}{}
	for _, f := range d.Fields {
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("%w: %s.%s declared twice", errs.ErrInvalidArgument, d.Name, f.Name)
		}
		seen[f.Name] = struct{}{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.types[d.Name]; ok {
		return fmt.Errorf("%w: type %s already registered", errs.ErrConflict, d.Name)
	}
	cp := d
	r.types[d.Name] = &cp
	return nil
}

// MustRegister is Register that panics; for startup wiring.
func (r *Registry) MustRegister(d Descriptor) {
	if err := r.Register(d); err != nil {
		panic(err)
	}
}

// Lookup returns the descriptor of a type.
func (r *Registry) Lookup(name string) (*Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.types[name]
	if !ok {
		return nil, fmt.Errorf("%w: type %q", errs.ErrNotFound, name)
	}
	return d, nil
}

// Names returns the registered type names sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.types))
	for n := range r.types {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// SystemTypes returns the names of types flagged System.
func (r *Registry) SystemTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for n, d := range r.types {
		if d.System {
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out
}
