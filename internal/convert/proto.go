// Package convert maps domain values to and from the structpb documents
// carried by the datagate gRPC API.
package convert

import (
	"fmt"
	"math"
	"time"

	u "github.com/gofrs/uuid/v5"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/and161185/datagate/internal/authz"
	"github.com/and161185/datagate/internal/entity"
	"github.com/and161185/datagate/internal/errs"
	"github.com/and161185/datagate/internal/model"
	"github.com/and161185/datagate/internal/permission"
	"github.com/and161185/datagate/internal/reconcile"
)

// Document keys shared by requests and responses.
const (
	KeyID        = "id"
	KeyCreatedAt = "createdAt"
	KeyUpdatedAt = "updatedAt"
)

// --- helpers ---

func ts(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// String returns a string field of s, or "" when absent.
func String(s *structpb.Struct, key string) string {
	return s.GetFields()[key].GetStringValue()
}

// Bool returns a bool field of s, or false when absent.
func Bool(s *structpb.Struct, key string) bool {
	return s.GetFields()[key].GetBoolValue()
}

// Int returns an integral numeric field of s, or 0 when absent. Fractions
// and values outside the int range are rejected.
func Int(s *structpb.Struct, key string) (int, error) {
	n := s.GetFields()[key].GetNumberValue()
	if n != math.Trunc(n) || math.IsNaN(n) || n < math.MinInt || n >= math.MaxInt {
		return 0, fmt.Errorf("%w: %s must be an integer, got %v", errs.ErrInvalidArgument, key, n)
	}
	return int(n), nil
}

// Strings returns a list-of-strings field of s. Non-string elements are rejected.
func Strings(s *structpb.Struct, key string) ([]string, error) {
	lv := s.GetFields()[key].GetListValue()
	if lv == nil {
		return nil, nil
	}
	out := make([]string, 0, len(lv.GetValues()))
	for i, v := range lv.GetValues() {
		sv, ok := v.GetKind().(*structpb.Value_StringValue)
		if !ok {
			return nil, fmt.Errorf("%w: %s[%d] is not a string", errs.ErrInvalidArgument, key, i)
		}
		out = append(out, sv.StringValue)
	}
	return out, nil
}

// UUID parses a uuid field of s. An absent or empty field yields uuid.Nil.
func UUID(s *structpb.Struct, key string) (u.UUID, error) {
	raw := String(s, key)
	if raw == "" {
		return u.Nil, nil
	}
	id, err := u.FromString(raw)
	if err != nil {
		return u.Nil, fmt.Errorf("%w: %s: %v", errs.ErrInvalidArgument, key, err)
	}
	return id, nil
}

// UUIDs parses a list of uuids.
func UUIDs(s *structpb.Struct, key string) ([]u.UUID, error) {
	raw, err := Strings(s, key)
	if err != nil {
		return nil, err
	}
	out := make([]u.UUID, 0, len(raw))
	for _, r := range raw {
		id, err := u.FromString(r)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", errs.ErrInvalidArgument, key, err)
		}
		out = append(out, id)
	}
	return out, nil
}

// Values returns a nested object as plain Go values for entity.Apply.
// Numbers arrive as float64.
func Values(s *structpb.Struct, key string) map[string]any {
	v := s.GetFields()[key].GetStructValue()
	if v == nil {
		return map[string]any{}
	}
	return v.AsMap()
}

// --- entities ---

// FromEntity renders an entity through its descriptor's accessors. Times are
// RFC 3339 strings; the id and timestamps are added under fixed keys.
func FromEntity(d *entity.Descriptor, e entity.Entity) (*structpb.Struct, error) {
	m := make(map[string]any, len(d.Fields)+3)
	for _, f := range d.Fields {
		v := f.Get(e)
		if t, ok := v.(time.Time); ok {
			v = t.UTC().Format(time.RFC3339Nano)
		}
		m[f.Name] = v
	}
	m[KeyID] = e.Key()
	st := e.Stamps()
	m[KeyCreatedAt] = ts(st.CreatedAt)
	m[KeyUpdatedAt] = ts(st.UpdatedAt)
	return structpb.NewStruct(m)
}

// FromPage renders a page of entities.
func FromPage(d *entity.Descriptor, p entity.Page) (*structpb.Struct, error) {
	items := make([]any, 0, len(p.Items))
	for i, e := range p.Items {
		s, err := FromEntity(d, e)
		if err != nil {
			return nil, fmt.Errorf("item[%d]: %w", i, err)
		}
		items = append(items, s.AsMap())
	}
	return structpb.NewStruct(map[string]any{
		"items":      items,
		"totalItems": p.TotalItems,
	})
}

// ToQuery reads a page query.
func ToQuery(s *structpb.Struct) (entity.Query, error) {
	except, err := Strings(s, "except")
	if err != nil {
		return entity.Query{}, err
	}
	page, err := Int(s, "page")
	if err != nil {
		return entity.Query{}, err
	}
	rows, err := Int(s, "rowsPerPage")
	if err != nil {
		return entity.Query{}, err
	}
	return entity.Query{
		Search:      String(s, "search"),
		SortBy:      String(s, "sortBy"),
		Descending:  Bool(s, "descending"),
		Page:        page,
		RowsPerPage: rows,
		Except:      except,
	}, nil
}

// FromDefinitions renders a type's field definitions.
func FromDefinitions(typeName string, defs []entity.FieldDefinition) (*structpb.Struct, error) {
	fields := make([]any, 0, len(defs))
	for _, d := range defs {
		fields = append(fields, map[string]any{
			"name":     d.Name,
			"kind":     d.Kind.String(),
			"required": d.Required,
		})
	}
	return structpb.NewStruct(map[string]any{"type": typeName, "fields": fields})
}

// FromIDs renders a list of item ids.
func FromIDs(ids []string) (*structpb.Struct, error) {
	out := make([]any, 0, len(ids))
	for _, id := range ids {
		out = append(out, id)
	}
	return structpb.NewStruct(map[string]any{"ids": out})
}

// --- authorization and sharing ---

// FromDecision renders an authorization decision.
func FromDecision(d authz.Decision) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"allowed":  d.Allowed(),
		"level":    d.Level.String(),
		"ceiling":  d.Ceiling.String(),
		"canShare": d.CanShare.String(),
	})
}

// ToLevel reads a permission level; an absent level is rejected.
func ToLevel(s *structpb.Struct, key string) (permission.Level, error) {
	raw := String(s, key)
	if raw == "" {
		return permission.None, fmt.Errorf("%w: %s is required", errs.ErrInvalidArgument, key)
	}
	return permission.ParseLevel(raw)
}

// FromShares renders share records.
func FromShares(recs []model.ShareRecord) (*structpb.Struct, error) {
	out := make([]any, 0, len(recs))
	for _, r := range recs {
		out = append(out, map[string]any{
			"holderKind": string(r.Holder.Kind),
			"holder":     r.Holder.ID,
			"level":      r.Level.String(),
			"scope":      r.Scope.String(),
		})
	}
	return structpb.NewStruct(map[string]any{"shares": out})
}

// --- accounts and groups ---

// FromPrincipal renders a principal together with its access token.
func FromPrincipal(p model.Principal, accessToken string) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"principalId": p.ID.String(),
		"username":    p.Username,
		"email":       p.Email,
		"accessToken": accessToken,
	})
}

// FromGroup renders a group.
func FromGroup(g *model.Group) (*structpb.Struct, error) {
	members := make([]any, 0, len(g.Members))
	for _, m := range g.Members {
		members = append(members, m.String())
	}
	manager := ""
	if g.Manager != u.Nil {
		manager = g.Manager.String()
	}
	return structpb.NewStruct(map[string]any{
		"name":    g.Name,
		"manager": manager,
		"members": members,
	})
}

// FromResult renders the outcome of a deletion reconciliation.
func FromResult(r reconcile.Result) (*structpb.Struct, error) {
	owner := ""
	if r.NewOwner != u.Nil {
		owner = r.NewOwner.String()
	}
	return structpb.NewStruct(map[string]any{
		"groupsDeleted":    r.GroupsDeleted,
		"groupsReassigned": r.GroupsReassigned,
		"itemsTransferred": r.ItemsTransferred,
		"itemsDeleted":     r.ItemsDeleted,
		"messagesDeleted":  r.MessagesDeleted,
		"newOwner":         owner,
		"principalDeleted": r.PrincipalDeleted,
	})
}
