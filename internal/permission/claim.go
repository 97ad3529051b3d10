package permission

import (
	"fmt"
	"strings"

	"github.com/and161185/datagate/internal/errs"
)

// Kind is a claim type name as stored in the claims table.
type Kind string

const (
	KindDataView       Kind = "PermissionDataView"
	KindDataEdit       Kind = "PermissionDataEdit"
	KindDataAdd        Kind = "PermissionDataAdd"
	KindDataAll        Kind = "PermissionDataAll"
	KindDataOwner      Kind = "PermissionDataOwner"
	KindGroupManager   Kind = "PermissionGroupManager"
	KindGroupSiteAdmin Kind = "PermissionGroupSiteAdmin"
	KindGroupAdmin     Kind = "PermissionGroupAdmin"
)

// DataKinds lists the level-granting data kinds, lowest first.
var DataKinds = []Kind{KindDataView, KindDataEdit, KindDataAdd, KindDataAll}

// IsData reports whether k grants a data level (View..All).
func (k Kind) IsData() bool {
	return k == KindDataView || k == KindDataEdit || k == KindDataAdd || k == KindDataAll
}

// HasScope reports whether the claim value of k is a Scope.
func (k Kind) HasScope() bool { return k.IsData() || k == KindDataOwner }

// LevelForKind maps a data kind to the ceiling it grants.
func LevelForKind(k Kind) Level {
	switch k {
	case KindDataView:
		return View
	case KindDataEdit:
		return Edit
	case KindDataAdd:
		return Add
	case KindDataAll:
		return All
	default:
		return None
	}
}

// KindForLevel maps a level to its data kind. None has no kind.
func KindForLevel(l Level) (Kind, bool) {
	switch l {
	case View:
		return KindDataView, true
	case Edit:
		return KindDataEdit, true
	case Add:
		return KindDataAdd, true
	case All:
		return KindDataAll, true
	default:
		return "", false
	}
}

// Scope addresses either a whole entity type (InstanceID empty) or a single instance.
type Scope struct {
	TypeName   string
	InstanceID string
}

// TypeScope returns the wildcard scope for typeName.
func TypeScope(typeName string) Scope { return Scope{TypeName: typeName} }

// InstanceScope returns the scope of a single instance.
func InstanceScope(typeName, id string) Scope { return Scope{TypeName: typeName, InstanceID: id} }

// IsInstance reports whether the scope addresses a single instance.
func (s Scope) IsInstance() bool { return s.InstanceID != "" }

// String encodes the scope as stored: "Type" or "Type{id}".
func (s Scope) String() string {
	if s.InstanceID == "" {
		return s.TypeName
	}
	return s.TypeName + "{" + s.InstanceID + "}"
}

// ParseScope decodes "Type" or "Type{id}".
func ParseScope(v string) (Scope, error) {
	open := strings.IndexByte(v, '{')
	if open < 0 {
		if v == "" || strings.ContainsRune(v, '}') {
			return Scope{}, fmt.Errorf("%w: malformed scope %q", errs.ErrInvalidArgument, v)
		}
		return Scope{TypeName: v}, nil
	}
	if open == 0 || !strings.HasSuffix(v, "}") {
		return Scope{}, fmt.Errorf("%w: malformed scope %q", errs.ErrInvalidArgument, v)
	}
	id := v[open+1 : len(v)-1]
	if id == "" || strings.ContainsAny(id, "{}") {
		return Scope{}, fmt.Errorf("%w: malformed scope %q", errs.ErrInvalidArgument, v)
	}
	return Scope{TypeName: v[:open], InstanceID: id}, nil
}

// Claim is a decoded claim. Scope is set for data and owner kinds, Group for
// manager claims; site-wide role kinds carry neither.
type Claim struct {
	Kind  Kind
	Scope Scope
	Group string
}

// DataClaim builds a level-granting claim.
func DataClaim(l Level, s Scope) (Claim, error) {
	k, ok := KindForLevel(l)
	if !ok {
		return Claim{}, fmt.Errorf("%w: level %s cannot be granted", errs.ErrInvalidArgument, l)
	}
	return Claim{Kind: k, Scope: s}, nil
}

// OwnerClaim builds the ownership claim for an instance.
func OwnerClaim(typeName, id string) Claim {
	return Claim{Kind: KindDataOwner, Scope: InstanceScope(typeName, id)}
}

// ManagerClaim builds the manager claim for a group.
func ManagerClaim(group string) Claim {
	return Claim{Kind: KindGroupManager, Group: group}
}

// Level returns the ceiling a data claim grants; owner claims grant All on their instance.
func (c Claim) Level() Level {
	if c.Kind == KindDataOwner {
		return All
	}
	return LevelForKind(c.Kind)
}

// Encode returns the storage form (kind, value).
func (c Claim) Encode() (string, string) {
	switch {
	case c.Kind.HasScope():
		return string(c.Kind), c.Scope.String()
	case c.Kind == KindGroupManager:
		return string(c.Kind), c.Group
	default:
		return string(c.Kind), string(c.Kind)
	}
}

// Value returns only the encoded value.
func (c Claim) Value() string {
	_, v := c.Encode()
	return v
}

// Decode parses a stored (kind, value) pair.
func Decode(kind, value string) (Claim, error) {
	k := Kind(kind)
	switch {
	case k.HasScope():
		s, err := ParseScope(value)
		if err != nil {
			return Claim{}, err
		}
		if k == KindDataOwner && !s.IsInstance() {
			return Claim{}, fmt.Errorf("%w: owner claim without instance %q", errs.ErrInvalidArgument, value)
		}
		return Claim{Kind: k, Scope: s}, nil
	case k == KindGroupManager:
		if strings.TrimSpace(value) == "" {
			return Claim{}, fmt.Errorf("%w: manager claim without group", errs.ErrInvalidArgument)
		}
		return Claim{Kind: k, Group: value}, nil
	case k == KindGroupSiteAdmin || k == KindGroupAdmin:
		return Claim{Kind: k}, nil
	default:
		return Claim{}, fmt.Errorf("%w: unknown claim kind %q", errs.ErrInvalidArgument, kind)
	}
}
