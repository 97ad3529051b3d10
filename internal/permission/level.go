// Package permission defines the claim vocabulary: permission levels,
// operations, claim kinds and the scope encoding used in claim values.
package permission

import (
	"fmt"
	"strings"

	"github.com/and161185/datagate/internal/errs"
)

// Level is a permission ceiling. Levels are totally ordered: None < View < Edit < Add < All.
type Level int

const (
	None Level = iota
	View
	Edit
	Add
	All
)

var levelNames = [...]string{"none", "view", "edit", "add", "all"}

// String returns the lower-case level name.
func (l Level) String() string {
	if l < None || l > All {
		return fmt.Sprintf("level(%d)", int(l))
	}
	return levelNames[l]
}

// Covers reports whether l is at least other.
func (l Level) Covers(other Level) bool { return l >= other }

// ParseLevel parses a level name (case-insensitive).
func ParseLevel(s string) (Level, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, n := range levelNames {
		if n == s {
			return Level(i), nil
		}
	}
	return None, fmt.Errorf("%w: unknown level %q", errs.ErrInvalidArgument, s)
}

// Operation is a requested action on an entity type or instance.
type Operation string

const (
	OpView   Operation = "view"
	OpEdit   Operation = "edit"
	OpAdd    Operation = "add"
	OpDelete Operation = "delete"
)

// Required returns the minimum level an operation needs.
func (o Operation) Required() Level {
	switch o {
	case OpView:
		return View
	case OpEdit:
		return Edit
	case OpAdd:
		return Add
	case OpDelete:
		return All
	default:
		return All
	}
}

// ParseOperation parses an operation name (case-insensitive).
func ParseOperation(s string) (Operation, error) {
	switch op := Operation(strings.ToLower(strings.TrimSpace(s))); op {
	case OpView, OpEdit, OpAdd, OpDelete:
		return op, nil
	default:
		return "", fmt.Errorf("%w: unknown operation %q", errs.ErrInvalidArgument, s)
	}
}
