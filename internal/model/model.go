// Package model defines domain entities used by services and repositories.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/datagate/internal/permission"
)

// Built-in group names.
const (
	GroupAllUsers  = "AllUsers"  // implicit; every principal belongs
	GroupAdmin     = "Admin"     // holds PermissionGroupAdmin
	GroupSiteAdmin = "SiteAdmin" // holds PermissionGroupSiteAdmin
)

// IsSystemGroup reports whether name is one of the built-in groups, which have no manager.
func IsSystemGroup(name string) bool {
	return name == GroupAllUsers || name == GroupAdmin || name == GroupSiteAdmin
}

// Principal is an account. Identity itself is issued externally; the ID is the token subject.
type Principal struct {
	ID        uuid.UUID // PK
	Username  string    // unique
	Email     string    // unique
	Locked    bool      // blocks every authorization
	CreatedAt time.Time
}

// Group is a named set of principals with a single manager.
type Group struct {
	Name      string      // PK
	Manager   uuid.UUID   // uuid.Nil for system groups
	Members   []uuid.UUID // ordered by id
	CreatedAt time.Time
}

// HasMember reports whether id is a member of g.
func (g Group) HasMember(id uuid.UUID) bool {
	for _, m := range g.Members {
		if m == id {
			return true
		}
	}
	return false
}

// HolderKind tells whether a claim is attached to a user or a group.
type HolderKind string

const (
	HolderUser  HolderKind = "user"
	HolderGroup HolderKind = "group"
)

// Holder identifies the principal or group a claim is attached to.
type Holder struct {
	Kind HolderKind
	ID   string // principal id for users, group name for groups
}

// UserHolder returns the holder for a principal.
func UserHolder(id uuid.UUID) Holder { return Holder{Kind: HolderUser, ID: id.String()} }

// GroupHolder returns the holder for a group.
func GroupHolder(name string) Holder { return Holder{Kind: HolderGroup, ID: name} }

// UserID returns the principal id of a user holder.
func (h Holder) UserID() (uuid.UUID, bool) {
	if h.Kind != HolderUser {
		return uuid.Nil, false
	}
	id, err := uuid.FromString(h.ID)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// String returns "user:<id>" or "group:<name>".
func (h Holder) String() string { return string(h.Kind) + ":" + h.ID }

// HeldClaim pairs a decoded claim with its holder.
type HeldClaim struct {
	Holder Holder
	Claim  permission.Claim
}

// ShareRecord is a derived view of a data-level grant; never persisted.
type ShareRecord struct {
	Holder Holder
	Level  permission.Level
	Scope  permission.Scope
}

// StoredItem is the persisted row of any registered entity type.
type StoredItem struct {
	TypeName  string
	ID        string
	Payload   []byte // JSON document of the entity
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Message is a chat row. Only its lifetime matters here: reconciliation and
// group deletion remove messages whose parties no longer exist.
type Message struct {
	ID          uuid.UUID
	SenderID    uuid.UUID
	RecipientID uuid.UUID // uuid.Nil for group messages
	GroupName   string    // empty for direct messages
	Body        string
	CreatedAt   time.Time
}

// DeletionState tracks the double opt-in account deletion.
type DeletionState string

const (
	DeletionRequested   DeletionState = "requested"
	DeletionConfirmed   DeletionState = "confirmed"
	DeletionReconciling DeletionState = "reconciling"
	DeletionDeleted     DeletionState = "deleted"
)

// DeletionRequest is the pending (or finished) deletion of an account. It is
// kept after the account is gone so a repeated confirmation is a no-op.
type DeletionRequest struct {
	PrincipalID uuid.UUID
	TokenHash   []byte // Argon2id(token, TokenSalt)
	TokenSalt   []byte
	State       DeletionState
	RequestedAt time.Time
	ExpiresAt   time.Time
	UpdatedAt   time.Time
	// NewOwner is the principal picked to inherit owned items; uuid.Nil
	// until a reconciliation run picks one.
	NewOwner uuid.UUID
}
