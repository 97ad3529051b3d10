package authz

import (
	"context"
	"errors"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/datagate/internal/errs"
	"github.com/and161185/datagate/internal/metrics"
	"github.com/and161185/datagate/internal/permission"
)

// ShareScope is how widely a principal may share.
type ShareScope int

const (
	ShareNone  ShareScope = iota
	ShareGroup            // only with members of groups the principal manages
	ShareAny
)

func (s ShareScope) String() string {
	switch s {
	case ShareGroup:
		return "group"
	case ShareAny:
		return "any"
	default:
		return "none"
	}
}

// Decision is the outcome of resolving one request.
// Level is the operation's required level when Ceiling covers it, else None.
type Decision struct {
	Level    permission.Level
	Ceiling  permission.Level
	CanShare ShareScope
}

// Allowed reports whether the operation may proceed.
func (d Decision) Allowed() bool { return d.Level != permission.None }

// Resolver evaluates claim sets. System types are administration types on
// which Admin does not implicitly hold All.
type Resolver struct {
	system map[string]struct{}
}

// NewResolver constructs a Resolver.
func NewResolver(systemTypes ...string) *Resolver {
	r := &Resolver{system: make(map[string]struct{}, len(systemTypes))}
	for _, t := range systemTypes {
		r.system[t] = struct{}{}
	}
	return r
}

// Ceiling is the highest level the set grants on typeName, or on one
// instance of it when instanceID is set. Instance claims, owner included,
// replace the wildcard ceiling for that instance.
func (r *Resolver) Ceiling(set ClaimSet, typeName, instanceID string) permission.Level {
	if set.Locked {
		return permission.None
	}
	if set.IsSiteAdmin() {
		return permission.All
	}
	if _, sys := r.system[typeName]; !sys && set.IsAdmin() {
		return permission.All
	}

	wildcard := permission.None
	instance := permission.None
	instanceFound := false
	for _, c := range set.Claims {
		if !c.Kind.HasScope() || c.Scope.TypeName != typeName {
			continue
		}
		switch {
		case !c.Scope.IsInstance():
			if c.Kind.IsData() {
				wildcard = max(wildcard, c.Level())
			}
		case instanceID != "" && c.Scope.InstanceID == instanceID:
			instance = max(instance, c.Level())
			instanceFound = true
		}
	}
	if instanceFound {
		return instance
	}
	return wildcard
}

// Resolve decides op on typeName (and instanceID when set).
func (r *Resolver) Resolve(set ClaimSet, typeName, instanceID string, op permission.Operation) Decision {
	if set.Locked {
		return Decision{}
	}
	d := Decision{Ceiling: r.Ceiling(set, typeName, instanceID)}
	if req := op.Required(); d.Ceiling.Covers(req) {
		d.Level = req
	}

	switch {
	case set.IsAdmin() || set.IsSiteAdmin():
		d.CanShare = ShareAny
	case instanceID != "" && set.Owns(permission.InstanceScope(typeName, instanceID)):
		d.CanShare = ShareAny
	case len(set.ManagedGroups()) > 0:
		d.CanShare = ShareGroup
	}
	return d
}

// Authorizer decides requests for a principal id. Implementations may be
// backed by something other than stored claims.
type Authorizer interface {
	Authorize(ctx context.Context, principalID uuid.UUID, typeName string, op permission.Operation, instanceID string) (Decision, error)
}

// ClaimsAuthorizer is the Authorizer backed by the claim store.
type ClaimsAuthorizer struct {
	agg *Aggregator
	res *Resolver
	log *zap.Logger
}

var _ Authorizer = (*ClaimsAuthorizer)(nil)

// NewClaimsAuthorizer constructs a ClaimsAuthorizer.
func NewClaimsAuthorizer(agg *Aggregator, res *Resolver, log *zap.Logger) *ClaimsAuthorizer {
	if log == nil {
		log = zap.NewNop()
	}
	return &ClaimsAuthorizer{agg: agg, res: res, log: log}
}

// Claims exposes the aggregated claim set of a principal.
func (a *ClaimsAuthorizer) Claims(ctx context.Context, principalID uuid.UUID) (ClaimSet, error) {
	return a.agg.Aggregate(ctx, principalID)
}

// Resolver returns the underlying resolver.
func (a *ClaimsAuthorizer) Resolver() *Resolver { return a.res }

// Authorize aggregates the principal's claims and resolves op. A decision
// with Level None is returned together with errs.ErrUnauthorized.
func (a *ClaimsAuthorizer) Authorize(ctx context.Context, principalID uuid.UUID, typeName string, op permission.Operation, instanceID string) (Decision, error) {
	set, err := a.agg.Aggregate(ctx, principalID)
	if err != nil {
		if errors.Is(err, errs.ErrAccountLocked) {
			metrics.Decision(string(op), false)
		}
		return Decision{}, err
	}
	d := a.res.Resolve(set, typeName, instanceID, op)
	metrics.Decision(string(op), d.Allowed())
	if !d.Allowed() {
		a.log.Debug("authorization denied",
			zap.String("principal", principalID.String()),
			zap.String("type", typeName),
			zap.String("instance", instanceID),
			zap.String("op", string(op)),
			zap.Stringer("ceiling", d.Ceiling))
		return d, errs.ErrUnauthorized
	}
	return d, nil
}
