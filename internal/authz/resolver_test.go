package authz

import (
	"context"
	"testing"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/datagate/internal/errs"
	"github.com/and161185/datagate/internal/model"
	"github.com/and161185/datagate/internal/permission"
	"github.com/and161185/datagate/internal/repository/memory"
)

func data(t *testing.T, l permission.Level, typeName, id string) permission.Claim {
	t.Helper()
	c, err := permission.DataClaim(l, permission.InstanceScope(typeName, id))
	require.NoError(t, err)
	return c
}

var (
	adminClaim     = permission.Claim{Kind: permission.KindGroupAdmin}
	siteAdminClaim = permission.Claim{Kind: permission.KindGroupSiteAdmin}
)

func TestResolve_WildcardCoversOperation(t *testing.T) {
	r := NewResolver()
	set := ClaimSet{Claims: []permission.Claim{data(t, permission.All, "Country", "")}}

	d := r.Resolve(set, "Country", "c1", permission.OpEdit)
	require.Equal(t, permission.Edit, d.Level)
	require.Equal(t, permission.All, d.Ceiling)
	require.Equal(t, ShareNone, d.CanShare)
}

func TestResolve_LockedAlwaysNone(t *testing.T) {
	r := NewResolver()
	set := ClaimSet{
		Locked: true,
		Claims: []permission.Claim{
			siteAdminClaim, adminClaim,
			data(t, permission.All, "Country", ""),
			permission.OwnerClaim("Country", "c1"),
		},
	}
	for _, op := range []permission.Operation{permission.OpView, permission.OpEdit, permission.OpAdd, permission.OpDelete} {
		d := r.Resolve(set, "Country", "c1", op)
		require.False(t, d.Allowed(), op)
		require.Equal(t, ShareNone, d.CanShare)
	}
}

func TestResolve_InstanceOverridesWildcard(t *testing.T) {
	r := NewResolver()
	levels := []permission.Level{permission.View, permission.Edit, permission.Add, permission.All}
	for _, wild := range levels {
		for _, inst := range levels {
			set := ClaimSet{Claims: []permission.Claim{
				data(t, wild, "Country", ""),
				data(t, inst, "Country", "c1"),
			}}
			require.Equal(t, inst, r.Ceiling(set, "Country", "c1"), "wild=%s inst=%s", wild, inst)
			require.Equal(t, wild, r.Ceiling(set, "Country", "c2"), "other instance")
			require.Equal(t, wild, r.Ceiling(set, "Country", ""), "type scope")
		}
	}
}

func TestResolve_OwnerIsAllOnInstance(t *testing.T) {
	r := NewResolver()
	set := ClaimSet{Claims: []permission.Claim{
		data(t, permission.View, "Country", ""),
		permission.OwnerClaim("Country", "c1"),
	}}

	d := r.Resolve(set, "Country", "c1", permission.OpDelete)
	require.Equal(t, permission.All, d.Level)
	require.Equal(t, ShareAny, d.CanShare)

	d = r.Resolve(set, "Country", "c2", permission.OpDelete)
	require.False(t, d.Allowed())
	require.Equal(t, ShareNone, d.CanShare)
}

func TestResolve_NoClaimsDenied(t *testing.T) {
	r := NewResolver()
	d := r.Resolve(ClaimSet{}, "Country", "", permission.OpView)
	require.False(t, d.Allowed())
	require.Equal(t, permission.None, d.Ceiling)
}

func TestResolve_AdminRoles(t *testing.T) {
	r := NewResolver("Role")

	admin := ClaimSet{Claims: []permission.Claim{adminClaim}}
	require.Equal(t, permission.All, r.Ceiling(admin, "Country", "c1"))
	require.Equal(t, permission.None, r.Ceiling(admin, "Role", ""))
	require.Equal(t, ShareAny, r.Resolve(admin, "Country", "", permission.OpView).CanShare)

	site := ClaimSet{Claims: []permission.Claim{siteAdminClaim}}
	require.Equal(t, permission.All, r.Ceiling(site, "Role", ""))
	require.Equal(t, permission.All, r.Ceiling(site, "Country", "c9"))
}

func TestResolve_CanShare(t *testing.T) {
	r := NewResolver()
	owner := permission.OwnerClaim("Country", "c1")
	manager := permission.ManagerClaim("Pilots")
	view := data(t, permission.All, "Country", "")

	cases := []struct {
		name   string
		claims []permission.Claim
		inst   string
		want   ShareScope
	}{
		{"admin", []permission.Claim{adminClaim}, "c1", ShareAny},
		{"owner of instance", []permission.Claim{owner}, "c1", ShareAny},
		{"owner of other instance", []permission.Claim{owner}, "c2", ShareNone},
		{"owner on type scope", []permission.Claim{owner}, "", ShareNone},
		{"manager", []permission.Claim{manager, view}, "c1", ShareGroup},
		{"owner and manager", []permission.Claim{manager, owner}, "c1", ShareAny},
		{"high level only", []permission.Claim{view}, "c1", ShareNone},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := r.Resolve(ClaimSet{Claims: tc.claims}, "Country", tc.inst, permission.OpView)
			require.Equal(t, tc.want, d.CanShare)
		})
	}
}

func TestAggregator(t *testing.T) {
	ctx := context.Background()
	st := memory.NewStore()
	log := zaptest.NewLogger(t)

	u := model.Principal{ID: uuid.Must(uuid.NewV4()), Username: "u", Email: "u@x"}
	require.NoError(t, st.Principals().Create(ctx, &u))
	require.NoError(t, st.Groups().Create(ctx, &model.Group{Name: "Pilots", Manager: u.ID, Members: []uuid.UUID{u.ID}}))

	require.NoError(t, st.Claims().Add(ctx, model.UserHolder(u.ID), permission.ManagerClaim("Pilots")))
	require.NoError(t, st.Claims().Add(ctx, model.GroupHolder("Pilots"), data(t, permission.Edit, "City", "")))
	require.NoError(t, st.Claims().Add(ctx, model.GroupHolder(model.GroupAllUsers), data(t, permission.View, "Country", "")))

	agg := NewAggregator(st.Principals(), st.Groups(), st.Claims(), log)
	set, err := agg.Aggregate(ctx, u.ID)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"Pilots", model.GroupAllUsers}, set.Groups)
	require.Len(t, set.Claims, 3)
	require.True(t, set.Manages("Pilots"))

	az := NewClaimsAuthorizer(agg, NewResolver(), log)
	d, err := az.Authorize(ctx, u.ID, "City", permission.OpEdit, "x")
	require.NoError(t, err)
	require.Equal(t, permission.Edit, d.Level)
	require.Equal(t, ShareGroup, d.CanShare)

	_, err = az.Authorize(ctx, u.ID, "Country", permission.OpEdit, "")
	require.ErrorIs(t, err, errs.ErrUnauthorized)

	_, err = agg.Aggregate(ctx, uuid.Must(uuid.NewV4()))
	require.ErrorIs(t, err, errs.ErrInvalidPrincipal)

	require.NoError(t, st.Principals().SetLocked(ctx, u.ID, true))
	_, err = az.Authorize(ctx, u.ID, "City", permission.OpView, "")
	require.ErrorIs(t, err, errs.ErrAccountLocked)
}
