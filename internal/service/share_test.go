package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/and161185/datagate/internal/catalog"
	"github.com/and161185/datagate/internal/errs"
	"github.com/and161185/datagate/internal/model"
	"github.com/and161185/datagate/internal/permission"
)

func TestShare_OwnerSharesAndHides(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	u := e.user(t, "u")
	v := e.user(t, "v")
	e.grant(t, model.UserHolder(u), permission.Add, catalog.TypeCountry, "")

	c, err := e.data.Add(ctx, u, catalog.TypeCountry, map[string]any{"Name": "Peru"})
	require.NoError(t, err)
	id := c.Key()

	require.NoError(t, e.shares.ShareWithUser(ctx, u, v, catalog.TypeCountry, id, permission.View))
	_, err = e.data.Find(ctx, v, catalog.TypeCountry, id)
	require.NoError(t, err)
	_, err = e.data.Update(ctx, v, catalog.TypeCountry, id, map[string]any{"Code": "PE"})
	require.ErrorIs(t, err, errs.ErrUnauthorized)

	// sharing again sets the level instead of stacking claims
	require.NoError(t, e.shares.ShareWithUser(ctx, u, v, catalog.TypeCountry, id, permission.Edit))
	require.NoError(t, e.shares.ShareWithUser(ctx, u, v, catalog.TypeCountry, id, permission.Edit))
	recs, err := e.shares.ListShares(ctx, u, catalog.TypeCountry, id)
	require.NoError(t, err)
	require.Equal(t, []model.ShareRecord{{
		Holder: model.UserHolder(v), Level: permission.Edit, Scope: permission.InstanceScope(catalog.TypeCountry, id),
	}}, recs)

	require.NoError(t, e.shares.HideFromUser(ctx, u, v, catalog.TypeCountry, id))
	require.NoError(t, e.shares.HideFromUser(ctx, u, v, catalog.TypeCountry, id))
	_, err = e.data.Find(ctx, v, catalog.TypeCountry, id)
	require.ErrorIs(t, err, errs.ErrUnauthorized)

	// owner claim is untouched by share and hide
	_, err = e.data.Find(ctx, u, catalog.TypeCountry, id)
	require.NoError(t, err)
}

func TestShare_WithoutCapabilityForbidden(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	u := e.user(t, "u")
	v := e.user(t, "v")
	e.grant(t, model.UserHolder(u), permission.All, catalog.TypeCountry, "")

	err := e.shares.ShareWithUser(ctx, u, v, catalog.TypeCountry, "c1", permission.View)
	require.ErrorIs(t, err, errs.ErrForbidden)

	err = e.shares.HideFromAll(ctx, u, catalog.TypeCountry, "")
	require.ErrorIs(t, err, errs.ErrForbidden)
}

func TestShare_GroupManagerLimitedToOwnGroup(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	m := e.user(t, "m")
	member := e.user(t, "member")
	outsider := e.user(t, "outsider")

	_, err := e.groups.CreateGroup(ctx, m, "Pilots", nil)
	require.NoError(t, err)
	require.NoError(t, e.groups.AddMember(ctx, m, "Pilots", member))
	e.grant(t, model.UserHolder(m), permission.Edit, catalog.TypeCity, "")

	require.NoError(t, e.shares.ShareWithUser(ctx, m, member, catalog.TypeCity, "", permission.View))
	require.NoError(t, e.shares.ShareWithGroup(ctx, m, "Pilots", catalog.TypeCity, "", permission.Edit))

	err = e.shares.ShareWithUser(ctx, m, outsider, catalog.TypeCity, "", permission.View)
	require.ErrorIs(t, err, errs.ErrForbidden)
	err = e.shares.ShareWithAll(ctx, m, catalog.TypeCity, "", permission.View)
	require.ErrorIs(t, err, errs.ErrForbidden)

	// cannot grant above own ceiling
	err = e.shares.ShareWithUser(ctx, m, member, catalog.TypeCity, "", permission.All)
	require.ErrorIs(t, err, errs.ErrForbidden)
}

func TestShare_AllUsersAndHideFromAll(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	admin := e.user(t, "admin")
	e.makeAdmin(t, admin)
	v := e.user(t, "v")
	w := e.user(t, "w")

	require.NoError(t, e.shares.ShareWithAll(ctx, admin, catalog.TypeCountry, "", permission.View))
	require.NoError(t, e.shares.ShareWithUser(ctx, admin, w, catalog.TypeCountry, "", permission.View))

	_, err := e.az.Authorize(ctx, v, catalog.TypeCountry, permission.OpView, "")
	require.NoError(t, err)

	require.NoError(t, e.shares.HideFromAll(ctx, admin, catalog.TypeCountry, ""))
	_, err = e.az.Authorize(ctx, v, catalog.TypeCountry, permission.OpView, "")
	require.ErrorIs(t, err, errs.ErrUnauthorized)

	// individual grants survive HideFromAll
	_, err = e.az.Authorize(ctx, w, catalog.TypeCountry, permission.OpView, "")
	require.NoError(t, err)
}

func TestShare_Validation(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	admin := e.user(t, "admin")
	e.makeAdmin(t, admin)
	v := e.user(t, "v")

	err := e.shares.ShareWithUser(ctx, admin, v, catalog.TypeCountry, "", permission.None)
	require.ErrorIs(t, err, errs.ErrInvalidArgument)

	err = e.shares.ShareWithUser(ctx, admin, v, "Planet", "", permission.View)
	require.ErrorIs(t, err, errs.ErrNotFound)

	err = e.shares.ShareWithGroup(ctx, admin, "NoSuchGroup", catalog.TypeCountry, "", permission.View)
	require.ErrorIs(t, err, errs.ErrNotFound)
}
