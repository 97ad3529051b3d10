package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/and161185/datagate/internal/catalog"
	"github.com/and161185/datagate/internal/entity"
	"github.com/and161185/datagate/internal/errs"
	"github.com/and161185/datagate/internal/model"
	"github.com/and161185/datagate/internal/permission"
)

func TestDataService_AddRequiresAddLevel(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	u := e.user(t, "u")

	_, err := e.data.Add(ctx, u, catalog.TypeCountry, map[string]any{"Name": "France"})
	require.ErrorIs(t, err, errs.ErrUnauthorized)

	e.grant(t, model.UserHolder(u), permission.Add, catalog.TypeCountry, "")
	got, err := e.data.Add(ctx, u, catalog.TypeCountry, map[string]any{"Name": "France", "Population": float64(68)})
	require.NoError(t, err)

	c := got.(*catalog.Country)
	require.NotEmpty(t, c.ID)
	require.Equal(t, "France", c.Name)
	require.Equal(t, entity.DefaultText, c.Code)
	require.Equal(t, entity.DefaultTime, c.Founded)
	require.EqualValues(t, 68, c.Population)
	require.False(t, c.CreatedAt.IsZero())

	held, err := e.st.Claims().ListByScope(ctx, permission.InstanceScope(catalog.TypeCountry, c.ID), permission.KindDataOwner)
	require.NoError(t, err)
	require.Equal(t, []model.HeldClaim{{Holder: model.UserHolder(u), Claim: permission.OwnerClaim(catalog.TypeCountry, c.ID)}}, held)
}

func TestDataService_OwnerLifecycle(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	u := e.user(t, "u")
	v := e.user(t, "v")
	e.grant(t, model.UserHolder(u), permission.Add, catalog.TypeCity, "")

	city, err := e.data.Add(ctx, u, catalog.TypeCity, map[string]any{"Name": "Lyon"})
	require.NoError(t, err)
	id := city.Key()

	found, err := e.data.Find(ctx, u, catalog.TypeCity, id)
	require.NoError(t, err)
	require.Equal(t, "Lyon", found.(*catalog.City).Name)

	_, err = e.data.Find(ctx, v, catalog.TypeCity, id)
	require.ErrorIs(t, err, errs.ErrUnauthorized)

	time.Sleep(time.Millisecond)
	upd, err := e.data.Update(ctx, u, catalog.TypeCity, id, map[string]any{"Population": 500000})
	require.NoError(t, err)
	require.EqualValues(t, 500000, upd.(*catalog.City).Population)
	require.True(t, upd.Stamps().UpdatedAt.After(upd.Stamps().CreatedAt))

	_, err = e.data.Update(ctx, u, catalog.TypeCity, id, map[string]any{"Mayor": "x"})
	require.ErrorIs(t, err, errs.ErrInvalidArgument)

	require.NoError(t, e.data.Remove(ctx, u, catalog.TypeCity, id))
	held, err := e.st.Claims().ListByScope(ctx, permission.InstanceScope(catalog.TypeCity, id))
	require.NoError(t, err)
	require.Empty(t, held)

	_, err = e.st.Items().Get(ctx, catalog.TypeCity, id)
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestDataService_FindMissing(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	u := e.user(t, "u")
	e.grant(t, model.UserHolder(u), permission.View, catalog.TypeCity, "")

	_, err := e.data.Find(ctx, u, catalog.TypeCity, "nope")
	require.ErrorIs(t, err, errs.ErrNotFound)

	_, err = e.data.Find(ctx, u, "Planet", "x")
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestDataService_RemoveRangeSkips(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	u := e.user(t, "u")
	v := e.user(t, "v")
	e.grant(t, model.UserHolder(u), permission.Add, catalog.TypeCity, "")
	e.grant(t, model.UserHolder(v), permission.Add, catalog.TypeCity, "")

	a, err := e.data.Add(ctx, u, catalog.TypeCity, map[string]any{"Name": "a"})
	require.NoError(t, err)
	b, err := e.data.Add(ctx, u, catalog.TypeCity, map[string]any{"Name": "b"})
	require.NoError(t, err)
	theirs, err := e.data.Add(ctx, v, catalog.TypeCity, map[string]any{"Name": "c"})
	require.NoError(t, err)

	removed, err := e.data.RemoveRange(ctx, u, catalog.TypeCity, []string{a.Key(), "missing", theirs.Key(), b.Key()})
	require.NoError(t, err)
	require.Equal(t, []string{a.Key(), b.Key()}, removed)

	_, err = e.st.Items().Get(ctx, catalog.TypeCity, theirs.Key())
	require.NoError(t, err)
}

func TestDataService_GetPage(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	u := e.user(t, "u")
	e.grant(t, model.UserHolder(u), permission.Add, catalog.TypeCity, "")

	for i := 0; i < 7; i++ {
		_, err := e.data.Add(ctx, u, catalog.TypeCity, map[string]any{"Name": fmt.Sprintf("city-%d", i%3), "Population": int64(i)})
		require.NoError(t, err)
	}

	p, err := e.data.GetPage(ctx, u, catalog.TypeCity, entity.Query{Search: "city-1", SortBy: "Population", Descending: true})
	require.NoError(t, err)
	require.Equal(t, 2, p.TotalItems)
	require.EqualValues(t, 4, p.Items[0].(*catalog.City).Population)

	p, err = e.data.GetPage(ctx, u, catalog.TypeCity, entity.Query{SortBy: "Population", Page: 2, RowsPerPage: 3})
	require.NoError(t, err)
	require.Equal(t, 7, p.TotalItems)
	require.Len(t, p.Items, 3)
	require.EqualValues(t, 3, p.Items[0].(*catalog.City).Population)

	_, err = e.data.GetPage(ctx, u, catalog.TypeCity, entity.Query{SortBy: "Altitude"})
	require.ErrorIs(t, err, errs.ErrInvalidArgument)

	other := e.user(t, "other")
	_, err = e.data.GetPage(ctx, other, catalog.TypeCity, entity.Query{})
	require.ErrorIs(t, err, errs.ErrUnauthorized)
}

func TestDataService_LockedAccount(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	u := e.user(t, "u")
	e.makeAdmin(t, u)
	require.NoError(t, e.st.Principals().SetLocked(ctx, u, true))

	_, err := e.data.Add(ctx, u, catalog.TypeCity, map[string]any{"Name": "x"})
	require.ErrorIs(t, err, errs.ErrAccountLocked)
}

func TestDataService_FieldDefinitions(t *testing.T) {
	e := newEnv(t)
	defs, err := e.data.GetFieldDefinitions(catalog.TypeCity)
	require.NoError(t, err)
	require.Equal(t, "Name", defs[0].Name)
	require.True(t, defs[0].Required)

	_, err = e.data.GetFieldDefinitions("Planet")
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestDataService_SystemTypeNeedsSiteAdmin(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	admin := e.user(t, "admin")
	e.makeAdmin(t, admin)
	site := e.user(t, "site")
	require.NoError(t, e.st.Groups().AddMember(ctx, model.GroupSiteAdmin, site))

	_, err := e.data.Add(ctx, admin, catalog.TypeCountry, map[string]any{"Name": "Peru"})
	require.NoError(t, err)
	_, err = e.data.Add(ctx, admin, catalog.TypeCity, map[string]any{"Name": "Lima"})
	require.ErrorIs(t, err, errs.ErrUnauthorized)

	city, err := e.data.Add(ctx, site, catalog.TypeCity, map[string]any{"Name": "Lima"})
	require.NoError(t, err)

	// an explicit claim still works for Admin
	e.grant(t, model.UserHolder(admin), permission.View, catalog.TypeCity, "")
	_, err = e.data.Find(ctx, admin, catalog.TypeCity, city.Key())
	require.NoError(t, err)
}
