package convert

import (
	"testing"
	"time"

	u "github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/and161185/datagate/internal/authz"
	"github.com/and161185/datagate/internal/catalog"
	"github.com/and161185/datagate/internal/entity"
	"github.com/and161185/datagate/internal/errs"
	"github.com/and161185/datagate/internal/model"
	"github.com/and161185/datagate/internal/permission"
	"github.com/and161185/datagate/internal/reconcile"
)

func mustStruct(t *testing.T, m map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(m)
	require.NoError(t, err)
	return s
}

func countryDescriptor(t *testing.T) *entity.Descriptor {
	t.Helper()
	reg := entity.NewRegistry()
	require.NoError(t, catalog.Register(reg))
	d, err := reg.Lookup(catalog.TypeCountry)
	require.NoError(t, err)
	return d
}

func TestFromEntity(t *testing.T) {
	t.Parallel()

	d := countryDescriptor(t)
	founded := time.Date(1991, 8, 24, 0, 0, 0, 0, time.UTC)
	c := &catalog.Country{ID: "ua", Name: "Ukraine", Code: "UA", Population: 41000000, UNMember: true, Founded: founded}
	c.CreatedAt = founded

	s, err := FromEntity(d, c)
	require.NoError(t, err)
	m := s.AsMap()
	require.Equal(t, "ua", m[KeyID])
	require.Equal(t, "Ukraine", m["Name"])
	require.Equal(t, float64(41000000), m["Population"])
	require.Equal(t, true, m["UNMember"])
	require.Equal(t, "1991-08-24T00:00:00Z", m["Founded"])
	require.Equal(t, "1991-08-24T00:00:00Z", m[KeyCreatedAt])
	require.Equal(t, "", m[KeyUpdatedAt])
}

func TestValuesApplyToEntity(t *testing.T) {
	t.Parallel()

	d := countryDescriptor(t)
	req := mustStruct(t, map[string]any{
		"values": map[string]any{"Name": "Chile", "Population": 19000000, "Founded": "1818-02-12T00:00:00Z"},
	})

	e := d.New()
	written, err := entity.Apply(d, e, Values(req, "values"))
	require.NoError(t, err)
	require.Len(t, written, 3)

	c := e.(*catalog.Country)
	require.Equal(t, "Chile", c.Name)
	require.Equal(t, int64(19000000), c.Population)
	require.Equal(t, 1818, c.Founded.Year())

	require.Empty(t, Values(req, "missing"))
}

func TestToQuery(t *testing.T) {
	t.Parallel()

	q, err := ToQuery(mustStruct(t, map[string]any{
		"search":      "an",
		"sortBy":      "Name",
		"descending":  true,
		"page":        2,
		"rowsPerPage": 10,
		"except":      []any{"a", "b"},
	}))
	require.NoError(t, err)
	require.Equal(t, entity.Query{Search: "an", SortBy: "Name", Descending: true, Page: 2, RowsPerPage: 10, Except: []string{"a", "b"}}, q)

	_, err = ToQuery(mustStruct(t, map[string]any{"except": []any{1}}))
	require.ErrorIs(t, err, errs.ErrInvalidArgument)

	for _, bad := range []map[string]any{
		{"page": 1e19},
		{"page": -1e19},
		{"rowsPerPage": 2.5},
	} {
		_, err = ToQuery(mustStruct(t, bad))
		require.ErrorIs(t, err, errs.ErrInvalidArgument, "%v", bad)
	}
}

func TestUUIDs(t *testing.T) {
	t.Parallel()

	id := u.Must(u.NewV4())
	s := mustStruct(t, map[string]any{"one": id.String(), "many": []any{id.String()}, "bad": "nope"})

	got, err := UUID(s, "one")
	require.NoError(t, err)
	require.Equal(t, id, got)

	got, err = UUID(s, "absent")
	require.NoError(t, err)
	require.Equal(t, u.Nil, got)

	_, err = UUID(s, "bad")
	require.ErrorIs(t, err, errs.ErrInvalidArgument)

	many, err := UUIDs(s, "many")
	require.NoError(t, err)
	require.Equal(t, []u.UUID{id}, many)
}

func TestToLevel(t *testing.T) {
	t.Parallel()

	l, err := ToLevel(mustStruct(t, map[string]any{"level": "Edit"}), "level")
	require.NoError(t, err)
	require.Equal(t, permission.Edit, l)

	_, err = ToLevel(mustStruct(t, map[string]any{}), "level")
	require.ErrorIs(t, err, errs.ErrInvalidArgument)
}

func TestFromDecisionAndShares(t *testing.T) {
	t.Parallel()

	s, err := FromDecision(authz.Decision{Level: permission.View, Ceiling: permission.All, CanShare: authz.ShareGroup})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"allowed": true, "level": "view", "ceiling": "all", "canShare": "group"}, s.AsMap())

	s, err = FromShares([]model.ShareRecord{{
		Holder: model.GroupHolder("Pilots"),
		Level:  permission.Edit,
		Scope:  permission.InstanceScope("Country", "c1"),
	}})
	require.NoError(t, err)
	shares := s.AsMap()["shares"].([]any)
	require.Len(t, shares, 1)
	require.Equal(t, "Pilots", shares[0].(map[string]any)["holder"])
	require.Equal(t, "edit", shares[0].(map[string]any)["level"])
}

func TestFromResult(t *testing.T) {
	t.Parallel()

	owner := u.Must(u.NewV4())
	s, err := FromResult(reconcile.Result{ItemsTransferred: 2, NewOwner: owner, PrincipalDeleted: true})
	require.NoError(t, err)
	m := s.AsMap()
	require.Equal(t, float64(2), m["itemsTransferred"])
	require.Equal(t, owner.String(), m["newOwner"])
	require.Equal(t, true, m["principalDeleted"])

	s, err = FromResult(reconcile.Result{})
	require.NoError(t, err)
	require.Equal(t, "", s.AsMap()["newOwner"])
}
