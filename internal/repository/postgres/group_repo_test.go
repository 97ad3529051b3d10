package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/and161185/datagate/internal/errs"
	"github.com/and161185/datagate/internal/model"
	"github.com/gofrs/uuid/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"
)

func TestGroupRepo_Create(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewGroupRepo(db)

	mgr := uuid.Must(uuid.NewV4())
	other := uuid.Must(uuid.NewV4())
	g := &model.Group{Name: "Pilots", Manager: mgr, Members: []uuid.UUID{mgr, other}}

	mock.ExpectBegin()
	mock.ExpectExec(sqlRe(`INSERT INTO groups (name, manager_id) VALUES ($1,$2)`)).
		WithArgs("Pilots", &mgr).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(sqlRe(`INSERT INTO group_members (group_name, principal_id)`)).
		WithArgs("Pilots", mgr).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(sqlRe(`INSERT INTO group_members (group_name, principal_id)`)).
		WithArgs("Pilots", other).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, r.Create(context.Background(), g))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGroupRepo_Create_MemberFailure_RollsBack(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewGroupRepo(db)

	m := uuid.Must(uuid.NewV4())
	g := &model.Group{Name: "Pilots", Members: []uuid.UUID{m}}

	mock.ExpectBegin()
	mock.ExpectExec(sqlRe(`INSERT INTO groups`)).
		WithArgs("Pilots", (*uuid.UUID)(nil)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(sqlRe(`INSERT INTO group_members`)).
		WithArgs("Pilots", m).
		WillReturnError(errors.New("boom"))
	mock.ExpectRollback()

	require.Error(t, r.Create(context.Background(), g))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGroupRepo_Get(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewGroupRepo(db)

	mgr := uuid.Must(uuid.NewV4())
	other := uuid.Must(uuid.NewV4())

	mock.ExpectQuery(sqlRe(`SELECT name, manager_id, created_at FROM groups WHERE name=$1`)).
		WithArgs("Pilots").
		WillReturnRows(pgxmock.NewRows([]string{"name", "manager_id", "created_at"}).AddRow("Pilots", &mgr, time.Now()))
	mock.ExpectQuery(sqlRe(`SELECT principal_id FROM group_members WHERE group_name=$1 ORDER BY principal_id`)).
		WithArgs("Pilots").
		WillReturnRows(pgxmock.NewRows([]string{"principal_id"}).AddRow(mgr).AddRow(other))

	g, err := r.Get(context.Background(), "Pilots")
	require.NoError(t, err)
	require.Equal(t, mgr, g.Manager)
	require.Equal(t, []uuid.UUID{mgr, other}, g.Members)
}

func TestGroupRepo_ListForMember(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewGroupRepo(db)
	id := uuid.Must(uuid.NewV4())

	mock.ExpectQuery(sqlRe(`SELECT group_name FROM group_members WHERE principal_id=$1`)).
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"group_name"}).AddRow("Admin").AddRow("Pilots"))
	names, err := r.ListForMember(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, []string{"Admin", "Pilots"}, names)
}

func TestGroupRepo_Membership(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewGroupRepo(db)
	ctx := context.Background()
	id := uuid.Must(uuid.NewV4())

	mock.ExpectExec(sqlRe(`INSERT INTO group_members (group_name, principal_id) VALUES ($1,$2) ON CONFLICT DO NOTHING`)).
		WithArgs("Pilots", id).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, r.AddMember(ctx, "Pilots", id))

	mock.ExpectExec(sqlRe(`DELETE FROM group_members WHERE group_name=$1 AND principal_id=$2`)).
		WithArgs("Pilots", id).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	require.NoError(t, r.RemoveMember(ctx, "Pilots", id))

	mock.ExpectExec(sqlRe(`UPDATE groups SET manager_id=$2 WHERE name=$1`)).
		WithArgs("Pilots", id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, r.SetManager(ctx, "Pilots", id))

	mock.ExpectExec(sqlRe(`UPDATE groups SET manager_id=$2 WHERE name=$1`)).
		WithArgs("Ghosts", id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	require.ErrorIs(t, r.SetManager(ctx, "Ghosts", id), errs.ErrNotFound)
}

func TestGroupRepo_Delete_CleansDependents(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewGroupRepo(db)

	mock.ExpectBegin()
	mock.ExpectExec(sqlRe(`DELETE FROM claims WHERE holder_kind='group' AND holder_id=$1`)).
		WithArgs("Pilots").
		WillReturnResult(pgxmock.NewResult("DELETE", 4))
	mock.ExpectExec(sqlRe(`DELETE FROM claims WHERE claim_type=$1 AND claim_value=$2`)).
		WithArgs("PermissionGroupManager", "Pilots").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(sqlRe(`DELETE FROM messages WHERE group_name=$1`)).
		WithArgs("Pilots").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec(sqlRe(`DELETE FROM groups WHERE name=$1`)).
		WithArgs("Pilots").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectCommit()

	require.NoError(t, r.Delete(context.Background(), "Pilots"))
	require.NoError(t, mock.ExpectationsWereMet())
}
