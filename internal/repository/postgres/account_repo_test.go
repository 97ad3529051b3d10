package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/and161185/datagate/internal/errs"
	"github.com/and161185/datagate/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"
)

func TestMessageRepo_Create(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewMessageRepo(db)
	ctx := context.Background()

	direct := &model.Message{
		ID:          uuid.Must(uuid.NewV4()),
		SenderID:    uuid.Must(uuid.NewV4()),
		RecipientID: uuid.Must(uuid.NewV4()),
		Body:        "hi",
	}
	mock.ExpectExec(sqlRe(`INSERT INTO messages (id, sender_id, recipient_id, group_name, body)`)).
		WithArgs(direct.ID, direct.SenderID, &direct.RecipientID, (*string)(nil), "hi").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, r.Create(ctx, direct))

	group := "Pilots"
	toGroup := &model.Message{ID: uuid.Must(uuid.NewV4()), SenderID: direct.SenderID, GroupName: group, Body: "all"}
	mock.ExpectExec(sqlRe(`INSERT INTO messages`)).
		WithArgs(toGroup.ID, toGroup.SenderID, (*uuid.UUID)(nil), &group, "all").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, r.Create(ctx, toGroup))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageRepo_DeleteOrphaned(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewMessageRepo(db)
	id := uuid.Must(uuid.NewV4())

	mock.ExpectExec(sqlRe(`DELETE FROM messages m`)).
		WithArgs(id).
		WillReturnResult(pgxmock.NewResult("DELETE", 7))
	n, err := r.DeleteOrphaned(context.Background(), id)
	require.NoError(t, err)
	require.EqualValues(t, 7, n)
}

var deletionCols = []string{"principal_id", "token_hash", "token_salt", "state", "requested_at", "expires_at", "updated_at", "new_owner"}

func TestDeletionRepo_PutGet(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewDeletionRepo(db)
	ctx := context.Background()
	now := time.Now().UTC()

	d := &model.DeletionRequest{
		PrincipalID: uuid.Must(uuid.NewV4()),
		TokenHash:   []byte("hash"),
		TokenSalt:   []byte("salt"),
		State:       model.DeletionRequested,
		RequestedAt: now,
		ExpiresAt:   now.Add(time.Hour),
	}
	mock.ExpectExec(sqlRe(`ON CONFLICT (principal_id) DO UPDATE`)).
		WithArgs(d.PrincipalID, d.TokenHash, d.TokenSalt, "requested", d.RequestedAt, d.ExpiresAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, r.Put(ctx, d))

	mock.ExpectQuery(sqlRe(`FROM deletion_requests WHERE principal_id=$1`)).
		WithArgs(d.PrincipalID).
		WillReturnRows(pgxmock.NewRows(deletionCols).
			AddRow(d.PrincipalID, d.TokenHash, d.TokenSalt, "confirmed", d.RequestedAt, d.ExpiresAt, now, (*uuid.UUID)(nil)))
	got, err := r.Get(ctx, d.PrincipalID)
	require.NoError(t, err)
	require.Equal(t, model.DeletionConfirmed, got.State)
	require.Equal(t, []byte("hash"), got.TokenHash)
	require.Equal(t, uuid.Nil, got.NewOwner)

	owner := uuid.Must(uuid.NewV4())
	mock.ExpectQuery(sqlRe(`FROM deletion_requests WHERE principal_id=$1`)).
		WithArgs(d.PrincipalID).
		WillReturnRows(pgxmock.NewRows(deletionCols).
			AddRow(d.PrincipalID, d.TokenHash, d.TokenSalt, "reconciling", d.RequestedAt, d.ExpiresAt, now, &owner))
	got, err = r.Get(ctx, d.PrincipalID)
	require.NoError(t, err)
	require.Equal(t, owner, got.NewOwner)

	mock.ExpectQuery(sqlRe(`FROM deletion_requests WHERE principal_id=$1`)).
		WithArgs(d.PrincipalID).
		WillReturnError(pgx.ErrNoRows)
	_, err = r.Get(ctx, d.PrincipalID)
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestDeletionRepo_SetState(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewDeletionRepo(db)
	ctx := context.Background()
	id := uuid.Must(uuid.NewV4())

	mock.ExpectExec(sqlRe(`UPDATE deletion_requests SET state=$2, updated_at=now() WHERE principal_id=$1`)).
		WithArgs(id, "reconciling").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, r.SetState(ctx, id, model.DeletionReconciling))

	mock.ExpectExec(sqlRe(`UPDATE deletion_requests SET state=$2`)).
		WithArgs(id, "deleted").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	require.ErrorIs(t, r.SetState(ctx, id, model.DeletionDeleted), errs.ErrNotFound)
}

func TestDeletionRepo_SetNewOwner(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewDeletionRepo(db)
	ctx := context.Background()
	id := uuid.Must(uuid.NewV4())
	owner := uuid.Must(uuid.NewV4())

	mock.ExpectExec(sqlRe(`UPDATE deletion_requests SET new_owner=$2, updated_at=now() WHERE principal_id=$1`)).
		WithArgs(id, owner).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, r.SetNewOwner(ctx, id, owner))

	mock.ExpectExec(sqlRe(`UPDATE deletion_requests SET new_owner=$2`)).
		WithArgs(id, owner).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	require.ErrorIs(t, r.SetNewOwner(ctx, id, owner), errs.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
