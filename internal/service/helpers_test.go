package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/datagate/internal/authz"
	"github.com/and161185/datagate/internal/catalog"
	"github.com/and161185/datagate/internal/entity"
	"github.com/and161185/datagate/internal/limiter"
	"github.com/and161185/datagate/internal/model"
	"github.com/and161185/datagate/internal/notify"
	"github.com/and161185/datagate/internal/permission"
	"github.com/and161185/datagate/internal/reconcile"
	"github.com/and161185/datagate/internal/repository/memory"
)

type recordingMailer struct {
	mu   sync.Mutex
	sent []notify.DeletionConfirmation
	err  error
}

func (m *recordingMailer) SendDeletionConfirmation(_ context.Context, c notify.DeletionConfirmation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, c)
	return nil
}

func (m *recordingMailer) last() notify.DeletionConfirmation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sent[len(m.sent)-1]
}

type env struct {
	st       *memory.Store
	az       *authz.ClaimsAuthorizer
	data     *DataServiceImpl
	shares   *ShareServiceImpl
	groups   *GroupServiceImpl
	accounts *AccountServiceImpl
	mailer   *recordingMailer
	lim      *limiter.Memory
	log      *zap.Logger
}

func newEnv(t *testing.T) *env {
	t.Helper()
	log := zaptest.NewLogger(t)
	st := memory.NewStore()
	reg := entity.NewRegistry()
	require.NoError(t, catalog.Register(reg))

	agg := authz.NewAggregator(st.Principals(), st.Groups(), st.Claims(), log)
	az := authz.NewClaimsAuthorizer(agg, authz.NewResolver(reg.SystemTypes()...), log)
	mailer := &recordingMailer{}
	lim := limiter.NewMemory(15*time.Minute, 3, 15*time.Minute)
	rec := reconcile.New(st.Principals(), st.Groups(), st.Claims(), st.Items(), st.Messages(), log).
		WithOwnerStore(st.Deletions())

	return &env{
		st:     st,
		az:     az,
		data:   NewDataService(reg, st.Items(), az, log),
		shares: NewShareService(reg, az, st.Claims(), st.Groups(), st.Principals(), log),
		groups: NewGroupService(az, st.Groups(), st.Claims(), log),
		accounts: NewAccountService(AccountConfig{
			SignKey:  []byte("test-key"),
			LinkBase: "https://datagate.test/confirm",
		}, AccountDeps{
			Principals: st.Principals(),
			Groups:     st.Groups(),
			Deletions:  st.Deletions(),
			Limiter:    lim,
			Mailer:     mailer,
			Reconciler: rec,
		}, log),
		mailer: mailer,
		lim:    lim,
		log:    log,
	}
}

func (e *env) user(t *testing.T, name string) uuid.UUID {
	t.Helper()
	p, _, err := e.accounts.Register(context.Background(), name, name+"@example.com")
	require.NoError(t, err)
	return p.ID
}

func (e *env) grant(t *testing.T, h model.Holder, l permission.Level, typeName, id string) {
	t.Helper()
	c, err := permission.DataClaim(l, permission.InstanceScope(typeName, id))
	require.NoError(t, err)
	require.NoError(t, e.st.Claims().Add(context.Background(), h, c))
}

func (e *env) makeAdmin(t *testing.T, id uuid.UUID) {
	t.Helper()
	require.NoError(t, e.st.Groups().AddMember(context.Background(), model.GroupAdmin, id))
}
