package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	pkgcrypto "github.com/and161185/datagate/internal/crypto"
	"github.com/and161185/datagate/internal/errs"
	"github.com/and161185/datagate/internal/limiter"
	"github.com/and161185/datagate/internal/model"
	"github.com/and161185/datagate/internal/notify"
	"github.com/and161185/datagate/internal/reconcile"
	"github.com/and161185/datagate/internal/repository"
)

// AccountService covers registration and the double opt-in account deletion.
type AccountService interface {
	// Register creates a principal and returns it with a signed access token.
	Register(ctx context.Context, username, email string) (model.Principal, string, error)
	// RequestDeletion mails a confirmation link; nothing is deleted yet.
	RequestDeletion(ctx context.Context, principalID uuid.UUID) error
	// ConfirmAccountDeletion verifies the token and reconciles the account away.
	ConfirmAccountDeletion(ctx context.Context, principalID uuid.UUID, token string, transferTarget uuid.UUID, ip string) (reconcile.Result, error)
}

// AccountConfig holds the tunables of AccountServiceImpl.
type AccountConfig struct {
	SignKey   []byte
	AccessTTL time.Duration
	TokenTTL  time.Duration // lifetime of a deletion confirmation token
	LinkBase  string        // confirmation link target
	SiteAdmin string        // username that joins SiteAdmin on registration
}

// AccountDeps are the collaborators of AccountServiceImpl.
type AccountDeps struct {
	Principals repository.PrincipalRepository
	Groups     repository.GroupRepository
	Deletions  repository.DeletionRepository
	Limiter    limiter.Limiter
	Mailer     notify.Mailer
	Reconciler *reconcile.Reconciler
}

type AccountServiceImpl struct {
	cfg  AccountConfig
	deps AccountDeps
	log  *zap.Logger
	now  func() time.Time
}

var _ AccountService = (*AccountServiceImpl)(nil)

// NewAccountService constructs AccountService.
func NewAccountService(cfg AccountConfig, deps AccountDeps, log *zap.Logger) *AccountServiceImpl {
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = 24 * time.Hour
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 24 * time.Hour
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &AccountServiceImpl{cfg: cfg, deps: deps, log: log, now: time.Now}
}

// Register creates a new principal.
func (s *AccountServiceImpl) Register(ctx context.Context, username, email string) (model.Principal, string, error) {
	username, email = strings.TrimSpace(username), strings.TrimSpace(email)
	if username == "" || email == "" {
		return model.Principal{}, "", fmt.Errorf("%w: empty username/email", errs.ErrInvalidArgument)
	}
	uid, err := uuid.NewV4()
	if err != nil {
		return model.Principal{}, "", err
	}
	p := model.Principal{ID: uid, Username: username, Email: email, CreatedAt: s.now().UTC()}
	if err := s.deps.Principals.Create(ctx, &p); err != nil {
		return model.Principal{}, "", err
	}
	if s.cfg.SiteAdmin != "" && username == s.cfg.SiteAdmin {
		if err := s.deps.Groups.AddMember(ctx, model.GroupSiteAdmin, uid); err != nil {
			return model.Principal{}, "", err
		}
		s.log.Info("site admin registered", zap.String("principal", uid.String()))
	}

	access, _, err := s.issueAccessToken(uid)
	if err != nil {
		return model.Principal{}, "", err
	}
	return p, access, nil
}

// issueAccessToken creates a signed HS256 JWT for the given subject.
func (s *AccountServiceImpl) issueAccessToken(userID uuid.UUID) (string, time.Time, error) {
	now := s.now()
	exp := now.Add(s.cfg.AccessTTL)
	claims := jwt.RegisteredClaims{
		Subject:   userID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(s.cfg.SignKey)
	return signed, exp, err
}

// RequestDeletion stores a fresh token hash and mails the link. A new
// request replaces any earlier token.
func (s *AccountServiceImpl) RequestDeletion(ctx context.Context, principalID uuid.UUID) error {
	p, err := s.deps.Principals.GetByID(ctx, principalID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return errs.ErrInvalidPrincipal
		}
		return err
	}
	token, salt, hash, err := pkgcrypto.NewToken()
	if err != nil {
		return err
	}
	now := s.now().UTC()
	req := &model.DeletionRequest{
		PrincipalID: p.ID,
		TokenHash:   hash,
		TokenSalt:   salt,
		State:       model.DeletionRequested,
		RequestedAt: now,
		ExpiresAt:   now.Add(s.cfg.TokenTTL),
	}
	if err := s.deps.Deletions.Put(ctx, req); err != nil {
		return err
	}
	link, err := notify.ConfirmationLink(s.cfg.LinkBase, p.ID.String(), token)
	if err != nil {
		return err
	}
	if err := s.deps.Mailer.SendDeletionConfirmation(ctx, notify.DeletionConfirmation{
		To: p.Email, Username: p.Username, Link: link, ExpiresAt: req.ExpiresAt,
	}); err != nil {
		return err
	}
	s.log.Info("account deletion requested", zap.String("principal", p.ID.String()))
	return nil
}

// ConfirmAccountDeletion applies rate limiting by (principal, ip), verifies
// the token and runs reconciliation. Confirming an already deleted account
// returns a zero result and no error. A failed reconciliation leaves the
// request in the reconciling state; confirming again resumes it.
func (s *AccountServiceImpl) ConfirmAccountDeletion(ctx context.Context, principalID uuid.UUID, token string, transferTarget uuid.UUID, ip string) (reconcile.Result, error) {
	key := principalID.String()
	ipHash := limiter.HashIP(ip)

	allowed, _, err := s.deps.Limiter.Allow(ctx, key, ipHash)
	if err != nil {
		return reconcile.Result{}, err
	}
	if !allowed {
		return reconcile.Result{}, errs.ErrRateLimited
	}

	req, err := s.deps.Deletions.Get(ctx, principalID)
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		return reconcile.Result{}, err
	}
	if err != nil || !s.tokenValid(req, token) {
		if blocked, _, ferr := s.deps.Limiter.Failure(ctx, key, ipHash); ferr == nil && blocked {
			return reconcile.Result{}, errs.ErrRateLimited
		}
		return reconcile.Result{}, errs.ErrUnauthorized
	}
	_ = s.deps.Limiter.Success(ctx, key, ipHash)

	if req.State == model.DeletionDeleted {
		return reconcile.Result{}, nil
	}
	if req.State == model.DeletionRequested {
		if err := s.deps.Deletions.SetState(ctx, principalID, model.DeletionConfirmed); err != nil {
			return reconcile.Result{}, err
		}
	}
	if err := s.deps.Deletions.SetState(ctx, principalID, model.DeletionReconciling); err != nil {
		return reconcile.Result{}, err
	}

	res, err := s.deps.Reconciler.Run(ctx, principalID, transferTarget)
	if err != nil {
		s.log.Warn("reconciliation incomplete", zap.String("principal", key), zap.Error(err))
		return res, err
	}
	if err := s.deps.Deletions.SetState(ctx, principalID, model.DeletionDeleted); err != nil {
		return res, err
	}
	s.log.Info("account deleted", zap.String("principal", key), zap.String("new_owner", res.NewOwner.String()))
	return res, nil
}

// tokenValid checks the hash; expiry only applies before the first confirmation.
func (s *AccountServiceImpl) tokenValid(req *model.DeletionRequest, token string) bool {
	if token == "" || !pkgcrypto.VerifyToken([]byte(token), req.TokenSalt, req.TokenHash) {
		return false
	}
	if req.State == model.DeletionRequested && s.now().After(req.ExpiresAt) {
		return false
	}
	return true
}
