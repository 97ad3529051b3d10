// Package grpcserver exposes the datagate gRPC API handlers.
package grpcserver

import (
	"context"
	"errors"
	"net"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/and161185/datagate/internal/authz"
	"github.com/and161185/datagate/internal/convert"
	"github.com/and161185/datagate/internal/entity"
	"github.com/and161185/datagate/internal/errs"
	"github.com/and161185/datagate/internal/permission"
	"github.com/and161185/datagate/internal/service"
)

// Services bundles what the handlers call into.
type Services struct {
	Registry *entity.Registry
	Authz    authz.Authorizer
	Data     service.DataService
	Share    service.ShareService
	Groups   service.GroupService
	Accounts service.AccountService
}

// Server wires services into gRPC handlers.
type Server struct {
	svc     Services
	signKey []byte
	log     *zap.Logger
}

var _ API = (*Server)(nil)

// New constructs a gRPC server with injected services.
func New(svc Services, signKey []byte, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{svc: svc, signKey: signKey, log: log}
}

// --- Accounts ---

// Register creates a principal and returns an access token for it.
func (s *Server) Register(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	username, email := convert.String(req, "username"), convert.String(req, "email")
	if username == "" || email == "" {
		return nil, status.Error(codes.InvalidArgument, "empty username/email")
	}
	p, token, err := s.svc.Accounts.Register(ctx, username, email)
	if err != nil {
		return nil, s.toStatus("register", err)
	}
	return s.reply(convert.FromPrincipal(p, token))
}

// RequestAccountDeletion mails a confirmation link to the caller.
func (s *Server) RequestAccountDeletion(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	userID, err := s.userIDFromCtx(ctx)
	if err != nil {
		return nil, s.toStatus("authenticate", err)
	}
	if err := s.svc.Accounts.RequestDeletion(ctx, userID); err != nil {
		return nil, s.toStatus("request deletion", err)
	}
	return &structpb.Struct{}, nil
}

// ConfirmAccountDeletion is reached from the mailed link, so it carries the
// principal id and token in the request instead of a bearer token.
func (s *Server) ConfirmAccountDeletion(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	principalID, err := convert.UUID(req, "principalId")
	if err != nil || principalID == uuid.Nil {
		return nil, status.Error(codes.InvalidArgument, "bad principal id")
	}
	target, err := convert.UUID(req, "transferTo")
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, "bad transfer target")
	}
	res, err := s.svc.Accounts.ConfirmAccountDeletion(ctx, principalID, convert.String(req, "token"), target, remoteIP(ctx))
	if err != nil {
		return nil, s.toStatus("confirm deletion", err)
	}
	return s.reply(convert.FromResult(res))
}

func remoteIP(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return ""
	}
	addr := p.Addr.String()
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// --- Authorization ---

// Authorize resolves an operation for the caller. A denial is a normal
// answer here, not an error.
func (s *Server) Authorize(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := s.userIDFromCtx(ctx)
	if err != nil {
		return nil, s.toStatus("authenticate", err)
	}
	op, err := permission.ParseOperation(convert.String(req, "operation"))
	if err != nil {
		return nil, s.toStatus("authorize", err)
	}
	d, err := s.svc.Authz.Authorize(ctx, userID, convert.String(req, "type"), op, convert.String(req, "instanceId"))
	if err != nil && !errors.Is(err, errs.ErrUnauthorized) {
		return nil, s.toStatus("authorize", err)
	}
	return s.reply(convert.FromDecision(d))
}

// Share grants a level on a type or instance to a user, a group or everyone.
func (s *Server) Share(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := s.userIDFromCtx(ctx)
	if err != nil {
		return nil, s.toStatus("authenticate", err)
	}
	level, err := convert.ToLevel(req, "level")
	if err != nil {
		return nil, s.toStatus("share", err)
	}
	typeName, inst := convert.String(req, "type"), convert.String(req, "instanceId")

	switch target := convert.String(req, "user"); {
	case target != "":
		id, err := uuid.FromString(target)
		if err != nil {
			return nil, status.Error(codes.InvalidArgument, "bad user id")
		}
		err = s.svc.Share.ShareWithUser(ctx, userID, id, typeName, inst, level)
		if err != nil {
			return nil, s.toStatus("share", err)
		}
	case convert.String(req, "group") != "":
		err = s.svc.Share.ShareWithGroup(ctx, userID, convert.String(req, "group"), typeName, inst, level)
		if err != nil {
			return nil, s.toStatus("share", err)
		}
	case convert.Bool(req, "all"):
		if err := s.svc.Share.ShareWithAll(ctx, userID, typeName, inst, level); err != nil {
			return nil, s.toStatus("share", err)
		}
	default:
		return nil, status.Error(codes.InvalidArgument, "no share target")
	}
	return &structpb.Struct{}, nil
}

// Hide revokes every data level a target holds on a type or instance.
func (s *Server) Hide(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := s.userIDFromCtx(ctx)
	if err != nil {
		return nil, s.toStatus("authenticate", err)
	}
	typeName, inst := convert.String(req, "type"), convert.String(req, "instanceId")

	switch target := convert.String(req, "user"); {
	case target != "":
		id, err := uuid.FromString(target)
		if err != nil {
			return nil, status.Error(codes.InvalidArgument, "bad user id")
		}
		if err := s.svc.Share.HideFromUser(ctx, userID, id, typeName, inst); err != nil {
			return nil, s.toStatus("hide", err)
		}
	case convert.String(req, "group") != "":
		if err := s.svc.Share.HideFromGroup(ctx, userID, convert.String(req, "group"), typeName, inst); err != nil {
			return nil, s.toStatus("hide", err)
		}
	case convert.Bool(req, "all"):
		if err := s.svc.Share.HideFromAll(ctx, userID, typeName, inst); err != nil {
			return nil, s.toStatus("hide", err)
		}
	default:
		return nil, status.Error(codes.InvalidArgument, "no hide target")
	}
	return &structpb.Struct{}, nil
}

// ListShares lists the data-level grants on exactly one scope.
func (s *Server) ListShares(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := s.userIDFromCtx(ctx)
	if err != nil {
		return nil, s.toStatus("authenticate", err)
	}
	recs, err := s.svc.Share.ListShares(ctx, userID, convert.String(req, "type"), convert.String(req, "instanceId"))
	if err != nil {
		return nil, s.toStatus("list shares", err)
	}
	return s.reply(convert.FromShares(recs))
}

// --- Data ---

// AddItem creates an item owned by the caller.
func (s *Server) AddItem(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := s.userIDFromCtx(ctx)
	if err != nil {
		return nil, s.toStatus("authenticate", err)
	}
	typeName := convert.String(req, "type")
	e, err := s.svc.Data.Add(ctx, userID, typeName, convert.Values(req, "values"))
	if err != nil {
		return nil, s.toStatus("add item", err)
	}
	return s.entity(typeName, e)
}

// FindItem returns one item by type and id.
func (s *Server) FindItem(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := s.userIDFromCtx(ctx)
	if err != nil {
		return nil, s.toStatus("authenticate", err)
	}
	typeName := convert.String(req, "type")
	e, err := s.svc.Data.Find(ctx, userID, typeName, convert.String(req, convert.KeyID))
	if err != nil {
		return nil, s.toStatus("find item", err)
	}
	return s.entity(typeName, e)
}

// UpdateItem writes the given values into an existing item.
func (s *Server) UpdateItem(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := s.userIDFromCtx(ctx)
	if err != nil {
		return nil, s.toStatus("authenticate", err)
	}
	typeName := convert.String(req, "type")
	e, err := s.svc.Data.Update(ctx, userID, typeName, convert.String(req, convert.KeyID), convert.Values(req, "values"))
	if err != nil {
		return nil, s.toStatus("update item", err)
	}
	return s.entity(typeName, e)
}

// RemoveItem deletes one item.
func (s *Server) RemoveItem(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := s.userIDFromCtx(ctx)
	if err != nil {
		return nil, s.toStatus("authenticate", err)
	}
	if err := s.svc.Data.Remove(ctx, userID, convert.String(req, "type"), convert.String(req, convert.KeyID)); err != nil {
		return nil, s.toStatus("remove item", err)
	}
	return &structpb.Struct{}, nil
}

// RemoveItems deletes what the caller may delete and reports the removed ids.
func (s *Server) RemoveItems(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := s.userIDFromCtx(ctx)
	if err != nil {
		return nil, s.toStatus("authenticate", err)
	}
	ids, err := convert.Strings(req, "ids")
	if err != nil {
		return nil, s.toStatus("remove items", err)
	}
	removed, err := s.svc.Data.RemoveRange(ctx, userID, convert.String(req, "type"), ids)
	if err != nil {
		return nil, s.toStatus("remove items", err)
	}
	return s.reply(convert.FromIDs(removed))
}

// GetPage searches, sorts and pages a type.
func (s *Server) GetPage(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := s.userIDFromCtx(ctx)
	if err != nil {
		return nil, s.toStatus("authenticate", err)
	}
	q, err := convert.ToQuery(req)
	if err != nil {
		return nil, s.toStatus("get page", err)
	}
	typeName := convert.String(req, "type")
	page, err := s.svc.Data.GetPage(ctx, userID, typeName, q)
	if err != nil {
		return nil, s.toStatus("get page", err)
	}
	d, err := s.svc.Registry.Lookup(typeName)
	if err != nil {
		return nil, s.toStatus("get page", err)
	}
	return s.reply(convert.FromPage(d, page))
}

// GetFieldDefinitions describes a type. No claim is needed to read it.
func (s *Server) GetFieldDefinitions(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if _, err := s.userIDFromCtx(ctx); err != nil {
		return nil, s.toStatus("authenticate", err)
	}
	typeName := convert.String(req, "type")
	defs, err := s.svc.Data.GetFieldDefinitions(typeName)
	if err != nil {
		return nil, s.toStatus("field definitions", err)
	}
	return s.reply(convert.FromDefinitions(typeName, defs))
}

func (s *Server) entity(typeName string, e entity.Entity) (*structpb.Struct, error) {
	d, err := s.svc.Registry.Lookup(typeName)
	if err != nil {
		return nil, s.toStatus("encode item", err)
	}
	return s.reply(convert.FromEntity(d, e))
}

// --- Groups ---

// CreateGroup creates a group managed by the caller.
func (s *Server) CreateGroup(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := s.userIDFromCtx(ctx)
	if err != nil {
		return nil, s.toStatus("authenticate", err)
	}
	members, err := convert.UUIDs(req, "members")
	if err != nil {
		return nil, s.toStatus("create group", err)
	}
	g, err := s.svc.Groups.CreateGroup(ctx, userID, convert.String(req, "name"), members)
	if err != nil {
		return nil, s.toStatus("create group", err)
	}
	return s.reply(convert.FromGroup(g))
}

// AddGroupMember adds a principal to a group the caller manages.
func (s *Server) AddGroupMember(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.membership(ctx, req, "add member", s.svc.Groups.AddMember)
}

// RemoveGroupMember removes a principal from a group the caller manages.
func (s *Server) RemoveGroupMember(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.membership(ctx, req, "remove member", s.svc.Groups.RemoveMember)
}

func (s *Server) membership(
	ctx context.Context,
	req *structpb.Struct,
	op string,
	fn func(context.Context, uuid.UUID, string, uuid.UUID) error,
) (*structpb.Struct, error) {
	userID, err := s.userIDFromCtx(ctx)
	if err != nil {
		return nil, s.toStatus("authenticate", err)
	}
	member, err := convert.UUID(req, "member")
	if err != nil || member == uuid.Nil {
		return nil, status.Error(codes.InvalidArgument, "bad member id")
	}
	if err := fn(ctx, userID, convert.String(req, "group"), member); err != nil {
		return nil, s.toStatus(op, err)
	}
	return &structpb.Struct{}, nil
}

// DeleteGroup deletes a group together with its messages and claims.
func (s *Server) DeleteGroup(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := s.userIDFromCtx(ctx)
	if err != nil {
		return nil, s.toStatus("authenticate", err)
	}
	if err := s.svc.Groups.DeleteGroup(ctx, userID, convert.String(req, "group")); err != nil {
		return nil, s.toStatus("delete group", err)
	}
	return &structpb.Struct{}, nil
}

// --- helpers ---

func (s *Server) reply(out *structpb.Struct, err error) (*structpb.Struct, error) {
	if err != nil {
		return nil, s.toStatus("encode response", err)
	}
	return out, nil
}

// toStatus maps domain errors to gRPC codes. Expected outcomes are logged
// at debug level; anything else is an internal error.
func (s *Server) toStatus(op string, err error) error {
	var code codes.Code
	switch {
	case errors.Is(err, errs.ErrInvalidPrincipal):
		code = codes.Unauthenticated
	case errors.Is(err, errs.ErrAccountLocked),
		errors.Is(err, errs.ErrUnauthorized),
		errors.Is(err, errs.ErrForbidden):
		code = codes.PermissionDenied
	case errors.Is(err, errs.ErrNotFound):
		code = codes.NotFound
	case errors.Is(err, errs.ErrInvalidArgument):
		code = codes.InvalidArgument
	case errors.Is(err, errs.ErrConflict):
		code = codes.AlreadyExists
	case errors.Is(err, errs.ErrUnavailable):
		code = codes.Unavailable
	case errors.Is(err, errs.ErrRateLimited):
		code = codes.ResourceExhausted
	default:
		s.log.Error(op, zap.Error(err))
		return status.Errorf(codes.Internal, "%s: internal error", op)
	}
	s.log.Debug(op, zap.String("code", code.String()), zap.Error(err))
	return status.Errorf(code, "%s: %v", op, err)
}

// userIDFromCtx returns the principal set by AuthUnary, falling back to the
// bearer token when the handler is called without the interceptor chain.
func (s *Server) userIDFromCtx(ctx context.Context) (uuid.UUID, error) {
	if id, ok := UserIDFromCtx(ctx); ok {
		return id, nil
	}
	return principalFromMD(ctx, s.signKey)
}
