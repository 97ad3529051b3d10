package grpcserver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/and161185/datagate/internal/errs"
)

type ctxKey string

const principalKey ctxKey = "datagate.principal"

// Register issues the first token and ConfirmAccountDeletion is reached from
// a mailed link; neither reads the bearer header.
var publicMethods = map[string]bool{
	FullMethod("Register"):               true,
	FullMethod("ConfirmAccountDeletion"): true,
}

// IsPublic reports whether fullMethod is served without a bearer token.
// Methods of other services (health, reflection) are public too.
func IsPublic(fullMethod string) bool {
	if !strings.HasPrefix(fullMethod, "/"+ServiceName+"/") {
		return true
	}
	return publicMethods[fullMethod]
}

// WithUserID stores the authenticated principal in context.
func WithUserID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, principalKey, id)
}

// UserIDFromCtx fetches the authenticated principal from context.
func UserIDFromCtx(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(principalKey).(uuid.UUID)
	if !ok || id == uuid.Nil {
		return uuid.Nil, false
	}
	return id, true
}

// PrincipalFromToken verifies an HS256 access token and returns its subject.
// Every failure wraps errs.ErrInvalidPrincipal.
func PrincipalFromToken(tok string, key []byte) (uuid.UUID, error) {
	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(tok, &claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return key, nil
	}, jwt.WithLeeway(30*time.Second))
	if err != nil || !parsed.Valid {
		return uuid.Nil, fmt.Errorf("%w: invalid token", errs.ErrInvalidPrincipal)
	}

	id, err := uuid.FromString(claims.Subject)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, fmt.Errorf("%w: bad subject %q", errs.ErrInvalidPrincipal, claims.Subject)
	}
	return id, nil
}

// principalFromMD reads "authorization: Bearer <JWT>" and verifies it.
func principalFromMD(ctx context.Context, key []byte) (uuid.UUID, error) {
	tok, err := bearerTokenFromMD(ctx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", errs.ErrInvalidPrincipal, err)
	}
	return PrincipalFromToken(tok, key)
}

func bearerTokenFromMD(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", errors.New("no metadata")
	}
	for _, v := range md.Get("authorization") {
		v = strings.TrimSpace(v)
		if len(v) >= 7 && strings.EqualFold(v[:7], "bearer ") {
			t := strings.TrimSpace(v[7:])
			if t != "" {
				return t, nil
			}
		}
	}
	return "", errors.New("no bearer token")
}

// AuthUnary verifies the bearer token of non-public methods and stores the
// principal in context. A signed token only proves the subject; whether the
// principal still exists is checked when its claims are aggregated.
func AuthUnary(key []byte) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		if IsPublic(info.FullMethod) {
			return next(ctx, req)
		}
		id, err := principalFromMD(ctx, key)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, err.Error())
		}
		return next(WithUserID(ctx, id), req)
	}
}
