package middleware

import (
	"context"

	"github.com/google/uuid"

	"github.com/angelmondragon/modoria-backend/pkg/enums"
)

type contextKey string

const (
	ctxUserID contextKey = "user_id"
	ctxRole   contextKey = "actor_role"
	ctxEmail  contextKey = "user_email"
)

func UserIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxUserID).(string); ok {
		return v
	}
	return ""
}

func RoleFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxRole).(string); ok {
		return v
	}
	return ""
}

func EmailFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxEmail).(string); ok {
		return v
	}
	return ""
}

// Principal is the authenticated caller as controllers see it.
type Principal struct {
	UserID uuid.UUID
	Role   enums.UserRole
	Email  string
}

func (p Principal) IsAdmin() bool {
	return p.Role == enums.UserRoleAdmin
}

// PrincipalFromContext reports false when Auth did not run or the stored id is malformed.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	userID, err := uuid.Parse(UserIDFromContext(ctx))
	if err != nil {
		return Principal{}, false
	}
	return Principal{
		UserID: userID,
		Role:   enums.UserRole(RoleFromContext(ctx)),
		Email:  EmailFromContext(ctx),
	}, true
}

// WithPrincipal injects the caller into the context; tests use it to skip Auth.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = context.WithValue(ctx, ctxUserID, p.UserID.String())
	ctx = context.WithValue(ctx, ctxRole, string(p.Role))
	return context.WithValue(ctx, ctxEmail, p.Email)
}
