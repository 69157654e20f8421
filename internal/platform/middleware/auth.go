package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"strings"
)

// JWTValidator defines the interface for validating caller identity tokens.
type JWTValidator interface {
	ValidateToken(tokenString string) (*JWTClaims, error)
}

// JWTClaims represents the claims we expect from the identity provider's
// tokens. Roles carries the caller's role grants.
type JWTClaims struct {
	UserID string
	Roles  []string
}

// Role grants recognized by the ledger.
const (
	RoleAdmin     = "admin"
	RoleDoorStaff = "door_staff"
	RolePromoter  = "promoter"
)

// Context keys for storing authenticated caller information.
type contextKeyUserID struct{}
type contextKeyRoles struct{}

var (
	ContextKeyUserID = contextKeyUserID{}
	ContextKeyRoles  = contextKeyRoles{}
)

// GetUserID retrieves the authenticated user ID from the context.
func GetUserID(ctx context.Context) string {
	userID, ok := ctx.Value(ContextKeyUserID).(string)
	if !ok {
		return ""
	}
	return userID
}

// GetRoles retrieves the caller's role grants from the context.
func GetRoles(ctx context.Context) []string {
	roles, ok := ctx.Value(ContextKeyRoles).([]string)
	if !ok {
		return nil
	}
	return roles
}

// HasRole reports whether the authenticated caller holds the given role.
func HasRole(ctx context.Context, role string) bool {
	return slices.Contains(GetRoles(ctx), role)
}

// RequireAuth validates the bearer token and stores caller identity in the
// request context. Requests without a valid token get a generic 401 so the
// response never reveals whether the token was expired or malformed.
func RequireAuth(validator JWTValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := GetRequestID(ctx)

			authHeader := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok {
				logger.WarnContext(ctx, "unauthorized access - missing token",
					"request_id", requestID,
				)
				writeUnauthorized(w)
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err,
					"request_id", requestID,
				)
				writeUnauthorized(w)
				return
			}

			ctx = context.WithValue(ctx, ContextKeyUserID, claims.UserID)
			ctx = context.WithValue(ctx, ContextKeyRoles, claims.Roles)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole rejects authenticated callers that lack the given role grant.
// Must run after RequireAuth.
func RequireRole(role string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if !HasRole(ctx, role) {
				logger.WarnContext(ctx, "forbidden - missing role",
					"required_role", role,
					"user_id", GetUserID(ctx),
					"request_id", GetRequestID(ctx),
				)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				_, _ = w.Write([]byte(`{"error":"forbidden","error_description":"Caller lacks the required role"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized","error_description":"Invalid or expired token"}`))
}
