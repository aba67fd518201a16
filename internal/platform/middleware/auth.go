package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// StaffClaims are the claims expected on staff tokens. Issuance is an
// external concern; this middleware only validates and extracts.
type StaffClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

type contextKeyStaffID struct{}
type contextKeyStaffRole struct{}

// GetStaffID retrieves the authenticated staff subject from the context.
func GetStaffID(ctx context.Context) string {
	id, _ := ctx.Value(contextKeyStaffID{}).(string)
	return id
}

// GetStaffRole retrieves the staff role from the context.
func GetStaffRole(ctx context.Context) string {
	role, _ := ctx.Value(contextKeyStaffRole{}).(string)
	return role
}

// RequireStaff validates the bearer token on admin routes with the shared
// HMAC key and requires the given role.
func RequireStaff(signingKey []byte, role string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" {
				unauthorized(w)
				return
			}

			claims := &StaffClaims{}
			parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrTokenUnverifiable
				}
				return signingKey, nil
			})
			if err != nil || !parsed.Valid {
				logger.WarnContext(r.Context(), "staff token rejected",
					"request_id", GetRequestID(r.Context()),
					"error", err,
				)
				unauthorized(w)
				return
			}
			if role != "" && claims.Role != role {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				_, _ = w.Write([]byte(`{"code":"FORBIDDEN","message":"insufficient role"}`))
				return
			}

			ctx := context.WithValue(r.Context(), contextKeyStaffID{}, claims.Subject)
			ctx = context.WithValue(ctx, contextKeyStaffRole{}, claims.Role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"code":"UNAUTHORIZED","message":"missing or invalid token"}`))
}
