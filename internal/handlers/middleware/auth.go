package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"

	"github.com/nkiryanov/affiliate/internal/handlers/render"
	"github.com/nkiryanov/affiliate/internal/handlers/userctx"
	"github.com/nkiryanov/affiliate/internal/models"
)

const GatewayTokenHeader = "X-Gateway-Token"

type authService interface {
	GetUserFromRequest(ctx context.Context, r *http.Request) (models.User, error)
}

// Authenticate request and put user to the request context
func AuthMiddleware(as authService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := as.GetUserFromRequest(r.Context(), r)
			if err != nil {
				render.ServiceError(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			ctx := userctx.New(r.Context(), user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Allow only operators. Has to be used after AuthMiddleware
func OperatorMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := userctx.FromContext(r.Context())
			switch {
			case !ok:
				render.ServiceError(w, "Unauthorized", http.StatusUnauthorized)
			case !user.IsOperator:
				render.ServiceError(w, "Operator access required", http.StatusForbidden)
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

// Check shared secret of payment gateway
// Empty token rejects every request
func GatewayMiddleware(token string) func(http.Handler) http.Handler {
	expected := []byte(token)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := []byte(r.Header.Get(GatewayTokenHeader))
			if len(expected) == 0 || subtle.ConstantTimeCompare(got, expected) != 1 {
				render.ServiceError(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
