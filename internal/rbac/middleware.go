// Copyright 2025 James Ross
package rbac

import (
	"net/http"
	"strings"

	"github.com/flyingrobots/go-model-router/internal/routererr"
	"go.uber.org/zap"
)

// Require returns middleware that gates next behind a bearer API key
// carrying role. Unlike the teacher's AuthMiddleware/AuthzMiddleware split,
// authentication and authorization collapse into one check here since there
// is exactly one credential shape (a static per-key role set), not
// separately-validated tokens and permissions.
func Require(store *KeyStore, role Role, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := bearerToken(r)
			ok, _ := store.Authorize(key, role)
			if !ok {
				logger.Warn("admin request denied",
					zap.String("path", r.URL.Path),
					zap.String("method", r.Method),
					zap.String("required_role", string(role)),
				)
				routererr.WriteHTTP(w, routererr.ErrPolicyDenied)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return h
}
