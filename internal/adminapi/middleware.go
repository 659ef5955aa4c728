// Copyright 2025 James Ross
package adminapi

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/flyingrobots/go-model-router/internal/routererr"
)

type contextKey string

const contextKeyRequestID contextKey = "request_id"

// RecoveryMiddleware converts a panic in next into a 500 response instead of
// crashing the server, following the teacher's outermost-recovery pattern.
func RecoveryMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("admin handler panic", zap.Any("recover", rec), zap.String("path", r.URL.Path))
					routererr.WriteHTTP(w, routererr.New(routererr.KindAdapter, http.StatusInternalServerError, "internal error"))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// RequestIDMiddleware stamps every request with an X-Request-ID header.
func RequestIDMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Request-ID")
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set("X-Request-ID", id)
			next.ServeHTTP(w, r)
		})
	}
}

// CORSMiddleware allows configured origins to call the admin surface.
func CORSMiddleware(allowOrigins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(allowOrigins))
	for _, o := range allowOrigins {
		allowed[o] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && (allowed["*"] || allowed[origin]) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE")
				w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// isMutating reports whether r changes state, the teacher's criterion for
// what gets an audit entry.
func isMutating(method string) bool {
	return method == http.MethodPost || method == http.MethodDelete || method == http.MethodPut
}

// AuditMiddleware logs every mutating admin request's outcome.
func AuditMiddleware(log *AuditLogger, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rw := &statusCapture{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rw, r)

			if log == nil || !isMutating(r.Method) {
				return
			}
			entry := AuditEntry{
				ID:        uuid.NewString(),
				Timestamp: time.Now(),
				Action:    r.Method + " " + r.URL.Path,
				Result:    fmt.Sprintf("%d", rw.status),
				IP:        clientIP(r),
			}
			if err := log.Log(entry); err != nil {
				logger.Error("failed to write audit entry", zap.Error(err))
			}
		})
	}
}

type statusCapture struct {
	http.ResponseWriter
	status int
}

func (s *statusCapture) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RateLimitMiddleware applies a per-client-IP limiter using
// golang.org/x/time/rate — deliberately a different primitive from the
// custom C2 token bucket that gates tenant admission, since admin-surface
// protection (ROUTER_ADMIN_RPS) is an unrelated concern from per-tenant
// request/cost accounting and has no need of C2's dual-dimension shape.
func RateLimitMiddleware(rps, burst float64) func(http.Handler) http.Handler {
	var mu sync.Mutex
	limiters := map[string]*rate.Limiter{}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			mu.Lock()
			l, ok := limiters[ip]
			if !ok {
				l = rate.NewLimiter(rate.Limit(rps), int(burst))
				limiters[ip] = l
			}
			mu.Unlock()

			if !l.Allow() {
				routererr.WriteHTTP(w, routererr.AdmissionRejected(routererr.ReasonRateLimit))
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
