package server

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/malbeclabs/civicdata/internal/metrics"
)

const requestIDHeader = "X-Request-ID"

type requestIDKey struct{}

// requestID tags each request with the caller's X-Request-ID or a fresh UUID.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// metricsMiddleware records request counts by route pattern so path parameters do not explode
// label cardinality.
func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		endpoint := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				endpoint = pattern
			}
		}
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, endpoint, fmt.Sprintf("%d", wrapped.statusCode)).Inc()
		metrics.HTTPRequestDuration.Observe(time.Since(startTime).Seconds())
	})
}

// authMiddleware requires an allowed bearer token.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reason, ok := checkBearer(r.Header.Get("Authorization"), s.cfg.AllowedTokens)
		if !ok {
			metrics.AuthFailuresTotal.WithLabelValues(reason).Inc()
			w.Header().Set("WWW-Authenticate", `Bearer`)
			s.writeError(w, r, http.StatusUnauthorized, errorBody{Kind: "unauthorized", Message: strings.ReplaceAll(reason, "_", " ")})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// checkBearer validates an Authorization header against tokens and returns a failure reason.
func checkBearer(header string, tokens []string) (string, bool) {
	if header == "" {
		return "missing_header", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "invalid_format", false
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "empty_token", false
	}
	for _, allowed := range tokens {
		if subtle.ConstantTimeCompare([]byte(token), []byte(allowed)) == 1 {
			return "", true
		}
	}
	return "invalid_token", false
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
