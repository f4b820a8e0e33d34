package api

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/rafaeljc/gatekeeper/internal/logger"
	"github.com/rafaeljc/gatekeeper/internal/observability"
)

// APIKeyHeader carries the administration key.
const APIKeyHeader = "X-API-Key"

// unmatchedRoute labels requests no route matched, keeping metric cardinality bounded.
const unmatchedRoute = "unmatched"

type peerIPKey struct{}

// recordPeerIP stores the transport peer address in the context. It runs
// before middleware.RealIP, which rewrites RemoteAddr from client-supplied
// forwarding headers that must not key the failed-auth throttle.
func recordPeerIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), peerIPKey{}, clientIP(r.RemoteAddr))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// peerIP returns the address recorded by recordPeerIP.
func peerIP(r *http.Request) string {
	if ip, ok := r.Context().Value(peerIPKey{}).(string); ok {
		return ip
	}
	return clientIP(r.RemoteAddr)
}

// RequestLogger injects a request-scoped logger into the context and logs the
// completion of each request. Level follows the status: Info for success,
// Warn for 4xx, Error for 5xx.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		reqLog := logger.FromContext(r.Context()).With(
			"request_id", middleware.GetReqID(r.Context()),
		)
		ctx := logger.WithContext(r.Context(), reqLog)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		level := slog.LevelInfo
		status := ww.Status()
		if status >= 500 {
			level = slog.LevelError
		} else if status >= 400 {
			level = slog.LevelWarn
		}

		reqLog.Log(ctx, level, "HTTP request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
			"remote_ip", r.RemoteAddr,
		)
	})
}

// Metrics records request count and latency labelled by the matched route
// pattern, never the raw path.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := unmatchedRoute
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		observability.APIReqDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		observability.APIReqTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
	})
}

// authenticateAPIKey compares the SHA-256 of the presented key with the
// configured hash in constant time.
func (a *API) authenticateAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.skipAuth {
			next.ServeHTTP(w, r)
			return
		}

		ip := peerIP(r)
		if a.authLimiter != nil && a.authLimiter.blocked(ip) {
			logger.FromContext(r.Context()).Warn("too many failed authentication attempts", "ip", ip)
			w.Header().Set("Retry-After", "60")
			render.Status(r, http.StatusTooManyRequests)
			render.JSON(w, r, ErrorResponse{Code: "ERR_RATE_LIMITED", Message: "Too many failed authentication attempts"})
			return
		}

		key := r.Header.Get(APIKeyHeader)
		if key == "" {
			a.unauthorized(w, r, ip, "Missing API key")
			return
		}

		sum := sha256.Sum256([]byte(key))
		presented := hex.EncodeToString(sum[:])
		if subtle.ConstantTimeCompare([]byte(presented), []byte(a.apiKeyHash)) != 1 {
			a.unauthorized(w, r, ip, "Invalid API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (a *API) unauthorized(w http.ResponseWriter, r *http.Request, ip, msg string) {
	if a.authLimiter != nil {
		a.authLimiter.recordFailure(ip)
	}
	logger.FromContext(r.Context()).Warn("rejected unauthenticated request", "path", r.URL.Path, "ip", ip, "reason", msg)
	render.Status(r, http.StatusUnauthorized)
	render.JSON(w, r, ErrorResponse{Code: "ERR_UNAUTHORIZED", Message: msg})
}

// limitBody caps request bodies at maxBodyBytes.
func (a *API) limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, a.maxBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}
