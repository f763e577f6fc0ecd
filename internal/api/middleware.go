package api

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
)

// requestLogger logs one line per request at debug level, and at warn level
// for server errors.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		level := slog.LevelDebug
		if status >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		slog.Log(r.Context(), level, "Server: request served",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"bytes", ww.BytesWritten(),
			"elapsed", time.Since(start),
			"request_id", chimiddleware.GetReqID(r.Context()))
	})
}

// webhookRateLimit limits deliveries per client IP. Providers retry on 429.
func webhookRateLimit(requests int, window time.Duration) func(http.Handler) http.Handler {
	retryAfter := strconv.Itoa(int(window.Seconds()))
	return httprate.Limit(
		requests,
		window,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return "ip:" + r.RemoteAddr, nil
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			slog.Warn("Server.webhookRateLimit: rate limit exceeded", "remote", r.RemoteAddr, "path", r.URL.Path)
			w.Header().Set("Retry-After", retryAfter)
			respondError(w, http.StatusTooManyRequests, "rate limit exceeded")
		}),
	)
}

// requireSweepToken guards operator endpoints with the shared sweep token.
// Without a configured token the endpoints are disabled.
func (s *Server) requireSweepToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.sweepToken == "" {
			respondError(w, http.StatusNotFound, "endpoint disabled")
			return
		}
		got := r.Header.Get(SweepTokenHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.sweepToken)) != 1 {
			slog.Warn("Server.requireSweepToken: rejected request", "path", r.URL.Path, "remote", r.RemoteAddr)
			respondError(w, http.StatusUnauthorized, "invalid sweep token")
			return
		}
		next.ServeHTTP(w, r)
	})
}
