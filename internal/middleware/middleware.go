package middleware

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/httprate"

	"guild-server/internal/apperr"
	"guild-server/internal/metrics"
	"guild-server/internal/models"
)

type ResponseWriter struct {
	http.ResponseWriter
	bytesWritten int64
	statusCode   int
}

func (rw *ResponseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	atomic.AddInt64(&rw.bytesWritten, int64(n))
	return n, err
}

func (rw *ResponseWriter) WriteHeader(statusCode int) {
	rw.statusCode = statusCode
	rw.ResponseWriter.WriteHeader(statusCode)
}

func (rw *ResponseWriter) BytesWritten() int64 {
	return atomic.LoadInt64(&rw.bytesWritten)
}

func (rw *ResponseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Hijack passes through to the wrapped writer so websocket upgrades work
// behind TrackOutboundData.
func (rw *ResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

// TrackOutboundData counts requests and response bytes into the metrics
// counters.
func TrackOutboundData(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := &ResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		start := time.Now()
		next.ServeHTTP(rw, r)
		duration := time.Since(start)

		bytesWritten := rw.BytesWritten()
		atomic.AddInt64(&metrics.HTTPBytesOut, bytesWritten)
		atomic.AddInt64(&metrics.HTTPRequests, 1)

		slog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.statusCode,
			"bytes", bytesWritten,
			"duration", duration)
	})
}

func GetClientInfo(r *http.Request) string {
	platform := r.Header.Get("X-Client-Platform")
	version := r.Header.Get("X-Client-Version")

	var parts []string
	if platform != "" {
		parts = append(parts, platform)
	}
	if version != "" {
		parts = append(parts, version)
	}
	return strings.Join(parts, "/")
}

func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodOptions {
			attrs := []any{"method", r.Method, "path", r.URL.Path, "remote", GetClientIP(r)}
			if info := GetClientInfo(r); info != "" {
				attrs = append(attrs, "client", info)
			}
			slog.Info("request", attrs...)
		}

		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Client-Name, X-Client-Version, X-Client-Platform")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func GetClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		ips := strings.Split(forwarded, ",")
		return strings.TrimSpace(ips[0])
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	ip := r.RemoteAddr
	if colonPos := strings.LastIndex(ip, ":"); colonPos != -1 {
		ip = ip[:colonPos]
	}
	return ip
}

type ctxKey struct{}

// WithUserID returns a context carrying the authenticated user id.
func WithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, ctxKey{}, userID)
}

// UserID returns the id stored by RequireAuth.
func UserID(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(ctxKey{}).(int64)
	return id, ok
}

// UserLookup resolves an authenticated id to an account.
type UserLookup interface {
	GetUser(ctx context.Context, id int64) (*models.User, error)
}

// BanChecker reports site bans.
type BanChecker interface {
	IsBanned(userID int64) bool
}

// Auth identifies callers by "Authorization: Bearer <user id>". Browsers
// opening a websocket cannot set headers, so the auth_token cookie and the
// user_id query parameter are accepted too.
type Auth struct {
	users UserLookup
	bans  BanChecker
}

func NewAuth(users UserLookup, bans BanChecker) *Auth {
	return &Auth{users: users, bans: bans}
}

func tokenFromRequest(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	if cookie, err := r.Cookie("auth_token"); err == nil {
		return cookie.Value
	}
	return r.URL.Query().Get("user_id")
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// RequireAuth rejects anonymous, unknown and banned callers. Banned users may
// still reach routes registered with AllowBanned, so they can appeal.
func (a *Auth) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return a.require(next, false)
}

// AllowBanned is RequireAuth without the ban check.
func (a *Auth) AllowBanned(next http.HandlerFunc) http.HandlerFunc {
	return a.require(next, true)
}

func (a *Auth) require(next http.HandlerFunc, allowBanned bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(tokenFromRequest(r), 10, 64)
		if err != nil || id <= 0 {
			writeJSONError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		if _, err := a.users.GetUser(r.Context(), id); err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				writeJSONError(w, http.StatusUnauthorized, "user not found")
				return
			}
			slog.Error("auth lookup failed", "user_id", id, "error", err)
			writeJSONError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if !allowBanned && a.bans.IsBanned(id) {
			writeJSONError(w, http.StatusForbidden, "you are banned from this site")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), id)))
	}
}

func rateLimitKey(r *http.Request) (string, error) {
	if tok := tokenFromRequest(r); tok != "" {
		return "user:" + tok, nil
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}

// RateLimit allows requestsPerMinute per caller, keyed by user when the
// request carries credentials and by IP otherwise.
func RateLimit(requestsPerMinute int) func(http.Handler) http.Handler {
	return httprate.Limit(requestsPerMinute, time.Minute,
		httprate.WithKeyFuncs(rateLimitKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
		}),
	)
}

// RateLimitFunc adapts RateLimit to a handler function.
func RateLimitFunc(requestsPerMinute int) func(http.HandlerFunc) http.HandlerFunc {
	limit := RateLimit(requestsPerMinute)
	return func(next http.HandlerFunc) http.HandlerFunc {
		return limit(next).ServeHTTP
	}
}

func CacheControl(maxAge time.Duration, cacheType string) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			switch cacheType {
			case "no-cache":
				w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
				w.Header().Set("Pragma", "no-cache")
				w.Header().Set("Expires", "0")
			case "private":
				w.Header().Set("Cache-Control", "private, max-age="+strconv.Itoa(int(maxAge.Seconds())))
			case "public":
				w.Header().Set("Cache-Control", "public, max-age="+strconv.Itoa(int(maxAge.Seconds())))
			}
			next(w, r)
		}
	}
}

func NoCache(next http.HandlerFunc) http.HandlerFunc {
	return CacheControl(0, "no-cache")(next)
}
