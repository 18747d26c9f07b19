// Package handlers exposes the domain services as a JSON HTTP API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"guild-server/internal/apperr"
	"guild-server/internal/channel"
	"guild-server/internal/guild"
	"guild-server/internal/metrics"
	"guild-server/internal/middleware"
	"guild-server/internal/moderation"
	"guild-server/internal/permission"
	"guild-server/internal/role"
	"guild-server/internal/user"
	"guild-server/internal/websocket"
)

const defaultPageSize = 50

// Handlers holds every service the API calls into.
type Handlers struct {
	Perms     *permission.Engine
	Users     *user.Service
	Friends   *user.FriendService
	Servers   *guild.ServerService
	Invites   *guild.InviteService
	Channels  *channel.Service
	Overrides *channel.OverrideService
	Messages  *channel.MessageService
	Direct    *channel.DirectMessageService
	Roles     *role.Service
	UserRoles *role.UserRoleService
	Bans      *moderation.BanService
	Timeouts  *moderation.TimeoutService
	Reports   *moderation.ReportService
	Hub       *websocket.Hub
	Metrics   *metrics.MetricsService
	Observer  *metrics.NotifyObserver
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("encode response", "error", err)
	}
}

// statusOf maps service errors to HTTP status codes.
func statusOf(err error) int {
	switch {
	case apperr.IsValidation(err):
		return http.StatusBadRequest
	case apperr.IsConflict(err):
		return http.StatusConflict
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, user.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, context.Canceled):
		return 499
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		msg = "internal error"
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.Invalid("invalid request body")
	}
	return nil
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Invalid("invalid %s", name)
	}
	return id, nil
}

func queryInt(r *http.Request, name string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || v < 0 {
		return def
	}
	return v
}

// caller returns the authenticated user. Routes are wrapped in
// middleware.Auth, so it is always present.
func caller(r *http.Request) int64 {
	id, _ := middleware.UserID(r.Context())
	return id
}

// withID adapts a handler that needs one path id.
func withID(name string, fn func(w http.ResponseWriter, r *http.Request, id int64)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, name)
		if err != nil {
			writeError(w, r, err)
			return
		}
		fn(w, r, id)
	}
}

// withIDs adapts a handler that needs two path ids.
func withIDs(a, b string, fn func(w http.ResponseWriter, r *http.Request, first, second int64)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		first, err := pathID(r, a)
		if err != nil {
			writeError(w, r, err)
			return
		}
		second, err := pathID(r, b)
		if err != nil {
			writeError(w, r, err)
			return
		}
		fn(w, r, first, second)
	}
}
