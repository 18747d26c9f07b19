package handlers

import (
	"net/http"

	"guild-server/internal/models"
)

type page[T any] struct {
	Items []T   `json:"items"`
	Total int64 `json:"total"`
}

func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	u, err := h.Users.GetUser(r.Context(), caller(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	admin, err := h.Perms.IsSiteAdmin(r.Context(), u.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": u, "site_admin": admin, "banned": h.Bans.IsBanned(u.ID)})
}

// GetUsers pages through accounts with ?page= and ?size=.
func (h *Handlers) GetUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Users.ListUsers(r.Context(), queryInt(r, "page", 1), queryInt(r, "size", defaultPageSize))
	if err != nil {
		writeError(w, r, err)
		return
	}
	total, err := h.Users.CountUsers(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page[models.User]{Items: users, Total: total})
}

func (h *Handlers) GetUser(w http.ResponseWriter, r *http.Request, id int64) {
	u, err := h.Users.GetUser(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (h *Handlers) GetUserByName(w http.ResponseWriter, r *http.Request) {
	u, err := h.Users.GetUserByUsername(r.Context(), r.PathValue("username"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// AdminServers lists every server; site administrators only.
func (h *Handlers) AdminServers(w http.ResponseWriter, r *http.Request) {
	servers, err := h.Users.ListServers(r.Context(), caller(r), queryInt(r, "page", 1), queryInt(r, "size", defaultPageSize))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, servers)
}

func (h *Handlers) SetSiteAdmin(w http.ResponseWriter, r *http.Request, id int64) {
	var req struct {
		Admin bool `json:"admin"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.Users.SetSiteAdmin(r.Context(), caller(r), id, req.Admin); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) GetFriends(w http.ResponseWriter, r *http.Request) {
	friends, err := h.Friends.Friends(r.Context(), caller(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, friends)
}

func (h *Handlers) GetFriendRequests(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.Friends.IncomingRequests(r.Context(), caller(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reqs)
}

// SendFriendRequest accepts {"username": ...} or {"user_id": ...}.
func (h *Handlers) SendFriendRequest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		UserID   int64  `json:"user_id"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	var (
		fr       *models.FriendRequest
		accepted bool
		err      error
	)
	if req.Username != "" {
		fr, accepted, err = h.Friends.SendFriendRequest(r.Context(), caller(r), req.Username)
	} else {
		fr, accepted, err = h.Friends.SendFriendRequestTo(r.Context(), caller(r), req.UserID)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"request": fr, "friends": accepted})
}

func (h *Handlers) AcceptFriendRequest(w http.ResponseWriter, r *http.Request, id int64) {
	if err := h.Friends.AcceptFriendRequest(r.Context(), caller(r), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) RejectFriendRequest(w http.ResponseWriter, r *http.Request, id int64) {
	if err := h.Friends.RejectFriendRequest(r.Context(), caller(r), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) RemoveFriend(w http.ResponseWriter, r *http.Request, id int64) {
	if err := h.Friends.RemoveFriend(r.Context(), caller(r), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
