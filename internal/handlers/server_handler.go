package handlers

import (
	"net/http"
)

type nameRequest struct {
	Name string `json:"name"`
}

func (h *Handlers) CreateServer(w http.ResponseWriter, r *http.Request) {
	var req nameRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	srv, err := h.Servers.CreateServer(r.Context(), caller(r), req.Name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, srv)
}

// GetMyServers lists the servers the caller belongs to.
func (h *Handlers) GetMyServers(w http.ResponseWriter, r *http.Request) {
	servers, err := h.Servers.UserServers(r.Context(), caller(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, servers)
}

func (h *Handlers) GetServer(w http.ResponseWriter, r *http.Request, id int64) {
	if err := h.Servers.RequireMember(r.Context(), caller(r), id); err != nil {
		writeError(w, r, err)
		return
	}
	srv, err := h.Servers.GetServer(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, srv)
}

func (h *Handlers) RenameServer(w http.ResponseWriter, r *http.Request, id int64) {
	var req nameRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	srv, err := h.Servers.RenameServer(r.Context(), caller(r), id, req.Name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, srv)
}

func (h *Handlers) DeleteServer(w http.ResponseWriter, r *http.Request, id int64) {
	if err := h.Servers.DeleteServer(r.Context(), caller(r), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) GetMembers(w http.ResponseWriter, r *http.Request, id int64) {
	if err := h.Servers.RequireMember(r.Context(), caller(r), id); err != nil {
		writeError(w, r, err)
		return
	}
	members, err := h.Servers.Members(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, members)
}

func (h *Handlers) KickMember(w http.ResponseWriter, r *http.Request, serverID, userID int64) {
	if err := h.Servers.RemoveMember(r.Context(), caller(r), userID, serverID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) LeaveServer(w http.ResponseWriter, r *http.Request, id int64) {
	if err := h.Servers.LeaveServer(r.Context(), caller(r), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetMyPermissions returns the caller's effective grants in a server. A
// null permissions value means the caller holds no roles there.
func (h *Handlers) GetMyPermissions(w http.ResponseWriter, r *http.Request, id int64) {
	ctx := r.Context()
	uid := caller(r)
	if err := h.Servers.RequireMember(ctx, uid, id); err != nil {
		writeError(w, r, err)
		return
	}
	perms, err := h.Perms.GetEffectiveServerPermissions(ctx, uid, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	owner, err := h.Perms.IsServerOwner(ctx, uid, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	admin, err := h.Perms.IsSiteAdmin(ctx, uid)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"owner":       owner,
		"site_admin":  admin,
		"permissions": perms,
	})
}

func (h *Handlers) GetInvites(w http.ResponseWriter, r *http.Request) {
	invites, err := h.Invites.PendingInvites(r.Context(), caller(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, invites)
}

func (h *Handlers) CreateInvite(w http.ResponseWriter, r *http.Request, serverID int64) {
	var req struct {
		UserID int64 `json:"user_id"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	inv, err := h.Invites.CreateInvite(r.Context(), caller(r), serverID, req.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, inv)
}

func (h *Handlers) AcceptInvite(w http.ResponseWriter, r *http.Request, id int64) {
	if err := h.Invites.AcceptInvite(r.Context(), caller(r), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) DeleteInvite(w http.ResponseWriter, r *http.Request, id int64) {
	if err := h.Invites.DeleteInvite(r.Context(), caller(r), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
