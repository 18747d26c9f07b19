package handlers

import (
	"net/http"

	"guild-server/internal/permission"
)

type roleRequest struct {
	Name     string `json:"name"`
	Color    string `json:"color"`
	Position int    `json:"position"`
}

func (h *Handlers) GetRoles(w http.ResponseWriter, r *http.Request, serverID int64) {
	if err := h.Servers.RequireMember(r.Context(), caller(r), serverID); err != nil {
		writeError(w, r, err)
		return
	}
	roles, err := h.Roles.ListServerRoles(r.Context(), serverID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, roles)
}

func (h *Handlers) CreateRole(w http.ResponseWriter, r *http.Request, serverID int64) {
	var req roleRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	role, err := h.Roles.CreateRole(r.Context(), caller(r), serverID, req.Name, req.Color, req.Position)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, role)
}

// GetRole returns a role with its grants and holder count.
func (h *Handlers) GetRole(w http.ResponseWriter, r *http.Request, id int64) {
	ctx := r.Context()
	role, err := h.Roles.GetRole(ctx, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.Servers.RequireMember(ctx, caller(r), role.ServerID); err != nil {
		writeError(w, r, err)
		return
	}
	perms, err := h.Roles.GetRolePermissions(ctx, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	holders, err := h.Roles.RoleUserCount(ctx, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"role":        role,
		"permissions": permission.Names(perms),
		"holders":     holders,
	})
}

func (h *Handlers) UpdateRole(w http.ResponseWriter, r *http.Request, id int64) {
	var req roleRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	role, err := h.Roles.UpdateRole(r.Context(), caller(r), id, req.Name, req.Color, req.Position)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, role)
}

// UpdateRolePermissions takes a capability to bool map.
func (h *Handlers) UpdateRolePermissions(w http.ResponseWriter, r *http.Request, id int64) {
	var grants map[permission.Capability]bool
	if err := decode(r, &grants); err != nil {
		writeError(w, r, err)
		return
	}
	perms, err := h.Roles.UpdateRolePermissions(r.Context(), caller(r), id, grants)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"permissions": permission.Names(perms)})
}

func (h *Handlers) DeleteRole(w http.ResponseWriter, r *http.Request, id int64) {
	if err := h.Roles.DeleteRole(r.Context(), caller(r), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) GetUserRoles(w http.ResponseWriter, r *http.Request, serverID, userID int64) {
	ctx := r.Context()
	if err := h.Servers.RequireMember(ctx, caller(r), serverID); err != nil {
		writeError(w, r, err)
		return
	}
	roles, err := h.UserRoles.UserRoles(ctx, userID, serverID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, roles)
}

// SetUserRoles replaces a member's roles with {"role_ids": [...]}.
func (h *Handlers) SetUserRoles(w http.ResponseWriter, r *http.Request, serverID, userID int64) {
	var req struct {
		RoleIDs []int64 `json:"role_ids"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.UserRoles.SetUserRoles(r.Context(), caller(r), userID, serverID, req.RoleIDs); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) AssignRole(w http.ResponseWriter, r *http.Request, roleID, userID int64) {
	if err := h.UserRoles.AssignRole(r.Context(), caller(r), userID, roleID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) RemoveRole(w http.ResponseWriter, r *http.Request, roleID, userID int64) {
	if err := h.UserRoles.RemoveRole(r.Context(), caller(r), userID, roleID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
