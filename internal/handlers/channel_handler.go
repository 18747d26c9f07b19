package handlers

import (
	"net/http"

	"guild-server/internal/models"
	"guild-server/internal/permission"
)

// memberChannel loads a channel and checks that the caller belongs to its
// server.
func (h *Handlers) memberChannel(r *http.Request, channelID int64) (*models.Channel, error) {
	ch, err := h.Channels.GetChannel(r.Context(), channelID)
	if err != nil {
		return nil, err
	}
	if err := h.Servers.RequireMember(r.Context(), caller(r), ch.ServerID); err != nil {
		return nil, err
	}
	return ch, nil
}

func (h *Handlers) GetChannels(w http.ResponseWriter, r *http.Request, serverID int64) {
	if err := h.Servers.RequireMember(r.Context(), caller(r), serverID); err != nil {
		writeError(w, r, err)
		return
	}
	channels, err := h.Channels.ListServerChannels(r.Context(), serverID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, channels)
}

func (h *Handlers) CreateChannel(w http.ResponseWriter, r *http.Request, serverID int64) {
	var req nameRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	ch, err := h.Channels.CreateChannel(r.Context(), caller(r), serverID, req.Name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ch)
}

func (h *Handlers) GetChannel(w http.ResponseWriter, r *http.Request, id int64) {
	ch, err := h.memberChannel(r, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ch)
}

func (h *Handlers) RenameChannel(w http.ResponseWriter, r *http.Request, id int64) {
	var req nameRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	ch, err := h.Channels.RenameChannel(r.Context(), caller(r), id, req.Name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ch)
}

func (h *Handlers) DeleteChannel(w http.ResponseWriter, r *http.Request, id int64) {
	if err := h.Channels.DeleteChannel(r.Context(), caller(r), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CheckChannelPermission answers ?capability= for the caller in a channel.
func (h *Handlers) CheckChannelPermission(w http.ResponseWriter, r *http.Request, id int64) {
	ch, err := h.memberChannel(r, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	c := permission.Capability(r.URL.Query().Get("capability"))
	allowed, err := h.Perms.HasChannelPermission(r.Context(), caller(r), ch.ID, ch.ServerID, c)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"capability": c, "allowed": allowed})
}

func (h *Handlers) GetOverrides(w http.ResponseWriter, r *http.Request, id int64) {
	if _, err := h.memberChannel(r, id); err != nil {
		writeError(w, r, err)
		return
	}
	overrides, err := h.Overrides.ChannelOverrides(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, overrides)
}

// SetOverride takes a capability map; null resets a capability to inherit.
func (h *Handlers) SetOverride(w http.ResponseWriter, r *http.Request, channelID, roleID int64) {
	var values map[permission.Capability]*bool
	if err := decode(r, &values); err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.Overrides.SetChannelOverride(r.Context(), caller(r), channelID, roleID, values)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *Handlers) DeleteOverride(w http.ResponseWriter, r *http.Request, channelID, roleID int64) {
	if err := h.Overrides.RemoveChannelOverride(r.Context(), caller(r), channelID, roleID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
