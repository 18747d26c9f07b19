package handlers

import (
	"net/http"

	"guild-server/internal/models"
)

type contentRequest struct {
	Content string `json:"content"`
}

// GetMessages pages a channel's history with ?offset= and ?limit=.
func (h *Handlers) GetMessages(w http.ResponseWriter, r *http.Request, channelID int64) {
	if _, err := h.memberChannel(r, channelID); err != nil {
		writeError(w, r, err)
		return
	}
	ctx := r.Context()
	msgs, err := h.Messages.ChannelMessages(ctx, channelID, queryInt(r, "offset", 0), queryInt(r, "limit", defaultPageSize))
	if err != nil {
		writeError(w, r, err)
		return
	}
	total, err := h.Messages.ChannelMessageCount(ctx, channelID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page[models.Message]{Items: msgs, Total: total})
}

func (h *Handlers) PostMessage(w http.ResponseWriter, r *http.Request, channelID int64) {
	var req contentRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	msg, err := h.Messages.CreateMessage(r.Context(), caller(r), channelID, req.Content)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (h *Handlers) DeleteMessage(w http.ResponseWriter, r *http.Request, id int64) {
	if err := h.Messages.DeleteMessage(r.Context(), caller(r), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) GetConversation(w http.ResponseWriter, r *http.Request, peerID int64) {
	ctx := r.Context()
	uid := caller(r)
	msgs, err := h.Direct.Conversation(ctx, uid, peerID, queryInt(r, "offset", 0), queryInt(r, "limit", defaultPageSize))
	if err != nil {
		writeError(w, r, err)
		return
	}
	total, err := h.Direct.ConversationCount(ctx, uid, peerID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page[models.DirectMessage]{Items: msgs, Total: total})
}

func (h *Handlers) SendDirectMessage(w http.ResponseWriter, r *http.Request, peerID int64) {
	var req contentRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	dm, err := h.Direct.SendDirectMessage(r.Context(), caller(r), peerID, req.Content)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, dm)
}
