package handlers

import (
	"net/http"
	"strconv"

	"guild-server/internal/models"
	"guild-server/internal/user"
)

type authResponse struct {
	User  *models.User `json:"user"`
	Token string       `json:"token"`
}

// Register creates an account. The returned token is the bearer value for
// later requests.
func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	var req user.Registration
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	u, err := h.Users.CreateUser(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, authResponse{User: u, Token: strconv.FormatInt(u.ID, 10)})
}

func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	u, err := h.Users.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, authResponse{User: u, Token: strconv.FormatInt(u.ID, 10)})
}
