package handlers

import (
	"net/http"
	"time"

	"guild-server/internal/apperr"
)

type reasonRequest struct {
	Reason string `json:"reason"`
}

type reviewRequest struct {
	Approve bool `json:"approve"`
	Dismiss bool `json:"dismiss"`
}

func (h *Handlers) BanUser(w http.ResponseWriter, r *http.Request, userID int64) {
	var req reasonRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	ban, err := h.Bans.BanUser(r.Context(), caller(r), userID, req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if h.Hub != nil {
		h.Hub.DisconnectUser(userID)
	}
	writeJSON(w, http.StatusCreated, ban)
}

// GetMyBan is reachable while banned so the client can show the appeal form.
func (h *Handlers) GetMyBan(w http.ResponseWriter, r *http.Request) {
	ban, err := h.Bans.GetBan(r.Context(), caller(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ban)
}

func (h *Handlers) SubmitAppeal(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	ban, err := h.Bans.SubmitAppeal(r.Context(), caller(r), req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ban)
}

func (h *Handlers) GetBans(w http.ResponseWriter, r *http.Request) {
	bans, err := h.Bans.AllBans(r.Context(), caller(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bans)
}

func (h *Handlers) GetAppeals(w http.ResponseWriter, r *http.Request) {
	appeals, err := h.Bans.PendingAppeals(r.Context(), caller(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, appeals)
}

func (h *Handlers) GetAppealCount(w http.ResponseWriter, r *http.Request) {
	n, err := h.Bans.PendingAppealCount(r.Context(), caller(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"count": n})
}

func (h *Handlers) ReviewAppeal(w http.ResponseWriter, r *http.Request, banID int64) {
	var req reviewRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.Bans.ReviewAppeal(r.Context(), caller(r), banID, req.Approve); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) GetTimeouts(w http.ResponseWriter, r *http.Request, serverID int64) {
	if err := h.Servers.RequireMember(r.Context(), caller(r), serverID); err != nil {
		writeError(w, r, err)
		return
	}
	timeouts, err := h.Timeouts.ActiveTimeouts(r.Context(), serverID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, timeouts)
}

// TimeoutUser takes {"seconds": n, "reason": "..."}.
func (h *Handlers) TimeoutUser(w http.ResponseWriter, r *http.Request, serverID, userID int64) {
	var req struct {
		Seconds int64  `json:"seconds"`
		Reason  string `json:"reason"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Seconds > int64((365 * 24 * time.Hour).Seconds()) {
		writeError(w, r, apperr.Invalid("timeout cannot exceed one year"))
		return
	}
	t, err := h.Timeouts.TimeoutUser(r.Context(), caller(r), userID, serverID, time.Duration(req.Seconds)*time.Second, req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *Handlers) RemoveTimeout(w http.ResponseWriter, r *http.Request, serverID, userID int64) {
	if err := h.Timeouts.RemoveTimeout(r.Context(), caller(r), userID, serverID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) ReportUser(w http.ResponseWriter, r *http.Request, userID int64) {
	var req reasonRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	rep, err := h.Reports.ReportUser(r.Context(), caller(r), userID, req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rep)
}

// GetReports lists open reports, or every report with ?all=true.
func (h *Handlers) GetReports(w http.ResponseWriter, r *http.Request) {
	var (
		reports any
		err     error
	)
	if r.URL.Query().Get("all") == "true" {
		reports, err = h.Reports.AllReports(r.Context(), caller(r))
	} else {
		reports, err = h.Reports.PendingReports(r.Context(), caller(r))
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reports)
}

func (h *Handlers) GetReportCount(w http.ResponseWriter, r *http.Request) {
	n, err := h.Reports.PendingReportCount(r.Context(), caller(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"count": n})
}

func (h *Handlers) GetReportsAgainst(w http.ResponseWriter, r *http.Request, userID int64) {
	reports, err := h.Reports.ReportsAgainst(r.Context(), caller(r), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reports)
}

func (h *Handlers) ReviewReport(w http.ResponseWriter, r *http.Request, reportID int64) {
	var req reviewRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	rep, err := h.Reports.ReviewReport(r.Context(), caller(r), reportID, req.Dismiss)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}
