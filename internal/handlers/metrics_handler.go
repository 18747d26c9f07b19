package handlers

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"guild-server/internal/metrics"
)

type MetricsResponse struct {
	Current struct {
		HTTP struct {
			TotalBytesOut  int64 `json:"total_bytes_out"`
			TotalRequests  int64 `json:"total_requests"`
			AvgBytesPerReq int64 `json:"avg_bytes_per_request"`
		} `json:"http"`
		WebSocket struct {
			TotalBytesOut    int64 `json:"total_bytes_out"`
			TotalMessages    int64 `json:"total_messages"`
			AvgBytesPerMsg   int64 `json:"avg_bytes_per_message"`
			ConnectedClients int   `json:"connected_clients"`
		} `json:"websocket"`
		Notifications struct {
			Total    int64               `json:"total"`
			Failures int64               `json:"handler_failures"`
			ByKind   []metrics.KindCount `json:"by_kind,omitempty"`
		} `json:"notifications"`
		Permissions struct {
			Checks  int64 `json:"checks"`
			Denials int64 `json:"denials"`
		} `json:"permissions"`
	} `json:"current"`
	Historical any `json:"historical,omitempty"`
}

// GetMetrics reports the process counters. ?hours= adds hourly rollups
// (up to a week) and ?minutes= adds raw snapshots (up to a day).
func (h *Handlers) GetMetrics(w http.ResponseWriter, r *http.Request) {
	if err := h.Perms.RequireSiteAdmin(r.Context(), caller(r)); err != nil {
		writeError(w, r, err)
		return
	}

	snap := metrics.Current()
	var resp MetricsResponse

	resp.Current.HTTP.TotalBytesOut = snap.HTTPBytesOut
	resp.Current.HTTP.TotalRequests = snap.HTTPRequests
	if snap.HTTPRequests > 0 {
		resp.Current.HTTP.AvgBytesPerReq = snap.HTTPBytesOut / snap.HTTPRequests
	}

	resp.Current.WebSocket.TotalBytesOut = snap.WebSocketBytesOut
	resp.Current.WebSocket.TotalMessages = snap.WebSocketMessages
	resp.Current.WebSocket.ConnectedClients = snap.ConnectedClients
	if snap.WebSocketMessages > 0 {
		resp.Current.WebSocket.AvgBytesPerMsg = snap.WebSocketBytesOut / snap.WebSocketMessages
	}

	resp.Current.Notifications.Total = snap.Notifications
	resp.Current.Notifications.Failures = snap.HandlerFailures
	if h.Observer != nil {
		resp.Current.Notifications.ByKind = h.Observer.ByKind()
	}
	resp.Current.Permissions.Checks = snap.PermissionChecks
	resp.Current.Permissions.Denials = snap.PermissionDenials

	if h.Metrics != nil {
		if hours, err := strconv.Atoi(r.URL.Query().Get("hours")); err == nil && hours > 0 && hours <= 168 {
			if historical, err := h.Metrics.GetHourlyMetrics(hours); err == nil {
				resp.Historical = historical
			}
		}
		if minutes, err := strconv.Atoi(r.URL.Query().Get("minutes")); err == nil && minutes > 0 && minutes <= 1440 {
			if snapshots, err := h.Metrics.GetSnapshotHistory(minutes); err == nil {
				resp.Historical = snapshots
			}
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// PrometheusHandler serves the counters in the Prometheus text format.
func PrometheusHandler(observer *metrics.NotifyObserver) http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(metrics.NewCollector("guild", observer))
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// ServeWS upgrades the caller's connection for live notifications.
func (h *Handlers) ServeWS(w http.ResponseWriter, r *http.Request) {
	h.Hub.ServeWS(w, r, caller(r))
}
