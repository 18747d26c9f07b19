package handlers

import (
	"net/http"
	"time"

	"guild-server/internal/middleware"
)

var (
	NoCache    = middleware.CacheControl(0, "no-cache")
	Cache30Sec = middleware.CacheControl(30*time.Second, "private")
	Cache1Min  = middleware.CacheControl(time.Minute, "private")
)

type router struct {
	mux   *http.ServeMux
	auth  *middleware.Auth
	limit func(http.HandlerFunc) http.HandlerFunc
}

func (rt router) publicRoute(pattern string, cache func(http.HandlerFunc) http.HandlerFunc, handler http.HandlerFunc) {
	rt.mux.HandleFunc(pattern, rt.limit(cache(handler)))
}

func (rt router) authRoute(pattern string, cache func(http.HandlerFunc) http.HandlerFunc, handler http.HandlerFunc) {
	rt.mux.HandleFunc(pattern, rt.limit(cache(rt.auth.RequireAuth(handler))))
}

// bannedRoute stays reachable for banned users.
func (rt router) bannedRoute(pattern string, handler http.HandlerFunc) {
	rt.mux.HandleFunc(pattern, rt.limit(NoCache(rt.auth.AllowBanned(handler))))
}

// Routes registers the whole API on mux. requestsPerMinute applies per caller.
func (h *Handlers) Routes(mux *http.ServeMux, auth *middleware.Auth, requestsPerMinute int) {
	rt := router{mux: mux, auth: auth, limit: middleware.RateLimitFunc(requestsPerMinute)}

	rt.publicRoute("POST /auth/register", NoCache, h.Register)
	rt.publicRoute("POST /auth/login", NoCache, h.Login)
	rt.mux.Handle("GET /metrics/prometheus", PrometheusHandler(h.Observer))

	rt.authRoute("GET /ws", NoCache, h.ServeWS)
	rt.authRoute("GET /metrics", NoCache, h.GetMetrics)

	// Users and friends
	rt.authRoute("GET /me", NoCache, h.Me)
	rt.authRoute("GET /users", Cache30Sec, h.GetUsers)
	rt.authRoute("GET /users/{userID}", Cache1Min, withID("userID", h.GetUser))
	rt.authRoute("GET /users/by-name/{username}", Cache1Min, h.GetUserByName)
	rt.authRoute("PUT /users/{userID}/site-admin", NoCache, withID("userID", h.SetSiteAdmin))
	rt.authRoute("GET /friends", NoCache, h.GetFriends)
	rt.authRoute("DELETE /friends/{userID}", NoCache, withID("userID", h.RemoveFriend))
	rt.authRoute("GET /friend-requests", NoCache, h.GetFriendRequests)
	rt.authRoute("POST /friend-requests", NoCache, h.SendFriendRequest)
	rt.authRoute("POST /friend-requests/{requestID}/accept", NoCache, withID("requestID", h.AcceptFriendRequest))
	rt.authRoute("DELETE /friend-requests/{requestID}", NoCache, withID("requestID", h.RejectFriendRequest))

	// Servers and invites
	rt.authRoute("GET /servers", NoCache, h.GetMyServers)
	rt.authRoute("POST /servers", NoCache, h.CreateServer)
	rt.authRoute("GET /servers/{serverID}", NoCache, withID("serverID", h.GetServer))
	rt.authRoute("PATCH /servers/{serverID}", NoCache, withID("serverID", h.RenameServer))
	rt.authRoute("DELETE /servers/{serverID}", NoCache, withID("serverID", h.DeleteServer))
	rt.authRoute("GET /servers/{serverID}/members", NoCache, withID("serverID", h.GetMembers))
	rt.authRoute("DELETE /servers/{serverID}/members/{userID}", NoCache, withIDs("serverID", "userID", h.KickMember))
	rt.authRoute("POST /servers/{serverID}/leave", NoCache, withID("serverID", h.LeaveServer))
	rt.authRoute("GET /servers/{serverID}/permissions", NoCache, withID("serverID", h.GetMyPermissions))
	rt.authRoute("POST /servers/{serverID}/invites", NoCache, withID("serverID", h.CreateInvite))
	rt.authRoute("GET /invites", NoCache, h.GetInvites)
	rt.authRoute("POST /invites/{inviteID}/accept", NoCache, withID("inviteID", h.AcceptInvite))
	rt.authRoute("DELETE /invites/{inviteID}", NoCache, withID("inviteID", h.DeleteInvite))

	// Channels and overrides
	rt.authRoute("GET /servers/{serverID}/channels", NoCache, withID("serverID", h.GetChannels))
	rt.authRoute("POST /servers/{serverID}/channels", NoCache, withID("serverID", h.CreateChannel))
	rt.authRoute("GET /channels/{channelID}", NoCache, withID("channelID", h.GetChannel))
	rt.authRoute("PATCH /channels/{channelID}", NoCache, withID("channelID", h.RenameChannel))
	rt.authRoute("DELETE /channels/{channelID}", NoCache, withID("channelID", h.DeleteChannel))
	rt.authRoute("GET /channels/{channelID}/permissions", NoCache, withID("channelID", h.CheckChannelPermission))
	rt.authRoute("GET /channels/{channelID}/overrides", NoCache, withID("channelID", h.GetOverrides))
	rt.authRoute("PUT /channels/{channelID}/overrides/{roleID}", NoCache, withIDs("channelID", "roleID", h.SetOverride))
	rt.authRoute("DELETE /channels/{channelID}/overrides/{roleID}", NoCache, withIDs("channelID", "roleID", h.DeleteOverride))

	// Messages
	rt.authRoute("GET /channels/{channelID}/messages", NoCache, withID("channelID", h.GetMessages))
	rt.authRoute("POST /channels/{channelID}/messages", NoCache, withID("channelID", h.PostMessage))
	rt.authRoute("DELETE /messages/{messageID}", NoCache, withID("messageID", h.DeleteMessage))
	rt.authRoute("GET /dm/{userID}", NoCache, withID("userID", h.GetConversation))
	rt.authRoute("POST /dm/{userID}", NoCache, withID("userID", h.SendDirectMessage))

	// Roles
	rt.authRoute("GET /servers/{serverID}/roles", NoCache, withID("serverID", h.GetRoles))
	rt.authRoute("POST /servers/{serverID}/roles", NoCache, withID("serverID", h.CreateRole))
	rt.authRoute("GET /roles/{roleID}", NoCache, withID("roleID", h.GetRole))
	rt.authRoute("PATCH /roles/{roleID}", NoCache, withID("roleID", h.UpdateRole))
	rt.authRoute("PUT /roles/{roleID}/permissions", NoCache, withID("roleID", h.UpdateRolePermissions))
	rt.authRoute("DELETE /roles/{roleID}", NoCache, withID("roleID", h.DeleteRole))
	rt.authRoute("PUT /roles/{roleID}/users/{userID}", NoCache, withIDs("roleID", "userID", h.AssignRole))
	rt.authRoute("DELETE /roles/{roleID}/users/{userID}", NoCache, withIDs("roleID", "userID", h.RemoveRole))
	rt.authRoute("GET /servers/{serverID}/users/{userID}/roles", NoCache, withIDs("serverID", "userID", h.GetUserRoles))
	rt.authRoute("PUT /servers/{serverID}/users/{userID}/roles", NoCache, withIDs("serverID", "userID", h.SetUserRoles))

	// Moderation
	rt.bannedRoute("GET /ban", h.GetMyBan)
	rt.bannedRoute("POST /ban/appeal", h.SubmitAppeal)
	rt.authRoute("GET /admin/bans", NoCache, h.GetBans)
	rt.authRoute("POST /admin/bans/{userID}", NoCache, withID("userID", h.BanUser))
	rt.authRoute("GET /admin/appeals", NoCache, h.GetAppeals)
	rt.authRoute("GET /admin/appeals/count", NoCache, h.GetAppealCount)
	rt.authRoute("POST /admin/appeals/{banID}", NoCache, withID("banID", h.ReviewAppeal))
	rt.authRoute("GET /admin/servers", NoCache, h.AdminServers)
	rt.authRoute("GET /admin/reports", NoCache, h.GetReports)
	rt.authRoute("GET /admin/reports/count", NoCache, h.GetReportCount)
	rt.authRoute("GET /admin/reports/users/{userID}", NoCache, withID("userID", h.GetReportsAgainst))
	rt.authRoute("POST /admin/reports/{reportID}", NoCache, withID("reportID", h.ReviewReport))
	rt.authRoute("POST /users/{userID}/report", NoCache, withID("userID", h.ReportUser))
	rt.authRoute("GET /servers/{serverID}/timeouts", NoCache, withID("serverID", h.GetTimeouts))
	rt.authRoute("PUT /servers/{serverID}/timeouts/{userID}", NoCache, withIDs("serverID", "userID", h.TimeoutUser))
	rt.authRoute("DELETE /servers/{serverID}/timeouts/{userID}", NoCache, withIDs("serverID", "userID", h.RemoveTimeout))
}
