package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guild-server/internal/callback"
	"guild-server/internal/channel"
	"guild-server/internal/guild"
	"guild-server/internal/metrics"
	"guild-server/internal/middleware"
	"guild-server/internal/models"
	"guild-server/internal/moderation"
	"guild-server/internal/permission"
	"guild-server/internal/role"
	"guild-server/internal/testutil"
	"guild-server/internal/user"
	"guild-server/internal/websocket"
)

type apiEnv struct {
	seed *testutil.Seed
	reg  *callback.Registry
	srv  *httptest.Server

	owner, member, stranger, admin int64
}

func newAPI(t *testing.T) *apiEnv {
	t.Helper()
	seed := testutil.NewSeed(t)
	s := seed.Store
	reg := callback.NewRegistry()
	observer := metrics.NewNotifyObserver()
	reg.SetObserver(observer)
	perms := permission.NewEngine(s)

	timeouts := moderation.NewTimeoutService(s, perms, reg)
	bans := moderation.NewBanService(s, perms, reg)
	servers := guild.NewServerService(s, perms, reg)
	channels := channel.NewService(s, perms, reg)
	users := user.NewService(s, perms)
	hub := websocket.NewHub(reg, websocket.NewAccessGuard(perms, servers, channels))

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	h := &Handlers{
		Perms:     perms,
		Users:     users,
		Friends:   user.NewFriendService(s, reg, user.AutoAccept),
		Servers:   servers,
		Invites:   guild.NewInviteService(s, reg),
		Channels:  channels,
		Overrides: channel.NewOverrideService(s, perms, reg),
		Messages:  channel.NewMessageService(s, perms, reg, timeouts, 2000),
		Direct:    channel.NewDirectMessageService(s, reg, 2000),
		Roles:     role.NewService(s, perms, reg, 32),
		UserRoles: role.NewUserRoleService(s, perms, reg, 8),
		Bans:      bans,
		Timeouts:  timeouts,
		Reports:   moderation.NewReportService(s, perms, reg),
		Hub:       hub,
		Observer:  observer,
	}
	mux := http.NewServeMux()
	h.Routes(mux, middleware.NewAuth(users, bans), 10000)
	srv := httptest.NewServer(middleware.CORS(middleware.TrackOutboundData(mux)))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})

	return &apiEnv{
		seed:     seed,
		reg:      reg,
		srv:      srv,
		owner:    seed.User("owner"),
		member:   seed.User("member"),
		stranger: seed.User("stranger"),
		admin:    seed.SiteAdmin("admin"),
	}
}

// do sends body as JSON on behalf of userID (0 for anonymous) and decodes
// the response into out when it is not nil.
func (e *apiEnv) do(t *testing.T, userID int64, method, path string, body, out any) int {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, r)
	require.NoError(t, err)
	if userID != 0 {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %d", userID))
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestRegisterAndLogin(t *testing.T) {
	e := newAPI(t)

	var auth authResponse
	code := e.do(t, 0, "POST", "/auth/register", map[string]string{
		"username": "newbie", "email": "Newbie@Example.com", "password": "Sup3r-secret",
	}, &auth)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "newbie@example.com", auth.User.Email)
	assert.NotEmpty(t, auth.Token)

	code = e.do(t, 0, "POST", "/auth/register", map[string]string{
		"username": "newbie", "email": "other@example.com", "password": "Sup3r-secret",
	}, nil)
	assert.Equal(t, http.StatusConflict, code)

	code = e.do(t, 0, "POST", "/auth/register", map[string]string{
		"username": "x", "email": "bad", "password": "short",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	var login authResponse
	code = e.do(t, 0, "POST", "/auth/login", map[string]string{"username": "newbie", "password": "Sup3r-secret"}, &login)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, auth.Token, login.Token)

	code = e.do(t, 0, "POST", "/auth/login", map[string]string{"username": "newbie", "password": "wrong"}, nil)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestAuthRequired(t *testing.T) {
	e := newAPI(t)
	assert.Equal(t, http.StatusUnauthorized, e.do(t, 0, "GET", "/me", nil, nil))
	assert.Equal(t, http.StatusUnauthorized, e.do(t, 9999, "GET", "/me", nil, nil))

	var me struct {
		User      models.User `json:"user"`
		SiteAdmin bool        `json:"site_admin"`
	}
	require.Equal(t, http.StatusOK, e.do(t, e.admin, "GET", "/me", nil, &me))
	assert.Equal(t, "admin", me.User.Username)
	assert.True(t, me.SiteAdmin)
}

func TestBadPathID(t *testing.T) {
	e := newAPI(t)
	assert.Equal(t, http.StatusBadRequest, e.do(t, e.owner, "GET", "/servers/abc", nil, nil))
	assert.Equal(t, http.StatusBadRequest, e.do(t, e.owner, "GET", "/servers/-4", nil, nil))
}

func TestServerChannelMessageFlow(t *testing.T) {
	e := newAPI(t)

	var srv models.Server
	require.Equal(t, http.StatusCreated, e.do(t, e.owner, "POST", "/servers", map[string]string{"name": "guild"}, &srv))
	base := fmt.Sprintf("/servers/%d", srv.ID)

	var ch models.Channel
	require.Equal(t, http.StatusCreated, e.do(t, e.owner, "POST", base+"/channels", map[string]string{"name": "news"}, &ch))

	var inv models.ServerInvite
	require.Equal(t, http.StatusCreated, e.do(t, e.owner, "POST", base+"/invites", map[string]int64{"user_id": e.member}, &inv))
	assert.Equal(t, http.StatusNotFound, e.do(t, e.stranger, "POST", fmt.Sprintf("/invites/%d/accept", inv.ID), nil, nil))
	assert.Equal(t, http.StatusForbidden, e.do(t, e.owner, "POST", fmt.Sprintf("/invites/%d/accept", inv.ID), nil, nil))
	require.Equal(t, http.StatusNoContent, e.do(t, e.member, "POST", fmt.Sprintf("/invites/%d/accept", inv.ID), nil, nil))
	e.seed.Assign(e.member, e.seed.Role(srv.ID, "talker", models.RolePermissions{SendMessages: true}))

	var members []models.User
	require.Equal(t, http.StatusOK, e.do(t, e.member, "GET", base+"/members", nil, &members))
	assert.Len(t, members, 2)

	msgPath := fmt.Sprintf("/channels/%d/messages", ch.ID)
	var msg models.Message
	require.Equal(t, http.StatusCreated, e.do(t, e.member, "POST", msgPath, map[string]string{"content": "hello"}, &msg))
	assert.Equal(t, http.StatusBadRequest, e.do(t, e.member, "POST", msgPath, map[string]string{"content": "  "}, nil))
	assert.Equal(t, http.StatusForbidden, e.do(t, e.stranger, "POST", msgPath, map[string]string{"content": "hi"}, nil))
	assert.Equal(t, http.StatusForbidden, e.do(t, e.stranger, "GET", msgPath, nil, nil))

	var history page[models.Message]
	require.Equal(t, http.StatusOK, e.do(t, e.member, "GET", msgPath+"?limit=10", nil, &history))
	assert.EqualValues(t, 1, history.Total)
	require.Len(t, history.Items, 1)
	assert.Equal(t, "hello", history.Items[0].Content)

	// deleting someone else's message needs DeleteOthersMessages; the owner bypasses
	assert.Equal(t, http.StatusNoContent, e.do(t, e.owner, "DELETE", fmt.Sprintf("/messages/%d", msg.ID), nil, nil))

	assert.Equal(t, http.StatusForbidden, e.do(t, e.member, "DELETE", base, nil, nil))
	assert.Equal(t, http.StatusNoContent, e.do(t, e.owner, "DELETE", base, nil, nil))
	assert.Equal(t, http.StatusNotFound, e.do(t, e.admin, "GET", base, nil, nil))
}

func TestRolesThroughAPI(t *testing.T) {
	e := newAPI(t)
	srvID := e.seed.Server("guild", e.owner)
	e.seed.Member(e.member, srvID)
	base := fmt.Sprintf("/servers/%d", srvID)

	assert.Equal(t, http.StatusForbidden, e.do(t, e.member, "POST", base+"/channels", map[string]string{"name": "x"}, nil))

	var r models.Role
	require.Equal(t, http.StatusCreated, e.do(t, e.owner, "POST", base+"/roles", map[string]any{"name": "builder", "color": "#22aa22"}, &r))
	require.Equal(t, http.StatusOK, e.do(t, e.owner, "PUT", fmt.Sprintf("/roles/%d/permissions", r.ID),
		map[string]bool{"AddChannels": true}, nil))
	assert.Equal(t, http.StatusBadRequest, e.do(t, e.owner, "PUT", fmt.Sprintf("/roles/%d/permissions", r.ID),
		map[string]bool{"Fly": true}, nil))
	require.Equal(t, http.StatusNoContent, e.do(t, e.owner, "PUT", fmt.Sprintf("/roles/%d/users/%d", r.ID, e.member), nil, nil))

	var detail struct {
		Permissions []string `json:"permissions"`
		Holders     int64    `json:"holders"`
	}
	require.Equal(t, http.StatusOK, e.do(t, e.member, "GET", fmt.Sprintf("/roles/%d", r.ID), nil, &detail))
	assert.Equal(t, []string{"AddChannels"}, detail.Permissions)
	assert.EqualValues(t, 1, detail.Holders)

	assert.Equal(t, http.StatusCreated, e.do(t, e.member, "POST", base+"/channels", map[string]string{"name": "built"}, nil))

	var allowed struct {
		Allowed bool `json:"allowed"`
	}
	chID := e.seed.Channel(srvID, "locked")
	e.seed.Override(chID, r.ID, models.ChannelRolePermission{SendMessages: boolPtr(false)})
	require.Equal(t, http.StatusOK, e.do(t, e.member, "GET", fmt.Sprintf("/channels/%d/permissions?capability=SendMessages", chID), nil, &allowed))
	assert.False(t, allowed.Allowed)
}

func boolPtr(v bool) *bool { return &v }

func TestBannedUserCanOnlyAppeal(t *testing.T) {
	e := newAPI(t)
	path := fmt.Sprintf("/admin/bans/%d", e.stranger)

	assert.Equal(t, http.StatusForbidden, e.do(t, e.owner, "POST", path, map[string]string{"reason": "spam"}, nil))
	require.Equal(t, http.StatusCreated, e.do(t, e.admin, "POST", path, map[string]string{"reason": "spam"}, nil))
	assert.Equal(t, http.StatusConflict, e.do(t, e.admin, "POST", path, map[string]string{"reason": "again"}, nil))

	assert.Equal(t, http.StatusForbidden, e.do(t, e.stranger, "GET", "/me", nil, nil))

	var ban models.UserBan
	require.Equal(t, http.StatusOK, e.do(t, e.stranger, "GET", "/ban", nil, &ban))
	assert.Equal(t, "spam", ban.Reason)
	require.Equal(t, http.StatusOK, e.do(t, e.stranger, "POST", "/ban/appeal",
		map[string]string{"reason": "I promise it will not happen again."}, nil))

	var count map[string]int64
	require.Equal(t, http.StatusOK, e.do(t, e.admin, "GET", "/admin/appeals/count", nil, &count))
	assert.EqualValues(t, 1, count["count"])

	require.Equal(t, http.StatusNoContent, e.do(t, e.admin, "POST", fmt.Sprintf("/admin/appeals/%d", ban.ID),
		map[string]bool{"approve": true}, nil))
	assert.Equal(t, http.StatusOK, e.do(t, e.stranger, "GET", "/me", nil, nil))
}

func TestFriendsAndDirectMessages(t *testing.T) {
	e := newAPI(t)

	var sent struct {
		Request *models.FriendRequest `json:"request"`
		Friends bool                  `json:"friends"`
	}
	require.Equal(t, http.StatusCreated, e.do(t, e.owner, "POST", "/friend-requests", map[string]string{"username": "member"}, &sent))
	require.NotNil(t, sent.Request)
	assert.False(t, sent.Friends)

	require.Equal(t, http.StatusNoContent, e.do(t, e.member, "POST", fmt.Sprintf("/friend-requests/%d/accept", sent.Request.ID), nil, nil))
	var friends []models.User
	require.Equal(t, http.StatusOK, e.do(t, e.owner, "GET", "/friends", nil, &friends))
	require.Len(t, friends, 1)
	assert.Equal(t, e.member, friends[0].ID)

	dm := fmt.Sprintf("/dm/%d", e.member)
	require.Equal(t, http.StatusCreated, e.do(t, e.owner, "POST", dm, map[string]string{"content": "psst"}, nil))
	var convo page[models.DirectMessage]
	require.Equal(t, http.StatusOK, e.do(t, e.member, "GET", fmt.Sprintf("/dm/%d", e.owner), nil, &convo))
	assert.EqualValues(t, 1, convo.Total)
	assert.Equal(t, http.StatusBadRequest, e.do(t, e.owner, "POST", fmt.Sprintf("/dm/%d", e.owner), map[string]string{"content": "me"}, nil))
}

func TestTimeoutThroughAPI(t *testing.T) {
	e := newAPI(t)
	srvID := e.seed.Server("guild", e.owner)
	e.seed.Member(e.member, srvID)
	e.seed.Assign(e.member, e.seed.Role(srvID, "talker", models.RolePermissions{SendMessages: true}))
	chID := e.seed.Channel(srvID, "general")
	path := fmt.Sprintf("/servers/%d/timeouts/%d", srvID, e.member)

	assert.Equal(t, http.StatusBadRequest, e.do(t, e.owner, "PUT", path, map[string]any{"seconds": 0}, nil))
	require.Equal(t, http.StatusOK, e.do(t, e.owner, "PUT", path, map[string]any{"seconds": 600, "reason": "cool off"}, nil))
	assert.Equal(t, http.StatusForbidden, e.do(t, e.member, "POST", fmt.Sprintf("/channels/%d/messages", chID),
		map[string]string{"content": "let me talk"}, nil))

	var active []models.UserTimeout
	require.Equal(t, http.StatusOK, e.do(t, e.member, "GET", fmt.Sprintf("/servers/%d/timeouts", srvID), nil, &active))
	assert.Len(t, active, 1)

	require.Equal(t, http.StatusNoContent, e.do(t, e.owner, "DELETE", path, nil, nil))
	assert.Equal(t, http.StatusCreated, e.do(t, e.member, "POST", fmt.Sprintf("/channels/%d/messages", chID),
		map[string]string{"content": "thanks"}, nil))
}

func TestMetricsEndpoints(t *testing.T) {
	e := newAPI(t)
	assert.Equal(t, http.StatusForbidden, e.do(t, e.owner, "GET", "/metrics", nil, nil))

	var resp MetricsResponse
	require.Equal(t, http.StatusOK, e.do(t, e.admin, "GET", "/metrics", nil, &resp))
	assert.Positive(t, resp.Current.HTTP.TotalRequests)

	res, err := http.Get(e.srv.URL + "/metrics/prometheus")
	require.NoError(t, err)
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.True(t, strings.Contains(string(body), "guild_http_requests_total"))
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, http.StatusUnauthorized, statusOf(user.ErrInvalidCredentials))
	assert.Equal(t, 499, statusOf(context.Canceled))
	assert.Equal(t, http.StatusInternalServerError, statusOf(io.ErrUnexpectedEOF))
}
