package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guild-server/internal/apperr"
	"guild-server/internal/callback"
	"guild-server/internal/models"
)

type fakeAccess struct {
	admins   map[int64]bool
	members  map[[2]int64]bool
	channels map[int64]int64
}

func (f *fakeAccess) IsSiteAdmin(_ context.Context, userID int64) (bool, error) {
	return f.admins[userID], nil
}

func (f *fakeAccess) RequireMember(_ context.Context, userID, serverID int64) error {
	if f.members[[2]int64{userID, serverID}] {
		return nil
	}
	return apperr.Forbidden("not a member of this server")
}

func (f *fakeAccess) GetChannel(_ context.Context, channelID int64) (*models.Channel, error) {
	srv, ok := f.channels[channelID]
	if !ok {
		return nil, apperr.NotFound("channel")
	}
	return &models.Channel{ID: channelID, ServerID: srv}, nil
}

func newFakeAccess() *fakeAccess {
	return &fakeAccess{
		admins:   map[int64]bool{9: true},
		members:  map[[2]int64]bool{{1, 100}: true},
		channels: map[int64]int64{5: 100, 6: 200},
	}
}

func newGuard() *AccessGuard {
	f := newFakeAccess()
	return NewAccessGuard(f, f, f)
}

func TestGuardResolve(t *testing.T) {
	g := newGuard()
	ctx := context.Background()

	kind, topic, err := g.Resolve(ctx, 1, SubscribeRequest{Kind: "ChannelMessageEvent", ID: 5})
	require.NoError(t, err)
	assert.Equal(t, callback.ChannelMessageEvent, kind)
	assert.Equal(t, callback.DeriveID(callback.ChannelMessageEvent, 5), topic)

	_, topic, err = g.Resolve(ctx, 1, SubscribeRequest{Kind: "FriendRequest"})
	require.NoError(t, err)
	assert.Equal(t, callback.DeriveID(callback.FriendRequest, 1), topic)

	_, topic, err = g.Resolve(ctx, 1, SubscribeRequest{Kind: "DirectMessageEvent", PeerID: 2})
	require.NoError(t, err)
	assert.Equal(t, callback.DeriveConversationID(2, 1), topic)

	_, topic, err = g.Resolve(ctx, 1, SubscribeRequest{Kind: "UserRoleChanged", ServerID: 100})
	require.NoError(t, err)
	assert.Equal(t, callback.DeriveUserRoleChangedID(1, 100), topic)

	_, topic, err = g.Resolve(ctx, 9, SubscribeRequest{Kind: "ReportSubmitted"})
	require.NoError(t, err)
	assert.Equal(t, callback.DeriveAdminID(), topic)
}

func TestGuardRefuses(t *testing.T) {
	g := newGuard()
	ctx := context.Background()

	cases := map[string]struct {
		req    SubscribeRequest
		forbid bool
	}{
		"unknown kind":        {SubscribeRequest{Kind: "Nope"}, false},
		"foreign channel":     {SubscribeRequest{Kind: "ChannelMessageEvent", ID: 6}, true},
		"foreign server":      {SubscribeRequest{Kind: "RolesUpdated", ID: 200}, true},
		"other user":          {SubscribeRequest{Kind: "FriendRequest", ID: 2}, true},
		"admin topic":         {SubscribeRequest{Kind: "AppealSubmitted"}, true},
		"conversation w/o id": {SubscribeRequest{Kind: "DirectMessageEvent"}, false},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := g.Resolve(ctx, 1, tc.req)
			require.Error(t, err)
			if tc.forbid {
				assert.ErrorIs(t, err, apperr.ErrForbidden)
			} else {
				assert.True(t, apperr.IsValidation(err))
			}
		})
	}

	_, _, err := g.Resolve(ctx, 1, SubscribeRequest{Kind: "ChannelDeleted", ID: 77})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestSiteAdminWatchesAnything(t *testing.T) {
	g := newGuard()
	_, _, err := g.Resolve(context.Background(), 9, SubscribeRequest{Kind: "ChannelMessageEvent", ID: 6})
	assert.NoError(t, err)
	_, _, err = g.Resolve(context.Background(), 9, SubscribeRequest{Kind: "UserBanned", ID: 1})
	assert.NoError(t, err)
}

type wsHarness struct {
	reg  *callback.Registry
	hub  *Hub
	srv  *httptest.Server
	stop context.CancelFunc
}

func newHarness(t *testing.T) *wsHarness {
	t.Helper()
	reg := callback.NewRegistry()
	hub := NewHub(reg, newGuard())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWS(w, r, 1)
	}))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return &wsHarness{reg: reg, hub: hub, srv: srv, stop: cancel}
}

func (h *wsHarness) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msgType string, req SubscribeRequest) {
	t.Helper()
	data, err := json.Marshal(req)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(Message{Type: msgType, Data: data}))
}

func read(t *testing.T, conn *websocket.Conn) (string, Refresh) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	var r Refresh
	_ = json.Unmarshal(msg.Data, &r)
	return msg.Type, r
}

func TestHubPushesRefresh(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t)

	send(t, conn, "subscribe", SubscribeRequest{Kind: "ChannelMessageEvent", ID: 5})
	typ, r := read(t, conn)
	require.Equal(t, "subscribed", typ)
	assert.Equal(t, "ChannelMessageEvent", r.Kind)

	h.reg.PublishEntity(context.Background(), callback.ChannelMessageEvent, 5)
	typ, r = read(t, conn)
	assert.Equal(t, "refresh", typ)
	assert.Equal(t, callback.DeriveID(callback.ChannelMessageEvent, 5).String(), r.Topic)
	assert.True(t, h.hub.IsUserConnected(1))
}

func TestHubRejectsForbiddenSubscription(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t)

	send(t, conn, "subscribe", SubscribeRequest{Kind: "ChannelMessageEvent", ID: 6})
	typ, _ := read(t, conn)
	assert.Equal(t, "error", typ)
	assert.Zero(t, h.reg.Len())
}

func TestHubUnsubscribeAndDisconnect(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t)

	send(t, conn, "subscribe", SubscribeRequest{Kind: "FriendRequest"})
	typ, _ := read(t, conn)
	require.Equal(t, "subscribed", typ)
	send(t, conn, "subscribe", SubscribeRequest{Kind: "FriendsListUpdated"})
	typ, _ = read(t, conn)
	require.Equal(t, "subscribed", typ)
	assert.Equal(t, 2, h.reg.Len())

	send(t, conn, "unsubscribe", SubscribeRequest{Kind: "FriendRequest"})
	typ, _ = read(t, conn)
	require.Equal(t, "unsubscribed", typ)
	assert.Equal(t, 1, h.reg.Len())

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return h.reg.Len() == 0 }, 5*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return !h.hub.IsUserConnected(1) }, 5*time.Second, 10*time.Millisecond)
}

func TestHubReplacesExistingConnection(t *testing.T) {
	h := newHarness(t)
	first := h.dial(t)
	send(t, first, "subscribe", SubscribeRequest{Kind: "FriendRequest"})
	typ, _ := read(t, first)
	require.Equal(t, "subscribed", typ)

	second := h.dial(t)
	send(t, second, "ping", SubscribeRequest{})
	typ, _ = read(t, second)
	require.Equal(t, "pong", typ)

	assert.Eventually(t, func() bool { return h.reg.Len() == 0 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, []int64{1}, h.hub.ConnectedUsers())
}

func TestDisconnectUser(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t)
	send(t, conn, "subscribe", SubscribeRequest{Kind: "UserBanned"})
	typ, _ := read(t, conn)
	require.Equal(t, "subscribed", typ)

	h.hub.DisconnectUser(1)
	assert.False(t, h.hub.IsUserConnected(1))
	assert.Zero(t, h.reg.Len())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)

	h.hub.DisconnectUser(1)
}
