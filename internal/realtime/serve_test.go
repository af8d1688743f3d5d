package realtime

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startWSServer(t *testing.T, hub *Hub, opts Options) string {
	t.Helper()
	verifier := NewVerifier(testSecret)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWS(hub, verifier, opts, zerolog.Nop(), w, r)
	}))
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func channelSize(hub *Hub, name string) int {
	hub.chanMu.RLock()
	defer hub.chanMu.RUnlock()
	return len(hub.channels[name])
}

func dialWS(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestServeWS_AuthenticatedHandshake(t *testing.T) {
	hub := newTestHub()
	wsURL := startWSServer(t, hub, Options{})

	dialWS(t, wsURL+"?token="+signCredential(t, "U1", RoleSKOfficial, time.Minute))

	require.Eventually(t, func() bool {
		return hub.ConnectionCount() == 1 && hub.IdentityCount() == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, hub.IdentityConnections("U1"))
}

func TestServeWS_BrokenCredentialDegradesToAnonymous(t *testing.T) {
	hub := newTestHub()
	wsURL := startWSServer(t, hub, Options{})

	conn := dialWS(t, wsURL+"?token=garbage")

	require.Eventually(t, func() bool {
		return hub.ConnectionCount() == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, hub.IdentityCount())

	// Public broadcasts must still arrive.
	emitter := NewEmitter(hub, zerolog.Nop())
	defer emitter.Close()
	emitter.EmitBroadcast(EventAnnouncementChanged, Deleted("ANN1"))

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, frame, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(frame), EventAnnouncementChanged)
}

func TestServeWS_StrictModeRejects(t *testing.T) {
	hub := newTestHub()
	wsURL := startWSServer(t, hub, Options{StrictAuth: true})

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(wsURL+"?token=garbage", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	dialWS(t, wsURL+"?token="+signCredential(t, "U1", RoleSKOfficial, time.Minute))
	require.Eventually(t, func() bool {
		return hub.ConnectionCount() == 1
	}, time.Second, 10*time.Millisecond)
}

func TestServeWS_JoinLeaveOverTheWire(t *testing.T) {
	hub := newTestHub()
	wsURL := startWSServer(t, hub, Options{})

	conn := dialWS(t, wsURL)
	require.Eventually(t, func() bool {
		return hub.ConnectionCount() == 1
	}, time.Second, 10*time.Millisecond)

	// Non-string entries in the batch are skipped, not rejected.
	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"action":"join","channels":["watch:ANN5", 42, null]}`)))
	require.Eventually(t, func() bool {
		return channelSize(hub, "watch:ANN5") == 1
	}, time.Second, 10*time.Millisecond)

	emitter := NewEmitter(hub, zerolog.Nop())
	defer emitter.Close()
	emitter.EmitToChannel("watch:ANN5", EventAnnouncementChanged, Updated(map[string]string{"id": "ANN5"}))

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, frame, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(frame), "ANN5")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"action":"leave","channels":["watch:ANN5"]}`)))
	require.Eventually(t, func() bool {
		return channelSize(hub, "watch:ANN5") == 0
	}, time.Second, 10*time.Millisecond)
}

func TestServeWS_DisconnectTearsDownState(t *testing.T) {
	hub := newTestHub()
	wsURL := startWSServer(t, hub, Options{})

	conn := dialWS(t, wsURL+"?token="+signCredential(t, "U1", RoleSKOfficial, time.Minute))
	require.Eventually(t, func() bool {
		return hub.ConnectionCount() == 1
	}, time.Second, 10*time.Millisecond)

	conn.Close()

	require.Eventually(t, func() bool {
		return hub.ConnectionCount() == 0 && hub.IdentityCount() == 0
	}, time.Second, 10*time.Millisecond)
}
