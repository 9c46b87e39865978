package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// dialHub registers a server-side socket for userID and returns the client end
func dialHub(t *testing.T, hub *WSHub, userID string) *websocket.Conn {
	t.Helper()
	registered := make(chan struct{})
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.Register(userID, conn)
		close(registered)
	}))
	t.Cleanup(srv.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	<-registered
	return client
}

func TestWSHub_NotifyOnlineUser(t *testing.T) {
	offline := &recordingNotifier{}
	hub := NewWSHub(offline)
	client := dialHub(t, hub, "u1")
	require.True(t, hub.IsOnline("u1"))

	hub.Notify(context.Background(), "u1", WSMessage{Type: EventNewMessage, ConnectionID: "c1"})

	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got WSMessage
	require.NoError(t, client.ReadJSON(&got))
	assert.Equal(t, EventNewMessage, got.Type)
	assert.Equal(t, "c1", got.ConnectionID)
	assert.NotZero(t, got.Timestamp)
	assert.Empty(t, offline.events)
}

func TestWSHub_NotifyOfflineFallsBack(t *testing.T) {
	offline := &recordingNotifier{}
	hub := NewWSHub(offline)

	hub.Notify(context.Background(), "u1", WSMessage{Type: EventChatBegun})
	hub.Notify(context.Background(), "u1", WSMessage{Type: EventTyping})

	assert.Equal(t, []string{EventChatBegun}, offline.types("u1"))
	assert.Error(t, hub.SendToUser("u1", WSMessage{Type: EventPong}))
}

func TestWSHub_UnregisterIgnoresReplacedConnection(t *testing.T) {
	hub := NewWSHub(nil)
	first := make(chan *websocket.Conn, 2)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.Register("u1", conn)
		first <- conn
	}))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	c1, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer c1.Close()
	old := <-first

	c2, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer c2.Close()
	<-first

	hub.Unregister("u1", old)
	assert.True(t, hub.IsOnline("u1"))

	hub.Close()
	assert.False(t, hub.IsOnline("u1"))
}
