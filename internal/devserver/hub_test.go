package devserver

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"
)

func dialHub(t *testing.T, addr, path string) *websocket.Conn {
	t.Helper()

	ws, err := websocket.Dial("ws://"+addr+path, "", "http://localhost/")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func receive(t *testing.T, ws *websocket.Conn) string {
	t.Helper()

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg string
	require.NoError(t, websocket.Message.Receive(ws, &msg))
	return msg
}

func TestHub_Broadcast(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	srv := httptest.NewServer(hub)
	defer srv.Close()

	first := dialHub(t, srv.Listener.Addr().String(), "/")
	second := dialHub(t, srv.Listener.Addr().String(), "/")

	require.Eventually(t, func() bool { return hub.Len() == 2 }, 5*time.Second, 10*time.Millisecond)

	hub.Broadcast("content-changed")

	require.Equal(t, "content-changed", receive(t, first))
	require.Equal(t, "content-changed", receive(t, second))
}

func TestHub_clientDisconnect(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	srv := httptest.NewServer(hub)
	defer srv.Close()

	ws := dialHub(t, srv.Listener.Addr().String(), "/")
	require.Eventually(t, func() bool { return hub.Len() == 1 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, ws.Close())
	require.Eventually(t, func() bool { return hub.Len() == 0 }, 5*time.Second, 10*time.Millisecond)

	// no clients left, nothing to fail
	hub.Broadcast("ok")
}

func TestHub_Close(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	srv := httptest.NewServer(hub)
	defer srv.Close()

	ws := dialHub(t, srv.Listener.Addr().String(), "/")
	require.Eventually(t, func() bool { return hub.Len() == 1 }, 5*time.Second, 10*time.Millisecond)

	hub.Close()
	require.Equal(t, 0, hub.Len())

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg string
	require.Error(t, websocket.Message.Receive(ws, &msg))
}
