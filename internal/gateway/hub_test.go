package gateway

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pivotwatch/internal/model"
)

func alertFor(symbol string) model.Alert {
	return model.NewAlert(symbol, model.M5, model.Pattern{model.HL, model.HH},
		[]model.Label{model.HL, model.HH}, 1.5, nil, 10, time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	var env Envelope
	require.NoError(t, json.Unmarshal(msg, &env))
	return env
}

func TestHub_BroadcastsAlerts(t *testing.T) {
	hub := NewHub(10)
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	counts := make(chan int, 4)
	hub.OnClientCount = func(n int) { counts <- n }

	conn := dial(t, srv, "")
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, <-counts)

	a := alertFor("XAUUSD")
	ok, msg := hub.Deliver(context.Background(), a)
	assert.True(t, ok)
	assert.Equal(t, "WS OK: 1 clients", msg)

	env := readEnvelope(t, conn)
	assert.Equal(t, "alert", env.Type)
	assert.Equal(t, int64(1), env.Seq)
	assert.False(t, env.Replay)
	assert.Equal(t, a.ID, env.Alert.ID)
	assert.Equal(t, []string{"HL", "HH"}, env.Alert.MatchedPattern)
}

func TestHub_ReplaysMissedAlerts(t *testing.T) {
	hub := NewHub(10)
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	first := alertFor("XAUUSD")
	second := alertFor("XAUUSD")
	ok, msg := hub.Deliver(context.Background(), first)
	assert.True(t, ok)
	assert.Equal(t, "WS OK: 0 clients", msg)
	hub.Deliver(context.Background(), second)

	conn := dial(t, srv, "?since_seq=1")
	env := readEnvelope(t, conn)
	assert.True(t, env.Replay)
	assert.Equal(t, int64(2), env.Seq)
	assert.Equal(t, second.ID, env.Alert.ID)
	assert.Equal(t, int64(2), hub.Seq())
}

func TestHub_SymbolFilter(t *testing.T) {
	hub := NewHub(10)
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	conn := dial(t, srv, "?symbol=EURUSD")
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	_, msg := hub.Deliver(context.Background(), alertFor("XAUUSD"))
	assert.Equal(t, "WS OK: 0 clients", msg)

	want := alertFor("EURUSD")
	hub.Deliver(context.Background(), want)
	env := readEnvelope(t, conn)
	assert.Equal(t, want.ID, env.Alert.ID)
	assert.Equal(t, int64(2), env.Seq)
}

func TestHub_RemoveOnDisconnect(t *testing.T) {
	hub := NewHub(10)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv, "")
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}
