package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

// newTestConnPair returns the server and client ends of a live WebSocket.
func newTestConnPair(t *testing.T) (*websocket.Conn, *websocket.Conn) {
	t.Helper()

	upgrader := websocket.Upgrader{}
	serverConns := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		serverConns <- conn
	}))
	t.Cleanup(srv.Close)

	client, _, err := websocket.DefaultDialer.Dial(wsURL(srv.URL, ""), nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	select {
	case server := <-serverConns:
		t.Cleanup(func() { server.Close() })
		return server, client
	case <-time.After(2 * time.Second):
		t.Fatal("server side of the connection never arrived")
		return nil, nil
	}
}

func wsURL(httpURL, path string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http") + path
}

// startRelayServer serves the monitor and management endpoints backed by a
// running relay.
func startRelayServer(t *testing.T, allowedOrigins []string) (string, *Relay) {
	t.Helper()

	m := newTestMetrics()
	r := New(NewRegistry(), NewDispatcher(m), m)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	h := NewHandler(r, clockwork.NewRealClock(), DefaultConnOptions(), allowedOrigins)
	mux := http.NewServeMux()
	mux.HandleFunc("/monitor", h.ServeMonitor)
	mux.HandleFunc("/management", h.ServeManagement)
	srv := httptest.NewServer(mux)

	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-done
	})

	return srv.URL, r
}

func dial(t *testing.T, baseURL, path string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(baseURL, path), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readEvent reads one envelope from conn with a short deadline.
func readEvent(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, frame, err := conn.ReadMessage()
	require.NoError(t, err)
	msg, err := decode(frame)
	require.NoError(t, err)
	return msg
}

// readID reads one envelope and returns its string payload after checking
// the event name.
func readID(t *testing.T, conn *websocket.Conn, event string) string {
	t.Helper()
	msg := readEvent(t, conn)
	require.Equal(t, event, msg.Event)
	var id string
	require.NoError(t, json.Unmarshal(msg.Data, &id))
	return id
}

func waitForStats(r *Relay, want Stats) bool {
	for range 200 {
		if r.Stats() == want {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}
