package socket

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// closingServer accepts a WebSocket upgrade and immediately closes the
// connection, counting how many times it was hit.
func closingServer(t *testing.T) (*httptest.Server, *atomic.Int32) {
	var hits atomic.Int32
	var upgrader websocket.Upgrader
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		conn.Close()
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func TestAttemptCap(t *testing.T) {
	// The server refuses every upgrade, so every dial fails and no
	// successful open resets the attempt counter.
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	t.Cleanup(srv.Close)

	sock := New(wsURL(srv.URL), Config{
		AutoConnect: true,
		MaxAttempts: 3,
		MinWaitTime: 10 * time.Millisecond,
		MaxWaitTime: 40 * time.Millisecond,
		WaitExtend:  10 * time.Millisecond,
	}, Handlers{})

	require.Error(t, sock.Connect())

	require.Eventually(t, func() bool {
		return sock.State() == StateTerminal
	}, 2*time.Second, 5*time.Millisecond, "timed out waiting for reconnects to stop")

	// Give the scheduler a moment to decide not to reconnect further.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, StateTerminal, sock.State())
	assert.LessOrEqual(t, int(hits.Load()), 4, "should not dial substantially more than maxAttempts times")
}

func TestReconnectWaitsAtLeastMinWaitTime(t *testing.T) {
	srv, _ := closingServer(t)

	var closeTimes []time.Time
	closedAt := make(chan time.Time, 64)
	sock := New(wsURL(srv.URL), Config{
		AutoConnect: true,
		MaxAttempts: 4,
		MinWaitTime: 30 * time.Millisecond,
		MaxWaitTime: 100 * time.Millisecond,
		WaitExtend:  20 * time.Millisecond,
	}, Handlers{
		OnClose: func() { closedAt <- time.Now() },
	})
	start := time.Now()
	require.NoError(t, sock.Connect())

	for i := 0; i < 4; i++ {
		select {
		case ts := <-closedAt:
			closeTimes = append(closeTimes, ts)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for close events")
		}
	}

	// Every dial here succeeds before the server closes it, and each open
	// resets waitTime to MinWaitTime, so the gaps between closes do not
	// grow. We only assert that the second close comes no sooner than
	// MinWaitTime after start (less slack for timer jitter).
	require.True(t, closeTimes[1].Sub(start) >= 25*time.Millisecond)
}

func TestDisconnectSuppressesReconnect(t *testing.T) {
	srv, hits := closingServer(t)

	sock := New(wsURL(srv.URL), Config{
		AutoConnect: true,
		MaxAttempts: 10,
		MinWaitTime: 5 * time.Millisecond,
		MaxWaitTime: 10 * time.Millisecond,
		WaitExtend:  5 * time.Millisecond,
	}, Handlers{})

	require.NoError(t, sock.Connect())
	time.Sleep(20 * time.Millisecond)
	sock.Disconnect()

	settled := hits.Load()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, settled, hits.Load(), "no further dials after Disconnect")
	assert.Equal(t, StateClosed, sock.State())
}

func TestSendJSONDropsWhenNotOpen(t *testing.T) {
	sock := New("ws://unused.invalid/", DefaultConfig(), Handlers{})
	err := sock.SendJSON(map[string]any{"a": 1})
	assert.ErrorIs(t, err, ErrNotOpen)
}
