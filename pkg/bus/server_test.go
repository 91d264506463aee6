package bus

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sporket-dev/sporket/pkg/envelope"
	"github.com/sporket-dev/sporket/pkg/sporket"
)

const testPassword = "correct-password"

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	cfg := DefaultServerConfig()
	cfg.Password = testPassword
	srv := New(cfg)

	httpSrv := httptest.NewServer(srv.Handler())
	t.Cleanup(httpSrv.Close)
	return srv, httpSrv
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func connectClient(t *testing.T, wsURL, password string) (*sporket.Sporket, chan envelope.Payload) {
	msgs := make(chan envelope.Payload, 16)
	authed := make(chan struct{}, 1)

	c := sporket.New(sporket.Config{URL: wsURL, Password: password}, sporket.Handlers{
		OnAuthenticated: func() {
			select {
			case authed <- struct{}{}:
			default:
			}
		},
		OnMessage: func(p envelope.Payload) { msgs <- p },
	})

	require.NoError(t, c.Connect())
	t.Cleanup(c.Disconnect)

	select {
	case <-authed:
	case <-time.After(2 * time.Second):
		t.Fatal("handshake did not complete")
	}

	return c, msgs
}

func TestHandshakeSucceedsWithCorrectPassword(t *testing.T) {
	_, httpSrv := newTestServer(t)
	c, _ := connectClient(t, wsURL(httpSrv.URL), testPassword)
	assert.True(t, c.IsAuthenticated())
	assert.NotEmpty(t, c.UUID())
}

func TestHandshakeFailsWithWrongPassword(t *testing.T) {
	_, httpSrv := newTestServer(t)

	closed := make(chan struct{}, 1)
	c := sporket.New(sporket.Config{URL: wsURL(httpSrv.URL), Password: "wrong"}, sporket.Handlers{
		OnDisconnect: func() { closed <- struct{}{} },
		OnClose:      func() { closed <- struct{}{} },
	})
	require.NoError(t, c.Connect())
	t.Cleanup(c.Disconnect)

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("expected client to disconnect after bad challenge")
	}
	assert.False(t, c.IsAuthenticated())
}

func TestSendDataRoundTrip(t *testing.T) {
	srv, httpSrv := newTestServer(t)

	received := make(chan envelope.Payload, 1)
	srv.OnMessage(func(c *ServerClient, p envelope.Payload) {
		received <- p
	})

	c, _ := connectClient(t, wsURL(httpSrv.URL), testPassword)

	ok := c.SendData(envelope.Payload{"hello": "world"})
	require.True(t, ok)

	select {
	case p := <-received:
		assert.Equal(t, "world", p.String("hello"))
	case <-time.After(2 * time.Second):
		t.Fatal("server did not receive message")
	}
}

func TestBroadcastReachesAllAuthenticatedClients(t *testing.T) {
	srv, httpSrv := newTestServer(t)

	const n = 5
	var wg sync.WaitGroup
	wg.Add(n)

	for i := 0; i < n; i++ {
		_, msgs := connectClient(t, wsURL(httpSrv.URL), testPassword)
		go func() {
			defer wg.Done()
			select {
			case p := <-msgs:
				assert.Equal(t, "hi", p.String("greeting"))
			case <-time.After(2 * time.Second):
				t.Error("did not receive broadcast")
			}
		}()
	}

	require.Eventually(t, func() bool {
		return srv.Registry().Len() == n
	}, 2*time.Second, 10*time.Millisecond)

	sent := srv.Send(envelope.Payload{"greeting": "hi"})
	assert.Equal(t, n, sent)

	wg.Wait()
}

func TestSendToUnknownUUIDReturnsFalse(t *testing.T) {
	srv, _ := newTestServer(t)
	assert.False(t, srv.SendTo("does-not-exist", envelope.Payload{}))
}

func TestListenTwiceReturnsErrAlreadyListening(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.Port = 19237 // fixed high port: Port's zero value is a valid config, not "pick any port"
	srv := New(cfg)

	go srv.Listen()
	t.Cleanup(func() { srv.Close(context.Background()) })
	time.Sleep(10 * time.Millisecond)

	err := srv.Listen()
	assert.ErrorIs(t, err, ErrAlreadyListening)
}
