package connector_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/accesspoint/internal/assets"
	"github.com/1ureka/accesspoint/internal/config"
	"github.com/1ureka/accesspoint/internal/connector"
	"github.com/1ureka/accesspoint/internal/protocol"
	"github.com/1ureka/accesspoint/internal/relay"
)

const embedder = "https://embedder.example"

// startRelay runs an activated relay in front of a small backend and
// returns its /connect URL.
func startRelay(t *testing.T) string {
	t.Helper()
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "backend "+r.URL.RequestURI())
	}))
	t.Cleanup(backend.Close)

	cfg := config.Default()
	cfg.Backend = backend.URL
	cfg.AllowedOrigins = []string{embedder}
	cfg.HeartbeatInterval = 20 * time.Millisecond
	cfg.KeepAliveDelay = 10 * time.Millisecond

	fetcher := &assets.DirFetcher{FS: fstest.MapFS{
		"index.html":           {Data: []byte("home")},
		"main.js":              {Data: []byte("main")},
		"companion/embed.js":   {Data: []byte("embed")},
		"companion/service.js": {Data: []byte("service")},
	}}
	s, err := relay.New(cfg, fetcher)
	require.NoError(t, err)
	require.NoError(t, s.Init(context.Background()))
	require.NoError(t, s.Activate(context.Background()))

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	t.Cleanup(s.Shutdown)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/connect"
}

type stateLog struct {
	mu     sync.Mutex
	states []connector.State
}

func (l *stateLog) record(s connector.State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states = append(l.states, s)
}

func (l *stateLog) get() []connector.State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]connector.State(nil), l.states...)
}

func TestConnectorLifecycle(t *testing.T) {
	url := startRelay(t)
	log := &stateLog{}

	c, err := connector.Dial(context.Background(), connector.Options{
		Relay:        url,
		Origin:       embedder,
		PublicOrigin: "https://public.example",
		OnState:      log.record,
	})
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	handler, err := c.Activate(ctx)
	require.NoError(t, err)
	assert.Equal(t, connector.StateActive, c.State())

	assert.Equal(t, []connector.State{
		connector.StateRegistering,
		connector.StateAwaitingControl,
		connector.StateControlled,
		connector.StateActive,
	}, log.get())

	resp, err := c.Do(ctx, &protocol.Request{URL: "https://public.example/api/x?y=1", Method: "GET"})
	require.NoError(t, err)
	assert.Equal(t, "backend /api/x?y=1", string(resp.Body))

	local := httptest.NewServer(handler)
	defer local.Close()
	httpResp, err := http.Get(local.URL + "/main.js")
	require.NoError(t, err)
	body, _ := io.ReadAll(httpResp.Body)
	httpResp.Body.Close()
	assert.Equal(t, "main", string(body))
}

func TestConnectorKeepAliveThroughRelay(t *testing.T) {
	url := startRelay(t)
	c, err := connector.Dial(context.Background(), connector.Options{Relay: url, Origin: embedder, PublicOrigin: "https://public.example"})
	require.NoError(t, err)
	defer c.Close()

	resp, err := c.Do(context.Background(), &protocol.Request{URL: "https://public.example/keep-alive/pong", Method: "GET"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusFound, resp.Status)
	assert.Equal(t, "https://public.example/keep-alive/pong", resp.Headers.Get("location"))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	c.KeepAlive(ctx)
	assert.Equal(t, context.DeadlineExceeded, ctx.Err())
}

func TestRefusedOriginBecomesUnreachable(t *testing.T) {
	url := startRelay(t)
	log := &stateLog{}

	c, err := connector.Dial(context.Background(), connector.Options{Relay: url, Origin: "https://stranger.example", OnState: log.record})
	require.NoError(t, err)

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("refused channel not closed")
	}
	assert.Eventually(t, func() bool { return c.State() == connector.StateUnreachable }, time.Second, 10*time.Millisecond)
	_, err = c.Do(context.Background(), &protocol.Request{URL: "https://public.example/", Method: "GET"})
	assert.ErrorIs(t, err, connector.ErrClosed)
}

func TestDialFailure(t *testing.T) {
	log := &stateLog{}
	_, err := connector.Dial(context.Background(), connector.Options{Relay: "ws://127.0.0.1:1/connect", Origin: embedder, OnState: log.record})
	require.Error(t, err)
	assert.Equal(t, []connector.State{connector.StateUnreachable}, log.get())
}
