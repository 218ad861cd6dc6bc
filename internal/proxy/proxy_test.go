package proxy_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/accesspoint/internal/protocol"
	"github.com/1ureka/accesspoint/internal/proxy"
)

type seen struct {
	method   string
	uri      string
	header   http.Header
	body     []byte
	bodySize int64
}

// recordingBackend answers with handler and records every request it sees.
func recordingBackend(t *testing.T, handler http.HandlerFunc) (*httptest.Server, func() []seen) {
	t.Helper()
	var mu sync.Mutex
	var calls []seen
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		calls = append(calls, seen{r.Method, r.RequestURI, r.Header.Clone(), body, r.ContentLength})
		mu.Unlock()
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []seen {
		mu.Lock()
		defer mu.Unlock()
		return append([]seen(nil), calls...)
	}
}

func newProxy(t *testing.T, backend string) *proxy.Proxy {
	t.Helper()
	p, err := proxy.New(proxy.Options{Backend: backend})
	require.NoError(t, err)
	return p
}

func ok(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte("backend says hi"))
}

func TestRewriteDefaultBackend(t *testing.T) {
	p, err := proxy.New(proxy.Options{})
	require.NoError(t, err)

	target, public, err := p.Rewrite("https://public.example/api/x?y=1")
	require.NoError(t, err)
	assert.Equal(t, "https://127.0.0.1:9000/api/x?y=1", target.String())
	assert.Equal(t, "https://public.example", public.String())

	target, _, err = p.Rewrite("https://public.example/a%2Fb?q=%20x&q=2#frag")
	require.NoError(t, err)
	assert.Equal(t, "https://127.0.0.1:9000/a%2Fb?q=%20x&q=2", target.String())
}

func TestInvalidTargetNeverReachesBackend(t *testing.T) {
	srv, calls := recordingBackend(t, ok)
	p := newProxy(t, srv.URL)

	for _, raw := range []string{"", "/relative/path", "::not a url", "mailto:someone"} {
		t.Run(raw, func(t *testing.T) {
			_, err := p.Do(context.Background(), &protocol.Request{ID: "x", URL: raw, Method: "GET"})
			assert.ErrorIs(t, err, proxy.ErrInvalidTarget)

			resp := p.Forward(context.Background(), &protocol.Request{ID: "x", URL: raw, Method: "GET"})
			assert.Equal(t, "x", resp.ID)
			assert.Equal(t, http.StatusInternalServerError, resp.Status)
			assert.Contains(t, string(resp.Body), "invalid target url")
		})
	}
	assert.Empty(t, calls())
}

func TestGetAndHeadSendNoBody(t *testing.T) {
	srv, calls := recordingBackend(t, ok)
	p := newProxy(t, srv.URL)

	for _, method := range []string{"GET", "HEAD"} {
		resp := p.Forward(context.Background(), &protocol.Request{
			ID: method, URL: "https://public.example/data", Method: method,
			Body: []byte("should not be sent"),
		})
		assert.Equal(t, http.StatusOK, resp.Status)
	}

	got := calls()
	require.Len(t, got, 2)
	for _, c := range got {
		assert.Empty(t, c.body, c.method)
		assert.Zero(t, c.bodySize, c.method)
	}
}

func TestPostForwardsBody(t *testing.T) {
	srv, calls := recordingBackend(t, ok)
	p := newProxy(t, srv.URL)

	resp := p.Forward(context.Background(), &protocol.Request{
		ID: "p", URL: "https://public.example/upload", Method: "POST",
		Body: []byte{0x00, 0x01, 0xFF},
	})
	assert.Equal(t, http.StatusOK, resp.Status)

	got := calls()
	require.Len(t, got, 1)
	assert.Equal(t, []byte{0x00, 0x01, 0xFF}, got[0].body)
}

func TestStrippedHeadersNeverReachBackend(t *testing.T) {
	srv, calls := recordingBackend(t, ok)
	p := newProxy(t, srv.URL)

	p.Forward(context.Background(), &protocol.Request{
		ID: "h", URL: "https://public.example/", Method: "GET",
		Headers: protocol.Headers{
			{Name: "Upgrade-Insecure-Requests", Value: "1"},
			{Name: "ORIGIN", Value: "https://evil.example"},
			{Name: "dnt", Value: "1"},
			{Name: "Accept", Value: "text/html"},
			{Name: "User-Agent", Value: "browser/1.0"},
			{Name: "X-Requested-With", Value: "XMLHttpRequest"},
			{Name: "X-Custom", Value: "one"},
			{Name: "Cookie", Value: "a=1"},
			{Name: "X-Custom", Value: "two"},
		},
	})

	got := calls()
	require.Len(t, got, 1)
	h := got[0].header
	for _, name := range proxy.StrippedHeaders {
		assert.Empty(t, h.Values(name), name)
	}
	assert.Equal(t, []string{"one", "two"}, h.Values("X-Custom"))
	assert.Equal(t, "a=1", h.Get("Cookie"))
}

func TestNativeResponsePassesThrough(t *testing.T) {
	srv, calls := recordingBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("Set-Cookie", "a=1")
		w.Header().Add("Set-Cookie", "b=2")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte("made"))
	})
	p := newProxy(t, srv.URL)

	resp, err := p.Do(context.Background(), &protocol.Request{ID: "r1", URL: "https://public.example/api/x?y=1", Method: "GET"})
	require.NoError(t, err)

	assert.Equal(t, "/api/x?y=1", calls()[0].uri)
	assert.Equal(t, "r1", resp.ID)
	assert.Equal(t, http.StatusCreated, resp.Status)
	assert.Equal(t, "Created", resp.StatusText)
	assert.False(t, resp.Redirected)
	assert.Equal(t, "https://public.example/api/x?y=1", resp.URL)
	assert.Equal(t, []string{"a=1", "b=2"}, resp.Headers.Values("Set-Cookie"))
	assert.Equal(t, "made", string(resp.Body))
}

func TestRedirectBecomes302OnPublicOrigin(t *testing.T) {
	testCases := []struct {
		name     string
		location string
		want     string
	}{
		{"relative", "/login?next=%2Fapi", "https://public.example/login?next=%2Fapi"},
		{"sibling", "y?z=1", "https://public.example/api/y?z=1"},
		{"absolute on backend", "http://127.0.0.1:1/moved", "https://public.example/moved"},
		{"external host", "https://elsewhere.example/out?q=1", "https://public.example/out?q=1"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			srv, _ := recordingBackend(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Location", tc.location)
				w.WriteHeader(http.StatusMovedPermanently)
				w.Write([]byte("moved"))
			})
			p := newProxy(t, srv.URL)

			resp, err := p.Do(context.Background(), &protocol.Request{ID: "r1", URL: "https://public.example/api/x?y=1", Method: "GET"})
			require.NoError(t, err)

			assert.Equal(t, http.StatusFound, resp.Status)
			assert.True(t, resp.Redirected)
			assert.Equal(t, tc.want, resp.Headers.Get("location"))
			assert.Len(t, resp.Headers.Values("location"), 1)
			assert.Equal(t, tc.want, resp.URL)
			assert.Equal(t, "moved", string(resp.Body))
		})
	}
}

func TestRedirectToSelfIsNative(t *testing.T) {
	testCases := []struct {
		name     string
		absolute bool
	}{
		{"relative location", false},
		{"absolute backend location", true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var backend string
			srv, _ := recordingBackend(t, func(w http.ResponseWriter, r *http.Request) {
				loc := r.URL.RequestURI()
				if tc.absolute {
					loc = backend + loc
				}
				w.Header().Set("Location", loc)
				w.WriteHeader(http.StatusTemporaryRedirect)
			})
			backend = srv.URL
			p := newProxy(t, srv.URL)

			resp, err := p.Do(context.Background(), &protocol.Request{ID: "s", URL: "https://public.example/loop?a=1", Method: "GET"})
			require.NoError(t, err)
			assert.Equal(t, http.StatusTemporaryRedirect, resp.Status)
			assert.False(t, resp.Redirected)
			assert.Equal(t, "https://public.example/loop?a=1", resp.Headers.Get("location"))
			assert.Len(t, resp.Headers.Values("location"), 1)
		})
	}
}

func TestNativeLocationMovesToPublicOrigin(t *testing.T) {
	var backend string
	srv, _ := recordingBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", backend+"/items/7")
		w.WriteHeader(http.StatusCreated)
	})
	backend = srv.URL
	p := newProxy(t, srv.URL)

	resp, err := p.Do(context.Background(), &protocol.Request{ID: "c", URL: "https://public.example/items", Method: "POST", Body: []byte("{}")})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.Status)
	assert.Equal(t, "https://public.example/items/7", resp.Headers.Get("location"))
}

func TestUnparseableLocationIsDropped(t *testing.T) {
	srv, _ := recordingBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "http://[::1")
		w.WriteHeader(http.StatusCreated)
	})
	p := newProxy(t, srv.URL)

	resp, err := p.Do(context.Background(), &protocol.Request{ID: "d", URL: "https://public.example/x", Method: "POST"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.Status)
	assert.False(t, resp.Redirected)
	assert.Empty(t, resp.Headers.Values("location"))
}

func TestUnreachableBackendGives500(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(ok))
	backend := srv.URL
	srv.Close()

	p := newProxy(t, backend)
	req := &protocol.Request{ID: "u", URL: "https://public.example/x", Method: "GET"}

	_, err := p.Do(context.Background(), req)
	var te *proxy.TransportError
	require.True(t, errors.As(err, &te))
	assert.Contains(t, te.Target, "/x")

	resp := p.Forward(context.Background(), req)
	assert.Equal(t, "u", resp.ID)
	assert.Equal(t, http.StatusInternalServerError, resp.Status)
	assert.Equal(t, "text/plain; charset=utf-8", resp.Headers.Get("content-type"))
	assert.Equal(t, err.Error(), string(resp.Body))
}

func TestInsecureBackendTLS(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(ok))
	defer srv.Close()
	req := &protocol.Request{ID: "t", URL: "https://public.example/", Method: "GET"}

	strict := newProxy(t, srv.URL)
	_, err := strict.Do(context.Background(), req)
	var te *proxy.TransportError
	assert.True(t, errors.As(err, &te))

	lax, err := proxy.New(proxy.Options{Backend: srv.URL, InsecureSkipVerify: true})
	require.NoError(t, err)
	resp, err := lax.Do(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "backend says hi", string(resp.Body))
}
