// Package proxy forwards request envelopes to the loopback backend service
// and maps its answers back onto the public origin.
package proxy

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/jpillora/sizestr"

	"github.com/1ureka/accesspoint/internal/protocol"
	"github.com/1ureka/accesspoint/internal/util"
)

// DefaultBackend is the loopback service requests are forwarded to.
const DefaultBackend = "https://127.0.0.1:9000"

// StrippedHeaders never reach the backend.
var StrippedHeaders = []string{
	"upgrade-insecure-requests",
	"origin",
	"dnt",
	"accept",
	"user-agent",
	"x-requested-with",
}

// Options configures a Proxy.
type Options struct {
	Backend            string // scheme://host[:port]; DefaultBackend when empty
	InsecureSkipVerify bool   // accept self-signed backend certificates
	Transport          http.RoundTripper
}

// Proxy forwards envelopes to one backend.
type Proxy struct {
	backend *url.URL
	client  *http.Client
}

// New returns a Proxy for opts.Backend. The client never follows redirects;
// they are translated by Do instead.
func New(opts Options) (*Proxy, error) {
	raw := opts.Backend
	if raw == "" {
		raw = DefaultBackend
	}
	backend, err := url.Parse(raw)
	if err != nil || backend.Scheme == "" || backend.Host == "" {
		return nil, fmt.Errorf("invalid backend %q", raw)
	}

	transport := opts.Transport
	if transport == nil {
		t := http.DefaultTransport.(*http.Transport).Clone()
		if opts.InsecureSkipVerify {
			t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		}
		transport = t
	}

	return &Proxy{
		backend: backend,
		client: &http.Client{
			Transport: transport,
			// do not follow redirects, and instead pass them back to the caller
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}, nil
}

// Backend returns the backend base URL.
func (p *Proxy) Backend() *url.URL { return p.backend }

// Rewrite maps a public request URL onto the backend, keeping path and query
// exactly. It returns the target and the public origin of the request.
func (p *Proxy) Rewrite(rawURL string) (target, public *url.URL, err error) {
	if rawURL == "" {
		return nil, nil, fmt.Errorf("%w: empty url", ErrInvalidTarget)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}
	if !u.IsAbs() || u.Host == "" {
		return nil, nil, fmt.Errorf("%w: %q is not absolute", ErrInvalidTarget, rawURL)
	}
	return withOrigin(u, p.backend), &url.URL{Scheme: u.Scheme, Host: u.Host}, nil
}

// withOrigin returns u's path and query on origin's scheme and host.
func withOrigin(u, origin *url.URL) *url.URL {
	return &url.URL{
		Scheme:     origin.Scheme,
		Host:       origin.Host,
		Path:       u.Path,
		RawPath:    u.RawPath,
		RawQuery:   u.RawQuery,
		ForceQuery: u.ForceQuery,
	}
}

// Forward is Do with every error turned into a 500 response carrying the
// error text. It never fails.
func (p *Proxy) Forward(ctx context.Context, req *protocol.Request) *protocol.Response {
	resp, err := p.Do(ctx, req)
	if err != nil {
		util.LogWarning("proxy %s %s: %v", req.Method, req.URL, err)
		return &protocol.Response{
			ID:         req.ID,
			URL:        req.URL,
			Status:     http.StatusInternalServerError,
			StatusText: http.StatusText(http.StatusInternalServerError),
			Headers:    protocol.Headers{{Name: "content-type", Value: "text/plain; charset=utf-8"}},
			Body:       []byte(err.Error()),
		}
	}
	return resp
}

// Do sends req to the backend. Errors wrap ErrInvalidTarget or are a
// *TransportError.
func (p *Proxy) Do(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	target, public, err := p.Rewrite(req.URL)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		body = bytes.NewReader(req.Body)
	}

	out, err := http.NewRequestWithContext(ctx, req.Method, target.String(), body)
	if err != nil {
		return nil, &TransportError{Target: target.String(), Err: err}
	}
	req.Headers.Without(StrippedHeaders...).Apply(out.Header)
	// An empty User-Agent suppresses net/http's default one.
	out.Header["User-Agent"] = []string{""}

	util.LogDebug("proxy %s %s -> %s", req.Method, req.URL, target)
	resp, err := p.client.Do(out)
	if err != nil {
		return nil, &TransportError{Target: target.String(), Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Target: target.String(), Err: err}
	}

	served := target
	if resp.StatusCode >= 300 && resp.StatusCode < 400 {
		if loc := resp.Header.Get("Location"); loc != "" {
			if ref, err := url.Parse(loc); err == nil {
				served = target.ResolveReference(ref)
			}
		}
	}
	servedPublic := withOrigin(served, public)
	headers := protocol.HeadersFromHTTP(resp.Header)

	if served.String() != target.String() {
		util.LogDebug("proxy %s redirected to %s", target, served)
		return &protocol.Response{
			ID:         req.ID,
			URL:        servedPublic.String(),
			Redirected: true,
			Status:     http.StatusFound,
			StatusText: http.StatusText(http.StatusFound),
			Headers:    headers.Set("location", servedPublic.String()),
			Body:       data,
		}, nil
	}

	if loc := resp.Header.Get("Location"); loc != "" {
		headers = publicLocation(headers, loc, target, public)
	}

	util.LogDebug("proxy %s answered %d (%s)", target, resp.StatusCode, sizestr.ToString(int64(len(data))))
	return &protocol.Response{
		ID:         req.ID,
		URL:        servedPublic.String(),
		Status:     resp.StatusCode,
		StatusText: statusText(resp),
		Headers:    headers,
		Body:       data,
	}, nil
}

// publicLocation moves a native Location header onto the public origin so
// the backend address never leaks. An unparseable Location is dropped.
func publicLocation(headers protocol.Headers, loc string, target, public *url.URL) protocol.Headers {
	ref, err := url.Parse(loc)
	if err != nil {
		util.LogDebug("proxy dropping unparseable location %q", loc)
		return headers.Without("location")
	}
	return headers.Set("location", withOrigin(target.ResolveReference(ref), public).String())
}

// statusText returns the backend's reason phrase.
func statusText(resp *http.Response) string {
	text := strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode))
	text = strings.TrimSpace(text)
	if text == "" {
		return http.StatusText(resp.StatusCode)
	}
	return text
}
