// Package router decides how the relay answers a request path before any
// backend traffic happens.
package router

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/1ureka/accesspoint/internal/assets"
	"github.com/1ureka/accesspoint/internal/protocol"
)

// Kind is the outcome of routing a path.
type Kind int

const (
	Proxy Kind = iota
	CacheHit
	NotFound
	KeepAlive
)

func (k Kind) String() string {
	switch k {
	case CacheHit:
		return "cache-hit"
	case NotFound:
		return "not-found"
	case KeepAlive:
		return "keep-alive"
	default:
		return "proxy"
	}
}

// DefaultKeepAliveDelay is how long a keep-alive request is held before its
// redirect is returned.
const DefaultKeepAliveDelay = 60 * time.Second

const notFoundBody = "<h1>Page Not Found</h1>"

// Decision is the result of Route. Asset is set for CacheHit and Path for
// KeepAlive.
type Decision struct {
	Kind  Kind
	Asset *assets.Asset
	Path  string
}

// Router answers companion and keep-alive paths locally.
type Router struct {
	Store          *assets.Store
	KeepAliveDelay time.Duration
}

// New returns a Router over store with the default keep-alive delay.
func New(store *assets.Store) *Router {
	return &Router{Store: store, KeepAliveDelay: DefaultKeepAliveDelay}
}

// Route classifies a request path.
func (r *Router) Route(path string) Decision {
	switch {
	case path == "/keep-alive/ping", path == "/keep-alive/pong":
		return Decision{Kind: KeepAlive, Path: path}
	case isCompanion(path):
		if a, ok := r.Store.Lookup(path); ok {
			return Decision{Kind: CacheHit, Asset: a}
		}
		return Decision{Kind: NotFound}
	default:
		return Decision{Kind: Proxy}
	}
}

func isCompanion(path string) bool {
	return path == "/" || path == "/main.js" || path == "/companion" || strings.HasPrefix(path, "/companion/")
}

// Respond builds the local response for a CacheHit, NotFound or KeepAlive
// decision. KeepAlive blocks for the configured delay, or until ctx is done,
// in which case ok is false and no response should be sent.
func (r *Router) Respond(ctx context.Context, d Decision, req *protocol.Request) (resp *protocol.Response, ok bool) {
	switch d.Kind {
	case CacheHit:
		return &protocol.Response{
			ID:         req.ID,
			URL:        req.URL,
			Status:     d.Asset.Status,
			StatusText: http.StatusText(d.Asset.Status),
			Headers:    d.Asset.Headers,
			Body:       d.Asset.Body,
		}, true

	case NotFound:
		return &protocol.Response{
			ID:         req.ID,
			URL:        req.URL,
			Status:     http.StatusNotFound,
			StatusText: http.StatusText(http.StatusNotFound),
			Headers:    protocol.Headers{{Name: "content-type", Value: "text/html"}},
			Body:       []byte(notFoundBody),
		}, true

	case KeepAlive:
		timer := time.NewTimer(r.KeepAliveDelay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, false
		}
		return &protocol.Response{
			ID:         req.ID,
			URL:        req.URL,
			Status:     http.StatusFound,
			StatusText: http.StatusText(http.StatusFound),
			Headers:    protocol.Headers{{Name: "location", Value: keepAliveLocation(req.URL, d.Path)}},
			Body:       []byte{},
		}, true
	}
	return nil, false
}

// keepAliveLocation resolves the keep-alive path against the request URL.
func keepAliveLocation(requestURL, path string) string {
	base, err := url.Parse(requestURL)
	if err != nil || !base.IsAbs() {
		return path
	}
	return base.ResolveReference(&url.URL{Path: path}).String()
}
