package relay

import (
	"context"
	"io"
	"net/http"
	"net/url"

	"github.com/1ureka/accesspoint/internal/protocol"
	"github.com/1ureka/accesspoint/internal/proxy"
	"github.com/1ureka/accesspoint/internal/router"
	"github.com/1ureka/accesspoint/internal/util"
)

// Service is the request pipeline shared by every Connection and by the
// HTTP intercept: the router answers companion and keep-alive paths, the
// backend proxy everything else.
type Service struct {
	Router *router.Router
	Proxy  *proxy.Proxy
}

// Serve answers req. It implements Responder.
func (s *Service) Serve(ctx context.Context, req *protocol.Request) (*protocol.Response, bool) {
	path := ""
	if u, err := url.Parse(req.URL); err == nil {
		path = u.Path
	}

	d := s.Router.Route(path)
	if d.Kind == router.Proxy {
		return s.Proxy.Forward(ctx, req), true
	}
	util.LogDebug("%s %s answered locally (%s)", req.Method, req.URL, d.Kind)
	return s.Router.Respond(ctx, d, req)
}

// ServeHTTP runs a plain HTTP request through the same pipeline.
func (s *Service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	req := &protocol.Request{
		ID:      "http",
		URL:     requestURL(r),
		Method:  r.Method,
		Headers: protocol.HeadersFromHTTP(r.Header),
		Body:    body,
	}
	resp, ok := s.Serve(r.Context(), req)
	if !ok {
		return
	}
	protocol.WriteHTTP(w, resp)
}

// requestURL reconstructs the absolute public URL of r.
func requestURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if p := r.Header.Get("X-Forwarded-Proto"); p == "http" || p == "https" {
		scheme = p
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}
