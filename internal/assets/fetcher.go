package assets

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/1ureka/accesspoint/internal/protocol"
)

// HTTPFetcher downloads assets from a remote origin. Any non-2xx status is
// a failure.
type HTTPFetcher struct {
	Client *http.Client
	Source string // scheme://host[/prefix], without trailing slash
}

func (f *HTTPFetcher) Fetch(ctx context.Context, p string) (*Asset, error) {
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSuffix(f.Source, "/")+p, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("GET %s: %s", req.URL, resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", req.URL, err)
	}

	return &Asset{
		Status:  resp.StatusCode,
		Headers: protocol.HeadersFromHTTP(resp.Header),
		Body:    body,
	}, nil
}

// DirFetcher reads assets from a file system. "/" maps to index.html.
type DirFetcher struct {
	FS fs.FS
}

func (f *DirFetcher) Fetch(_ context.Context, p string) (*Asset, error) {
	name := strings.TrimPrefix(p, "/")
	if name == "" || strings.HasSuffix(name, "/") {
		name += "index.html"
	}

	body, err := fs.ReadFile(f.FS, name)
	if err != nil {
		return nil, err
	}

	contentType := mime.TypeByExtension(path.Ext(name))
	if contentType == "" {
		contentType = http.DetectContentType(body)
	}
	return &Asset{
		Status:  http.StatusOK,
		Headers: protocol.Headers{{Name: "content-type", Value: contentType}},
		Body:    body,
	}, nil
}
