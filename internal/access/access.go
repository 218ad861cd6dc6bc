// Package access decides which origins may open a relay channel.
package access

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/1ureka/accesspoint/internal/util"
)

// ErrOriginNotAllowed is returned for handshakes the relay must refuse.
var ErrOriginNotAllowed = errors.New("origin not allowed")

// Wildcard admits any well-formed origin.
const Wildcard = "*"

// File is the YAML shape of an allow-list file.
type File struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// List is an origin allow-list. An empty list admits nothing. Entries come
// from static configuration plus an optional file that can be reloaded.
type List struct {
	mu         sync.RWMutex
	configFile string
	static     map[string]bool
	fromFile   map[string]bool
}

// NewList builds a list from static entries and, when configFile is not
// empty, the entries of that file.
func NewList(origins []string, configFile string) (*List, error) {
	static, err := normalizeAll(origins)
	if err != nil {
		return nil, err
	}
	l := &List{configFile: configFile, static: static, fromFile: map[string]bool{}}
	if configFile != "" {
		if err := l.Reload(); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// Reload re-reads the allow-list file. On failure the previous entries stay.
func (l *List) Reload() error {
	if l.configFile == "" {
		return nil
	}
	data, err := os.ReadFile(l.configFile)
	if err != nil {
		return fmt.Errorf("failed to read allow-list: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("failed to parse allow-list: %w", err)
	}
	entries, err := normalizeAll(f.AllowedOrigins)
	if err != nil {
		return fmt.Errorf("allow-list %s: %w", l.configFile, err)
	}

	l.mu.Lock()
	l.fromFile = entries
	l.mu.Unlock()

	util.LogInfo("loaded %d allowed origins from %s", len(entries), l.configFile)
	return nil
}

// Len returns the number of distinct entries.
func (l *List) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := len(l.static)
	for o := range l.fromFile {
		if !l.static[o] {
			n++
		}
	}
	return n
}

// Check validates a handshake. declared is the origin the Connector claims;
// headerOrigin is the HTTP Origin header of the upgrade request, if any,
// and must name the same origin. It returns the normalized origin.
func (l *List) Check(declared, headerOrigin string) (string, error) {
	origin, err := Normalize(declared)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrOriginNotAllowed, err)
	}
	if headerOrigin != "" {
		fromHeader, err := Normalize(headerOrigin)
		if err != nil || fromHeader != origin {
			return "", fmt.Errorf("%w: declared %s but request came from %s", ErrOriginNotAllowed, origin, headerOrigin)
		}
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.static[Wildcard] || l.fromFile[Wildcard] || l.static[origin] || l.fromFile[origin] {
		return origin, nil
	}
	return "", fmt.Errorf("%w: %s", ErrOriginNotAllowed, origin)
}

// Normalize reduces an origin to lower-case scheme://host[:port], dropping
// the scheme's default port. Paths other than "/", queries, fragments and
// user info are rejected.
func Normalize(origin string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(origin))
	if err != nil {
		return "", fmt.Errorf("malformed origin %q", origin)
	}
	if u.Scheme == "" || u.Host == "" || u.User != nil ||
		(u.Path != "" && u.Path != "/") || u.RawQuery != "" || u.Fragment != "" {
		return "", fmt.Errorf("malformed origin %q", origin)
	}

	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if (scheme == "https" && port == "443") || (scheme == "http" && port == "80") {
		port = ""
	}
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if port != "" {
		host += ":" + port
	}
	return scheme + "://" + host, nil
}

func normalizeAll(origins []string) (map[string]bool, error) {
	out := make(map[string]bool, len(origins))
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o == Wildcard {
			out[Wildcard] = true
			continue
		}
		n, err := Normalize(o)
		if err != nil {
			return nil, err
		}
		out[n] = true
	}
	return out, nil
}
