// Package assets holds the companion cache: a small set of static documents
// fetched once at activation and served read-only afterwards.
package assets

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/jpillora/sizestr"

	"github.com/1ureka/accesspoint/internal/protocol"
	"github.com/1ureka/accesspoint/internal/util"
)

// ErrInitFailure is returned when the store cannot be populated. The store
// keeps its previous contents.
var ErrInitFailure = errors.New("asset store initialization failed")

// DefaultManifest lists the paths cached at activation.
var DefaultManifest = []string{
	"/",
	"/main.js",
	"/companion/embed.js",
	"/companion/service.js",
}

const (
	indexFile       = "index.json"
	compressMinSize = 1024
)

// Asset is one cached document.
type Asset struct {
	Path    string
	Status  int
	Headers protocol.Headers
	Body    []byte
}

// Fetcher retrieves the document stored under a manifest path.
type Fetcher interface {
	Fetch(ctx context.Context, path string) (*Asset, error)
}

// Store maps request paths to assets. Reads are lock-free; Populate swaps in
// a complete new snapshot.
type Store struct {
	dir  string
	mu   sync.Mutex // serialises Populate
	snap atomic.Pointer[map[string]*Asset]
}

type indexEntry struct {
	Path       string           `json:"path"`
	File       string           `json:"file"`
	Compressed bool             `json:"compressed"`
	Size       int              `json:"size"`
	Status     int              `json:"status"`
	Headers    protocol.Headers `json:"headers"`
}

// Open returns a store persisted under dir, reloading a previous population
// if one exists. An empty dir gives a memory-only store.
func Open(dir string) (*Store, error) {
	s := &Store{dir: dir}
	empty := map[string]*Asset{}
	s.snap.Store(&empty)

	if dir == "" {
		return s, nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	entries, err := s.readIndex()
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading asset index: %w", err)
	}

	loaded := make(map[string]*Asset, len(entries))
	for _, e := range entries {
		body, err := s.readBlob(e)
		if err != nil {
			return nil, fmt.Errorf("reading cached %s: %w", e.Path, err)
		}
		loaded[e.Path] = &Asset{Path: e.Path, Status: e.Status, Headers: e.Headers, Body: body}
	}
	s.snap.Store(&loaded)
	util.LogDebug("loaded %d cached assets from %s", len(loaded), dir)
	return s, nil
}

// Lookup returns the asset stored under exactly path.
func (s *Store) Lookup(path string) (*Asset, bool) {
	a, ok := (*s.snap.Load())[path]
	return a, ok
}

// Len returns the number of stored assets.
func (s *Store) Len() int {
	return len(*s.snap.Load())
}

// Populate fetches every manifest path and commits them together. If any
// fetch (or the write to disk) fails, nothing is committed and the returned
// error wraps ErrInitFailure.
func (s *Store) Populate(ctx context.Context, f Fetcher, manifest []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[string]*Asset, len(manifest))
	var total int64
	for _, path := range manifest {
		a, err := f.Fetch(ctx, path)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInitFailure, path, err)
		}
		a.Path = path
		next[path] = a
		total += int64(len(a.Body))
	}

	if s.dir != "" {
		if err := s.persist(manifest, next); err != nil {
			return fmt.Errorf("%w: %v", ErrInitFailure, err)
		}
	}

	s.snap.Store(&next)
	util.LogInfo("cached %d assets (%s)", len(next), sizestr.ToString(total))
	return nil
}

// persist writes content-addressed blobs first and the index last, so a
// crash leaves the previous index valid.
func (s *Store) persist(manifest []string, assets map[string]*Asset) error {
	entries := make([]indexEntry, 0, len(manifest))
	for _, path := range manifest {
		a := assets[path]
		data := a.Body
		compressed := false
		if len(data) > compressMinSize {
			if c, err := compress(data); err == nil && len(c) < len(data) {
				data = c
				compressed = true
			}
		}

		sum := sha256.Sum256(data)
		name := hex.EncodeToString(sum[:])
		if err := os.WriteFile(filepath.Join(s.dir, name), data, 0644); err != nil {
			return err
		}
		entries = append(entries, indexEntry{
			Path:       path,
			File:       name,
			Compressed: compressed,
			Size:       len(a.Body),
			Status:     a.Status,
			Headers:    a.Headers,
		})
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	tmp := filepath.Join(s.dir, indexFile+".tmp")
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(s.dir, indexFile))
}

func (s *Store) readIndex() ([]indexEntry, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, indexFile))
	if err != nil {
		return nil, err
	}
	var entries []indexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) readBlob(e indexEntry) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, e.File))
	if err != nil {
		return nil, err
	}
	if e.Compressed {
		return decompress(data)
	}
	return data, nil
}

// compress gzips data.
func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)

	if _, err := gz.Write(data); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decompress reverses compress.
func decompress(data []byte) ([]byte, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer gz.Close()

	return io.ReadAll(gz)
}
