// Package relay accepts Connector channels and serves the requests they
// carry: one Connection per origin, a heartbeat per Connection and a
// goroutine per request.
package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/1ureka/accesspoint/internal/access"
	"github.com/1ureka/accesspoint/internal/assets"
	"github.com/1ureka/accesspoint/internal/config"
	"github.com/1ureka/accesspoint/internal/protocol"
	"github.com/1ureka/accesspoint/internal/proxy"
	"github.com/1ureka/accesspoint/internal/router"
	"github.com/1ureka/accesspoint/internal/signaling"
	"github.com/1ureka/accesspoint/internal/transport"
	"github.com/1ureka/accesspoint/internal/util"
)

const (
	handshakeTimeout = 10 * time.Second
	signalingTimeout = 30 * time.Second
)

// ErrNoAssetSource is returned by Activate when neither an asset directory
// nor an asset source URL is configured.
var ErrNoAssetSource = errors.New("no asset source configured")

var upgrader = websocket.Upgrader{
	// Origins are checked against the handshake instead.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server owns the relay's process-wide state: the asset store, the origin
// allow-list and the Connection registry.
type Server struct {
	cfg      *config.Config
	fetcher  assets.Fetcher
	store    *assets.Store
	allow    *access.List
	registry *Registry
	service  *Service

	initialized atomic.Bool
	ready       atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Server. When fetcher is nil it is derived from the asset
// configuration.
func New(cfg *config.Config, fetcher assets.Fetcher) (*Server, error) {
	p, err := proxy.New(proxy.Options{
		Backend:            cfg.Backend,
		InsecureSkipVerify: cfg.InsecureBackend,
	})
	if err != nil {
		return nil, err
	}
	if fetcher == nil {
		switch {
		case cfg.Assets.Dir != "":
			fetcher = &assets.DirFetcher{FS: os.DirFS(cfg.Assets.Dir)}
		case cfg.Assets.Source != "":
			fetcher = &assets.HTTPFetcher{Source: cfg.Assets.Source}
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:      cfg,
		fetcher:  fetcher,
		registry: NewRegistry(),
		service:  &Service{Proxy: p},
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Registry returns the live Connections.
func (s *Server) Registry() *Registry { return s.registry }

// Ready reports whether both lifecycle hooks have completed.
func (s *Server) Ready() bool { return s.ready.Load() }

// Init opens the asset store, loads the allow-list and starts watching the
// allow-list file until ctx is done.
func (s *Server) Init(ctx context.Context) error {
	store, err := assets.Open(s.cfg.Assets.CacheDir)
	if err != nil {
		return fmt.Errorf("opening asset store: %w", err)
	}
	allow, err := access.NewList(s.cfg.AllowedOrigins, s.cfg.AllowListFile)
	if err != nil {
		return fmt.Errorf("loading allow-list: %w", err)
	}
	if err := allow.Watch(ctx); err != nil {
		return fmt.Errorf("watching allow-list: %w", err)
	}
	if allow.Len() == 0 {
		util.LogWarning("allow-list is empty: every handshake will be refused")
	}

	r := router.New(store)
	r.KeepAliveDelay = s.cfg.KeepAliveDelay

	s.store = store
	s.allow = allow
	s.service.Router = r
	s.initialized.Store(true)
	return nil
}

// Activate populates the asset store. A failure is fatal: the server never
// becomes ready and the error wraps assets.ErrInitFailure.
func (s *Server) Activate(ctx context.Context) error {
	if !s.initialized.Load() {
		return errors.New("relay: Activate called before Init")
	}

	if s.cfg.Assets.Reuse && s.store.Len() > 0 {
		util.LogInfo("reusing %d cached assets", s.store.Len())
	} else {
		if s.fetcher == nil {
			return fmt.Errorf("%w: %w", assets.ErrInitFailure, ErrNoAssetSource)
		}
		if err := s.store.Populate(ctx, s.fetcher, s.cfg.Assets.Manifest); err != nil {
			return err
		}
	}

	s.ready.Store(true)
	util.LogSuccess("relay ready, forwarding to %s", s.cfg.Backend)
	return nil
}

// Shutdown closes every Connection and stops accepting new ones.
func (s *Server) Shutdown() {
	s.ready.Store(false)
	s.cancel()
	s.registry.CloseAll()
}

// Handler returns the relay's HTTP surface: the channel endpoint at
// /connect and the intercept for every other path.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/connect", s.handleConnect).Methods(http.MethodGet)
	r.PathPrefix("/").HandlerFunc(s.handleIntercept)
	return r
}

func (s *Server) handleIntercept(w http.ResponseWriter, r *http.Request) {
	if !s.Ready() {
		http.Error(w, "relay is not ready", http.StatusServiceUnavailable)
		return
	}
	s.service.ServeHTTP(w, r)
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	if !s.Ready() {
		http.Error(w, "relay is not ready", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		util.LogDebug("upgrade from %s failed: %v", r.RemoteAddr, err)
		return
	}

	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		util.LogDebug("no handshake from %s: %v", r.RemoteAddr, err)
		conn.Close()
		return
	}
	hs, err := protocol.DecodeHandshake(data)
	if err != nil {
		util.LogWarning("bad handshake from %s: %v", r.RemoteAddr, err)
		reject(conn, websocket.CloseProtocolError, "malformed handshake")
		return
	}
	origin, err := s.allow.Check(hs.Origin, r.Header.Get("Origin"))
	if err != nil {
		util.LogWarning("refused handshake from %s: %v", r.RemoteAddr, err)
		reject(conn, websocket.ClosePolicyViolation, "origin not allowed")
		return
	}
	conn.SetReadDeadline(time.Time{})

	tag := util.ConnectionTag(origin, r.RemoteAddr)
	ep, err := s.endpoint(conn, hs.Transport)
	if err != nil {
		tag.Error("establishing %s channel: %v", hs.Transport, err)
		conn.Close()
		return
	}

	c := NewConnection(s.ctx, ConnectionOptions{
		Tag:         tag,
		Origin:      origin,
		Endpoint:    ep,
		Responder:   s.service,
		Heartbeat:   s.cfg.HeartbeatInterval,
		MaxInFlight: s.cfg.MaxInFlight,
		OnClose: func(c *Connection) {
			s.registry.Remove(c)
		},
	})
	if old := s.registry.Register(c); old != nil {
		old.Tag().Info("replaced by a new connection from %s", origin)
		old.Close()
	}
	c.Start()
}

// endpoint wraps conn, or upgrades it to a DataChannel when asked to.
func (s *Server) endpoint(conn *websocket.Conn, kind string) (transport.Endpoint, error) {
	if kind != protocol.TransportWebRTC {
		return transport.NewWebSocket(s.ctx, conn), nil
	}

	dc, err := transport.NewDataChannel(s.ctx, s.cfg.ICEServers)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(s.ctx, signalingTimeout)
	defer cancel()
	if err := signaling.Offer(ctx, conn, dc); err != nil {
		dc.Close()
		return nil, err
	}
	conn.Close()
	return dc, nil
}

func reject(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(time.Second))
	conn.Close()
}
