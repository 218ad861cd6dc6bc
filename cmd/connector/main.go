// Access point connector: CLI entry point.
//
// The connector opens a channel to a relay and exposes it as a local HTTP
// server: every local request is forwarded over the channel as if it had
// been made against the public origin.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	docopt "github.com/docopt/docopt-go"
	"github.com/pterm/pterm"
	"golang.org/x/sync/errgroup"

	"github.com/1ureka/accesspoint/internal/config"
	"github.com/1ureka/accesspoint/internal/connector"
	"github.com/1ureka/accesspoint/internal/protocol"
	"github.com/1ureka/accesspoint/internal/util"
)

var (
	version = "dev"
	usage   = `
Access point connector. Opens a channel to a relay and serves it locally.

  Usage:
    connector [options] [<relay>]
    connector -h|--help
    connector --version

  Options:
    -h --help                 Show this help screen.
    --version                 Show the connector version number.
    -c --config <file>        YAML configuration file [default: ].
    -o --origin <origin>      Origin declared in the handshake [default: ].
    -p --public <origin>      Public origin local requests are mapped onto [default: ].
    -l --listen <address>     Local address to serve on [default: ].
    --webrtc                  Upgrade the channel to a WebRTC DataChannel.
    --keepalive               Keep the channel busy with keep-alive pings.
    --debug                   Enable debug logging.
`
)

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	arguments, err := docopt.ParseArgs(usage, os.Args[1:], version)
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
	cfgPath := arguments["--config"].(string)
	cfg, err := config.Load(cfgPath)
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
	if err := applyArgs(cfg, arguments); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
	if cfg.Debug {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("Access point connector v%s", version))
	pterm.Println()

	if arguments["<relay>"] == nil && cfgPath == "" {
		cfg.Connector.Relay = askURL()
	}

	if err := run(ctx, cfg); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
	util.LogInfo("connector stopped")
}

// applyArgs applies command line overrides. An invalid relay address is an
// error rather than a silent fallback to the configured one.
func applyArgs(cfg *config.Config, arguments map[string]any) error {
	if v, ok := arguments["<relay>"].(string); ok {
		u, err := normalizeWSURL(v)
		if err != nil {
			return err
		}
		cfg.Connector.Relay = u
	}
	if v := arguments["--origin"].(string); v != "" {
		cfg.Connector.Origin = v
	}
	if v := arguments["--public"].(string); v != "" {
		cfg.Connector.PublicOrigin = v
	}
	if v := arguments["--listen"].(string); v != "" {
		cfg.Connector.Listen = v
	}
	if arguments["--webrtc"].(bool) {
		cfg.Connector.Transport = protocol.TransportWebRTC
	}
	if arguments["--keepalive"].(bool) {
		cfg.Connector.KeepAlive = true
	}
	if arguments["--debug"].(bool) {
		cfg.Debug = true
	}
	return nil
}

// run dials the relay, waits for it to take control and serves locally
// until ctx is cancelled or the channel goes away.
func run(ctx context.Context, cfg *config.Config) error {
	cc := cfg.Connector
	if cc.Origin == "" {
		return errors.New("missing origin: set connector.origin or pass --origin")
	}
	if cc.PublicOrigin == "" {
		cc.PublicOrigin = cc.Origin
	}

	c, err := connector.Dial(ctx, connector.Options{
		Relay:        cc.Relay,
		Origin:       cc.Origin,
		PublicOrigin: cc.PublicOrigin,
		Transport:    cc.Transport,
		ICEServers:   cfg.ICEServers,
		OnState:      showStatus,
		Fallback: func(resp *protocol.Response) {
			util.LogDebug("unclaimed response %s (%d)", resp.ID, resp.Status)
		},
	})
	if err != nil {
		return err
	}
	defer c.Close()

	handler, err := c.Activate(ctx)
	if err != nil {
		return err
	}
	srv := &http.Server{Addr: cc.Listen, Handler: handler}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		util.LogSuccess("serving %s on http://%s", cc.PublicOrigin, cc.Listen)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-c.Done():
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if cc.KeepAlive {
		g.Go(func() error {
			c.KeepAlive(gctx)
			return nil
		})
	}
	util.StartStatsReporter(gctx, cfg.StatsInterval)

	if err := g.Wait(); err != nil {
		return err
	}
	if ctx.Err() == nil && c.State() == connector.StateUnreachable {
		return errors.New("relay became unreachable")
	}
	return nil
}

// showStatus prints the user-facing indicator of a state, if it has one.
func showStatus(s connector.State) {
	switch s.Status() {
	case "setup":
		pterm.Info.Println("Setting things up")
	case "activating":
		pterm.Info.Println("Activating, waiting for the relay")
	case "active":
		pterm.Success.Println("All set")
	case "unreachable":
		pterm.Error.Println("Relay unreachable")
	}
}

// normalizeWSURL validates a relay address and points it at /connect.
func normalizeWSURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid relay URL: %s", raw)
	}
	scheme := "wss"
	switch u.Scheme {
	case "ws", "wss":
		scheme = u.Scheme
	case "http":
		scheme = "ws"
	}
	return fmt.Sprintf("%s://%s/connect", scheme, u.Host), nil
}

// askURL prompts the user for a valid relay URL until one is entered.
func askURL() string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("Relay URL (e.g. wss://relay.example)").
			Show()

		wsURL, err := normalizeWSURL(raw)
		if err == nil {
			pterm.Println()
			return wsURL
		}

		pterm.Println()
		util.LogWarning("invalid input: please enter a valid host or URL")
	}
}
