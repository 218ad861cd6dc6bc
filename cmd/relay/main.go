// Access point relay: CLI entry point.
//
// The relay accepts channels from Connectors at /connect and serves the
// requests they carry from its companion cache or from the loopback backend.
// Every other path is served through the same pipeline over plain HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	docopt "github.com/docopt/docopt-go"
	"github.com/jpillora/requestlog"
	"github.com/pterm/pterm"
	"golang.org/x/sync/errgroup"

	"github.com/1ureka/accesspoint/internal/config"
	"github.com/1ureka/accesspoint/internal/relay"
	"github.com/1ureka/accesspoint/internal/util"
)

var (
	version = "dev"
	usage   = `
Access point relay. Accepts Connector channels and forwards the requests they
carry to a loopback backend service.

  Usage:
    relay [options]
    relay -h|--help
    relay --version

  Options:
    -h --help                 Show this help screen.
    --version                 Show the relay version number.
    -c --config <file>        YAML configuration file [default: ].
    -l --listen <address>     Address to listen on, overrides the config file [default: ].
    -b --backend <url>        Loopback backend, overrides the config file and
                              ACCESSPOINT_BACKEND [default: ].
    -a --allow <origins>      Comma separated origins allowed to connect, added
                              to the config file entries [default: ].
    --assets <dir>            Serve the companion cache from this directory [default: ].
    --debug                   Enable debug logging and request logs.
`
)

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg, err := parseArgs(os.Args[1:])
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
	if cfg.Debug {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("Access point relay v%s", version))
	pterm.Println()

	if err := run(ctx, cfg); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
	util.LogInfo("relay stopped")
}

// parseArgs loads the config file and applies command line overrides.
func parseArgs(argv []string) (*config.Config, error) {
	arguments, err := docopt.ParseArgs(usage, argv, version)
	if err != nil {
		return nil, err
	}

	cfg, err := config.Load(arguments["--config"].(string))
	if err != nil {
		return nil, err
	}
	if v := arguments["--listen"].(string); v != "" {
		cfg.Listen = v
	}
	if v := arguments["--backend"].(string); v != "" {
		cfg.Backend = v
	}
	if v := arguments["--allow"].(string); v != "" {
		for _, o := range strings.Split(v, ",") {
			cfg.AllowedOrigins = append(cfg.AllowedOrigins, strings.TrimSpace(o))
		}
	}
	if v := arguments["--assets"].(string); v != "" {
		cfg.Assets.Dir = v
	}
	if arguments["--debug"].(bool) {
		cfg.Debug = true
	}
	return cfg, cfg.Validate()
}

// run executes both lifecycle hooks and serves until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config) error {
	s, err := relay.New(cfg, nil)
	if err != nil {
		return err
	}
	if err := s.Init(ctx); err != nil {
		return fmt.Errorf("init failed: %w", err)
	}
	if err := s.Activate(ctx); err != nil {
		return fmt.Errorf("activation failed: %w", err)
	}

	handler := s.Handler()
	if cfg.Debug {
		handler = requestlog.Wrap(handler)
	}
	srv := &http.Server{Addr: cfg.Listen, Handler: handler}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		util.LogSuccess("listening on %s", cfg.Listen)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	util.StartStatsReporter(gctx, cfg.StatsInterval)

	return g.Wait()
}
