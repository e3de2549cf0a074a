// Package devserver serves build output during development and pushes
// reload notifications to connected browsers.
package devserver

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/klauspost/compress/gzhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/wolfeidau/sitebundle/internal/buildconfig"
	httpmiddleware "github.com/wolfeidau/sitebundle/internal/http"
)

// Messages sent to live reload clients in addition to the reload hook's own.
const (
	MessageOK         = "ok"
	MessageErrors     = "errors"
	MessageCSSChanged = "css-changed"
)

// WebSocketPath is where live reload clients connect.
const WebSocketPath = "/__sitebundle/ws"

var ErrNoDevServer = errors.New("configuration has no dev server settings")

//go:embed client.js
var clientScript []byte

type Options struct {
	// Listen overrides the configured host and port when set.
	Listen      string
	CORSOrigins []string
}

type Server struct {
	cfg      buildconfig.Config
	settings *buildconfig.DevServer
	hub      *Hub
	clients  buildconfig.Broadcaster
	opts     Options
	log      zerolog.Logger
}

// New returns a server for a development configuration.
func New(cfg buildconfig.Config, hub *Hub, log zerolog.Logger, opts Options) (*Server, error) {
	if cfg.DevServer == nil {
		return nil, ErrNoDevServer
	}

	return &Server{
		cfg:      cfg,
		settings: cfg.DevServer,
		hub:      hub,
		clients:  hub,
		opts:     opts,
		log:      log,
	}, nil
}

// Addr is the address the server listens on.
func (s *Server) Addr() string {
	if s.opts.Listen != "" {
		return s.opts.Listen
	}
	return s.settings.Address()
}

// Attach registers the configured reload hook and the server's own pass
// observer with compiler.
func (s *Server) Attach(compiler buildconfig.DoneNotifier) {
	if s.settings.Before != nil {
		s.settings.Before.Register(compiler, s.clients)
	}
	compiler.OnDone(s.Observe)
}

// Observe notifies hot clients of a completed pass. Stylesheet-only changes
// are pushed as css-changed when the extraction loader has hmr enabled.
func (s *Server) Observe(pass buildconfig.Pass) {
	if !s.settings.Hot {
		return
	}

	switch {
	case pass.Failed():
		s.clients.Broadcast(MessageErrors)
	case s.stylesheetsOnly(pass):
		s.clients.Broadcast(MessageCSSChanged)
	default:
		s.clients.Broadcast(MessageOK)
	}
}

func (s *Server) stylesheetsOnly(pass buildconfig.Pass) bool {
	if len(pass.Modified) == 0 {
		return false
	}

	rule, ok := s.cfg.StylesheetRule()
	if !ok {
		return false
	}
	extract, _ := rule.Step(buildconfig.LoaderCSSExtract)
	if hmr, _ := extract.Options["hmr"].(bool); !hmr {
		return false
	}

	for path := range pass.Modified {
		if !rule.Matches(path) {
			return false
		}
	}
	return true
}

// Handler returns the server's routes. The websocket endpoint sits outside
// the compression and logging middleware, which cannot hijack connections.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(buildconfig.LiveReloadClientPath, serveClient)
	mux.Handle("/", httpmiddleware.NoCache(http.FileServer(http.Dir(s.settings.ContentBase))))

	var assets http.Handler = mux
	if s.settings.Compress {
		assets = gzhttp.GzipHandler(assets)
	}
	if len(s.opts.CORSOrigins) > 0 {
		assets = cors.New(cors.Options{
			AllowedOrigins: s.opts.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodHead},
		}).Handler(assets)
	}
	assets = httpmiddleware.RequestLogger(s.log)(assets)

	root := http.NewServeMux()
	root.Handle(WebSocketPath, s.hub)
	root.Handle("/", assets)
	return root
}

// Run listens on Addr and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.Addr(), err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled, then disconnects live reload
// clients and shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := configureHTTPServer(ln.Addr().String(), s.Handler())

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	s.log.Info().
		Str("url", "http://"+ln.Addr().String()).
		Str("content_base", s.settings.ContentBase).
		Bool("hot", s.settings.Hot).
		Bool("compress", s.settings.Compress).
		Msg("Dev server listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("dev server failed: %w", err)
	case <-ctx.Done():
		s.hub.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shutdown dev server: %w", err)
		}
		return nil
	}
}

func serveClient(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/javascript; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(clientScript)
}

func configureHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       time.Minute,
		WriteTimeout:      time.Minute,
		IdleTimeout:       5 * time.Minute,
		MaxHeaderBytes:    8 * 1024, // 8KiB
	}
}
