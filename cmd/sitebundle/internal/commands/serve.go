package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wolfeidau/sitebundle/internal/buildconfig"
	"github.com/wolfeidau/sitebundle/internal/bundler"
	"github.com/wolfeidau/sitebundle/internal/devserver"
	"github.com/wolfeidau/sitebundle/internal/logger"
	"github.com/wolfeidau/sitebundle/internal/telemetry"
	"github.com/wolfeidau/sitebundle/internal/watcher"
	"golang.org/x/sync/errgroup"
)

type ServeCmd struct {
	Root        string        `help:"project root directory" default:"." env:"SITEBUNDLE_ROOT" type:"existingdir"`
	Listen      string        `help:"override the dev server listen address" default:"" env:"SITEBUNDLE_LISTEN"`
	CORSOrigins []string      `help:"origins allowed to load assets cross-origin" default:"" env:"SITEBUNDLE_CORS_ORIGINS"`
	Debounce    time.Duration `help:"quiet period before a change triggers a rebuild" default:"100ms" env:"SITEBUNDLE_DEBOUNCE"`
	Tracing     bool          `help:"export build metrics and traces over OTLP" default:"false" env:"SITEBUNDLE_TRACING"`
}

func (c *ServeCmd) Run(ctx context.Context, globals *Globals) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := buildconfig.New(buildconfig.Environment{}, c.Root)
	log := logger.Setup(globals.Debug, cfg.DevServer.Stats.Colors)

	log.Info().Str("version", globals.Version).Str("mode", string(cfg.Mode)).Msg("Starting dev server")

	if c.Tracing {
		log.Info().Msg("Tracing is enabled")
		shutdown, err := telemetry.InitTelemetry(ctx, "sitebundle", globals.Version)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without metrics")
			shutdown = telemetry.Noop
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Failed to shutdown telemetry")
			}
		}()
	}

	compiler, err := bundler.New(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to configure bundler: %w", err)
	}
	defer compiler.Close()

	// use the compiler's copy, its paths are absolute
	cfg = compiler.Config()

	hub := devserver.NewHub(log)
	server, err := devserver.New(cfg, hub, log, devserver.Options{
		Listen:      c.Listen,
		CORSOrigins: nonEmpty(c.CORSOrigins),
	})
	if err != nil {
		return err
	}
	server.Attach(compiler)

	// a broken initial build is reported and fixed by editing, not fatal
	if _, err := compiler.Run(ctx); err != nil && !errors.Is(err, bundler.ErrBuildFailed) && !errors.Is(err, bundler.ErrTemplateNotFound) {
		return fmt.Errorf("failed to build site: %w", err)
	}

	watchCfg := watcher.DefaultConfig(cfg.Context)
	watchCfg.Debounce = c.Debounce
	watchCfg.Ignore = append(watchCfg.Ignore, cfg.Output.Path)

	w, err := watcher.New(watchCfg, log, func(modified map[string]time.Time) {
		if _, err := compiler.Rebuild(ctx, modified); err != nil {
			log.Debug().Err(err).Msg("Rebuild failed")
		}
	})
	if err != nil {
		return err
	}
	defer w.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(gctx)
	})
	g.Go(func() error {
		return w.Run(gctx)
	})

	return g.Wait()
}

func nonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
