package commands

import (
	"context"
	"fmt"

	"github.com/wolfeidau/sitebundle/internal/buildconfig"
	"github.com/wolfeidau/sitebundle/internal/bundler"
	"github.com/wolfeidau/sitebundle/internal/logger"
)

type BuildCmd struct {
	Prod bool   `help:"build for production" default:"false" env:"SITEBUNDLE_PROD"`
	Root string `help:"project root directory" default:"." env:"SITEBUNDLE_ROOT" type:"existingdir"`
}

func (c *BuildCmd) Run(ctx context.Context, globals *Globals) error {
	log := logger.Setup(globals.Debug, true)

	cfg := buildconfig.New(buildconfig.Environment{Prod: c.Prod}, c.Root)

	log.Info().Str("version", globals.Version).Str("mode", string(cfg.Mode)).Str("root", c.Root).Msg("Starting build")

	compiler, err := bundler.New(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to configure bundler: %w", err)
	}
	defer compiler.Close()

	if _, err := compiler.Run(ctx); err != nil {
		return fmt.Errorf("failed to build site: %w", err)
	}

	return nil
}
