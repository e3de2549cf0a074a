package main

import (
	"context"

	"github.com/alecthomas/kong"
	"github.com/wolfeidau/sitebundle/cmd/sitebundle/internal/commands"
)

var (
	version = "dev"
	cli     struct {
		Debug   bool `help:"Enable debug mode." env:"SITEBUNDLE_DEBUG"`
		Version kong.VersionFlag
		Build   commands.BuildCmd  `cmd:"" help:"Build the site once"`
		Serve   commands.ServeCmd  `cmd:"" help:"Build, watch and serve the site with live reload"`
		Config  commands.ConfigCmd `cmd:"" help:"Print the assembled build configuration"`
	}
)

func main() {
	ctx := context.Background()
	cmd := kong.Parse(&cli,
		kong.Name("sitebundle"),
		kong.Description("Bundle scripts, stylesheets and templates into a static site."),
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))
	err := cmd.Run(&commands.Globals{Debug: cli.Debug, Version: version})
	cmd.FatalIfErrorf(err)
}
