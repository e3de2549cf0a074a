package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/wolfeidau/sitebundle/internal/buildconfig"
	"gopkg.in/yaml.v3"
)

type ConfigCmd struct {
	Prod   bool   `help:"print the production configuration" default:"false" env:"SITEBUNDLE_PROD"`
	Root   string `help:"project root directory" default:"." env:"SITEBUNDLE_ROOT"`
	Format string `help:"output format" default:"yaml" enum:"yaml,json"`

	out io.Writer `kong:"-"`
}

func (c *ConfigCmd) Run(globals *Globals) error {
	out := c.out
	if out == nil {
		out = os.Stdout
	}

	cfg := buildconfig.New(buildconfig.Environment{Prod: c.Prod}, c.Root)

	switch c.Format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(cfg); err != nil {
			return fmt.Errorf("failed to encode config: %w", err)
		}
	default:
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			return fmt.Errorf("failed to encode config: %w", err)
		}
		if err := enc.Close(); err != nil {
			return fmt.Errorf("failed to encode config: %w", err)
		}
	}

	return nil
}
