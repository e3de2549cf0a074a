package bundler

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/wolfeidau/sitebundle/internal/buildconfig"
)

// presetTargets maps transpilation presets to the language level esbuild lowers to.
var presetTargets = map[string]api.Target{
	"@babel/preset-env": api.ES2015,
}

// browserEngines stand in for the post-processing step's browser list; esbuild
// adds vendor prefixes and lowers CSS syntax for them.
var browserEngines = []api.Engine{
	{Name: api.EngineChrome, Version: "64"},
	{Name: api.EngineEdge, Version: "79"},
	{Name: api.EngineFirefox, Version: "67"},
	{Name: api.EngineSafari, Version: "12"},
}

func buildOptions(cfg buildconfig.Config) (api.BuildOptions, error) {
	sourcemap, sourcesContent := sourceMapOptions(cfg.Devtool)
	production := cfg.Mode == buildconfig.ModeProduction

	opts := api.BuildOptions{
		AbsWorkingDir:     cfg.Context,
		EntryPoints:       []string{cfg.Entry},
		EntryNames:        bundleStem(cfg.Output.Filename),
		Outdir:            cfg.Output.Path,
		Bundle:            true,
		Write:             false,
		Metafile:          true,
		Format:            api.FormatIIFE,
		Platform:          api.PlatformBrowser,
		Target:            api.ESNext,
		ResolveExtensions: cfg.Resolve.Extensions,
		Sourcemap:         sourcemap,
		SourcesContent:    sourcesContent,
		MinifyWhitespace:  production,
		MinifyIdentifiers: production,
		MinifySyntax:      production,
		TreeShaking:       cond(production, api.TreeShakingTrue, api.TreeShakingDefault),
		LogLevel:          api.LogLevelSilent,
		Define: map[string]string{
			"process.env.NODE_ENV": fmt.Sprintf("%q", string(cfg.Mode)),
		},
	}

	for _, rule := range cfg.Module.Rules {
		for _, step := range rule.Use {
			switch step.Loader {
			case buildconfig.LoaderBabel:
				target, err := presetTarget(step.Options)
				if err != nil {
					return api.BuildOptions{}, err
				}
				opts.Target = target
			case buildconfig.LoaderPostCSS:
				opts.Engines = browserEngines
			case buildconfig.LoaderEJS, buildconfig.LoaderCSSExtract, buildconfig.LoaderCSS, buildconfig.LoaderLess:
			default:
				return api.BuildOptions{}, fmt.Errorf("%w: %q", ErrUnknownLoader, step.Loader)
			}
		}
	}

	if rule, ok := cfg.StylesheetRule(); ok {
		plugin, err := stylesheetPlugin(rule)
		if err != nil {
			return api.BuildOptions{}, err
		}
		opts.Plugins = append(opts.Plugins, plugin)
	}

	return opts, nil
}

func sourceMapOptions(devtool buildconfig.Devtool) (api.SourceMap, api.SourcesContent) {
	switch devtool {
	case buildconfig.DevtoolCheapModuleSourceMap:
		return api.SourceMapLinked, api.SourcesContentExclude
	case buildconfig.DevtoolHiddenSourceMap:
		// written to disk without a sourceMappingURL comment
		return api.SourceMapExternal, api.SourcesContentInclude
	default:
		return api.SourceMapNone, api.SourcesContentExclude
	}
}

func presetTarget(options map[string]any) (api.Target, error) {
	target := api.ESNext
	for _, preset := range stringSlice(options["presets"]) {
		t, ok := presetTargets[preset]
		if !ok {
			return target, fmt.Errorf("%w: %q", ErrUnknownPreset, preset)
		}
		target = t
	}
	return target, nil
}

// incremental reports whether the script rule asks for a build cache.
func incremental(cfg buildconfig.Config) bool {
	for _, rule := range cfg.Module.Rules {
		if step, ok := rule.Step(buildconfig.LoaderBabel); ok {
			return boolOption(step.Options, "cacheDirectory")
		}
	}
	return false
}

func bundleStem(filename string) string {
	return strings.TrimSuffix(filename, filepath.Ext(filename))
}

func boolOption(options map[string]any, key string) bool {
	v, _ := options[key].(bool)
	return v
}

func stringSlice(v any) []string {
	switch vals := v.(type) {
	case []string:
		return vals
	case []any:
		out := make([]string, 0, len(vals))
		for _, val := range vals {
			if s, ok := val.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func cond[T any](condition bool, trueVal, falseVal T) T {
	if condition {
		return trueVal
	}
	return falseVal
}
