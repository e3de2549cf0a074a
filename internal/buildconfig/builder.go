// Package buildconfig assembles the bundler configuration for a development
// or production build.
package buildconfig

import (
	"path/filepath"
)

const (
	outputDir      = "dist"
	bundleFilename = "scripts.js"
	styleFilename  = "styles.css"
	pageFilename   = "index.html"
	entryModule    = "./src/index.js"

	devHost = "localhost"
	devPort = 8080

	contentChanged = "content-changed"
)

// New returns the configuration for env with paths rooted at root.
//
// Development and production are two explicit variants over a shared base, so
// DevServer is set if and only if env.Prod is false.
func New(env Environment, root string) Config {
	isProduction := env.Prod
	isDevelopment := !isProduction

	base := baseConfig(root, isDevelopment)
	if isProduction {
		return production(base)
	}
	return development(base)
}

func production(base Config) Config {
	base.Mode = ModeProduction
	base.Devtool = DevtoolHiddenSourceMap
	return base
}

func development(base Config) Config {
	base.Mode = ModeDevelopment
	base.Devtool = DevtoolCheapModuleSourceMap
	base.DevServer = &DevServer{
		ContentBase: base.Output.Path,
		Compress:    true,
		Host:        devHost,
		Port:        devPort,
		Hot:         true,
		Stats: Stats{
			Colors: true,
			Chunks: false,
		},
		Before: &ReloadHook{
			WatchExtensions: []string{".ejs", ".html"},
			Message:         contentChanged,
		},
	}
	return base
}

func baseConfig(root string, isDevelopment bool) Config {
	return Config{
		Context: root,
		Output: Output{
			Path:     filepath.Join(root, outputDir),
			Filename: bundleFilename,
		},
		Entry: entryModule,
		Resolve: Resolve{
			Extensions: []string{".js", ".json", ".ts", ".tsx"},
		},
		Plugins: []Plugin{
			&CSSExtractPlugin{
				Filename: styleFilename,
			},
			&HTMLPlugin{
				Filename:           pageFilename,
				Template:           filepath.Join("src", "index.ejs"),
				TemplateParameters: templateData(),
			},
		},
		Module: Module{
			Rules: []Rule{
				{
					Test:    `\.m?js$`,
					Exclude: `node_modules`,
					Use: []LoaderStep{
						{
							Loader: LoaderBabel,
							Options: map[string]any{
								"presets":        []string{"@babel/preset-env"},
								"cacheDirectory": true,
							},
						},
					},
				},
				{
					Test: `\.ejs$`,
					Use: []LoaderStep{
						{
							Loader: LoaderEJS,
							Options: map[string]any{
								"data":    templateData(),
								"htmlmin": true,
							},
						},
					},
				},
				{
					Test:    `\.(le|c)ss$`,
					Exclude: `node_modules`,
					Use: []LoaderStep{
						{
							Loader:  LoaderCSSExtract,
							Options: map[string]any{"hmr": isDevelopment},
						},
						{Loader: LoaderCSS},
						{Loader: LoaderPostCSS},
						{Loader: LoaderLess},
					},
				},
			},
		},
	}
}

func templateData() map[string]any {
	return map[string]any{
		"title":   "New Title",
		"someVar": "hello world",
	}
}
