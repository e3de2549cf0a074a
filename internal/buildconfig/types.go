package buildconfig

import (
	"net"
	"regexp"
	"strconv"
)

type Mode string

const (
	ModeDevelopment Mode = "development"
	ModeProduction  Mode = "production"
)

// Devtool selects how source maps are generated.
type Devtool string

const (
	// DevtoolCheapModuleSourceMap is fast and approximate, linked from the bundle.
	DevtoolCheapModuleSourceMap Devtool = "cheap-module-source-map"
	// DevtoolHiddenSourceMap emits precise maps that the bundle does not reference,
	// so they are available for error reporting without being served publicly.
	DevtoolHiddenSourceMap Devtool = "hidden-source-map"
)

// Loader names understood by the bundler runtime.
const (
	LoaderBabel      = "babel-loader"
	LoaderEJS        = "ejs-loader"
	LoaderCSSExtract = "css-extract-loader"
	LoaderCSS        = "css-loader"
	LoaderPostCSS    = "postcss-loader"
	LoaderLess       = "less-loader"
)

// LiveReloadClientPath is where the dev server serves the browser reload client.
const LiveReloadClientPath = "/__sitebundle/client.js"

// Environment is supplied once per build invocation.
type Environment struct {
	Prod bool
}

// Config is a complete build configuration. It is built fresh by New and
// is never modified after it is handed to the bundler.
type Config struct {
	Mode      Mode       `json:"mode" yaml:"mode"`
	Context   string     `json:"context" yaml:"context"`
	Output    Output     `json:"output" yaml:"output"`
	Entry     string     `json:"entry" yaml:"entry"`
	Devtool   Devtool    `json:"devtool" yaml:"devtool"`
	Resolve   Resolve    `json:"resolve" yaml:"resolve"`
	Plugins   []Plugin   `json:"plugins" yaml:"plugins"`
	Module    Module     `json:"module" yaml:"module"`
	DevServer *DevServer `json:"devServer,omitempty" yaml:"devServer,omitempty"`
}

type Output struct {
	Path     string `json:"path" yaml:"path"`
	Filename string `json:"filename" yaml:"filename"`
}

type Resolve struct {
	Extensions []string `json:"extensions" yaml:"extensions"`
}

type Module struct {
	Rules []Rule `json:"rules" yaml:"rules"`
}

// Plugin is implemented by the fixed set of plugins the bundler knows how to run.
type Plugin interface {
	PluginName() string
}

// CSSExtractPlugin collects all stylesheet output into a single file.
type CSSExtractPlugin struct {
	Filename string `json:"filename" yaml:"filename"`
}

func (*CSSExtractPlugin) PluginName() string { return "css-extract" }

// HTMLPlugin renders Template into Filename and injects the bundle's tags.
type HTMLPlugin struct {
	Filename           string         `json:"filename" yaml:"filename"`
	Template           string         `json:"template" yaml:"template"`
	TemplateParameters map[string]any `json:"templateParameters" yaml:"templateParameters"`
}

func (*HTMLPlugin) PluginName() string { return "html" }

// Rule applies an ordered chain of loaders to files matching Test and not
// matching Exclude. Loaders run last to first, as they are listed outermost first.
type Rule struct {
	Test    string       `json:"test" yaml:"test"`
	Exclude string       `json:"exclude,omitempty" yaml:"exclude,omitempty"`
	Use     []LoaderStep `json:"use" yaml:"use"`
}

type LoaderStep struct {
	Loader  string         `json:"loader" yaml:"loader"`
	Options map[string]any `json:"options,omitempty" yaml:"options,omitempty"`
}

// Matches reports whether path is selected by the rule. Invalid patterns never match.
func (r Rule) Matches(path string) bool {
	ok, err := regexp.MatchString(r.Test, path)
	if err != nil || !ok {
		return false
	}
	if r.Exclude == "" {
		return true
	}
	excluded, err := regexp.MatchString(r.Exclude, path)
	return err == nil && !excluded
}

// Step returns the first step using the named loader.
func (r Rule) Step(loader string) (LoaderStep, bool) {
	for _, step := range r.Use {
		if step.Loader == loader {
			return step, true
		}
	}
	return LoaderStep{}, false
}

// DevServer is present only in development builds.
type DevServer struct {
	ContentBase string      `json:"contentBase" yaml:"contentBase"`
	Compress    bool        `json:"compress" yaml:"compress"`
	Host        string      `json:"host" yaml:"host"`
	Port        int         `json:"port" yaml:"port"`
	Hot         bool        `json:"hot" yaml:"hot"`
	Stats       Stats       `json:"stats" yaml:"stats"`
	Before      *ReloadHook `json:"before" yaml:"before"`
}

// Address is the host:port the dev server listens on.
func (d *DevServer) Address() string {
	return net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
}

// Stats controls console output of build passes.
type Stats struct {
	Colors bool `json:"colors" yaml:"colors"`
	Chunks bool `json:"chunks" yaml:"chunks"`
}

// CSSExtract returns the configured stylesheet extraction plugin, if any.
func (c Config) CSSExtract() *CSSExtractPlugin {
	for _, p := range c.Plugins {
		if v, ok := p.(*CSSExtractPlugin); ok {
			return v
		}
	}
	return nil
}

// HTML returns the configured HTML generation plugin, if any.
func (c Config) HTML() *HTMLPlugin {
	for _, p := range c.Plugins {
		if v, ok := p.(*HTMLPlugin); ok {
			return v
		}
	}
	return nil
}

// RuleFor returns the first rule matching path.
func (c Config) RuleFor(path string) (Rule, bool) {
	for _, r := range c.Module.Rules {
		if r.Matches(path) {
			return r, true
		}
	}
	return Rule{}, false
}

// StylesheetRule returns the rule that feeds the stylesheet extraction loader.
func (c Config) StylesheetRule() (Rule, bool) {
	for _, r := range c.Module.Rules {
		if _, ok := r.Step(LoaderCSSExtract); ok {
			return r, true
		}
	}
	return Rule{}, false
}
