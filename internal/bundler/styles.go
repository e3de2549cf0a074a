package bundler

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/wolfeidau/sitebundle/internal/buildconfig"
)

var ErrLessVariable = errors.New("unresolvable less variable")

var (
	lessVarDecl = regexp.MustCompile(`(?m)^[ \t]*@([\w-]+)[ \t]*:[ \t]*([^;\n]+);[ \t]*\r?\n?`)
	lessVarRef  = regexp.MustCompile(`@([\w-]+)`)
)

type styleStep func(src string) (string, error)

// stylesheetPlugin loads files matched by rule through its loader chain, last
// loader first. The precompiler rewrites source text; CSS parsing, prefixing and
// extraction into one stylesheet are done by esbuild itself.
func stylesheetPlugin(rule buildconfig.Rule) (api.Plugin, error) {
	steps := make([]styleStep, 0, len(rule.Use))
	for i := len(rule.Use) - 1; i >= 0; i-- {
		switch loader := rule.Use[i].Loader; loader {
		case buildconfig.LoaderLess:
			steps = append(steps, compileLess)
		case buildconfig.LoaderPostCSS, buildconfig.LoaderCSS, buildconfig.LoaderCSSExtract:
		default:
			return api.Plugin{}, fmt.Errorf("%w: %q in stylesheet rule", ErrUnknownLoader, loader)
		}
	}

	return api.Plugin{
		Name: "stylesheets",
		Setup: func(build api.PluginBuild) {
			build.OnLoad(api.OnLoadOptions{Filter: rule.Test, Namespace: "file"},
				func(args api.OnLoadArgs) (api.OnLoadResult, error) {
					if !rule.Matches(args.Path) {
						return api.OnLoadResult{}, nil
					}

					src, err := os.ReadFile(args.Path)
					if err != nil {
						return api.OnLoadResult{}, err
					}

					contents := string(src)
					for _, step := range steps {
						if contents, err = step(contents); err != nil {
							return api.OnLoadResult{}, fmt.Errorf("%s: %w", args.Path, err)
						}
					}

					return api.OnLoadResult{
						Contents:   &contents,
						Loader:     api.LoaderCSS,
						ResolveDir: filepath.Dir(args.Path),
					}, nil
				})
		},
	}, nil
}

// cssAtRules are the at-keywords that are CSS rather than variable references.
var cssAtRules = map[string]bool{
	"charset":             true,
	"container":           true,
	"counter-style":       true,
	"font-face":           true,
	"font-feature-values": true,
	"import":              true,
	"keyframes":           true,
	"layer":               true,
	"media":               true,
	"namespace":           true,
	"page":                true,
	"property":            true,
	"supports":            true,
	"-webkit-keyframes":   true,
}

// compileLess handles the LESS features esbuild's CSS parser lacks: line
// comments and @variables. Nested rules are left for esbuild to lower.
func compileLess(src string) (string, error) {
	src = stripLineComments(src)

	r := &lessResolver{
		decls:     map[string]string{},
		resolved:  map[string]string{},
		resolving: map[string]bool{},
	}
	for _, m := range lessVarDecl.FindAllStringSubmatch(src, -1) {
		r.decls[m[1]] = strings.TrimSpace(m[2])
	}
	src = lessVarDecl.ReplaceAllString(src, "")

	return r.substitute(src)
}

// lessResolver resolves variables depth first, values may refer to other variables.
type lessResolver struct {
	decls     map[string]string
	resolved  map[string]string
	resolving map[string]bool
}

func (r *lessResolver) resolve(name string) (string, error) {
	if value, ok := r.resolved[name]; ok {
		return value, nil
	}
	if r.resolving[name] {
		return "", fmt.Errorf("%w: circular reference to @%s", ErrLessVariable, name)
	}
	value, ok := r.decls[name]
	if !ok {
		return "", fmt.Errorf("%w: @%s is not defined", ErrLessVariable, name)
	}

	r.resolving[name] = true
	defer delete(r.resolving, name)

	value, err := r.substitute(value)
	if err != nil {
		return "", err
	}
	r.resolved[name] = value
	return value, nil
}

func (r *lessResolver) substitute(s string) (string, error) {
	var err error
	out := lessVarRef.ReplaceAllStringFunc(s, func(ref string) string {
		name := ref[1:]
		if err != nil || cssAtRules[name] {
			return ref
		}
		value, resolveErr := r.resolve(name)
		if resolveErr != nil {
			err = resolveErr
			return ref
		}
		return value
	})
	if err != nil {
		return "", err
	}
	return out, nil
}

func stripLineComments(src string) string {
	lines := strings.Split(src, "\n")
	for i, line := range lines {
		lines[i] = stripLineComment(line)
	}
	return strings.Join(lines, "\n")
}

// stripLineComment drops a // comment outside of strings and parentheses, so
// url(http://...) survives.
func stripLineComment(line string) string {
	var quote byte
	depth := 0
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case quote != 0:
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '(':
			depth++
		case c == ')':
			if depth > 0 {
				depth--
			}
		case c == '/' && depth == 0 && i+1 < len(line) && line[i+1] == '/':
			return strings.TrimRight(line[:i], " \t")
		}
	}
	return line
}
