package bundler

import (
	"bytes"
	"errors"
	"fmt"
	"html"
	"html/template"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/tdewolff/minify/v2"
	mhtml "github.com/tdewolff/minify/v2/html"
	"github.com/wolfeidau/sitebundle/internal/buildconfig"
)

// EJS output tags are rewritten into template actions using delimiters that
// cannot clash with the page's own markup.
const (
	leftDelim  = "{%ejs"
	rightDelim = "ejs%}"
)

var ejsTag = regexp.MustCompile(`<%([=-])\s*([A-Za-z_$][\w$]*(?:\.[A-Za-z_$][\w$]*)*)\s*%>`)

// renderHTML renders the HTML plugin's template through the rule that matches
// it, injects the bundle's tags and writes the page. It returns the written path.
func (c *Compiler) renderHTML(outputs []string) (string, error) {
	plugin := c.cfg.HTML()
	if plugin == nil {
		return "", nil
	}

	src, err := os.ReadFile(filepath.Join(c.cfg.Context, plugin.Template))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrTemplateNotFound, plugin.Template)
		}
		return "", fmt.Errorf("failed to read template: %w", err)
	}

	data := map[string]any{}
	maps.Copy(data, plugin.TemplateParameters)

	page := src
	minifyPage := false

	if rule, ok := c.cfg.RuleFor(plugin.Template); ok {
		for i := len(rule.Use) - 1; i >= 0; i-- {
			step := rule.Use[i]
			switch step.Loader {
			case buildconfig.LoaderEJS:
				if ruleData, ok := step.Options["data"].(map[string]any); ok {
					maps.Copy(data, ruleData)
				}
				if page, err = renderEJS(plugin.Template, page, data); err != nil {
					return "", err
				}
				minifyPage = minifyPage || boolOption(step.Options, "htmlmin")
			default:
				return "", fmt.Errorf("%w: %q cannot render %s", ErrUnknownLoader, step.Loader, plugin.Template)
			}
		}
	}

	page = injectTags(page, c.pageTags(outputs))

	if minifyPage {
		if page, err = minifyHTML(page); err != nil {
			return "", fmt.Errorf("failed to minify %s: %w", plugin.Filename, err)
		}
	}

	dest := filepath.Join(c.cfg.Output.Path, plugin.Filename)
	if err := os.WriteFile(dest, page, 0600); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", plugin.Filename, err)
	}

	return dest, nil
}

// pageTags lists the tags injected into the page head: the extracted
// stylesheet when one was written, the bundle, and the reload client when hot.
func (c *Compiler) pageTags(outputs []string) []string {
	written := map[string]bool{}
	for _, path := range outputs {
		written[filepath.Base(path)] = true
	}

	var tags []string
	if extract := c.cfg.CSSExtract(); extract != nil && written[extract.Filename] {
		tags = append(tags, fmt.Sprintf(`<link href="%s" rel="stylesheet">`, html.EscapeString(extract.Filename)))
	}
	tags = append(tags, fmt.Sprintf(`<script defer src="%s"></script>`, html.EscapeString(c.cfg.Output.Filename)))
	if c.cfg.DevServer != nil && c.cfg.DevServer.Hot {
		tags = append(tags, fmt.Sprintf(`<script src="%s"></script>`, buildconfig.LiveReloadClientPath))
	}
	return tags
}

// renderEJS supports EJS output tags: <%= name %> escapes, <%- name %> does not.
// Names may be dotted paths into nested data.
func renderEJS(name string, src []byte, data map[string]any) ([]byte, error) {
	translated := ejsTag.ReplaceAllStringFunc(string(src), func(tag string) string {
		m := ejsTag.FindStringSubmatch(tag)
		fn := "value"
		if m[1] == "-" {
			fn = "raw"
		}
		return fmt.Sprintf("%s %s %q %s", leftDelim, fn, m[2], rightDelim)
	})
	// only output tags are supported, scriptlets would otherwise leak into the page
	if strings.Contains(translated, "<%") {
		return nil, fmt.Errorf("unsupported template tag in %s", name)
	}

	funcs := template.FuncMap{
		"value": func(path string) (any, error) {
			return lookup(data, path)
		},
		"raw": func(path string) (template.HTML, error) {
			v, err := lookup(data, path)
			if err != nil {
				return "", err
			}
			return template.HTML(fmt.Sprint(v)), nil //nolint:gosec
		},
	}

	tmpl, err := template.New(name).Delims(leftDelim, rightDelim).Funcs(funcs).Parse(translated)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
	}

	buf := new(bytes.Buffer)
	if err := tmpl.Execute(buf, data); err != nil {
		return nil, fmt.Errorf("failed to render template %s: %w", name, err)
	}
	return buf.Bytes(), nil
}

func lookup(data map[string]any, path string) (any, error) {
	var current any = data
	for _, key := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%s is not defined", path)
		}
		if current, ok = m[key]; !ok {
			return nil, fmt.Errorf("%s is not defined", path)
		}
	}
	return current, nil
}

func injectTags(page []byte, tags []string) []byte {
	if len(tags) == 0 {
		return page
	}

	joined := strings.Join(tags, "")
	s := string(page)
	if i := strings.Index(strings.ToLower(s), "</head>"); i >= 0 {
		return []byte(s[:i] + joined + s[i:])
	}
	return []byte(joined + s)
}

func minifyHTML(page []byte) ([]byte, error) {
	m := minify.New()
	m.Add("text/html", &mhtml.Minifier{
		KeepDocumentTags: true,
		KeepEndTags:      true,
		KeepQuotes:       true,
	})
	return m.Bytes("text/html", page)
}
