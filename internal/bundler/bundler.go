// Package bundler runs a buildconfig.Config through esbuild and writes the
// bundle, the extracted stylesheet and the generated page.
package bundler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/rs/zerolog"
	"github.com/wolfeidau/sitebundle/internal/buildconfig"
	"github.com/wolfeidau/sitebundle/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrBuildFailed      = errors.New("build failed")
	ErrUnknownLoader    = errors.New("unknown loader")
	ErrUnknownPreset    = errors.New("unknown preset")
	ErrTemplateNotFound = errors.New("template not found")
	ErrClosed           = errors.New("compiler is closed")
)

var _ buildconfig.DoneNotifier = (*Compiler)(nil)

// Compiler owns the esbuild context for one configuration. Passes are
// serialised; observers are notified after each pass in registration order.
type Compiler struct {
	cfg   buildconfig.Config
	opts  api.BuildOptions
	stats buildconfig.Stats
	log   zerolog.Logger

	mu       sync.Mutex
	buildCtx api.BuildContext
	metadata *BuildMetadata
	closed   bool

	obsMu     sync.RWMutex
	observers []func(buildconfig.Pass)
}

// New validates cfg and prepares the esbuild context. When the script rule
// enables its cache the context is kept for incremental rebuilds.
func New(cfg buildconfig.Config, log zerolog.Logger) (*Compiler, error) {
	root, err := filepath.Abs(cfg.Context)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project root: %w", err)
	}
	cfg.Context = root
	if !filepath.IsAbs(cfg.Output.Path) {
		cfg.Output.Path = filepath.Join(root, cfg.Output.Path)
	}

	opts, err := buildOptions(cfg)
	if err != nil {
		return nil, err
	}

	c := &Compiler{
		cfg:   cfg,
		opts:  opts,
		stats: buildconfig.Stats{Colors: true, Chunks: true},
		log:   log.With().Str("mode", string(cfg.Mode)).Logger(),
	}
	if cfg.DevServer != nil {
		c.stats = cfg.DevServer.Stats
	}

	if incremental(cfg) {
		buildCtx, ctxErr := api.Context(opts)
		if ctxErr != nil {
			return nil, fmt.Errorf("%w: %s", ErrBuildFailed, formatMessages(ctxErr.Errors))
		}
		c.buildCtx = buildCtx
	}

	return c, nil
}

// Config returns the configuration the compiler was created with, with paths made absolute.
func (c *Compiler) Config() buildconfig.Config {
	return c.cfg
}

// OnDone registers fn to be called after every pass.
func (c *Compiler) OnDone(fn func(buildconfig.Pass)) {
	c.obsMu.Lock()
	defer c.obsMu.Unlock()
	c.observers = append(c.observers, fn)
}

// Run performs a full build pass.
func (c *Compiler) Run(ctx context.Context) (buildconfig.Pass, error) {
	return c.Rebuild(ctx, nil)
}

// Rebuild performs a pass triggered by the files in modified.
func (c *Compiler) Rebuild(ctx context.Context, modified map[string]time.Time) (buildconfig.Pass, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "bundler.Rebuild",
		trace.WithAttributes(
			attribute.String("mode", string(c.cfg.Mode)),
			attribute.Int("changed", len(modified)),
		),
	)
	defer span.End()

	pass, err := c.pass(ctx, modified)
	span.SetAttributes(
		attribute.Int("outputs", len(pass.Outputs)),
		attribute.Int("errors", len(pass.Errors)),
	)
	if err != nil {
		telemetry.RecordError(ctx, err)
	}
	if errors.Is(err, ErrClosed) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return pass, err
	}

	c.notify(ctx, pass)

	return pass, err
}

// notify calls observers in registration order. Reload hooks run here.
func (c *Compiler) notify(ctx context.Context, pass buildconfig.Pass) {
	c.obsMu.RLock()
	observers := slices.Clone(c.observers)
	c.obsMu.RUnlock()

	_, span := telemetry.Tracer().Start(ctx, "bundler.notify",
		trace.WithAttributes(
			attribute.Int("observers", len(observers)),
			attribute.Bool("failed", pass.Failed()),
		),
	)
	defer span.End()

	for _, fn := range observers {
		fn(pass)
	}
}

// Close releases the esbuild context.
func (c *Compiler) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	if c.buildCtx != nil {
		c.buildCtx.Dispose()
	}
}

// Metadata returns the esbuild metafile of the last successful pass.
func (c *Compiler) Metadata() *BuildMetadata {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metadata
}

func (c *Compiler) pass(ctx context.Context, modified map[string]time.Time) (buildconfig.Pass, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pass := buildconfig.Pass{Modified: modified}

	if c.closed {
		return pass, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return pass, err
	}

	started := time.Now()

	var result api.BuildResult
	if c.buildCtx != nil {
		result = c.buildCtx.Rebuild()
	} else {
		result = api.Build(c.opts)
	}

	err := c.emit(result, &pass)
	pass.Duration = time.Since(started)

	c.record(ctx, pass)
	c.logStats(result, pass)

	return pass, err
}

func (c *Compiler) emit(result api.BuildResult, pass *buildconfig.Pass) error {
	if len(result.Errors) > 0 {
		for _, msg := range result.Errors {
			pass.Errors = append(pass.Errors, formatMessage(msg))
		}
		return fmt.Errorf("%w: %s", ErrBuildFailed, formatMessages(result.Errors))
	}

	if err := os.MkdirAll(c.cfg.Output.Path, 0750); err != nil {
		pass.Errors = append(pass.Errors, err.Error())
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	outputs, err := c.writeOutputs(result.OutputFiles)
	pass.Outputs = outputs
	if err != nil {
		pass.Errors = append(pass.Errors, err.Error())
		return err
	}

	// template mistakes are build errors, a dev session recovers on the next save
	page, err := c.renderHTML(outputs)
	if err != nil {
		pass.Errors = append(pass.Errors, err.Error())
		return fmt.Errorf("%w: %w", ErrBuildFailed, err)
	}
	if page != "" {
		pass.Outputs = append(pass.Outputs, page)
	}

	if result.Metafile != "" {
		var metadata BuildMetadata
		if err := json.Unmarshal([]byte(result.Metafile), &metadata); err != nil {
			pass.Errors = append(pass.Errors, err.Error())
			return fmt.Errorf("failed to parse metafile: %w", err)
		}
		c.metadata = &metadata
	}

	return nil
}

// writeOutputs writes esbuild's output files under their configured names.
// esbuild names the extracted stylesheet after the bundle, so it and its map
// are renamed to the extraction plugin's filename.
func (c *Compiler) writeOutputs(files []api.OutputFile) ([]string, error) {
	renames := c.outputRenames()

	written := make([]string, 0, len(files))
	for _, file := range files {
		base := filepath.Base(file.Path)
		contents := file.Contents

		if target, ok := renames[base]; ok {
			base = target
			contents = rewriteSourceMapURL(contents, renames)
		}

		dest := filepath.Join(c.cfg.Output.Path, base)
		if err := os.WriteFile(dest, contents, 0600); err != nil {
			return written, fmt.Errorf("failed to write %s: %w", base, err)
		}
		written = append(written, dest)
	}

	return written, nil
}

func (c *Compiler) outputRenames() map[string]string {
	renames := map[string]string{}

	extract := c.cfg.CSSExtract()
	if extract == nil {
		return renames
	}

	generated := bundleStem(c.cfg.Output.Filename) + ".css"
	if generated == extract.Filename {
		return renames
	}

	renames[generated] = extract.Filename
	renames[generated+".map"] = extract.Filename + ".map"
	return renames
}

// outputName is the name a generated file is written under.
func (c *Compiler) outputName(generated string) string {
	if target, ok := c.outputRenames()[generated]; ok {
		return target
	}
	return generated
}

func rewriteSourceMapURL(contents []byte, renames map[string]string) []byte {
	s := string(contents)
	for from, to := range renames {
		if strings.HasSuffix(from, ".map") {
			s = strings.ReplaceAll(s, "sourceMappingURL="+from, "sourceMappingURL="+to)
		}
	}
	return []byte(s)
}

func (c *Compiler) record(ctx context.Context, pass buildconfig.Pass) {
	m := telemetry.GetMetrics()
	attrs := metric.WithAttributes(attribute.String("mode", string(c.cfg.Mode)))

	m.BuildsTotal.Add(ctx, 1, attrs)
	m.BuildDuration.Record(ctx, float64(pass.Duration.Milliseconds()), attrs)
	m.OutputFilesTotal.Add(ctx, int64(len(pass.Outputs)), attrs)
	if pass.Failed() {
		m.BuildErrorsTotal.Add(ctx, 1, attrs)
	}
}

func (c *Compiler) logStats(result api.BuildResult, pass buildconfig.Pass) {
	for _, msg := range result.Warnings {
		c.log.Warn().Str("warning", formatMessage(msg)).Msg("Build warning")
	}

	if pass.Failed() {
		for _, msg := range pass.Errors {
			c.log.Error().Str("error", msg).Msg("Build error")
		}
		c.log.Error().Dur("duration", pass.Duration).Int("errors", len(pass.Errors)).Msg("Build failed")
		return
	}

	if c.stats.Chunks {
		for _, path := range pass.Outputs {
			ev := c.log.Info().Str("file", path)
			if info, err := os.Stat(path); err == nil {
				ev = ev.Int64("bytes", info.Size())
			}
			ev.Msg("Built file")
		}
	}

	ev := c.log.Info().
		Int("outputs", len(pass.Outputs)).
		Int("changed", len(pass.Modified)).
		Dur("duration", pass.Duration)

	if c.metadata != nil {
		modules := c.metadata.Modules()
		c.log.Debug().Strs("modules", modules).Msg("Bundled modules")

		ev = ev.Int("modules", len(modules))
		if script, stylesheet, ok := c.metadata.EntryOutput(c.cfg.Entry); ok {
			ev = ev.Str("bundle", filepath.Base(script))
			if stylesheet != "" {
				ev = ev.Str("stylesheet", c.outputName(filepath.Base(stylesheet)))
			}
		}
	}

	ev.Msg("Build complete")
}

func formatMessage(msg api.Message) string {
	if msg.Location == nil {
		return msg.Text
	}
	return fmt.Sprintf("%s:%d:%d: %s", msg.Location.File, msg.Location.Line, msg.Location.Column, msg.Text)
}

func formatMessages(msgs []api.Message) string {
	parts := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		parts = append(parts, formatMessage(msg))
	}
	return strings.Join(parts, "; ")
}
