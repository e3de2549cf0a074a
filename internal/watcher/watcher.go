// Package watcher tracks source file changes for development rebuilds.
package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/wolfeidau/sitebundle/internal/telemetry"
)

// Config configures a Watcher.
type Config struct {
	// Root directory watched recursively.
	Root string
	// Ignore lists directory names or absolute paths that are never watched.
	Ignore []string
	// Debounce is how long the watcher waits after the last change before
	// handing the modification-time table to the callback.
	Debounce time.Duration
}

// DefaultConfig returns a sensible default configuration
func DefaultConfig(root string) Config {
	return Config{
		Root:     root,
		Ignore:   []string{"node_modules"},
		Debounce: 100 * time.Millisecond,
	}
}

// Watcher records changed files in a modification-time table and flushes it
// to a callback once changes settle.
type Watcher struct {
	config   Config
	fsw      *fsnotify.Watcher
	onChange func(map[string]time.Time)
	log      zerolog.Logger

	mu     sync.Mutex
	mtimes map[string]time.Time
	timer  *time.Timer
	stopCh chan struct{}
}

// New creates a watcher over config.Root. onChange is called from a timer
// goroutine with a table the watcher no longer references.
func New(config Config, log zerolog.Logger, onChange func(map[string]time.Time)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	w := &Watcher{
		config:   config,
		fsw:      fsw,
		onChange: onChange,
		log:      log,
		mtimes:   make(map[string]time.Time),
		stopCh:   make(chan struct{}),
	}

	if err := w.addTree(config.Root); err != nil {
		_ = fsw.Close()
		return nil, err
	}

	return w, nil
}

// Run processes file system events until ctx is done or the watcher is closed.
func (w *Watcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.Close()
			return nil
		case <-w.stopCh:
			return nil
		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handle(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn().Err(err).Msg("File watcher error")
		}
	}
}

// Mtimes returns a copy of the changes recorded since the last flush.
func (w *Watcher) Mtimes() map[string]time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return maps.Clone(w.mtimes)
}

// Close stops the watcher and discards pending changes.
func (w *Watcher) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()

	select {
	case <-w.stopCh:
		return
	default:
		close(w.stopCh)
	}

	if w.timer != nil {
		w.timer.Stop()
	}
	_ = w.fsw.Close()
}

func (w *Watcher) handle(event fsnotify.Event) {
	if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) {
		return
	}
	if w.ignored(event.Name) {
		return
	}

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addTree(event.Name); err != nil {
				w.log.Warn().Err(err).Str("dir", event.Name).Msg("Failed to watch new directory")
			}
			return
		}
	}

	w.log.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("File changed")
	telemetry.GetMetrics().WatchEventsTotal.Add(context.Background(), 1)

	w.record(event.Name, modTime(event.Name))
}

// record adds path to the table and restarts the debounce timer.
func (w *Watcher) record(path string, mtime time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()

	select {
	case <-w.stopCh:
		return
	default:
	}

	w.mtimes[path] = mtime

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.config.Debounce, w.flush)
}

func (w *Watcher) flush() {
	w.mu.Lock()
	if len(w.mtimes) == 0 {
		w.mu.Unlock()
		return
	}
	changed := w.mtimes
	w.mtimes = make(map[string]time.Time)
	w.mu.Unlock()

	w.onChange(changed)
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && w.ignored(path) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
}

func (w *Watcher) ignored(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") && base != "." {
		return true
	}
	return slices.ContainsFunc(w.config.Ignore, func(ignore string) bool {
		if filepath.IsAbs(ignore) {
			return path == ignore || strings.HasPrefix(path, ignore+string(filepath.Separator))
		}
		return slices.Contains(strings.Split(filepath.ToSlash(path), "/"), ignore)
	})
}

func modTime(path string) time.Time {
	if info, err := os.Stat(path); err == nil {
		return info.ModTime()
	}
	// removed or renamed away
	return time.Now()
}
