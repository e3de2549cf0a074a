package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type changeRecorder struct {
	mu      sync.Mutex
	batches []map[string]time.Time
}

func (c *changeRecorder) onChange(changed map[string]time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches = append(c.batches, changed)
}

func (c *changeRecorder) snapshot() []map[string]time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]map[string]time.Time(nil), c.batches...)
}

func newTestWatcher(t *testing.T, root string, debounce time.Duration) (*Watcher, *changeRecorder) {
	t.Helper()

	rec := &changeRecorder{}
	cfg := DefaultConfig(root)
	cfg.Debounce = debounce
	cfg.Ignore = append(cfg.Ignore, filepath.Join(root, "dist"))

	w, err := New(cfg, zerolog.Nop(), rec.onChange)
	require.NoError(t, err)
	t.Cleanup(w.Close)

	return w, rec
}

func TestWatcher_recordDebounces(t *testing.T) {
	w, rec := newTestWatcher(t, t.TempDir(), 50*time.Millisecond)

	now := time.Now()
	w.record("/project/src/index.ejs", now)
	w.record("/project/src/index.js", now)
	w.record("/project/src/index.ejs", now.Add(time.Second))

	require.Len(t, w.Mtimes(), 2)

	require.Eventually(t, func() bool {
		return len(rec.snapshot()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	batch := rec.snapshot()[0]
	require.Equal(t, map[string]time.Time{
		"/project/src/index.ejs": now.Add(time.Second),
		"/project/src/index.js":  now,
	}, batch)

	// the table is cleared once handed off
	require.Empty(t, w.Mtimes())
}

func TestWatcher_recordAfterClose(t *testing.T) {
	w, rec := newTestWatcher(t, t.TempDir(), 10*time.Millisecond)
	w.Close()

	w.record("/project/src/index.ejs", time.Now())
	time.Sleep(50 * time.Millisecond)

	require.Empty(t, rec.snapshot())
	require.Empty(t, w.Mtimes())
}

func TestWatcher_ignored(t *testing.T) {
	root := t.TempDir()
	w, _ := newTestWatcher(t, root, time.Millisecond)

	tests := []struct {
		path     string
		expected bool
	}{
		{path: filepath.Join(root, "src", "index.js"), expected: false},
		{path: filepath.Join(root, "node_modules", "lib", "index.js"), expected: true},
		{path: filepath.Join(root, "dist", "scripts.js"), expected: true},
		{path: filepath.Join(root, "distant", "file.js"), expected: false},
		{path: filepath.Join(root, "src", ".index.ejs.swp"), expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			require.Equal(t, tt.expected, w.ignored(tt.path))
		})
	}
}

func TestWatcher_fileEvents(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src")
	require.NoError(t, os.MkdirAll(src, 0750))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "dist"), 0750))

	w, rec := newTestWatcher(t, root, 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	template := filepath.Join(src, "index.ejs")
	require.NoError(t, os.WriteFile(template, []byte("<p>hi</p>"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(root, "dist", "index.html"), []byte("<p>hi</p>"), 0600))

	require.Eventually(t, func() bool {
		for _, batch := range rec.snapshot() {
			if _, ok := batch[template]; ok {
				return true
			}
		}
		return false
	}, 5*time.Second, 20*time.Millisecond)

	for _, batch := range rec.snapshot() {
		for path := range batch {
			require.NotContains(t, path, filepath.Join(root, "dist"))
		}
	}

	cancel()
	require.NoError(t, <-done)
}
