package devserver

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/sitebundle/internal/buildconfig"
)

type recordingBroadcaster struct {
	messages []string
}

func (r *recordingBroadcaster) Broadcast(msg string) {
	r.messages = append(r.messages, msg)
}

type fakeCompiler struct {
	observers []func(buildconfig.Pass)
}

func (f *fakeCompiler) OnDone(fn func(buildconfig.Pass)) {
	f.observers = append(f.observers, fn)
}

func (f *fakeCompiler) done(p buildconfig.Pass) {
	for _, fn := range f.observers {
		fn(p)
	}
}

func newTestServer(t *testing.T, cfg buildconfig.Config) (*Server, *recordingBroadcaster) {
	t.Helper()

	srv, err := New(cfg, NewHub(zerolog.Nop()), zerolog.Nop(), Options{})
	require.NoError(t, err)

	rec := &recordingBroadcaster{}
	srv.clients = rec
	return srv, rec
}

func devConfig(t *testing.T) buildconfig.Config {
	t.Helper()

	cfg := buildconfig.New(buildconfig.Environment{}, t.TempDir())
	require.NoError(t, os.MkdirAll(cfg.Output.Path, 0750))
	return cfg
}

func TestNew_production(t *testing.T) {
	cfg := buildconfig.New(buildconfig.Environment{Prod: true}, t.TempDir())

	_, err := New(cfg, NewHub(zerolog.Nop()), zerolog.Nop(), Options{})
	require.ErrorIs(t, err, ErrNoDevServer)
}

func TestServer_Addr(t *testing.T) {
	srv, _ := newTestServer(t, devConfig(t))
	require.Equal(t, "localhost:8080", srv.Addr())

	srv.opts.Listen = "127.0.0.1:9000"
	require.Equal(t, "127.0.0.1:9000", srv.Addr())
}

func TestServer_Attach(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name     string
		pass     buildconfig.Pass
		expected []string
	}{
		{
			name:     "initial pass",
			pass:     buildconfig.Pass{},
			expected: []string{MessageOK},
		},
		{
			name:     "template change",
			pass:     buildconfig.Pass{Modified: map[string]time.Time{"/p/src/index.ejs": now}},
			expected: []string{"content-changed", MessageOK},
		},
		{
			name:     "script change",
			pass:     buildconfig.Pass{Modified: map[string]time.Time{"/p/src/index.js": now}},
			expected: []string{MessageOK},
		},
		{
			name:     "stylesheet change",
			pass:     buildconfig.Pass{Modified: map[string]time.Time{"/p/src/theme.less": now, "/p/src/base.css": now}},
			expected: []string{MessageCSSChanged},
		},
		{
			name:     "mixed change",
			pass:     buildconfig.Pass{Modified: map[string]time.Time{"/p/src/theme.less": now, "/p/src/index.js": now}},
			expected: []string{MessageOK},
		},
		{
			name: "failed pass",
			pass: buildconfig.Pass{
				Modified: map[string]time.Time{"/p/src/index.js": now},
				Errors:   []string{"src/index.js:1:0: unexpected token"},
			},
			expected: []string{MessageErrors},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, rec := newTestServer(t, devConfig(t))
			compiler := &fakeCompiler{}
			srv.Attach(compiler)
			require.Len(t, compiler.observers, 2)

			compiler.done(tt.pass)
			require.Equal(t, tt.expected, rec.messages)
		})
	}
}

func TestServer_Observe_notHot(t *testing.T) {
	cfg := devConfig(t)
	cfg.DevServer.Hot = false
	srv, rec := newTestServer(t, cfg)

	srv.Observe(buildconfig.Pass{})
	require.Empty(t, rec.messages)
}

func TestServer_Handler_static(t *testing.T) {
	cfg := devConfig(t)
	page := "<html><body>" + strings.Repeat("<p>hello world</p>", 200) + "</body></html>"
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Output.Path, "index.html"), []byte(page), 0600))

	srv, _ := newTestServer(t, cfg)
	handler := srv.Handler()

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, page, w.Body.String())
	require.Equal(t, "no-store", w.Header().Get("Cache-Control"))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Accept-Encoding", "gzip")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	require.Equal(t, "gzip", w.Header().Get("Content-Encoding"))
}

func TestServer_Handler_uncompressed(t *testing.T) {
	cfg := devConfig(t)
	cfg.DevServer.Compress = false
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Output.Path, "scripts.js"), []byte(strings.Repeat("console.log(1);", 200)), 0600))

	srv, _ := newTestServer(t, cfg)

	r := httptest.NewRequest(http.MethodGet, "/scripts.js", nil)
	r.Header.Set("Accept-Encoding", "gzip")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	require.Empty(t, w.Header().Get("Content-Encoding"))
}

func TestServer_Handler_client(t *testing.T) {
	srv, _ := newTestServer(t, devConfig(t))

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, buildconfig.LiveReloadClientPath, nil))

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Header().Get("Content-Type"), "javascript")
	require.Contains(t, w.Body.String(), WebSocketPath)
	require.Contains(t, w.Body.String(), "content-changed")
}

func TestServer_Handler_cors(t *testing.T) {
	cfg := devConfig(t)
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Output.Path, "styles.css"), []byte("body{}"), 0600))

	srv, _ := newTestServer(t, cfg)
	srv.opts.CORSOrigins = []string{"http://localhost:3000"}

	r := httptest.NewRequest(http.MethodGet, "/styles.css", nil)
	r.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, r)

	require.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestServer_Serve(t *testing.T) {
	cfg := devConfig(t)
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Output.Path, "index.html"), []byte("<p>served</p>"), 0600))

	hub := NewHub(zerolog.Nop())
	srv, err := New(cfg, hub, zerolog.Nop(), Options{})
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, "<p>served</p>", string(body))

	// a live reload client receives broadcasts through the same listener
	ws := dialHub(t, ln.Addr().String(), WebSocketPath)
	require.Eventually(t, func() bool { return hub.Len() == 1 }, 5*time.Second, 10*time.Millisecond)
	hub.Broadcast("content-changed")
	require.Equal(t, "content-changed", receive(t, ws))

	cancel()
	require.NoError(t, <-done)
	require.Equal(t, 0, hub.Len())
}
