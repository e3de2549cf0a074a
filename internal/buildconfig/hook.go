package buildconfig

import (
	"path/filepath"
	"slices"
	"time"
)

// Pass describes one completed build pass.
type Pass struct {
	// Modified holds the files changed since the previous pass and their
	// modification times. It is nil for the first pass.
	Modified map[string]time.Time
	Outputs  []string
	Errors   []string
	Duration time.Duration
}

// Failed reports whether the pass produced errors.
func (p Pass) Failed() bool {
	return len(p.Errors) > 0
}

// DoneNotifier calls registered observers after every build pass.
type DoneNotifier interface {
	OnDone(fn func(Pass))
}

// Broadcaster sends a message to every connected development client.
type Broadcaster interface {
	Broadcast(msg string)
}

// ReloadHook tells connected browsers to reload when a template or markup
// file changed, which the script bundle's own change tracking does not see.
type ReloadHook struct {
	WatchExtensions []string `json:"watchExtensions" yaml:"watchExtensions"`
	Message         string   `json:"message" yaml:"message"`
}

// Register subscribes the hook to every pass completed by compiler.
func (h *ReloadHook) Register(compiler DoneNotifier, clients Broadcaster) {
	compiler.OnDone(func(pass Pass) {
		h.OnDone(pass, clients)
	})
}

// OnDone broadcasts Message at most once if any modified file has a watched
// extension. It reports whether a broadcast was sent.
func (h *ReloadHook) OnDone(pass Pass, clients Broadcaster) bool {
	for path := range pass.Modified {
		if slices.Contains(h.WatchExtensions, filepath.Ext(path)) {
			clients.Broadcast(h.Message)
			return true
		}
	}
	return false
}
