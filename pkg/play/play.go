// Package play watches a prompt file and re-runs it on every save.
package play

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Runner executes one pass over the prompt file's contents. Every save
// triggers a fresh pass; no state carries over between passes.
type Runner func(ctx context.Context, prompt string) error

const defaultDebounce = 300 * time.Millisecond

// Watcher re-runs a prompt file whenever it changes on disk. Editors
// tend to emit several filesystem events per save, so events are
// debounced before a pass starts.
type Watcher struct {
	path     string
	run      Runner
	debounce time.Duration
	log      zerolog.Logger
	fs       *fsnotify.Watcher
}

// New sets up a watcher for path. The parent directory is watched
// rather than the file itself: editors that save via rename-and-replace
// would otherwise silently drop the watch.
func New(path string, run Runner, log zerolog.Logger) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fs.Add(filepath.Dir(abs)); err != nil {
		fs.Close()
		return nil, err
	}
	return &Watcher{
		path:     abs,
		run:      run,
		debounce: defaultDebounce,
		log:      log.With().Str("component", "play").Logger(),
		fs:       fs,
	}, nil
}

// Watch runs an initial pass over the file, then blocks re-running it
// on each save until ctx is canceled. A failing pass is logged and does
// not stop the watch.
func (w *Watcher) Watch(ctx context.Context) error {
	w.pass(ctx)

	var pending time.Time
	tick := time.NewTicker(w.debounce / 4)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if w.matches(ev) {
				pending = time.Now()
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.log.Warn().Err(err).Msg("watch error")
		case now := <-tick.C:
			if !pending.IsZero() && now.Sub(pending) >= w.debounce {
				pending = time.Time{}
				w.pass(ctx)
			}
		}
	}
}

// Close stops the underlying filesystem watcher, which in turn unblocks
// Watch.
func (w *Watcher) Close() error {
	return w.fs.Close()
}

func (w *Watcher) matches(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
		return false
	}
	return filepath.Clean(ev.Name) == w.path
}

func (w *Watcher) pass(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		w.log.Warn().Err(err).Msg("read prompt file")
		return
	}
	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		return
	}
	if err := w.run(ctx, prompt); err != nil && ctx.Err() == nil {
		w.log.Error().Err(err).Msg("pass failed")
	}
}
