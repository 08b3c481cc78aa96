package registry

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"promptline/internal/common/fsutil"
)

// DefaultDebounce is how long a path must stay quiet before it is reloaded.
const DefaultDebounce = 200 * time.Millisecond

// Change describes one applied library update.
type Change struct {
	Section Section
	ID      string
	Path    string
	Removed bool
	Err     error
}

// Watcher reloads library entries as their files change on disk.
type Watcher struct {
	lib      *Library
	log      zerolog.Logger
	debounce time.Duration

	mu      sync.Mutex
	pending map[string]time.Time
}

// NewWatcher returns a watcher for lib. A non-positive debounce uses DefaultDebounce.
func NewWatcher(lib *Library, debounce time.Duration, log zerolog.Logger) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{lib: lib, log: log, debounce: debounce, pending: make(map[string]time.Time)}
}

// Run watches the library until ctx is done, calling fn after every reload.
func (w *Watcher) Run(ctx context.Context, fn func(Change)) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	if err := fw.Add(w.lib.Dir); err != nil {
		return err
	}
	for _, sec := range Sections {
		w.addSection(fw, filepath.Join(w.lib.Dir, string(sec)))
	}

	tick := time.NewTicker(w.debounce / 2)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) && filepath.Dir(ev.Name) == w.lib.Dir {
				w.addSection(fw, ev.Name)
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
				w.mark(ev.Name)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn().Err(err).Msg("library watch error")
		case now := <-tick.C:
			for _, p := range w.due(now) {
				c := w.apply(p)
				if fn != nil {
					fn(c)
				}
			}
		}
	}
}

func (w *Watcher) addSection(fw *fsnotify.Watcher, dir string) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return
	}
	for _, sec := range Sections {
		if filepath.Base(dir) == string(sec) {
			if err := fw.Add(dir); err != nil {
				w.log.Warn().Err(err).Str("dir", dir).Msg("cannot watch library section")
			}
			return
		}
	}
}

func (w *Watcher) mark(path string) {
	if _, _, ok := w.lib.Locate(path); !ok {
		return
	}
	w.mu.Lock()
	w.pending[path] = time.Now()
	w.mu.Unlock()
}

func (w *Watcher) due(now time.Time) []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []string
	for p, at := range w.pending {
		if now.Sub(at) >= w.debounce {
			out = append(out, p)
			delete(w.pending, p)
		}
	}
	return out
}

func (w *Watcher) apply(path string) Change {
	sec, id, err := w.lib.Reload(path)
	c := Change{Section: sec, ID: id, Path: path, Removed: err == nil && !fsutil.PathExists(path), Err: err}
	ev := w.log.Debug()
	if err != nil {
		ev = w.log.Warn().Err(err)
	}
	ev.Str("section", string(sec)).Str("id", id).Bool("removed", c.Removed).Msg("library entry reloaded")
	return c
}
