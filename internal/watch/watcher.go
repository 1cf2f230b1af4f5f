// SPDX-License-Identifier: MPL-2.0

// Package watch triggers debounced rescans when addon storage changes.
//
// A Watcher monitors every storage location recursively and calls OnChange
// once the location has been quiet for the debounce period. Events within
// the window are coalesced so the callback fires once with every changed
// path. Locations that do not exist yet are picked up when they are
// created, provided their parent directory exists.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet period used when Config.Debounce is unset.
const DefaultDebounce = 500 * time.Millisecond

// ErrAlreadyRunning is returned by a second call to Run.
var ErrAlreadyRunning = errors.New("watch: Run called more than once")

// defaultIgnores are always excluded: VCS metadata, editor swap files and
// OS metadata that change without touching an addon.
var defaultIgnores = []string{
	"**/.git/**",
	"**/*.swp",
	"**/*.swo",
	"**/*~",
	"**/.DS_Store",
}

type (
	// Config holds the parameters for a Watcher.
	Config struct {
		// Locations are the storage roots to watch.
		Locations []string

		// Ignore are doublestar patterns, relative to the location, merged
		// with the built-in ignores.
		Ignore []string

		// Debounce is the quiet period after the last event. Zero or
		// negative values use DefaultDebounce.
		Debounce time.Duration

		// OnChange receives the deduplicated absolute paths that changed.
		// A nil callback is a no-op.
		OnChange func(ctx context.Context, changed []string) error

		// Logger reports skipped paths and callback errors. Nil discards.
		Logger *log.Logger
	}

	// Watcher fires a debounced callback when addon storage changes. Run
	// must be called exactly once.
	Watcher struct {
		cfg       Config
		fsw       *fsnotify.Watcher
		ignores   []string
		debounce  time.Duration
		locations []string
		logger    *log.Logger
		started   atomic.Bool
		fired     atomic.Uint64
	}
)

// New resolves the locations, validates the ignore patterns and registers
// every non-ignored directory for monitoring.
func New(cfg Config) (*Watcher, error) {
	if len(cfg.Locations) == 0 {
		return nil, errors.New("watch: no locations to watch")
	}
	if err := validatePatterns(cfg.Ignore); err != nil {
		return nil, err
	}

	locations := make([]string, 0, len(cfg.Locations))
	for _, loc := range cfg.Locations {
		abs, err := filepath.Abs(loc)
		if err != nil {
			return nil, fmt.Errorf("watch: resolve location %q: %w", loc, err)
		}
		locations = append(locations, abs)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		cfg:       cfg,
		fsw:       fsw,
		ignores:   append(slices.Clone(defaultIgnores), cfg.Ignore...),
		debounce:  cfg.Debounce,
		locations: locations,
		logger:    cfg.Logger,
	}
	if w.debounce <= 0 {
		w.debounce = DefaultDebounce
	}
	if w.logger == nil {
		w.logger = log.New(io.Discard)
	}

	for _, loc := range locations {
		if err := w.addLocation(loc); err != nil {
			fsw.Close() //nolint:errcheck // best-effort cleanup
			return nil, err
		}
	}
	return w, nil
}

// Fired returns how many times OnChange has been called.
func (w *Watcher) Fired() uint64 { return w.fired.Load() }

// Run blocks until ctx is canceled, dispatching debounced callbacks. It
// returns nil on cancellation and an error when the watcher breaks.
func (w *Watcher) Run(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	var (
		mu      sync.Mutex
		pending = make(map[string]struct{})
		timer   *time.Timer
		running atomic.Bool
	)

	// fire may run after cancellation; OnChange gets ctx for that case.
	// A callback still running when the timer fires again is not doubled;
	// the timer is re-armed so the pending set is not lost. A failed
	// callback puts its paths back and re-arms the timer.
	fire := func() {
		if ctx.Err() != nil {
			return
		}
		if !running.CompareAndSwap(false, true) {
			w.logger.Debug("previous rescan still running, deferring")
			mu.Lock()
			if timer != nil {
				timer.Reset(w.debounce)
			}
			mu.Unlock()
			return
		}
		defer running.Store(false)

		mu.Lock()
		if len(pending) == 0 {
			mu.Unlock()
			return
		}
		changed := slices.Sorted(maps.Keys(pending))
		clear(pending)
		mu.Unlock()

		w.fired.Add(1)
		if w.cfg.OnChange != nil {
			if err := w.cfg.OnChange(ctx, changed); err != nil {
				if ctx.Err() != nil {
					return
				}
				w.logger.Error("rescan failed, retrying", "err", err)
				mu.Lock()
				for _, p := range changed {
					pending[p] = struct{}{}
				}
				if timer != nil {
					timer.Reset(w.debounce)
				}
				mu.Unlock()
			}
		}
	}

	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
		if err := w.fsw.Close(); err != nil {
			w.logger.Warn("close fsnotify", "err", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case evt, ok := <-w.fsw.Events:
			if !ok {
				return errors.New("watch: fsnotify event channel closed unexpectedly")
			}
			loc, rel, ok := w.locate(evt.Name)
			if !ok || w.isIgnored(rel) {
				continue
			}
			if evt.Has(fsnotify.Create) {
				w.maybeAddTree(loc, evt.Name)
			}

			mu.Lock()
			pending[filepath.Clean(evt.Name)] = struct{}{}
			if timer == nil {
				timer = time.AfterFunc(w.debounce, fire)
			} else {
				timer.Reset(w.debounce)
			}
			mu.Unlock()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return errors.New("watch: fsnotify error channel closed unexpectedly")
			}
			if isFatalFsnotifyError(err) {
				return fmt.Errorf("watch: fatal fsnotify error: %w", err)
			}
			w.logger.Warn("fsnotify error", "err", err)
		}
	}
}

// addLocation watches loc recursively, or its parent when loc does not
// exist yet.
func (w *Watcher) addLocation(loc string) error {
	info, err := os.Stat(loc)
	switch {
	case err == nil && info.IsDir():
		return w.addTree(loc, loc)
	case err == nil:
		return fmt.Errorf("watch: location %q is not a directory", loc)
	case errors.Is(err, os.ErrNotExist):
		parent := filepath.Dir(loc)
		if _, perr := os.Stat(parent); perr != nil {
			w.logger.Warn("location and its parent are missing, not watching", "location", loc)
			return nil
		}
		if err := w.fsw.Add(parent); err != nil {
			return fmt.Errorf("watch: add parent of %q: %w", loc, err)
		}
		return nil
	default:
		return fmt.Errorf("watch: stat location %q: %w", loc, err)
	}
}

// addTree adds every non-ignored directory under root.
func (w *Watcher) addTree(loc, root string) error {
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			w.logger.Warn("skipping inaccessible path", "path", path, "err", walkErr)
			return nil //nolint:nilerr // inaccessible paths are skipped
		}
		if !d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(loc, path)
		if relErr != nil {
			return nil //nolint:nilerr // not under the location
		}
		if w.isIgnored(rel) || w.isIgnored(rel+"/") {
			return filepath.SkipDir
		}
		if addErr := w.fsw.Add(path); addErr != nil {
			return fmt.Errorf("watch: add directory %q: %w", path, addErr)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("watch: walk %q: %w", root, err)
	}
	return nil
}

// maybeAddTree extends the watch to a directory created after startup.
func (w *Watcher) maybeAddTree(loc, path string) {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return
	}
	if err := w.addTree(loc, path); err != nil {
		w.logger.Warn("watch new directory", "path", path, "err", err)
	}
}

// locate returns the location containing path and path relative to it.
// Events for siblings of a missing location are rejected.
func (w *Watcher) locate(path string) (loc, rel string, ok bool) {
	path = filepath.Clean(path)
	for _, l := range w.locations {
		if path == l {
			return l, ".", true
		}
		if strings.HasPrefix(path, l+string(filepath.Separator)) {
			r, err := filepath.Rel(l, path)
			if err != nil {
				return "", "", false
			}
			return l, r, true
		}
	}
	return "", "", false
}

func (w *Watcher) isIgnored(rel string) bool {
	normalized := filepath.ToSlash(rel)
	for _, pat := range w.ignores {
		if matched, err := doublestar.Match(pat, normalized); err == nil && matched {
			return true
		}
	}
	return false
}

// DefaultIgnores returns a copy of the built-in ignore patterns.
func DefaultIgnores() []string {
	return slices.Clone(defaultIgnores)
}

func validatePatterns(patterns []string) error {
	for _, pat := range patterns {
		if !doublestar.ValidatePattern(pat) {
			return fmt.Errorf("watch: invalid ignore pattern %q: %w", pat, doublestar.ErrBadPattern)
		}
	}
	return nil
}
