package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/singleflight"

	"github.com/nimlime/nimsuggestd/internal/config"
	nsDomain "github.com/nimlime/nimsuggestd/internal/domain/nimsuggest"
	"github.com/nimlime/nimsuggestd/internal/port/cache"
)

// RootFinder maps source files to the project root their analyzer is
// started with. Lookups are cached; a change to a marker file in any
// directory seen during discovery invalidates the cache.
type RootFinder struct {
	cfg   *config.Router
	cache cache.Cache
	group singleflight.Group
	gen   atomic.Uint64

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	watched map[string]struct{}
}

// NewRootFinder creates a RootFinder. c may be nil to disable caching.
func NewRootFinder(cfg *config.Router, c cache.Cache) *RootFinder {
	return &RootFinder{
		cfg:     cfg,
		cache:   c,
		watched: make(map[string]struct{}),
	}
}

// Ignored reports whether file matches one of the ignore patterns.
func (f *RootFinder) Ignored(file string) bool {
	p := strings.TrimPrefix(filepath.ToSlash(file), "/")
	for _, pattern := range f.cfg.Ignore {
		if ok, _ := doublestar.Match(pattern, p); ok {
			return true
		}
	}
	return false
}

// Find returns the project root for an absolute file path. It walks up
// from the file's directory to the nearest directory holding a marker. For
// a "<name>.nimble" marker the root is src/<name>.nim or <name>.nim when
// present, otherwise the directory. Without any marker the file is its own
// root.
func (f *RootFinder) Find(ctx context.Context, file string) (string, error) {
	if !filepath.IsAbs(file) {
		return "", fmt.Errorf("%w: path %q is not absolute", nsDomain.ErrInvalidQuery, file)
	}
	file = filepath.Clean(file)
	if f.Ignored(file) {
		return "", fmt.Errorf("%w: %s matches an ignore pattern", nsDomain.ErrInvalidQuery, file)
	}

	key := fmt.Sprintf("%d:%s", f.gen.Load(), file)
	if f.cache != nil {
		if v, ok, err := f.cache.Get(ctx, key); err == nil && ok {
			return string(v), nil
		}
	}

	v, err, _ := f.group.Do(key, func() (any, error) {
		root := f.discover(file)
		if f.cache != nil {
			if err := f.cache.Set(ctx, key, []byte(root), f.cfg.CacheTTL); err != nil {
				slog.Debug("root cache set failed", "file", file, "error", err)
			}
		}
		return root, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate drops every cached lookup.
func (f *RootFinder) Invalidate() {
	f.gen.Add(1)
}

func (f *RootFinder) discover(file string) string {
	dir := filepath.Dir(file)
	for {
		f.watch(dir)
		if root, ok := f.rootIn(dir); ok {
			return root
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return file
		}
		dir = parent
	}
}

func (f *RootFinder) rootIn(dir string) (string, bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}
	for _, e := range entries {
		if e.IsDir() || !f.isMarker(e.Name()) {
			continue
		}
		return mainModule(dir, e.Name()), true
	}
	return "", false
}

func (f *RootFinder) isMarker(name string) bool {
	for _, pattern := range f.cfg.Markers {
		if ok, _ := doublestar.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

// mainModule resolves the file nimsuggest should be started with for a
// project directory holding marker.
func mainModule(dir, marker string) string {
	name, ok := strings.CutSuffix(marker, ".nimble")
	if !ok || name == "" {
		return dir
	}
	for _, candidate := range []string{
		filepath.Join(dir, "src", name+".nim"),
		filepath.Join(dir, name+".nim"),
	} {
		if fi, err := os.Stat(candidate); err == nil && !fi.IsDir() {
			return candidate
		}
	}
	return dir
}

// Watch starts watching marker changes until ctx is done. Directories are
// added as discovery visits them.
func (f *RootFinder) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("marker watcher: %w", err)
	}

	f.mu.Lock()
	f.watcher = w
	f.mu.Unlock()

	go func() {
		defer func() {
			f.mu.Lock()
			f.watcher = nil
			f.watched = make(map[string]struct{})
			f.mu.Unlock()
			_ = w.Close()
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Has(fsnotify.Chmod) || !f.isMarker(filepath.Base(ev.Name)) {
					continue
				}
				slog.Info("project marker changed", "path", ev.Name, "op", ev.Op.String())
				f.Invalidate()
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Warn("marker watcher error", "error", err)
			}
		}
	}()
	return nil
}

func (f *RootFinder) watch(dir string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.watcher == nil {
		return
	}
	if _, ok := f.watched[dir]; ok {
		return
	}
	if err := f.watcher.Add(dir); err != nil {
		slog.Debug("watch dir failed", "dir", dir, "error", err)
		return
	}
	f.watched[dir] = struct{}{}
}
