package service

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/nimlime/nimsuggestd/internal/config"
	"github.com/nimlime/nimsuggestd/internal/domain"
	nsDomain "github.com/nimlime/nimsuggestd/internal/domain/nimsuggest"
	"github.com/nimlime/nimsuggestd/internal/port/analyzer"
)

// Router maps files to project sessions. There is exactly one live session
// per project root; the sessions map and its mutex are the only guard
// against creating a second one. A session being terminated stays in
// stopping until its worker has exited, so its analyzer is gone before a
// replacement for the same root can spawn one.
type Router struct {
	cfg      *config.Session
	roots    *RootFinder
	launcher analyzer.Launcher
	observer Observer

	mu       sync.Mutex
	sessions map[string]*Session // root -> session
	stopping map[string]*Session // root -> session still shutting down
	files    map[string]string   // open file -> root
}

// NewRouter creates a Router. observer may be nil.
func NewRouter(cfg *config.Session, roots *RootFinder, launcher analyzer.Launcher, observer Observer) *Router {
	return &Router{
		cfg:      cfg,
		roots:    roots,
		launcher: launcher,
		observer: observer,
		sessions: make(map[string]*Session),
		stopping: make(map[string]*Session),
		files:    make(map[string]string),
	}
}

// Resolve returns the session owning file, creating it when the project
// root has none. The file is registered as open in that project. Resolving
// files of the same project returns the identical *Session. When the
// previous session of the root is still stopping, Resolve waits for it.
func (r *Router) Resolve(ctx context.Context, file string) (*Session, error) {
	root, err := r.roots.Find(ctx, file)
	if err != nil {
		return nil, err
	}
	file = filepath.Clean(file)

	for {
		r.mu.Lock()
		s, ok := r.sessions[root]
		if ok && !s.Stopped() {
			r.files[file] = root
			r.mu.Unlock()
			return s, nil
		}

		old := r.stopping[root]
		if old == nil && ok {
			old = s
		}
		if old != nil {
			select {
			case <-old.Done():
				r.forget(root, old)
			default:
				r.mu.Unlock()
				select {
				case <-old.Done():
				case <-ctx.Done():
					return nil, fmt.Errorf("wait for session %s to stop: %w", root, ctx.Err())
				}
				continue
			}
		}

		s = NewSession(root, r.cfg, r.launcher, r.observer)
		r.sessions[root] = s
		r.files[file] = root
		r.mu.Unlock()
		slog.Info("session created", "root", root, "file", file)
		return s, nil
	}
}

// forget drops s from both maps if it is still the entry for root. r.mu
// must be held.
func (r *Router) forget(root string, s *Session) {
	if r.sessions[root] == s {
		delete(r.sessions, root)
	}
	if r.stopping[root] == s {
		delete(r.stopping, root)
	}
}

// stop terminates s, keeping it in stopping until the worker has exited.
// r.mu must not be held.
func (r *Router) stop(ctx context.Context, root string, s *Session) error {
	err := s.Terminate(ctx)
	if err == nil {
		r.mu.Lock()
		r.forget(root, s)
		r.mu.Unlock()
	}
	return err
}

// Session returns the live session for root.
func (r *Router) Session(root string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[root]
	if !ok || s.Stopped() {
		return nil, false
	}
	return s, true
}

// CloseFile unregisters an open file. When it was the last open file of its
// project the session is terminated.
func (r *Router) CloseFile(ctx context.Context, file string) error {
	file = filepath.Clean(file)

	r.mu.Lock()
	root, ok := r.files[file]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("file %s: %w", file, domain.ErrNotFound)
	}
	delete(r.files, file)

	for _, other := range r.files {
		if other == root {
			r.mu.Unlock()
			return nil
		}
	}
	s := r.sessions[root]
	if s == nil {
		r.mu.Unlock()
		return nil
	}
	delete(r.sessions, root)
	r.stopping[root] = s
	r.mu.Unlock()

	slog.Info("last file closed, stopping session", "root", root)
	return r.stop(ctx, root, s)
}

// Terminate stops the session for root and forgets its open files.
func (r *Router) Terminate(ctx context.Context, root string) error {
	r.mu.Lock()
	s, ok := r.sessions[root]
	if ok {
		delete(r.sessions, root)
		r.stopping[root] = s
		for f, owner := range r.files {
			if owner == root {
				delete(r.files, f)
			}
		}
	}
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("session %s: %w", root, domain.ErrNotFound)
	}
	return r.stop(ctx, root, s)
}

// Sessions returns a snapshot of every session, sorted by root.
func (r *Router) Sessions() []nsDomain.SessionInfo {
	r.mu.Lock()
	open := make(map[string]int, len(r.sessions))
	for _, root := range r.files {
		open[root]++
	}
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	infos := make([]nsDomain.SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		info := s.Info()
		info.OpenFiles = open[info.Root]
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Root < infos[j].Root })
	return infos
}

// Shutdown terminates every session in parallel.
func (r *Router) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.files = make(map[string]string)
	for root, s := range sessions {
		r.stopping[root] = s
	}
	r.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for root, s := range sessions {
		g.Go(func() error {
			return r.stop(gctx, root, s)
		})
	}
	return g.Wait()
}
