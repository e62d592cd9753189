package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nimlime/nimsuggestd/internal/adapter/ristretto"
	"github.com/nimlime/nimsuggestd/internal/config"
	"github.com/nimlime/nimsuggestd/internal/domain"
	nsDomain "github.com/nimlime/nimsuggestd/internal/domain/nimsuggest"
)

func writeFile(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("discard 0\n"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func testRouterConfig() *config.Router {
	d := config.Defaults()
	return &d.Router
}

func newTestRouter(t *testing.T, l *fakeLauncher) *Router {
	t.Helper()
	c, err := ristretto.New(1 << 20)
	if err != nil {
		t.Fatalf("ristretto: %v", err)
	}
	t.Cleanup(c.Close)

	r := NewRouter(testSessionConfig(t), NewRootFinder(testRouterConfig(), c), l, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = r.Shutdown(ctx)
	})
	return r
}

func TestRootFinderFind(t *testing.T) {
	dir := t.TempDir()

	// nimble project with src/<name>.nim
	writeFile(t, filepath.Join(dir, "alpha", "alpha.nimble"))
	writeFile(t, filepath.Join(dir, "alpha", "src", "alpha.nim"))
	writeFile(t, filepath.Join(dir, "alpha", "src", "alpha", "util.nim"))

	// nimble project with <name>.nim at the top
	writeFile(t, filepath.Join(dir, "beta", "beta.nimble"))
	writeFile(t, filepath.Join(dir, "beta", "beta.nim"))
	writeFile(t, filepath.Join(dir, "beta", "tests", "test1.nim"))

	// nimble project without a matching main module
	writeFile(t, filepath.Join(dir, "gamma", "other.nimble"))
	writeFile(t, filepath.Join(dir, "gamma", "src", "lib.nim"))

	// no marker at all
	writeFile(t, filepath.Join(dir, "loose", "script.nim"))

	f := NewRootFinder(testRouterConfig(), nil)
	tests := []struct {
		file string
		want string
	}{
		{filepath.Join(dir, "alpha", "src", "alpha", "util.nim"), filepath.Join(dir, "alpha", "src", "alpha.nim")},
		{filepath.Join(dir, "alpha", "src", "alpha.nim"), filepath.Join(dir, "alpha", "src", "alpha.nim")},
		{filepath.Join(dir, "beta", "tests", "test1.nim"), filepath.Join(dir, "beta", "beta.nim")},
		{filepath.Join(dir, "gamma", "src", "lib.nim"), filepath.Join(dir, "gamma")},
		{filepath.Join(dir, "loose", "script.nim"), filepath.Join(dir, "loose", "script.nim")},
	}
	for _, tt := range tests {
		t.Run(filepath.Base(tt.file), func(t *testing.T) {
			got, err := f.Find(context.Background(), tt.file)
			if err != nil {
				t.Fatalf("Find: %v", err)
			}
			if got != tt.want {
				t.Errorf("Find(%s) = %s, want %s", tt.file, got, tt.want)
			}
		})
	}
}

func TestRootFinderRejects(t *testing.T) {
	f := NewRootFinder(testRouterConfig(), nil)

	for _, file := range []string{
		"relative/app.nim",
		filepath.Join(t.TempDir(), "nimcache", "app.nim"),
	} {
		if _, err := f.Find(context.Background(), file); !errors.Is(err, nsDomain.ErrInvalidQuery) {
			t.Errorf("Find(%s): expected ErrInvalidQuery, got %v", file, err)
		}
	}
}

func TestRootFinderInvalidate(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "proj", "src", "util.nim")
	writeFile(t, file)
	writeFile(t, filepath.Join(dir, "proj", "src", "main.nim"))

	c, err := ristretto.New(1 << 20)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	f := NewRootFinder(testRouterConfig(), c)

	root, err := f.Find(context.Background(), file)
	if err != nil || root != file {
		t.Fatalf("without marker the file is its own root, got %s (%v)", root, err)
	}

	writeFile(t, filepath.Join(dir, "proj", "main.nimble"))
	if root, _ = f.Find(context.Background(), file); root != file {
		t.Fatalf("cached root should survive until invalidated, got %s", root)
	}

	f.Invalidate()
	root, err = f.Find(context.Background(), file)
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(dir, "proj", "src", "main.nim"); root != want {
		t.Fatalf("root after invalidate = %s, want %s", root, want)
	}
}

func TestRootFinderWatchInvalidates(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "proj", "lib", "util.nim")
	writeFile(t, file)

	c, err := ristretto.New(1 << 20)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	f := NewRootFinder(testRouterConfig(), c)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := f.Watch(ctx); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	if root, _ := f.Find(ctx, file); root != file {
		t.Fatalf("unexpected initial root %s", root)
	}
	writeFile(t, filepath.Join(dir, "proj", "app.nimble"))

	want := filepath.Join(dir, "proj")
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if root, _ := f.Find(ctx, file); root == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("marker creation did not invalidate the root cache")
}

func TestRouterResolveIdempotent(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "app.nimble"))
	a := filepath.Join(dir, "src", "a.nim")
	b := filepath.Join(dir, "src", "b.nim")
	writeFile(t, a)
	writeFile(t, b)

	r := newTestRouter(t, newFakeLauncher(nil))
	ctx := context.Background()

	s1, err := r.Resolve(ctx, a)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	s2, err := r.Resolve(ctx, a)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	s3, err := r.Resolve(ctx, b)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if s1 != s2 || s1 != s3 {
		t.Fatal("files of one project must share the identical session")
	}
	if s1.Root() != dir {
		t.Errorf("root = %s, want %s", s1.Root(), dir)
	}

	infos := r.Sessions()
	if len(infos) != 1 || infos[0].OpenFiles != 2 {
		t.Fatalf("unexpected sessions %+v", infos)
	}
}

func TestRouterConcurrentResolve(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "app.nimble"))
	file := filepath.Join(dir, "app.nim")
	writeFile(t, file)

	l := newFakeLauncher(nil)
	r := newTestRouter(t, l)

	const n = 20
	sessions := make([]*Session, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := r.Resolve(context.Background(), file)
			if err != nil {
				t.Errorf("Resolve: %v", err)
				return
			}
			sessions[i] = s
			_ = wait(t, s.Submit(query(file), nil))
		}()
	}
	wg.Wait()

	for _, s := range sessions[1:] {
		if s != sessions[0] {
			t.Fatal("concurrent resolves created more than one session")
		}
	}
	if l.Launches() != 1 {
		t.Fatalf("expected one analyzer, got %d", l.Launches())
	}
}

func TestRouterCloseFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "app.nimble"))
	a := filepath.Join(dir, "a.nim")
	b := filepath.Join(dir, "b.nim")
	writeFile(t, a)
	writeFile(t, b)

	r := newTestRouter(t, newFakeLauncher(nil))
	ctx := context.Background()

	s, _ := r.Resolve(ctx, a)
	_, _ = r.Resolve(ctx, b)

	if err := r.CloseFile(ctx, a); err != nil {
		t.Fatalf("CloseFile: %v", err)
	}
	if s.Stopped() {
		t.Fatal("session stopped while a file is still open")
	}

	if err := r.CloseFile(ctx, b); err != nil {
		t.Fatalf("CloseFile: %v", err)
	}
	if !s.Stopped() || s.State() != nsDomain.SessionStopped {
		t.Fatal("closing the last file should stop the session")
	}
	if len(r.Sessions()) != 0 {
		t.Fatal("stopped session still listed")
	}

	if err := r.CloseFile(ctx, a); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("closing an unknown file: expected ErrNotFound, got %v", err)
	}

	s2, err := r.Resolve(ctx, a)
	if err != nil {
		t.Fatal(err)
	}
	if s2 == s {
		t.Fatal("resolve after stop must create a fresh session")
	}
}

func TestRouterResolveWaitsForStoppingSession(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "app.nimble"))
	file := filepath.Join(dir, "app.nim")
	writeFile(t, file)

	l := newFakeLauncher(nil)
	l.stopDelay = 300 * time.Millisecond
	r := newTestRouter(t, l)
	ctx := context.Background()

	old, err := r.Resolve(ctx, file)
	if err != nil {
		t.Fatal(err)
	}
	if err := wait(t, old.Submit(query(file), nil)); err != nil {
		t.Fatal(err)
	}

	closed := make(chan error, 1)
	go func() { closed <- r.CloseFile(ctx, file) }()
	deadline := time.Now().Add(5 * time.Second)
	for !old.Stopped() {
		if time.Now().After(deadline) {
			t.Fatal("session was not asked to stop")
		}
		time.Sleep(time.Millisecond)
	}

	s, err := r.Resolve(ctx, file)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if s == old {
		t.Fatal("resolve after close returned the stopping session")
	}
	select {
	case <-old.Done():
	default:
		t.Fatal("new session created before the old one finished stopping")
	}
	if err := wait(t, s.Submit(query(file), nil)); err != nil {
		t.Fatalf("query on new session: %v", err)
	}
	if err := <-closed; err != nil {
		t.Fatalf("CloseFile: %v", err)
	}
	if l.Launches() != 2 || l.MaxLive() != 1 {
		t.Fatalf("launches %d, max live analyzers per root %d; want 2 and 1", l.Launches(), l.MaxLive())
	}
}

func TestRouterTerminate(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "solo.nim")
	writeFile(t, file)

	r := newTestRouter(t, newFakeLauncher(nil))
	ctx := context.Background()

	s, err := r.Resolve(ctx, file)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Terminate(ctx, s.Root()); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	if !s.Stopped() {
		t.Fatal("session not stopped")
	}
	if err := r.Terminate(ctx, s.Root()); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, ok := r.Session(s.Root()); ok {
		t.Fatal("terminated session still reachable")
	}
}

func TestRouterShutdown(t *testing.T) {
	dir := t.TempDir()
	var files []string
	for _, name := range []string{"one", "two", "three"} {
		f := filepath.Join(dir, name, name+".nim")
		writeFile(t, f)
		files = append(files, f)
	}

	r := newTestRouter(t, newFakeLauncher(nil))
	ctx := context.Background()

	var sessions []*Session
	for _, f := range files {
		s, err := r.Resolve(ctx, f)
		if err != nil {
			t.Fatal(err)
		}
		sessions = append(sessions, s)
	}
	if len(r.Sessions()) != 3 {
		t.Fatalf("expected 3 sessions, got %d", len(r.Sessions()))
	}

	if err := r.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	for _, s := range sessions {
		if !s.Stopped() {
			t.Errorf("session %s still running", s.Root())
		}
	}
	if len(r.Sessions()) != 0 {
		t.Fatal("sessions left after shutdown")
	}
}
