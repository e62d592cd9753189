package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	nsAdapter "github.com/nimlime/nimsuggestd/internal/adapter/nimsuggest"
	"github.com/nimlime/nimsuggestd/internal/config"
	nsDomain "github.com/nimlime/nimsuggestd/internal/domain/nimsuggest"
	"github.com/nimlime/nimsuggestd/internal/port/analyzer"
)

var (
	// errHang makes the fake process block until the request times out.
	errHang = errors.New("hang")
	// errCrash makes the fake process exit while handling the request.
	errCrash = errors.New("crash")
)

// respondFunc scripts the fake analyzer. launch and call are 1-based.
type respondFunc func(launch, call int, line string) ([]string, error)

type fakeLauncher struct {
	mu       sync.Mutex
	respond  respondFunc
	spawnErr error
	launches int
	procs    []*fakeProcess

	// stopDelay makes Terminate take this long before the process exits.
	stopDelay time.Duration
	live      map[string]int // root -> processes not yet exited
	maxLive   int
}

var _ analyzer.Launcher = (*fakeLauncher)(nil)

func newFakeLauncher(respond respondFunc) *fakeLauncher {
	if respond == nil {
		respond = echoResponder
	}
	return &fakeLauncher{respond: respond}
}

func (l *fakeLauncher) Launch(_ context.Context, root string) (analyzer.Process, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.spawnErr != nil {
		return nil, fmt.Errorf("%w: %v", nsDomain.ErrSpawn, l.spawnErr)
	}
	l.launches++
	p := &fakeProcess{launcher: l, launch: l.launches, root: root, done: make(chan struct{})}
	l.procs = append(l.procs, p)
	if l.live == nil {
		l.live = make(map[string]int)
	}
	l.live[root]++
	l.maxLive = max(l.maxLive, l.live[root])
	return p, nil
}

// MaxLive returns the largest number of processes alive at once for any
// single root.
func (l *fakeLauncher) MaxLive() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.maxLive
}

func (l *fakeLauncher) exited(root string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.live[root]--
}

func (l *fakeLauncher) setSpawnErr(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.spawnErr = err
}

func (l *fakeLauncher) Launches() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.launches
}

func (l *fakeLauncher) proc(i int) *fakeProcess {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.procs[i]
}

type fakeProcess struct {
	launcher *fakeLauncher
	launch   int
	root     string

	mu         sync.Mutex
	calls      int
	sent       []string
	terminated bool
	closeOnce  sync.Once
	done       chan struct{}
	inFlight   int
	maxFlight  int
}

func (p *fakeProcess) Send(ctx context.Context, line string) ([]string, error) {
	p.mu.Lock()
	p.calls++
	call := p.calls
	p.sent = append(p.sent, line)
	p.inFlight++
	if p.inFlight > p.maxFlight {
		p.maxFlight = p.inFlight
	}
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.inFlight--
		p.mu.Unlock()
	}()

	select {
	case <-p.done:
		return nil, fmt.Errorf("%w: process exited", nsDomain.ErrProcessCrashed)
	default:
	}

	lines, err := p.launcher.respond(p.launch, call, line)
	switch {
	case errors.Is(err, errHang):
		<-ctx.Done()
		return nil, fmt.Errorf("%w: %v", nsDomain.ErrTimeout, ctx.Err())
	case errors.Is(err, errCrash):
		p.exit()
		return nil, fmt.Errorf("%w: output closed", nsDomain.ErrProcessCrashed)
	case err != nil:
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, fmt.Errorf("%w: %v", nsDomain.ErrTimeout, ctx.Err())
	}
	return lines, nil
}

func (p *fakeProcess) exit() {
	p.closeOnce.Do(func() {
		p.launcher.exited(p.root)
		close(p.done)
	})
}

func (p *fakeProcess) Terminate(context.Context) error {
	p.mu.Lock()
	p.terminated = true
	p.mu.Unlock()

	p.launcher.mu.Lock()
	delay := p.launcher.stopDelay
	p.launcher.mu.Unlock()
	time.Sleep(delay)

	p.exit()
	return nil
}

func (p *fakeProcess) Done() <-chan struct{} { return p.done }
func (p *fakeProcess) PID() int               { return 1000 + p.launch }

func (p *fakeProcess) Terminated() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terminated
}

func (p *fakeProcess) Sent() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.sent...)
}

func (p *fakeProcess) MaxInFlight() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxFlight
}

// echoResponder answers every request with one definition entry pointing at
// the requested file and position.
func echoResponder(_, _ int, line string) ([]string, error) {
	return []string{echoEntry(line)}, nil
}

func echoEntry(line string) string {
	verb, loc, _ := strings.Cut(line, " ")
	file := loc
	if i := strings.LastIndexByte(file, ':'); i > 0 {
		file = file[:i]
		if j := strings.LastIndexByte(file, ':'); j > 0 {
			file = file[:j]
		}
	}
	if i := strings.IndexByte(file, ';'); i > 0 {
		file = file[:i]
	}
	return nsAdapter.EncodeEntry(&nsDomain.Entry{
		Section: verb, Kind: "skProc", Symbol: "app.run", Signature: "proc ()",
		File: strings.Trim(file, `"`), Line: 1, Column: 1,
	})
}

func testSessionConfig(t *testing.T) *config.Session {
	t.Helper()
	return &config.Session{
		QueryTimeout:           2 * time.Second,
		MaxConsecutiveTimeouts: 3,
		ScratchDir:             t.TempDir(),
	}
}

func newTestSession(t *testing.T, l *fakeLauncher, cfg *config.Session) *Session {
	t.Helper()
	if cfg == nil {
		cfg = testSessionConfig(t)
	}
	s := NewSession("/projects/app/app.nim", cfg, l, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Terminate(ctx)
	})
	return s
}

func query(file string) *nsDomain.Query {
	return &nsDomain.Query{Command: nsDomain.CommandDefinition, File: file, Line: 1, Column: 1}
}

type outcome struct {
	res *nsDomain.Result
	err error
}

// collector records callback invocations in order.
type collector struct {
	mu    sync.Mutex
	order []string
	got   map[string][]outcome
	wg    sync.WaitGroup
}

func newCollector() *collector {
	return &collector{got: make(map[string][]outcome)}
}

func (c *collector) callback(name string) Callback {
	c.wg.Add(1)
	return func(res *nsDomain.Result, err error) {
		c.mu.Lock()
		c.order = append(c.order, name)
		c.got[name] = append(c.got[name], outcome{res, err})
		c.mu.Unlock()
		c.wg.Done()
	}
}

// untracked returns a callback that is recorded but not waited for.
func (c *collector) untracked(name string) Callback {
	return func(res *nsDomain.Result, err error) {
		c.mu.Lock()
		c.order = append(c.order, name)
		c.got[name] = append(c.got[name], outcome{res, err})
		c.mu.Unlock()
	}
}

// wait blocks until all expected callbacks ran.
func (c *collector) wait(t *testing.T) {
	t.Helper()
	ch := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(ch)
	}()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for callbacks")
	}
}

func (c *collector) result(t *testing.T, name string) outcome {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.got[name]) != 1 {
		t.Fatalf("callback %s invoked %d times, want exactly once", name, len(c.got[name]))
	}
	return c.got[name][0]
}

func (c *collector) invoked(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.got[name]) > 0
}

func waitState(t *testing.T, s *Session, want nsDomain.SessionState) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if s.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("session state = %s, want %s", s.State(), want)
}

// stateRecorder records session state events.
type stateRecorder struct {
	nopObserver
	mu     sync.Mutex
	events []nsDomain.SessionStateEvent
}

func (r *stateRecorder) SessionStateChanged(ev nsDomain.SessionStateEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *stateRecorder) find(state nsDomain.SessionState) (nsDomain.SessionStateEvent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.events {
		if ev.State == state {
			return ev, true
		}
	}
	return nsDomain.SessionStateEvent{}, false
}
