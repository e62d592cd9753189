package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	nsAdapter "github.com/nimlime/nimsuggestd/internal/adapter/nimsuggest"
	"github.com/nimlime/nimsuggestd/internal/config"
	nsDomain "github.com/nimlime/nimsuggestd/internal/domain/nimsuggest"
	"github.com/nimlime/nimsuggestd/internal/port/analyzer"
	"github.com/nimlime/nimsuggestd/internal/resilience"
)

// Observer receives session lifecycle and query outcome notifications.
// Methods are called from session workers and must not block.
type Observer interface {
	SessionStateChanged(ev nsDomain.SessionStateEvent)
	QueryDone(ev nsDomain.QueryDoneEvent)
}

type nopObserver struct{}

func (nopObserver) SessionStateChanged(nsDomain.SessionStateEvent) {}
func (nopObserver) QueryDone(nsDomain.QueryDoneEvent)               {}

// Session owns one analyzer process for a project root and serializes the
// queries sent to it. A single worker goroutine holds the in-flight slot
// and the process handle; queries are answered strictly in submission order.
type Session struct {
	root      string
	cfg       *config.Session
	launcher  analyzer.Launcher
	observer  Observer
	snapshots *nsAdapter.Snapshots
	timeouts  *resilience.Breaker

	ctx    context.Context // cancelled by Terminate
	cancel context.CancelFunc
	wake   chan struct{}
	done   chan struct{} // closed when the worker has exited

	// proc is only touched by the worker.
	proc analyzer.Process

	mu        sync.Mutex
	queue     []*Pending
	inFlight  *Pending
	state     nsDomain.SessionState
	pid       int
	restarts  int
	startedAt time.Time
	stopped   bool
}

// NewSession creates a session for root and starts its worker. The
// analyzer is spawned by the worker on the first query, or right away when
// eager start is configured.
func NewSession(root string, cfg *config.Session, launcher analyzer.Launcher, observer Observer) *Session {
	if observer == nil {
		observer = nopObserver{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		root:      root,
		cfg:       cfg,
		launcher:  launcher,
		observer:  observer,
		snapshots: nsAdapter.NewSnapshots(cfg.ScratchDir, root, uuid.NewString()),
		timeouts:  resilience.NewBreaker(cfg.MaxConsecutiveTimeouts),
		ctx:       ctx,
		cancel:    cancel,
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
		state:     nsDomain.SessionStarting,
	}
	go s.run(cfg.EagerStart)
	return s
}

// Root returns the project root the session serves.
func (s *Session) Root() string { return s.root }

// Submit enqueues q and returns immediately. cb is invoked exactly once on
// the session worker unless the query is cancelled first. A query without
// an ID gets a fresh one.
func (s *Session) Submit(q *nsDomain.Query, cb Callback) *Pending {
	if cb == nil {
		cb = func(*nsDomain.Result, error) {}
	}
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	p := newPending(s, q, cb)

	s.mu.Lock()
	if s.stopped {
		p.state = pendingInFlight
		s.mu.Unlock()
		// The worker is gone; deliver the failure off the caller's stack.
		go s.finish(p, time.Now(), nil, fmt.Errorf("%w: %s", nsDomain.ErrSessionStopped, s.root))
		return p
	}
	s.queue = append(s.queue, p)
	s.mu.Unlock()

	s.signal()
	return p
}

// Info returns a snapshot of the session.
func (s *Session) Info() nsDomain.SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return nsDomain.SessionInfo{
		Root:                s.root,
		State:               s.state,
		PID:                 s.pid,
		Queued:              len(s.queue),
		InFlight:            s.inFlight != nil,
		ConsecutiveTimeouts: s.timeouts.Failures(),
		Restarts:            s.restarts,
		StartedAt:           s.startedAt,
	}
}

// State returns the current lifecycle state.
func (s *Session) State() nsDomain.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Stopped reports whether Terminate has been called.
func (s *Session) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// Terminate stops the session: queued queries fail with ErrSessionStopped,
// an in-flight query is abandoned with the same error, the analyzer is shut
// down and the scratch directory removed. It waits for the worker to finish
// or ctx to end. Calling Terminate more than once is safe.
func (s *Session) Terminate(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	s.cancel()
	s.signal()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("terminate session %s: %w", s.root, ctx.Err())
	}
}

// Done is closed once the session has fully stopped.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Session) run(eager bool) {
	defer close(s.done)
	defer s.shutdown()

	if eager {
		if err := s.ensureProcess(); err != nil {
			slog.Warn("nimsuggest eager start failed", "root", s.root, "error", err)
		} else {
			s.setState(nsDomain.SessionReady, "")
		}
	}

	for {
		p := s.next()
		if p == nil {
			return
		}
		s.serve(p)
	}
}

// next blocks until a query is queued and moves it into the in-flight slot.
// It returns nil once the session is stopped.
func (s *Session) next() *Pending {
	for {
		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			return nil
		}
		if len(s.queue) > 0 {
			p := s.queue[0]
			s.queue[0] = nil
			s.queue = s.queue[1:]
			p.state = pendingInFlight
			s.inFlight = p
			s.mu.Unlock()
			return p
		}
		s.mu.Unlock()

		var exited <-chan struct{}
		if s.proc != nil {
			exited = s.proc.Done()
		}
		select {
		case <-s.wake:
		case <-exited:
			slog.Warn("nimsuggest exited while idle", "root", s.root)
			s.retire("process exited")
		}
	}
}

func (s *Session) serve(p *Pending) {
	start := time.Now()
	q := &p.query

	// Validate before spending a process on it.
	line, err := nsAdapter.Encode(q, "")
	if err != nil {
		s.finish(p, start, nil, err)
		return
	}

	if err := s.ensureProcess(); err != nil {
		if s.ctx.Err() != nil {
			s.finish(p, start, nil, s.stoppedErr())
			return
		}
		s.finish(p, start, nil, err)
		s.failQueued(err)
		return
	}

	if q.HasDirty {
		snap, err := s.snapshots.Write(q.Dirty)
		if err != nil {
			s.finish(p, start, nil, fmt.Errorf("dirty snapshot: %w", err))
			return
		}
		defer s.snapshots.Remove(snap)
		if line, err = nsAdapter.Encode(q, snap); err != nil {
			s.finish(p, start, nil, err)
			return
		}
	}

	sendCtx, cancel := context.WithTimeout(s.ctx, s.cfg.QueryTimeout)
	lines, err := s.proc.Send(sendCtx, line)
	cancel()

	switch {
	case err == nil:
		s.timeouts.Record(false)
		res := nsAdapter.Decode(lines)
		for _, w := range res.Warnings {
			slog.Warn("nimsuggest decode warning", "root", s.root, "query_id", q.ID, "line", w.Line, "reason", w.Reason, "text", w.Text)
		}
		s.setState(nsDomain.SessionReady, "")
		s.finish(p, start, &res, nil)

	case s.ctx.Err() != nil:
		s.finish(p, start, nil, s.stoppedErr())

	case errors.Is(err, nsDomain.ErrTimeout):
		tripped := s.timeouts.Record(true)
		slog.Warn("nimsuggest query timed out", "root", s.root, "query_id", q.ID,
			"command", q.Command, "consecutive", s.timeouts.Failures())
		if tripped {
			s.retire(fmt.Sprintf("%s: %d consecutive timeouts", nsDomain.ReasonTimeouts, s.timeouts.Failures()))
		} else {
			s.setState(nsDomain.SessionReady, "")
		}
		s.finish(p, start, nil, err)

	default:
		if !errors.Is(err, nsDomain.ErrProcessCrashed) {
			err = fmt.Errorf("%w: %v", nsDomain.ErrProcessCrashed, err)
		}
		slog.Error("nimsuggest process crashed", "root", s.root, "query_id", q.ID, "error", err)
		s.retire("process crashed")
		s.finish(p, start, nil, err)
		s.failQueued(err)
	}
}

// ensureProcess makes sure a live analyzer is attached, spawning one if
// needed. A process found dead here exited while queries were waiting for
// it; the caller fails them with the returned ErrProcessCrashed. Exits
// while the queue is empty are picked up by next.
func (s *Session) ensureProcess() error {
	if s.proc != nil {
		select {
		case <-s.proc.Done():
			slog.Error("nimsuggest exited with queries pending", "root", s.root)
			s.retire("process exited")
			return fmt.Errorf("%w: process exited", nsDomain.ErrProcessCrashed)
		default:
			s.setState(nsDomain.SessionBusy, "")
			return nil
		}
	}

	s.mu.Lock()
	respawn := s.state == nsDomain.SessionCrashed
	s.mu.Unlock()
	reason := ""
	if respawn {
		reason = nsDomain.ReasonRespawn
	}
	s.setState(nsDomain.SessionStarting, reason)

	proc, err := s.launcher.Launch(s.ctx, s.root)
	if err != nil {
		slog.Error("nimsuggest spawn failed", "root", s.root, "error", err)
		s.setState(nsDomain.SessionCrashed, err.Error())
		if !errors.Is(err, nsDomain.ErrSpawn) {
			err = fmt.Errorf("%w: %v", nsDomain.ErrSpawn, err)
		}
		return err
	}

	s.proc = proc
	s.timeouts.Reset()
	s.mu.Lock()
	s.pid = proc.PID()
	s.startedAt = time.Now()
	if respawn {
		s.restarts++
	}
	s.mu.Unlock()
	s.setState(nsDomain.SessionBusy, "")
	return nil
}

// retire detaches and terminates the current process; the next query
// spawns a fresh one. The timeout count stays visible until that spawn.
func (s *Session) retire(reason string) {
	if s.proc != nil {
		proc := s.proc
		s.proc = nil
		if err := proc.Terminate(context.Background()); err != nil {
			slog.Warn("nimsuggest terminate failed", "root", s.root, "error", err)
		}
	}
	s.mu.Lock()
	s.pid = 0
	s.mu.Unlock()
	s.setState(nsDomain.SessionCrashed, reason)
}

// failQueued fails every query still waiting, in order.
func (s *Session) failQueued(err error) {
	s.mu.Lock()
	queued := s.queue
	s.queue = nil
	for _, p := range queued {
		p.state = pendingInFlight
	}
	s.mu.Unlock()

	now := time.Now()
	for _, p := range queued {
		s.finish(p, now, nil, err)
	}
}

func (s *Session) stoppedErr() error {
	return fmt.Errorf("%w: %s", nsDomain.ErrSessionStopped, s.root)
}

// shutdown runs on the worker after Terminate: it fails what is left in the
// queue, stops the analyzer and removes the scratch directory.
func (s *Session) shutdown() {
	s.failQueued(s.stoppedErr())

	if s.proc != nil {
		if err := s.proc.Terminate(context.Background()); err != nil {
			slog.Warn("nimsuggest terminate failed", "root", s.root, "error", err)
		}
		s.proc = nil
	}
	if err := s.snapshots.Close(); err != nil {
		slog.Warn("remove scratch dir failed", "root", s.root, "error", err)
	}

	s.mu.Lock()
	s.pid = 0
	s.mu.Unlock()
	s.setState(nsDomain.SessionStopped, "terminated")
	slog.Info("session stopped", "root", s.root)
}

// finish delivers the outcome of p unless it was cancelled.
func (s *Session) finish(p *Pending, start time.Time, res *nsDomain.Result, err error) {
	s.mu.Lock()
	if s.inFlight == p {
		s.inFlight = nil
	}
	cancelled := p.state == pendingCancelled
	if !cancelled {
		p.state = pendingDone
		p.res, p.err = res, err
	}
	s.mu.Unlock()

	ev := nsDomain.QueryDoneEvent{
		ID:         p.query.ID,
		Root:       s.root,
		Command:    p.query.Command,
		File:       p.query.File,
		Outcome:    nsDomain.Outcome(err),
		DurationMS: time.Since(start).Milliseconds(),
	}
	if res != nil {
		ev.Entries = len(res.Entries)
		ev.Warnings = len(res.Warnings)
	}
	if err != nil {
		ev.Error = err.Error()
	}
	if cancelled {
		ev.Outcome = nsDomain.OutcomeCancelled
	}
	s.observer.QueryDone(ev)

	if !cancelled {
		s.invoke(p, res, err)
	}
	close(p.done)
}

func (s *Session) invoke(p *Pending, res *nsDomain.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("query callback panicked", "root", s.root, "query_id", p.query.ID,
				"panic", r, "stack", string(debug.Stack()))
		}
	}()
	p.cb(res, err)
}

// cancelPending implements Pending.Cancel.
func (s *Session) cancelPending(p *Pending) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch p.state {
	case pendingQueued:
		for i, q := range s.queue {
			if q == p {
				s.queue = append(s.queue[:i], s.queue[i+1:]...)
				break
			}
		}
		p.state = pendingCancelled
		close(p.done)
		return true
	case pendingInFlight:
		p.state = pendingCancelled
		return false
	default:
		return false
	}
}

func (s *Session) setState(state nsDomain.SessionState, reason string) {
	s.mu.Lock()
	if s.state == state {
		s.mu.Unlock()
		return
	}
	s.state = state
	ev := nsDomain.SessionStateEvent{
		Root:     s.root,
		State:    state,
		PID:      s.pid,
		Restarts: s.restarts,
		Reason:   reason,
	}
	s.mu.Unlock()

	slog.Debug("session state", "root", s.root, "state", state, "reason", reason)
	s.observer.SessionStateChanged(ev)
}
