package service

import (
	"context"

	nsDomain "github.com/nimlime/nimsuggestd/internal/domain/nimsuggest"
)

// Callback receives the outcome of a query. Exactly one of res and err is
// non-nil. It runs on the session worker, so it must not block for long.
type Callback func(res *nsDomain.Result, err error)

type pendingState int

const (
	pendingQueued pendingState = iota
	pendingInFlight
	pendingDone
	pendingCancelled
)

// Pending is a submitted query. Its callback fires exactly once unless the
// query is cancelled first.
type Pending struct {
	query   nsDomain.Query
	cb      Callback
	session *Session

	// guarded by session.mu
	state pendingState

	done chan struct{} // closed after delivery or cancellation
	res  *nsDomain.Result
	err  error
}

func newPending(s *Session, q *nsDomain.Query, cb Callback) *Pending {
	return &Pending{
		query:   *q,
		cb:      cb,
		session: s,
		done:    make(chan struct{}),
	}
}

// ID returns the query ID.
func (p *Pending) ID() string { return p.query.ID }

// Query returns a copy of the submitted query.
func (p *Pending) Query() nsDomain.Query { return p.query }

// Cancel withdraws the query. A queued query is removed and Cancel returns
// true. A query already sent cannot be aborted: its result is suppressed
// and Cancel returns false. In both cases the callback is never invoked.
func (p *Pending) Cancel() bool {
	return p.session.cancelPending(p)
}

// Done is closed once the callback has run or the query was cancelled.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Wait blocks until the result is delivered. If ctx ends first the query is
// cancelled and ctx.Err() is returned.
func (p *Pending) Wait(ctx context.Context) (*nsDomain.Result, error) {
	select {
	case <-p.done:
	case <-ctx.Done():
		if p.Cancel() {
			return nil, ctx.Err()
		}
		// In flight: delivery is suppressed unless it already happened.
		select {
		case <-p.done:
		default:
			return nil, ctx.Err()
		}
	}

	p.session.mu.Lock()
	state := p.state
	p.session.mu.Unlock()
	if state == pendingCancelled {
		return nil, context.Canceled
	}
	return p.res, p.err
}
