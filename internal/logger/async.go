package logger

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Closer allows flushing and stopping the async handler.
type Closer interface {
	Close()
}

type nopCloser struct{}

func (nopCloser) Close() {}

// asyncRecord pairs a record with the handler that must format it, so
// WithAttrs/WithGroup children share one ordered queue.
type asyncRecord struct {
	h   slog.Handler
	rec slog.Record
}

type asyncQueue struct {
	mu      sync.RWMutex // guards closed against Handle racing Close
	closed  bool
	ch      chan asyncRecord
	done    chan struct{}
	dropped atomic.Int64
}

// AsyncHandler wraps an slog.Handler with a buffered channel drained by a
// single goroutine. Records keep their emission order, which matters when
// reading protocol traces. Records are dropped when the buffer is full so
// logging never blocks a session worker.
type AsyncHandler struct {
	inner slog.Handler
	q     *asyncQueue
}

// NewAsyncHandler creates an AsyncHandler with the given buffer capacity.
func NewAsyncHandler(inner slog.Handler, size int) *AsyncHandler {
	q := &asyncQueue{
		ch:   make(chan asyncRecord, size),
		done: make(chan struct{}),
	}
	go func() {
		defer close(q.done)
		for r := range q.ch {
			_ = r.h.Handle(context.Background(), r.rec)
		}
	}()
	return &AsyncHandler{inner: inner, q: q}
}

// Enabled delegates to the inner handler.
func (h *AsyncHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle enqueues a clone of the record. Drops if the buffer is full.
func (h *AsyncHandler) Handle(_ context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	h.q.mu.RLock()
	defer h.q.mu.RUnlock()
	if h.q.closed {
		h.q.dropped.Add(1)
		return nil
	}
	select {
	case h.q.ch <- asyncRecord{h: h.inner, rec: rec.Clone()}:
	default:
		h.q.dropped.Add(1)
	}
	return nil
}

// WithAttrs returns a handler sharing the same queue.
func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithAttrs(attrs), q: h.q}
}

// WithGroup returns a handler sharing the same queue.
func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithGroup(name), q: h.q}
}

// DroppedCount returns the number of dropped records.
func (h *AsyncHandler) DroppedCount() int64 {
	return h.q.dropped.Load()
}

// Close stops accepting records and waits until the queue is drained.
// Safe to call more than once.
func (h *AsyncHandler) Close() {
	h.q.mu.Lock()
	if !h.q.closed {
		h.q.closed = true
		close(h.q.ch)
	}
	h.q.mu.Unlock()
	<-h.q.done
}
