package anchorstore

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
)

// ErrWorkerClosed is returned by operations on a closed Worker.
var ErrWorkerClosed = errors.New("anchorstore: worker closed")

type request struct {
	ctx   context.Context
	flush bool
	resp  chan result
}

type result struct {
	doc Document
	err error
}

// Worker moves document I/O off the caller's tick.
//
// Saves go into a single-slot mailbox: a newer snapshot replaces one that has
// not been written yet, which is safe because every snapshot is a complete
// document. Loads and flushes are served by the same goroutine after any
// pending snapshot is committed, so a Save that returned before a Load was
// issued is always visible to that Load.
//
// Failures of background commits are delivered on Failures.
type Worker struct {
	store  Store
	logger *slog.Logger

	mu      sync.Mutex
	pending *Document

	kick     chan struct{}
	reqCh    chan request
	failures chan error

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

var _ Store = (*Worker)(nil)

// NewWorker starts a worker that owns store.
func NewWorker(store Store, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	w := &Worker{
		store:    store,
		logger:   logger,
		kick:     make(chan struct{}, 1),
		reqCh:    make(chan request),
		failures: make(chan error, 8),
		stopCh:   make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *Worker) run() {
	defer close(w.stopped)
	for {
		select {
		case <-w.stopCh:
			if err := w.commit(context.Background()); err != nil {
				w.logger.Error("anchorstore: final commit failed", slog.String("error", err.Error()))
			}
			return

		case <-w.kick:
			if err := w.commit(context.Background()); err != nil {
				w.report(err)
			}

		case req := <-w.reqCh:
			err := w.commit(req.ctx)
			if req.flush {
				req.resp <- result{err: err}
				continue
			}
			if err != nil {
				w.report(err)
			}
			doc, lerr := w.store.Load(req.ctx)
			req.resp <- result{doc: doc, err: lerr}
		}
	}
}

func (w *Worker) commit(ctx context.Context) error {
	w.mu.Lock()
	doc := w.pending
	w.pending = nil
	w.mu.Unlock()
	if doc == nil {
		return nil
	}
	return w.store.Save(ctx, *doc)
}

func (w *Worker) report(err error) {
	w.logger.Warn("anchorstore: background save failed", slog.String("error", err.Error()))
	select {
	case w.failures <- err:
	default:
	}
}

// Save queues a snapshot of doc and returns without waiting for the write.
func (w *Worker) Save(_ context.Context, doc Document) error {
	snapshot := doc.Clone()
	w.mu.Lock()
	if w.closed.Load() {
		w.mu.Unlock()
		return ErrWorkerClosed
	}
	w.pending = &snapshot
	w.mu.Unlock()

	select {
	case w.kick <- struct{}{}:
	default:
	}
	return nil
}

// Load commits any pending snapshot, then reads the document.
func (w *Worker) Load(ctx context.Context) (Document, error) {
	res, err := w.do(ctx, false)
	if err != nil {
		return Document{}, err
	}
	return res.doc, res.err
}

// Flush blocks until every queued snapshot is written.
func (w *Worker) Flush(ctx context.Context) error {
	res, err := w.do(ctx, true)
	if err != nil {
		return err
	}
	return res.err
}

func (w *Worker) do(ctx context.Context, flush bool) (result, error) {
	if w.closed.Load() {
		return result{}, ErrWorkerClosed
	}
	req := request{ctx: ctx, flush: flush, resp: make(chan result, 1)}
	select {
	case w.reqCh <- req:
	case <-ctx.Done():
		return result{}, ctx.Err()
	case <-w.stopped:
		return result{}, ErrWorkerClosed
	}
	select {
	case res := <-req.resp:
		return res, nil
	case <-w.stopped:
		return result{}, ErrWorkerClosed
	}
}

// Failures reports errors from background commits.
func (w *Worker) Failures() <-chan error { return w.failures }

// Close writes any pending snapshot and stops the worker. A Save that
// returned nil before Close is always part of the final commit.
func (w *Worker) Close() {
	w.mu.Lock()
	first := w.closed.CompareAndSwap(false, true)
	w.mu.Unlock()
	if first {
		close(w.stopCh)
	}
	<-w.stopped
}
