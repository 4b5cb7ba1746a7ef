package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/star/passwatch/internal/metrics"
	"github.com/star/passwatch/internal/passes"
	"github.com/star/passwatch/internal/propagation"
)

// ErrClosed is returned once a Task or Client has shut down.
var ErrClosed = errors.New("worker: closed")

// TaskConfig sizes a Task.
type TaskConfig struct {
	Workers   int // goroutines serving requests
	QueueSize int // buffered requests and responses
}

// DefaultTaskConfig runs requests one at a time.
func DefaultTaskConfig() TaskConfig {
	return TaskConfig{Workers: 1, QueueSize: 64}
}

// Task serves calculatePasses requests from a buffered queue. It never
// returns an error across the boundary: failures and panics produce a
// response with no passes.
type Task struct {
	prop   *propagation.Propagator
	cfg    TaskConfig
	logger *slog.Logger

	requests  chan Request
	responses chan Response
	quit      chan struct{}

	mu       sync.Mutex
	queued   map[int64]bool // id -> cancelled before start
	inflight map[int64]context.CancelFunc

	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewTask creates a Task. Call Start before submitting.
func NewTask(prop *propagation.Propagator, cfg TaskConfig, logger *slog.Logger) *Task {
	def := DefaultTaskConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	return &Task{
		prop:      prop,
		cfg:       cfg,
		logger:    logger,
		requests:  make(chan Request, cfg.QueueSize),
		responses: make(chan Response, cfg.QueueSize),
		quit:      make(chan struct{}),
		queued:    make(map[int64]bool),
		inflight:  make(map[int64]context.CancelFunc),
	}
}

// Start launches the worker goroutines. Subsequent calls are no-ops.
func (t *Task) Start(ctx context.Context) {
	t.startOnce.Do(func() {
		for i := 0; i < t.cfg.Workers; i++ {
			t.wg.Add(1)
			go t.loop(ctx, i)
		}
		t.logger.Info("worker task started", "workers", t.cfg.Workers)
	})
}

// Stop halts the workers and waits for them. Queued requests are dropped and
// running ones are cancelled.
func (t *Task) Stop() {
	t.stopOnce.Do(func() {
		t.mu.Lock()
		close(t.quit)
		for _, cancel := range t.inflight {
			cancel()
		}
		t.mu.Unlock()
		t.wg.Wait()
		t.logger.Info("worker task stopped")
	})
}

// Done is closed when the Task stops.
func (t *Task) Done() <-chan struct{} {
	return t.quit
}

// Responses delivers one Response per request that was not cancelled.
func (t *Task) Responses() <-chan Response {
	return t.responses
}

// Submit enqueues req, blocking while the queue is full.
func (t *Task) Submit(ctx context.Context, req Request) error {
	select {
	case <-t.quit:
		return ErrClosed
	default:
	}

	t.mu.Lock()
	t.queued[req.RequestID] = false
	t.mu.Unlock()

	select {
	case t.requests <- req:
		metrics.SetWorkerQueueDepth(len(t.requests))
		return nil
	case <-ctx.Done():
		t.forget(req.RequestID)
		return ctx.Err()
	case <-t.quit:
		t.forget(req.RequestID)
		return ErrClosed
	}
}

// Cancel abandons request id. A queued request is skipped; a running one has
// its context cancelled. Unknown ids are ignored.
func (t *Task) Cancel(id int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cancel, ok := t.inflight[id]; ok {
		cancel()
		return
	}
	if _, ok := t.queued[id]; ok {
		t.queued[id] = true
	}
}

func (t *Task) forget(id int64) {
	t.mu.Lock()
	delete(t.queued, id)
	t.mu.Unlock()
}

func (t *Task) loop(ctx context.Context, n int) {
	defer t.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.quit:
			return
		case req := <-t.requests:
			metrics.SetWorkerQueueDepth(len(t.requests))
			t.serve(ctx, n, req)
		}
	}
}

func (t *Task) serve(ctx context.Context, n int, req Request) {
	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	t.mu.Lock()
	cancelled := t.queued[req.RequestID]
	delete(t.queued, req.RequestID)
	if !cancelled {
		t.inflight[req.RequestID] = cancel
	}
	select {
	case <-t.quit:
		// Stop already swept inflight.
		cancel()
	default:
	}
	t.mu.Unlock()

	if cancelled {
		t.logger.Debug("skipping cancelled request", "request_id", req.RequestID)
		return
	}

	resp := t.handle(reqCtx, n, req)

	t.mu.Lock()
	delete(t.inflight, req.RequestID)
	t.mu.Unlock()

	if reqCtx.Err() != nil && ctx.Err() == nil {
		// Cancelled mid-run; nobody is waiting.
		return
	}

	select {
	case t.responses <- resp:
	case <-t.quit:
	case <-ctx.Done():
	}
}

// handle computes passes for req, converting errors and panics into an empty
// response.
func (t *Task) handle(ctx context.Context, n int, req Request) (resp Response) {
	resp = Response{Type: TypePasses, RequestID: req.RequestID, Data: []passes.Pass{}}

	defer func() {
		if r := recover(); r != nil {
			metrics.IncWorkerPanics()
			t.logger.Error("worker panic recovered",
				"worker", n,
				"request_id", req.RequestID,
				"norad_id", req.TLE.NORADID,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
			resp.Data = []passes.Pass{}
		}
	}()

	if req.Type != TypeCalculatePasses {
		t.logger.Warn("unknown request type", "type", req.Type, "request_id", req.RequestID)
		return resp
	}

	start := time.Now()
	points, err := t.prop.Propagate(ctx, req.TLE, req.Location, req.Filters)
	if err != nil {
		t.logger.Warn("pass calculation failed",
			"request_id", req.RequestID,
			"norad_id", req.TLE.NORADID,
			"error", err,
		)
		return resp
	}

	found := passes.Build(points, req.Filters, req.Location)
	metrics.AddPassesFound(len(found))
	if found != nil {
		resp.Data = found
	}

	t.logger.Debug("passes calculated",
		"worker", n,
		"request_id", req.RequestID,
		"norad_id", req.TLE.NORADID,
		"points", len(points),
		"passes", len(found),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return resp
}
