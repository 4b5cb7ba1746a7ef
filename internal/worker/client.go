package worker

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/star/passwatch/internal/metrics"
	"github.com/star/passwatch/internal/passes"
	"github.com/star/passwatch/internal/propagation"
	"github.com/star/passwatch/internal/tle"
)

// Client correlates requests sent to a Task with their responses.
// Delivery is at most once; responses may arrive in any order.
type Client struct {
	task   *Task
	logger *slog.Logger

	nextID atomic.Int64

	mu      sync.Mutex
	pending map[int64]chan Response
	closed  bool

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient creates a Client for task and starts its dispatcher.
func NewClient(task *Task, logger *slog.Logger) *Client {
	c := &Client{
		task:    task,
		logger:  logger,
		pending: make(map[int64]chan Response),
		done:    make(chan struct{}),
	}
	go c.dispatch()
	return c
}

// CalculatePasses sends one calculatePasses request and waits for its
// response. If ctx ends first the request is withdrawn from the Task.
func (c *Client) CalculatePasses(ctx context.Context, rec tle.Record, loc propagation.Location, filters propagation.SearchFilters) ([]passes.Pass, error) {
	id := c.nextID.Add(1)
	ch := make(chan Response, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.pending[id] = ch
	metrics.SetWorkerPendingRequests(len(c.pending))
	c.mu.Unlock()

	req := Request{
		Type:      TypeCalculatePasses,
		RequestID: id,
		TLE:       rec,
		Location:  loc,
		Filters:   filters,
	}
	if err := c.task.Submit(ctx, req); err != nil {
		c.remove(id)
		return nil, err
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, ErrClosed
		}
		return resp.Data, nil
	case <-ctx.Done():
		c.remove(id)
		c.task.Cancel(id)
		return nil, ctx.Err()
	}
}

// Pending returns the number of requests awaiting a response.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Close stops dispatching. Waiting calls return ErrClosed.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.failPending()
		close(c.done)
	})
	return nil
}

func (c *Client) dispatch() {
	for {
		select {
		case <-c.done:
			return
		case <-c.task.Done():
			c.failPending()
			return
		case resp := <-c.task.Responses():
			c.deliver(resp)
		}
	}
}

func (c *Client) deliver(resp Response) {
	c.mu.Lock()
	ch, ok := c.pending[resp.RequestID]
	delete(c.pending, resp.RequestID)
	metrics.SetWorkerPendingRequests(len(c.pending))
	c.mu.Unlock()

	if !ok {
		c.logger.Debug("dropping response for unknown request", "request_id", resp.RequestID)
		return
	}
	ch <- resp
}

func (c *Client) remove(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	metrics.SetWorkerPendingRequests(len(c.pending))
	c.mu.Unlock()
}

func (c *Client) failPending() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	metrics.SetWorkerPendingRequests(0)
}
