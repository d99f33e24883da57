// Package coordinator orders writes to the persistence backend. Writes for
// one workflow run one at a time in submission order, and high-frequency
// "set current state" writes can be coalesced behind a debounce key.
package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// DefaultDelay is the debounce window used when none is configured.
const DefaultDelay = 150 * time.Millisecond

// WriteFunc performs one persistence write.
type WriteFunc func(ctx context.Context) error

type pendingWrite struct {
	workflowID string
	fn         WriteFunc
	timer      *time.Timer
}

// Coordinator serializes writes per workflow id and debounces by key.
type Coordinator struct {
	delay  time.Duration
	logger *slog.Logger

	mu      sync.Mutex
	tails   map[string]chan struct{}
	pending map[string]*pendingWrite
}

func New(delay time.Duration, logger *slog.Logger) *Coordinator {
	if delay <= 0 {
		delay = DefaultDelay
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		delay:   delay,
		logger:  logger.With("component", "storage-coordinator"),
		tails:   make(map[string]chan struct{}),
		pending: make(map[string]*pendingWrite),
	}
}

// Serialize runs fn once every write previously queued for workflowID has
// settled, and returns fn's error. Writes for different workflows do not
// wait on each other.
func (c *Coordinator) Serialize(ctx context.Context, workflowID string, fn WriteFunc) error {
	done := make(chan struct{})

	c.mu.Lock()
	prev := c.tails[workflowID]
	c.tails[workflowID] = done
	c.mu.Unlock()

	defer func() {
		close(done)
		c.mu.Lock()
		if c.tails[workflowID] == done {
			delete(c.tails, workflowID)
		}
		c.mu.Unlock()
	}()

	// The chain must not be broken, so the predecessor is awaited even if
	// ctx is already done; fn sees the cancelled ctx and fails fast.
	if prev != nil {
		<-prev
	}
	return fn(ctx)
}

// Debounce schedules fn to run through Serialize after the debounce window.
// A later call with the same key inside the window replaces fn, so only the
// last write is applied.
func (c *Coordinator) Debounce(workflowID, key string, fn WriteFunc) {
	pw := &pendingWrite{workflowID: workflowID, fn: fn}

	c.mu.Lock()
	if old, ok := c.pending[key]; ok {
		old.timer.Stop()
	}
	c.pending[key] = pw
	pw.timer = time.AfterFunc(c.delay, func() { c.fire(key, pw) })
	c.mu.Unlock()
}

func (c *Coordinator) fire(key string, pw *pendingWrite) {
	c.mu.Lock()
	if c.pending[key] != pw {
		c.mu.Unlock()
		return
	}
	delete(c.pending, key)
	c.mu.Unlock()

	if err := c.Serialize(context.Background(), pw.workflowID, pw.fn); err != nil {
		c.logger.Error("debounced write failed", "key", key, "workflowId", pw.workflowID, "error", err)
	}
}

// Flush runs every pending debounced write immediately.
func (c *Coordinator) Flush(ctx context.Context) error {
	c.mu.Lock()
	writes := make(map[string]*pendingWrite, len(c.pending))
	for key, pw := range c.pending {
		pw.timer.Stop()
		writes[key] = pw
	}
	clear(c.pending)
	c.mu.Unlock()

	var errs []error
	for key, pw := range writes {
		if err := c.Serialize(ctx, pw.workflowID, pw.fn); err != nil {
			c.logger.Error("flushed write failed", "key", key, "workflowId", pw.workflowID, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Pending reports how many debounced writes are waiting for their window.
func (c *Coordinator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
