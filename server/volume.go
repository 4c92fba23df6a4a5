package server

import (
	"context"
	"sync"
	"time"
)

// volumeCoalescer collapses bursts of slider requests onto one mixer
// write at a time. The newest requested level wins; each caller gets the
// result of a write issued no earlier than its own request.
type volumeCoalescer struct {
	set     func(ctx context.Context, level int) (int, error)
	timeout time.Duration

	mu      sync.Mutex
	cond    *sync.Cond
	running bool
	pending int
	reqSeq  uint64
	doneSeq uint64
	level   int
	err     error
}

func newVolumeCoalescer(set func(ctx context.Context, level int) (int, error)) *volumeCoalescer {
	c := &volumeCoalescer{set: set, timeout: 5 * time.Second}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Set requests level and waits for a covering write.
func (c *volumeCoalescer) Set(ctx context.Context, level int) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.reqSeq++
	mine := c.reqSeq
	c.pending = level
	if !c.running {
		c.running = true
		go c.drain()
	}
	for c.doneSeq < mine {
		c.cond.Wait()
	}
	return c.level, c.err
}

func (c *volumeCoalescer) drain() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for c.doneSeq < c.reqSeq {
		level, seq := c.pending, c.reqSeq
		c.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		written, err := c.set(ctx, level)
		cancel()

		c.mu.Lock()
		c.level, c.err = written, err
		c.doneSeq = seq
		c.cond.Broadcast()
	}
	c.running = false
}
