package timesync

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultTick is the wake cadence while counting down to a start instant.
const DefaultTick = 16 * time.Millisecond

// Coordinator fires a callback at an agreed server-clock instant. Each
// schedule supersedes the previous one: the pending wait is cancelled and a
// fresh clock sync is taken, since stale offsets are not trusted for precise
// timing.
type Coordinator struct {
	clock clockwork.Clock
	tick  time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
}

func NewCoordinator(clock clockwork.Clock) *Coordinator {
	return &Coordinator{
		clock: clock,
		tick:  DefaultTick,
	}
}

// Schedule resyncs via sync, then waits until startAt and invokes fire. The
// remaining time is recomputed on every wake from the current local clock
// plus the offset, so drift during the countdown cannot accumulate. A later
// Schedule replaces a pending one; fire runs at most once per call.
func (c *Coordinator) Schedule(ctx context.Context, startAt int64, sync func(context.Context) (float64, error), fire func()) error {
	offset, err := sync(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	waitCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	go c.wait(waitCtx, startAt, offset, fire)

	return nil
}

// Stop cancels any pending wait.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

func (c *Coordinator) wait(ctx context.Context, startAt int64, offset float64, fire func()) {
	for {
		serverNow := float64(c.clock.Now().UnixMilli()) + offset
		remaining := time.Duration(float64(startAt)-serverNow) * time.Millisecond

		if remaining <= 0 {
			if ctx.Err() == nil {
				fire()
			}
			return
		}

		step := remaining
		if step > c.tick {
			step = c.tick
		}

		select {
		case <-ctx.Done():
			return
		case <-c.clock.After(step):
		}
	}
}
