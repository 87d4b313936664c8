package client

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Ryusuke-Natsui/soroban-tempo/anzan"
)

// RunPlayback steps through a sequence at a fixed tempo. Term i is shown at
// base + i×tempo, with each delay computed from the session start rather
// than chained off the previous step, so timing error never accumulates.
//
// It reports interrupted=true as soon as visible() goes false or ctx is
// cancelled; an interrupted run must be scored incorrect regardless of the
// answer. visible may be nil when the presenting surface cannot be hidden.
func RunPlayback(ctx context.Context, clock clockwork.Clock, seq anzan.Sequence, tempo time.Duration, show func(index, term int), visible func() bool) (interrupted bool) {
	base := clock.Now()

	for i, term := range seq.Terms {
		if visible != nil && !visible() {
			return true
		}

		show(i, term)

		target := base.Add(time.Duration(i+1) * tempo)
		delay := target.Sub(clock.Now())
		if delay < 0 {
			delay = 0
		}

		select {
		case <-ctx.Done():
			return true
		case <-clock.After(delay):
		}
	}

	if visible != nil && !visible() {
		return true
	}

	return false
}
