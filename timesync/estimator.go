// Package timesync estimates the offset between the server clock and a
// client's local clock from round-trip probes, and schedules work to fire at
// an agreed server-clock instant.
package timesync

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
)

// Probe counts and spacing. The spacing desynchronizes probes from network
// bursts; more samples are taken right before a start, when skew matters
// most.
const (
	DefaultSamples  = 5
	PreStartSamples = 7
	DefaultInterval = 90 * time.Millisecond
)

// Sample is one request/response probe: local dispatch and receipt times and
// the server instant reported in between, all in epoch milliseconds.
type Sample struct {
	T0        int64
	T1        int64
	ServerNow int64
}

// Offset is this sample's estimate of serverClock − localClock, anchored at
// the one-way-adjusted local midpoint.
func (s Sample) Offset() float64 {
	mid := float64(s.T0) + float64(s.T1-s.T0)/2

	return float64(s.ServerNow) - mid
}

// Estimate is the arithmetic mean of the sample offsets. No outlier
// rejection; callers trade accuracy for latency through the sample count.
func Estimate(samples []Sample) float64 {
	if len(samples) == 0 {
		return 0
	}

	sum := 0.0
	for _, s := range samples {
		sum += s.Offset()
	}

	return sum / float64(len(samples))
}

// TimeSource reports the server's current instant in epoch milliseconds.
type TimeSource interface {
	ServerNow(ctx context.Context) (int64, error)
}

// Sampler collects clock probes. Each Sync call is independent and produces
// a fresh estimate; the reference behavior is to always use the latest.
type Sampler struct {
	Source   TimeSource
	Clock    clockwork.Clock
	Interval time.Duration
}

// NewSampler uses the real clock and the default probe spacing.
func NewSampler(source TimeSource) *Sampler {
	return &Sampler{
		Source:   source,
		Clock:    clockwork.NewRealClock(),
		Interval: DefaultInterval,
	}
}

// Sync issues n probes and returns the mean offset in milliseconds.
func (s *Sampler) Sync(ctx context.Context, n int) (float64, error) {
	clock := s.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	samples := make([]Sample, 0, n)
	for i := 0; i < n; i++ {
		if i > 0 && s.Interval > 0 {
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-clock.After(s.Interval):
			}
		}

		t0 := clock.Now().UnixMilli()
		serverNow, err := s.Source.ServerNow(ctx)
		if err != nil {
			return 0, err
		}
		t1 := clock.Now().UnixMilli()

		samples = append(samples, Sample{T0: t0, T1: t1, ServerNow: serverNow})
	}

	return Estimate(samples), nil
}
