package timesync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTick = 100 * time.Millisecond

func noSync(ctx context.Context) (float64, error) { return 0, nil }

func TestCoordinatorFiresAtStartInstant(t *testing.T) {
	fc := clockwork.NewFakeClock()
	c := NewCoordinator(fc)
	c.tick = testTick

	startAt := fc.Now().UnixMilli() + 3000
	fired := make(chan int64, 1)

	err := c.Schedule(context.Background(), startAt, noSync, func() {
		fired <- fc.Now().UnixMilli()
	})
	require.NoError(t, err)

	for i := 0; i < 30; i++ {
		fc.BlockUntil(1)
		fc.Advance(testTick)
	}

	select {
	case at := <-fired:
		assert.Equal(t, startAt, at)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for fire")
	}
}

func TestCoordinatorAppliesOffset(t *testing.T) {
	fc := clockwork.NewFakeClock()
	c := NewCoordinator(fc)
	c.tick = testTick

	// The server runs 500ms ahead, so the local wait is that much shorter.
	startAt := fc.Now().UnixMilli() + 3000
	fired := make(chan int64, 1)

	err := c.Schedule(context.Background(), startAt, func(ctx context.Context) (float64, error) {
		return 500, nil
	}, func() {
		fired <- fc.Now().UnixMilli()
	})
	require.NoError(t, err)

	for i := 0; i < 25; i++ {
		fc.BlockUntil(1)
		fc.Advance(testTick)
	}

	select {
	case at := <-fired:
		assert.Equal(t, startAt-500, at)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for fire")
	}
}

func TestCoordinatorScheduleSupersedes(t *testing.T) {
	fc := clockwork.NewFakeClock()
	c := NewCoordinator(fc)
	c.tick = testTick

	firedA := make(chan struct{}, 1)
	firedB := make(chan struct{}, 1)

	err := c.Schedule(context.Background(), fc.Now().UnixMilli()+10000, noSync, func() {
		firedA <- struct{}{}
	})
	require.NoError(t, err)

	// An already-due target fires without waiting on the clock.
	err = c.Schedule(context.Background(), fc.Now().UnixMilli(), noSync, func() {
		firedB <- struct{}{}
	})
	require.NoError(t, err)

	select {
	case <-firedB:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for superseding fire")
	}

	fc.Advance(11 * time.Second)

	select {
	case <-firedA:
		t.Fatal("superseded schedule fired")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCoordinatorStop(t *testing.T) {
	fc := clockwork.NewFakeClock()
	c := NewCoordinator(fc)
	c.tick = testTick

	fired := make(chan struct{}, 1)

	err := c.Schedule(context.Background(), fc.Now().UnixMilli()+3000, noSync, func() {
		fired <- struct{}{}
	})
	require.NoError(t, err)

	fc.BlockUntil(1)
	c.Stop()
	fc.Advance(5 * time.Second)

	select {
	case <-fired:
		t.Fatal("stopped schedule fired")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCoordinatorSyncError(t *testing.T) {
	fc := clockwork.NewFakeClock()
	c := NewCoordinator(fc)

	boom := errors.New("probe failed")
	err := c.Schedule(context.Background(), fc.Now().UnixMilli()+1000, func(ctx context.Context) (float64, error) {
		return 0, boom
	}, func() {
		t.Error("fired despite sync failure")
	})

	require.ErrorIs(t, err, boom)
}
