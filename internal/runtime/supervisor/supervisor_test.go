package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGoRecoversPanic(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	s.Go0("boom", func(context.Context) { panic("kaboom") })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := s.Wait(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")

	snap := s.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, uint64(1), snap[0].Panics)
	assert.Equal(t, int64(0), snap[0].Active)
}

func TestCancelOnError(t *testing.T) {
	t.Parallel()
	s := New(context.Background(), WithCancelOnError(true))
	stopped := make(chan struct{})
	s.Go0("waiter", func(ctx context.Context) {
		<-ctx.Done()
		close(stopped)
	})
	s.Go("failer", func(context.Context) error { return errors.New("bad") })

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("first error did not cancel the supervisor")
	}
	assert.EqualError(t, s.Err(), "failer: bad")
}

func TestGoRestartGivesUp(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	var runs atomic.Int32
	s.GoRestart("flaky", func(context.Context) error {
		runs.Add(1)
		return errors.New("nope")
	}, WithRestartBackoff(time.Millisecond, 2*time.Millisecond), WithMaxRestarts(2))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.Error(t, s.Wait(ctx))
	assert.Equal(t, int32(3), runs.Load())
}

func TestStopCountsCanceledAsClean(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	s.Go("loop", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	assert.Equal(t, int64(0), s.Counters().Active)
}

func TestGoRestartStatsUseOneName(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	var runs atomic.Int32
	s.GoRestart("poll", func(ctx context.Context) error {
		if runs.Add(1) < 3 {
			return errors.New("flap")
		}
		return nil
	}, WithRestartBackoff(time.Millisecond, time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Wait(ctx))

	snap := s.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "poll", snap[0].Name)
	assert.Equal(t, uint64(3), snap[0].Started)
	assert.Equal(t, uint64(2), snap[0].Restarts)
	assert.Equal(t, "flap", snap[0].LastErr)
}
