package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "groupbot/pkg/logx"
)

func newScheduler(t *testing.T, limit int) *Scheduler {
	t.Helper()
	s := New(context.Background(), limit, logx.Nop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	})
	return s
}

func waitDone(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
}

func TestStartRejectsDuplicateKey(t *testing.T) {
	t.Parallel()
	s := newScheduler(t, 5)
	key := Key{Owner: 1, Label: "default"}
	release := make(chan struct{})
	defer close(release)

	var wg sync.WaitGroup
	var ok, dup atomic.Int32
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Start(key, func(ctx context.Context) {
				select {
				case <-release:
				case <-ctx.Done():
				}
			})
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, ErrAlreadyRunning):
				dup.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, int32(19), dup.Load())
	assert.Equal(t, 1, s.Len())
}

func TestGateNeverAdmitsBeyondLimit(t *testing.T) {
	t.Parallel()
	s := newScheduler(t, 2)
	release := make(chan struct{})
	var running, peak atomic.Int32
	started := make(chan struct{}, 3)

	job := func(ctx context.Context) {
		if ctx.Err() != nil {
			return
		}
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		started <- struct{}{}
		<-release
		running.Add(-1)
	}
	for i := range 3 {
		require.NoError(t, s.Start(Key{Owner: int64(i + 1), Label: "a"}, job))
	}

	<-started
	<-started
	select {
	case <-started:
		t.Fatal("third job ran while the gate was full")
	case <-time.After(100 * time.Millisecond):
	}
	assert.Equal(t, 2, s.Active())
	assert.Equal(t, 3, s.Len())

	close(release)
	waitDone(t, started)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestCancelRunningJob(t *testing.T) {
	t.Parallel()
	s := newScheduler(t, 1)
	key := Key{Owner: 9, Label: "x"}
	stopped := make(chan struct{})
	require.NoError(t, s.Start(key, func(ctx context.Context) {
		<-ctx.Done()
		close(stopped)
	}))
	done, ok := s.Done(key)
	require.True(t, ok)

	assert.True(t, s.Cancel(key))
	waitDone(t, stopped)
	waitDone(t, done)
	assert.False(t, s.Running(key))
	assert.False(t, s.Cancel(key))
}

func TestCancelWhileQueuedStillCallsJob(t *testing.T) {
	t.Parallel()
	s := newScheduler(t, 1)
	block := make(chan struct{})
	defer close(block)
	require.NoError(t, s.Start(Key{Owner: 1, Label: "a"}, func(ctx context.Context) {
		select {
		case <-block:
		case <-ctx.Done():
		}
	}))

	key := Key{Owner: 2, Label: "a"}
	sawCancelled := make(chan bool, 1)
	require.NoError(t, s.Start(key, func(ctx context.Context) { sawCancelled <- ctx.Err() != nil }))
	require.True(t, s.Cancel(key))

	select {
	case got := <-sawCancelled:
		assert.True(t, got)
	case <-time.After(2 * time.Second):
		t.Fatal("queued job was not called after cancel")
	}
}

func TestStaleCleanupKeepsNewerHandle(t *testing.T) {
	t.Parallel()
	s := newScheduler(t, 2)
	key := Key{Owner: 3, Label: "a"}

	firstExit := make(chan struct{})
	require.NoError(t, s.Start(key, func(ctx context.Context) {
		<-ctx.Done()
		<-firstExit
	}))
	oldDone, _ := s.Done(key)
	require.True(t, s.Cancel(key))

	block := make(chan struct{})
	defer close(block)
	require.NoError(t, s.Start(key, func(ctx context.Context) {
		select {
		case <-block:
		case <-ctx.Done():
		}
	}))

	close(firstExit)
	waitDone(t, oldDone)
	assert.True(t, s.Running(key))
}

func TestOwnerQueries(t *testing.T) {
	t.Parallel()
	s := newScheduler(t, 5)
	block := make(chan struct{})
	defer close(block)
	job := func(ctx context.Context) {
		select {
		case <-block:
		case <-ctx.Done():
		}
	}
	require.NoError(t, s.Start(Key{Owner: 1, Label: "b"}, job))
	require.NoError(t, s.Start(Key{Owner: 1, Label: "a"}, job))
	require.NoError(t, s.Start(Key{Owner: 2, Label: "a"}, job))

	assert.Equal(t, []Key{{1, "a"}, {1, "b"}}, s.Keys(1))
	assert.True(t, s.Busy(2))
	assert.False(t, s.Busy(3))
	assert.Equal(t, 2, s.CancelOwner(1))
	assert.False(t, s.Busy(1))
}

func TestStopCancelsAndRejects(t *testing.T) {
	t.Parallel()
	s := New(context.Background(), 1, logx.Nop())
	var cleaned atomic.Int32
	for i := range 3 {
		require.NoError(t, s.Start(Key{Owner: int64(i), Label: "a"}, func(ctx context.Context) {
			<-ctx.Done()
			cleaned.Add(1)
		}))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	assert.Equal(t, int32(3), cleaned.Load())
	assert.ErrorIs(t, s.Start(Key{Owner: 9, Label: "a"}, func(context.Context) {}), ErrStopped)
	assert.Equal(t, 0, s.Len())
}
