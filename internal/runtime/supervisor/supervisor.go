// Package supervisor runs named goroutines on a shared context with panic
// recovery, per-name stats, optional cancel-on-first-error and restart loops.
package supervisor

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	logx "groupbot/pkg/logx"
)

type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc
	log    logx.Logger

	cancelOnErr bool

	wg       sync.WaitGroup
	waitOnce sync.Once
	done     chan struct{}

	started atomic.Uint64
	active  atomic.Int64

	mu       sync.Mutex
	firstErr error
	stats    map[string]*GoroutineStats
}

type Option func(*Supervisor)

type Counters struct {
	Active  int64
	Started uint64
}

// GoroutineStats aggregates the runs of goroutines sharing a name.
type GoroutineStats struct {
	Name     string
	Active   int64
	Started  uint64
	Panics   uint64
	Restarts uint64
	LastErr  string
	LastStop time.Time
}

func WithLogger(log logx.Logger) Option {
	return func(s *Supervisor) {
		if !log.IsZero() {
			s.log = log
		}
	}
}

// WithCancelOnError cancels the shared context on the first goroutine error.
func WithCancelOnError(enabled bool) Option {
	return func(s *Supervisor) { s.cancelOnErr = enabled }
}

func New(parent context.Context, opts ...Option) *Supervisor {
	s := &Supervisor{
		log:   logx.Nop(),
		done:  make(chan struct{}),
		stats: map[string]*GoroutineStats{},
	}
	s.ctx, s.cancel = context.WithCancel(parent)
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Cancel cancels the shared context without waiting.
func (s *Supervisor) Cancel() { s.cancel() }

// Err returns the first goroutine error, if any.
func (s *Supervisor) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.firstErr
}

func (s *Supervisor) Counters() Counters {
	if s == nil {
		return Counters{}
	}
	return Counters{Active: s.active.Load(), Started: s.started.Load()}
}

// Snapshot returns per-name stats, active names first.
func (s *Supervisor) Snapshot() []GoroutineStats {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	out := make([]GoroutineStats, 0, len(s.stats))
	for _, st := range s.stats {
		out = append(out, *st)
	}
	s.mu.Unlock()
	slices.SortFunc(out, func(a, b GoroutineStats) int {
		if c := cmp.Compare(b.Active, a.Active); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
	return out
}

func (s *Supervisor) update(name string, fn func(st *GoroutineStats)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stats[name]
	if !ok {
		st = &GoroutineStats{Name: name}
		s.stats[name] = st
	}
	fn(st)
}

func (s *Supervisor) begin(name string, restart bool) {
	s.update(name, func(st *GoroutineStats) {
		st.Started++
		st.Active++
		if restart {
			st.Restarts++
		}
	})
}

func (s *Supervisor) end(name string, err error) {
	s.update(name, func(st *GoroutineStats) {
		st.Active = max(0, st.Active-1)
		st.LastStop = time.Now()
		if err != nil {
			st.LastErr = err.Error()
		}
	})
}

// spawn runs body on its own goroutine, accounted for in Counters and Wait.
func (s *Supervisor) spawn(body func()) {
	s.started.Add(1)
	s.active.Add(1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.active.Add(-1)
		body()
	}()
}

// call runs fn once, turning a panic into an error.
func (s *Supervisor) call(name string, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.update(name, func(st *GoroutineStats) { st.Panics++ })
			s.log.Error("goroutine panicked", logx.String("name", name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(s.ctx)
}

func (s *Supervisor) fail(err error) {
	s.mu.Lock()
	if s.firstErr == nil {
		s.firstErr = err
	}
	s.mu.Unlock()
	if s.cancelOnErr {
		s.cancel()
	}
}

// Go runs fn once. A returned error other than context.Canceled, or a
// panic, is recorded as the supervisor error.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	s.spawn(func() {
		s.begin(name, false)
		err := s.call(name, fn)
		if err == nil || errors.Is(err, context.Canceled) {
			s.end(name, nil)
			return
		}
		err = fmt.Errorf("%s: %w", name, err)
		s.end(name, err)
		s.fail(err)
	})
}

func (s *Supervisor) Go0(name string, fn func(ctx context.Context)) {
	if fn == nil {
		return
	}
	s.Go(name, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}

func (s *Supervisor) Stop(ctx context.Context) error {
	s.cancel()
	return s.Wait(ctx)
}

// Wait blocks until every goroutine has returned or ctx is done.
func (s *Supervisor) Wait(ctx context.Context) error {
	s.waitOnce.Do(func() {
		go func() {
			s.wg.Wait()
			close(s.done)
		}()
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return s.Err()
	}
}
