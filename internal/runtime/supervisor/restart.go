package supervisor

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	logx "groupbot/pkg/logx"
)

// healthyRun is how long a run must last for the backoff to reset.
const healthyRun = 30 * time.Second

var errExited = errors.New("exited")

type RestartOption func(*restartPolicy)

type restartPolicy struct {
	min, max        time.Duration
	maxRestarts     int // <= 0 means unlimited
	stopOnCleanExit bool
}

// WithRestartBackoff sets the exponential backoff window between restarts.
func WithRestartBackoff(lo, hi time.Duration) RestartOption {
	return func(p *restartPolicy) {
		if lo > 0 {
			p.min = lo
		}
		if hi > 0 {
			p.max = hi
		}
	}
}

// WithMaxRestarts gives up after n restarts; the first run does not count.
func WithMaxRestarts(n int) RestartOption { return func(p *restartPolicy) { p.maxRestarts = n } }

// WithStopOnCleanExit controls whether a nil return ends the loop. Default true.
func WithStopOnCleanExit(enabled bool) RestartOption {
	return func(p *restartPolicy) { p.stopOnCleanExit = enabled }
}

// GoRestart runs fn and restarts it after an error or panic until the
// context is cancelled or the restart limit is reached.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error, opts ...RestartOption) {
	if fn == nil {
		return
	}
	p := restartPolicy{min: 250 * time.Millisecond, max: 30 * time.Second, stopOnCleanExit: true}
	for _, o := range opts {
		o(&p)
	}
	p.max = max(p.max, p.min)
	s.spawn(func() { s.restartLoop(name, fn, p) })
}

func (s *Supervisor) GoRestart0(name string, fn func(ctx context.Context), opts ...RestartOption) {
	if fn == nil {
		return
	}
	s.GoRestart(name, func(ctx context.Context) error {
		fn(ctx)
		return nil
	}, opts...)
}

func (s *Supervisor) restartLoop(name string, fn func(ctx context.Context) error, p restartPolicy) {
	backoff := p.min
	for restarts := 0; s.ctx.Err() == nil; restarts++ {
		s.begin(name, restarts > 0)
		began := time.Now()
		err := s.call(name, fn)

		switch {
		case s.ctx.Err() != nil || errors.Is(err, context.Canceled):
			s.end(name, nil)
			return
		case err == nil && p.stopOnCleanExit:
			s.end(name, nil)
			return
		case err == nil:
			err = errExited
		}
		s.end(name, err)

		if p.maxRestarts > 0 && restarts >= p.maxRestarts {
			s.log.Error("goroutine gave up after restarts", logx.String("name", name), logx.Int("restarts", restarts), logx.Err(err))
			s.fail(fmt.Errorf("%s: %w", name, err))
			return
		}
		if time.Since(began) >= healthyRun {
			backoff = p.min
		}
		wait := backoff + rand.N(backoff/5+1)
		s.log.Warn("goroutine restarting", logx.String("name", name), logx.Duration("backoff", wait), logx.Err(err))
		if !sleep(s.ctx, wait) {
			return
		}
		backoff = min(backoff*2, p.max)
	}
}

// sleep waits for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
