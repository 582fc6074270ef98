// Package worker bounds how many batch jobs run at once and tracks one job per account.
package worker

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"groupbot/internal/runtime/supervisor"
	logx "groupbot/pkg/logx"
)

var (
	ErrAlreadyRunning = errors.New("worker: job already running for this account")
	ErrStopped        = errors.New("worker: scheduler stopped")
)

// Key identifies one account of one owner.
type Key struct {
	Owner int64
	Label string
}

func (k Key) String() string { return strconv.FormatInt(k.Owner, 10) + "/" + k.Label }

// Job runs one batch. ctx is cancelled by Cancel or Stop; if the job was cancelled
// while still queued for a slot it is called with ctx already done, so it can run
// its own cleanup without touching the remote.
type Job func(ctx context.Context)

type handle struct {
	key      Key
	cancel   context.CancelFunc
	done     chan struct{}
	queued   time.Time
	admitted atomic.Bool
}

// Info describes one tracked job.
type Info struct {
	Key      Key
	Queued   time.Time
	Admitted bool
}

type Scheduler struct {
	limit int
	sem   *semaphore.Weighted
	sup   *supervisor.Supervisor
	log   logx.Logger

	active atomic.Int64

	mu      sync.Mutex
	handles map[Key]*handle
	stopped bool
}

// New returns a scheduler admitting at most limit concurrent jobs.
func New(parent context.Context, limit int, log logx.Logger) *Scheduler {
	if limit <= 0 {
		limit = 1
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "worker"))
	return &Scheduler{
		limit:   limit,
		sem:     semaphore.NewWeighted(int64(limit)),
		sup:     supervisor.New(parent, supervisor.WithLogger(log)),
		log:     log,
		handles: map[Key]*handle{},
	}
}

// Start registers the job and returns immediately. The job runs once a slot frees up.
func (s *Scheduler) Start(key Key, job Job) error {
	if job == nil {
		return errors.New("worker: nil job")
	}
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	if _, ok := s.handles[key]; ok {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(s.sup.Context())
	h := &handle{key: key, cancel: cancel, done: make(chan struct{}), queued: time.Now()}
	s.handles[key] = h
	s.mu.Unlock()

	s.log.Debug("job queued", logx.String("key", key.String()))
	s.sup.Go0("worker.job", func(context.Context) {
		defer close(h.done)
		defer s.remove(h)
		defer cancel()

		if err := s.sem.Acquire(ctx, 1); err != nil {
			s.log.Debug("job cancelled while queued", logx.String("key", key.String()))
			job(ctx)
			return
		}
		h.admitted.Store(true)
		s.active.Add(1)
		defer func() {
			s.active.Add(-1)
			s.sem.Release(1)
		}()
		s.log.Debug("job admitted", logx.String("key", key.String()), logx.Duration("queued_for", time.Since(h.queued)))
		job(ctx)
	})
	return nil
}

// remove drops the handle only if the map still points at it; a newer job
// started under the same key after a Cancel is left alone.
func (s *Scheduler) remove(h *handle) {
	s.mu.Lock()
	if cur, ok := s.handles[h.key]; ok && cur == h {
		delete(s.handles, h.key)
	}
	s.mu.Unlock()
}

// Cancel cancels the job for key without waiting for it. Reports whether one was tracked.
func (s *Scheduler) Cancel(key Key) bool {
	s.mu.Lock()
	h, ok := s.handles[key]
	if ok {
		delete(s.handles, key)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	h.cancel()
	s.log.Debug("job cancelled", logx.String("key", key.String()))
	return true
}

// CancelOwner cancels every job of owner and returns how many were cancelled.
func (s *Scheduler) CancelOwner(owner int64) int {
	n := 0
	for _, k := range s.Keys(owner) {
		if s.Cancel(k) {
			n++
		}
	}
	return n
}

func (s *Scheduler) Running(key Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.handles[key]
	return ok
}

// Busy reports whether owner has any tracked job.
func (s *Scheduler) Busy(owner int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.handles {
		if k.Owner == owner {
			return true
		}
	}
	return false
}

// Keys lists owner's tracked jobs sorted by label.
func (s *Scheduler) Keys(owner int64) []Key {
	s.mu.Lock()
	var out []Key
	for k := range s.handles {
		if k.Owner == owner {
			out = append(out, k)
		}
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out
}

// Snapshot lists every tracked job, oldest first.
func (s *Scheduler) Snapshot() []Info {
	s.mu.Lock()
	out := make([]Info, 0, len(s.handles))
	for _, h := range s.handles {
		out = append(out, Info{Key: h.key, Queued: h.queued, Admitted: h.admitted.Load()})
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Queued.Before(out[j].Queued) })
	return out
}

// Done returns a channel closed when the job for key has fully finished.
func (s *Scheduler) Done(key Key) (<-chan struct{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handles[key]
	if !ok {
		return nil, false
	}
	return h.done, true
}

// Active counts jobs holding a slot.
func (s *Scheduler) Active() int { return int(s.active.Load()) }

// Len counts tracked jobs, queued or running.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles)
}

func (s *Scheduler) Limit() int { return s.limit }

// Stop rejects new jobs, cancels every job and waits for them to finish.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	n := len(s.handles)
	s.mu.Unlock()
	s.log.Info("stopping workers", logx.Int("jobs", n))
	return s.sup.Stop(ctx)
}
