package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"groupbot/internal/eventbus"
	logx "groupbot/pkg/logx"
)

// AddSchedule registers job under name using any format ParseSchedule accepts.
// An existing schedule with the same name is replaced.
func (s *Service) AddSchedule(name, schedule string, timeout time.Duration, job Job) error {
	spec, err := ParseSchedule(schedule)
	if err != nil {
		return err
	}
	if spec.Interval() {
		return s.AddInterval(name, spec.Every, timeout, job)
	}
	return s.add(&entry{name: name, spec: spec.Cron, timeout: timeout, job: job})
}

// AddInterval runs job every interval. The first run gets a random startup delay.
func (s *Service) AddInterval(name string, every, timeout time.Duration, job Job) error {
	if every <= 0 {
		return errors.New("interval must be > 0")
	}
	return s.add(&entry{name: name, spec: "@every " + every.String(), every: every, timeout: timeout, job: job})
}

func (s *Service) add(e *entry) error {
	e.name = strings.TrimSpace(e.name)
	switch {
	case e.name == "":
		return errors.New("name required")
	case e.job == nil:
		return errors.New("job required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(e.name)
	s.entries[e.name] = e
	if s.cron == nil {
		return nil
	}
	if err := s.registerLocked(e); err != nil {
		delete(s.entries, e.name)
		return fmt.Errorf("schedule %s: %w", e.name, err)
	}
	s.log.Debug("schedule registered",
		logx.String("name", e.name),
		logx.String("spec", e.spec),
		logx.Duration("timeout", e.timeout),
		logx.Any("next", s.cron.Entry(e.id).Next))
	return nil
}

func (s *Service) registerLocked(e *entry) error {
	job := cron.FuncJob(func() { s.run(e) })
	if e.every > 0 {
		e.id = s.cron.Schedule(spreadFirstRun(e.every, time.Now().In(s.loc), e.name), job)
		return nil
	}
	id, err := s.cron.AddJob(e.spec, job)
	if err != nil {
		return err
	}
	e.id = id
	return nil
}

// Remove unschedules name and reports whether it existed.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	ok := s.removeLocked(strings.TrimSpace(name))
	s.mu.Unlock()
	if ok {
		s.log.Debug("schedule removed", logx.String("name", name))
	}
	return ok
}

func (s *Service) removeLocked(name string) bool {
	e, ok := s.entries[name]
	if !ok {
		return false
	}
	if s.cron != nil && e.id != 0 {
		s.cron.Remove(e.id)
	}
	delete(s.entries, name)
	return true
}

// RunNow runs name synchronously, outside its schedule. An overlapping run is skipped.
func (s *Service) RunNow(name string) bool {
	s.mu.Lock()
	e, ok := s.entries[name]
	s.mu.Unlock()
	if ok {
		s.run(e)
	}
	return ok
}

func (s *Service) run(e *entry) {
	if !e.running.CompareAndSwap(false, true) {
		s.log.Debug("schedule trigger skipped", logx.String("schedule", e.name))
		s.emit(EventRunSkipped, e.name, nil)
		return
	}
	defer e.running.Store(false)

	s.mu.Lock()
	parent := s.ctx
	s.mu.Unlock()
	if parent == nil {
		parent = context.Background()
	}
	if parent.Err() != nil {
		return
	}
	s.inflight.Add(1)
	defer s.inflight.Done()

	ctx, cancel := parent, context.CancelFunc(func() {})
	if e.timeout > 0 {
		ctx, cancel = context.WithTimeout(parent, e.timeout)
	}
	defer cancel()

	item := HistoryItem{Name: e.name, Started: time.Now()}
	err := s.call(ctx, e)
	item.Took = time.Since(item.Started)
	if err != nil {
		item.Err = err.Error()
		s.log.Warn("schedule run failed", logx.String("schedule", e.name), logx.Duration("took", item.Took), logx.Err(err))
	} else {
		s.log.Debug("schedule run done", logx.String("schedule", e.name), logx.Duration("took", item.Took))
	}
	s.record(item)
	s.emit(EventRunDone, e.name, err)
}

func (s *Service) call(ctx context.Context, e *entry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("schedule run panicked", logx.String("schedule", e.name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return e.job(ctx)
}

func (s *Service) record(it HistoryItem) {
	s.histMu.Lock()
	defer s.histMu.Unlock()
	s.history = append(s.history, it)
	if over := len(s.history) - s.cfg.HistorySize; over > 0 {
		s.history = append(s.history[:0:0], s.history[over:]...)
	}
}

func (s *Service) emit(typ, name string, err error) {
	if s.bus == nil {
		return
	}
	data := map[string]any{"schedule": name}
	if err != nil {
		data["err"] = err.Error()
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: data})
}
