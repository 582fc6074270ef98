package scheduler

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"groupbot/internal/eventbus"
	logx "groupbot/pkg/logx"
)

const defaultHistorySize = 32

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = defaultHistorySize
	}
	s := &Service{cfg: cfg, log: log, bus: bus, entries: map[string]*entry{}}
	s.loc = s.location()
	return s
}

func (s *Service) location() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; using Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// Start registers every schedule with cron and begins triggering.
// Runs are cancelled when ctx is done or Stop is called.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron = cron.New(cron.WithParser(cronParser), cron.WithLocation(s.loc))
	for _, e := range s.entries {
		if err := s.registerLocked(e); err != nil {
			s.log.Error("schedule register failed", logx.String("name", e.name), logx.Err(err))
		}
	}
	s.cron.Start()
	s.log.Info("service started", logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.entries)))
}

// Stop halts triggering, cancels running jobs and waits for them until ctx is done.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c, cancel := s.cron, s.cancel
	s.cron, s.cancel = nil, nil
	for _, e := range s.entries {
		e.id = 0
	}
	s.mu.Unlock()
	if c == nil {
		return
	}

	start := time.Now()
	cancel()
	idle := make(chan struct{})
	go func() {
		<-c.Stop().Done()
		s.inflight.Wait()
		close(idle)
	}()
	select {
	case <-idle:
		s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
	case <-ctx.Done():
		s.log.Warn("stop timed out with runs in flight")
	}
}

// Snapshot lists schedules by name with their next and previous trigger,
// plus the recent run history, oldest first.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{Timezone: s.loc.String()}
	if tz := strings.TrimSpace(s.cfg.Timezone); tz != "" {
		snap.Timezone = tz
	}
	for _, e := range s.entries {
		info := ScheduleInfo{Name: e.name, Spec: e.spec, Timeout: e.timeout, Running: e.running.Load()}
		if s.cron != nil && e.id != 0 {
			ce := s.cron.Entry(e.id)
			info.Next, info.Prev = ce.Next, ce.Prev
		}
		snap.Schedules = append(snap.Schedules, info)
	}
	s.mu.Unlock()
	slices.SortFunc(snap.Schedules, func(a, b ScheduleInfo) int { return cmp.Compare(a.Name, b.Name) })

	s.histMu.Lock()
	snap.History = slices.Clone(s.history)
	s.histMu.Unlock()
	return snap
}
