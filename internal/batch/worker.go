package batch

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"groupbot/internal/remote"
	logx "groupbot/pkg/logx"
)

// Settings pace one batch.
type Settings struct {
	Size          int
	MinDelay      time.Duration
	MaxDelay      time.Duration
	ErrorBackoff  time.Duration
	ProgressEvery int
	TitlePrefix   string
	Members       []string
}

// Estimate returns the expected total duration bounds from the delay range.
func (s Settings) Estimate() (lo, hi time.Duration) {
	n := time.Duration(s.Size)
	return n * s.MinDelay, n * s.MaxDelay
}

// Run identifies one batch run.
type Run struct {
	ID    string
	Owner int64
	Label string
}

type EventType string

const (
	EventStarted  EventType = "batch.start"
	EventProgress EventType = "batch.progress"
	EventPaused   EventType = "batch.paused"
	EventFailed   EventType = "batch.step_failed"
	EventFinished EventType = "batch.end"
)

// Event is reported to the Reporter as the batch advances.
type Event struct {
	Type  EventType
	Run   Run
	Index int
	Total int
	// Wait and ResumeAt are set for EventPaused.
	Wait     time.Duration
	ResumeAt time.Time
	// EstimateLo and EstimateHi are set for EventStarted.
	EstimateLo time.Duration
	EstimateHi time.Duration
	Result     remote.Result
	// Summary is set for EventFinished.
	Summary *Summary
}

// Reporter receives batch events. Calls happen on the worker goroutine.
type Reporter interface {
	Report(ctx context.Context, ev Event)
}

type ReporterFunc func(ctx context.Context, ev Event)

func (f ReporterFunc) Report(ctx context.Context, ev Event) { f(ctx, ev) }

// Summary is the final outcome of a run.
type Summary struct {
	Run        Run
	State      State
	Total      int
	Created    int
	Failed     int
	RateLimits int
	Started    time.Time
	Ended      time.Time
	// Last is the result that stopped the batch early, if any.
	Last remote.Result
}

// Worker drives a Machine against one Session.
type Worker struct {
	Session  remote.Session
	Settings Settings
	Reporter Reporter
	Clock    Clock
	// Jitter draws the delay after a successful create. Defaults to Uniform.
	Jitter func(lo, hi time.Duration) time.Duration
	// Serial draws the random number in a group title. Defaults to 1000-9999.
	Serial func() int
	Log    logx.Logger

	cleanupOnce sync.Once
}

// NewRun returns a Run with a fresh id.
func NewRun(owner int64, label string) Run {
	return Run{ID: uuid.NewString(), Owner: owner, Label: label}
}

// Title formats the group title for index i.
func Title(prefix string, serial, i int) string {
	return fmt.Sprintf("%s #%d - %d", prefix, serial, i)
}

// Run executes the batch until it completes, stops early or ctx is cancelled.
// The session is disconnected and EventFinished is reported exactly once.
func (w *Worker) Run(ctx context.Context, run Run) (sum Summary) {
	w.defaults()
	s := w.Settings
	m := NewMachine(s.Size)
	sum = Summary{Run: run, Total: s.Size, Started: w.Clock.Now()}
	log := w.Log.With(logx.String("run", run.ID), logx.Int64("owner", run.Owner), logx.String("label", run.Label))

	defer w.cleanup(ctx, m, &sum, log)

	// Cancelled while queued for a slot: nothing ran, so nothing is announced.
	if ctx.Err() != nil {
		m.Cancel()
		return sum
	}

	lo, hi := s.Estimate()
	log.Info("batch started", logx.Int("size", s.Size))
	w.report(ctx, Event{Type: EventStarted, Run: run, Total: s.Size, EstimateLo: lo, EstimateHi: hi})

	for !m.Done() {
		if ctx.Err() != nil {
			m.Cancel()
			break
		}
		i := m.Index()
		title := Title(s.TitlePrefix, w.Serial(), i)
		res := w.Session.CreateGroup(ctx, s.Members, title)
		if ctx.Err() != nil {
			m.Cancel()
			break
		}

		var wait time.Duration
		switch m.Apply(res) {
		case StepCreated:
			log.Debug("group created", logx.Int("index", i), logx.String("title", title))
			if s.ProgressEvery > 0 && i%s.ProgressEvery == 0 {
				w.report(ctx, Event{Type: EventProgress, Run: run, Index: i, Total: s.Size})
			}
			if !m.Done() {
				wait = w.Jitter(s.MinDelay, s.MaxDelay)
			}
		case StepRetry:
			resume := w.Clock.Now().Add(res.Wait)
			log.Warn("rate limited", logx.Int("index", i), logx.Duration("wait", res.Wait))
			w.report(ctx, Event{Type: EventPaused, Run: run, Index: i, Total: s.Size, Wait: res.Wait, ResumeAt: resume, Result: res})
			wait = res.Wait
		case StepSkipped:
			log.Warn("create failed", logx.Int("index", i), logx.String("result", res.String()))
			w.report(ctx, Event{Type: EventFailed, Run: run, Index: i, Total: s.Size, Result: res})
			if !m.Done() {
				wait = s.ErrorBackoff
			}
		case StepStopped:
			log.Warn("batch stopped", logx.Int("index", i), logx.String("state", m.State().String()), logx.String("result", res.String()))
		}

		if wait > 0 {
			if err := w.Clock.Sleep(ctx, wait); err != nil {
				m.Cancel()
			}
		}
	}
	return sum
}

func (w *Worker) defaults() {
	if w.Clock == nil {
		w.Clock = RealClock()
	}
	if w.Jitter == nil {
		w.Jitter = Uniform
	}
	if w.Serial == nil {
		w.Serial = func() int { return 1000 + rand.IntN(9000) }
	}
	if w.Reporter == nil {
		w.Reporter = ReporterFunc(func(context.Context, Event) {})
	}
	if w.Log.IsZero() {
		w.Log = logx.Nop()
	}
}

func (w *Worker) report(ctx context.Context, ev Event) {
	w.Reporter.Report(context.WithoutCancel(ctx), ev)
}

func (w *Worker) cleanup(ctx context.Context, m *Machine, sum *Summary, log logx.Logger) {
	w.cleanupOnce.Do(func() {
		sum.State = m.State()
		sum.Created = m.Created()
		sum.Failed = m.Failed()
		sum.RateLimits = m.RateLimits()
		sum.Last = m.Last()
		sum.Ended = w.Clock.Now()

		log.Info("batch finished",
			logx.String("state", sum.State.String()),
			logx.Int("created", sum.Created),
			logx.Int("failed", sum.Failed),
			logx.Int("rate_limits", sum.RateLimits),
		)
		w.report(ctx, Event{Type: EventFinished, Run: sum.Run, Index: m.Index(), Total: sum.Total, Result: sum.Last, Summary: sum})
		w.Session.Disconnect(context.WithoutCancel(ctx))
	})
}
