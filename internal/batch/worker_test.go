package batch

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"groupbot/internal/remote"
	"groupbot/internal/remote/remotetest"
)

type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	sleeps  []time.Duration
	onSleep func(ctx context.Context, d time.Duration) error
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	hook := c.onSleep
	c.mu.Unlock()
	if hook != nil {
		return hook(ctx, d)
	}
	return ctx.Err()
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Report(_ context.Context, ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) of(tt EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.Type == tt {
			out = append(out, ev)
		}
	}
	return out
}

var testSettings = Settings{
	Size:          50,
	MinDelay:      400 * time.Second,
	MaxDelay:      800 * time.Second,
	ErrorBackoff:  60 * time.Second,
	ProgressEvery: 10,
	TitlePrefix:   "Automated Group",
	Members:       []string{"BotFather"},
}

func newWorker(sess *remotetest.Session, clock *fakeClock, rec *recorder) *Worker {
	return &Worker{
		Session:  sess,
		Settings: testSettings,
		Reporter: rec,
		Clock:    clock,
		Jitter:   func(lo, _ time.Duration) time.Duration { return lo },
	}
}

func TestRunCompletesBatch(t *testing.T) {
	t.Parallel()
	sess := &remotetest.Session{}
	clock := &fakeClock{now: time.Unix(0, 0)}
	rec := &recorder{}

	sum := newWorker(sess, clock, rec).Run(context.Background(), NewRun(1, "default"))

	assert.Equal(t, Completed, sum.State)
	assert.Equal(t, 50, sum.Created)
	require.Len(t, sess.Titles(), 50)
	assert.Regexp(t, regexp.MustCompile(`^Automated Group #[1-9]\d{3} - 1$`), sess.Titles()[0])
	assert.Regexp(t, regexp.MustCompile(` - 50$`), sess.Titles()[49])

	progress := rec.of(EventProgress)
	require.Len(t, progress, 5)
	assert.Equal(t, 10, progress[0].Index)
	assert.Equal(t, 50, progress[4].Index)

	assert.Len(t, clock.Sleeps(), 49)
	assert.Len(t, rec.of(EventStarted), 1)
	assert.Len(t, rec.of(EventFinished), 1)
	assert.Equal(t, 1, sess.Disconnects())
}

func TestRunRetriesSameIndexAfterRateLimit(t *testing.T) {
	t.Parallel()
	sess := &remotetest.Session{CreateFunc: func(call int, _ string) remote.Result {
		if call == 3 {
			return remote.Limited(5*time.Second, nil)
		}
		return remote.Ok()
	}}
	clock := &fakeClock{}
	rec := &recorder{}

	sum := newWorker(sess, clock, rec).Run(context.Background(), NewRun(1, "default"))

	assert.Equal(t, 50, sum.Created)
	assert.Equal(t, 1, sum.RateLimits)
	assert.Equal(t, 51, sess.CreateCalls())
	assert.Regexp(t, regexp.MustCompile(` - 3$`), sess.Titles()[2])
	assert.Equal(t, 5*time.Second, clock.Sleeps()[2])

	paused := rec.of(EventPaused)
	require.Len(t, paused, 1)
	assert.Equal(t, 3, paused[0].Index)
	assert.Equal(t, 5*time.Second, paused[0].Wait)
}

func TestRunStopsOnRestriction(t *testing.T) {
	t.Parallel()
	sess := &remotetest.Session{CreateFunc: func(call int, _ string) remote.Result {
		if call == 10 {
			return remote.Fail(remote.Restricted, remote.ReasonNone, errors.New("USER_RESTRICTED"))
		}
		return remote.Ok()
	}}
	rec := &recorder{}

	sum := newWorker(sess, &fakeClock{}, rec).Run(context.Background(), NewRun(1, "default"))

	assert.Equal(t, Restricted, sum.State)
	assert.Equal(t, 9, sum.Created)
	assert.Equal(t, 10, sess.CreateCalls())
	assert.Equal(t, remote.Restricted, sum.Last.Kind)
	assert.Equal(t, 1, sess.Disconnects())
}

func TestRunSkipsGenericFailure(t *testing.T) {
	t.Parallel()
	sess := &remotetest.Session{CreateFunc: func(call int, _ string) remote.Result {
		if call == 4 {
			return remote.Fail(remote.Failed, remote.ReasonUnknown, errors.New("timeout"))
		}
		return remote.Ok()
	}}
	clock := &fakeClock{}
	rec := &recorder{}

	sum := newWorker(sess, clock, rec).Run(context.Background(), NewRun(1, "default"))

	assert.Equal(t, Completed, sum.State)
	assert.Equal(t, 49, sum.Created)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 50, sess.CreateCalls())
	assert.Equal(t, 60*time.Second, clock.Sleeps()[3])
	require.Len(t, rec.of(EventFailed), 1)
	assert.Equal(t, 4, rec.of(EventFailed)[0].Index)
}

func TestRunInvalidatedOnDeauth(t *testing.T) {
	t.Parallel()
	sess := &remotetest.Session{CreateFunc: func(call int, _ string) remote.Result {
		if call == 2 {
			return remote.Fail(remote.Fatal, remote.ReasonDeauthorized, nil)
		}
		return remote.Ok()
	}}
	sum := newWorker(sess, &fakeClock{}, &recorder{}).Run(context.Background(), NewRun(1, "default"))
	assert.Equal(t, Invalidated, sum.State)
	assert.True(t, sum.Last.Invalidates())
}

func TestCancelMidSleepCleansUpOnce(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sleeping := make(chan struct{}, 1)
	clock := &fakeClock{onSleep: func(ctx context.Context, _ time.Duration) error {
		select {
		case sleeping <- struct{}{}:
		default:
		}
		<-ctx.Done()
		return ctx.Err()
	}}
	sess := &remotetest.Session{}
	rec := &recorder{}
	w := newWorker(sess, clock, rec)

	done := make(chan Summary, 1)
	go func() { done <- w.Run(ctx, NewRun(1, "default")) }()

	<-sleeping
	cancel()
	var sum Summary
	select {
	case sum = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after cancel")
	}

	assert.Equal(t, Cancelled, sum.State)
	assert.Equal(t, 1, sum.Created)
	assert.Len(t, rec.of(EventFinished), 1)
	assert.Equal(t, 1, sess.Disconnects())
	assert.Equal(t, 1, sess.CreateCalls())
}

func TestRunCancelledBeforeStartSkipsAnnouncement(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sess := &remotetest.Session{}
	rec := &recorder{}

	sum := newWorker(sess, &fakeClock{}, rec).Run(ctx, NewRun(1, "default"))

	assert.Equal(t, Cancelled, sum.State)
	assert.Zero(t, sum.Created)
	assert.Empty(t, rec.of(EventStarted))
	assert.Len(t, rec.of(EventFinished), 1)
	assert.Zero(t, sess.CreateCalls())
	assert.Equal(t, 1, sess.Disconnects())
}

func TestProgressIsOneBased(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	w := newWorker(&remotetest.Session{}, &fakeClock{}, rec)
	w.Settings.Size = 25

	w.Run(context.Background(), NewRun(1, "default"))

	var idx []int
	for _, ev := range rec.of(EventProgress) {
		idx = append(idx, ev.Index)
	}
	assert.Equal(t, []int{10, 20}, idx)
}

func TestEstimate(t *testing.T) {
	t.Parallel()
	lo, hi := testSettings.Estimate()
	assert.Equal(t, 50*400*time.Second, lo)
	assert.Equal(t, 50*800*time.Second, hi)
}
