package scheduler

import (
	"hash/fnv"
	"math/rand/v2"
	"time"

	"github.com/robfig/cron/v3"
)

const maxStartupSpread = 30 * time.Second

// delayedFirst fires once at first, then follows base.
type delayedFirst struct {
	base  cron.Schedule
	first time.Time
}

func (d *delayedFirst) Next(t time.Time) time.Time {
	if t.Before(d.first) {
		return d.first
	}
	return d.base.Next(t)
}

// spreadFirstRun returns an every-schedule whose first run is pushed back by
// a random amount below min(every, 30s), so jobs added together do not fire together.
func spreadFirstRun(every time.Duration, now time.Time, name string) cron.Schedule {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	rng := rand.New(rand.NewPCG(h.Sum64(), uint64(now.UnixNano())))
	jitter := time.Duration(rng.Int64N(int64(min(every, maxStartupSpread))))
	return &delayedFirst{base: cron.Every(every), first: now.Add(every + jitter)}
}
