package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"groupbot/internal/eventbus"
	logx "groupbot/pkg/logx"
)

type Config struct {
	Timezone    string // IANA name; empty means Local
	HistorySize int    // finished runs kept for Snapshot (default 32)
}

// Job is one housekeeping run. A returned error is logged and recorded, nothing more.
type Job func(ctx context.Context) error

type entry struct {
	name    string
	spec    string
	every   time.Duration // set for interval schedules
	timeout time.Duration
	job     Job

	id      cron.EntryID
	running atomic.Bool
}

type Service struct {
	log logx.Logger
	bus eventbus.Bus
	cfg Config

	mu      sync.Mutex
	loc     *time.Location
	cron    *cron.Cron
	entries map[string]*entry
	ctx     context.Context // bounds every run once started
	cancel  context.CancelFunc

	inflight sync.WaitGroup

	histMu  sync.Mutex
	history []HistoryItem
}

type ScheduleInfo struct {
	Name    string
	Spec    string
	Timeout time.Duration
	Running bool
	Next    time.Time
	Prev    time.Time
}

// HistoryItem is one finished run.
type HistoryItem struct {
	Name    string
	Started time.Time
	Took    time.Duration
	Err     string
}

type Snapshot struct {
	Timezone  string
	Schedules []ScheduleInfo
	History   []HistoryItem
}

// Event types published on the bus.
const (
	EventRunDone    = "task.done"
	EventRunSkipped = "task.skipped"
)
