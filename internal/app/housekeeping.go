package app

import (
	"context"
	"fmt"
	"time"

	logx "groupbot/pkg/logx"
	"groupbot/pkg/systemd"
)

const (
	jobLoginSweep   = "login.sweep"
	jobAuditPrune   = "audit.prune"
	jobSystemdState = "systemd.status"
)

func (a *App) registerHousekeeping(sweepEvery time.Duration) error {
	if err := a.scheduleSweep(sweepEvery); err != nil {
		return err
	}
	if a.store != nil && a.retention > 0 {
		if err := a.sched.AddSchedule(jobAuditPrune, "@daily", time.Minute, a.pruneAudit); err != nil {
			return err
		}
	}
	return a.sched.AddInterval(jobSystemdState, time.Minute, 5*time.Second, func(context.Context) error {
		_, err := systemd.Status(a.statusLine())
		return err
	})
}

// scheduleSweep (re)registers the idle login sweeper.
func (a *App) scheduleSweep(every time.Duration) error {
	return a.sched.AddInterval(jobLoginSweep, every, 30*time.Second, func(ctx context.Context) error {
		idle := time.Duration(a.idle.Load())
		if n := a.login.Sweep(ctx, idle); n > 0 {
			a.log.Info("idle logins discarded", logx.Int("count", n), logx.Duration("idle", idle))
		}
		return nil
	})
}

func (a *App) pruneAudit(ctx context.Context) error {
	n, err := a.store.PruneAudit(ctx, time.Now().Add(-a.retention))
	if err != nil {
		return err
	}
	if n > 0 {
		a.log.Info("audit pruned", logx.Int64("rows", n), logx.Duration("retention", a.retention))
	}
	return nil
}

func (a *App) statusLine() string {
	active := a.workers.Active()
	return fmt.Sprintf("%d batches running, %d queued, %d logins", active, max(0, a.workers.Len()-active), a.login.Len())
}
