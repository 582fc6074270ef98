package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"groupbot/internal/batch"
	"groupbot/internal/chat"
	"groupbot/internal/eventbus"
	"groupbot/internal/storage"
	logx "groupbot/pkg/logx"
)

// humanDuration renders d as "5 hours", "12 minutes".
func humanDuration(d time.Duration) string {
	if d < time.Second {
		return "a moment"
	}
	t := time.Unix(0, 0)
	return strings.TrimSpace(humanize.RelTime(t, t.Add(d), "", ""))
}

func accountName(label string) string {
	return `"` + label + `"`
}

// reportBatch turns batch events into chat messages, bus events and audit rows.
func (a *App) reportBatch(ctx context.Context, ev batch.Event) {
	owner := ev.Run.Owner
	var (
		text string
		menu = chat.MenuKeep
	)
	switch ev.Type {
	case batch.EventStarted:
		text = fmt.Sprintf(msgBatchStartedFmt, ev.Total, accountName(ev.Run.Label), humanDuration(ev.EstimateLo), humanDuration(ev.EstimateHi))
		a.audit(ctx, storage.AuditEntry{Owner: owner, Label: ev.Run.Label, Event: storage.EventBatchStart, RunID: ev.Run.ID})
	case batch.EventProgress:
		text = fmt.Sprintf(msgBatchProgressFmt, ev.Index, ev.Total)
	case batch.EventPaused:
		text = fmt.Sprintf(msgBatchPausedFmt, humanDuration(ev.Wait), ev.ResumeAt.Format("15:04:05"))
	case batch.EventFailed:
		text = fmt.Sprintf(msgBatchStepFailFmt, ev.Index)
	case batch.EventFinished:
		text, menu = a.finishBatch(ctx, ev), chat.MenuMain
	}

	a.bus.Publish(eventbus.Event{Type: string(ev.Type), Data: batchEventData(ev)})
	if text != "" {
		a.reply(ctx, owner, text, menu)
	}
}

// finishBatch records the outcome and drops a credential the provider invalidated.
func (a *App) finishBatch(ctx context.Context, ev batch.Event) string {
	sum := ev.Summary
	if sum == nil {
		return ""
	}
	run := sum.Run
	a.audit(ctx, storage.AuditEntry{
		Owner:   run.Owner,
		Label:   run.Label,
		Event:   storage.EventBatchEnd,
		RunID:   run.ID,
		Outcome: sum.State.String(),
		Created: sum.Created,
		Failed:  sum.Failed,
		Detail:  lastDetail(sum),
	})

	var lines []string
	switch sum.State {
	case batch.Restricted:
		lines = append(lines, msgBatchRestricted)
	case batch.Invalidated:
		if _, err := a.vault.Delete(run.Owner, run.Label); err != nil {
			a.log.Error("delete invalidated credential failed", logx.Int64("owner", run.Owner), logx.String("label", run.Label), logx.Err(err))
		}
		a.audit(ctx, storage.AuditEntry{Owner: run.Owner, Label: run.Label, Event: storage.EventCredentialGone, RunID: run.ID, Detail: string(sum.Last.Reason)})
		lines = append(lines, msgBatchInvalidated)
	case batch.Cancelled:
		lines = append(lines, msgBatchCancelled)
	}
	lines = append(lines, fmt.Sprintf(msgBatchDoneFmt, accountName(run.Label), sum.Created, sum.Failed, humanDuration(sum.Ended.Sub(sum.Started))))
	return strings.Join(lines, "\n")
}

func lastDetail(sum *batch.Summary) string {
	if sum.Last.OK() {
		return ""
	}
	return sum.Last.Kind.String() + "/" + string(sum.Last.Reason)
}

func batchEventData(ev batch.Event) map[string]any {
	data := map[string]any{
		"run":   ev.Run.ID,
		"owner": ev.Run.Owner,
		"label": ev.Run.Label,
		"index": ev.Index,
		"total": ev.Total,
	}
	if ev.Wait > 0 {
		data["wait"] = ev.Wait.String()
	}
	if s := ev.Summary; s != nil {
		data["state"] = s.State.String()
		data["created"] = s.Created
		data["failed"] = s.Failed
	}
	return data
}

// audit appends e when storage is enabled. Failures are logged only.
func (a *App) audit(ctx context.Context, e storage.AuditEntry) {
	if a.store == nil {
		return
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	if err := a.store.AppendAudit(ctx, e); err != nil {
		a.log.Warn("audit append failed", logx.String("event", e.Event), logx.Err(err))
	}
}

func (a *App) reply(ctx context.Context, owner int64, text string, menu chat.Menu) {
	if err := a.replier.Reply(ctx, owner, text, menu); err != nil {
		a.log.Warn("reply failed", logx.Int64("owner", owner), logx.Err(err))
	}
}
