package app

import (
	"context"
	"errors"

	"groupbot/internal/batch"
	"groupbot/internal/chat"
	"groupbot/internal/eventbus"
	"groupbot/internal/login"
	"groupbot/internal/remote"
	"groupbot/internal/storage"
	"groupbot/internal/worker"
	logx "groupbot/pkg/logx"
)

const msgQueued = "All worker slots are busy. Your batch is queued and starts when one frees up."

// startProcess is the Start button. Handlers of one owner run sequentially,
// so the busy checks and the start that follows cannot interleave with
// another Start of the same owner.
func (a *App) startProcess(ctx context.Context, owner int64) {
	if a.login.Active(owner) {
		a.reply(ctx, owner, msgBusy, chat.MenuKeep)
		return
	}
	if a.multi.Load() {
		labels, err := a.vault.Labels(owner)
		if err != nil {
			a.log.Error("list accounts failed", logx.Int64("owner", owner), logx.Err(err))
			a.reply(ctx, owner, msgGenericError, chat.MenuMain)
			return
		}
		if len(labels) > 0 {
			if err := a.sendAccountsMenu(ctx, owner); err != nil {
				a.log.Warn("send accounts menu failed", logx.Int64("owner", owner), logx.Err(err))
			}
			return
		}
		a.beginLogin(ctx, owner)
		return
	}

	if a.workers.Running(worker.Key{Owner: owner, Label: login.DefaultLabel}) {
		a.reply(ctx, owner, msgBusy, chat.MenuKeep)
		return
	}
	if a.vault.Has(owner, login.DefaultLabel) {
		a.resumeStored(ctx, owner, login.DefaultLabel)
		return
	}
	a.beginLogin(ctx, owner)
}

func (a *App) beginLogin(ctx context.Context, owner int64) {
	if err := a.login.Begin(ctx, owner); err != nil {
		if errors.Is(err, login.ErrInProgress) {
			a.reply(ctx, owner, msgBusy, chat.MenuKeep)
			return
		}
		a.log.Error("begin login failed", logx.Int64("owner", owner), logx.Err(err))
		a.reply(ctx, owner, msgGenericError, chat.MenuMain)
	}
}

// resumeStored signs in with the stored credential of label and starts a batch.
// A credential the provider no longer accepts is removed.
func (a *App) resumeStored(ctx context.Context, owner int64, label string) {
	log := a.log.With(logx.Int64("owner", owner), logx.String("label", label))
	if a.login.Active(owner) || a.workers.Running(worker.Key{Owner: owner, Label: label}) {
		a.reply(ctx, owner, msgBusy, chat.MenuKeep)
		return
	}
	data, ok := a.vault.Load(owner, label)
	if !ok {
		if a.multi.Load() {
			a.reply(ctx, owner, msgAccountMissing, chat.MenuMain)
			return
		}
		a.beginLogin(ctx, owner)
		return
	}

	a.reply(ctx, owner, msgResuming, chat.MenuKeep)
	sess, err := a.factory.New(ctx, data)
	if err != nil {
		log.Error("open session failed", logx.Err(err))
		a.reply(ctx, owner, msgGenericError, chat.MenuMain)
		return
	}

	authorized := false
	res := sess.Connect(ctx)
	if res.OK() {
		authorized, res = sess.Authorized(ctx)
	}
	if res.OK() && authorized {
		log.Info("resumed stored session")
		a.startBatch(ctx, owner, label, sess)
		return
	}

	sess.Disconnect(context.WithoutCancel(ctx))
	switch {
	case res.OK():
		log.Info("stored session expired")
		a.dropCredential(ctx, owner, label, "unauthorized")
		a.reply(ctx, owner, msgSessionExpired, chat.MenuKeep)
		a.beginLogin(ctx, owner)
	case res.Invalidates():
		log.Warn("stored session invalidated", logx.String("result", res.String()))
		a.dropCredential(ctx, owner, label, string(res.Reason))
		a.reply(ctx, owner, msgSessionBanned, chat.MenuMain)
	default:
		log.Warn("stored session unusable", logx.String("result", res.String()))
		a.dropCredential(ctx, owner, label, res.Kind.String())
		a.reply(ctx, owner, msgSessionBroken, chat.MenuKeep)
		a.beginLogin(ctx, owner)
	}
}

func (a *App) dropCredential(ctx context.Context, owner int64, label, detail string) {
	if _, err := a.vault.Delete(owner, label); err != nil {
		a.log.Error("delete credential failed", logx.Int64("owner", owner), logx.String("label", label), logx.Err(err))
		return
	}
	a.audit(ctx, storage.AuditEntry{Owner: owner, Label: label, Event: storage.EventCredentialGone, Detail: detail})
}

// onLoginDone receives the session of a completed login.
func (a *App) onLoginDone(ctx context.Context, owner int64, label string, sess remote.Session) {
	a.audit(ctx, storage.AuditEntry{Owner: owner, Label: label, Event: storage.EventLogin})
	a.bus.Publish(eventbus.Event{Type: storage.EventLogin, Data: map[string]any{"owner": owner, "label": label}})
	a.startBatch(ctx, owner, label, sess)
}

// startBatch queues a batch job that owns sess. If the job cannot be queued sess is disconnected.
func (a *App) startBatch(ctx context.Context, owner int64, label string, sess remote.Session) {
	key := worker.Key{Owner: owner, Label: label}
	settings := *a.settings.Load()
	run := batch.NewRun(owner, label)
	queued := a.workers.Active() >= a.workers.Limit()

	err := a.workers.Start(key, func(jctx context.Context) {
		w := &batch.Worker{
			Session:  sess,
			Settings: settings,
			Reporter: batch.ReporterFunc(a.reportBatch),
			Log:      a.log.With(logx.String("comp", "batch")),
		}
		w.Run(jctx, run)
	})
	if err != nil {
		sess.Disconnect(context.WithoutCancel(ctx))
		if errors.Is(err, worker.ErrAlreadyRunning) {
			a.reply(ctx, owner, msgBusy, chat.MenuKeep)
			return
		}
		a.log.Warn("batch not started", logx.String("key", key.String()), logx.Err(err))
		a.reply(ctx, owner, msgGenericError, chat.MenuMain)
		return
	}
	if queued {
		a.reply(ctx, owner, msgQueued, chat.MenuKeep)
	}
}
