package app

import (
	"context"
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"

	"groupbot/internal/accounts"
	"groupbot/internal/chat"
	"groupbot/internal/login"
	"groupbot/internal/storage"
	kit "groupbot/internal/transport"
	"groupbot/internal/transport/telegram/router"
	"groupbot/internal/worker"
	logx "groupbot/pkg/logx"
	"groupbot/pkg/tgui"
)

const (
	historyDefault = 10
	historyMax     = 50
)

func (a *App) registry() router.Registry {
	acc := func(action string, h router.CallbackHandlerFunc) router.CallbackRoute {
		return router.CallbackRoute{Prefix: accounts.CallbackPrefix, Action: action, Handle: h}
	}
	return router.Registry{
		Commands: []router.Command{
			{Name: "start", Description: "open the main menu", Handle: a.cmdStart},
			{Name: "cancel", Description: "stop the running batch or login", Handle: a.cmdCancel},
			{Name: "accounts", Description: "manage saved accounts", Handle: a.cmdAccounts},
			{Name: "status", Description: "show your accounts and running batches", Handle: a.cmdStatus},
			{Name: "history", Aliases: []string{"log"}, Description: "show recent activity", Usage: "[count]", Handle: a.cmdHistory},
		},
		Buttons: []router.Button{
			{Text: btnStart, Handle: a.btnStart},
			{Text: btnCancel, Handle: a.cmdCancel},
			{Text: btnHelp, Handle: a.btnHelp},
			{Text: btnAccounts, Handle: a.cmdAccounts},
		},
		Callbacks: []router.CallbackRoute{
			acc(accounts.ActionOpen, a.cbOpen),
			acc(accounts.ActionStart, a.cbStart),
			acc(accounts.ActionStop, a.cbStop),
			acc(accounts.ActionDelete, a.cbDelete),
			acc(accounts.ActionPurge, a.cbPurge),
			acc(accounts.ActionAdd, a.cbAdd),
			acc(accounts.ActionBack, a.cbBack),
			acc(accounts.ActionPage, a.cbPage),
		},
		Fallbacks: []router.HandlerFunc{a.loginFallback, a.hintFallback},
	}
}

// onHandlerError answers with a generic message and drops any half-finished login.
func (a *App) onHandlerError(ctx context.Context, req *router.Request, err error) {
	if a.login.Cancel(ctx, req.FromID) {
		req.Logger.Info("login discarded after handler error")
	}
	a.reply(ctx, req.FromID, msgGenericError, chat.MenuMain)
}

func (a *App) cmdStart(ctx context.Context, req *router.Request) error {
	return a.replier.Reply(ctx, req.FromID, msgWelcome, chat.MenuMain)
}

func (a *App) btnHelp(ctx context.Context, req *router.Request) error {
	return a.replier.Reply(ctx, req.FromID, msgHelp, chat.MenuMain)
}

func (a *App) btnStart(ctx context.Context, req *router.Request) error {
	a.startProcess(ctx, req.FromID)
	return nil
}

// cmdCancel stops every batch of the owner and discards a login in progress.
func (a *App) cmdCancel(ctx context.Context, req *router.Request) error {
	owner := req.FromID
	stopped := a.workers.CancelOwner(owner)
	discarded := a.login.Cancel(ctx, owner)
	req.Logger.Info("cancel", logx.Int("batches", stopped), logx.Bool("login", discarded))
	if stopped == 0 && !discarded {
		return a.replier.Reply(ctx, owner, msgNothingToCancel, chat.MenuMain)
	}
	return a.replier.Reply(ctx, owner, msgCancelled, chat.MenuMain)
}

func (a *App) cmdAccounts(ctx context.Context, req *router.Request) error {
	return a.sendAccountsMenu(ctx, req.FromID)
}

func (a *App) sendAccountsMenu(ctx context.Context, owner int64) error {
	msg, err := a.accounts.Menu(owner, 0)
	if err != nil {
		return err
	}
	_, err = msg.Send(ctx, a.adapter, kit.ChatTarget{ChatID: owner})
	return err
}

func (a *App) cmdStatus(ctx context.Context, req *router.Request) error {
	owner := req.FromID
	entries, err := a.accounts.List(owner)
	if err != nil {
		return err
	}
	b := tgui.New().Title("📊", "Status")
	if len(entries) == 0 {
		b.Line("No stored accounts.")
	}
	for _, e := range entries {
		state := "idle"
		if e.Running {
			state = "running"
		}
		b.KV(e.Label, state)
	}
	if st, ok := a.login.State(owner); ok {
		b.KV("login", st.String())
	}
	active, tracked := a.workers.Active(), a.workers.Len()
	b.Blank().Line(fmt.Sprintf("Workers: %d running, %d queued, %d slots.", active, max(0, tracked-active), a.workers.Limit()))
	_, err = b.Build().Send(ctx, req.Adapter, req.Chat)
	return err
}

func (a *App) cmdHistory(ctx context.Context, req *router.Request) error {
	if a.store == nil {
		return req.Reply(ctx, msgHistoryDisabled)
	}
	n := historyDefault
	if len(req.Args) > 0 {
		if v, err := strconv.Atoi(req.Args[0]); err == nil && v > 0 {
			n = min(v, historyMax)
		}
	}
	entries, err := a.store.RecentAudit(ctx, req.FromID, n)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return req.Reply(ctx, msgHistoryEmpty)
	}
	b := tgui.New().Title("🕘", "History")
	items := make([]string, 0, len(entries))
	for _, e := range entries {
		items = append(items, historyLine(e))
	}
	_, err = b.Bullets(items...).Build().Send(ctx, req.Adapter, req.Chat)
	return err
}

func historyLine(e storage.AuditEntry) string {
	line := humanize.Time(e.At) + " · " + e.Event
	if e.Label != "" {
		line += " · " + accountName(e.Label)
	}
	if e.Outcome != "" {
		line += " · " + e.Outcome
	}
	if e.Event == storage.EventBatchEnd {
		line += fmt.Sprintf(" (%d created, %d failed)", e.Created, e.Failed)
	}
	return line
}

func (a *App) loginFallback(ctx context.Context, req *router.Request) error {
	if a.login.Handle(ctx, req.FromID, req.Text) {
		return router.Handled
	}
	return nil
}

func (a *App) hintFallback(ctx context.Context, req *router.Request) error {
	a.reply(ctx, req.FromID, msgUseMenu, chat.MenuMain)
	return router.Handled
}

// ---- account menu callbacks ----

func callbackRef(req *router.Request) kit.MessageRef {
	cb := req.Update.Callback
	if cb == nil {
		return kit.MessageRef{}
	}
	return kit.MessageRef{ChatID: cb.ChatID, MessageID: cb.MessageID}
}

// editMenu re-renders the account list in place.
func (a *App) editMenu(ctx context.Context, req *router.Request, page int) error {
	msg, err := a.accounts.Menu(req.FromID, page)
	if err != nil {
		return err
	}
	return msg.Edit(ctx, req.Adapter, callbackRef(req))
}

// resolve maps a callback token to a label. An expired token shows the list again.
func (a *App) resolve(ctx context.Context, req *router.Request, payload string) (string, bool, error) {
	label, ok := a.accounts.Resolve(req.FromID, payload)
	if !ok {
		return "", false, a.editMenu(ctx, req, 0)
	}
	return label, true, nil
}

func (a *App) cbOpen(ctx context.Context, req *router.Request, payload string) error {
	label, ok, err := a.resolve(ctx, req, payload)
	if !ok {
		return err
	}
	return a.accounts.AccountMenu(req.FromID, label).Edit(ctx, req.Adapter, callbackRef(req))
}

func (a *App) cbStart(ctx context.Context, req *router.Request, payload string) error {
	label, ok, err := a.resolve(ctx, req, payload)
	if !ok {
		return err
	}
	a.resumeStored(ctx, req.FromID, label)
	if !a.vault.Has(req.FromID, label) {
		return a.editMenu(ctx, req, 0)
	}
	return a.accounts.AccountMenu(req.FromID, label).Edit(ctx, req.Adapter, callbackRef(req))
}

func (a *App) cbStop(ctx context.Context, req *router.Request, payload string) error {
	label, ok, err := a.resolve(ctx, req, payload)
	if !ok {
		return err
	}
	text := msgNotRunning
	if a.accounts.Stop(req.FromID, label) {
		text = msgStopping
	}
	a.reply(ctx, req.FromID, text, chat.MenuKeep)
	return a.accounts.AccountMenu(req.FromID, label).Edit(ctx, req.Adapter, callbackRef(req))
}

func (a *App) cbDelete(ctx context.Context, req *router.Request, payload string) error {
	label, ok, err := a.resolve(ctx, req, payload)
	if !ok {
		return err
	}
	return a.accounts.ConfirmDelete(req.FromID, label).Edit(ctx, req.Adapter, callbackRef(req))
}

func (a *App) cbPurge(ctx context.Context, req *router.Request, payload string) error {
	label, ok, err := a.resolve(ctx, req, payload)
	if !ok {
		return err
	}
	out, err := a.accounts.Delete(req.FromID, label)
	if err != nil {
		return err
	}
	a.audit(ctx, storage.AuditEntry{Owner: req.FromID, Label: label, Event: storage.EventAccountDelete, Outcome: out.String()})
	a.reply(ctx, req.FromID, accounts.OutcomeText(label, out), chat.MenuKeep)
	return a.editMenu(ctx, req, 0)
}

func (a *App) cbAdd(ctx context.Context, req *router.Request, _ string) error {
	owner := req.FromID
	if !a.multi.Load() && a.workers.Running(worker.Key{Owner: owner, Label: login.DefaultLabel}) {
		a.reply(ctx, owner, msgBusy, chat.MenuKeep)
		return nil
	}
	a.beginLogin(ctx, owner)
	return nil
}

func (a *App) cbBack(ctx context.Context, req *router.Request, _ string) error {
	if err := tgui.New().Line("Closed.").Build().Edit(ctx, req.Adapter, callbackRef(req)); err != nil {
		req.Logger.Debug("close menu failed", logx.Err(err))
	}
	return a.replier.Reply(ctx, req.FromID, msgWelcome, chat.MenuMain)
}

func (a *App) cbPage(ctx context.Context, req *router.Request, payload string) error {
	page, err := strconv.Atoi(payload)
	if err != nil || page < 0 {
		page = 0
	}
	return a.editMenu(ctx, req, page)
}
