// Package adapter connects the bot to Telegram through telebot long polling.
package adapter

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	rtsup "groupbot/internal/runtime/supervisor"
	kit "groupbot/internal/transport"
	logx "groupbot/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
}

// Adapter implements transport.Adapter. Updates are pushed to the channel
// given to Start without blocking; when it is full they are dropped and counted.
type Adapter struct {
	log logx.Logger
	bot *tele.Bot

	inbox   atomic.Pointer[chan<- kit.Update]
	dropped atomic.Uint64
	dropLog rate.Sometimes

	mu  sync.Mutex
	sup *rtsup.Supervisor

	menuMu sync.Mutex
	menu   []tele.Command
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 10 * time.Second
	}
	a := &Adapter{log: log, dropLog: rate.Sometimes{Interval: 5 * time.Second}}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: cfg.PollTimeout},
		OnError: func(err error, _ tele.Context) {
			a.log.Warn("telebot error", logx.Err(err))
		},
	})
	if err != nil {
		return nil, err
	}
	a.bot = b
	b.Handle(tele.OnText, func(c tele.Context) error {
		if up, ok := messageUpdate(c.Message()); ok {
			a.push(up)
		}
		return nil
	})
	b.Handle(tele.OnCallback, func(c tele.Context) error {
		if up, ok := callbackUpdate(c.Callback(), c.Message()); ok {
			a.push(up)
		}
		return nil
	})
	return a, nil
}

func messageUpdate(m *tele.Message) (kit.Update, bool) {
	if m == nil || m.Sender == nil || m.Chat == nil {
		return kit.Update{}, false
	}
	return kit.Update{Message: &kit.Message{
		ID:       m.ID,
		ChatID:   m.Chat.ID,
		FromID:   m.Sender.ID,
		Username: m.Sender.Username,
		Text:     m.Text,
		Private:  m.Private(),
	}}, true
}

func callbackUpdate(cb *tele.Callback, m *tele.Message) (kit.Update, bool) {
	if cb == nil || cb.Sender == nil || m == nil || m.Chat == nil {
		return kit.Update{}, false
	}
	return kit.Update{Callback: &kit.Callback{
		ID:        cb.ID,
		FromID:    cb.Sender.ID,
		ChatID:    m.Chat.ID,
		MessageID: m.ID,
		Data:      cb.Data,
	}}, true
}

func (a *Adapter) push(up kit.Update) {
	out := a.inbox.Load()
	if out == nil {
		return
	}
	select {
	case *out <- up:
	default:
		a.dropped.Add(1)
		a.dropLog.Do(a.reportDropped)
	}
}

func (a *Adapter) reportDropped() {
	if n := a.dropped.Swap(0); n > 0 {
		a.log.Warn("incoming updates dropped (channel full)", logx.Uint64("count", n))
	}
}

// Start begins long polling. A second Start while running is a no-op.
func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sup != nil {
		return nil
	}
	a.inbox.Store(&out)
	// Polling failures are retried here and never cancel the app.
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(false))
	a.sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})
	// bot.Start blocks until bot.Stop but may also return on its own.
	a.sup.GoRestart0("telebot.poll", func(context.Context) {
		a.log.Info("polling started")
		a.bot.Start()
		a.log.Info("polling stopped")
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithStopOnCleanExit(false),
	)
	return nil
}

// Stop ends polling. It waits at most 2s since a pending getUpdates can hold bot.Stop.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	sup := a.sup
	a.sup = nil
	a.inbox.Store(nil)
	a.mu.Unlock()
	if sup == nil {
		return nil
	}

	a.log.Info("stopping")
	sup.Cancel()
	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := sup.Wait(wctx); err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		a.log.Debug("polling stopped with error", logx.Err(err))
	}
	a.reportDropped()
	return nil
}

func teleOptions(opt *kit.SendOptions, withMarkup bool) *tele.SendOptions {
	so := &tele.SendOptions{}
	if opt == nil {
		return so
	}
	so.ParseMode = opt.ParseMode
	so.DisableWebPagePreview = opt.DisablePreview
	if rm, ok := opt.Markup.(*tele.ReplyMarkup); ok && withMarkup {
		so.ReplyMarkup = rm
	}
	return so
}

// SendText sends text, split at the message size limit. Markup goes on the
// first part and the returned ref points at it.
func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	chat := &tele.Chat{ID: to.ChatID}
	ref := kit.MessageRef{ChatID: to.ChatID}
	for i, part := range splitText(text, textLimit) {
		if err := ctx.Err(); err != nil {
			return ref, err
		}
		msg, err := a.bot.Send(chat, part, teleOptions(opt, i == 0))
		if err != nil {
			return ref, err
		}
		if i == 0 {
			ref.MessageID = msg.ID
		}
	}
	return ref, nil
}

// EditText replaces ref with the first part of text; the rest is sent as new messages.
func (a *Adapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	parts := splitText(text, textLimit)
	msg := &tele.Message{ID: ref.MessageID, Chat: &tele.Chat{ID: ref.ChatID}}
	_, err := a.bot.Edit(msg, parts[0], teleOptions(opt, true))
	if err != nil && !strings.Contains(err.Error(), "message is not modified") {
		return err
	}
	for _, part := range parts[1:] {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := a.bot.Send(msg.Chat, part, teleOptions(opt, false)); err != nil {
			return err
		}
	}
	return nil
}

func (a *Adapter) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.bot.Respond(&tele.Callback{ID: callbackID}, &tele.CallbackResponse{Text: text})
}

// UpdateMenuCommands calls setMyCommands unless cmds equals the last list sent.
func (a *Adapter) UpdateMenuCommands(ctx context.Context, cmds []kit.BotCommand) error {
	menu := make([]tele.Command, 0, len(cmds))
	for _, c := range cmds {
		if c.Command == "" {
			continue
		}
		desc := c.Description
		if desc == "" {
			desc = c.Command
		}
		menu = append(menu, tele.Command{Text: c.Command, Description: desc})
	}

	a.menuMu.Lock()
	defer a.menuMu.Unlock()
	if a.menu != nil && slices.Equal(a.menu, menu) {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := a.bot.SetCommands(menu); err != nil {
		return err
	}
	a.menu = menu
	a.log.Info("menu commands updated", logx.Int("count", len(menu)))
	return nil
}
