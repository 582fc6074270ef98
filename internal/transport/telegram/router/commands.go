package router

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	rtsup "groupbot/internal/runtime/supervisor"
	kit "groupbot/internal/transport"
	logx "groupbot/pkg/logx"
	"groupbot/pkg/tgui"
)

const (
	msgUnknownCommand = "Unknown command. Try /help."
	msgBusy           = "Busy, try again in a moment."
)

type Config struct {
	// Shards is the number of dispatch workers. Updates of one owner always land
	// on the same shard, so they are handled in order.
	Shards int
	// QueueSize is the pending-update capacity per shard.
	QueueSize int
	// HandlerTimeout bounds a handler unless its route overrides it.
	HandlerTimeout time.Duration
}

type CommandManager struct {
	cfg Config
	log logx.Logger

	adapter kit.Adapter

	mu        sync.RWMutex
	commands  map[string]Command // name and aliases
	listed    []Command          // registration order, for help and the menu
	buttons   map[string]Button
	callbacks map[string]map[string]CallbackRoute // prefix -> action -> route
	fallbacks []HandlerFunc
	onError   ErrorHook

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor
	shards  []chan func()
}

func NewCommandManager(cfg Config, log logx.Logger, adapter kit.Adapter) *CommandManager {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Shards <= 0 {
		cfg.Shards = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	return &CommandManager{
		cfg:       cfg,
		log:       log,
		adapter:   adapter,
		commands:  map[string]Command{},
		buttons:   map[string]Button{},
		callbacks: map[string]map[string]CallbackRoute{},
	}
}

// SetErrorHook installs the handler-failure hook. Safe to call before or during dispatch.
func (m *CommandManager) SetErrorHook(h ErrorHook) {
	m.mu.Lock()
	m.onError = h
	m.mu.Unlock()
}

// SetRegistry replaces every route. A /help command is always added.
func (m *CommandManager) SetRegistry(reg Registry) {
	cmds := append([]Command(nil), reg.Commands...)
	cmds = append(cmds, Command{
		Name:        "help",
		Description: "show available commands",
		Handle: func(ctx context.Context, req *Request) error {
			_, err := req.Adapter.SendText(ctx, req.Chat, m.helpText(), &kit.SendOptions{DisablePreview: true, ParseMode: "HTML"})
			return err
		},
	})

	byName := map[string]Command{}
	listed := make([]Command, 0, len(cmds))
	for _, c := range cmds {
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if name == "" || c.Handle == nil {
			continue
		}
		if _, dup := byName[name]; dup {
			continue
		}
		c.Name = name
		byName[name] = c
		listed = append(listed, c)
		for _, a := range c.Aliases {
			a = strings.ToLower(strings.TrimSpace(a))
			if _, taken := byName[a]; a != "" && !taken {
				byName[a] = c
			}
		}
	}

	buttons := map[string]Button{}
	for _, b := range reg.Buttons {
		if t := strings.TrimSpace(b.Text); t != "" && b.Handle != nil {
			buttons[t] = b
		}
	}

	cb := map[string]map[string]CallbackRoute{}
	for _, r := range reg.Callbacks {
		p := strings.TrimSpace(r.Prefix)
		a := strings.TrimSpace(r.Action)
		if p == "" || a == "" || r.Handle == nil {
			continue
		}
		if cb[p] == nil {
			cb[p] = map[string]CallbackRoute{}
		}
		cb[p][a] = r
	}

	m.mu.Lock()
	m.commands = byName
	m.listed = listed
	m.buttons = buttons
	m.callbacks = cb
	m.fallbacks = append([]HandlerFunc(nil), reg.Fallbacks...)
	m.mu.Unlock()

	m.publishMenu(listed)
}

// publishMenu updates Telegram's command autocomplete when the adapter supports it.
func (m *CommandManager) publishMenu(cmds []Command) {
	up, ok := m.adapter.(kit.CommandMenuUpdater)
	if !ok {
		return
	}
	menu := buildMenuCommands(cmds)
	run := func(parent context.Context) {
		ctx, cancel := context.WithTimeout(parent, 5*time.Second)
		defer cancel()
		if err := up.UpdateMenuCommands(ctx, menu); err != nil {
			m.log.Warn("menu commands update failed", logx.Err(err))
		}
	}

	m.runMu.Lock()
	sup := m.sup
	m.runMu.Unlock()
	if sup != nil {
		sup.Go0("telegram.menu.update", run)
		return
	}
	// Dispatch not started yet; the update is short and bounded.
	go run(context.Background())
}

// DispatchLoop consumes updates until ctx is done or updates is closed.
func (m *CommandManager) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.New(ctx,
		rtsup.WithLogger(m.log),
		rtsup.WithCancelOnError(false),
	)
	shards := make([]chan func(), m.cfg.Shards)
	for i := range shards {
		shards[i] = make(chan func(), m.cfg.QueueSize)
	}

	m.runMu.Lock()
	m.sup = sup
	m.shards = shards
	m.running = true
	m.runMu.Unlock()

	m.log.Info("dispatcher started", logx.Int("shards", len(shards)), logx.Int("queue_cap", m.cfg.QueueSize))

	for i, jobs := range shards {
		idx := i
		sup.GoRestart("dispatch.shard."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job := <-jobs:
					job()
				}
			}
		}, rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second))
	}

	defer func() {
		m.runMu.Lock()
		m.running = false
		m.shards = nil
		m.runMu.Unlock()

		sup.Cancel()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()

		m.runMu.Lock()
		m.sup = nil
		m.runMu.Unlock()
		m.log.Info("dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			m.routeUpdate(ctx, up)
		}
	}
}

// enqueue hands fn to the owner's shard without blocking.
func (m *CommandManager) enqueue(owner int64, fn func()) bool {
	m.runMu.Lock()
	shards := m.shards
	m.runMu.Unlock()
	if len(shards) == 0 {
		return false
	}
	idx := uint64(owner) % uint64(len(shards))
	select {
	case shards[idx] <- fn:
		return true
	default:
		return false
	}
}

func (m *CommandManager) routeUpdate(root context.Context, up kit.Update) {
	switch {
	case up.Message != nil:
		m.routeMessage(root, up)
	case up.Callback != nil:
		m.routeCallback(root, up)
	}
}

func (m *CommandManager) newRequest(up kit.Update, chat int64, from int64, key string) *Request {
	rid := newReqID()
	return &Request{
		Update:  up,
		Chat:    kit.ChatTarget{ChatID: chat},
		FromID:  from,
		Command: key,
		ReqID:   rid,
		Adapter: m.adapter,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.Int64("from_id", from),
			logx.String("cmd", key),
		),
	}
}

func (m *CommandManager) wrap(h HandlerFunc, timeout time.Duration) HandlerFunc {
	m.mu.RLock()
	hook := m.onError
	m.mu.RUnlock()
	if timeout <= 0 {
		timeout = m.cfg.HandlerTimeout
	}
	return chain(h,
		logRequests,
		reportErrors(hook),
		recoverPanics,
		withTimeout(timeout),
	)
}

func (m *CommandManager) routeMessage(root context.Context, up kit.Update) {
	msg := up.Message
	if msg == nil || !msg.Private {
		return
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}

	var (
		req     *Request
		handler HandlerFunc
	)
	m.mu.RLock()
	if word, args, isCmd := parseCommand(text); isCmd {
		cmd, ok := m.commands[word]
		m.mu.RUnlock()
		if !ok {
			_, _ = m.adapter.SendText(root, kit.ChatTarget{ChatID: msg.ChatID}, msgUnknownCommand, nil)
			return
		}
		req = m.newRequest(up, msg.ChatID, msg.FromID, cmd.Name)
		req.Args = args
		handler = m.wrap(cmd.Handle, cmd.Timeout)
	} else if b, ok := m.buttons[text]; ok {
		m.mu.RUnlock()
		req = m.newRequest(up, msg.ChatID, msg.FromID, "button:"+b.Text)
		handler = m.wrap(b.Handle, 0)
	} else {
		fallbacks := m.fallbacks
		m.mu.RUnlock()
		if len(fallbacks) == 0 {
			return
		}
		req = m.newRequest(up, msg.ChatID, msg.FromID, "text")
		handler = m.wrap(fallbackChain(fallbacks), 0)
	}
	req.Text = text

	if !m.enqueue(msg.FromID, func() { _ = handler(root, req) }) {
		_, _ = m.adapter.SendText(root, req.Chat, msgBusy, nil)
	}
}

// fallbackChain runs fallbacks in order until one returns Handled or fails.
func fallbackChain(fallbacks []HandlerFunc) HandlerFunc {
	return func(ctx context.Context, req *Request) error {
		for _, fb := range fallbacks {
			if err := fb(ctx, req); err != nil {
				return err
			}
		}
		return nil
	}
}

func (m *CommandManager) routeCallback(root context.Context, up kit.Update) {
	cb := up.Callback
	if cb == nil {
		return
	}
	prefix, action, payload, err := tgui.ParseData(strings.TrimSpace(cb.Data))
	if err != nil {
		_ = m.adapter.AnswerCallback(root, cb.ID, "")
		return
	}

	m.mu.RLock()
	route, ok := m.callbacks[prefix][action]
	m.mu.RUnlock()
	if !ok {
		_ = m.adapter.AnswerCallback(root, cb.ID, "")
		return
	}

	req := m.newRequest(up, cb.ChatID, cb.FromID, "cb:"+prefix+":"+action)
	req.Payload = payload
	handler := m.wrap(func(ctx context.Context, r *Request) error {
		return route.Handle(ctx, r, payload)
	}, route.Timeout)

	if !m.enqueue(cb.FromID, func() {
		err := handler(root, req)
		if err != nil && !errors.Is(err, Handled) {
			_ = m.adapter.AnswerCallback(root, cb.ID, "failed")
			return
		}
		// Stops the client's loading indicator.
		_ = m.adapter.AnswerCallback(root, cb.ID, "")
	}) {
		_ = m.adapter.AnswerCallback(root, cb.ID, "busy")
	}
}
