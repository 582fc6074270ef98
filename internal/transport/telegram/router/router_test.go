package router

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kit "groupbot/internal/transport"
	logx "groupbot/pkg/logx"
)

type sent struct {
	chat int64
	text string
}

type fakeAdapter struct {
	mu      sync.Mutex
	sent    []sent
	answers []string
	menu    []kit.BotCommand
}

func (f *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                     { return nil }

func (f *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{chat: to.ChatID, text: text})
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.sent)}, nil
}

func (f *fakeAdapter) EditText(context.Context, kit.MessageRef, string, *kit.SendOptions) error {
	return nil
}

func (f *fakeAdapter) AnswerCallback(_ context.Context, id string, text string) error {
	f.mu.Lock()
	f.answers = append(f.answers, id+"="+text)
	f.mu.Unlock()
	return nil
}

func (f *fakeAdapter) UpdateMenuCommands(_ context.Context, cmds []kit.BotCommand) error {
	f.mu.Lock()
	f.menu = cmds
	f.mu.Unlock()
	return nil
}

func (f *fakeAdapter) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, s := range f.sent {
		out = append(out, s.text)
	}
	return out
}

func (f *fakeAdapter) answered() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.answers...)
}

func textUpdate(owner int64, text string) kit.Update {
	return kit.Update{Message: &kit.Message{ChatID: owner, FromID: owner, Text: text, Private: true}}
}

// startManager runs DispatchLoop until the test ends.
func startManager(t *testing.T, reg Registry) (*CommandManager, *fakeAdapter, chan kit.Update) {
	t.Helper()
	ad := &fakeAdapter{}
	m := NewCommandManager(Config{Shards: 2, QueueSize: 16, HandlerTimeout: time.Second}, logx.Nop(), ad)
	m.SetRegistry(reg)

	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan kit.Update, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.DispatchLoop(ctx, updates)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return m, ad, updates
}

func TestCommandsAliasesAndArgs(t *testing.T) {
	t.Parallel()
	got := make(chan []string, 2)
	_, ad, updates := startManager(t, Registry{Commands: []Command{{
		Name:    "history",
		Aliases: []string{"h"},
		Handle: func(ctx context.Context, req *Request) error {
			got <- append([]string{req.Command}, req.Args...)
			return nil
		},
	}}})

	updates <- textUpdate(7, `/history@groupbot "my label" 5`)
	updates <- textUpdate(7, "/H")
	assert.Equal(t, []string{"history", "my label", "5"}, <-got)
	assert.Equal(t, []string{"history"}, <-got)

	updates <- textUpdate(7, "/nope")
	require.Eventually(t, func() bool {
		for _, s := range ad.texts() {
			if s == msgUnknownCommand {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)
}

func TestButtonsAndFallbackChain(t *testing.T) {
	t.Parallel()
	var mu sync.Mutex
	var trail []string
	note := func(s string) {
		mu.Lock()
		trail = append(trail, s)
		mu.Unlock()
	}
	_, _, updates := startManager(t, Registry{
		Buttons: []Button{{Text: "Start", Handle: func(ctx context.Context, req *Request) error {
			note("button")
			return nil
		}}},
		Fallbacks: []HandlerFunc{
			func(ctx context.Context, req *Request) error {
				note("login:" + req.Text)
				if req.Text == "+15551234567" {
					return Handled
				}
				return nil
			},
			func(ctx context.Context, req *Request) error {
				note("hint:" + req.Text)
				return Handled
			},
		},
	})

	updates <- textUpdate(1, " Start ")
	updates <- textUpdate(1, "+15551234567")
	updates <- textUpdate(1, "hello")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(trail) == 4
	}, 2*time.Second, 5*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"button", "login:+15551234567", "login:hello", "hint:hello"}, trail)
}

func TestGroupMessagesAreIgnored(t *testing.T) {
	t.Parallel()
	called := make(chan struct{}, 1)
	_, _, updates := startManager(t, Registry{Commands: []Command{{
		Name:   "start",
		Handle: func(context.Context, *Request) error { called <- struct{}{}; return nil },
	}}})

	up := textUpdate(-100, "/start")
	up.Message.Private = false
	updates <- up
	updates <- textUpdate(5, "/start")
	<-called
	select {
	case <-called:
		t.Fatal("group message was dispatched")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCallbackRoutingAnswers(t *testing.T) {
	t.Parallel()
	payloads := make(chan string, 1)
	_, ad, updates := startManager(t, Registry{Callbacks: []CallbackRoute{{
		Prefix: "acc",
		Action: "open",
		Handle: func(ctx context.Context, req *Request, payload string) error {
			payloads <- payload
			return nil
		},
	}}})

	updates <- kit.Update{Callback: &kit.Callback{ID: "q1", FromID: 3, ChatID: 3, Data: "acc:open:tok:with:colons"}}
	assert.Equal(t, "tok:with:colons", <-payloads)

	updates <- kit.Update{Callback: &kit.Callback{ID: "q2", FromID: 3, ChatID: 3, Data: "acc:gone:x"}}
	require.Eventually(t, func() bool { return len(ad.answered()) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.ElementsMatch(t, []string{"q1=", "q2="}, ad.answered())
}

func TestPanicsReachErrorHook(t *testing.T) {
	t.Parallel()
	hooked := make(chan error, 2)
	m, _, updates := startManager(t, Registry{Commands: []Command{
		{Name: "boom", Handle: func(context.Context, *Request) error { panic("kaboom") }},
		{Name: "fail", Handle: func(context.Context, *Request) error { return errors.New("flood") }},
		{Name: "quiet", Handle: func(context.Context, *Request) error { return Handled }},
	}})
	m.SetErrorHook(func(ctx context.Context, req *Request, err error) {
		hooked <- err
	})

	updates <- textUpdate(9, "/quiet")
	updates <- textUpdate(9, "/boom")
	updates <- textUpdate(9, "/fail")

	first := <-hooked
	assert.Contains(t, first.Error(), "kaboom")
	assert.EqualError(t, <-hooked, "flood")
}

func TestSameOwnerIsSequential(t *testing.T) {
	t.Parallel()
	var mu sync.Mutex
	var order []string
	_, _, updates := startManager(t, Registry{Fallbacks: []HandlerFunc{
		func(ctx context.Context, req *Request) error {
			if req.Text == "first" {
				time.Sleep(30 * time.Millisecond)
			}
			mu.Lock()
			order = append(order, req.Text)
			mu.Unlock()
			return Handled
		},
	}})

	updates <- textUpdate(11, "first")
	updates <- textUpdate(11, "second")
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 2
	}, 2*time.Second, 5*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestHelpAndMenuListCommands(t *testing.T) {
	t.Parallel()
	_, ad, updates := startManager(t, Registry{Commands: []Command{
		{Name: "start", Description: "open the main menu", Handle: func(context.Context, *Request) error { return nil }},
		{Name: "status", Description: "show <running> workers", Handle: func(context.Context, *Request) error { return nil }},
	}})

	require.Eventually(t, func() bool {
		ad.mu.Lock()
		defer ad.mu.Unlock()
		return len(ad.menu) == 3
	}, 2*time.Second, 5*time.Millisecond)
	ad.mu.Lock()
	assert.Equal(t, "help", ad.menu[2].Command)
	ad.mu.Unlock()

	updates <- textUpdate(2, "/help")
	require.Eventually(t, func() bool { return len(ad.texts()) == 1 }, 2*time.Second, 5*time.Millisecond)
	help := ad.texts()[0]
	assert.Contains(t, help, "<code>/start</code>")
	assert.Contains(t, help, "show &lt;running&gt; workers")
	assert.True(t, strings.HasPrefix(help, "📖 <b>Commands</b>"))
}

func TestSanitizeCommand(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "login_status", sanitizeCommand(" Login-Status "))
	assert.Equal(t, "", sanitizeCommand("9lives"))
	assert.Equal(t, "", sanitizeCommand("!!"))
	assert.Len(t, sanitizeCommand(strings.Repeat("a", 40)), 32)
}

func TestParseCommand(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		name string
		args []string
		ok   bool
	}{
		{in: "/start", name: "start", ok: true},
		{in: "/History@group_bot 5", name: "history", args: []string{"5"}, ok: true},
		{in: `/accounts "my label" 'x y' a\ b`, name: "accounts", args: []string{"my label", "x y", "a b"}, ok: true},
		{in: `/x ""`, name: "x", args: []string{""}, ok: true},
		{in: "Start", ok: false},
		{in: `""`, ok: false},
		{in: "   ", ok: false},
	}
	for _, tt := range tests {
		name, args, ok := parseCommand(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.name, name, tt.in)
		assert.Equal(t, tt.args, args, tt.in)
	}
	assert.Len(t, newReqID(), 12)
}
