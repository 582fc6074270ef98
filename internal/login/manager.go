// Package login runs the per-owner conversational login flow:
//
//	AwaitingPhone -> AwaitingCode -> [AwaitingPassword] -> [AwaitingLabel] -> Done
//
// A successful flow persists the credential and hands the live session to the
// caller; every other exit discards the flow and disconnects its session.
package login

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"groupbot/internal/chat"
	"groupbot/internal/remote"
	logx "groupbot/pkg/logx"
)

type State int

const (
	AwaitingPhone State = iota
	AwaitingCode
	AwaitingPassword
	AwaitingLabel
	Done
)

func (s State) String() string {
	switch s {
	case AwaitingPhone:
		return "awaiting_phone"
	case AwaitingCode:
		return "awaiting_code"
	case AwaitingPassword:
		return "awaiting_password"
	case AwaitingLabel:
		return "awaiting_label"
	case Done:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MaxLabelLen is the longest account label, in characters.
const MaxLabelLen = 32

// DefaultLabel is used in single-account mode.
const DefaultLabel = "default"

var ErrInProgress = errors.New("login: already in progress")

// Store persists credentials. *vault.Vault satisfies it.
type Store interface {
	Save(owner int64, label string, data []byte) error
	Labels(owner int64) ([]string, error)
}

// Handoff receives the authorized session after the credential is saved.
// It owns the session from then on, including disconnecting it.
type Handoff func(ctx context.Context, owner int64, label string, sess remote.Session)

type flow struct {
	mu sync.Mutex

	owner     int64
	state     State
	phone     string
	hash      string
	client    remote.Session
	updatedAt time.Time
	discarded bool
}

type Manager struct {
	factory remote.Factory
	store   Store
	reply   chat.Replier
	handoff Handoff
	log     logx.Logger
	now     func() time.Time

	multi atomic.Bool

	mu    sync.Mutex
	flows map[int64]*flow
}

func New(factory remote.Factory, store Store, reply chat.Replier, handoff Handoff, log logx.Logger) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Manager{
		factory: factory,
		store:   store,
		reply:   reply,
		handoff: handoff,
		log:     log.With(logx.String("comp", "login")),
		now:     time.Now,
		flows:   map[int64]*flow{},
	}
}

// SetMulti switches between single-account (label "default") and labelled accounts.
// Flows already past the password step keep the mode they started with.
func (m *Manager) SetMulti(enabled bool) { m.multi.Store(enabled) }

// Begin starts a flow for owner and prompts for the phone number.
func (m *Manager) Begin(ctx context.Context, owner int64) error {
	m.mu.Lock()
	if _, ok := m.flows[owner]; ok {
		m.mu.Unlock()
		return ErrInProgress
	}
	m.flows[owner] = &flow{owner: owner, state: AwaitingPhone, updatedAt: m.now()}
	m.mu.Unlock()

	m.log.Debug("login started", logx.Int64("owner", owner))
	m.send(ctx, owner, msgAskPhone, chat.MenuLogin)
	return nil
}

// Active reports whether owner has a flow in progress.
func (m *Manager) Active(owner int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.flows[owner]
	return ok
}

// State returns the owner's current state.
func (m *Manager) State(owner int64) (State, bool) {
	m.mu.Lock()
	f, ok := m.flows[owner]
	m.mu.Unlock()
	if !ok {
		return 0, false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state, true
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.flows)
}

// Handle feeds one text message into the owner's flow. It returns false when
// the owner has no flow, so the caller can route the text elsewhere.
func (m *Manager) Handle(ctx context.Context, owner int64, text string) bool {
	m.mu.Lock()
	f, ok := m.flows[owner]
	m.mu.Unlock()
	if !ok {
		return false
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.discarded {
		return true
	}
	f.updatedAt = m.now()

	switch f.state {
	case AwaitingPhone:
		m.onPhone(ctx, f, text)
	case AwaitingCode:
		m.onCode(ctx, f, text)
	case AwaitingPassword:
		m.onPassword(ctx, f, text)
	case AwaitingLabel:
		m.onLabel(ctx, f, text)
	default:
		m.discard(ctx, f)
	}
	return true
}

// Cancel discards the owner's flow and disconnects its session.
func (m *Manager) Cancel(ctx context.Context, owner int64) bool {
	m.mu.Lock()
	f, ok := m.flows[owner]
	m.mu.Unlock()
	if !ok {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.discarded {
		return false
	}
	m.discard(ctx, f)
	m.log.Info("login cancelled", logx.Int64("owner", owner))
	return true
}

// Sweep discards flows idle for longer than idle. Flows busy in a remote call are skipped.
func (m *Manager) Sweep(ctx context.Context, idle time.Duration) int {
	if idle <= 0 {
		return 0
	}
	cutoff := m.now().Add(-idle)

	m.mu.Lock()
	candidates := make([]*flow, 0, len(m.flows))
	for _, f := range m.flows {
		candidates = append(candidates, f)
	}
	m.mu.Unlock()

	n := 0
	for _, f := range candidates {
		if !f.mu.TryLock() {
			continue
		}
		if !f.discarded && f.updatedAt.Before(cutoff) {
			m.discard(ctx, f)
			m.send(ctx, f.owner, msgLoginExpired, chat.MenuMain)
			m.log.Info("idle login discarded", logx.Int64("owner", f.owner), logx.String("state", f.state.String()))
			n++
		}
		f.mu.Unlock()
	}
	return n
}

// CloseAll discards every flow. Used on shutdown.
func (m *Manager) CloseAll(ctx context.Context) {
	m.mu.Lock()
	all := make([]*flow, 0, len(m.flows))
	for _, f := range m.flows {
		all = append(all, f)
	}
	m.mu.Unlock()
	for _, f := range all {
		f.mu.Lock()
		if !f.discarded {
			m.discard(ctx, f)
		}
		f.mu.Unlock()
	}
}

func (m *Manager) onPhone(ctx context.Context, f *flow, text string) {
	phone, err := NormalizePhone(text)
	if err != nil {
		m.log.Debug("phone rejected", logx.Int64("owner", f.owner), logx.Err(err))
		m.fail(ctx, f, msgInvalidPhone)
		return
	}
	f.phone = phone
	log := m.log.With(logx.Int64("owner", f.owner), logx.Phone("phone", phone))

	m.send(ctx, f.owner, msgConnecting, chat.MenuKeep)
	client, err := m.factory.New(ctx, nil)
	if err != nil {
		log.Error("session create failed", logx.Err(err))
		m.fail(ctx, f, msgConnectFailed)
		return
	}
	f.client = client
	if res := client.Connect(ctx); !res.OK() {
		log.Warn("connect failed", logx.String("result", res.String()))
		m.fail(ctx, f, msgConnectFailed)
		return
	}

	hash, res := client.RequestCode(ctx, phone)
	switch {
	case res.OK():
		f.hash = hash
		f.state = AwaitingCode
		log.Info("login code requested")
		m.send(ctx, f.owner, msgCodeSent, chat.MenuKeep)
	default:
		log.Warn("code request failed", logx.String("result", res.String()))
		m.fail(ctx, f, failureText(res))
	}
}

func (m *Manager) onCode(ctx context.Context, f *flow, text string) {
	res := f.client.SignIn(ctx, f.phone, normalizeCode(text), f.hash)
	switch res.Kind {
	case remote.OK:
		m.signedIn(ctx, f)
	case remote.PasswordNeeded:
		f.state = AwaitingPassword
		m.send(ctx, f.owner, msgAskPassword, chat.MenuKeep)
	default:
		m.log.Warn("sign in failed", logx.Int64("owner", f.owner), logx.String("result", res.String()))
		m.fail(ctx, f, failureText(res))
	}
}

func (m *Manager) onPassword(ctx context.Context, f *flow, text string) {
	res := f.client.SignInPassword(ctx, strings.TrimSpace(text))
	switch {
	case res.OK():
		m.signedIn(ctx, f)
	case res.Kind == remote.InvalidInput && res.Reason == remote.ReasonWrongPassword:
		m.send(ctx, f.owner, msgWrongPassword, chat.MenuKeep)
	default:
		m.log.Warn("password sign in failed", logx.Int64("owner", f.owner), logx.String("result", res.String()))
		m.fail(ctx, f, failureText(res))
	}
}

func (m *Manager) signedIn(ctx context.Context, f *flow) {
	if m.multi.Load() {
		f.state = AwaitingLabel
		m.send(ctx, f.owner, msgAskLabel, chat.MenuKeep)
		return
	}
	m.finish(ctx, f, DefaultLabel)
}

func (m *Manager) onLabel(ctx context.Context, f *flow, text string) {
	label := strings.TrimSpace(text)
	switch {
	case label == "":
		m.send(ctx, f.owner, msgLabelEmpty, chat.MenuKeep)
		return
	case utf8.RuneCountInString(label) > MaxLabelLen:
		m.send(ctx, f.owner, msgLabelTooLong, chat.MenuKeep)
		return
	}
	labels, err := m.store.Labels(f.owner)
	if err != nil {
		m.log.Error("list labels failed", logx.Int64("owner", f.owner), logx.Err(err))
		m.fail(ctx, f, msgInternalError)
		return
	}
	for _, l := range labels {
		if l == label {
			m.send(ctx, f.owner, msgLabelTaken, chat.MenuKeep)
			return
		}
	}
	m.finish(ctx, f, label)
}

func (m *Manager) finish(ctx context.Context, f *flow, label string) {
	log := m.log.With(logx.Int64("owner", f.owner), logx.String("label", label))
	data, err := f.client.Export(ctx)
	if err != nil {
		log.Error("export credential failed", logx.Err(err))
		m.fail(ctx, f, msgInternalError)
		return
	}
	if err := m.store.Save(f.owner, label, data); err != nil {
		log.Error("save credential failed", logx.Err(err))
		m.fail(ctx, f, msgInternalError)
		return
	}

	f.state = Done
	client := f.client
	f.client = nil
	m.remove(f)
	log.Info("login completed")
	m.send(ctx, f.owner, msgLoginSuccessful, chat.MenuKeep)
	if m.handoff != nil {
		m.handoff(ctx, f.owner, label, client)
	} else {
		client.Disconnect(context.WithoutCancel(ctx))
	}
}

func (m *Manager) fail(ctx context.Context, f *flow, text string) {
	m.discard(ctx, f)
	m.send(ctx, f.owner, text, chat.MenuMain)
}

// discard removes the flow and disconnects its session. Caller holds f.mu.
func (m *Manager) discard(ctx context.Context, f *flow) {
	f.discarded = true
	m.remove(f)
	if f.client != nil {
		f.client.Disconnect(context.WithoutCancel(ctx))
		f.client = nil
	}
}

func (m *Manager) remove(f *flow) {
	f.discarded = true
	m.mu.Lock()
	if cur, ok := m.flows[f.owner]; ok && cur == f {
		delete(m.flows, f.owner)
	}
	m.mu.Unlock()
}

func (m *Manager) send(ctx context.Context, owner int64, text string, menu chat.Menu) {
	if m.reply == nil {
		return
	}
	if err := m.reply.Reply(ctx, owner, text, menu); err != nil {
		m.log.Warn("reply failed", logx.Int64("owner", owner), logx.Err(err))
	}
}

func failureText(res remote.Result) string {
	switch res.Reason {
	case remote.ReasonInvalidPhone:
		return msgInvalidPhone
	case remote.ReasonInvalidCode:
		return msgInvalidCode
	case remote.ReasonCodeExpired:
		return msgCodeExpired
	case remote.ReasonBanned:
		return msgBannedNumber
	case remote.ReasonNotRegistered:
		return msgNotRegistered
	}
	if res.Kind == remote.RateLimited {
		return fmt.Sprintf(msgRateLimitedFmt, res.Wait.Round(time.Second))
	}
	return msgInternalError
}
