package accounts

import (
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v4"

	"groupbot/pkg/tgui"
)

// Callback data is "acc:<action>[:<payload>]".
const CallbackPrefix = "acc"

const (
	ActionOpen   = "open"
	ActionStart  = "start"
	ActionStop   = "stop"
	ActionDelete = "del"
	ActionPurge  = "delok"
	ActionAdd    = "add"
	ActionBack   = "back"
	ActionPage   = "page"
)

const pageSize = 8

type ref struct {
	Owner int64
	Label string
}

// Token stores (owner, label) server-side and returns a short callback payload.
func (m *Manager) Token(owner int64, label string) string {
	return m.tokens.Put(ref{Owner: owner, Label: label})
}

// Resolve maps a payload back to a label. Tokens issued for another owner are rejected.
func (m *Manager) Resolve(owner int64, tok string) (string, bool) {
	r, ok := m.tokens.Get(tok)
	if !ok || r.Owner != owner {
		return "", false
	}
	return r.Label, true
}

// Menu renders the account list: one button per account with its live status,
// then the fixed "add account" and "back" actions.
func (m *Manager) Menu(owner int64, page int) (tgui.Message, error) {
	entries, err := m.List(owner)
	if err != nil {
		return tgui.Message{}, err
	}
	pg := tgui.Paginate(entries, page, pageSize)

	b := tgui.New().Title("👤", "Accounts")
	if len(entries) == 0 {
		b.Line("No stored accounts yet.")
	} else {
		b.Line(pg.Label())
	}

	kb := tgui.NewInline()
	for _, e := range pg.Items {
		kb.Row(tgui.Btn(statusIcon(e.Running)+" "+tgui.TruncRunes(e.Label, 24), tgui.Data(CallbackPrefix, ActionOpen, m.Token(owner, e.Label))))
	}
	var nav []tele.Btn
	if pg.HasPrev() {
		nav = append(nav, tgui.Btn("◀", tgui.Data(CallbackPrefix, ActionPage, strconv.Itoa(pg.Index-1))))
	}
	if pg.HasNext() {
		nav = append(nav, tgui.Btn("▶", tgui.Data(CallbackPrefix, ActionPage, strconv.Itoa(pg.Index+1))))
	}
	if len(nav) > 0 {
		kb.Row(nav...)
	}
	kb.Row(
		tgui.Btn("➕ Add account", tgui.Data(CallbackPrefix, ActionAdd, "")),
		tgui.Btn("⬅ Back", tgui.Data(CallbackPrefix, ActionBack, "")),
	)
	return b.Inline(kb).Build(), nil
}

// AccountMenu renders the actions for one account.
func (m *Manager) AccountMenu(owner int64, label string) tgui.Message {
	entries, _ := m.List(owner)
	running := false
	for _, e := range entries {
		if e.Label == label {
			running = e.Running
		}
	}
	tok := m.Token(owner, label)

	b := tgui.New().Title(statusIcon(running), label)
	if running {
		b.Line("A batch is running for this account.")
	} else {
		b.Line("Idle.")
	}
	kb := tgui.NewInline()
	if running {
		kb.Row(tgui.Btn("⏹ Stop", tgui.Data(CallbackPrefix, ActionStop, tok)))
	} else {
		kb.Row(tgui.Btn("▶ Start", tgui.Data(CallbackPrefix, ActionStart, tok)))
	}
	kb.Row(
		tgui.Btn("🗑 Delete", tgui.Data(CallbackPrefix, ActionDelete, tok)),
		tgui.Btn("⬅ Back", tgui.Data(CallbackPrefix, ActionPage, "0")),
	)
	return b.Inline(kb).Build()
}

// ConfirmDelete asks before deleting label. Confirming sends ActionPurge.
func (m *Manager) ConfirmDelete(owner int64, label string) tgui.Message {
	tok := m.Token(owner, label)
	kb := tgui.ConfirmInline(
		tgui.Btn("🗑 Delete", tgui.Data(CallbackPrefix, ActionPurge, tok)),
		tgui.Btn("Cancel", tgui.Data(CallbackPrefix, ActionOpen, tok)),
	)
	return tgui.New().
		Title("⚠", "Delete "+quote(label)+"?").
		Line("The stored login is removed and a running batch is stopped.").
		Inline(kb).
		Build()
}

// OutcomeText is the user-facing summary of a delete.
func OutcomeText(label string, o Outcome) string {
	switch o {
	case DeletedAndStopped:
		return "Stopped the running batch and deleted account " + quote(label) + "."
	case StoppedOnly:
		return "Stopped the running batch of " + quote(label) + "; no stored credential was found."
	case Deleted:
		return "Deleted account " + quote(label) + "."
	default:
		return "Account " + quote(label) + " was not found."
	}
}

func quote(s string) string { return "\"" + strings.TrimSpace(s) + "\"" }

func statusIcon(running bool) string {
	if running {
		return "🟢"
	}
	return "⚪"
}
