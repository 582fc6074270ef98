package tgui

import (
	"context"
	"strings"

	tele "gopkg.in/telebot.v4"

	kit "groupbot/internal/transport"
)

// Message is rendered text plus its send options.
type Message struct {
	Text string
	Opt  *kit.SendOptions
}

func (m Message) Send(ctx context.Context, ad kit.Adapter, to kit.ChatTarget) (kit.MessageRef, error) {
	return ad.SendText(ctx, to, m.Text, m.options())
}

// Edit replaces the text and inline keyboard of ref.
func (m Message) Edit(ctx context.Context, ad kit.Adapter, ref kit.MessageRef) error {
	return ad.EditText(ctx, ref, m.Text, m.options())
}

func (m Message) options() *kit.SendOptions {
	if m.Opt == nil {
		return &kit.SendOptions{}
	}
	return m.Opt
}

// Builder assembles a Message line by line. Text is HTML-escaped unless
// Plain was called; link previews are always off.
type Builder struct {
	plain  bool
	markup *tele.ReplyMarkup
	lines  []string
}

func New() *Builder { return &Builder{} }

// Plain switches to plain text: no parse mode, no escaping.
func (b *Builder) Plain() *Builder {
	b.plain = true
	return b
}

func (b *Builder) esc(s string) string {
	if b.plain {
		return s
	}
	return Esc(s).String()
}

func (b *Builder) bold(s string) string {
	if b.plain {
		return s
	}
	return B(s).String()
}

// Inline attaches an inline keyboard; nil removes any markup.
func (b *Builder) Inline(kb *Inline) *Builder {
	b.markup = nil
	if kb != nil {
		b.markup = kb.Markup()
	}
	return b
}

// Keyboard attaches any markup, e.g. a reply keyboard.
func (b *Builder) Keyboard(rm *tele.ReplyMarkup) *Builder {
	b.markup = rm
	return b
}

// Title adds a bold heading, prefixed by icon when set.
func (b *Builder) Title(icon, title string) *Builder {
	title = strings.TrimSpace(title)
	if title == "" {
		return b
	}
	line := b.bold(title)
	if icon = strings.TrimSpace(icon); icon != "" {
		line = icon + " " + line
	}
	return b.RawLine(H(line))
}

// Line adds one line of text. A blank s adds an empty line.
func (b *Builder) Line(s string) *Builder {
	if strings.TrimSpace(s) == "" {
		s = ""
	}
	return b.RawLine(H(b.esc(s)))
}

// RawLine appends h without escaping.
func (b *Builder) RawLine(h H) *Builder {
	b.lines = append(b.lines, string(h))
	return b
}

func (b *Builder) Blank() *Builder { return b.RawLine("") }

// Bullets adds one "• item" line per non-blank item.
func (b *Builder) Bullets(items ...string) *Builder {
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			b.Line("• " + it)
		}
	}
	return b
}

// KV adds a "• key: value" line with the key in bold.
func (b *Builder) KV(key, value string) *Builder {
	if key = strings.TrimSpace(key); key == "" {
		return b
	}
	return b.RawLine(H("• " + b.bold(key) + ": " + b.esc(strings.TrimSpace(value))))
}

func (b *Builder) Build() Message {
	opt := &kit.SendOptions{DisablePreview: true}
	if !b.plain {
		opt.ParseMode = tele.ModeHTML
	}
	if b.markup != nil {
		opt.Markup = b.markup
	}
	return Message{Text: strings.Trim(strings.Join(b.lines, "\n"), "\n"), Opt: opt}
}
