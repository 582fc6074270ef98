// Package transport holds the chat-platform types shared by the adapter, the
// router and the message builders.
package transport

import "context"

// Update is one inbound event. Exactly one of Message and Callback is set.
type Update struct {
	Message  *Message
	Callback *Callback
}

// Kind names the update for logs.
func (u Update) Kind() string {
	switch {
	case u.Message != nil:
		return "message"
	case u.Callback != nil:
		return "callback"
	}
	return "unknown"
}

// OwnerID returns the sender of the update, or 0 when unknown.
func (u Update) OwnerID() int64 {
	switch {
	case u.Message != nil:
		return u.Message.FromID
	case u.Callback != nil:
		return u.Callback.FromID
	}
	return 0
}

type Message struct {
	ID       int
	ChatID   int64
	FromID   int64
	Username string
	Text     string
	Private  bool
}

// Callback is an inline button press on the message MessageID.
type Callback struct {
	ID        string
	FromID    int64
	ChatID    int64
	MessageID int
	Data      string
}

type ChatTarget struct {
	ChatID int64
}

// MessageRef identifies a sent message so it can be edited later.
type MessageRef struct {
	ChatID    int64
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	// Markup is adapter specific; the Telegram adapter expects *telebot.ReplyMarkup.
	Markup any
}

// Adapter is the bot-side connection to the chat platform.
type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
	AnswerCallback(ctx context.Context, callbackID string, text string) error
}

type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is implemented by adapters that can publish the command list.
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
