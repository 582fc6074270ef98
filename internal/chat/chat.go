// Package chat is the conversational boundary between the core and the bot transport.
package chat

import (
	"context"
	"sync"
)

// Menu selects the reply keyboard sent along with a message.
type Menu int

const (
	// MenuKeep leaves whatever keyboard the user currently has.
	MenuKeep Menu = iota
	// MenuMain shows the main menu.
	MenuMain
	// MenuLogin shows only the cancel button while a login is in progress.
	MenuLogin
)

// Replier sends a text message to an owner's private chat.
type Replier interface {
	Reply(ctx context.Context, owner int64, text string, menu Menu) error
}

type ReplierFunc func(ctx context.Context, owner int64, text string, menu Menu) error

func (f ReplierFunc) Reply(ctx context.Context, owner int64, text string, menu Menu) error {
	return f(ctx, owner, text, menu)
}

// Message is one reply captured by Recorder.
type Message struct {
	Owner int64
	Text  string
	Menu  Menu
}

// Recorder is a Replier that keeps every message. Used by tests.
type Recorder struct {
	mu   sync.Mutex
	msgs []Message
}

func (r *Recorder) Reply(_ context.Context, owner int64, text string, menu Menu) error {
	r.mu.Lock()
	r.msgs = append(r.msgs, Message{Owner: owner, Text: text, Menu: menu})
	r.mu.Unlock()
	return nil
}

func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.msgs...)
}

// Last returns the most recent message, or the zero Message.
func (r *Recorder) Last() Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.msgs) == 0 {
		return Message{}
	}
	return r.msgs[len(r.msgs)-1]
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	r.msgs = nil
	r.mu.Unlock()
}
