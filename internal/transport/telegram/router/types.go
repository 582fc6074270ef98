package router

import (
	"context"
	"errors"
	"time"

	kit "groupbot/internal/transport"
	logx "groupbot/pkg/logx"
)

// Handled ends routing of a plain-text update. Text fallbacks return it after
// consuming the message; any other result lets the next fallback try.
var Handled = errors.New("router: handled")

type HandlerFunc func(ctx context.Context, req *Request) error

type CallbackHandlerFunc func(ctx context.Context, req *Request, payload string) error

type Command struct {
	// Name is the command word without the slash, e.g. "start".
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Timeout     time.Duration // optional per-command override
	Handle      HandlerFunc
}

// Button routes a reply-keyboard label (exact text match) to a handler.
type Button struct {
	Text   string
	Handle HandlerFunc
}

// CallbackRoute handles inline-button data "prefix:action[:payload]".
type CallbackRoute struct {
	Prefix  string
	Action  string
	Timeout time.Duration
	Handle  CallbackHandlerFunc
}

// Registry is everything the router dispatches to.
type Registry struct {
	Commands  []Command
	Buttons   []Button
	Callbacks []CallbackRoute
	// Fallbacks see plain text that matched no command or button, in order.
	Fallbacks []HandlerFunc
}

type Request struct {
	Update  kit.Update
	Chat    kit.ChatTarget
	FromID  int64
	Command string // route key: command name, "button:<text>", "cb:<prefix>:<action>" or "text"
	Text    string
	Args    []string
	Payload string // callback payload (raw string)
	ReqID   string

	Adapter kit.Adapter
	Logger  logx.Logger
}

// Reply sends plain text to the request's chat.
func (r *Request) Reply(ctx context.Context, text string) error {
	_, err := r.Adapter.SendText(ctx, r.Chat, text, nil)
	return err
}

// ErrorHook is told about handler failures (errors other than Handled, and recovered panics).
type ErrorHook func(ctx context.Context, req *Request, err error)
