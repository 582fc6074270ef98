package app

import (
	"context"

	tele "gopkg.in/telebot.v4"

	"groupbot/internal/chat"
	kit "groupbot/internal/transport"
	"groupbot/pkg/tgui"
)

func mainKeyboard() *tele.ReplyMarkup {
	return tgui.ReplyKeyboard(
		[]string{btnStart, btnCancel},
		[]string{btnHelp, btnAccounts},
	)
}

func loginKeyboard() *tele.ReplyMarkup {
	return tgui.ReplyKeyboard([]string{btnCancel})
}

// replier sends plain text to an owner's private chat with the requested keyboard.
type replier struct {
	ad kit.Adapter
}

var _ chat.Replier = replier{}

func (r replier) Reply(ctx context.Context, owner int64, text string, menu chat.Menu) error {
	b := tgui.New().Plain().Line(text)
	switch menu {
	case chat.MenuMain:
		b.Keyboard(mainKeyboard())
	case chat.MenuLogin:
		b.Keyboard(loginKeyboard())
	}
	_, err := b.Build().Send(ctx, r.ad, kit.ChatTarget{ChatID: owner})
	return err
}
