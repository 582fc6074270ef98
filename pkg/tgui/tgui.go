package tgui

import (
	tele "gopkg.in/telebot.v4"
)

// Inline accumulates rows of an inline keyboard.
type Inline struct {
	rm   *tele.ReplyMarkup
	rows []tele.Row
}

func NewInline() *Inline {
	return &Inline{rm: &tele.ReplyMarkup{}}
}

// Row appends one row of buttons.
func (i *Inline) Row(btns ...tele.Btn) *Inline {
	i.rows = append(i.rows, i.rm.Row(btns...))
	i.rm.Inline(i.rows...)
	return i
}

func (i *Inline) Markup() *tele.ReplyMarkup { return i.rm }

// ConfirmInline is a single row holding the confirm and cancel buttons.
func ConfirmInline(yes, no tele.Btn) *Inline {
	return NewInline().Row(yes, no)
}

// Btn is a callback button; build data with Data.
func Btn(text, data string) tele.Btn {
	return tele.Btn{Text: text, Data: data}
}

// ReplyKeyboard builds a resized reply keyboard, one argument per row of labels.
func ReplyKeyboard(rows ...[]string) *tele.ReplyMarkup {
	rm := &tele.ReplyMarkup{ResizeKeyboard: true}
	out := make([]tele.Row, 0, len(rows))
	for _, labels := range rows {
		btns := make([]tele.Btn, 0, len(labels))
		for _, l := range labels {
			btns = append(btns, rm.Text(l))
		}
		out = append(out, rm.Row(btns...))
	}
	rm.Reply(out...)
	return rm
}
