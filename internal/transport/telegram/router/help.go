package router

import (
	"strings"

	"groupbot/pkg/tgui"
)

// helpText renders the command list as HTML.
func (m *CommandManager) helpText() string {
	m.mu.RLock()
	cmds := append([]Command(nil), m.listed...)
	m.mu.RUnlock()

	b := tgui.New().Title("📖", "Commands")
	for _, c := range cmds {
		line := tgui.Code("/" + c.Name)
		if u := strings.TrimSpace(c.Usage); u != "" {
			line = tgui.Code("/" + c.Name + " " + u)
		}
		if d := strings.TrimSpace(c.Description); d != "" {
			line = tgui.JoinH(" ", line, tgui.Esc("- "+d))
		}
		if len(c.Aliases) > 0 {
			line = tgui.JoinH(" ", line, tgui.I("(also /"+strings.Join(c.Aliases, ", /")+")"))
		}
		b.RawLine(line)
	}
	b.Blank().Line("Use the keyboard buttons to start a batch or manage saved accounts.")
	return b.Build().Text
}
