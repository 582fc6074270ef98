package tgui

import (
	"html"
	"strings"
)

// H is text already safe for ParseMode "HTML".
type H string

func (h H) String() string { return string(h) }

// Esc escapes plain text for HTML parse mode.
func Esc(s string) H { return H(html.EscapeString(s)) }

func tag(name, s string) H { return H("<" + name + ">" + html.EscapeString(s) + "</" + name + ">") }

// B, I and Code escape s and wrap it in the matching tag.
func B(s string) H    { return tag("b", s) }
func I(s string) H    { return tag("i", s) }
func Code(s string) H { return tag("code", s) }

// JoinH joins the non-blank parts with sep.
func JoinH(sep string, parts ...H) H {
	var sb strings.Builder
	for _, p := range parts {
		if strings.TrimSpace(string(p)) == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString(sep)
		}
		sb.WriteString(string(p))
	}
	return H(sb.String())
}

// TruncRunes shortens s to n runes, ending with "…" when something was cut.
func TruncRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	seen := 0
	for i := range s {
		if seen == n {
			return s[:i] + "…"
		}
		seen++
	}
	return s
}
