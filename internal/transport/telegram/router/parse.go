package router

import (
	"strings"
	"unicode"

	"github.com/google/uuid"
)

// newReqID returns a short random id for correlating the log lines of one update.
func newReqID() string {
	id := uuid.New()
	return strings.ReplaceAll(id.String(), "-", "")[:12]
}

// parseCommand splits "/name@bot args" into a lower-case name and its
// arguments. ok is false when text is not a command.
func parseCommand(text string) (name string, args []string, ok bool) {
	fields := splitArgs(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", nil, false
	}
	name, _, _ = strings.Cut(fields[0][1:], "@")
	if len(fields) > 1 {
		args = fields[1:]
	}
	return strings.ToLower(name), args, true
}

// splitArgs splits on whitespace. Single or double quotes group words and a
// backslash escapes the next character:
//
//	/history "my label" 5
func splitArgs(s string) []string {
	var (
		out     []string
		cur     strings.Builder
		quote   rune
		escaped bool
		inWord  bool
	)
	for _, r := range s {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped, inWord = true, true
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '"' || r == '\'':
			quote, inWord = r, true
		case unicode.IsSpace(r):
			if inWord {
				out = append(out, cur.String())
				cur.Reset()
				inWord = false
			}
		default:
			cur.WriteRune(r)
			inWord = true
		}
	}
	if inWord {
		out = append(out, cur.String())
	}
	return out
}
