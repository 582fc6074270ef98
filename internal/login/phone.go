package login

import (
	"errors"
	"strings"
)

var ErrPhoneFormat = errors.New("login: phone must be 7-15 digits with an optional leading +")

// NormalizePhone strips spaces, dashes and parentheses and checks the result
// is 7-15 digits. A missing leading + is added.
func NormalizePhone(raw string) (string, error) {
	var b strings.Builder
	for _, r := range strings.TrimSpace(raw) {
		switch r {
		case ' ', '-', '(', ')', '\t':
			continue
		}
		b.WriteRune(r)
	}
	digits := strings.TrimPrefix(b.String(), "+")
	if len(digits) < 7 || len(digits) > 15 {
		return "", ErrPhoneFormat
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return "", ErrPhoneFormat
		}
	}
	return "+" + digits, nil
}

// normalizeCode drops separators users put between code digits.
func normalizeCode(raw string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '.', '\t':
			return -1
		}
		return r
	}, strings.TrimSpace(raw))
}
