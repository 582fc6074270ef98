package tgui

import (
	"errors"
	"strings"
)

// MaxCallbackDataLen is Telegram's callback_data size limit in bytes.
const MaxCallbackDataLen = 64

var ErrCallbackDataTooLong = errors.New("tgui: callback_data too long")

// Data formats inline callback data as "prefix:action:payload".
// Payload is kept as-is (no escaping).
func Data(prefix, action, payload string) string {
	prefix = strings.TrimSpace(prefix)
	action = strings.TrimSpace(action)
	if payload == "" {
		return prefix + ":" + action
	}
	return prefix + ":" + action + ":" + payload
}

// ParseData splits callback data built by Data. Payload may itself contain ':'.
func ParseData(data string) (prefix, action, payload string, err error) {
	if len(data) > MaxCallbackDataLen {
		return "", "", "", ErrCallbackDataTooLong
	}
	parts := strings.SplitN(data, ":", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", "", errors.New("tgui: malformed callback data")
	}
	if len(parts) == 3 {
		payload = parts[2]
	}
	return parts[0], parts[1], payload, nil
}
