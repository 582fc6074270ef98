// Package tgui provides small Telegram UI helpers:
//   - inline and reply keyboard builders
//   - callback data helpers (prefix:action:payload)
//   - an HTML-safe message builder
//   - a TTL token store for payloads larger than callback_data allows
package tgui
