// Package logx is tagbot's logger: a zerolog wrapper whose sinks (console,
// JSON file, HTML lines to a Telegram log group) can be swapped at runtime
// by Service.Apply. Shared keys for chats, users and sessions live in
// fields.go.
package logx
