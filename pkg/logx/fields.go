package logx

import (
	"time"

	"github.com/rs/zerolog"
)

// Field mutates a zerolog event. Fields apply in order and a later field
// with the same key wins.
type Field func(e *zerolog.Event)

func String(k, v string) Field                 { return func(e *zerolog.Event) { e.Str(k, v) } }
func Int(k string, v int) Field                { return func(e *zerolog.Event) { e.Int(k, v) } }
func Int64(k string, v int64) Field            { return func(e *zerolog.Event) { e.Int64(k, v) } }
func Uint64(k string, v uint64) Field          { return func(e *zerolog.Event) { e.Uint64(k, v) } }
func Bool(k string, v bool) Field              { return func(e *zerolog.Event) { e.Bool(k, v) } }
func Duration(k string, v time.Duration) Field { return func(e *zerolog.Event) { e.Dur(k, v) } }
func Time(k string, v time.Time) Field         { return func(e *zerolog.Event) { e.Time(k, v) } }
func Any(k string, v any) Field                { return func(e *zerolog.Event) { e.Interface(k, v) } }

// Err adds the error under "err". A nil error adds nothing.
func Err(err error) Field {
	return func(e *zerolog.Event) {
		if err != nil {
			e.Err(err)
		}
	}
}

// Keys shared by every component, so log queries work across packages.
const (
	KeyChat    = "chat_id"
	KeyThread  = "thread_id"
	KeyUser    = "user_id"
	KeySession = "session"
)

// Chat adds the chat id, and the forum thread when it is set.
func Chat(chatID int64, threadID int) Field {
	return func(e *zerolog.Event) {
		e.Int64(KeyChat, chatID)
		if threadID != 0 {
			e.Int(KeyThread, threadID)
		}
	}
}

func ChatID(chatID int64) Field { return Int64(KeyChat, chatID) }

func User(userID int64) Field { return Int64(KeyUser, userID) }

func Session(id string) Field { return String(KeySession, id) }
