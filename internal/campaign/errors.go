package campaign

import "errors"

var (
	ErrAlreadyActive  = errors.New("campaign: a session is already active in this chat")
	ErrNotFound       = errors.New("campaign: no active session in this chat")
	ErrEmptyMessage   = errors.New("campaign: message is empty")
	ErrMessageTooLong = errors.New("campaign: message is too long")
	ErrNoTargets      = errors.New("campaign: no members with a username to tag")
)
