package campaign

import (
	"time"

	"tagbot/internal/storage"
)

type Code int

const (
	CodeOK Code = iota
	CodeDenied
	CodeNotFound
	CodeAlreadyActive
	CodeRateLimited
	CodeInvalidInput
	CodeNoTargets
	// CodeUnavailable means a collaborator (store, platform) failed.
	CodeUnavailable
)

func (c Code) String() string {
	switch c {
	case CodeOK:
		return "ok"
	case CodeDenied:
		return "denied"
	case CodeNotFound:
		return "not_found"
	case CodeAlreadyActive:
		return "already_active"
	case CodeRateLimited:
		return "rate_limited"
	case CodeInvalidInput:
		return "invalid_input"
	case CodeNoTargets:
		return "no_targets"
	case CodeUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Reason refines Denied and InvalidInput.
type Reason string

const (
	ReasonGroupOnly      Reason = "group_only"
	ReasonNotAdmin       Reason = "not_admin"
	ReasonNotStarter     Reason = "not_admin_or_starter"
	ReasonBotNotAdmin    Reason = "bot_not_admin"
	ReasonEmptyMessage   Reason = "empty_message"
	ReasonMessageTooLong Reason = "message_too_long"
)

// Op names the operation a Result belongs to.
type Op string

const (
	OpStart   Op = "start"
	OpStop    Op = "stop"
	OpStatus  Op = "status"
	OpCollect Op = "collect"
	OpStats   Op = "stats"
)

// Result is the structured outcome of an operator operation.
type Result struct {
	Op     Op
	Code   Code
	Reason Reason

	Session   *Snapshot     // start, stop, status
	StoppedBy string        // stop
	Wait      time.Duration // rate limited
	Collected int           // collect
	Stats     *DirectoryStats
	Limit     int // max message length, for ReasonMessageTooLong
	Err       error
}

func (r Result) OK() bool { return r.Code == CodeOK }

type DirectoryStats struct {
	storage.MemberStats
	ActiveSessions int
}
