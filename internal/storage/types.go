package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrClosed   = errors.New("storage closed")
)

// Config configures storage.
//
// If Driver is empty the sqlite driver is used. "none" disables storage.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Member is one row of the member directory keyed by (GroupID, UserID).
// An empty Username is stored as NULL.
type Member struct {
	GroupID   int64     `json:"group_id"`
	UserID    int64     `json:"user_id"`
	Username  string    `json:"username,omitempty"`
	FirstName string    `json:"first_name,omitempty"`
	LastName  string    `json:"last_name,omitempty"`
	LastSeen  time.Time `json:"last_seen"`
}

// MemberStats summarizes the directory of one group.
type MemberStats struct {
	Total      int
	WithHandle int
	LastSeen   time.Time // zero when the group has no rows
}

// AuditEntry records an operator action.
type AuditEntry struct {
	At            time.Time `json:"at"`
	ActorID       int64     `json:"actor_id"`
	ActorUsername string    `json:"actor_username,omitempty"`
	ChatID        int64     `json:"chat_id"`
	Action        string    `json:"action"`
	Target        string    `json:"target,omitempty"`
	OK            int       `json:"ok"`
	Fail          int       `json:"fail"`
	Error         string    `json:"err,omitempty"`
	TookMS        int64     `json:"took_ms"`
	MetaJSON      string    `json:"meta,omitempty"`
}

// Store is the persistence API used by the directory and campaign services.
type Store interface {
	// UpsertMember inserts or overwrites the (group, user) row. Rows are never deleted.
	UpsertMember(ctx context.Context, m Member) error
	// ListMembers returns the rows of a group ordered by LastSeen, newest first.
	// With handleOnly set, rows without a username are skipped.
	ListMembers(ctx context.Context, groupID int64, handleOnly bool) ([]Member, error)
	MemberStats(ctx context.Context, groupID int64) (MemberStats, error)
	// Groups lists every group with at least one row.
	Groups(ctx context.Context) ([]int64, error)

	AppendAudit(ctx context.Context, e AuditEntry) error
	Close() error
}
