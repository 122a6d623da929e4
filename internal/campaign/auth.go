package campaign

import (
	"context"
	"sync/atomic"
	"time"

	"tagbot/internal/transport"
	logx "tagbot/pkg/logx"
)

const roleLookupTimeout = 10 * time.Second

// Authorizer decides operator and bot privilege. It fails closed: a
// lookup error means "not privileged" and is only logged.
type Authorizer struct {
	roles  transport.RoleLookup
	owners atomic.Pointer[map[int64]struct{}]
	log    logx.Logger
}

func NewAuthorizer(roles transport.RoleLookup, owners []int64, log logx.Logger) *Authorizer {
	a := &Authorizer{roles: roles, log: log}
	a.SetOwners(owners)
	return a
}

// SetOwners replaces the bot owners, who are privileged in every chat.
func (a *Authorizer) SetOwners(ids []int64) {
	m := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	a.owners.Store(&m)
}

func (a *Authorizer) isOwner(userID int64) bool {
	m := a.owners.Load()
	if m == nil {
		return false
	}
	_, ok := (*m)[userID]
	return ok
}

func (a *Authorizer) IsPrivileged(ctx context.Context, chatID, userID int64) bool {
	if a.isOwner(userID) {
		return true
	}
	return a.lookup(ctx, chatID, userID, "operator")
}

func (a *Authorizer) IsSelfPrivileged(ctx context.Context, chatID int64) bool {
	if a.roles == nil {
		return false
	}
	return a.lookup(ctx, chatID, a.roles.SelfID(), "self")
}

func (a *Authorizer) lookup(ctx context.Context, chatID, userID int64, who string) bool {
	if a.roles == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, roleLookupTimeout)
	defer cancel()
	role, err := a.roles.MemberRole(ctx, chatID, userID)
	if err != nil {
		a.log.Warn("role lookup failed; treating as unprivileged",
			logx.String("who", who), logx.ChatID(chatID), logx.User(userID), logx.Err(err))
		return false
	}
	return role.Privileged()
}
