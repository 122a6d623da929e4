package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

const memoryAuditCap = 1000

type memberKey struct {
	group int64
	user  int64
}

// memoryStore keeps everything in process memory.
type memoryStore struct {
	mu      sync.RWMutex
	members map[memberKey]Member
	audit   []AuditEntry
	closed  bool
}

func NewMemory() Store {
	return &memoryStore{members: map[memberKey]Member{}}
}

func (s *memoryStore) UpsertMember(ctx context.Context, m Member) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if m.LastSeen.IsZero() {
		m.LastSeen = time.Now()
	}
	s.members[memberKey{m.GroupID, m.UserID}] = m
	return nil
}

func (s *memoryStore) ListMembers(ctx context.Context, groupID int64, handleOnly bool) ([]Member, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	return filterMembers(s.members, groupID, handleOnly), nil
}

func (s *memoryStore) MemberStats(ctx context.Context, groupID int64) (MemberStats, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return MemberStats{}, ErrClosed
	}
	return statsOf(s.members, groupID), nil
}

func (s *memoryStore) Groups(ctx context.Context) ([]int64, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	return groupsOf(s.members), nil
}

func (s *memoryStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.audit = append(s.audit, e)
	if len(s.audit) > memoryAuditCap {
		s.audit = append([]AuditEntry(nil), s.audit[len(s.audit)-memoryAuditCap:]...)
	}
	return nil
}

func (s *memoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// helpers shared by the map-backed drivers

func filterMembers(all map[memberKey]Member, groupID int64, handleOnly bool) []Member {
	out := make([]Member, 0, 64)
	for k, m := range all {
		if k.group != groupID {
			continue
		}
		if handleOnly && m.Username == "" {
			continue
		}
		out = append(out, m)
	}
	sortByLastSeen(out)
	return out
}

func sortByLastSeen(ms []Member) {
	sort.SliceStable(ms, func(i, j int) bool {
		if !ms[i].LastSeen.Equal(ms[j].LastSeen) {
			return ms[i].LastSeen.After(ms[j].LastSeen)
		}
		return ms[i].UserID < ms[j].UserID
	})
}

func statsOf(all map[memberKey]Member, groupID int64) MemberStats {
	var st MemberStats
	for k, m := range all {
		if k.group != groupID {
			continue
		}
		st.Total++
		if m.Username != "" {
			st.WithHandle++
		}
		if m.LastSeen.After(st.LastSeen) {
			st.LastSeen = m.LastSeen
		}
	}
	return st
}

func groupsOf(all map[memberKey]Member) []int64 {
	seen := map[int64]struct{}{}
	out := make([]int64, 0, 8)
	for k := range all {
		if _, ok := seen[k.group]; ok {
			continue
		}
		seen[k.group] = struct{}{}
		out = append(out, k.group)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
