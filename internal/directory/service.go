package directory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"

	"tagbot/internal/clock"
	"tagbot/internal/eventbus"
	"tagbot/internal/storage"
	"tagbot/internal/transport"
	logx "tagbot/pkg/logx"
)

var ErrNoStore = errors.New("directory: storage disabled")

// Service maintains the member directory: passive collection from observed
// traffic, administrator refreshes and lookups for campaigns.
type Service struct {
	store  storage.Store
	admins transport.AdminLister
	clock  clock.Clock
	bus    eventbus.Bus
	log    logx.Logger

	mu         sync.Mutex
	observe    bool
	ratePerSec int
	limiters   map[int64]*rate.Limiter

	// last handle written per member; sightings that would change it skip the limiter
	seen      map[memberKey]string
	throttled atomic.Uint64
}

type memberKey struct{ group, user int64 }

type Options struct {
	Store  storage.Store
	Admins transport.AdminLister
	Clock  clock.Clock
	Bus    eventbus.Bus
	Log    logx.Logger

	Observe           bool
	ObserveRatePerSec int
}

const (
	maxLimiters = 4096
	maxSeen     = 1 << 16
)

func New(o Options) *Service {
	if o.Clock == nil {
		o.Clock = clock.Real()
	}
	if o.Bus == nil {
		o.Bus = eventbus.New()
	}
	s := &Service{
		store:    o.Store,
		admins:   o.Admins,
		clock:    o.Clock,
		bus:      o.Bus,
		log:      o.Log.With(logx.String("comp", "directory")),
		limiters: map[int64]*rate.Limiter{},
		seen:     map[memberKey]string{},
	}
	s.Apply(o.Observe, o.ObserveRatePerSec)
	return s
}

// Apply updates the observer settings. Existing per-group limiters are reset.
func (s *Service) Apply(observe bool, ratePerSec int) {
	if ratePerSec <= 0 {
		ratePerSec = 20
	}
	s.mu.Lock()
	s.observe = observe
	if s.ratePerSec != ratePerSec {
		s.ratePerSec = ratePerSec
		s.limiters = map[int64]*rate.Limiter{}
	}
	s.mu.Unlock()
}

// Upsert records a member sighting. Repeating it only refreshes the row.
func (s *Service) Upsert(ctx context.Context, groupID, userID int64, handle, first, last string) error {
	if s.store == nil {
		return ErrNoStore
	}
	rec, err := NewMemberRecord(groupID, userID, handle, first, last, s.clock.Now())
	if err != nil {
		return err
	}
	if err := s.store.UpsertMember(ctx, rec); err != nil {
		return fmt.Errorf("directory upsert %d/%d: %w", groupID, userID, err)
	}
	return nil
}

// Observe collects the sender of a group message. It is best-effort: errors
// are logged and bots and private chats are ignored. Repeat sightings are
// throttled per group so a busy chat cannot flood the store; a member's
// first sighting and a changed handle are always written. A throttled
// sighting only loses a last-seen refresh, and is counted in Throttled.
func (s *Service) Observe(ctx context.Context, m *transport.Message) {
	if m == nil || !m.IsGroup || m.FromID <= 0 || m.FromIsBot || s.store == nil {
		return
	}
	if !s.allow(memberKey{m.ChatID, m.FromID}, m.FromUsername) {
		return
	}
	if err := s.Upsert(ctx, m.ChatID, m.FromID, m.FromUsername, m.FromFirstName, m.FromLastName); err != nil {
		s.log.Debug("observe upsert failed", logx.ChatID(m.ChatID), logx.User(m.FromID), logx.Err(err))
		s.mu.Lock()
		delete(s.seen, memberKey{m.ChatID, m.FromID})
		s.mu.Unlock()
		return
	}
	s.bus.Publish(eventbus.Event{Type: eventbus.MemberObserved, Data: eventbus.DirectoryEvent{ChatID: m.ChatID, Count: 1}})
}

func (s *Service) allow(k memberKey, handle string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.observe {
		return false
	}
	lim := s.limiters[k.group]
	if lim == nil {
		if len(s.limiters) >= maxLimiters {
			s.limiters = map[int64]*rate.Limiter{}
		}
		lim = rate.NewLimiter(rate.Limit(s.ratePerSec), s.ratePerSec)
		s.limiters[k.group] = lim
	}
	// the token is spent either way so bursts of new members still count
	ok := lim.Allow()
	if prev, known := s.seen[k]; !known || prev != handle {
		if len(s.seen) >= maxSeen {
			s.seen = map[memberKey]string{}
		}
		s.seen[k] = handle
		return true
	}
	if !ok {
		s.throttled.Add(1)
	}
	return ok
}

// Throttled counts repeat sightings dropped by the per-group limiter.
func (s *Service) Throttled() uint64 { return s.throttled.Load() }

// ListTaggable returns members with a handle, most recently seen first.
func (s *Service) ListTaggable(ctx context.Context, groupID int64) ([]MemberRecord, error) {
	if s.store == nil {
		return nil, ErrNoStore
	}
	return s.store.ListMembers(ctx, groupID, true)
}

func (s *Service) Stats(ctx context.Context, groupID int64) (storage.MemberStats, error) {
	if s.store == nil {
		return storage.MemberStats{}, ErrNoStore
	}
	return s.store.MemberStats(ctx, groupID)
}

func (s *Service) Groups(ctx context.Context) ([]int64, error) {
	if s.store == nil {
		return nil, ErrNoStore
	}
	return s.store.Groups(ctx)
}

// BulkRefresh upserts the group's administrator list. It is partial: rows
// that fail are logged and skipped. It returns the number stored and an
// error only when the list itself could not be fetched.
func (s *Service) BulkRefresh(ctx context.Context, groupID int64) (int, error) {
	if s.store == nil {
		return 0, ErrNoStore
	}
	if s.admins == nil {
		return 0, errors.New("directory: administrator lookup unavailable")
	}
	admins, err := s.admins.Administrators(ctx, groupID)
	if err != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.DirectoryRefresh, Data: eventbus.DirectoryEvent{ChatID: groupID, Err: err}})
		return 0, fmt.Errorf("list administrators of %d: %w", groupID, err)
	}
	n := 0
	for _, a := range admins {
		if a.IsBot {
			continue
		}
		if err := s.Upsert(ctx, groupID, a.UserID, a.Username, a.FirstName, a.LastName); err != nil {
			s.log.Warn("refresh upsert failed", logx.ChatID(groupID), logx.User(a.UserID), logx.Err(err))
			continue
		}
		n++
	}
	s.bus.Publish(eventbus.Event{Type: eventbus.DirectoryRefresh, Data: eventbus.DirectoryEvent{ChatID: groupID, Count: n}})
	return n, nil
}
