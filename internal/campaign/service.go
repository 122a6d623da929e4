package campaign

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"tagbot/internal/clock"
	"tagbot/internal/directory"
	"tagbot/internal/eventbus"
	"tagbot/internal/storage"
	"tagbot/internal/transport"
	logx "tagbot/pkg/logx"
)

// Directory is the member directory as seen by campaigns.
type Directory interface {
	ListTaggable(ctx context.Context, groupID int64) ([]directory.MemberRecord, error)
	BulkRefresh(ctx context.Context, groupID int64) (int, error)
	Stats(ctx context.Context, groupID int64) (storage.MemberStats, error)
}

// Spawner runs a named, supervised goroutine.
type Spawner interface {
	Go(name string, fn func(ctx context.Context) error)
}

// Actor identifies who issued a command, and where.
type Actor struct {
	Chat      transport.ChatTarget
	IsGroup   bool
	UserID    int64
	Username  string
	Name      string
	MessageID int
}

// DisplayName is the best human label for the actor.
func (a Actor) DisplayName() string {
	switch {
	case a.Username != "":
		return "@" + a.Username
	case a.Name != "":
		return a.Name
	default:
		return "user " + itoa(a.UserID)
	}
}

type Options struct {
	Messenger Messenger
	Roles     transport.RoleLookup
	Directory Directory
	// Audit may be nil.
	Audit   storage.Store
	Spawner Spawner
	Clock   clock.Clock
	Bus     eventbus.Bus
	Log     logx.Logger

	Settings Settings
	Owners   []int64
}

// Service is the operator surface: start, stop, status, collect and stats.
type Service struct {
	msg      Messenger
	dir      Directory
	audit    storage.Store
	spawner  Spawner
	clock    clock.Clock
	bus      eventbus.Bus
	log      logx.Logger
	settings atomic.Pointer[Settings]

	reg        *Registry
	cooldown   *Cooldown
	auth       *Authorizer
	dispatcher *Dispatcher
	reaper     *Reaper
}

func NewService(o Options) *Service {
	if o.Clock == nil {
		o.Clock = clock.Real()
	}
	if o.Bus == nil {
		o.Bus = eventbus.New()
	}
	log := o.Log.With(logx.String("comp", "campaign"))
	st := o.Settings.normalized()

	s := &Service{
		msg:     o.Messenger,
		dir:     o.Directory,
		audit:   o.Audit,
		spawner: o.Spawner,
		clock:   o.Clock,
		bus:     o.Bus,
		log:     log,
		reg:     NewRegistry(),
	}
	s.settings.Store(&st)
	s.cooldown = NewCooldown(o.Clock, st.Cooldown)
	s.auth = NewAuthorizer(o.Roles, o.Owners, log)
	s.dispatcher = NewDispatcher(o.Messenger, s.reg, o.Clock, o.Bus, o.Log)
	s.reaper = NewReaper(s.reg, s.cooldown, o.Clock, s.Settings, o.Log)
	return s
}

func (s *Service) Settings() Settings { return *s.settings.Load() }

// Apply swaps settings and owners. Running sessions keep their settings.
func (s *Service) Apply(st Settings, owners []int64) {
	st = st.normalized()
	s.settings.Store(&st)
	s.cooldown.SetWindow(st.Cooldown)
	s.auth.SetOwners(owners)
}

func (s *Service) Registry() *Registry { return s.reg }
func (s *Service) Reaper() *Reaper     { return s.reaper }

// StartCampaign validates the request, snapshots the taggable members and
// schedules a dispatcher for the new session.
func (s *Service) StartCampaign(ctx context.Context, a Actor, message string) Result {
	res := Result{Op: OpStart}
	hold, r, ok := s.gate(a, &res)
	if !ok {
		return r
	}
	accepted := false
	defer func() { s.releaseUnless(accepted, hold) }()

	if !s.auth.IsPrivileged(ctx, a.Chat.ChatID, a.UserID) {
		return res.with(CodeDenied, ReasonNotAdmin)
	}
	if !s.auth.IsSelfPrivileged(ctx, a.Chat.ChatID) {
		return res.with(CodeDenied, ReasonBotNotAdmin)
	}
	if _, busy := s.reg.Get(a.Chat.ChatID); busy {
		return res.with(CodeAlreadyActive, "")
	}

	st := s.Settings()
	if r, ok := validateMessage(message, st, res); !ok {
		return r
	}

	members, err := s.dir.ListTaggable(ctx, a.Chat.ChatID)
	if err != nil {
		s.log.Error("list taggable failed", logx.ChatID(a.Chat.ChatID), logx.Err(err))
		res.Err = err
		return res.with(CodeUnavailable, "")
	}
	targets := make([]Target, 0, len(members))
	for _, m := range members {
		if m.Username == "" {
			continue
		}
		targets = append(targets, Target{UserID: m.UserID, Handle: m.Username, Name: m.FirstName})
	}

	now := s.clock.Now()
	sess, err := s.reg.TryStart(a.Chat.ChatID, func() (*Session, error) {
		return NewSession(a.Chat, a.UserID, a.DisplayName(), message, targets, now, st)
	})
	switch {
	case errors.Is(err, ErrAlreadyActive):
		return res.with(CodeAlreadyActive, "")
	case errors.Is(err, ErrNoTargets):
		return res.with(CodeNoTargets, "")
	case err != nil:
		res.Err = err
		return res.with(CodeInvalidInput, "")
	}
	accepted = true

	ref, err := s.msg.SendText(ctx, a.Chat, confirmText(sess.Snapshot(now)), &transport.SendOptions{ParseMode: ParseMode, ReplyTo: a.MessageID})
	bestEffort(s.log, "confirmation send", err)
	if err == nil {
		sess.setStatusMessage(ref)
	}

	s.schedule(sess)
	s.bus.Publish(eventbus.Event{Type: eventbus.CampaignStarted, Data: eventbus.CampaignEvent{
		SessionID: sess.ID, ChatID: a.Chat.ChatID, OperatorID: a.UserID, Total: sess.Total(),
	}})
	s.appendAudit(ctx, a, string(OpStart), sess.ID, nil, map[string]any{"targets": sess.Total(), "message_len": len([]rune(sess.Message))})
	s.log.Info("campaign started", logx.Session(sess.ID), logx.ChatID(a.Chat.ChatID), logx.Int64("operator", a.UserID), logx.Int("targets", sess.Total()))

	snap := sess.Snapshot(now)
	res.Session = &snap
	return res.with(CodeOK, "")
}

func (s *Service) schedule(sess *Session) {
	s.spawner.Go("campaign."+itoa(sess.Chat.ChatID), func(ctx context.Context) error {
		sctx, cancel := context.WithCancel(ctx)
		defer cancel()
		sess.bindCancel(cancel)
		s.dispatcher.Run(sctx, sess)
		return nil
	})
}

// StopCampaign stops the chat's session. Admins and the session starter may stop.
func (s *Service) StopCampaign(ctx context.Context, a Actor) Result {
	res := Result{Op: OpStop}
	hold, r, ok := s.gate(a, &res)
	if !ok {
		return r
	}
	accepted := false
	defer func() { s.releaseUnless(accepted, hold) }()

	sess, ok := s.reg.Get(a.Chat.ChatID)
	if !ok {
		return res.with(CodeNotFound, "")
	}
	if sess.OperatorID != a.UserID && !s.auth.IsPrivileged(ctx, a.Chat.ChatID, a.UserID) {
		return res.with(CodeDenied, ReasonNotStarter)
	}

	now := s.clock.Now()
	stopped, err := s.reg.StopIf(a.Chat.ChatID, now, func(cur *Session) bool { return cur == sess })
	if err != nil {
		return res.with(CodeNotFound, "")
	}
	accepted = true

	snap := stopped.Snapshot(now)
	res.Session = &snap
	res.StoppedBy = a.DisplayName()
	s.appendAudit(ctx, a, string(OpStop), stopped.ID, nil, map[string]any{"dispatched": snap.Dispatched, "total": snap.Total})
	s.log.Info("campaign stopped", logx.Session(stopped.ID), logx.ChatID(a.Chat.ChatID), logx.Int64("by", a.UserID))
	return res.with(CodeOK, "")
}

// Status reports the chat's active session, if any.
func (s *Service) Status(ctx context.Context, a Actor) Result {
	res := Result{Op: OpStatus}
	if !a.IsGroup {
		return res.with(CodeInvalidInput, ReasonGroupOnly)
	}
	sess, ok := s.reg.Get(a.Chat.ChatID)
	if !ok {
		return res.with(CodeNotFound, "")
	}
	snap := sess.Snapshot(s.clock.Now())
	res.Session = &snap
	return res.with(CodeOK, "")
}

// Collect refreshes the chat's administrators into the directory.
func (s *Service) Collect(ctx context.Context, a Actor) Result {
	res := Result{Op: OpCollect}
	hold, r, ok := s.gate(a, &res)
	if !ok {
		return r
	}
	if !s.auth.IsPrivileged(ctx, a.Chat.ChatID, a.UserID) {
		s.cooldown.Release(hold)
		return res.with(CodeDenied, ReasonNotAdmin)
	}

	started := s.clock.Now()
	n, err := s.dir.BulkRefresh(ctx, a.Chat.ChatID)
	s.appendAudit(ctx, a, string(OpCollect), "", err, map[string]any{"collected": n, "took_ms": s.clock.Now().Sub(started).Milliseconds()})
	if err != nil {
		s.log.Warn("collect failed", logx.ChatID(a.Chat.ChatID), logx.Err(err))
		res.Err = err
		return res.with(CodeUnavailable, "")
	}
	res.Collected = n
	return res.with(CodeOK, "")
}

// DirectoryStats summarizes the chat's member directory. Admins only.
func (s *Service) DirectoryStats(ctx context.Context, a Actor) Result {
	res := Result{Op: OpStats}
	if !a.IsGroup {
		return res.with(CodeInvalidInput, ReasonGroupOnly)
	}
	if !s.auth.IsPrivileged(ctx, a.Chat.ChatID, a.UserID) {
		return res.with(CodeDenied, ReasonNotAdmin)
	}
	ms, err := s.dir.Stats(ctx, a.Chat.ChatID)
	if err != nil {
		res.Err = err
		return res.with(CodeUnavailable, "")
	}
	res.Stats = &DirectoryStats{MemberStats: ms, ActiveSessions: s.reg.Len()}
	return res.with(CodeOK, "")
}

// Shutdown stops every session. Dispatchers exit through their cancelled
// contexts; the owner of the Spawner waits for them.
func (s *Service) Shutdown() int {
	stopped := s.reg.StopAll(s.clock.Now())
	for _, sess := range stopped {
		s.log.Info("session cancelled by shutdown", logx.Session(sess.ID), logx.ChatID(sess.Chat.ChatID))
	}
	return len(stopped)
}

// gate applies the group-only rule and reserves the operator cooldown.
// Callers release the reservation on every path that rejects the command.
func (s *Service) gate(a Actor, res *Result) (Reservation, Result, bool) {
	if !a.IsGroup {
		return Reservation{}, res.with(CodeInvalidInput, ReasonGroupOnly), false
	}
	hold, wait, ok := s.cooldown.Reserve(a.UserID)
	if !ok {
		res.Wait = wait
		return Reservation{}, res.with(CodeRateLimited, ""), false
	}
	return hold, *res, true
}

func (s *Service) releaseUnless(accepted bool, hold Reservation) {
	if !accepted {
		s.cooldown.Release(hold)
	}
}

func validateMessage(message string, st Settings, res Result) (Result, bool) {
	_, err := NewSession(transport.ChatTarget{}, 0, "", message, []Target{{}}, time.Time{}, st)
	switch {
	case err == nil:
		return res, true
	case errors.Is(err, ErrEmptyMessage):
		return res.with(CodeInvalidInput, ReasonEmptyMessage), false
	case errors.Is(err, ErrMessageTooLong):
		res.Limit = st.MaxMessageLen
		return res.with(CodeInvalidInput, ReasonMessageTooLong), false
	default:
		res.Err = err
		return res.with(CodeInvalidInput, ""), false
	}
}

func (r Result) with(c Code, reason Reason) Result {
	r.Code = c
	r.Reason = reason
	return r
}

func (s *Service) appendAudit(ctx context.Context, a Actor, action, target string, opErr error, meta map[string]any) {
	if s.audit == nil {
		return
	}
	e := storage.AuditEntry{
		At:            s.clock.Now(),
		ActorID:       a.UserID,
		ActorUsername: a.Username,
		ChatID:        a.Chat.ChatID,
		Action:        action,
		Target:        target,
		OK:            1,
	}
	if opErr != nil {
		e.OK, e.Fail, e.Error = 0, 1, excerpt(opErr, errExcerptLen)
	}
	if meta != nil {
		if b, err := json.Marshal(meta); err == nil {
			e.MetaJSON = string(b)
		}
	}
	bestEffort(s.log, "audit append", s.audit.AppendAudit(ctx, e))
}
