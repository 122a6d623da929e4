package campaign

import (
	"context"
	"fmt"
	"runtime/debug"

	"tagbot/internal/clock"
	logx "tagbot/pkg/logx"
)

// Reaper periodically stops sessions that made no progress for StaleAfter
// and prunes expired cooldown entries.
type Reaper struct {
	reg      *Registry
	cooldown *Cooldown
	clock    clock.Clock
	settings func() Settings
	log      logx.Logger
}

func NewReaper(reg *Registry, cd *Cooldown, c clock.Clock, settings func() Settings, log logx.Logger) *Reaper {
	return &Reaper{reg: reg, cooldown: cd, clock: c, settings: settings, log: log.With(logx.String("comp", "reaper"))}
}

// Run sweeps every ReapInterval until ctx is done.
func (r *Reaper) Run(ctx context.Context) error {
	for {
		if err := r.clock.Sleep(ctx, r.settings().ReapInterval); err != nil {
			return nil
		}
		if _, err := r.Sweep(); err != nil {
			r.log.Error("reaper sweep failed", logx.Err(err))
		}
	}
}

// Sweep stops every stale session and returns them. A panic inside the
// sweep is returned as an error so the loop keeps running.
func (r *Reaper) Sweep() (reaped []*Session, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v\n%s", p, debug.Stack())
		}
	}()

	st := r.settings()
	now := r.clock.Now()
	var stale []*Session
	r.reg.Range(func(s *Session) bool {
		if now.Sub(s.LastProgress()) > st.StaleAfter {
			stale = append(stale, s)
		}
		return true
	})
	for _, s := range stale {
		// Only the exact stale session; a fresh one may have replaced it.
		stopped, err := r.reg.StopIf(s.Chat.ChatID, now, func(cur *Session) bool { return cur == s })
		if err != nil {
			continue
		}
		reaped = append(reaped, stopped)
		r.log.Info("reaped stale session",
			logx.Session(stopped.ID),
			logx.ChatID(stopped.Chat.ChatID),
			logx.Time("last_progress", stopped.LastProgress()),
		)
	}
	if r.cooldown != nil {
		if n := r.cooldown.Prune(); n > 0 {
			r.log.Debug("cooldown entries pruned", logx.Int("count", n))
		}
	}
	return reaped, nil
}
