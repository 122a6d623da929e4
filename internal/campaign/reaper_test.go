package campaign

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tagbot/internal/clock"
	"tagbot/internal/transport"
	logx "tagbot/pkg/logx"
)

func TestReaperStopsStaleSessions(t *testing.T) {
	clk := clock.NewFake(epoch)
	reg := NewRegistry()
	cd := NewCooldown(clk, 10*time.Second)
	st := DefaultSettings()
	stale := newTestSession(t, reg, clk, 3, st)
	cd.Reserve(7)

	clk.Advance(8 * time.Minute)
	fresh, err := reg.TryStart(-5, func() (*Session, error) {
		return NewSession(transport.ChatTarget{ChatID: -5}, 8, "", "hi", targets(2), clk.Now(), st)
	})
	require.NoError(t, err)
	clk.Advance(3 * time.Minute)

	r := NewReaper(reg, cd, clk, func() Settings { return st }, logx.Nop())
	reaped, err := r.Sweep()
	require.NoError(t, err)

	require.Len(t, reaped, 1)
	assert.Same(t, stale, reaped[0])
	assert.Equal(t, StateStopped, stale.State())
	assert.True(t, reg.Contains(fresh))
	assert.Zero(t, cd.Len())
}

func TestReaperProgressKeepsSessionAlive(t *testing.T) {
	clk := clock.NewFake(epoch)
	reg := NewRegistry()
	st := DefaultSettings()
	sess := newTestSession(t, reg, clk, 10, st)

	clk.Advance(9 * time.Minute)
	sess.advance(5, clk.Now())
	clk.Advance(9 * time.Minute)

	r := NewReaper(reg, nil, clk, func() Settings { return st }, logx.Nop())
	reaped, err := r.Sweep()
	require.NoError(t, err)
	assert.Empty(t, reaped)
	assert.True(t, sess.Active())
}

func TestReaperRunSweepsUntilCancelled(t *testing.T) {
	clk := clock.NewFake(epoch)
	reg := NewRegistry()
	st := DefaultSettings()
	sess := newTestSession(t, reg, clk, 3, st)
	clk.Advance(20 * time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sleeps := 0
	clk.OnSleep(func(time.Duration) {
		sleeps++
		if sleeps == 2 {
			cancel()
		}
	})

	r := NewReaper(reg, nil, clk, func() Settings { return st }, logx.Nop())
	require.NoError(t, r.Run(ctx))
	assert.Equal(t, []time.Duration{st.ReapInterval, st.ReapInterval}, clk.Sleeps())
	assert.Equal(t, StateStopped, sess.State())
}
