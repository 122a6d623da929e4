package campaign

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tagbot/internal/clock"
	"tagbot/internal/eventbus"
	"tagbot/internal/transport"
	logx "tagbot/pkg/logx"
)

func newDispatcher(msg Messenger, reg *Registry, clk clock.Clock) *Dispatcher {
	return NewDispatcher(msg, reg, clk, nil, logx.Nop())
}

func TestDispatchCompletesInBatches(t *testing.T) {
	clk := clock.NewFake(epoch)
	reg := NewRegistry()
	msg := &fakeMessenger{}
	sess := newTestSession(t, reg, clk, 12, testSettings())
	sess.setStatusMessage(transport.MessageRef{ChatID: testChat, MessageID: 99})

	state := newDispatcher(msg, reg, clk).Run(context.Background(), sess)

	assert.Equal(t, StateCompleted, state)
	assert.Equal(t, 12, sess.Dispatched())
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second}, clk.Sleeps())

	sends := msg.Sent()
	require.Len(t, sends, 4)
	assert.Equal(t, 5, strings.Count(sends[0].Text, "\n@"))
	assert.Contains(t, sends[0].Text, "@u0")
	assert.Contains(t, sends[0].Text, "@u4")
	assert.Equal(t, 5, strings.Count(sends[1].Text, "\n@"))
	assert.Contains(t, sends[1].Text, "@u5")
	assert.Equal(t, 2, strings.Count(sends[2].Text, "\n@"))
	assert.Contains(t, sends[2].Text, "@u11")
	assert.Contains(t, sends[3].Text, "Tagging Completed")

	// first batch progress plus the final status edit
	assert.Len(t, msg.Edits(), 2)

	_, ok := reg.Get(testChat)
	assert.False(t, ok)
	select {
	case <-sess.Done():
	default:
		t.Fatal("done channel not closed")
	}
}

func TestDispatchRetriesSameBatchAfterRateLimit(t *testing.T) {
	clk := clock.NewFake(epoch)
	reg := NewRegistry()
	msg := &fakeMessenger{sendErr: func(n int, _ string) error {
		if n == 1 {
			return &transport.RateLimitedError{RetryAfter: 3 * time.Second}
		}
		return nil
	}}
	sess := newTestSession(t, reg, clk, 12, testSettings())

	var atRetry []int
	clk.OnSleep(func(d time.Duration) {
		if d == 3*time.Second {
			atRetry = append(atRetry, sess.Dispatched())
		}
	})

	state := newDispatcher(msg, reg, clk).Run(context.Background(), sess)

	assert.Equal(t, StateCompleted, state)
	assert.Equal(t, 12, sess.Dispatched())
	assert.Equal(t, []int{5}, atRetry, "the throttled batch is not counted while waiting")
	assert.Equal(t, []time.Duration{5 * time.Second, 3 * time.Second, 5 * time.Second}, clk.Sleeps())

	sends := msg.Sent()
	require.Len(t, sends, 5)
	assert.Equal(t, sends[1].Text, sends[2].Text)
	assert.Contains(t, sends[2].Text, "@u5")
	assert.Contains(t, sends[3].Text, "@u11")
	assert.Contains(t, sends[4].Text, "Tagging Completed")
}

func TestDispatchEditsProgressOnFirstAndEveryFifthBatch(t *testing.T) {
	clk := clock.NewFake(epoch)
	reg := NewRegistry()
	msg := &fakeMessenger{}
	sess := newTestSession(t, reg, clk, 30, testSettings())
	sess.setStatusMessage(transport.MessageRef{ChatID: testChat, MessageID: 99})

	var editsAt []int
	clk.OnSleep(func(time.Duration) { editsAt = append(editsAt, len(msg.Edits())) })

	state := newDispatcher(msg, reg, clk).Run(context.Background(), sess)

	assert.Equal(t, StateCompleted, state)
	// edit counts after batches 1..5: the 1st batch edits, the 6th is next
	assert.Equal(t, []int{1, 1, 1, 1, 1}, editsAt)
	// batches 1 and 6 plus the final status edit
	assert.Len(t, msg.Edits(), 3)
}

func TestDispatchSkipsBatchWithoutHandles(t *testing.T) {
	clk := clock.NewFake(epoch)
	reg := NewRegistry()
	msg := &fakeMessenger{}
	tg := targets(12)
	for i := 5; i < 10; i++ {
		tg[i].Handle = ""
	}
	sess, err := reg.TryStart(testChat, func() (*Session, error) {
		return NewSession(transport.ChatTarget{ChatID: testChat}, 7, "@op", "hello", tg, clk.Now(), testSettings())
	})
	require.NoError(t, err)

	state := newDispatcher(msg, reg, clk).Run(context.Background(), sess)

	assert.Equal(t, StateCompleted, state)
	assert.Equal(t, 7, sess.Dispatched())
	// one pause after the first batch, none after the skipped one
	assert.Equal(t, []time.Duration{5 * time.Second}, clk.Sleeps())

	sends := msg.Sent()
	require.Len(t, sends, 3)
	assert.Contains(t, sends[0].Text, "@u4")
	assert.NotContains(t, sends[1].Text, "@u5")
	assert.Equal(t, 2, strings.Count(sends[1].Text, "\n@"))
	assert.Contains(t, sends[2].Text, "Tagging Completed")
	_, ok := reg.Get(testChat)
	assert.False(t, ok)
}

func TestDispatchSkippedBatchStillChecksTimeLimit(t *testing.T) {
	clk := clock.NewFake(epoch)
	reg := NewRegistry()
	msg := &fakeMessenger{}
	st := testSettings()
	st.MaxDuration = 4 * time.Second
	tg := targets(12)
	for i := 5; i < 10; i++ {
		tg[i].Handle = ""
	}
	sess, err := reg.TryStart(testChat, func() (*Session, error) {
		return NewSession(transport.ChatTarget{ChatID: testChat}, 7, "@op", "hello", tg, clk.Now(), st)
	})
	require.NoError(t, err)

	state := newDispatcher(msg, reg, clk).Run(context.Background(), sess)

	// the 5s pause after batch 1 exceeds the limit, so the check at the
	// top of the all-empty batch ends the session before batch 3
	assert.Equal(t, StateTimedOut, state)
	assert.Equal(t, 5, sess.Dispatched())
	sends := msg.Sent()
	require.Len(t, sends, 2)
	assert.Contains(t, sends[1].Text, "Time Limit Reached")
}

func TestDispatchTimesOut(t *testing.T) {
	clk := clock.NewFake(epoch)
	reg := NewRegistry()
	msg := &fakeMessenger{}
	st := testSettings()
	st.MaxDuration = 8 * time.Second
	sess := newTestSession(t, reg, clk, 12, st)

	state := newDispatcher(msg, reg, clk).Run(context.Background(), sess)

	assert.Equal(t, StateTimedOut, state)
	assert.Equal(t, 10, sess.Dispatched())
	sends := msg.Sent()
	require.Len(t, sends, 3)
	assert.Contains(t, sends[2].Text, "Time Limit Reached")
	assert.Contains(t, sends[2].Text, "10/12")
}

func TestDispatchSkipsRejectedBatch(t *testing.T) {
	clk := clock.NewFake(epoch)
	reg := NewRegistry()
	msg := &fakeMessenger{sendErr: func(n int, _ string) error {
		if n == 1 {
			return transport.Rejected(errors.New("bad request"))
		}
		return nil
	}}
	sess := newTestSession(t, reg, clk, 12, testSettings())

	state := newDispatcher(msg, reg, clk).Run(context.Background(), sess)

	assert.Equal(t, StateCompleted, state)
	assert.Equal(t, 7, sess.Dispatched())
	// no pause after the rejected batch
	assert.Equal(t, []time.Duration{5 * time.Second}, clk.Sleeps())
}

func TestDispatchFailsOnUnexpectedError(t *testing.T) {
	clk := clock.NewFake(epoch)
	reg := NewRegistry()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(32)
	defer unsub()
	msg := &fakeMessenger{sendErr: func(n int, _ string) error {
		if n == 1 {
			return errors.New("boom")
		}
		return nil
	}}
	sess := newTestSession(t, reg, clk, 12, testSettings())

	state := NewDispatcher(msg, reg, clk, bus, logx.Nop()).Run(context.Background(), sess)

	assert.Equal(t, StateFailed, state)
	assert.Equal(t, 5, sess.Dispatched())
	sends := msg.Sent()
	require.Len(t, sends, 3)
	assert.Contains(t, sends[2].Text, "Tagging Error")
	assert.Contains(t, sends[2].Text, "boom")

	var finished *eventbus.CampaignEvent
	for len(events) > 0 {
		ev := <-events
		if ev.Type == eventbus.CampaignFinished {
			ce := ev.Data.(eventbus.CampaignEvent)
			finished = &ce
		}
	}
	require.NotNil(t, finished)
	assert.Equal(t, "failed", finished.Outcome)
}

func TestDispatchStopsWhenSessionStopped(t *testing.T) {
	clk := clock.NewFake(epoch)
	reg := NewRegistry()
	msg := &fakeMessenger{}
	sess := newTestSession(t, reg, clk, 12, testSettings())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sess.bindCancel(cancel)
	clk.OnSleep(func(time.Duration) {
		_, err := reg.Stop(testChat, clk.Now())
		assert.NoError(t, err)
	})

	state := newDispatcher(msg, reg, clk).Run(ctx, sess)

	assert.Equal(t, StateStopped, state)
	assert.Equal(t, 5, sess.Dispatched())
	// a stopped session gets no summary from the dispatcher
	assert.Len(t, msg.Sent(), 1)
}

func TestDispatchOfStoppedSessionSendsNothing(t *testing.T) {
	clk := clock.NewFake(epoch)
	reg := NewRegistry()
	msg := &fakeMessenger{}
	sess := newTestSession(t, reg, clk, 3, testSettings())
	_, err := reg.Stop(testChat, clk.Now())
	require.NoError(t, err)

	state := newDispatcher(msg, reg, clk).Run(context.Background(), sess)

	assert.Equal(t, StateStopped, state)
	assert.Empty(t, msg.Sent())
}

func TestBatchTextEscapesAndSkipsEmptyHandles(t *testing.T) {
	text, n := batchText("a <b> & c", []Target{{Handle: "@x"}, {Handle: ""}, {Handle: "y"}})
	assert.Equal(t, 2, n)
	assert.Contains(t, text, "a &lt;b&gt; &amp; c")
	assert.Contains(t, text, "\n@x")
	assert.Contains(t, text, "\n@y")
}
