package campaign

import (
	"context"
	"errors"

	"tagbot/internal/clock"
	"tagbot/internal/eventbus"
	"tagbot/internal/transport"
	logx "tagbot/pkg/logx"
)

// Messenger is the part of the transport the dispatcher needs.
type Messenger interface {
	SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error)
	EditText(ctx context.Context, ref transport.MessageRef, text string, opt *transport.SendOptions) error
}

// Dispatcher paces a session's batches through the transport.
type Dispatcher struct {
	msg   Messenger
	reg   *Registry
	clock clock.Clock
	bus   eventbus.Bus
	log   logx.Logger
}

func NewDispatcher(msg Messenger, reg *Registry, c clock.Clock, bus eventbus.Bus, log logx.Logger) *Dispatcher {
	if bus == nil {
		bus = eventbus.New()
	}
	return &Dispatcher{msg: msg, reg: reg, clock: c, bus: bus, log: log.With(logx.String("comp", "dispatcher"))}
}

type sendOutcome int

const (
	outcomeSent sendOutcome = iota
	outcomeRejected
	outcomeStopped
	outcomeFatal
)

// Run dispatches sess until it reaches a terminal state and returns that
// state. On return the session is out of the registry and Done is closed.
func (d *Dispatcher) Run(ctx context.Context, sess *Session) State {
	defer sess.markDone()
	log := d.log.With(logx.Session(sess.ID), logx.Chat(sess.Chat.ChatID, sess.Chat.ThreadID))

	if !sess.begin() {
		d.reg.Remove(sess)
		d.publishFinished(sess, sess.Snapshot(d.clock.Now()))
		return sess.State()
	}
	log.Info("dispatch started", logx.Int("total", sess.Total()))

	final, cause := d.loop(ctx, sess, log)
	d.terminate(sess, final, cause, log)
	return sess.State()
}

func (d *Dispatcher) loop(ctx context.Context, sess *Session, log logx.Logger) (State, error) {
	st := sess.settings
	targets := sess.targets
	total := len(targets)

	for idx, batchNo := 0, 0; idx < total; batchNo++ {
		if !d.alive(ctx, sess) {
			return StateStopped, nil
		}
		if d.clock.Now().Sub(sess.CreatedAt) > st.MaxDuration {
			return StateTimedOut, nil
		}

		end := min(idx+st.BatchSize, total)
		batch := targets[idx:end]
		idx = end

		text, mentions := batchText(sess.Message, batch)
		if mentions == 0 {
			d.publishBatch(sess, len(batch), "skipped")
			continue
		}

		outcome, err := d.send(ctx, sess, text, log)
		switch outcome {
		case outcomeStopped:
			return StateStopped, nil
		case outcomeFatal:
			return StateFailed, err
		case outcomeRejected:
			log.Warn("batch rejected; skipping", logx.Int("batch", batchNo), logx.Err(err))
			d.publishBatch(sess, len(batch), "skipped")
			continue
		}

		dispatched := sess.advance(len(batch), d.clock.Now())
		d.publishBatch(sess, len(batch), "sent")
		log.Debug("batch sent", logx.Int("batch", batchNo), logx.Int("dispatched", dispatched), logx.Int("total", total))
		if batchNo%st.ProgressEvery == 0 {
			d.editStatus(ctx, sess, progressText(sess.Snapshot(d.clock.Now())), log)
		}

		if idx < total {
			if err := d.clock.Sleep(ctx, st.BatchDelay); err != nil {
				return StateStopped, nil
			}
		}
	}
	if !d.alive(ctx, sess) {
		return StateStopped, nil
	}
	return StateCompleted, nil
}

// send delivers one batch, waiting out rate limits and resending the same
// text until it is delivered, rejected or the session ends.
func (d *Dispatcher) send(ctx context.Context, sess *Session, text string, log logx.Logger) (sendOutcome, error) {
	for {
		sctx, cancel := context.WithTimeout(ctx, sess.settings.SendTimeout)
		_, err := d.msg.SendText(sctx, sess.Chat, text, &transport.SendOptions{ParseMode: ParseMode, DisablePreview: true})
		cancel()
		if err == nil {
			return outcomeSent, nil
		}
		if ctx.Err() != nil || !sess.Active() {
			return outcomeStopped, nil
		}
		if wait, ok := transport.RetryAfter(err); ok {
			log.Warn("rate limited; retrying batch", logx.Duration("retry_after", wait))
			d.publishBatch(sess, 0, "rate_limited")
			if err := d.clock.Sleep(ctx, wait); err != nil {
				return outcomeStopped, nil
			}
			if !d.alive(ctx, sess) {
				return outcomeStopped, nil
			}
			continue
		}
		if transport.IsRejected(err) {
			return outcomeRejected, err
		}
		return outcomeFatal, err
	}
}

func (d *Dispatcher) alive(ctx context.Context, sess *Session) bool {
	return ctx.Err() == nil && sess.Active() && d.reg.Contains(sess)
}

// terminate records the terminal state, sends its summary if this call
// made the transition, and removes the session from the registry.
func (d *Dispatcher) terminate(sess *Session, final State, cause error, log logx.Logger) {
	now := d.clock.Now()
	transitioned := sess.finish(final, now)
	d.reg.Remove(sess)

	snap := sess.Snapshot(now)
	fields := []logx.Field{
		logx.String("state", snap.State.String()),
		logx.Int("dispatched", snap.Dispatched),
		logx.Int("total", snap.Total),
		logx.Duration("elapsed", snap.Elapsed),
	}
	if cause != nil {
		log.Error("dispatch failed", append(fields, logx.Err(cause))...)
	} else {
		log.Info("dispatch finished", fields...)
	}

	// Summaries use a fresh context: the session context is already cancelled.
	ctx, cancel := context.WithTimeout(context.Background(), sess.settings.SendTimeout)
	defer cancel()
	if transitioned {
		switch final {
		case StateCompleted:
			d.notify(ctx, sess, completedText(snap), log)
			d.editStatus(ctx, sess, progressText(snap), log)
		case StateTimedOut:
			d.notify(ctx, sess, timedOutText(snap, sess.settings.MaxDuration), log)
		case StateFailed:
			d.notify(ctx, sess, failedText(snap, cause), log)
		}
	}

	d.publishFinished(sess, snap)
}

func (d *Dispatcher) publishFinished(sess *Session, snap Snapshot) {
	d.bus.Publish(eventbus.Event{Type: eventbus.CampaignFinished, Data: eventbus.CampaignEvent{
		SessionID:  sess.ID,
		ChatID:     sess.Chat.ChatID,
		OperatorID: sess.OperatorID,
		Total:      snap.Total,
		Dispatched: snap.Dispatched,
		Outcome:    snap.State.String(),
		Elapsed:    snap.Elapsed,
	}})
}

func (d *Dispatcher) notify(ctx context.Context, sess *Session, text string, log logx.Logger) {
	_, err := d.msg.SendText(ctx, sess.Chat, text, &transport.SendOptions{ParseMode: ParseMode, DisablePreview: true})
	bestEffort(log, "summary send", err)
}

func (d *Dispatcher) editStatus(ctx context.Context, sess *Session, text string, log logx.Logger) {
	ref := sess.statusMessage()
	if ref.MessageID == 0 {
		return
	}
	ectx, cancel := context.WithTimeout(ctx, sess.settings.SendTimeout)
	defer cancel()
	bestEffort(log, "status edit", d.msg.EditText(ectx, ref, text, &transport.SendOptions{ParseMode: ParseMode, DisablePreview: true}))
}

func (d *Dispatcher) publishBatch(sess *Session, size int, outcome string) {
	d.bus.Publish(eventbus.Event{Type: eventbus.CampaignBatch, Data: eventbus.CampaignEvent{
		SessionID:  sess.ID,
		ChatID:     sess.Chat.ChatID,
		OperatorID: sess.OperatorID,
		Total:      sess.Total(),
		Dispatched: sess.Dispatched(),
		BatchSize:  size,
		Outcome:    outcome,
	}})
}

// bestEffort logs and discards the error of an operation whose failure
// must not affect the caller.
func bestEffort(log logx.Logger, op string, err error) {
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}
	log.Warn("best-effort "+op+" failed", logx.Err(err))
}
