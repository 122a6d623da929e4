package campaign

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"tagbot/internal/transport"
)

type State int

const (
	StateCreated State = iota
	StateDispatching
	StateCompleted
	StateStopped
	StateTimedOut
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateDispatching:
		return "dispatching"
	case StateCompleted:
		return "completed"
	case StateStopped:
		return "stopped"
	case StateTimedOut:
		return "timed_out"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) Terminal() bool { return s >= StateCompleted }

// Target is one member to mention.
type Target struct {
	UserID int64
	Handle string
	Name   string
}

// Session is one mention campaign in one chat. Identity, message and
// targets are fixed at creation; progress is guarded by mu.
type Session struct {
	ID           string
	Chat         transport.ChatTarget
	OperatorID   int64
	OperatorName string
	Message      string
	CreatedAt    time.Time

	targets  []Target
	settings Settings

	mu           sync.Mutex
	state        State
	active       bool
	dispatched   int
	lastProgress time.Time
	statusRef    transport.MessageRef
	cancel       context.CancelFunc
	endedAt      time.Time

	done chan struct{}
	once sync.Once
}

// NewSession validates the message (1..MaxMessageLen runes after trimming)
// and requires at least one target. The targets slice is copied.
func NewSession(chat transport.ChatTarget, operatorID int64, operatorName, message string, targets []Target, now time.Time, st Settings) (*Session, error) {
	st = st.normalized()
	msg := strings.TrimSpace(message)
	if msg == "" {
		return nil, ErrEmptyMessage
	}
	if n := utf8.RuneCountInString(msg); n > st.MaxMessageLen {
		return nil, fmt.Errorf("%w: %d > %d characters", ErrMessageTooLong, n, st.MaxMessageLen)
	}
	if len(targets) == 0 {
		return nil, ErrNoTargets
	}
	return &Session{
		ID:           uuid.NewString(),
		Chat:         chat,
		OperatorID:   operatorID,
		OperatorName: operatorName,
		Message:      msg,
		CreatedAt:    now,
		targets:      append([]Target(nil), targets...),
		settings:     st,
		state:        StateCreated,
		active:       true,
		lastProgress: now,
		done:         make(chan struct{}),
	}, nil
}

func (s *Session) Total() int { return len(s.targets) }

func (s *Session) Settings() Settings { return s.settings }

func (s *Session) Dispatched() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dispatched
}

func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) LastProgress() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastProgress
}

// Done is closed once the dispatcher has exited.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) statusMessage() transport.MessageRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusRef
}

func (s *Session) setStatusMessage(ref transport.MessageRef) {
	s.mu.Lock()
	s.statusRef = ref
	s.mu.Unlock()
}

// begin moves Created to Dispatching. It fails if the session was already
// terminated.
func (s *Session) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active || s.state != StateCreated {
		return false
	}
	s.state = StateDispatching
	return true
}

// bindCancel attaches the dispatcher's cancel func. A session that is
// already inactive is cancelled immediately.
func (s *Session) bindCancel(cancel context.CancelFunc) {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		cancel()
		return
	}
	s.cancel = cancel
	s.mu.Unlock()
}

// advance records a delivered batch. dispatched never exceeds Total.
func (s *Session) advance(n int, now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dispatched = min(s.dispatched+n, len(s.targets))
	s.lastProgress = now
	return s.dispatched
}

// finish makes the first terminal transition: active goes false and never
// comes back. It reports whether this call made the transition.
func (s *Session) finish(st State, now time.Time) bool {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return false
	}
	s.active = false
	s.state = st
	s.endedAt = now
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return true
}

func (s *Session) markDone() { s.once.Do(func() { close(s.done) }) }

// Snapshot is a consistent copy of a session's progress.
type Snapshot struct {
	ID           string
	ChatID       int64
	OperatorID   int64
	OperatorName string
	Message      string
	State        State
	Active       bool
	Total        int
	Dispatched   int
	CreatedAt    time.Time
	LastProgress time.Time
	Elapsed      time.Duration
}

// Percent is dispatched/total in percent.
func (s Snapshot) Percent() float64 {
	if s.Total <= 0 {
		return 0
	}
	return float64(s.Dispatched) / float64(s.Total) * 100
}

func (s *Session) Snapshot(now time.Time) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	end := now
	if !s.endedAt.IsZero() {
		end = s.endedAt
	}
	return Snapshot{
		ID:           s.ID,
		ChatID:       s.Chat.ChatID,
		OperatorID:   s.OperatorID,
		OperatorName: s.OperatorName,
		Message:      s.Message,
		State:        s.state,
		Active:       s.active,
		Total:        len(s.targets),
		Dispatched:   s.dispatched,
		CreatedAt:    s.CreatedAt,
		LastProgress: s.lastProgress,
		Elapsed:      end.Sub(s.CreatedAt),
	}
}
