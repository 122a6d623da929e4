package campaign

import (
	"sync"
	"time"
)

// Registry maps chat id to its single active session. Each chat has its
// own lock, so chats never wait on each other. A slot lives only while its
// chat has a session, so the map stays the size of the active set.
type Registry struct {
	slots sync.Map // int64 -> *slot
}

type slot struct {
	mu   sync.Mutex
	sess *Session
	// dead slots are out of the map; TryStart retries with a fresh one
	dead bool
}

func NewRegistry() *Registry { return &Registry{} }

func (r *Registry) slot(chatID int64) *slot {
	if v, ok := r.slots.Load(chatID); ok {
		return v.(*slot)
	}
	v, _ := r.slots.LoadOrStore(chatID, &slot{})
	return v.(*slot)
}

// TryStart installs the session built by factory unless the chat is
// occupied. The factory runs under the chat lock.
func (r *Registry) TryStart(chatID int64, factory func() (*Session, error)) (*Session, error) {
	for {
		sl := r.slot(chatID)
		sl.mu.Lock()
		if sl.dead {
			sl.mu.Unlock()
			continue
		}
		sess, err := r.start(chatID, sl, factory)
		sl.mu.Unlock()
		return sess, err
	}
}

func (r *Registry) start(chatID int64, sl *slot, factory func() (*Session, error)) (*Session, error) {
	if sl.sess != nil {
		return nil, ErrAlreadyActive
	}
	sess, err := factory()
	if err != nil {
		r.retire(chatID, sl)
		return nil, err
	}
	sl.sess = sess
	return sess, nil
}

// retire empties sl and drops it from the map. Callers hold sl.mu.
func (r *Registry) retire(chatID int64, sl *slot) {
	sl.sess = nil
	sl.dead = true
	r.slots.CompareAndDelete(chatID, sl)
}

// Stop deactivates, cancels and removes the chat's session.
func (r *Registry) Stop(chatID int64, now time.Time) (*Session, error) {
	return r.stopIf(chatID, now, nil)
}

// StopIf is Stop guarded by pred, evaluated under the chat lock.
func (r *Registry) StopIf(chatID int64, now time.Time, pred func(*Session) bool) (*Session, error) {
	return r.stopIf(chatID, now, pred)
}

func (r *Registry) stopIf(chatID int64, now time.Time, pred func(*Session) bool) (*Session, error) {
	v, ok := r.slots.Load(chatID)
	if !ok {
		return nil, ErrNotFound
	}
	sl := v.(*slot)
	sl.mu.Lock()
	defer sl.mu.Unlock()
	sess := sl.sess
	if sess == nil || (pred != nil && !pred(sess)) {
		return nil, ErrNotFound
	}
	sess.finish(StateStopped, now)
	r.retire(chatID, sl)
	return sess, nil
}

func (r *Registry) Get(chatID int64) (*Session, bool) {
	v, ok := r.slots.Load(chatID)
	if !ok {
		return nil, false
	}
	sl := v.(*slot)
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return sl.sess, sl.sess != nil
}

// Contains reports whether sess is still the chat's registered session.
func (r *Registry) Contains(sess *Session) bool {
	cur, ok := r.Get(sess.Chat.ChatID)
	return ok && cur == sess
}

// Remove drops sess if it is still the chat's registered session.
func (r *Registry) Remove(sess *Session) bool {
	v, ok := r.slots.Load(sess.Chat.ChatID)
	if !ok {
		return false
	}
	sl := v.(*slot)
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.sess != sess {
		return false
	}
	r.retire(sess.Chat.ChatID, sl)
	return true
}

// Range calls fn for every registered session until fn returns false.
// Sessions may be stopped concurrently.
func (r *Registry) Range(fn func(*Session) bool) {
	r.slots.Range(func(_, v any) bool {
		sl := v.(*slot)
		sl.mu.Lock()
		sess := sl.sess
		sl.mu.Unlock()
		if sess == nil {
			return true
		}
		return fn(sess)
	})
}

func (r *Registry) Len() int {
	n := 0
	r.Range(func(*Session) bool { n++; return true })
	return n
}

// StopAll stops every registered session.
func (r *Registry) StopAll(now time.Time) []*Session {
	var chats []int64
	r.Range(func(s *Session) bool {
		chats = append(chats, s.Chat.ChatID)
		return true
	})
	out := make([]*Session, 0, len(chats))
	for _, c := range chats {
		if s, err := r.Stop(c, now); err == nil {
			out = append(out, s)
		}
	}
	return out
}
