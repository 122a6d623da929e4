package campaign

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tagbot/internal/clock"
	"tagbot/internal/transport"
)

var epoch = time.Unix(1_700_000_000, 0)

const testChat int64 = -100123

type sent struct {
	To   transport.ChatTarget
	Text string
}

// fakeMessenger records traffic. sendErr, when set, decides the error of
// the n-th SendText call (zero based).
type fakeMessenger struct {
	mu      sync.Mutex
	sends   []sent
	edits   []string
	sendErr func(n int, text string) error
	nextID  int
}

func (f *fakeMessenger) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	f.mu.Lock()
	n := len(f.sends)
	f.sends = append(f.sends, sent{To: to, Text: text})
	fn := f.sendErr
	f.nextID++
	id := f.nextID
	f.mu.Unlock()
	if fn != nil {
		if err := fn(n, text); err != nil {
			return transport.MessageRef{}, err
		}
	}
	return transport.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: id}, nil
}

func (f *fakeMessenger) EditText(ctx context.Context, ref transport.MessageRef, text string, opt *transport.SendOptions) error {
	f.mu.Lock()
	f.edits = append(f.edits, text)
	f.mu.Unlock()
	return nil
}

func (f *fakeMessenger) Sent() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.sends...)
}

func (f *fakeMessenger) Edits() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.edits...)
}

func targets(n int) []Target {
	out := make([]Target, n)
	for i := range out {
		out[i] = Target{UserID: int64(i + 1), Handle: fmt.Sprintf("u%d", i)}
	}
	return out
}

func testSettings() Settings {
	st := DefaultSettings()
	st.BatchSize = 5
	st.BatchDelay = 5 * time.Second
	return st
}

func newTestSession(t *testing.T, reg *Registry, clk *clock.Fake, n int, st Settings) *Session {
	t.Helper()
	sess, err := reg.TryStart(testChat, func() (*Session, error) {
		return NewSession(transport.ChatTarget{ChatID: testChat}, 7, "@op", "hello", targets(n), clk.Now(), st)
	})
	require.NoError(t, err)
	return sess
}
