package campaign

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tagbot/internal/clock"
	"tagbot/internal/directory"
	"tagbot/internal/storage"
	"tagbot/internal/transport"
	logx "tagbot/pkg/logx"
)

const (
	botID   int64 = 999
	adminID int64 = 1
	userID  int64 = 2
	ownerID int64 = 3
)

type fakeRoles struct {
	mu    sync.Mutex
	roles map[int64]transport.Role
	fail  bool
	// When entered is set, every lookup announces itself there and then
	// waits for release to close.
	entered chan struct{}
	release chan struct{}
}

func (f *fakeRoles) MemberRole(ctx context.Context, chatID, uid int64) (transport.Role, error) {
	f.mu.Lock()
	entered, release := f.entered, f.release
	f.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
		<-release
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return "", errors.New("lookup failed")
	}
	if r, ok := f.roles[uid]; ok {
		return r, nil
	}
	return transport.RoleMember, nil
}

func (f *fakeRoles) SelfID() int64 { return botID }

type fakeAdmins []transport.Member

func (f fakeAdmins) Administrators(ctx context.Context, chatID int64) ([]transport.Member, error) {
	return f, nil
}

// manualSpawner holds spawned work until the test runs it.
type manualSpawner struct {
	mu  sync.Mutex
	fns []func(ctx context.Context) error
}

func (m *manualSpawner) Go(name string, fn func(ctx context.Context) error) {
	m.mu.Lock()
	m.fns = append(m.fns, fn)
	m.mu.Unlock()
}

func (m *manualSpawner) runAll(t *testing.T) {
	t.Helper()
	m.mu.Lock()
	fns := m.fns
	m.fns = nil
	m.mu.Unlock()
	for _, fn := range fns {
		require.NoError(t, fn(context.Background()))
	}
}

type fixture struct {
	svc     *Service
	clk     *clock.Fake
	msg     *fakeMessenger
	roles   *fakeRoles
	dir     *directory.Service
	spawner *manualSpawner
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := clock.NewFake(epoch)
	store := storage.NewMemory()
	t.Cleanup(func() { _ = store.Close() })

	roles := &fakeRoles{roles: map[int64]transport.Role{
		adminID: transport.RoleAdministrator,
		botID:   transport.RoleAdministrator,
	}}
	dir := directory.New(directory.Options{
		Store: store,
		Admins: fakeAdmins{
			{UserID: adminID, Username: "admin"},
			{UserID: botID, Username: "tagbot", IsBot: true},
		},
		Clock: clk,
		Log:   logx.Nop(),
	})
	f := &fixture{clk: clk, msg: &fakeMessenger{}, roles: roles, dir: dir, spawner: &manualSpawner{}}
	f.svc = NewService(Options{
		Messenger: f.msg,
		Roles:     roles,
		Directory: dir,
		Audit:     store,
		Spawner:   f.spawner,
		Clock:     clk,
		Log:       logx.Nop(),
		Settings:  testSettings(),
		Owners:    []int64{ownerID},
	})
	return f
}

func (f *fixture) seed(t *testing.T, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		require.NoError(t, f.dir.Upsert(ctx, testChat, int64(100+i), "member"+string(rune('a'+i)), "", ""))
	}
	// no handle, never tagged
	require.NoError(t, f.dir.Upsert(ctx, testChat, 500, "", "Anon", ""))
}

func actor(uid int64) Actor {
	return Actor{Chat: transport.ChatTarget{ChatID: testChat}, IsGroup: true, UserID: uid, Username: "user", MessageID: 10}
}

func TestStartRequiresGroup(t *testing.T) {
	f := newFixture(t)
	a := actor(adminID)
	a.IsGroup = false
	res := f.svc.StartCampaign(context.Background(), a, "hi")
	assert.Equal(t, CodeInvalidInput, res.Code)
	assert.Equal(t, ReasonGroupOnly, res.Reason)
	assert.Equal(t, "❌ This command only works in groups!", Render(res))
}

func TestStartDeniedLeavesNoCooldown(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 3)
	ctx := context.Background()

	res := f.svc.StartCampaign(ctx, actor(userID), "hi")
	assert.Equal(t, CodeDenied, res.Code)
	assert.Equal(t, ReasonNotAdmin, res.Reason)

	res = f.svc.StartCampaign(ctx, actor(userID), "hi")
	assert.Equal(t, CodeDenied, res.Code, "a rejected command must not start the cooldown")
	assert.Zero(t, f.svc.Registry().Len())
}

func TestStartFailsClosedOnLookupError(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 3)
	f.roles.fail = true

	res := f.svc.StartCampaign(context.Background(), actor(adminID), "hi")
	assert.Equal(t, CodeDenied, res.Code)

	// owners do not depend on the lookup, but the bot still must be admin
	res = f.svc.StartCampaign(context.Background(), actor(ownerID), "hi")
	assert.Equal(t, CodeDenied, res.Code)
	assert.Equal(t, ReasonBotNotAdmin, res.Reason)
}

func TestStartRequiresBotAdmin(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 3)
	f.roles.roles[botID] = transport.RoleMember

	res := f.svc.StartCampaign(context.Background(), actor(adminID), "hi")
	assert.Equal(t, CodeDenied, res.Code)
	assert.Equal(t, ReasonBotNotAdmin, res.Reason)
	assert.Contains(t, Render(res), "admin in this group")
}

func TestStartValidatesMessage(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 3)
	ctx := context.Background()

	res := f.svc.StartCampaign(ctx, actor(adminID), "  ")
	assert.Equal(t, ReasonEmptyMessage, res.Reason)

	res = f.svc.StartCampaign(ctx, actor(adminID), strings.Repeat("x", 201))
	assert.Equal(t, CodeInvalidInput, res.Code)
	assert.Equal(t, ReasonMessageTooLong, res.Reason)
	assert.Equal(t, "❌ Message too long! Maximum 200 characters.", Render(res))
}

func TestStartWithEmptyDirectory(t *testing.T) {
	f := newFixture(t)
	res := f.svc.StartCampaign(context.Background(), actor(adminID), "hi")
	assert.Equal(t, CodeNoTargets, res.Code)
	assert.Zero(t, f.svc.Registry().Len())
}

func TestStartDispatchAndStatus(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 7)
	ctx := context.Background()

	res := f.svc.StartCampaign(ctx, actor(adminID), "hello all")
	require.Equal(t, CodeOK, res.Code)
	require.NotNil(t, res.Session)
	assert.Equal(t, 7, res.Session.Total)
	assert.Empty(t, Render(res))

	sends := f.msg.Sent()
	require.Len(t, sends, 1)
	assert.Contains(t, sends[0].Text, "Starting Tagging Session")

	st := f.svc.Status(ctx, actor(userID))
	require.Equal(t, CodeOK, st.Code)
	assert.Contains(t, Render(st), "0/7")

	again := f.svc.StartCampaign(ctx, actor(ownerID), "again")
	assert.Equal(t, CodeAlreadyActive, again.Code)

	limited := f.svc.StartCampaign(ctx, actor(adminID), "again")
	assert.Equal(t, CodeRateLimited, limited.Code)
	assert.Equal(t, 10*time.Second, limited.Wait)

	f.spawner.runAll(t)

	assert.Zero(t, f.svc.Registry().Len())
	// confirmation, two batches, completion summary
	sends = f.msg.Sent()
	require.Len(t, sends, 4)
	assert.Contains(t, sends[3].Text, "Tagging Completed")
	assert.Equal(t, CodeNotFound, f.svc.Status(ctx, actor(userID)).Code)
}

func TestStopByStarterOrAdmin(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 3)
	ctx := context.Background()

	f.roles.roles[userID] = transport.RoleAdministrator
	require.Equal(t, CodeOK, f.svc.StartCampaign(ctx, actor(userID), "hi").Code)
	f.roles.roles[userID] = transport.RoleMember

	res := f.svc.StopCampaign(ctx, actor(4))
	assert.Equal(t, CodeDenied, res.Code)
	assert.Equal(t, ReasonNotStarter, res.Reason)

	res = f.svc.StopCampaign(ctx, actor(userID))
	assert.Equal(t, CodeRateLimited, res.Code)

	f.clk.Advance(10 * time.Second)
	res = f.svc.StopCampaign(ctx, actor(userID))
	require.Equal(t, CodeOK, res.Code)
	assert.Contains(t, Render(res), "Tagging Stopped")
	assert.Equal(t, StateStopped, res.Session.State)

	f.clk.Advance(10 * time.Second)
	assert.Equal(t, CodeNotFound, f.svc.StopCampaign(ctx, actor(userID)).Code)

	f.spawner.runAll(t)
	// only the confirmation was sent
	assert.Len(t, f.msg.Sent(), 1)
}

func TestCollectAndStats(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 2)
	ctx := context.Background()

	assert.Equal(t, CodeDenied, f.svc.Collect(ctx, actor(userID)).Code)

	res := f.svc.Collect(ctx, actor(adminID))
	require.Equal(t, CodeOK, res.Code)
	assert.Equal(t, 1, res.Collected)
	assert.Contains(t, Render(res), "Collected 1 members")

	stats := f.svc.DirectoryStats(ctx, actor(adminID))
	require.Equal(t, CodeOK, stats.Code)
	assert.Equal(t, 4, stats.Stats.Total)
	assert.Equal(t, 3, stats.Stats.WithHandle)
	assert.Contains(t, Render(stats), "Known members:</b> 4")

	assert.Equal(t, CodeDenied, f.svc.DirectoryStats(ctx, actor(userID)).Code)
}

func TestConcurrentCommandsShareOneCooldown(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 2)
	ctx := context.Background()
	f.roles.entered = make(chan struct{}, 2)
	f.roles.release = make(chan struct{})

	results := make(chan Result, 2)
	for i := 0; i < 2; i++ {
		go func() { results <- f.svc.Collect(ctx, actor(adminID)) }()
	}

	select {
	case <-f.roles.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("no role lookup started")
	}
	// the other command is turned away while the first is still in its lookup
	var first Result
	select {
	case first = <-results:
	case <-time.After(2 * time.Second):
		t.Fatal("second command was not rejected while the first held the cooldown")
	}
	assert.Equal(t, CodeRateLimited, first.Code)
	assert.Positive(t, first.Wait)

	close(f.roles.release)
	second := <-results
	assert.Equal(t, CodeOK, second.Code)
	assert.Empty(t, f.roles.entered, "only one command reached the role lookup")
}

func TestDeniedCommandsReleaseCooldown(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 2)
	ctx := context.Background()

	assert.Equal(t, CodeDenied, f.svc.Collect(ctx, actor(userID)).Code)
	assert.Equal(t, CodeDenied, f.svc.Collect(ctx, actor(userID)).Code, "a denied collect must not start the cooldown")

	assert.Equal(t, CodeNotFound, f.svc.StopCampaign(ctx, actor(adminID)).Code)
	assert.Equal(t, CodeNotFound, f.svc.StopCampaign(ctx, actor(adminID)).Code, "stopping nothing must not start the cooldown")

	res := f.svc.StartCampaign(ctx, actor(adminID), "   ")
	assert.Equal(t, ReasonEmptyMessage, res.Reason)
	require.Equal(t, CodeOK, f.svc.StartCampaign(ctx, actor(adminID), "hi").Code)
	assert.Equal(t, CodeRateLimited, f.svc.Collect(ctx, actor(adminID)).Code)
}

func TestApplyAndShutdown(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 3)
	ctx := context.Background()

	st := testSettings()
	st.Cooldown = time.Second
	f.svc.Apply(st, []int64{userID})

	require.Equal(t, CodeOK, f.svc.StartCampaign(ctx, actor(userID), "hi").Code, "new owner is privileged")
	f.clk.Advance(time.Second)
	assert.Equal(t, CodeAlreadyActive, f.svc.StartCampaign(ctx, actor(userID), "hi").Code)

	assert.Equal(t, 1, f.svc.Shutdown())
	assert.Zero(t, f.svc.Registry().Len())
	f.spawner.runAll(t)
	assert.Len(t, f.msg.Sent(), 1)
}
