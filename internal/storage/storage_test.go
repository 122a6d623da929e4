package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "tagbot/pkg/logx"
)

func openDrivers(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()

	fileStore, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "dir.json")}, logx.Nop())
	require.NoError(t, err)
	sqliteStore, err := Open(Config{Driver: "sqlite", Path: filepath.Join(dir, "dir.db")}, logx.Nop())
	require.NoError(t, err)

	stores := map[string]Store{
		"memory": NewMemory(),
		"file":   fileStore,
		"sqlite": sqliteStore,
	}
	t.Cleanup(func() {
		for _, s := range stores {
			_ = s.Close()
		}
	})
	return stores
}

func TestUpsertOverwritesRow(t *testing.T) {
	ctx := context.Background()
	t0 := time.Unix(1_700_000_000, 0)
	for name, st := range openDrivers(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, st.UpsertMember(ctx, Member{GroupID: -100, UserID: 7, Username: "old", FirstName: "A", LastSeen: t0}))
			require.NoError(t, st.UpsertMember(ctx, Member{GroupID: -100, UserID: 7, Username: "new", FirstName: "B", LastSeen: t0.Add(time.Minute)}))

			rows, err := st.ListMembers(ctx, -100, false)
			require.NoError(t, err)
			require.Len(t, rows, 1)
			assert.Equal(t, "new", rows[0].Username)
			assert.Equal(t, "B", rows[0].FirstName)
			assert.True(t, rows[0].LastSeen.Equal(t0.Add(time.Minute)))
		})
	}
}

func TestListMembersHandleFilterAndOrder(t *testing.T) {
	ctx := context.Background()
	t0 := time.Unix(1_700_000_000, 0)
	for name, st := range openDrivers(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, st.UpsertMember(ctx, Member{GroupID: -1, UserID: 1, Username: "alice", LastSeen: t0}))
			require.NoError(t, st.UpsertMember(ctx, Member{GroupID: -1, UserID: 2, LastSeen: t0.Add(2 * time.Minute)}))
			require.NoError(t, st.UpsertMember(ctx, Member{GroupID: -1, UserID: 3, Username: "carol", LastSeen: t0.Add(time.Minute)}))
			require.NoError(t, st.UpsertMember(ctx, Member{GroupID: -2, UserID: 4, Username: "dave", LastSeen: t0}))

			rows, err := st.ListMembers(ctx, -1, true)
			require.NoError(t, err)
			require.Len(t, rows, 2)
			assert.Equal(t, "carol", rows[0].Username)
			assert.Equal(t, "alice", rows[1].Username)

			all, err := st.ListMembers(ctx, -1, false)
			require.NoError(t, err)
			assert.Len(t, all, 3)
			assert.Equal(t, int64(2), all[0].UserID)

			stats, err := st.MemberStats(ctx, -1)
			require.NoError(t, err)
			assert.Equal(t, 3, stats.Total)
			assert.Equal(t, 2, stats.WithHandle)
			assert.True(t, stats.LastSeen.Equal(t0.Add(2*time.Minute)))

			groups, err := st.Groups(ctx)
			require.NoError(t, err)
			assert.Equal(t, []int64{-2, -1}, groups)

			require.NoError(t, st.AppendAudit(ctx, AuditEntry{ActorID: 1, ChatID: -1, Action: "start"}))
		})
	}
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "dir.json")

	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, st.UpsertMember(ctx, Member{GroupID: -5, UserID: 9, Username: "zed", LastSeen: time.Unix(1_700_000_000, 0)}))
	require.NoError(t, st.Close())

	st, err = Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	rows, err := st.ListMembers(ctx, -5, true)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "zed", rows[0].Username)
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "redis"}, logx.Nop())
	require.ErrorIs(t, err, ErrUnknownDriver)
	assert.Contains(t, err.Error(), "sqlite")

	st, err := Open(Config{Driver: "none"}, logx.Nop())
	require.NoError(t, err)
	assert.Nil(t, st)
}

func TestOpenMemoryAlias(t *testing.T) {
	for _, name := range []string{"memory", " MEM "} {
		st, err := Open(Config{Driver: name}, logx.Logger{})
		require.NoError(t, err, name)
		require.NotNil(t, st)
		require.NoError(t, st.Close())
	}
	assert.Equal(t, []string{"file", "mem", "memory", "sqlite", "sqlite3"}, Drivers())
}

func TestClosedMemoryStoreRejectsWrites(t *testing.T) {
	st := NewMemory()
	require.NoError(t, st.Close())
	assert.ErrorIs(t, st.UpsertMember(context.Background(), Member{GroupID: 1, UserID: 1}), ErrClosed)
}

func TestAppendAuditAllDrivers(t *testing.T) {
	ctx := context.Background()
	for name, st := range openDrivers(t) {
		t.Run(name, func(t *testing.T) {
			err := st.AppendAudit(ctx, AuditEntry{
				ActorID: 7, ActorUsername: "op", ChatID: -100, Action: "start",
				Target: "sess-1", OK: 1, MetaJSON: `{"targets":12}`,
			})
			require.NoError(t, err)
		})
	}

	mem := NewMemory().(*memoryStore)
	require.NoError(t, mem.AppendAudit(ctx, AuditEntry{Action: "stop"}))
	require.Len(t, mem.audit, 1)
	assert.False(t, mem.audit[0].At.IsZero())

	require.NoError(t, mem.Close())
	assert.ErrorIs(t, mem.AppendAudit(ctx, AuditEntry{Action: "stop"}), ErrClosed)
}
