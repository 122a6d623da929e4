package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tagbot/internal/config"
	kit "tagbot/internal/transport"
	"tagbot/internal/transport/telegram/router"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestCheckConfig(t *testing.T) {
	p := writeConfig(t, `{
		"telegram": {"token": "123:abc", "owner_user_ids": [7]},
		"logging": {"level": "debug", "console": true, "file": {"enabled": false, "path": ""}, "telegram": {"enabled": false, "thread_id": 0, "min_level": "", "rate_per_sec": 0}},
		"campaign": {"batch_size": 3, "batch_delay": "2s"},
		"directory": {"refresh_schedule": "@every 6h"}
	}`)
	cfg, err := CheckConfig(p)
	require.NoError(t, err)
	assert.Equal(t, []int64{7}, cfg.Telegram.OwnerUserIDs)

	st, err := mapCampaignSettings(cfg)
	require.NoError(t, err)
	assert.Equal(t, 3, st.BatchSize)
	assert.Equal(t, 2*time.Second, st.BatchDelay)
	assert.Positive(t, st.MaxDuration)
}

func TestCheckConfigRejectsBadSchedule(t *testing.T) {
	p := writeConfig(t, `{
		"telegram": {"token": "123:abc"},
		"logging": {"level": "info", "console": true, "file": {"enabled": false, "path": ""}, "telegram": {"enabled": false, "thread_id": 0, "min_level": "", "rate_per_sec": 0}},
		"directory": {"refresh_schedule": "every tuesday"}
	}`)
	_, err := CheckConfig(p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "directory.refresh_schedule")
}

func TestValidateRuntimeMetricsBind(t *testing.T) {
	cfg := &config.Config{Metrics: config.MetricsConfig{Enabled: true, Addr: "0.0.0.0:9100"}}
	require.Error(t, validateRuntime(cfg))

	cfg.Metrics.Token = "secret"
	require.NoError(t, validateRuntime(cfg))

	// disabled servers are not checked
	require.NoError(t, validateRuntime(&config.Config{Metrics: config.MetricsConfig{Addr: "0.0.0.0:9100"}}))
}

func TestMapStorageConfig(t *testing.T) {
	_, enabled, err := mapStorageConfig(&config.Config{Storage: config.StorageConfig{Driver: "none"}})
	require.NoError(t, err)
	assert.False(t, enabled)

	sc, enabled, err := mapStorageConfig(&config.Config{Storage: config.StorageConfig{Driver: " SQLite ", Path: "./x.db", BusyTimeout: "3s"}})
	require.NoError(t, err)
	assert.True(t, enabled)
	assert.Equal(t, "sqlite", sc.Driver)
	assert.Equal(t, "./x.db", sc.Path)
	assert.Equal(t, 3*time.Second, sc.BusyTimeout)

	_, _, err = mapStorageConfig(&config.Config{Storage: config.StorageConfig{BusyTimeout: "soon"}})
	require.Error(t, err)
}

func TestActorOf(t *testing.T) {
	req := &router.Request{
		Chat:   kit.ChatTarget{ChatID: -100, ThreadID: 4},
		FromID: 42,
		Message: &kit.Message{
			ID: 9, ChatID: -100, ThreadID: 4, IsGroup: true,
			FromID: 42, FromUsername: "alice", FromFirstName: "Alice", FromLastName: "Liddell",
		},
	}
	a := actorOf(req)
	assert.Equal(t, int64(42), a.UserID)
	assert.True(t, a.IsGroup)
	assert.Equal(t, 9, a.MessageID)
	assert.Equal(t, "alice", a.Username)
	assert.Equal(t, "Alice Liddell", a.Name)
	assert.Equal(t, kit.ChatTarget{ChatID: -100, ThreadID: 4}, a.Chat)

	bare := actorOf(&router.Request{FromID: 1, Message: &kit.Message{ChatID: 5, FromFirstName: "Bob"}})
	assert.Equal(t, kit.ChatTarget{ChatID: 5}, bare.Chat)
	assert.Equal(t, "Bob", bare.Name)
	assert.False(t, bare.IsGroup)
}

func TestCommandTable(t *testing.T) {
	a := &App{}
	cmds := a.commands()
	names := map[string]router.Command{}
	for _, c := range cmds {
		require.NotNil(t, c.Handle, c.Name)
		names[c.Name] = c
	}
	for _, n := range []string{"start", "qwert", "qwerty", "status", "stats", "collect"} {
		assert.Contains(t, names, n)
	}
	assert.Equal(t, []string{"tag"}, names["qwert"].Aliases)
	assert.Equal(t, []string{"stoptag"}, names["qwerty"].Aliases)
}
