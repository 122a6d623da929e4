package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleJSON = `{
  "telegram": {"token": "123:abc", "owner_user_ids": [42], "group_log": "-1001"},
  "logging": {"level": "debug", "console": true, "file": {"enabled": false, "path": ""}, "telegram": {"enabled": false, "thread_id": 0, "min_level": "", "rate_per_sec": 0}},
  "campaign": {"batch_size": 3, "batch_delay": "2s"},
  "storage": {"driver": "memory"}
}`

const sampleYAML = `
telegram:
  token: "123:abc"
  owner_user_ids: [42]
logging:
  level: info
  console: true
  file: {enabled: false, path: ""}
  telegram: {enabled: false, thread_id: 0, min_level: "", rate_per_sec: 0}
directory:
  observe: false
  refresh_schedule: "@every 6h"
`

func TestDecodeJSON(t *testing.T) {
	cfg, err := Decode("config.json", []byte(sampleJSON))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("validate: %v", err)
	}
	c, err := cfg.Campaign.Resolve()
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if c.BatchSize != 3 || c.BatchDelay != 2*time.Second {
		t.Fatalf("unexpected campaign override: %+v", c)
	}
	if c.MaxDuration != DefaultMaxDuration || c.Cooldown != DefaultCooldown || c.StaleAfter != DefaultStaleAfter {
		t.Fatalf("defaults not applied: %+v", c)
	}
	id, err := cfg.Telegram.GroupLogChatID()
	if err != nil || id != -1001 {
		t.Fatalf("GroupLogChatID=%d,%v", id, err)
	}
}

func TestDecodeYAML(t *testing.T) {
	cfg, err := Decode("config.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cfg.Directory.ObserveEnabled() {
		t.Fatalf("observe should be disabled")
	}
	if cfg.Directory.RefreshSchedule != "@every 6h" {
		t.Fatalf("refresh_schedule=%q", cfg.Directory.RefreshSchedule)
	}
	if len(cfg.Telegram.OwnerUserIDs) != 1 || cfg.Telegram.OwnerUserIDs[0] != 42 {
		t.Fatalf("owners=%v", cfg.Telegram.OwnerUserIDs)
	}
}

func TestDecodeYAMLRejects(t *testing.T) {
	for name, in := range map[string]string{
		"empty":      "",
		"two docs":   "telegram:\n  token: a\n---\ntelegram:\n  token: b\n",
		"scalar":     "just a string\n",
		"bad syntax": "telegram: [\n",
	} {
		if _, err := Decode("config.yml", []byte(in)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestDecodeRejects(t *testing.T) {
	cases := []struct {
		name string
		in   string
	}{
		{"unknown key", `{"telegram": {"token": "x"}, "plugins": {}}`},
		{"trailing data", `{"telegram": {"token": "x"}} {}`},
		{"bad type", `{"campaign": {"batch_size": "five"}}`},
	}
	for _, tc := range cases {
		if _, err := Decode("c.json", []byte(tc.in)); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{"minimal", Config{Telegram: TelegramConfig{Token: "t"}}, true},
		{"missing token", Config{}, false},
		{"bad duration", Config{Telegram: TelegramConfig{Token: "t"}, Campaign: CampaignConfig{BatchDelay: "soon"}}, false},
		{"negative duration", Config{Telegram: TelegramConfig{Token: "t"}, Campaign: CampaignConfig{Cooldown: "-1s"}}, false},
		{"delay too long", Config{Telegram: TelegramConfig{Token: "t"}, Campaign: CampaignConfig{BatchDelay: "5m"}}, false},
		{"stale before delay", Config{Telegram: TelegramConfig{Token: "t"}, Campaign: CampaignConfig{BatchDelay: "30s", StaleAfter: "20s"}}, false},
		{"huge batch", Config{Telegram: TelegramConfig{Token: "t"}, Campaign: CampaignConfig{BatchSize: 500}}, false},
		{"bad driver", Config{Telegram: TelegramConfig{Token: "t"}, Storage: StorageConfig{Driver: "redis"}}, false},
		{"bad group log", Config{Telegram: TelegramConfig{Token: "t", GroupLog: "logs"}}, false},
		{"bad metrics path", Config{Telegram: TelegramConfig{Token: "t"}, Metrics: MetricsConfig{Path: "metrics"}}, false},
	}
	for _, tc := range cases {
		err := Validate(&tc.cfg)
		if (err == nil) != tc.ok {
			t.Fatalf("%s: err=%v ok=%v", tc.name, err, tc.ok)
		}
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	d, err := ParseDurationOrDefault("x", "", time.Second)
	if err != nil || d != time.Second {
		t.Fatalf("empty: %v %v", d, err)
	}
	d, err = ParseDurationOrDefault("x", "0s", time.Second)
	if err != nil || d != time.Second {
		t.Fatalf("zero: %v %v", d, err)
	}
	d, err = ParseDurationOrDefault("x", "750ms", time.Second)
	if err != nil || d != 750*time.Millisecond {
		t.Fatalf("explicit: %v %v", d, err)
	}
}

func TestSummarizeChange(t *testing.T) {
	a := &Config{Telegram: TelegramConfig{Token: "a"}}
	b := &Config{Telegram: TelegramConfig{Token: "b"}, Campaign: CampaignConfig{BatchSize: 4}}
	changed, fields := SummarizeChange(a, b)
	if len(changed) != 2 || changed[0] != "telegram" || changed[1] != "campaign" {
		t.Fatalf("changed=%v", changed)
	}
	if len(fields) == 0 {
		t.Fatalf("expected log fields")
	}
	if got := RestartRequired(a, b); len(got) != 1 || got[0] != "telegram" {
		t.Fatalf("RestartRequired=%v", got)
	}
}

func TestWatchPublishesReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{"telegram": {"token": "a"}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()

	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case cfg := <-ch:
			if cfg.Campaign.BatchSize != 7 {
				t.Fatalf("unexpected published config: %+v", cfg.Campaign)
			}
			if m.Get().Campaign.BatchSize != 7 {
				t.Fatalf("config not committed")
			}
			return
		case <-tick.C:
			// The watcher may start after the first write.
			_ = os.WriteFile(path, []byte(`{"telegram": {"token": "a"}, "campaign": {"batch_size": 7}}`), 0o600)
		case <-deadline:
			t.Fatalf("no reload published")
		}
	}
}

func TestParseDurationBounded(t *testing.T) {
	if d, err := ParseDurationBounded("x", "", time.Second, time.Minute); err != nil || d != time.Second {
		t.Fatalf("empty: %v %v", d, err)
	}
	if d, err := ParseDurationBounded("x", "1m", time.Second, time.Minute); err != nil || d != time.Minute {
		t.Fatalf("at limit: %v %v", d, err)
	}
	if _, err := ParseDurationBounded("x", "61s", time.Second, time.Minute); err == nil {
		t.Fatal("expected error above the limit")
	}
	if d, err := ParseDurationBounded("x", "48h", time.Second, 0); err != nil || d != 48*time.Hour {
		t.Fatalf("unbounded: %v %v", d, err)
	}
}
