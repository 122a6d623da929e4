package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultBatchSize     = 5
	DefaultBatchDelay    = 5 * time.Second
	DefaultMaxDuration   = 5 * time.Minute
	DefaultMaxMessageLen = 200
	DefaultProgressEvery = 5
	DefaultCooldown      = 10 * time.Second
	DefaultReapInterval  = 60 * time.Second
	DefaultStaleAfter    = 10 * time.Minute
	DefaultSendTimeout   = 15 * time.Second
	DefaultPollTimeout   = 10 * time.Second
	DefaultWorkers       = 4
	DefaultObserveRate   = 20
)

// Campaign is the resolved, typed form of CampaignConfig.
type Campaign struct {
	BatchSize     int
	BatchDelay    time.Duration
	MaxDuration   time.Duration
	MaxMessageLen int
	ProgressEvery int
	Cooldown      time.Duration
	ReapInterval  time.Duration
	StaleAfter    time.Duration
	SendTimeout   time.Duration
}

func (c CampaignConfig) Resolve() (Campaign, error) {
	out := Campaign{
		BatchSize:     positiveOr(c.BatchSize, DefaultBatchSize),
		MaxMessageLen: positiveOr(c.MaxMessageLen, DefaultMaxMessageLen),
		ProgressEvery: positiveOr(c.ProgressEvery, DefaultProgressEvery),
	}
	var err error
	fields := []struct {
		path string
		raw  string
		def  time.Duration
		max  time.Duration
		dst  *time.Duration
	}{
		{"campaign.batch_delay", c.BatchDelay, DefaultBatchDelay, time.Minute, &out.BatchDelay},
		{"campaign.max_duration", c.MaxDuration, DefaultMaxDuration, time.Hour, &out.MaxDuration},
		{"campaign.cooldown", c.Cooldown, DefaultCooldown, 10 * time.Minute, &out.Cooldown},
		{"campaign.reap_interval", c.ReapInterval, DefaultReapInterval, time.Hour, &out.ReapInterval},
		{"campaign.stale_after", c.StaleAfter, DefaultStaleAfter, 24 * time.Hour, &out.StaleAfter},
		{"campaign.send_timeout", c.SendTimeout, DefaultSendTimeout, 2 * time.Minute, &out.SendTimeout},
	}
	for _, f := range fields {
		if *f.dst, err = ParseDurationBounded(f.path, f.raw, f.def, f.max); err != nil {
			return Campaign{}, err
		}
	}
	if out.BatchSize > 50 {
		return Campaign{}, fmt.Errorf("campaign.batch_size: must be <= 50, got %d", out.BatchSize)
	}
	// A healthy session makes progress at least once per batch delay.
	if out.StaleAfter <= out.BatchDelay {
		return Campaign{}, fmt.Errorf("campaign.stale_after (%s) must exceed campaign.batch_delay (%s)", out.StaleAfter, out.BatchDelay)
	}
	return out, nil
}

// ObserveEnabled reports whether passive member collection is on.
func (d DirectoryConfig) ObserveEnabled() bool { return d.Observe == nil || *d.Observe }

func (d DirectoryConfig) ObserveRate() int { return positiveOr(d.ObserveRatePerSec, DefaultObserveRate) }

func (t TelegramConfig) PollTimeoutOrDefault() (time.Duration, error) {
	return ParseDurationOrDefault("telegram.poll_timeout", t.PollTimeout, DefaultPollTimeout)
}

func (t TelegramConfig) WorkersOrDefault() int { return positiveOr(t.Workers, DefaultWorkers) }

// GroupLogChatID parses telegram.group_log. Empty means unset (0).
func (t TelegramConfig) GroupLogChatID() (int64, error) {
	s := strings.TrimSpace(t.GroupLog)
	if s == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("telegram.group_log: invalid chat id %q: %w", t.GroupLog, err)
	}
	return id, nil
}

// Validate checks everything that can be checked without side effects.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		errs = append(errs, errors.New("telegram.token is required"))
	}
	if _, err := cfg.Telegram.PollTimeoutOrDefault(); err != nil {
		errs = append(errs, err)
	}
	if _, err := cfg.Telegram.GroupLogChatID(); err != nil {
		errs = append(errs, err)
	}
	if _, err := cfg.Campaign.Resolve(); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "sqlite", "sqlite3", "file", "memory", "mem", "none":
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}
	if cfg.Metrics.Path != "" && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs = append(errs, fmt.Errorf("metrics.path: must start with '/', got %q", cfg.Metrics.Path))
	}
	return errors.Join(errs...)
}

func positiveOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
