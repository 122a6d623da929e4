package app

import (
	"strings"

	"tagbot/internal/campaign"
	"tagbot/internal/config"
	"tagbot/internal/metrics"
	"tagbot/internal/storage"
	logx "tagbot/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

// mapStorageConfig returns enabled=false for driver "none".
func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "none" {
		return storage.Config{}, false, nil
	}
	busy, err := config.ParseDurationField("storage.busy_timeout", sc.BusyTimeout)
	if err != nil {
		return storage.Config{}, false, err
	}
	return storage.Config{Driver: driver, Path: strings.TrimSpace(sc.Path), BusyTimeout: busy}, true, nil
}

func mapCampaignSettings(cfg *config.Config) (campaign.Settings, error) {
	c, err := cfg.Campaign.Resolve()
	if err != nil {
		return campaign.Settings{}, err
	}
	return campaign.Settings{
		BatchSize:     c.BatchSize,
		BatchDelay:    c.BatchDelay,
		MaxDuration:   c.MaxDuration,
		MaxMessageLen: c.MaxMessageLen,
		ProgressEvery: c.ProgressEvery,
		Cooldown:      c.Cooldown,
		ReapInterval:  c.ReapInterval,
		StaleAfter:    c.StaleAfter,
		SendTimeout:   c.SendTimeout,
	}, nil
}

func mapMetricsConfig(cfg *config.Config) metrics.Config {
	m := cfg.Metrics
	return metrics.Config{
		Enabled:       m.Enabled,
		Addr:          m.Addr,
		Path:          m.Path,
		Pprof:         m.Pprof,
		Token:         m.Token,
		AllowInsecure: m.AllowInsecure,
	}
}
