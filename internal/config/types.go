package config

// Config is the on-disk configuration. JSON or YAML; unknown keys are rejected.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "5m").
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Campaign  CampaignConfig  `json:"campaign,omitempty"`
	Directory DirectoryConfig `json:"directory,omitempty"`
	Storage   StorageConfig   `json:"storage,omitempty"`
	Metrics   MetricsConfig   `json:"metrics,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// OwnerUserIDs may always operate campaigns, even without admin rights.
	OwnerUserIDs []int64 `json:"owner_user_ids,omitempty"`
	// GroupLog is the chat id that receives warn/error log lines.
	GroupLog    string `json:"group_log,omitempty"`
	PollTimeout string `json:"poll_timeout,omitempty"`
	// Workers is the size of the command worker pool. Default 4.
	Workers int `json:"workers,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// CampaignConfig tunes the mention dispatcher. Zero values take the defaults
// listed in defaults.go. Changes apply to sessions started after a reload.
type CampaignConfig struct {
	BatchSize     int    `json:"batch_size,omitempty"`
	BatchDelay    string `json:"batch_delay,omitempty"`
	MaxDuration   string `json:"max_duration,omitempty"`
	MaxMessageLen int    `json:"max_message_len,omitempty"`
	ProgressEvery int    `json:"progress_every,omitempty"`
	Cooldown      string `json:"cooldown,omitempty"`
	ReapInterval  string `json:"reap_interval,omitempty"`
	StaleAfter    string `json:"stale_after,omitempty"`
	// SendTimeout bounds every single transport call made for a session.
	SendTimeout string `json:"send_timeout,omitempty"`
}

// DirectoryConfig controls member collection.
//
// Observe is a pointer so an omitted key defaults to true.
type DirectoryConfig struct {
	Observe *bool `json:"observe,omitempty"`
	// ObserveRatePerSec caps directory writes per group from observed traffic.
	ObserveRatePerSec int `json:"observe_rate_per_sec,omitempty"`
	// RefreshSchedule is a cron spec (robfig/cron, e.g. "@every 6h" or "0 */6 * * *")
	// for refreshing the administrator list of every known group. Empty disables it.
	RefreshSchedule string `json:"refresh_schedule,omitempty"`
}

// StorageConfig controls persistence.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./tagbot.db" }
type StorageConfig struct {
	Driver      string `json:"driver,omitempty"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// MetricsConfig controls the Prometheus HTTP server.
//
// Prefer binding to localhost. A non-loopback address requires a token or
// allow_insecure.
type MetricsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"` // default: "127.0.0.1:9090"
	Path          string `json:"path,omitempty"` // default: "/metrics"
	Pprof         bool   `json:"pprof,omitempty"`
	Token         string `json:"token,omitempty"` // bearer token (never logged)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
}
