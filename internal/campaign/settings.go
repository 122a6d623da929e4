package campaign

import "time"

// Settings tune the dispatcher, gates and reaper. A session keeps the
// settings it was created with.
type Settings struct {
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

func DefaultSettings() Settings {
	return Settings{
		BatchSize:     5,
		BatchDelay:    5 * time.Second,
		MaxDuration:   5 * time.Minute,
		MaxMessageLen: 200,
		ProgressEvery: 5,
		Cooldown:      10 * time.Second,
		ReapInterval:  60 * time.Second,
		StaleAfter:    10 * time.Minute,
		SendTimeout:   15 * time.Second,
	}
}

// normalized fills zero fields from the defaults.
func (s Settings) normalized() Settings {
	d := DefaultSettings()
	if s.BatchSize <= 0 {
		s.BatchSize = d.BatchSize
	}
	if s.BatchDelay < 0 {
		s.BatchDelay = 0
	}
	if s.MaxDuration <= 0 {
		s.MaxDuration = d.MaxDuration
	}
	if s.MaxMessageLen <= 0 {
		s.MaxMessageLen = d.MaxMessageLen
	}
	if s.ProgressEvery <= 0 {
		s.ProgressEvery = d.ProgressEvery
	}
	if s.Cooldown < 0 {
		s.Cooldown = 0
	}
	if s.ReapInterval <= 0 {
		s.ReapInterval = d.ReapInterval
	}
	if s.StaleAfter <= 0 {
		s.StaleAfter = d.StaleAfter
	}
	if s.SendTimeout <= 0 {
		s.SendTimeout = d.SendTimeout
	}
	return s
}
