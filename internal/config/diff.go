package config

import (
	"reflect"
	"strings"

	logx "tagbot/pkg/logx"
)

// SummarizeChange lists the changed top-level sections and safe log fields
// describing them. Tokens are never included.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	var (
		changed []string
		fields  []logx.Field
	)

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if strings.TrimSpace(ot.PollTimeout) != strings.TrimSpace(nt.PollTimeout) ||
		!reflect.DeepEqual(ot.OwnerUserIDs, nt.OwnerUserIDs) ||
		strings.TrimSpace(ot.GroupLog) != strings.TrimSpace(nt.GroupLog) ||
		ot.Workers != nt.Workers ||
		ot.Token != nt.Token {
		changed = append(changed, "telegram")
		fields = append(fields,
			logx.Int("telegram.owner_count", len(nt.OwnerUserIDs)),
			logx.Bool("telegram.group_log_set", strings.TrimSpace(nt.GroupLog) != ""),
			logx.Bool("telegram.token_changed", ot.Token != nt.Token),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		fields = append(fields,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram", newCfg.Logging.Telegram.Enabled),
		)
	}

	if oldCfg.Campaign != newCfg.Campaign {
		changed = append(changed, "campaign")
		if c, err := newCfg.Campaign.Resolve(); err == nil {
			fields = append(fields,
				logx.Int("campaign.batch_size", c.BatchSize),
				logx.Duration("campaign.batch_delay", c.BatchDelay),
				logx.Duration("campaign.cooldown", c.Cooldown),
			)
		}
	}

	if !reflect.DeepEqual(oldCfg.Directory, newCfg.Directory) {
		changed = append(changed, "directory")
		fields = append(fields,
			logx.Bool("directory.observe", newCfg.Directory.ObserveEnabled()),
			logx.String("directory.refresh_schedule", newCfg.Directory.RefreshSchedule),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		fields = append(fields, logx.String("storage.driver", newCfg.Storage.Driver))
	}

	om, nm := oldCfg.Metrics, newCfg.Metrics
	if om.Enabled != nm.Enabled || om.Addr != nm.Addr || om.Path != nm.Path ||
		om.Pprof != nm.Pprof || om.AllowInsecure != nm.AllowInsecure ||
		(om.Token != "") != (nm.Token != "") {
		changed = append(changed, "metrics")
		fields = append(fields,
			logx.Bool("metrics.enabled", nm.Enabled),
			logx.String("metrics.addr", nm.Addr),
			logx.Bool("metrics.token_set", nm.Token != ""),
		)
	}

	return changed, fields
}

// RestartRequired lists changed sections that only take effect on restart.
func RestartRequired(oldCfg, newCfg *Config) []string {
	if oldCfg == nil || newCfg == nil {
		return nil
	}
	var out []string
	if oldCfg.Telegram.Token != newCfg.Telegram.Token ||
		oldCfg.Telegram.PollTimeout != newCfg.Telegram.PollTimeout ||
		oldCfg.Telegram.Workers != newCfg.Telegram.Workers {
		out = append(out, "telegram")
	}
	if oldCfg.Storage != newCfg.Storage {
		out = append(out, "storage")
	}
	if oldCfg.Directory.RefreshSchedule != newCfg.Directory.RefreshSchedule {
		out = append(out, "directory.refresh_schedule")
	}
	return out
}
