package config

import (
	"reflect"
	"strings"

	logx "relaybot/pkg/logx"
)

// SummarizeConfigChange returns the changed sections and safe structured attrs
// for logging. Secrets (bot token, redis password, ops token) are never logged,
// only whether they are set.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 7)
	attrs := make([]logx.Field, 0, 24)

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if strings.TrimSpace(ot.PollTimeout) != strings.TrimSpace(nt.PollTimeout) ||
		!reflect.DeepEqual(ot.AdminUserIDs, nt.AdminUserIDs) ||
		strings.TrimSpace(ot.GroupLog) != strings.TrimSpace(nt.GroupLog) ||
		ot.Token != nt.Token {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.String("telegram.poll_timeout", strings.TrimSpace(nt.PollTimeout)),
			logx.Int("telegram.admin_count", len(nt.AdminUserIDs)),
			logx.Bool("telegram.group_log_set", strings.TrimSpace(nt.GroupLog) != ""),
			logx.Bool("telegram.token_changed", ot.Token != nt.Token),
		)
	}

	if oldCfg.Relay != newCfg.Relay {
		r := newCfg.Relay
		changed = append(changed, "relay")
		attrs = append(attrs,
			logx.String("relay.source_channel", r.SourceChannel),
			logx.String("relay.debounce_window", r.DebounceWindow),
			logx.Int("relay.caption_limit", r.CaptionLimit),
			logx.String("relay.send_timeout", r.SendTimeout),
			logx.Int("relay.workers", r.Workers),
		)
	}

	if oldCfg.Roster != newCfg.Roster {
		r := newCfg.Roster
		changed = append(changed, "roster")
		attrs = append(attrs,
			logx.Int("roster.page_size", r.PageSize),
			logx.String("roster.resolve_timeout", r.ResolveTimeout),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		l := newCfg.Logging
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", l.Level),
			logx.Bool("logging.console", l.Console),
			logx.Bool("logging.file_enabled", l.File.Enabled),
			logx.Bool("logging.telegram_enabled", l.Telegram.Enabled),
		)
	}

	oldSt, ns := derefStorage(oldCfg.Storage), derefStorage(newCfg.Storage)
	if oldSt != ns {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", ns.Driver),
			logx.String("storage.path", ns.Path),
			logx.String("storage.redis_addr", ns.RedisAddr),
			logx.Bool("storage.redis_password_set", ns.RedisPassword != ""),
		)
	}

	om, nm := derefMaintenance(oldCfg.Maintenance), derefMaintenance(newCfg.Maintenance)
	if om != nm {
		changed = append(changed, "maintenance")
		attrs = append(attrs,
			logx.Bool("maintenance.enabled", nm.Enabled),
			logx.String("maintenance.compact_schedule", nm.CompactSchedule),
			logx.String("maintenance.timezone", nm.Timezone),
		)
	}

	oo, no := derefOps(oldCfg.Ops), derefOps(newCfg.Ops)
	if oo != no {
		changed = append(changed, "ops")
		attrs = append(attrs,
			logx.Bool("ops.enabled", no.Enabled),
			logx.String("ops.addr", no.Addr),
			logx.Bool("ops.pprof", no.Pprof),
			logx.Bool("ops.token_set", strings.TrimSpace(no.Token) != ""),
		)
	}

	return changed, attrs
}

func derefStorage(s *StorageConfig) StorageConfig {
	if s == nil {
		return StorageConfig{}
	}
	return *s
}

func derefMaintenance(m *MaintenanceConfig) MaintenanceConfig {
	if m == nil {
		return MaintenanceConfig{}
	}
	return *m
}

func derefOps(o *OpsConfig) OpsConfig {
	if o == nil {
		return OpsConfig{}
	}
	return *o
}
