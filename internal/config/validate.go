package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Storage drivers.
const (
	DriverFile   = "file"
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
	DriverMemory = "memory"
)

// Validate performs static checks that need no network access.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		add("telegram.token is required (or set %s)", EnvToken)
	}
	if strings.TrimSpace(cfg.Relay.SourceChannel) == "" {
		add("relay.source_channel is required (or set %s)", EnvSourceChannel)
	}

	durations := []struct{ path, raw string }{
		{"telegram.poll_timeout", cfg.Telegram.PollTimeout},
		{"relay.debounce_window", cfg.Relay.DebounceWindow},
		{"relay.send_timeout", cfg.Relay.SendTimeout},
		{"roster.resolve_timeout", cfg.Roster.ResolveTimeout},
	}
	if cfg.Storage != nil {
		durations = append(durations, struct{ path, raw string }{"storage.busy_timeout", cfg.Storage.BusyTimeout})
	}
	for _, d := range durations {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			errs = append(errs, err)
		}
	}

	if cfg.Relay.CaptionLimit < 0 {
		add("relay.caption_limit must be >= 0")
	}
	if cfg.Relay.Workers < 0 {
		add("relay.workers must be >= 0")
	}
	switch strings.ToUpper(strings.TrimSpace(cfg.Relay.ParseMode)) {
	case "", "HTML", "MARKDOWN", "MARKDOWNV2", "NONE":
	default:
		add("relay.parse_mode %q is not supported", cfg.Relay.ParseMode)
	}
	if cfg.Roster.PageSize < 0 {
		add("roster.page_size must be >= 0")
	}
	if cfg.Roster.ResolveWorkers < 0 {
		add("roster.resolve_workers must be >= 0")
	}

	if s := cfg.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", DriverFile, DriverSQLite, DriverMemory:
		case DriverRedis:
			if strings.TrimSpace(s.RedisAddr) == "" {
				add("storage.redis_addr is required for the redis driver")
			}
		default:
			add("storage.driver %q is not supported", s.Driver)
		}
		if s.RedisDB < 0 {
			add("storage.redis_db must be >= 0")
		}
	}

	if m := cfg.Maintenance; m != nil && m.Enabled {
		if spec := strings.TrimSpace(m.CompactSchedule); spec != "" {
			if _, err := cron.ParseStandard(spec); err != nil {
				add("maintenance.compact_schedule: %v", err)
			}
		}
		if tz := strings.TrimSpace(m.Timezone); tz != "" {
			if _, err := time.LoadLocation(tz); err != nil {
				add("maintenance.timezone: %v", err)
			}
		}
	}

	if o := cfg.Ops; o != nil && o.Enabled {
		addr := strings.TrimSpace(o.Addr)
		if addr != "" {
			host, _, err := net.SplitHostPort(addr)
			if err != nil {
				add("ops.addr: %v", err)
			} else if !isLoopbackHost(host) && strings.TrimSpace(o.Token) == "" {
				add("ops.token is required when ops.addr is not loopback")
			}
		}
	}

	return errors.Join(errs...)
}

func isLoopbackHost(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
