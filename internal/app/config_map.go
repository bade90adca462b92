package app

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"relaybot/internal/config"
	"relaybot/internal/maintenance"
	"relaybot/internal/ops"
	"relaybot/internal/relay"
	"relaybot/internal/roster"
	"relaybot/internal/storage"
	telegram "relaybot/internal/transport/telegram/adapter"
	logx "relaybot/pkg/logx"
)

const (
	defaultPollTimeout  = 10 * time.Second
	defaultBusyTimeout  = time.Second
	defaultCommandRate  = 1.0 // commands per second per user
	defaultCommandBurst = 5
)

func mapAdapterConfig(cfg *config.Config) (telegram.Config, error) {
	poll, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, defaultPollTimeout)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{Token: strings.TrimSpace(cfg.Telegram.Token), PollTimeout: poll}, nil
}

func mapRelayConfig(cfg *config.Config) (relay.Config, error) {
	rc := cfg.Relay
	window, err := config.ParseDurationOrDefault("relay.debounce_window", rc.DebounceWindow, relay.DefaultDebounceWindow)
	if err != nil {
		return relay.Config{}, err
	}
	// an explicit "0s" turns the per-recipient timeout off
	sendTimeout, err := config.ParseDurationUnlessEmpty("relay.send_timeout", rc.SendTimeout, relay.DefaultSendTimeout)
	if err != nil {
		return relay.Config{}, err
	}
	return relay.Config{
		SourceChannel:  strings.TrimSpace(rc.SourceChannel),
		DebounceWindow: window,
		CaptionLimit:   rc.CaptionLimit,
		CaptionPointer: rc.CaptionPointer,
		SendTimeout:    sendTimeout,
		Workers:        rc.Workers,
		ParseMode:      rc.ParseMode,
		Admins:         append([]int64(nil), cfg.Telegram.AdminUserIDs...),
	}, nil
}

func mapRosterConfig(cfg *config.Config) (roster.Config, error) {
	rc := cfg.Roster
	timeout, err := config.ParseDurationOrDefault("roster.resolve_timeout", rc.ResolveTimeout, roster.DefaultResolveTimeout)
	if err != nil {
		return roster.Config{}, err
	}
	return roster.Config{
		PageSize:       rc.PageSize,
		ResolveTimeout: timeout,
		ResolveWorkers: rc.ResolveWorkers,
		Admins:         append([]int64(nil), cfg.Telegram.AdminUserIDs...),
	}, nil
}

// mapStorageConfig defaults to the file driver at ./users.json, the layout
// earlier deployments already have on disk.
func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	if cfg.Storage == nil {
		return storage.Config{Driver: config.DriverFile, Path: "./users.json"}, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "", config.DriverFile:
		if path == "" {
			path = "./users.json"
		}
		return storage.Config{Driver: config.DriverFile, Path: path}, nil
	case config.DriverSQLite, "sqlite3":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, defaultBusyTimeout)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: config.DriverSQLite, Path: path, BusyTimeout: busy}, nil
	case config.DriverRedis:
		key := strings.TrimSpace(sc.RedisKey)
		if key == "" {
			key = storage.DefaultRedisKey
		}
		return storage.Config{
			Driver:        config.DriverRedis,
			RedisAddr:     strings.TrimSpace(sc.RedisAddr),
			RedisPassword: sc.RedisPassword,
			RedisDB:       sc.RedisDB,
			RedisKey:      key,
		}, nil
	case config.DriverMemory, "none":
		return storage.Config{Driver: config.DriverMemory}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapMaintenanceConfig(cfg *config.Config) maintenance.Config {
	if cfg.Maintenance == nil {
		return maintenance.Config{}
	}
	return maintenance.Config{
		Enabled:         cfg.Maintenance.Enabled,
		CompactSchedule: cfg.Maintenance.CompactSchedule,
		Timezone:        cfg.Maintenance.Timezone,
	}
}

func mapOpsConfig(cfg *config.Config) ops.Config {
	if cfg.Ops == nil {
		return ops.Config{}
	}
	return ops.Config{
		Enabled:      cfg.Ops.Enabled,
		Addr:         cfg.Ops.Addr,
		Token:        cfg.Ops.Token,
		Pprof:        cfg.Ops.Pprof,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second, // pprof profile default is 30s
		IdleTimeout:  60 * time.Second,
	}
}

func mapLogConfig(cfg *config.Config) logx.Config {
	lc := cfg.Logging
	return logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		File: logx.FileConfig{
			Enabled: lc.File.Enabled,
			Path:    lc.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    lc.Telegram.Enabled,
			ThreadID:   lc.Telegram.ThreadID,
			MinLevel:   lc.Telegram.MinLevel,
			RatePerSec: lc.Telegram.RatePerSec,
		},
	}
}

// logTarget parses telegram.group_log; 0 means no Telegram log chat.
func logTarget(cfg *config.Config) int64 {
	id, err := strconv.ParseInt(strings.TrimSpace(cfg.Telegram.GroupLog), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// validateMapped rejects configs that pass static validation but cannot be
// mapped onto components.
func validateMapped(cfg *config.Config) error {
	if _, err := mapAdapterConfig(cfg); err != nil {
		return err
	}
	if _, err := mapRelayConfig(cfg); err != nil {
		return err
	}
	if _, err := mapRosterConfig(cfg); err != nil {
		return err
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	return nil
}
