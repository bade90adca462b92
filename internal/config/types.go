package config

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Relay    RelayConfig    `json:"relay"`
	Roster   RosterConfig   `json:"roster"`
	Logging  LoggingConfig  `json:"logging"`

	Storage     *StorageConfig     `json:"storage,omitempty"`
	Maintenance *MaintenanceConfig `json:"maintenance,omitempty"`
	Ops         *OpsConfig         `json:"ops,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// AdminUserIDs receive delivery reports and may use /stats.
	AdminUserIDs []int64 `json:"admin_user_ids"`
	GroupLog     string  `json:"group_log"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
}

// RelayConfig controls channel relaying.
//
// Defaults (when omitted/zero):
//   - debounce_window: "500ms"
//   - caption_limit: 1024 (Telegram media caption limit, in characters)
//   - caption_pointer: "Full description above ⬆️"
//   - send_timeout: "30s" when omitted; an explicit "0s" disables the
//     per-recipient timeout
//   - workers: 8
//   - parse_mode: "HTML"
type RelayConfig struct {
	// SourceChannel is "@username" or a numeric chat id.
	SourceChannel  string `json:"source_channel"`
	DebounceWindow string `json:"debounce_window,omitempty"`
	CaptionLimit   int    `json:"caption_limit,omitempty"`
	CaptionPointer string `json:"caption_pointer,omitempty"`
	SendTimeout    string `json:"send_timeout,omitempty"`
	Workers        int    `json:"workers,omitempty"`
	ParseMode      string `json:"parse_mode,omitempty"`
}

// RosterConfig controls the /stats recipient pager.
//
// Defaults: page_size 6, resolve_timeout "5s", resolve_workers 4.
type RosterConfig struct {
	PageSize       int    `json:"page_size,omitempty"`
	ResolveTimeout string `json:"resolve_timeout,omitempty"`
	ResolveWorkers int    `json:"resolve_workers,omitempty"`
}

// StorageConfig selects the durable recipient store.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./users.json" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite

	RedisAddr     string `json:"redis_addr,omitempty"`
	RedisPassword string `json:"redis_password,omitempty"`
	RedisDB       int    `json:"redis_db,omitempty"`
	RedisKey      string `json:"redis_key,omitempty"`
}

// MaintenanceConfig schedules housekeeping jobs with cron specs
// (standard 5-field or descriptors such as "@every 1h").
type MaintenanceConfig struct {
	Enabled         bool   `json:"enabled"`
	CompactSchedule string `json:"compact_schedule,omitempty"`
	Timezone        string `json:"timezone,omitempty"`
}

// OpsConfig controls the optional HTTP ops server.
//
// Prefer binding to localhost; a non-loopback address needs a token.
type OpsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default "127.0.0.1:6061"
	Token   string `json:"token,omitempty"`
	Pprof   bool   `json:"pprof,omitempty"`
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
