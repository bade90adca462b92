package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "relaybot/pkg/logx"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func noEnv(string) (string, bool) { return "", false }

func TestParseJSON(t *testing.T) {
	p := writeFile(t, "config.json", `{
		"telegram": {"token": "t", "admin_user_ids": [1, 2]},
		"relay": {"source_channel": "@news", "debounce_window": "750ms"},
		"roster": {"page_size": 4}
	}`)
	m := NewConfigManager(p)
	m.lookupEnv = noEnv

	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, cfg.Telegram.AdminUserIDs)
	assert.Equal(t, "@news", cfg.Relay.SourceChannel)
	assert.Equal(t, 4, cfg.Roster.PageSize)
	assert.Same(t, cfg, m.Get())
}

func TestParseYAML(t *testing.T) {
	p := writeFile(t, "config.yaml", `
telegram:
  token: t
  admin_user_ids: [42]
relay:
  source_channel: "-100123"
storage:
  driver: sqlite
  path: ./relay.db
`)
	m := NewConfigManager(p)
	m.lookupEnv = noEnv

	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, []int64{42}, cfg.Telegram.AdminUserIDs)
	require.NotNil(t, cfg.Storage)
	assert.Equal(t, DriverSQLite, cfg.Storage.Driver)
}

func TestParseRejectsUnknownFields(t *testing.T) {
	p := writeFile(t, "config.json", `{"telegram": {"token": "t", "owner": 1}}`)
	m := NewConfigManager(p)
	m.lookupEnv = noEnv
	_, err := m.Parse()
	assert.Error(t, err)
}

func TestParseRejectsTrailingData(t *testing.T) {
	p := writeFile(t, "config.json", `{"telegram": {"token": "t"}}{}`)
	m := NewConfigManager(p)
	m.lookupEnv = noEnv
	_, err := m.Parse()
	assert.ErrorContains(t, err, "trailing data")
}

func TestEnvOverridesFile(t *testing.T) {
	p := writeFile(t, "config.json", `{"telegram": {"token": "file"}, "relay": {"source_channel": "@a"}}`)
	env := map[string]string{
		EnvToken:         "env-token",
		EnvAdminIDs:      "7, 8",
		EnvSourceChannel: "@b",
	}
	m := NewConfigManager(p)
	m.lookupEnv = func(k string) (string, bool) { v, ok := env[k]; return v, ok }

	cfg, err := m.Parse()
	require.NoError(t, err)
	assert.Equal(t, "env-token", cfg.Telegram.Token)
	assert.Equal(t, []int64{7, 8}, cfg.Telegram.AdminUserIDs)
	assert.Equal(t, "@b", cfg.Relay.SourceChannel)
}

func TestParseIDList(t *testing.T) {
	ids, err := ParseIDList("1,2 3;4")
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3, 4}, ids)

	_, err = ParseIDList("1,x")
	assert.Error(t, err)

	ids, err = ParseIDList("")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestLoadDotEnvMissingFileIsFine(t *testing.T) {
	assert.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "nope.env")))
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Telegram: TelegramConfig{Token: "t"},
			Relay:    RelayConfig{SourceChannel: "@c"},
		}
	}

	require.NoError(t, Validate(base()))

	cfg := base()
	cfg.Telegram.Token = ""
	assert.ErrorContains(t, Validate(cfg), "telegram.token")

	cfg = base()
	cfg.Relay.DebounceWindow = "soon"
	assert.ErrorContains(t, Validate(cfg), "relay.debounce_window")

	cfg = base()
	cfg.Storage = &StorageConfig{Driver: "mongo"}
	assert.ErrorContains(t, Validate(cfg), "storage.driver")

	cfg = base()
	cfg.Storage = &StorageConfig{Driver: DriverRedis}
	assert.ErrorContains(t, Validate(cfg), "redis_addr")

	cfg = base()
	cfg.Maintenance = &MaintenanceConfig{Enabled: true, CompactSchedule: "every day"}
	assert.ErrorContains(t, Validate(cfg), "compact_schedule")

	cfg = base()
	cfg.Ops = &OpsConfig{Enabled: true, Addr: "0.0.0.0:6061"}
	assert.ErrorContains(t, Validate(cfg), "ops.token")

	cfg.Ops.Addr = "127.0.0.1:6061"
	assert.NoError(t, Validate(cfg))
}

func TestDurationHelpers(t *testing.T) {
	d, err := ParseDurationOrDefault("x", "", time.Second)
	require.NoError(t, err)
	assert.Equal(t, time.Second, d)

	d, err = ParseDurationUnlessEmpty("x", "0s", time.Second)
	require.NoError(t, err)
	assert.Zero(t, d)

	_, err = ParseDurationField("x", "-1s")
	assert.Error(t, err)
}

func TestSummarizeConfigChangeHidesSecrets(t *testing.T) {
	oldCfg := &Config{Telegram: TelegramConfig{Token: "a"}}
	newCfg := &Config{
		Telegram: TelegramConfig{Token: "b"},
		Relay:    RelayConfig{Workers: 4},
		Ops:      &OpsConfig{Enabled: true, Token: "secret"},
	}
	changed, attrs := SummarizeConfigChange(oldCfg, newCfg)
	assert.Equal(t, []string{"telegram", "relay", "ops"}, changed)

	var buf bytes.Buffer
	logx.NewWriter(&buf, "debug").Info("config changed", attrs...)
	assert.NotContains(t, buf.String(), `"b"`)
	assert.NotContains(t, buf.String(), "secret")
	assert.Contains(t, buf.String(), `"ops.token_set":true`)
}

func TestPublishKeepsNewest(t *testing.T) {
	m := NewConfigManager("unused.json")
	ch := m.Subscribe(1)
	a, b := &Config{}, &Config{}
	m.publish(a)
	m.publish(b)
	assert.Same(t, b, <-ch)
	m.Unsubscribe(ch)
	_, ok := <-ch
	assert.False(t, ok)
}
