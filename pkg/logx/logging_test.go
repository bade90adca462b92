package logx

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, parseLevel(" debug ", zerolog.InfoLevel))
	assert.Equal(t, zerolog.WarnLevel, parseLevel("WARNING", zerolog.InfoLevel))
	assert.Equal(t, zerolog.InfoLevel, parseLevel("nonsense", zerolog.InfoLevel))
}

func TestLoggerWithFieldsAndCaller(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("comp", "relay"))
	log.Info("dispatched", Int("total", 3), Err(nil))

	var m map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &m))
	assert.Equal(t, "relay", m["comp"])
	assert.Equal(t, float64(3), m["total"])
	assert.Equal(t, "dispatched", m["message"])
	assert.NotContains(t, m, "err")
	assert.True(t, strings.HasPrefix(m["caller"].(string), "logging_test.go:"))
}

func TestZeroLoggerIsNoop(t *testing.T) {
	var l Logger
	assert.True(t, l.IsZero())
	l.Error("ignored")
	assert.False(t, Nop().IsZero())
}

func TestFormatTelegramJSON(t *testing.T) {
	line := []byte(`{"level":"warn","time":"x","message":"send failed","chat_id":42,"comp":"relay"}` + "\n")
	got := formatTelegramJSON(line)
	assert.Equal(t, "[WARN] send failed\n- chat_id=42\n- comp=relay", got)

	assert.Equal(t, "plain text", formatTelegramJSON([]byte("  plain text \n")))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}
