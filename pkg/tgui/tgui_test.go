package tgui

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDataRoundTrip(t *testing.T) {
	d := Data("roster", "next", "3")
	assert.Equal(t, "roster:next:3", d)

	scope, action, payload, ok := ParseData(d)
	require.True(t, ok)
	assert.Equal(t, "roster", scope)
	assert.Equal(t, "next", action)
	assert.Equal(t, "3", payload)

	_, _, payload, ok = ParseData("roster:noop")
	require.True(t, ok)
	assert.Empty(t, payload)

	for _, bad := range []string{"", "roster", ":next", "roster:"} {
		_, _, _, ok := ParseData(bad)
		assert.False(t, ok, bad)
	}
}

func TestCheckedDataLimit(t *testing.T) {
	_, err := CheckedData("roster", "next", strings.Repeat("9", 80))
	assert.ErrorIs(t, err, ErrCallbackDataTooLong)

	d, err := CheckedData("roster", "next", "1")
	require.NoError(t, err)
	assert.Equal(t, "roster:next:1", d)
}

func TestPaginateSlice(t *testing.T) {
	items := []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13}

	sub, prev, next := PaginateSlice(items, 0, 6)
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6}, sub)
	assert.False(t, prev)
	assert.True(t, next)

	sub, prev, next = PaginateSlice(items, 2, 6)
	assert.Equal(t, []int{13}, sub)
	assert.True(t, prev)
	assert.False(t, next)

	sub, _, next = PaginateSlice(items, 9, 6)
	assert.Empty(t, sub)
	assert.False(t, next)

	sub, prev, next = PaginateSlice([]int{}, 0, 6)
	assert.Empty(t, sub)
	assert.False(t, prev)
	assert.False(t, next)
}

func TestPageLabel(t *testing.T) {
	assert.Equal(t, "Page 1/1", PageLabel(0, 6, 0))
	assert.Equal(t, "Page 2/3 • 7–12 of 13", PageLabel(1, 6, 13))
	assert.Equal(t, "Page 3/3 • 13–13 of 13", PageLabel(7, 6, 13))
}

func TestTruncRunes(t *testing.T) {
	assert.Equal(t, "привет", TruncRunes("привет", 6))
	assert.Equal(t, "при…", TruncRunes("привет", 4))
	assert.Equal(t, 6, RuneLen("привет"))
}

func TestInlineGrid(t *testing.T) {
	kb := NewInline().Grid(2, URLBtn("a", UserURL(1)), URLBtn("b", UserURL(2)), URLBtn("c", UserURL(3)))
	kb.Row()
	assert.Equal(t, 2, kb.Rows())
	require.Len(t, kb.Markup().InlineKeyboard, 2)
	assert.Equal(t, "tg://user?id=1", kb.Markup().InlineKeyboard[0][0].URL)
}

func TestMentionEscapes(t *testing.T) {
	assert.Equal(t, `<a href="tg://user?id=7">a&lt;b</a>`, Mention("a<b", 7).String())
}
