package tgui

import "unicode/utf8"

// RuneLen counts Unicode code points, the unit Telegram uses for text and
// caption limits.
func RuneLen(s string) int { return utf8.RuneCountInString(s) }

// TruncRunes returns s cut to at most n runes, ending in "…" when shortened.
func TruncRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if RuneLen(s) <= n {
		return s
	}
	rs := []rune(s)
	if n == 1 {
		return "…"
	}
	return string(rs[:n-1]) + "…"
}
