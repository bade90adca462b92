package adapter

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf16"

	tele "gopkg.in/telebot.v4"

	"relaybot/pkg/tgui"
)

// entitiesHTML renders text with its formatting entities as Telegram HTML.
// Offsets are in UTF-16 code units. Entities without an HTML form (mentions,
// hashtags, plain urls) leave the text as is; all text is escaped.
func entitiesHTML(text string, ents tele.Entities) string {
	if text == "" {
		return ""
	}
	sorted := append(tele.Entities(nil), ents...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Offset != sorted[j].Offset {
			return sorted[i].Offset < sorted[j].Offset
		}
		return sorted[i].Length > sorted[j].Length
	})

	opens := map[int][]string{}
	closes := map[int][]string{}
	for _, e := range sorted {
		open, end := entityTags(e)
		if open == "" || e.Length <= 0 || e.Offset < 0 {
			continue
		}
		from, to := e.Offset, e.Offset+e.Length
		opens[from] = append(opens[from], open)
		// inner entities open later, so they close first
		closes[to] = append([]string{end}, closes[to]...)
	}

	var b strings.Builder
	var run strings.Builder
	flush := func() {
		if run.Len() > 0 {
			b.WriteString(tgui.Esc(run.String()).String())
			run.Reset()
		}
	}
	boundary := func(pos int) {
		if len(closes[pos]) == 0 && len(opens[pos]) == 0 {
			return
		}
		flush()
		for _, t := range closes[pos] {
			b.WriteString(t)
		}
		for _, t := range opens[pos] {
			b.WriteString(t)
		}
	}

	pos := 0
	for _, r := range text {
		boundary(pos)
		run.WriteRune(r)
		if n := utf16.RuneLen(r); n > 0 {
			pos += n
		} else {
			pos++
		}
	}
	flush()
	// entities running past the text still close
	ends := make([]int, 0, len(closes))
	for p := range closes {
		if p >= pos {
			ends = append(ends, p)
		}
	}
	sort.Ints(ends)
	for _, p := range ends {
		for _, t := range closes[p] {
			b.WriteString(t)
		}
	}
	return b.String()
}

func entityTags(e tele.MessageEntity) (open, end string) {
	switch string(e.Type) {
	case "bold":
		return "<b>", "</b>"
	case "italic":
		return "<i>", "</i>"
	case "underline":
		return "<u>", "</u>"
	case "strikethrough":
		return "<s>", "</s>"
	case "spoiler":
		return "<tg-spoiler>", "</tg-spoiler>"
	case "code":
		return "<code>", "</code>"
	case "pre":
		if e.Language != "" {
			return fmt.Sprintf(`<pre><code class="language-%s">`, tgui.Esc(e.Language)), "</code></pre>"
		}
		return "<pre>", "</pre>"
	case "text_link":
		if e.URL == "" {
			return "", ""
		}
		return fmt.Sprintf(`<a href="%s">`, tgui.Esc(e.URL)), "</a>"
	case "text_mention":
		if e.User == nil {
			return "", ""
		}
		return fmt.Sprintf(`<a href="%s">`, tgui.Esc(tgui.UserURL(e.User.ID))), "</a>"
	case "blockquote":
		return "<blockquote>", "</blockquote>"
	case "expandable_blockquote":
		return "<blockquote expandable>", "</blockquote>"
	}
	return "", ""
}
