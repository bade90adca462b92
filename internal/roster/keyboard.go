package roster

import (
	"strconv"

	tele "gopkg.in/telebot.v4"

	"relaybot/pkg/tgui"
)

// Callback scope and actions for navigation buttons.
const (
	Scope      = "roster"
	ActionPrev = "prev"
	ActionNext = "next"
)

const (
	prevLabel = "⬅️ Back"
	nextLabel = "Next ➡️"
	perRow    = 2
)

// Token encodes a navigation action and its target page.
func Token(action string, page int) string {
	return tgui.Data(Scope, action, strconv.Itoa(page))
}

// ParseToken decodes a navigation token. ok is false for anything that is
// not a well-formed roster token with a non-negative page.
func ParseToken(data string) (action string, page int, ok bool) {
	scope, action, payload, ok := tgui.ParseData(data)
	if !ok || scope != Scope || (action != ActionPrev && action != ActionNext) {
		return "", 0, false
	}
	page, err := strconv.Atoi(payload)
	if err != nil || page < 0 {
		return "", 0, false
	}
	return action, page, true
}

// Header is the text shown above the keyboard.
func Header(p Page) string {
	return "Recipients:\n" + tgui.PageLabel(p.Index, p.Size, p.Total)
}

// Keyboard renders one profile link per entry and a navigation row. It is
// nil for an empty first page.
func Keyboard(p Page) *tele.ReplyMarkup {
	kb := tgui.NewInline()

	buttons := make([]tele.Btn, 0, len(p.Items))
	for _, e := range p.Items {
		buttons = append(buttons, tgui.URLBtn(tgui.TruncRunes(e.Name, tgui.MaxButtonTextRunes), tgui.UserURL(e.ID)))
	}
	kb.Grid(perRow, buttons...)

	var nav []tele.Btn
	if p.HasPrev {
		nav = append(nav, tgui.Btn(prevLabel, Token(ActionPrev, p.Index-1)))
	}
	if p.HasNext {
		nav = append(nav, tgui.Btn(nextLabel, Token(ActionNext, p.Index+1)))
	}
	kb.Row(nav...)
	if kb.Rows() == 0 {
		return nil
	}
	return kb.Markup()
}
