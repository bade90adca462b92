package router

import (
	"html"
	"strings"
)

// helpText renders the command list in Telegram HTML. Admin-only commands
// are listed for admins only.
func helpText(cmds []Command, admin bool) string {
	lines := []string{"📚 <b>Commands</b>", ""}
	for _, c := range cmds {
		if c.Access == AccessAdminOnly && !admin {
			continue
		}
		line := "• <code>/" + html.EscapeString(c.Name) + "</code>"
		if c.Access == AccessAdminOnly {
			line = "• 🔒 <code>/" + html.EscapeString(c.Name) + "</code>"
		}
		if d := strings.TrimSpace(c.Description); d != "" {
			line += " - " + html.EscapeString(d)
		}
		if len(c.Aliases) > 0 {
			line += " <i>(" + html.EscapeString("/"+strings.Join(c.Aliases, ", /")) + ")</i>"
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
