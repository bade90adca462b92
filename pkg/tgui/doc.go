// Package tgui provides small Telegram UI helpers:
//   - Inline keyboard builders
//   - Callback data tokens ("scope:action:payload")
//   - Slice pagination and page labels
//   - HTML escaping for ParseMode="HTML"
package tgui
