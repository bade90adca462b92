package relay

import (
	"strings"

	"relaybot/internal/transport"
)

// Normalize maps an inbound post to a BroadcastItem. ok is false for posts
// with nothing to relay (stickers, polls, service messages).
func Normalize(msg *transport.Message) (BroadcastItem, bool) {
	if msg == nil {
		return BroadcastItem{}, false
	}
	if m := msg.Media; m != nil {
		switch m.Kind {
		case transport.MediaPhoto, transport.MediaVideo, transport.MediaDocument:
			if strings.TrimSpace(m.FileID) == "" {
				return BroadcastItem{}, false
			}
			caption := m.Caption
			if caption == "" {
				caption = msg.Caption
			}
			return BroadcastItem{Kind: m.Kind, Payload: m.FileID, Caption: caption}, true
		default:
			return BroadcastItem{}, false
		}
	}
	if strings.TrimSpace(msg.Text) == "" {
		return BroadcastItem{}, false
	}
	return BroadcastItem{Kind: transport.MediaText, Payload: msg.Text}, true
}

// NormalizeHTML is Normalize for HTML parse mode: text and captions use the
// message's rendered HTML so source formatting survives and stray markup
// characters are escaped.
func NormalizeHTML(msg *transport.Message) (BroadcastItem, bool) {
	item, ok := Normalize(msg)
	if !ok {
		return item, false
	}
	switch {
	case item.Kind == transport.MediaText && msg.TextHTML != "":
		item.Payload = msg.TextHTML
	case item.Kind != transport.MediaText && item.Caption != "" && msg.CaptionHTML != "":
		item.Caption = msg.CaptionHTML
	}
	return item, true
}
