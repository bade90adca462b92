package adapter

import (
	"strings"

	tele "gopkg.in/telebot.v4"

	kit "relaybot/internal/transport"
)

// convertMessage maps a telebot message (private, group or channel post).
// Channel posts carry no sender.
func convertMessage(m *tele.Message) *kit.Message {
	out := &kit.Message{
		ID:       m.ID,
		ThreadID: m.ThreadID,
		Text:     m.Text,
		Caption:  m.Caption,
		AlbumID:  m.AlbumID,
		Media:    convertMedia(m),

		TextHTML:    entitiesHTML(m.Text, m.Entities),
		CaptionHTML: entitiesHTML(m.Caption, m.CaptionEntities),
	}
	if m.Chat != nil {
		out.ChatID = m.Chat.ID
		out.ChatUsername = m.Chat.Username
		out.IsGroup = m.Chat.Type == tele.ChatGroup || m.Chat.Type == tele.ChatSuperGroup
	}
	if m.Sender != nil {
		out.FromID = m.Sender.ID
		out.FromUsername = m.Sender.Username
	}
	return out
}

// convertMedia returns the relayable attachment. telebot already keeps the
// largest photo size.
func convertMedia(m *tele.Message) *kit.Media {
	switch {
	case m.Photo != nil:
		return &kit.Media{Kind: kit.MediaPhoto, FileID: m.Photo.FileID, Caption: m.Caption}
	case m.Video != nil:
		return &kit.Media{Kind: kit.MediaVideo, FileID: m.Video.FileID, Caption: m.Caption}
	case m.Document != nil:
		return &kit.Media{Kind: kit.MediaDocument, FileID: m.Document.FileID, Caption: m.Caption}
	case m.Sticker != nil:
		return &kit.Media{Kind: "sticker", FileID: m.Sticker.FileID}
	case m.Animation != nil:
		return &kit.Media{Kind: "animation", FileID: m.Animation.FileID, Caption: m.Caption}
	case m.Voice != nil:
		return &kit.Media{Kind: "voice", FileID: m.Voice.FileID, Caption: m.Caption}
	case m.Audio != nil:
		return &kit.Media{Kind: "audio", FileID: m.Audio.FileID, Caption: m.Caption}
	}
	return nil
}

func convertCallback(cb *tele.Callback) *kit.Callback {
	out := &kit.Callback{ID: cb.ID, Data: cb.Data}
	if cb.Sender != nil {
		out.FromID = cb.Sender.ID
	}
	if m := cb.Message; m != nil {
		out.MessageID = m.ID
		out.ThreadID = m.ThreadID
		if m.Chat != nil {
			out.ChatID = m.Chat.ID
		}
	}
	return out
}

// toInputMedia builds the telebot value for a file already on Telegram's
// servers. ok is false for kinds the relay does not send.
func toInputMedia(m kit.Media) (tele.Inputtable, bool) {
	file := tele.File{FileID: m.FileID}
	switch m.Kind {
	case kit.MediaPhoto:
		return &tele.Photo{File: file, Caption: m.Caption}, true
	case kit.MediaVideo:
		return &tele.Video{File: file, Caption: m.Caption}, true
	case kit.MediaDocument:
		return &tele.Document{File: file, Caption: m.Caption}, true
	}
	return nil, false
}

// parseMode maps config spellings to telebot modes.
func parseMode(s string) tele.ParseMode {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "HTML":
		return tele.ModeHTML
	case "MARKDOWN":
		return tele.ModeMarkdown
	case "MARKDOWNV2":
		return tele.ModeMarkdownV2
	}
	return tele.ModeDefault
}

// albumLimit is Telegram's maximum sendMediaGroup size.
const albumLimit = 10

// chunkAlbum splits items into sendMediaGroup-sized batches.
func chunkAlbum(items []kit.Media) [][]kit.Media {
	var out [][]kit.Media
	for len(items) > 0 {
		n := min(albumLimit, len(items))
		out = append(out, items[:n])
		items = items[n:]
	}
	return out
}
