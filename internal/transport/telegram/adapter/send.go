package adapter

import (
	"context"
	"fmt"

	tele "gopkg.in/telebot.v4"

	kit "relaybot/internal/transport"
)

// withCtx runs a blocking telebot call so ctx cancellation returns promptly.
// telebot's own HTTP timeout bounds the abandoned call.
func withCtx[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v, err}
	}()
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case r := <-ch:
		return r.v, r.err
	}
}

func sendOptions(to kit.ChatTarget, opt *kit.SendOptions, withMarkup bool) *tele.SendOptions {
	so := &tele.SendOptions{ThreadID: to.ThreadID}
	if opt == nil {
		return so
	}
	so.ParseMode = parseMode(opt.ParseMode)
	so.DisableWebPagePreview = opt.DisablePreview
	if withMarkup {
		if rm, ok := opt.ReplyMarkupAdapter.(*tele.ReplyMarkup); ok && rm != nil {
			so.ReplyMarkup = rm
		}
	}
	return so
}

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	mode := ""
	if opt != nil {
		mode = opt.ParseMode
	}
	chunks := splitTelegramText(text, telegramTextLimit, mode)
	chat := &tele.Chat{ID: to.ChatID}

	var first kit.MessageRef
	for i, chunk := range chunks {
		// markup goes on the first chunk only
		so := sendOptions(to, opt, i == 0)
		msg, err := withCtx(ctx, func() (*tele.Message, error) { return a.bot.Send(chat, chunk, so) })
		if err != nil {
			return first, err
		}
		if i == 0 {
			first = kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}
		}
	}
	return first, nil
}

func (a *Adapter) SendMedia(ctx context.Context, to kit.ChatTarget, m kit.Media, opt *kit.SendOptions) (kit.MessageRef, error) {
	what, ok := toInputMedia(m)
	if !ok {
		return kit.MessageRef{}, fmt.Errorf("unsupported media kind %q", m.Kind)
	}
	so := sendOptions(to, opt, true)
	msg, err := withCtx(ctx, func() (*tele.Message, error) { return a.bot.Send(&tele.Chat{ID: to.ChatID}, what, so) })
	if err != nil {
		return kit.MessageRef{}, err
	}
	return kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}, nil
}

// SendAlbum sends items as one or more media groups. A single item is sent
// as a plain media message since Telegram albums need at least two.
func (a *Adapter) SendAlbum(ctx context.Context, to kit.ChatTarget, items []kit.Media, opt *kit.SendOptions) error {
	switch len(items) {
	case 0:
		return nil
	case 1:
		_, err := a.SendMedia(ctx, to, items[0], opt)
		return err
	}

	chat := &tele.Chat{ID: to.ChatID}
	so := sendOptions(to, opt, false)
	for _, batch := range chunkAlbum(items) {
		if len(batch) == 1 {
			if _, err := a.SendMedia(ctx, to, batch[0], opt); err != nil {
				return err
			}
			continue
		}
		album := make(tele.Album, 0, len(batch))
		for _, m := range batch {
			in, ok := toInputMedia(m)
			if !ok {
				return fmt.Errorf("unsupported media kind %q", m.Kind)
			}
			album = append(album, in)
		}
		if _, err := withCtx(ctx, func() ([]tele.Message, error) { return a.bot.SendAlbum(chat, album, so) }); err != nil {
			return err
		}
	}
	return nil
}

func (a *Adapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	mode := ""
	if opt != nil {
		mode = opt.ParseMode
	}
	chunks := splitTelegramText(text, telegramTextLimit, mode)
	m := &tele.Message{ID: ref.MessageID, Chat: &tele.Chat{ID: ref.ChatID}}
	to := kit.ChatTarget{ChatID: ref.ChatID, ThreadID: ref.ThreadID}

	so := sendOptions(to, opt, true)
	so.ThreadID = 0
	if _, err := withCtx(ctx, func() (*tele.Message, error) { return a.bot.Edit(m, chunks[0], so) }); err != nil {
		return err
	}
	// overflow goes out as new messages
	for _, chunk := range chunks[1:] {
		if _, err := a.SendText(ctx, to, chunk, &kit.SendOptions{ParseMode: mode}); err != nil {
			return err
		}
	}
	return nil
}

// EditMarkup replaces the inline keyboard of ref. A nil markup removes it.
func (a *Adapter) EditMarkup(ctx context.Context, ref kit.MessageRef, opt *kit.SendOptions) error {
	var rm *tele.ReplyMarkup
	if opt != nil {
		rm, _ = opt.ReplyMarkupAdapter.(*tele.ReplyMarkup)
	}
	m := &tele.Message{ID: ref.MessageID, Chat: &tele.Chat{ID: ref.ChatID}}
	_, err := withCtx(ctx, func() (*tele.Message, error) { return a.bot.EditReplyMarkup(m, rm) })
	return err
}

func (a *Adapter) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	_, err := withCtx(ctx, func() (struct{}, error) {
		return struct{}{}, a.bot.Respond(&tele.Callback{ID: callbackID}, &tele.CallbackResponse{Text: text})
	})
	return err
}

func (a *Adapter) ChatInfo(ctx context.Context, chatID int64) (kit.ChatInfo, error) {
	chat, err := withCtx(ctx, func() (*tele.Chat, error) { return a.bot.ChatByID(chatID) })
	if err != nil {
		return kit.ChatInfo{}, err
	}
	return kit.ChatInfo{
		ID:        chat.ID,
		Username:  chat.Username,
		FirstName: chat.FirstName,
		LastName:  chat.LastName,
	}, nil
}
