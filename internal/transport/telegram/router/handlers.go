package router

import (
	"context"
	"errors"
	"fmt"

	"relaybot/internal/eventbus"
	"relaybot/internal/roster"
	kit "relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

const deniedText = "You don't have access to this command"

func (r *Router) builtinCommands() []Command {
	return []Command{
		{
			Name:        "start",
			Description: "subscribe to channel updates",
			Access:      AccessEveryone,
			Handle:      r.handleStart,
		},
		{
			Name:        "stats",
			Aliases:     []string{"recipients"},
			Description: "list recipients",
			Access:      AccessAdminOnly,
			Handle:      r.handleStats,
		},
		{
			Name:        "help",
			Aliases:     []string{"h"},
			Description: "show commands",
			Access:      AccessEveryone,
			Handle:      r.handleHelp,
		},
	}
}

func (r *Router) builtinCallbacks() []CallbackRoute {
	return []CallbackRoute{
		{
			// the roster decides access so non-admins get an explicit answer
			Scope:  roster.Scope,
			Access: AccessEveryone,
			Handle: r.handleRosterNav,
		},
	}
}

func (r *Router) handleStart(ctx context.Context, req *Request) error {
	source := r.relay.SourceChannel()
	added, err := r.dir.Add(ctx, req.FromID)
	if err != nil {
		_, _ = r.adapter.SendText(ctx, req.Chat, "Registration failed, please try again later.", nil)
		return fmt.Errorf("register %d: %w", req.FromID, err)
	}
	if !added {
		_, err = r.adapter.SendText(ctx, req.Chat, fmt.Sprintf("You are already subscribed to updates from %s 📫", source), nil)
		return err
	}

	req.Logger.Info("recipient registered")
	if r.bus != nil {
		r.bus.Publish(eventbus.Event{Type: eventbus.TypeRecipientRegistered, Data: req.FromID})
	}
	_, err = r.adapter.SendText(ctx, req.Chat, fmt.Sprintf("Welcome! You will receive updates from the %s channel 📩", source), nil)
	return err
}

func (r *Router) handleStats(ctx context.Context, req *Request) error {
	page, err := r.roster.RequestPage(ctx, req.FromID, 0)
	if errors.Is(err, roster.ErrAccessDenied) {
		// admin lists in the router and the roster are reloaded separately
		req.Logger.Debug("roster denied")
		return nil
	}
	if err != nil {
		return err
	}
	_, err = r.adapter.SendText(ctx, req.Chat, roster.Header(page), &kit.SendOptions{
		ReplyMarkupAdapter: roster.Keyboard(page),
	})
	return err
}

func (r *Router) handleHelp(ctx context.Context, req *Request) error {
	text := helpText(r.registry(), r.isAdmin(req.FromID))
	_, err := r.adapter.SendText(ctx, req.Chat, text, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
	return err
}

func (r *Router) handleRosterNav(ctx context.Context, req *Request) error {
	cb := req.Update.Callback
	_, pageIdx, ok := roster.ParseToken(req.Payload)
	if !ok {
		req.Logger.Debug("malformed roster token", logx.String("data", req.Payload))
		return r.answer(ctx, req, "")
	}

	page, err := r.roster.RequestPage(ctx, req.FromID, pageIdx)
	if errors.Is(err, roster.ErrAccessDenied) {
		return r.answer(ctx, req, deniedText)
	}
	if err != nil {
		return err
	}

	ref := kit.MessageRef{ChatID: cb.ChatID, ThreadID: cb.ThreadID, MessageID: cb.MessageID}
	if err := r.adapter.EditMarkup(ctx, ref, &kit.SendOptions{ReplyMarkupAdapter: roster.Keyboard(page)}); err != nil {
		return fmt.Errorf("edit roster keyboard: %w", err)
	}
	return r.answer(ctx, req, "")
}
