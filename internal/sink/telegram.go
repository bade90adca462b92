// Package sink delivers delivery reports to admins.
package sink

import (
	"context"
	"fmt"

	"relaybot/internal/relay"
	"relaybot/internal/transport"
	"relaybot/pkg/tgui"
)

// TextSender is the part of transport.Adapter the Telegram sink needs.
type TextSender interface {
	SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error)
}

var _ relay.ReportSink = (*Telegram)(nil)

// Telegram sends each report to the admin's private chat.
type Telegram struct {
	sender TextSender
}

func NewTelegram(sender TextSender) *Telegram {
	return &Telegram{sender: sender}
}

func (t *Telegram) Notify(ctx context.Context, adminID int64, r relay.DeliveryReport) error {
	_, err := t.sender.SendText(ctx, transport.ChatTarget{ChatID: adminID}, FormatReport(r).String(), &transport.SendOptions{ParseMode: "HTML"})
	if err != nil {
		return fmt.Errorf("notify admin %d: %w", adminID, err)
	}
	return nil
}

// FormatReport renders the admin-facing broadcast summary.
func FormatReport(r relay.DeliveryReport) tgui.H {
	return tgui.H(fmt.Sprintf(
		"📊 %s\n\n👥 Total recipients: %d\n✅ Delivered: %d",
		tgui.B("Broadcast statistics"), r.Total, r.Success,
	))
}
