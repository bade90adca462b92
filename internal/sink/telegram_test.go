package sink

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relaybot/internal/relay"
	"relaybot/internal/transport"
)

type captureSender struct {
	to   transport.ChatTarget
	text string
	opt  *transport.SendOptions
	err  error
}

func (c *captureSender) SendText(_ context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	c.to, c.text, c.opt = to, text, opt
	return transport.MessageRef{ChatID: to.ChatID}, c.err
}

func TestTelegramNotify(t *testing.T) {
	s := &captureSender{}
	require.NoError(t, NewTelegram(s).Notify(context.Background(), 42, relay.DeliveryReport{Total: 10, Success: 7}))

	assert.Equal(t, int64(42), s.to.ChatID)
	assert.Equal(t, "HTML", s.opt.ParseMode)
	assert.Contains(t, s.text, "Total recipients: 10")
	assert.Contains(t, s.text, "Delivered: 7")
	assert.Contains(t, s.text, "<b>Broadcast statistics</b>")
}

func TestTelegramNotifyWrapsError(t *testing.T) {
	boom := errors.New("blocked")
	err := NewTelegram(&captureSender{err: boom}).Notify(context.Background(), 1, relay.DeliveryReport{})
	assert.ErrorIs(t, err, boom)
	assert.ErrorContains(t, err, "admin 1")
}
