package ops

import (
	"context"
	"sync"
	"time"

	"relaybot/internal/eventbus"
)

const defaultEventHistory = 32

// EventView is an event as shown on /status.
type EventView struct {
	Type string    `json:"type"`
	Time time.Time `json:"time"`
	Data any       `json:"data,omitempty"`
}

// eventLog keeps the most recent events, oldest first.
type eventLog struct {
	mu   sync.Mutex
	buf  []EventView
	size int
}

func newEventLog(size int) *eventLog {
	return &eventLog{size: size}
}

func (l *eventLog) add(e eventbus.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.buf) == l.size {
		copy(l.buf, l.buf[1:])
		l.buf = l.buf[:l.size-1]
	}
	l.buf = append(l.buf, EventView{Type: e.Type, Time: e.Time, Data: e.Data})
}

func (l *eventLog) consume(ctx context.Context, ch <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			l.add(e)
		}
	}
}

func (l *eventLog) snapshot() []EventView {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]EventView, len(l.buf))
	copy(out, l.buf)
	return out
}
