package relay

import (
	"context"
	"errors"
	"sync"
	"time"

	"relaybot/internal/transport"
)

type sentCall struct {
	Op    string // text | media | album
	To    int64
	Text  string
	Media []transport.Media
}

type fakeSender struct {
	mu    sync.Mutex
	calls []sentCall
	fail  map[int64]bool
	block map[int64]bool
}

var errBlocked = errors.New("forbidden: bot was blocked by the user")

func newFakeSender(failing ...int64) *fakeSender {
	f := &fakeSender{fail: map[int64]bool{}, block: map[int64]bool{}}
	for _, id := range failing {
		f.fail[id] = true
	}
	return f
}

func (f *fakeSender) record(c sentCall) error {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	failing := f.fail[c.To]
	f.mu.Unlock()
	if failing {
		return errBlocked
	}
	return nil
}

func (f *fakeSender) wait(ctx context.Context, to int64) error {
	f.mu.Lock()
	hang := f.block[to]
	f.mu.Unlock()
	if !hang {
		return nil
	}
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeSender) SendText(ctx context.Context, to transport.ChatTarget, text string, _ *transport.SendOptions) (transport.MessageRef, error) {
	if err := f.wait(ctx, to.ChatID); err != nil {
		return transport.MessageRef{}, err
	}
	return transport.MessageRef{ChatID: to.ChatID}, f.record(sentCall{Op: "text", To: to.ChatID, Text: text})
}

func (f *fakeSender) SendMedia(ctx context.Context, to transport.ChatTarget, m transport.Media, _ *transport.SendOptions) (transport.MessageRef, error) {
	if err := f.wait(ctx, to.ChatID); err != nil {
		return transport.MessageRef{}, err
	}
	return transport.MessageRef{ChatID: to.ChatID}, f.record(sentCall{Op: "media", To: to.ChatID, Media: []transport.Media{m}})
}

func (f *fakeSender) SendAlbum(ctx context.Context, to transport.ChatTarget, items []transport.Media, _ *transport.SendOptions) error {
	if err := f.wait(ctx, to.ChatID); err != nil {
		return err
	}
	return f.record(sentCall{Op: "album", To: to.ChatID, Media: append([]transport.Media(nil), items...)})
}

func (f *fakeSender) callsTo(id int64) []sentCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentCall
	for _, c := range f.calls {
		if c.To == id {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeSender) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

type staticRecipients []int64

func (r staticRecipients) Snapshot() []int64 { return append([]int64(nil), r...) }

type recordingSink struct {
	mu      sync.Mutex
	reports map[int64][]DeliveryReport
	err     error
}

func (s *recordingSink) Notify(_ context.Context, admin int64, r DeliveryReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reports == nil {
		s.reports = map[int64][]DeliveryReport{}
	}
	s.reports[admin] = append(s.reports[admin], r)
	return s.err
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, rs := range s.reports {
		n += len(rs)
	}
	return n
}

// fakeTimers hands out timers that only fire when the test says so.
type fakeTimers struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

type fakeTimer struct {
	d       time.Duration
	f       func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

func (ft *fakeTimers) after(d time.Duration, f func()) Timer {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	t := &fakeTimer{d: d, f: f}
	ft.timers = append(ft.timers, t)
	return t
}

func (ft *fakeTimers) all() []*fakeTimer {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return append([]*fakeTimer(nil), ft.timers...)
}

func (ft *fakeTimers) last() *fakeTimer {
	all := ft.all()
	return all[len(all)-1]
}
