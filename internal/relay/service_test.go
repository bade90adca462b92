package relay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relaybot/internal/eventbus"
	"relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		name string
		msg  *transport.Message
		want BroadcastItem
		ok   bool
	}{
		{"nil", nil, BroadcastItem{}, false},
		{"text", &transport.Message{Text: "<b>hi</b>"}, BroadcastItem{Kind: transport.MediaText, Payload: "<b>hi</b>"}, true},
		{"blank text", &transport.Message{Text: "  "}, BroadcastItem{}, false},
		{
			"photo with caption",
			&transport.Message{Caption: "c", Media: &transport.Media{Kind: transport.MediaPhoto, FileID: "f"}},
			BroadcastItem{Kind: transport.MediaPhoto, Payload: "f", Caption: "c"},
			true,
		},
		{
			"document",
			&transport.Message{Media: &transport.Media{Kind: transport.MediaDocument, FileID: "d"}},
			BroadcastItem{Kind: transport.MediaDocument, Payload: "d"},
			true,
		},
		{"media without file id", &transport.Message{Media: &transport.Media{Kind: transport.MediaVideo}}, BroadcastItem{}, false},
		{"sticker", &transport.Message{Media: &transport.Media{Kind: "sticker", FileID: "s"}}, BroadcastItem{}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := Normalize(tc.msg)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestNormalizeHTML(t *testing.T) {
	item, ok := NormalizeHTML(&transport.Message{Text: "1 < 2", TextHTML: "1 &lt; 2"})
	require.True(t, ok)
	assert.Equal(t, "1 &lt; 2", item.Payload)

	item, ok = NormalizeHTML(&transport.Message{
		Caption:     "<b>sale",
		CaptionHTML: "&lt;b&gt;<i>sale</i>",
		Media:       &transport.Media{Kind: transport.MediaPhoto, FileID: "f", Caption: "<b>sale"},
	})
	require.True(t, ok)
	assert.Equal(t, BroadcastItem{Kind: transport.MediaPhoto, Payload: "f", Caption: "&lt;b&gt;<i>sale</i>"}, item)

	// no rendered form falls back to the raw text
	item, ok = NormalizeHTML(&transport.Message{Text: "plain"})
	require.True(t, ok)
	assert.Equal(t, "plain", item.Payload)

	_, ok = NormalizeHTML(&transport.Message{Text: " ", TextHTML: " "})
	assert.False(t, ok)
}

func TestServiceRelaysRenderedHTMLOnlyInHTMLMode(t *testing.T) {
	post := &transport.Message{ChatUsername: "src", Text: "a < b", TextHTML: "a &lt; b"}

	sender := newFakeSender()
	sink := &recordingSink{}
	s := startService(t, Deps{Sender: sender, Recipients: staticRecipients{1}, Sinks: []ReportSink{sink}},
		Config{SourceChannel: "@src", Admins: []int64{100}})
	s.OnInboundPost(context.Background(), post)
	waitForReport(t, sink, 1)
	assert.Equal(t, "a &lt; b", sender.callsTo(1)[0].Text)

	sender = newFakeSender()
	sink = &recordingSink{}
	s = startService(t, Deps{Sender: sender, Recipients: staticRecipients{1}, Sinks: []ReportSink{sink}},
		Config{SourceChannel: "@src", ParseMode: "none", Admins: []int64{100}})
	s.OnInboundPost(context.Background(), post)
	waitForReport(t, sink, 1)
	assert.Equal(t, "a < b", sender.callsTo(1)[0].Text)
}

func TestSourceFilter(t *testing.T) {
	byName := newSourceFilter("@GymChannel")
	assert.True(t, byName.match(&transport.Message{ChatUsername: "gymchannel"}))
	assert.False(t, byName.match(&transport.Message{ChatUsername: "other"}))

	byID := newSourceFilter("-1001234")
	assert.True(t, byID.match(&transport.Message{ChatID: -1001234}))
	assert.False(t, byID.match(&transport.Message{ChatID: 5, ChatUsername: "-1001234"}))

	assert.False(t, newSourceFilter("").match(&transport.Message{}))
}

func startService(t *testing.T, deps Deps, cfg Config) *Service {
	t.Helper()
	if deps.Logger.IsZero() {
		deps.Logger = logx.Nop()
	}
	s := NewService(deps, cfg)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	})
	return s
}

func waitForReport(t *testing.T, sink *recordingSink, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return sink.count() >= n }, 2*time.Second, 5*time.Millisecond)
}

func TestServiceRelaysSinglePost(t *testing.T) {
	sender := newFakeSender()
	sink := &recordingSink{}
	s := startService(t, Deps{Sender: sender, Recipients: staticRecipients{1, 2}, Sinks: []ReportSink{sink}},
		Config{SourceChannel: "@src", Admins: []int64{100}})

	s.OnInboundPost(context.Background(), &transport.Message{ChatUsername: "src", Text: "news"})
	s.OnInboundPost(context.Background(), &transport.Message{ChatUsername: "elsewhere", Text: "spam"})

	waitForReport(t, sink, 1)
	assert.Equal(t, 2, sink.reports[100][0].Success)
	assert.Equal(t, 2, sender.count("text"))
	require.Eventually(t, func() bool { return s.Stats().Dispatches == 1 }, time.Second, 5*time.Millisecond)
	st := s.Stats()
	require.NotNil(t, st.Last)
	assert.Equal(t, 2, st.Last.Total)
}

func TestServiceRelaysAlbumAsOneBroadcast(t *testing.T) {
	sender := newFakeSender()
	sink := &recordingSink{}
	ft := &fakeTimers{}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()

	s := startService(t, Deps{
		Sender:            sender,
		Recipients:        staticRecipients{1},
		Sinks:             []ReportSink{sink},
		Bus:               bus,
		AggregatorOptions: []AggregatorOption{WithAfterFunc(ft.after)},
	}, Config{SourceChannel: "-100", Admins: []int64{100}})

	post := func(file, caption string) {
		s.OnInboundPost(context.Background(), &transport.Message{
			ChatID:  -100,
			AlbumID: "album-1",
			Caption: caption,
			Media:   &transport.Media{Kind: transport.MediaPhoto, FileID: file},
		})
	}
	post("a", "caption")
	post("b", "")
	post("c", "")
	assert.Equal(t, 1, s.Stats().PendingAlbums)

	ft.last().f()
	waitForReport(t, sink, 1)

	calls := sender.callsTo(1)
	require.Len(t, calls, 1)
	assert.Equal(t, "album", calls[0].Op)
	require.Len(t, calls[0].Media, 3)
	assert.Equal(t, "caption", calls[0].Media[0].Caption)

	var types []string
	for len(types) < 2 {
		select {
		case ev := <-events:
			types = append(types, ev.Type)
		case <-time.After(time.Second):
			t.Fatal("missing events")
		}
	}
	assert.Equal(t, []string{eventbus.TypeGroupFlushed, eventbus.TypeDispatched}, types)
}

func TestServiceApplyChangesSource(t *testing.T) {
	s := NewService(Deps{Sender: newFakeSender(), Recipients: staticRecipients{}}, Config{SourceChannel: "@a"})
	assert.Equal(t, "@a", s.SourceChannel())
	s.Apply(Config{SourceChannel: "@b", DebounceWindow: time.Second})
	assert.Equal(t, "@b", s.SourceChannel())
}

func TestServiceStopWaitsForInflight(t *testing.T) {
	sender := newFakeSender()
	sink := &recordingSink{}
	s := NewService(Deps{Sender: sender, Recipients: staticRecipients{1}, Sinks: []ReportSink{sink}, Logger: logx.Nop()},
		Config{SourceChannel: "@src", Admins: []int64{7}})
	require.NoError(t, s.Start(context.Background()))

	s.OnInboundPost(context.Background(), &transport.Message{ChatUsername: "src", Text: "x"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	assert.Equal(t, 1, sink.count())

	assert.ErrorIs(t, s.Start(context.Background()), ErrStopped)
	s.OnInboundPost(context.Background(), &transport.Message{ChatUsername: "src", Text: "late"})
	assert.Equal(t, 1, sink.count())
}
