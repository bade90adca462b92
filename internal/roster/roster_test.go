package roster

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

type ids []int64

func (r ids) Snapshot() []int64 { return append([]int64(nil), r...) }

type fakeResolver struct {
	calls   atomic.Int32
	failing map[int64]bool
	infos   map[int64]transport.ChatInfo
}

func (f *fakeResolver) ChatInfo(_ context.Context, id int64) (transport.ChatInfo, error) {
	f.calls.Add(1)
	if f.failing[id] {
		return transport.ChatInfo{}, errors.New("chat not found")
	}
	if info, ok := f.infos[id]; ok {
		return info, nil
	}
	return transport.ChatInfo{ID: id, Username: fmt.Sprintf("u%d", id)}, nil
}

func seq(n int) ids {
	out := make(ids, n)
	for i := range out {
		out[i] = int64(i + 1)
	}
	return out
}

func newView(r Recipients, res Resolver) *View {
	return New(r, res, Config{Admins: []int64{100}}, logx.Nop())
}

func TestPaginationBounds(t *testing.T) {
	for _, n := range []int{0, 1, 5, 6, 7, 12, 13} {
		t.Run(fmt.Sprint(n), func(t *testing.T) {
			v := newView(seq(n), &fakeResolver{})

			first := v.RenderPage(context.Background(), 0)
			assert.False(t, first.HasPrev)

			last := 0
			if n > 0 {
				last = (n+DefaultPageSize-1)/DefaultPageSize - 1
			}
			assert.False(t, v.RenderPage(context.Background(), last).HasNext)

			var all []int64
			for p := 0; p <= last; p++ {
				page := v.RenderPage(context.Background(), p)
				assert.LessOrEqual(t, len(page.Items), DefaultPageSize)
				assert.Equal(t, p > 0, page.HasPrev)
				assert.Equal(t, p < last, page.HasNext)
				for _, e := range page.Items {
					all = append(all, e.ID)
				}
			}
			if n == 0 {
				assert.Empty(t, all)
				return
			}
			assert.Equal(t, []int64(seq(n)), all)
		})
	}
}

func TestResolutionFailureSkipsRecipientBeforeSlicing(t *testing.T) {
	res := &fakeResolver{failing: map[int64]bool{2: true, 3: true}}
	v := newView(seq(8), res)

	p := v.RenderPage(context.Background(), 0)
	require.Len(t, p.Items, 6)
	assert.Equal(t, 6, p.Total)
	assert.False(t, p.HasNext)
	assert.Equal(t, []Entry{
		{"u1", 1}, {"u4", 4}, {"u5", 5}, {"u6", 6}, {"u7", 7}, {"u8", 8},
	}, p.Items)
}

func TestDisplayNameFallbacks(t *testing.T) {
	assert.Equal(t, "alice", DisplayName(1, transport.ChatInfo{Username: "alice", FirstName: "Alice"}))
	assert.Equal(t, "Bob", DisplayName(2, transport.ChatInfo{FirstName: "Bob"}))
	assert.Equal(t, "User 3", DisplayName(3, transport.ChatInfo{}))
}

func TestRequestPageDeniesNonAdmins(t *testing.T) {
	res := &fakeResolver{}
	v := newView(seq(10), res)

	for _, page := range []int{0, 1, 5} {
		p, err := v.RequestPage(context.Background(), 42, page)
		assert.ErrorIs(t, err, ErrAccessDenied)
		assert.Empty(t, p.Items)
	}
	assert.Zero(t, res.calls.Load(), "denied requests must not resolve anything")

	p, err := v.RequestPage(context.Background(), 100, 1)
	require.NoError(t, err)
	assert.Len(t, p.Items, 4)
}

func TestApplyChangesPageSizeAndAdmins(t *testing.T) {
	v := newView(seq(5), &fakeResolver{})
	v.Apply(Config{PageSize: 2, Admins: []int64{7}})

	assert.False(t, v.IsAdmin(100))
	p, err := v.RequestPage(context.Background(), 7, 0)
	require.NoError(t, err)
	assert.Len(t, p.Items, 2)
	assert.True(t, p.HasNext)
}

func TestTokenRoundTrip(t *testing.T) {
	tok := Token(ActionNext, 3)
	assert.Equal(t, "roster:next:3", tok)

	action, page, ok := ParseToken(tok)
	require.True(t, ok)
	assert.Equal(t, ActionNext, action)
	assert.Equal(t, 3, page)
}

func TestParseTokenRejectsMalformed(t *testing.T) {
	for _, s := range []string{"", "roster", "roster:next", "roster:next:x", "roster:next:-1", "roster:jump:1", "other:next:1"} {
		_, _, ok := ParseToken(s)
		assert.False(t, ok, s)
	}
}

func TestKeyboardLayout(t *testing.T) {
	p := Page{
		Items:   []Entry{{"a", 1}, {"b", 2}, {"c", 3}},
		Index:   1,
		Size:    3,
		Total:   9,
		HasPrev: true,
		HasNext: true,
	}
	kb := Keyboard(p)
	require.NotNil(t, kb)
	rows := kb.InlineKeyboard
	require.Len(t, rows, 3)
	assert.Len(t, rows[0], 2)
	assert.Len(t, rows[1], 1)
	assert.Equal(t, "tg://user?id=1", rows[0][0].URL)

	nav := rows[2]
	require.Len(t, nav, 2)
	assert.Equal(t, prevLabel, nav[0].Text)
	assert.Equal(t, "roster:prev:0", nav[0].Data)
	assert.Equal(t, "roster:next:2", nav[1].Data)

	assert.Nil(t, Keyboard(Page{}))
	assert.Contains(t, Header(p), "Page 2/3")
}
