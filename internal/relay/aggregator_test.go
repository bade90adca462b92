package relay

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

func photo(id string) BroadcastItem {
	return BroadcastItem{Kind: transport.MediaPhoto, Payload: id}
}

func newFakeAggregator(t *testing.T) (*Aggregator, *fakeTimers) {
	t.Helper()
	ft := &fakeTimers{}
	a := NewAggregator(500*time.Millisecond, logx.Nop(), WithAfterFunc(ft.after))
	t.Cleanup(a.Close)
	return a, ft
}

func receive(t *testing.T, a *Aggregator) MediaGroup {
	t.Helper()
	select {
	case g := <-a.Completed():
		return g
	case <-time.After(time.Second):
		t.Fatal("no group completed")
		return MediaGroup{}
	}
}

func assertNoGroup(t *testing.T, a *Aggregator) {
	t.Helper()
	select {
	case g := <-a.Completed():
		t.Fatalf("unexpected group %q with %d parts", g.ID, len(g.Parts))
	default:
	}
}

func TestAggregatorFlushesAllPartsOnceAfterLastPart(t *testing.T) {
	a, ft := newFakeAggregator(t)

	for i := 0; i < 5; i++ {
		a.OnPart("album", photo(fmt.Sprint(i)), "")
	}

	timers := ft.all()
	require.Len(t, timers, 5)
	for _, tm := range timers[:4] {
		assert.True(t, tm.stopped, "earlier timers must be replaced")
	}
	assert.Equal(t, 500*time.Millisecond, timers[4].d)
	assertNoGroup(t, a)

	timers[4].f()
	g := receive(t, a)
	assert.Equal(t, "album", g.ID)
	require.Len(t, g.Parts, 5)
	for i, p := range g.Parts {
		assert.Equal(t, fmt.Sprint(i), p.Payload)
	}
	assert.Zero(t, a.Pending())

	// the current timer firing twice must not flush again
	timers[4].f()
	assertNoGroup(t, a)
}

func TestAggregatorStaleTimerIsNoop(t *testing.T) {
	a, ft := newFakeAggregator(t)

	a.OnPart("g", photo("1"), "")
	stale := ft.last()
	a.OnPart("g", photo("2"), "")

	// fire raced with the reset: Stop came too late but the generation moved on
	stale.f()
	assertNoGroup(t, a)
	assert.Equal(t, 1, a.Pending())

	ft.last().f()
	g := receive(t, a)
	assert.Len(t, g.Parts, 2)
}

func TestAggregatorGapSplitsGroups(t *testing.T) {
	a, ft := newFakeAggregator(t)

	a.OnPart("g", photo("1"), "first")
	ft.last().f()
	first := receive(t, a)

	a.OnPart("g", photo("2"), "second")
	ft.last().f()
	second := receive(t, a)

	assert.Equal(t, []BroadcastItem{photo("1")}, first.Parts)
	assert.Equal(t, "first", first.Caption)
	assert.Equal(t, []BroadcastItem{photo("2")}, second.Parts)
	assert.Equal(t, "second", second.Caption)
}

func TestAggregatorKeepsFirstCaption(t *testing.T) {
	a, ft := newFakeAggregator(t)

	a.OnPart("g", photo("1"), "")
	a.OnPart("g", photo("2"), "caption")
	a.OnPart("g", photo("3"), "ignored")
	ft.last().f()

	assert.Equal(t, "caption", receive(t, a).Caption)
}

func TestAggregatorGroupsAreIndependent(t *testing.T) {
	a, ft := newFakeAggregator(t)

	a.OnPart("a", photo("a1"), "")
	ta := ft.last()
	a.OnPart("b", photo("b1"), "")
	tb := ft.last()
	a.OnPart("a", photo("a2"), "")

	assert.False(t, tb.stopped)
	assert.True(t, ta.stopped)

	tb.f()
	g := receive(t, a)
	assert.Equal(t, "b", g.ID)
	assert.Equal(t, 1, a.Pending())
}

func TestAggregatorCloseDropsPending(t *testing.T) {
	a, ft := newFakeAggregator(t)
	a.OnPart("g", photo("1"), "")
	tm := ft.last()

	a.Close()
	assert.True(t, tm.stopped)
	assert.Zero(t, a.Pending())

	tm.f()
	assertNoGroup(t, a)

	a.OnPart("g", photo("2"), "")
	assert.Zero(t, a.Pending())
}

func TestAggregatorRealTimers(t *testing.T) {
	a := NewAggregator(30*time.Millisecond, logx.Nop())
	defer a.Close()

	a.OnPart("g", photo("1"), "")
	time.Sleep(5 * time.Millisecond)
	a.OnPart("g", photo("2"), "")

	g := receive(t, a)
	assert.Len(t, g.Parts, 2)
	assertNoGroup(t, a)
}

func TestAggregatorConcurrentPartsNeverDoubleDeliver(t *testing.T) {
	a := NewAggregator(20*time.Millisecond, logx.Nop(), WithCompletedBuffer(256))
	defer a.Close()

	const groups, parts = 8, 10
	var wg sync.WaitGroup
	for g := 0; g < groups; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for p := 0; p < parts; p++ {
				a.OnPart(fmt.Sprintf("g%d", g), photo(fmt.Sprintf("%d-%d", g, p)), "")
			}
		}(g)
	}
	wg.Wait()

	seen := map[string]int{}
	total := 0
	deadline := time.After(2 * time.Second)
	for total < groups*parts {
		select {
		case g := <-a.Completed():
			for _, p := range g.Parts {
				seen[p.Payload]++
				total++
			}
		case <-deadline:
			t.Fatalf("only %d of %d parts flushed", total, groups*parts)
		}
	}
	for payload, n := range seen {
		assert.Equal(t, 1, n, payload)
	}
	assert.Len(t, seen, groups*parts)
}
