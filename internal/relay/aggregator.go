package relay

import (
	"sync"
	"time"

	logx "relaybot/pkg/logx"
)

const DefaultDebounceWindow = 500 * time.Millisecond

// Timer is the part of *time.Timer the aggregator needs.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d. time.AfterFunc satisfies it once wrapped.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

type AggregatorOption func(*Aggregator)

// WithAfterFunc replaces the timer source; tests use it to fire timers by hand.
func WithAfterFunc(fn AfterFunc) AggregatorOption {
	return func(a *Aggregator) {
		if fn != nil {
			a.after = fn
		}
	}
}

// WithCompletedBuffer sets the capacity of the Completed channel.
func WithCompletedBuffer(n int) AggregatorOption {
	return func(a *Aggregator) {
		if n >= 0 {
			a.buffer = n
		}
	}
}

// Aggregator collects album parts by group id and emits each album once no
// part has arrived for the debounce window.
//
// Every part bumps the group's generation and replaces its timer under mu. A
// timer only flushes if its group is still live and its generation is still
// current, so a stale timer that fired before Stop could cancel it is a no-op.
// Once a flush removes the group, later parts with the same id start a new
// group.
type Aggregator struct {
	log    logx.Logger
	after  AfterFunc
	buffer int

	mu      sync.Mutex
	window  time.Duration
	groups  map[string]*pendingGroup
	flushed map[string]time.Time
	closed  bool

	out      chan MediaGroup
	done     chan struct{}
	doneOnce sync.Once
}

type pendingGroup struct {
	group MediaGroup
	gen   uint64
	timer Timer
}

func NewAggregator(window time.Duration, log logx.Logger, opts ...AggregatorOption) *Aggregator {
	if window <= 0 {
		window = DefaultDebounceWindow
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Aggregator{
		log:     log,
		after:   realAfterFunc,
		buffer:  16,
		window:  window,
		groups:  map[string]*pendingGroup{},
		flushed: map[string]time.Time{},
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(a)
	}
	a.out = make(chan MediaGroup, a.buffer)
	return a
}

// Completed yields each flushed group exactly once.
func (a *Aggregator) Completed() <-chan MediaGroup { return a.out }

// SetWindow changes the debounce window for timers installed from now on.
func (a *Aggregator) SetWindow(d time.Duration) {
	if d <= 0 {
		d = DefaultDebounceWindow
	}
	a.mu.Lock()
	a.window = d
	a.mu.Unlock()
}

// OnPart adds item to the group and restarts its debounce timer. caption is
// kept only if the group has none yet. It never blocks on delivery.
func (a *Aggregator) OnPart(groupID string, item BroadcastItem, caption string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		a.log.Debug("album part after close dropped", logx.String("group_id", groupID))
		return
	}

	g, ok := a.groups[groupID]
	if !ok {
		if at, seen := a.flushed[groupID]; seen {
			a.log.Debug("album part after flush; starting new group",
				logx.String("group_id", groupID), logx.Duration("since_flush", time.Since(at)))
		}
		g = &pendingGroup{group: MediaGroup{ID: groupID}}
		a.groups[groupID] = g
	}
	g.group.Parts = append(g.group.Parts, item)
	if caption != "" && g.group.Caption == "" {
		g.group.Caption = caption
	}

	g.gen++
	gen := g.gen
	if g.timer != nil {
		g.timer.Stop()
	}
	g.timer = a.after(a.window, func() { a.fire(groupID, g, gen) })
}

func (a *Aggregator) fire(groupID string, g *pendingGroup, gen uint64) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	cur, ok := a.groups[groupID]
	if !ok || cur != g || cur.gen != gen {
		a.mu.Unlock()
		return
	}
	delete(a.groups, groupID)
	now := time.Now()
	a.flushed[groupID] = now
	for id, at := range a.flushed {
		if now.Sub(at) > 4*a.window {
			delete(a.flushed, id)
		}
	}
	mg := g.group
	a.mu.Unlock()

	select {
	case a.out <- mg:
	case <-a.done:
		a.log.Warn("album flushed after close; dropped", logx.String("group_id", groupID), logx.Int("parts", len(mg.Parts)))
	}
}

// Pending reports the number of groups still waiting for their timer.
func (a *Aggregator) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.groups)
}

// Close stops every pending timer and drops unflushed groups. Completed is
// never closed; consumers stop on their own context.
func (a *Aggregator) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	dropped := len(a.groups)
	for id, g := range a.groups {
		if g.timer != nil {
			g.timer.Stop()
		}
		delete(a.groups, id)
	}
	a.mu.Unlock()

	a.doneOnce.Do(func() { close(a.done) })
	if dropped > 0 {
		a.log.Warn("aggregator closed with pending albums", logx.Int("dropped", dropped))
	}
}
