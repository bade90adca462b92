package relay

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"relaybot/internal/eventbus"
	"relaybot/internal/runtime/supervisor"
	"relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

// Service owns the live relay state: the album aggregator, the dispatcher
// and the goroutines that connect them.
type Service struct {
	log  logx.Logger
	agg  *Aggregator
	disp *Dispatcher
	bus  eventbus.Bus

	source atomic.Pointer[sourceFilter]
	html   atomic.Bool

	mu       sync.Mutex
	sup      *supervisor.Supervisor // completion consumer
	inflight *supervisor.Supervisor // running dispatches
	stopped  bool

	dispatches atomic.Uint64
	last       atomic.Pointer[DeliveryReport]
}

// Stats is a point-in-time view for the ops endpoint and /help.
type Stats struct {
	Dispatches    uint64          `json:"dispatches"`
	PendingAlbums int             `json:"pending_albums"`
	Last          *DeliveryReport `json:"last,omitempty"`
}

type Deps struct {
	Sender     Sender
	Recipients Recipients
	Sinks      []ReportSink
	Bus        eventbus.Bus
	Logger     logx.Logger

	// AggregatorOptions are passed to NewAggregator (tests inject timers).
	AggregatorOptions []AggregatorOption
}

func NewService(deps Deps, cfg Config) *Service {
	log := deps.Logger
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()

	opts := []DispatcherOption{WithReportSinks(deps.Sinks...)}
	if deps.Bus != nil {
		opts = append(opts, WithEventBus(deps.Bus))
	}
	s := &Service{
		log:  log,
		agg:  NewAggregator(cfg.DebounceWindow, log.With(logx.String("comp", "aggregator")), deps.AggregatorOptions...),
		disp: NewDispatcher(deps.Sender, deps.Recipients, cfg, log.With(logx.String("comp", "dispatcher")), opts...),
		bus:  deps.Bus,
	}
	s.source.Store(newSourceFilter(cfg.SourceChannel))
	s.html.Store(isHTML(cfg.ParseMode))
	return s
}

// Start runs the album completion consumer until Stop or ctx is done.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}
	if s.sup != nil {
		return nil
	}
	s.sup = supervisor.New(ctx, supervisor.WithLogger(s.log))
	// In-flight dispatches outlive ctx so a started broadcast runs to
	// completion; Stop bounds the wait.
	s.inflight = supervisor.New(context.WithoutCancel(ctx), supervisor.WithLogger(s.log))

	s.sup.Go0("relay.albums", func(ctx context.Context) {
		for {
			select {
			case <-ctx.Done():
				return
			case g := <-s.agg.Completed():
				s.onGroupComplete(g)
			}
		}
	})
	return nil
}

// Stop drops pending albums and waits for in-flight dispatches until ctx is
// done, after which their sends are canceled.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	sup, inflight := s.sup, s.inflight
	s.mu.Unlock()

	s.agg.Close()
	if sup == nil {
		return nil
	}
	err := sup.Stop(ctx)
	if werr := inflight.Wait(ctx); werr != nil {
		inflight.Cancel()
		err = errors.Join(err, werr)
	}
	return err
}

// Apply hot-reloads relay settings. The debounce window applies to timers
// installed afterwards.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.source.Store(newSourceFilter(cfg.SourceChannel))
	s.html.Store(isHTML(cfg.ParseMode))
	s.agg.SetWindow(cfg.DebounceWindow)
	s.disp.Apply(cfg)
}

// OnInboundPost relays a post from the source channel. Album parts go to the
// aggregator; standalone posts are dispatched right away on their own
// goroutine so the update loop never waits on fan-out.
func (s *Service) OnInboundPost(ctx context.Context, msg *transport.Message) {
	if msg == nil {
		return
	}
	if !s.source.Load().match(msg) {
		s.log.Debug("post from foreign chat ignored", logx.Int64("chat_id", msg.ChatID), logx.String("chat", msg.ChatUsername))
		return
	}
	normalize := Normalize
	if s.html.Load() {
		normalize = NormalizeHTML
	}
	item, ok := normalize(msg)
	if !ok {
		s.log.Debug("post has nothing to relay", logx.Int("message_id", msg.ID), logx.String("album_id", msg.AlbumID))
		return
	}
	if msg.AlbumID != "" {
		s.agg.OnPart(msg.AlbumID, item, item.Caption)
		return
	}
	s.spawnDispatch("relay.post", item)
}

func (s *Service) onGroupComplete(g MediaGroup) {
	s.log.Debug("album complete", logx.String("group_id", g.ID), logx.Int("parts", len(g.Parts)))
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeGroupFlushed, Data: g.ID})
	}
	s.spawnDispatch("relay.album", g)
}

func (s *Service) spawnDispatch(name string, c Content) {
	// held across Go0 so Stop never waits while a dispatch is being added
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight == nil || s.stopped {
		s.log.Warn("relay not running; post dropped", logx.String("source", name))
		return
	}
	s.inflight.Go0(name, func(ctx context.Context) {
		r := s.disp.Dispatch(ctx, c)
		s.dispatches.Add(1)
		s.last.Store(&r)
	})
}

// Dispatch runs a broadcast synchronously. It bypasses the source filter.
func (s *Service) Dispatch(ctx context.Context, c Content) DeliveryReport {
	r := s.disp.Dispatch(ctx, c)
	s.dispatches.Add(1)
	s.last.Store(&r)
	return r
}

func (s *Service) Stats() Stats {
	return Stats{
		Dispatches:    s.dispatches.Load(),
		PendingAlbums: s.agg.Pending(),
		Last:          s.last.Load(),
	}
}

// SourceChannel returns the configured source as written in config.
func (s *Service) SourceChannel() string { return s.source.Load().raw }

func isHTML(mode string) bool { return strings.EqualFold(mode, "HTML") }

// sourceFilter matches posts by "@username" (case-insensitive) or numeric
// chat id.
type sourceFilter struct {
	raw      string
	username string
	chatID   int64
}

func newSourceFilter(raw string) *sourceFilter {
	raw = strings.TrimSpace(raw)
	f := &sourceFilter{raw: raw}
	if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
		f.chatID = id
		return f
	}
	f.username = strings.ToLower(strings.TrimPrefix(raw, "@"))
	return f
}

func (f *sourceFilter) match(msg *transport.Message) bool {
	if f.chatID != 0 {
		return msg.ChatID == f.chatID
	}
	if f.username == "" {
		return false
	}
	return strings.EqualFold(strings.TrimPrefix(msg.ChatUsername, "@"), f.username)
}
