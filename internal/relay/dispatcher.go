package relay

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"relaybot/internal/eventbus"
	"relaybot/internal/transport"
	logx "relaybot/pkg/logx"
	"relaybot/pkg/tgui"
)

const (
	DefaultCaptionLimit   = 1024
	DefaultCaptionPointer = "Full description above ⬆️"
	DefaultSendTimeout    = 30 * time.Second
	DefaultWorkers        = 8
	DefaultParseMode      = "HTML"
)

// Sender is the part of transport.Adapter used for delivery.
type Sender interface {
	SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error)
	SendMedia(ctx context.Context, to transport.ChatTarget, m transport.Media, opt *transport.SendOptions) (transport.MessageRef, error)
	SendAlbum(ctx context.Context, to transport.ChatTarget, items []transport.Media, opt *transport.SendOptions) error
}

// Recipients yields the ids a dispatch fans out to.
type Recipients interface {
	Snapshot() []int64
}

// ReportSink delivers a finished DeliveryReport to one admin.
type ReportSink interface {
	Notify(ctx context.Context, adminID int64, r DeliveryReport) error
}

// Dispatcher fans content out to every recipient. Each attempt is isolated:
// failures are logged and counted, never retried, and never stop the others.
type Dispatcher struct {
	sender     Sender
	recipients Recipients
	sinks      []ReportSink
	bus        eventbus.Bus
	log        logx.Logger

	cfg atomic.Pointer[Config]
}

type DispatcherOption func(*Dispatcher)

func WithReportSinks(sinks ...ReportSink) DispatcherOption {
	return func(d *Dispatcher) { d.sinks = append(d.sinks, sinks...) }
}

func WithEventBus(bus eventbus.Bus) DispatcherOption {
	return func(d *Dispatcher) { d.bus = bus }
}

func NewDispatcher(sender Sender, recipients Recipients, cfg Config, log logx.Logger, opts ...DispatcherOption) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	d := &Dispatcher{sender: sender, recipients: recipients, log: log}
	for _, o := range opts {
		o(d)
	}
	d.Apply(cfg)
	return d
}

// Apply swaps the delivery settings used by dispatches started afterwards.
func (d *Dispatcher) Apply(cfg Config) {
	c := cfg.withDefaults()
	d.cfg.Store(&c)
}

// delivery is the per-recipient send plan, computed once per dispatch.
type delivery struct {
	preface string // standalone text sent before the content
	text    string
	media   *transport.Media
	album   []transport.Media
}

func (p delivery) empty() bool {
	return p.text == "" && p.media == nil && len(p.album) == 0
}

// plan resolves caption overflow once, before fan-out: a caption longer than
// the limit moves to a preceding text message and the first media item gets
// the pointer caption instead.
func plan(c Content, cfg Config) delivery {
	var p delivery
	switch v := c.(type) {
	case BroadcastItem:
		if v.Kind == transport.MediaText {
			p.text = v.Payload
			return p
		}
		m := transport.Media{Kind: v.Kind, FileID: v.Payload, Caption: v.Caption}
		p.preface, m.Caption = splitCaption(m.Caption, cfg)
		p.media = &m
	case MediaGroup:
		for _, part := range v.Parts {
			if part.Kind == transport.MediaText || part.Payload == "" {
				continue
			}
			p.album = append(p.album, transport.Media{Kind: part.Kind, FileID: part.Payload})
		}
		if len(p.album) > 0 {
			p.preface, p.album[0].Caption = splitCaption(v.Caption, cfg)
		}
	}
	return p
}

func splitCaption(caption string, cfg Config) (preface, attached string) {
	if tgui.RuneLen(caption) > cfg.CaptionLimit {
		return caption, cfg.CaptionPointer
	}
	return "", caption
}

// Dispatch delivers c to a snapshot of the recipients and returns the report
// once every attempt has settled. The report is then handed to each sink for
// each admin. An empty recipient set yields a zero report.
func (d *Dispatcher) Dispatch(ctx context.Context, c Content) DeliveryReport {
	cfg := *d.cfg.Load()
	id := uuid.NewString()
	log := d.log.With(logx.String("broadcast_id", id))
	started := time.Now()

	snapshot := d.recipients.Snapshot()
	p := plan(c, cfg)
	if p.empty() {
		log.Warn("nothing to relay")
		report := DeliveryReport{BroadcastID: id, Total: len(snapshot), Took: time.Since(started)}
		d.notify(ctx, report, cfg.Admins, log)
		return report
	}
	if p.preface != "" {
		log.Debug("caption over limit; sending as preface", logx.Int("runes", tgui.RuneLen(p.preface)), logx.Int("limit", cfg.CaptionLimit))
	}

	outcomes := make([]Outcome, len(snapshot))
	var g errgroup.Group
	g.SetLimit(cfg.Workers)
	for i, rid := range snapshot {
		g.Go(func() error {
			outcomes[i] = Outcome{Recipient: rid, Err: d.deliver(ctx, rid, p, cfg)}
			return nil
		})
	}
	_ = g.Wait()

	report := DeliveryReport{BroadcastID: id, Total: len(snapshot), Took: time.Since(started)}
	for _, o := range outcomes {
		if o.Err == nil {
			report.Success++
			continue
		}
		log.Warn("delivery failed", logx.Int64("recipient", o.Recipient), logx.Err(o.Err))
	}
	log.Info("broadcast dispatched",
		logx.Int("total", report.Total),
		logx.Int("success", report.Success),
		logx.Duration("took", report.Took),
	)

	if d.bus != nil {
		d.bus.Publish(eventbus.Event{Type: eventbus.TypeDispatched, Data: report})
	}
	d.notify(ctx, report, cfg.Admins, log)
	return report
}

func (d *Dispatcher) deliver(ctx context.Context, rid int64, p delivery, cfg Config) error {
	if cfg.SendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.SendTimeout)
		defer cancel()
	}
	to := transport.ChatTarget{ChatID: rid}
	opt := &transport.SendOptions{ParseMode: cfg.ParseMode}

	if p.preface != "" {
		if _, err := d.sender.SendText(ctx, to, p.preface, opt); err != nil {
			return err
		}
	}
	switch {
	case len(p.album) > 0:
		return d.sender.SendAlbum(ctx, to, p.album, opt)
	case p.media != nil:
		_, err := d.sender.SendMedia(ctx, to, *p.media, opt)
		return err
	default:
		_, err := d.sender.SendText(ctx, to, p.text, opt)
		return err
	}
}

func (d *Dispatcher) notify(ctx context.Context, r DeliveryReport, admins []int64, log logx.Logger) {
	for _, sink := range d.sinks {
		for _, admin := range admins {
			if err := sink.Notify(ctx, admin, r); err != nil {
				log.Warn("report delivery failed", logx.Int64("admin", admin), logx.Err(err))
			}
		}
	}
}

// Config holds relay settings. Zero values fall back to the defaults above,
// except SendTimeout: zero disables the per-recipient timeout.
type Config struct {
	SourceChannel  string
	DebounceWindow time.Duration
	CaptionLimit   int
	CaptionPointer string
	SendTimeout    time.Duration
	Workers        int
	ParseMode      string
	Admins         []int64
}

func (c Config) withDefaults() Config {
	if c.DebounceWindow <= 0 {
		c.DebounceWindow = DefaultDebounceWindow
	}
	if c.CaptionLimit <= 0 {
		c.CaptionLimit = DefaultCaptionLimit
	}
	if strings.TrimSpace(c.CaptionPointer) == "" {
		c.CaptionPointer = DefaultCaptionPointer
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	switch strings.ToUpper(strings.TrimSpace(c.ParseMode)) {
	case "":
		c.ParseMode = DefaultParseMode
	case "NONE":
		c.ParseMode = ""
	}
	c.Admins = append([]int64(nil), c.Admins...)
	return c
}
