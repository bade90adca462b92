// Package app wires relaybot's components together and owns their lifecycle.
package app

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"relaybot/internal/config"
	"relaybot/internal/eventbus"
	"relaybot/internal/maintenance"
	"relaybot/internal/ops"
	"relaybot/internal/recipients"
	"relaybot/internal/relay"
	"relaybot/internal/roster"
	"relaybot/internal/runtime/supervisor"
	"relaybot/internal/sink"
	"relaybot/internal/storage"
	kit "relaybot/internal/transport"
	telegram "relaybot/internal/transport/telegram/adapter"
	"relaybot/internal/transport/telegram/router"
	logx "relaybot/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor
	sd   *sdNotifier

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter *telegram.Adapter
	dir     *recipients.Directory
	relay   *relay.Service
	roster  *roster.View
	router  *router.Router
	maint   *maintenance.Service
	ops     *ops.Service

	updates chan kit.Update
}

// New loads the config at cfgPath and builds every component. Nothing runs
// until Start.
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validateMapped(cfg); err != nil {
		return nil, err
	}

	adCfg, _ := mapAdapterConfig(cfg)
	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
	ad, err := telegram.New(adCfg, bootLog)
	if err != nil {
		return nil, err
	}

	// Bootstrap with Telegram logging off, set the target, then apply the
	// final config so Apply does not warn about a missing chat.
	logCfg := mapLogConfig(cfg)
	bootCfg := logCfg
	bootCfg.Telegram.Enabled = false
	logSvc, root := logx.New(bootCfg, ad)
	logSvc.SetTelegramTarget(logTarget(cfg), cfg.Logging.Telegram.ThreadID)
	logSvc.Apply(logCfg)
	log := root.With(logx.String("comp", "app"))

	bus := eventbus.New()

	sc, _ := mapStorageConfig(cfg)
	store, err := storage.Open(sc, root.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	log.Info("storage opened", logx.String("driver", sc.Driver))

	dir, err := recipients.Load(ctx, store, root.With(logx.String("comp", "recipients")))
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	relayCfg, _ := mapRelayConfig(cfg)
	relaySvc := relay.NewService(relay.Deps{
		Sender:     ad,
		Recipients: dir,
		Sinks:      []relay.ReportSink{sink.NewTelegram(ad)},
		Bus:        bus,
		Logger:     root.With(logx.String("comp", "relay")),
	}, relayCfg)

	rosterCfg, _ := mapRosterConfig(cfg)
	view := roster.New(dir, ad, rosterCfg, root.With(logx.String("comp", "roster")))

	rt := router.New(router.Deps{
		Adapter:      ad,
		Directory:    dir,
		Relay:        relaySvc,
		Roster:       view,
		Bus:          bus,
		Logger:       root.With(logx.String("comp", "router")),
		Admins:       cfg.Telegram.AdminUserIDs,
		CommandRate:  defaultCommandRate,
		CommandBurst: defaultCommandBurst,
	})

	compactor, _ := store.(storage.Compactor)
	maint := maintenance.New(mapMaintenanceConfig(cfg), compactor, root.With(logx.String("comp", "maintenance")))

	a := &App{
		cfgm:    cfgm,
		sd:      newSDNotifier(log),
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		adapter: ad,
		dir:     dir,
		relay:   relaySvc,
		roster:  view,
		router:  rt,
		maint:   maint,
		updates: make(chan kit.Update, 256),
	}
	a.ops = ops.New(mapOpsConfig(cfg), ops.Sources{
		Relay:       relaySvc.Stats,
		Recipients:  dir.Len,
		Maintenance: maint.Status,
		Supervisors: a.supervisorCounters,
		Bus:         bus,
	}, root.With(logx.String("comp", "ops")))
	return a, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validateMapped(cfg)
	})

	runCtx := a.sup.Context()
	if err := a.relay.Start(runCtx); err != nil {
		return err
	}
	if err := a.maint.Start(runCtx); err != nil {
		return err
	}
	a.ops.Start(runCtx)

	a.sup.Go("router.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.updates)
	})
	if err := a.adapter.Start(runCtx, a.updates); err != nil {
		return err
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Any("data", e.Data))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// coalesce bursts: keep only the latest config
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		a.sd.Watchdog(c, func() bool { return c.Err() == nil && a.sup.Err() == nil })
	})
	a.sd.Ready()

	a.log.Info("app started",
		logx.String("source", a.relay.SourceChannel()),
		logx.Int("recipients", a.dir.Len()),
		logx.String("bot", a.adapter.Self()),
	)
	return nil
}

// applyConfig fans a committed config out to every component.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	a.sd.Reloading()
	defer a.sd.Ready()

	if slices.Contains(sections, "storage") {
		a.log.Warn("storage config changed; restart required for changes to take effect")
	}
	if slices.Contains(sections, "telegram") && prev.Telegram.Token != next.Telegram.Token {
		a.log.Warn("telegram token changed; restart required for changes to take effect")
	}

	// log target first so Apply does not warn when Telegram logging is enabled
	a.logs.SetTelegramTarget(logTarget(next), next.Logging.Telegram.ThreadID)
	a.logs.Apply(mapLogConfig(next))

	a.router.SetAdmins(next.Telegram.AdminUserIDs)
	if rc, err := mapRelayConfig(next); err != nil {
		a.log.Warn("invalid relay config; keeping previous", logx.Err(err))
	} else {
		a.relay.Apply(rc)
	}
	if rc, err := mapRosterConfig(next); err != nil {
		a.log.Warn("invalid roster config; keeping previous", logx.Err(err))
	} else {
		a.roster.Apply(rc)
	}
	if err := a.maint.Apply(mapMaintenanceConfig(next)); err != nil {
		a.log.Warn("maintenance reschedule failed", logx.Err(err))
	}
	a.ops.Reconfigure(ctx, mapOpsConfig(next))

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) supervisorCounters() map[string]supervisor.Counters {
	out := map[string]supervisor.Counters{}
	add := func(name string, s *supervisor.Supervisor) {
		if s != nil {
			out[name] = s.Counters()
		}
	}
	add("app", a.sup)
	add("telegram.adapter", a.adapter.Supervisor())
	add("telegram.router", a.router.Supervisor())
	add("ops", a.ops.Supervisor())
	return out
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sd.Stopping()

	// stop intake first so nothing new reaches the relay
	a.step(ctx, "adapter", 3*time.Second, a.adapter.Stop)

	// cancel the app run context so background loops start unwinding
	a.sup.Cancel()

	a.step(ctx, "relay", 10*time.Second, a.relay.Stop)
	a.step(ctx, "maintenance", 2*time.Second, func(c context.Context) error { a.maint.Stop(c); return nil })
	a.step(ctx, "ops", 2*time.Second, func(c context.Context) error { a.ops.Stop(c); return nil })
	a.step(ctx, "supervisor", 3*time.Second, a.sup.Wait)
	a.step(ctx, "storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}

// step runs one shutdown step bounded by limit and the caller's deadline, so
// a stuck component cannot stall the whole stop.
func (a *App) step(ctx context.Context, name string, limit time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < limit {
			limit = rem
		}
	}
	if limit <= 0 {
		a.log.Warn("stop step skipped; deadline passed", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		took := time.Since(start)
		if took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		} else {
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
	}
}
