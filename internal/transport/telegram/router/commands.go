package router

import (
	"context"
	"runtime"
	"runtime/debug"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"relaybot/internal/eventbus"
	"relaybot/internal/roster"
	"relaybot/internal/runtime/supervisor"
	kit "relaybot/internal/transport"
	logx "relaybot/pkg/logx"
	"relaybot/pkg/tgui"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessAdminOnly
)

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Access      Access
	Timeout     time.Duration // optional per-command override
	Handle      HandlerFunc
}

// CallbackRoute handles inline-button presses whose data starts with Scope.
// The handler owns answering the callback; the router answers with an
// empty text when it did not.
type CallbackRoute struct {
	Scope   string
	Access  Access
	Timeout time.Duration
	Handle  HandlerFunc
}

type Request struct {
	Update  kit.Update
	Chat    kit.ChatTarget
	FromID  int64
	Command string // command name or "cb:<scope>:<action>"
	Args    []string
	Payload string // raw callback data
	ReqID   string
	Logger  logx.Logger

	answered bool
}

// Messenger is the part of the transport adapter the router talks through.
type Messenger interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
	EditMarkup(ctx context.Context, ref kit.MessageRef, opt *kit.SendOptions) error
	AnswerCallback(ctx context.Context, callbackID string, text string) error
}

// Registrar records a new recipient.
type Registrar interface {
	Add(ctx context.Context, id int64) (added bool, err error)
}

// PostHandler receives channel posts.
type PostHandler interface {
	OnInboundPost(ctx context.Context, msg *kit.Message)
	SourceChannel() string
}

type RosterView interface {
	RequestPage(ctx context.Context, callerID int64, page int) (roster.Page, error)
}

type Deps struct {
	Adapter   Messenger
	Directory Registrar
	Relay     PostHandler
	Roster    RosterView
	Bus       eventbus.Bus
	Logger    logx.Logger
	Admins    []int64

	// Workers bounds concurrent command handlers; <= 0 means NumCPU (min 2).
	Workers int
	// CommandRate and CommandBurst throttle commands per user; 0 disables.
	CommandRate  float64
	CommandBurst int
}

const (
	defaultQueueSize      = 256
	defaultCommandTimeout = 30 * time.Second
)

type Router struct {
	log     logx.Logger
	adapter Messenger
	dir     Registrar
	relay   PostHandler
	roster  RosterView
	bus     eventbus.Bus
	limiter *userLimiter
	workers int

	mu        sync.RWMutex
	commands  []Command
	byName    map[string]int // name or alias -> index in commands
	callbacks map[string]CallbackRoute
	admins    []int64

	runMu   sync.Mutex
	running bool
	sup     *supervisor.Supervisor

	jobs chan func()
}

func New(deps Deps) *Router {
	log := deps.Logger
	if log.IsZero() {
		log = logx.Nop()
	}
	workers := deps.Workers
	if workers <= 0 {
		workers = max(runtime.NumCPU(), 2)
	}
	r := &Router{
		log:     log,
		adapter: deps.Adapter,
		dir:     deps.Directory,
		relay:   deps.Relay,
		roster:  deps.Roster,
		bus:     deps.Bus,
		limiter: newUserLimiter(deps.CommandRate, deps.CommandBurst),
		workers: workers,
		admins:  slices.Clone(deps.Admins),
		jobs:    make(chan func(), defaultQueueSize),
	}
	r.SetRegistry(r.builtinCommands(), r.builtinCallbacks())
	return r
}

// Supervisor returns the worker pool supervisor (nil if not running).
func (r *Router) Supervisor() *supervisor.Supervisor {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	if !r.running {
		return nil
	}
	return r.sup
}

func (r *Router) setSupervisor(sup *supervisor.Supervisor, running bool) {
	r.runMu.Lock()
	r.sup = sup
	r.running = running
	r.runMu.Unlock()
}

// SetAdmins replaces the admin list used for AccessAdminOnly checks.
// Safe to call during hot-reload.
func (r *Router) SetAdmins(admins []int64) {
	cp := slices.Clone(admins)
	r.mu.Lock()
	r.admins = cp
	r.mu.Unlock()
}

func (r *Router) isAdmin(id int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Contains(r.admins, id)
}

// SetRegistry replaces the command and callback tables. Later entries win
// on name or alias collisions.
func (r *Router) SetRegistry(cmds []Command, cbs []CallbackRoute) {
	list := make([]Command, 0, len(cmds))
	byName := map[string]int{}
	for _, c := range cmds {
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if name == "" || c.Handle == nil {
			continue
		}
		c.Name = name
		list = append(list, c)
		idx := len(list) - 1
		byName[name] = idx
		for _, a := range c.Aliases {
			if a = strings.ToLower(strings.TrimSpace(a)); a != "" {
				byName[a] = idx
			}
		}
	}

	cb := map[string]CallbackRoute{}
	for _, route := range cbs {
		scope := strings.TrimSpace(route.Scope)
		if scope == "" || route.Handle == nil {
			continue
		}
		cb[scope] = route
	}

	r.mu.Lock()
	r.commands = list
	r.byName = byName
	r.callbacks = cb
	r.mu.Unlock()
}

func (r *Router) lookup(word string) (Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.byName[strings.ToLower(word)]
	if !ok {
		return Command{}, false
	}
	return r.commands[i], true
}

func (r *Router) registry() []Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.commands)
}

// tryEnqueue is a panic-safe enqueue helper (handles the jobs channel being closed).
func (r *Router) tryEnqueue(fn func()) (ok bool) {
	if fn == nil {
		return false
	}
	defer func() {
		if rec := recover(); rec != nil {
			ok = false
		}
	}()
	select {
	case r.jobs <- fn:
		return true
	default:
		return false
	}
}

// DispatchLoop routes updates until ctx is done or updates is closed.
// Commands and callbacks run on a bounded worker pool; channel posts are
// handed to the relay inline so album parts keep their arrival order.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	sup := supervisor.New(ctx,
		supervisor.WithLogger(r.log.With(logx.String("comp", "telegram.router"))),
		supervisor.WithCancelOnError(false),
	)
	r.setSupervisor(sup, true)
	r.log.Info("command dispatcher started", logx.Int("workers", r.workers), logx.Int("job_queue_cap", cap(r.jobs)))

	r.publishMenu(sup)

	var closeOnce sync.Once
	closeJobs := func() {
		closeOnce.Do(func() {
			r.setSupervisor(sup, false)
			close(r.jobs)
		})
	}

	for i := 0; i < r.workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-r.jobs:
					if !ok {
						return nil
					}
					if job == nil {
						continue
					}
					func() {
						defer func() {
							if rec := recover(); rec != nil {
								r.log.Error("panic in command job", logx.Int("worker", idx), logx.Any("panic", rec), logx.String("stack", string(debug.Stack())))
							}
						}()
						job()
					}()
				}
			}
		},
			supervisor.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			supervisor.WithStopOnCleanExit(true),
		)
	}

	defer func() {
		closeJobs()
		// let queued handlers drain
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		sup.Cancel()
		r.setSupervisor(nil, false)
		r.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				r.log.Info("updates channel closed")
				return nil
			}
			r.routeUpdate(ctx, up)
		}
	}
}

func (r *Router) publishMenu(sup *supervisor.Supervisor) {
	up, ok := r.adapter.(kit.CommandMenuUpdater)
	if !ok {
		return
	}
	menu := buildMenuCommands(r.registry())
	sup.Go0("telegram.menu.update", func(ctx context.Context) {
		cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := up.UpdateMenuCommands(cctx, menu); err != nil {
			r.log.Warn("menu update failed", logx.Err(err))
		}
	})
}

func (r *Router) routeUpdate(ctx context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateChannelPost:
		if up.Message != nil && r.relay != nil {
			r.relay.OnInboundPost(ctx, up.Message)
		}
	case kit.UpdateMessage:
		r.routeMessage(ctx, up)
	case kit.UpdateCallback:
		r.routeCallback(ctx, up)
	}
}

func (r *Router) routeMessage(ctx context.Context, up kit.Update) {
	msg := up.Message
	if msg == nil {
		return
	}
	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, "/") {
		return
	}
	parts := strings.Fields(text)
	word := strings.TrimPrefix(parts[0], "/")
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	cmd, ok := r.lookup(word)
	if !ok {
		r.log.Debug("unknown command", logx.String("cmd", word), logx.Int64("from_id", msg.FromID))
		return
	}

	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
	if cmd.Access == AccessAdminOnly && !r.isAdmin(msg.FromID) {
		r.log.Debug("admin command from non-admin ignored", logx.String("cmd", cmd.Name), logx.Int64("from_id", msg.FromID))
		return
	}

	req := r.newRequest(up, chat, msg.FromID, cmd.Name)
	req.Args = parts[1:]

	final := Chain(
		cmd.Handle,
		MWPanicRecover(r.log),
		MWRequestLog(r.log),
		MWUserRateLimit(r.limiter),
		MWTimeout(orDefault(cmd.Timeout)),
	)
	if !r.tryEnqueue(func() { _ = final(ctx, req) }) {
		_, _ = r.adapter.SendText(ctx, chat, "Busy, try again in a moment.", nil)
	}
}

func (r *Router) routeCallback(ctx context.Context, up kit.Update) {
	cb := up.Callback
	if cb == nil {
		return
	}
	scope, action, _, ok := tgui.ParseData(cb.Data)
	if !ok {
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "")
		return
	}
	r.mu.RLock()
	route, ok := r.callbacks[scope]
	r.mu.RUnlock()
	if !ok {
		r.log.Debug("callback without route", logx.String("data", cb.Data))
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "")
		return
	}
	if route.Access == AccessAdminOnly && !r.isAdmin(cb.FromID) {
		_ = r.adapter.AnswerCallback(ctx, cb.ID, deniedText)
		return
	}

	req := r.newRequest(up, kit.ChatTarget{ChatID: cb.ChatID, ThreadID: cb.ThreadID}, cb.FromID, "cb:"+scope+":"+action)
	req.Payload = cb.Data

	final := Chain(
		route.Handle,
		MWPanicRecover(r.log),
		MWRequestLog(r.log),
		MWTimeout(orDefault(route.Timeout)),
	)
	if !r.tryEnqueue(func() {
		_ = final(ctx, req)
		if !req.answered {
			// stops the client's loading indicator
			_ = r.adapter.AnswerCallback(ctx, cb.ID, "")
		}
	}) {
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "Busy, try again")
	}
}

func (r *Router) newRequest(up kit.Update, chat kit.ChatTarget, from int64, command string) *Request {
	rid := uuid.NewString()
	return &Request{
		Update:  up,
		Chat:    chat,
		FromID:  from,
		Command: command,
		ReqID:   rid,
		Logger: r.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", chat.ChatID),
			logx.Int64("from_id", from),
			logx.String("cmd", command),
		),
	}
}

// answer replies to the callback behind req once.
func (r *Router) answer(ctx context.Context, req *Request, text string) error {
	if req.Update.Callback == nil || req.answered {
		return nil
	}
	req.answered = true
	return r.adapter.AnswerCallback(ctx, req.Update.Callback.ID, text)
}

func orDefault(d time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return defaultCommandTimeout
}
