// Package roster renders the paginated recipient list shown to admins.
//
// The view is stateless: the page index travels in the callback token of
// the navigation buttons.
package roster

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"relaybot/internal/transport"
	logx "relaybot/pkg/logx"
	"relaybot/pkg/tgui"
)

var ErrAccessDenied = errors.New("access denied")

const (
	DefaultPageSize       = 6
	DefaultResolveTimeout = 5 * time.Second
	DefaultResolveWorkers = 4
)

// Resolver looks up chat metadata for a recipient id.
type Resolver interface {
	ChatInfo(ctx context.Context, chatID int64) (transport.ChatInfo, error)
}

type Recipients interface {
	Snapshot() []int64
}

type Config struct {
	PageSize       int
	ResolveTimeout time.Duration
	ResolveWorkers int
	Admins         []int64
}

func (c Config) withDefaults() Config {
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	if c.ResolveTimeout <= 0 {
		c.ResolveTimeout = DefaultResolveTimeout
	}
	if c.ResolveWorkers <= 0 {
		c.ResolveWorkers = DefaultResolveWorkers
	}
	c.Admins = slices.Clone(c.Admins)
	return c
}

// Entry is one resolved recipient.
type Entry struct {
	Name string
	ID   int64
}

// Page is a derived view; nothing about it is stored.
type Page struct {
	Items   []Entry
	Index   int
	Size    int
	Total   int // resolved recipients across all pages
	HasPrev bool
	HasNext bool
}

type View struct {
	recipients Recipients
	resolver   Resolver
	log        logx.Logger

	cfg atomic.Pointer[Config]
}

func New(recipients Recipients, resolver Resolver, cfg Config, log logx.Logger) *View {
	if log.IsZero() {
		log = logx.Nop()
	}
	v := &View{recipients: recipients, resolver: resolver, log: log}
	v.Apply(cfg)
	return v
}

func (v *View) Apply(cfg Config) {
	c := cfg.withDefaults()
	v.cfg.Store(&c)
}

func (v *View) IsAdmin(id int64) bool {
	return slices.Contains(v.cfg.Load().Admins, id)
}

// RequestPage renders page for callerID, or returns ErrAccessDenied without
// touching the directory or the resolver.
func (v *View) RequestPage(ctx context.Context, callerID int64, page int) (Page, error) {
	if !v.IsAdmin(callerID) {
		return Page{}, ErrAccessDenied
	}
	return v.RenderPage(ctx, page), nil
}

// RenderPage resolves every recipient, then slices out page. Recipients whose
// lookup fails are left out of the listing.
func (v *View) RenderPage(ctx context.Context, page int) Page {
	cfg := *v.cfg.Load()
	if page < 0 {
		page = 0
	}
	entries := v.resolveAll(ctx, v.recipients.Snapshot(), cfg)
	items, hasPrev, hasNext := tgui.PaginateSlice(entries, page, cfg.PageSize)
	return Page{
		Items:   slices.Clone(items),
		Index:   page,
		Size:    cfg.PageSize,
		Total:   len(entries),
		HasPrev: hasPrev,
		HasNext: hasNext,
	}
}

// resolveAll looks names up concurrently but keeps directory order.
func (v *View) resolveAll(ctx context.Context, ids []int64, cfg Config) []Entry {
	resolved := make([]*Entry, len(ids))
	var g errgroup.Group
	g.SetLimit(cfg.ResolveWorkers)
	for i, id := range ids {
		g.Go(func() error {
			rctx, cancel := context.WithTimeout(ctx, cfg.ResolveTimeout)
			defer cancel()
			info, err := v.resolver.ChatInfo(rctx, id)
			if err != nil {
				v.log.Warn("recipient lookup failed", logx.Int64("recipient", id), logx.Err(err))
				return nil
			}
			resolved[i] = &Entry{Name: DisplayName(id, info), ID: id}
			return nil
		})
	}
	_ = g.Wait()

	out := make([]Entry, 0, len(ids))
	for _, e := range resolved {
		if e != nil {
			out = append(out, *e)
		}
	}
	return out
}

// DisplayName prefers the username, then the first name, then "User <id>".
func DisplayName(id int64, info transport.ChatInfo) string {
	if u := strings.TrimSpace(info.Username); u != "" {
		return u
	}
	if f := strings.TrimSpace(info.FirstName); f != "" {
		return f
	}
	return fmt.Sprintf("User %d", id)
}
