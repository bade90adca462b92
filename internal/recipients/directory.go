// Package recipients holds the set of registered recipient chat ids.
package recipients

import (
	"context"
	"fmt"
	"sync"
	"time"

	"relaybot/internal/storage"
	logx "relaybot/pkg/logx"
)

// Directory is an ordered, duplicate-free set of recipient ids backed by a
// durable store. Enumeration order is registration order.
type Directory struct {
	store storage.Store
	log   logx.Logger
	now   func() time.Time

	mu   sync.RWMutex
	ids  []int64
	seen map[int64]struct{}
}

// Load builds a Directory from the ids already persisted in store.
func Load(ctx context.Context, store storage.Store, log logx.Logger) (*Directory, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	ids, err := store.LoadRecipients(ctx)
	if err != nil {
		return nil, fmt.Errorf("load recipients: %w", err)
	}
	d := &Directory{
		store: store,
		log:   log,
		now:   time.Now,
		seen:  make(map[int64]struct{}, len(ids)),
	}
	for _, id := range ids {
		if _, ok := d.seen[id]; ok {
			continue
		}
		d.seen[id] = struct{}{}
		d.ids = append(d.ids, id)
	}
	log.Info("recipients loaded", logx.Int("count", len(d.ids)))
	return d, nil
}

// Add registers id. It persists first, so a failed write leaves the
// in-memory set unchanged. added is false when id was already present.
func (d *Directory) Add(ctx context.Context, id int64) (added bool, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[id]; ok {
		return false, nil
	}
	if err := d.store.AddRecipient(ctx, id, d.now()); err != nil {
		return false, fmt.Errorf("persist recipient %d: %w", id, err)
	}
	d.seen[id] = struct{}{}
	d.ids = append(d.ids, id)
	return true, nil
}

func (d *Directory) Contains(id int64) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.seen[id]
	return ok
}

// Snapshot returns a copy of the ids in enumeration order. Later additions
// never show up in a snapshot already taken.
func (d *Directory) Snapshot() []int64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]int64(nil), d.ids...)
}

func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.ids)
}
