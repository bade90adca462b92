package storage

import (
	"context"
	"sync"
	"time"
)

// Memory is a process-local Store.
type Memory struct {
	mu     sync.Mutex
	ids    []int64
	seen   map[int64]struct{}
	closed bool
}

func NewMemory(ids ...int64) *Memory {
	m := &Memory{seen: make(map[int64]struct{}, len(ids))}
	for _, id := range ids {
		_ = m.AddRecipient(context.Background(), id, time.Time{})
	}
	return m
}

func (m *Memory) LoadRecipients(ctx context.Context) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	return append([]int64(nil), m.ids...), nil
}

func (m *Memory) AddRecipient(ctx context.Context, id int64, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if _, ok := m.seen[id]; ok {
		return nil
	}
	m.seen[id] = struct{}{}
	m.ids = append(m.ids, id)
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
