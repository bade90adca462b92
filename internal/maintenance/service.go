// Package maintenance runs cron-scheduled housekeeping for the recipient
// store.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"relaybot/internal/storage"
	logx "relaybot/pkg/logx"
)

const (
	DefaultCompactSchedule = "@every 6h"
	DefaultJobTimeout      = 2 * time.Minute
)

// ErrBusy is returned by RunNow while a compaction is already running.
var ErrBusy = errors.New("compaction already running")

type Config struct {
	Enabled         bool
	CompactSchedule string
	Timezone        string
	JobTimeout      time.Duration
}

func (c Config) withDefaults() Config {
	c.CompactSchedule = strings.TrimSpace(c.CompactSchedule)
	if c.CompactSchedule == "" {
		c.CompactSchedule = DefaultCompactSchedule
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = DefaultJobTimeout
	}
	return c
}

// Status is reported on the ops endpoint.
type Status struct {
	Enabled  bool      `json:"enabled"`
	Schedule string    `json:"schedule,omitempty"`
	Next     time.Time `json:"next,omitempty"`
	Runs     uint64    `json:"runs"`
	Failures uint64    `json:"failures"`
	LastRun  time.Time `json:"last_run,omitempty"`
	LastErr  string    `json:"last_err,omitempty"`
}

// Service triggers storage compaction on a cron schedule. Runs never
// overlap; a tick that lands during a run is skipped.
type Service struct {
	log       logx.Logger
	compactor storage.Compactor

	mu      sync.Mutex
	cfg     Config
	c       *cron.Cron
	entry   cron.EntryID
	baseCtx context.Context
	cancel  context.CancelFunc

	timeout  atomic.Int64 // job timeout in ns; read by running jobs without mu
	running  atomic.Bool
	runs     atomic.Uint64
	failures atomic.Uint64
	lastRun  atomic.Pointer[time.Time]
	lastErr  atomic.Pointer[string]
}

// New returns a service for compactor. A nil compactor (store without
// compaction) yields a service that never schedules anything.
func New(cfg Config, compactor storage.Compactor, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{log: log, compactor: compactor, cfg: cfg.withDefaults()}
	s.timeout.Store(int64(s.cfg.JobTimeout))
	return s
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	s.baseCtx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	return s.startLocked()
}

func (s *Service) startLocked() error {
	cfg := s.cfg
	if !cfg.Enabled || s.compactor == nil {
		s.log.Debug("maintenance disabled", logx.Bool("enabled", cfg.Enabled), logx.Bool("compactable", s.compactor != nil))
		return nil
	}
	loc, err := loadLocation(cfg.Timezone)
	if err != nil {
		return err
	}
	c := cron.New(cron.WithLocation(loc))
	base := s.baseCtx
	id, err := c.AddFunc(cfg.CompactSchedule, func() { s.tick(base) })
	if err != nil {
		return fmt.Errorf("maintenance: compact schedule %q: %w", cfg.CompactSchedule, err)
	}
	c.Start()
	s.c, s.entry = c, id
	s.log.Info("maintenance started", logx.String("schedule", cfg.CompactSchedule), logx.String("tz", loc.String()))
	return nil
}

func (s *Service) stopLocked(ctx context.Context) {
	if s.c == nil {
		return
	}
	select {
	case <-s.c.Stop().Done():
	case <-ctx.Done():
	}
	s.c = nil
	s.entry = 0
}

// Stop halts scheduling, cancels a running compaction and waits for it
// until ctx is done.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	s.stopLocked(ctx)
	s.log.Info("maintenance stopped")
}

// Apply reschedules when the schedule, timezone or enabled flag changed.
func (s *Service) Apply(cfg Config) error {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.cfg
	s.cfg = cfg
	s.timeout.Store(int64(cfg.JobTimeout))
	if s.baseCtx == nil {
		return nil
	}
	if old.Enabled == cfg.Enabled && old.CompactSchedule == cfg.CompactSchedule && old.Timezone == cfg.Timezone {
		return nil
	}
	s.stopLocked(context.Background())
	return s.startLocked()
}

func (s *Service) tick(ctx context.Context) {
	if err := s.RunNow(ctx); errors.Is(err, ErrBusy) {
		s.log.Warn("compaction skipped; previous run still active")
	}
}

// RunNow compacts the store immediately, bounded by the job timeout.
func (s *Service) RunNow(ctx context.Context) error {
	if s.compactor == nil {
		return storage.ErrDisabled
	}
	if !s.running.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer s.running.Store(false)

	cctx, cancel := context.WithTimeout(ctx, time.Duration(s.timeout.Load()))
	defer cancel()

	start := time.Now()
	err := s.compactor.Compact(cctx)
	s.runs.Add(1)
	s.lastRun.Store(&start)
	msg := ""
	if err != nil {
		s.failures.Add(1)
		msg = err.Error()
		s.log.Error("compaction failed", logx.Err(err), logx.Duration("took", time.Since(start)))
	} else {
		s.log.Info("compaction done", logx.Duration("took", time.Since(start)))
	}
	s.lastErr.Store(&msg)
	return err
}

func (s *Service) Status() Status {
	s.mu.Lock()
	st := Status{Enabled: s.c != nil}
	if s.c != nil {
		st.Schedule = s.cfg.CompactSchedule
		st.Next = s.c.Entry(s.entry).Next
	}
	s.mu.Unlock()

	st.Runs = s.runs.Load()
	st.Failures = s.failures.Load()
	if t := s.lastRun.Load(); t != nil {
		st.LastRun = *t
	}
	if e := s.lastErr.Load(); e != nil {
		st.LastErr = *e
	}
	return st
}

func loadLocation(tz string) (*time.Location, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("maintenance: timezone %q: %w", tz, err)
	}
	return loc, nil
}
