package maintenance

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relaybot/internal/storage"
	logx "relaybot/pkg/logx"
)

type countingCompactor struct {
	calls atomic.Int32
	err   error
	hold  chan struct{}
}

func (c *countingCompactor) Compact(ctx context.Context) error {
	c.calls.Add(1)
	if c.hold != nil {
		select {
		case <-c.hold:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return c.err
}

func TestRunNowRecordsOutcome(t *testing.T) {
	cc := &countingCompactor{err: errors.New("disk full")}
	s := New(Config{Enabled: true}, cc, logx.Nop())

	err := s.RunNow(context.Background())
	require.EqualError(t, err, "disk full")

	st := s.Status()
	assert.Equal(t, uint64(1), st.Runs)
	assert.Equal(t, uint64(1), st.Failures)
	assert.Equal(t, "disk full", st.LastErr)
	assert.False(t, st.LastRun.IsZero())

	cc.err = nil
	require.NoError(t, s.RunNow(context.Background()))
	st = s.Status()
	assert.Equal(t, uint64(2), st.Runs)
	assert.Empty(t, st.LastErr)
}

func TestRunNowDoesNotOverlap(t *testing.T) {
	cc := &countingCompactor{hold: make(chan struct{})}
	s := New(Config{Enabled: true}, cc, logx.Nop())

	done := make(chan error, 1)
	go func() { done <- s.RunNow(context.Background()) }()
	require.Eventually(t, func() bool { return cc.calls.Load() == 1 }, time.Second, time.Millisecond)

	assert.ErrorIs(t, s.RunNow(context.Background()), ErrBusy)
	close(cc.hold)
	require.NoError(t, <-done)
	assert.Equal(t, int32(1), cc.calls.Load())
}

func TestRunNowWithoutCompactor(t *testing.T) {
	s := New(Config{Enabled: true}, nil, logx.Nop())
	assert.ErrorIs(t, s.RunNow(context.Background()), storage.ErrDisabled)

	require.NoError(t, s.Start(context.Background()))
	assert.False(t, s.Status().Enabled)
	s.Stop(context.Background())
}

func TestScheduledCompaction(t *testing.T) {
	cc := &countingCompactor{}
	s := New(Config{Enabled: true, CompactSchedule: "@every 1s"}, cc, logx.Nop())
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background())

	st := s.Status()
	assert.True(t, st.Enabled)
	assert.Equal(t, "@every 1s", st.Schedule)
	assert.False(t, st.Next.IsZero())

	require.Eventually(t, func() bool { return cc.calls.Load() >= 1 }, 3*time.Second, 20*time.Millisecond)
}

func TestApplyReschedules(t *testing.T) {
	cc := &countingCompactor{}
	s := New(Config{Enabled: false}, cc, logx.Nop())
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background())
	assert.False(t, s.Status().Enabled)

	require.NoError(t, s.Apply(Config{Enabled: true, CompactSchedule: "0 3 * * *", Timezone: "UTC"}))
	st := s.Status()
	assert.True(t, st.Enabled)
	assert.Equal(t, 3, st.Next.UTC().Hour())

	assert.Error(t, s.Apply(Config{Enabled: true, CompactSchedule: "not a cron"}))
	assert.False(t, s.Status().Enabled)
}

func TestDefaults(t *testing.T) {
	c := Config{}.withDefaults()
	assert.Equal(t, DefaultCompactSchedule, c.CompactSchedule)
	assert.Equal(t, DefaultJobTimeout, c.JobTimeout)
}
