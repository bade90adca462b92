package app

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/stretchr/testify/assert"

	logx "relaybot/pkg/logx"
)

func TestSDNotifierSendsStates(t *testing.T) {
	var states []string
	n := &sdNotifier{log: logx.Nop(), notify: func(_ bool, state string) (bool, error) {
		states = append(states, state)
		return true, nil
	}}
	n.Ready()
	n.Reloading()
	n.Stopping()
	assert.Equal(t, []string{daemon.SdNotifyReady, daemon.SdNotifyReloading, daemon.SdNotifyStopping}, states)
}

func TestSDNotifierLogsFailure(t *testing.T) {
	var buf bytes.Buffer
	n := &sdNotifier{log: logx.NewWriter(&buf, "debug"), notify: func(bool, string) (bool, error) {
		return false, errors.New("socket gone")
	}}
	n.Ready()
	assert.Contains(t, buf.String(), "sd_notify failed")
	assert.Contains(t, buf.String(), "socket gone")
}

func TestStepBoundsStuckComponent(t *testing.T) {
	a := &App{log: logx.Nop()}
	start := time.Now()
	a.step(context.Background(), "stuck", 30*time.Millisecond, func(ctx context.Context) error {
		time.Sleep(time.Second)
		return nil
	})
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestStepRecoversPanic(t *testing.T) {
	var buf bytes.Buffer
	a := &App{log: logx.NewWriter(&buf, "debug")}
	a.step(context.Background(), "boom", time.Second, func(context.Context) error { panic("bad") })
	assert.Contains(t, buf.String(), "panic in stop step boom")
}

func TestStepSkippedAfterDeadline(t *testing.T) {
	var buf bytes.Buffer
	a := &App{log: logx.NewWriter(&buf, "debug")}
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	called := false
	a.step(ctx, "late", time.Second, func(context.Context) error { called = true; return nil })
	assert.False(t, called)
	assert.Contains(t, buf.String(), "deadline passed")
}

func TestDoneWithoutStart(t *testing.T) {
	a := &App{log: logx.Nop()}
	select {
	case <-a.Done():
	default:
		t.Fatal("Done must be closed before Start")
	}
	assert.NoError(t, a.Err())
	assert.NoError(t, a.Stop(context.Background(), StopSignal))
}
