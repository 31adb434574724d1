package daemon

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"wayleave/internal/model"
	"wayleave/internal/util"

	"github.com/stretchr/testify/assert"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestManager() *DaemonManager {
	m := NewDaemonManager(testLogger())
	m.restartDelay = time.Millisecond
	return m
}

func TestDaemonRestartsAfterError(t *testing.T) {
	m := newTestManager()

	var runs atomic.Int32
	m.Add("flaky", func(ctx context.Context, name string) error {
		if runs.Add(1) < 3 {
			return errors.New("connection reset")
		}
		return nil
	})

	m.Start(context.Background())
	m.Wait()

	assert.Equal(t, int32(3), runs.Load())
}

func TestDaemonRestartsAfterPanic(t *testing.T) {
	m := newTestManager()

	var runs atomic.Int32
	m.Add("panicky", func(ctx context.Context, name string) error {
		if runs.Add(1) == 1 {
			panic("nil map")
		}
		return nil
	})

	m.Start(context.Background())
	m.Wait()

	assert.Equal(t, int32(2), runs.Load())
}

func TestDaemonStopsOnShutdown(t *testing.T) {
	m := newTestManager()
	ctx, cancel := context.WithCancel(context.Background())

	m.Add("blocking", func(ctx context.Context, name string) error {
		<-ctx.Done()
		return ctx.Err()
	})
	m.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		m.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("daemon did not stop")
	}
}

type countingSyncer struct {
	calls atomic.Int32
	err   error
}

func (s *countingSyncer) Sync(context.Context) error {
	s.calls.Add(1)
	return s.err
}

type staticSession struct {
	session util.Optional[model.Session]
}

func (s staticSession) Current() util.Optional[model.Session] {
	return s.session
}

func TestRecordSyncTaskReloadsWhileSignedIn(t *testing.T) {
	syncer := &countingSyncer{err: errors.New("timeout")}
	sessions := staticSession{session: util.Some(model.Session{UserID: "u1"})}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- RecordSyncTask(testLogger(), syncer, sessions, 5*time.Millisecond)(ctx, "record-sync")
	}()

	assert.Eventually(t, func() bool { return syncer.calls.Load() >= 2 }, time.Second, time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
}

func TestRecordSyncTaskSkipsWhenSignedOut(t *testing.T) {
	syncer := &countingSyncer{}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := RecordSyncTask(testLogger(), syncer, staticSession{}, 5*time.Millisecond)(ctx, "record-sync")

	assert.NoError(t, err)
	assert.Zero(t, syncer.calls.Load())
}

type listenerFunc func(ctx context.Context) error

func (f listenerFunc) Listen(ctx context.Context) error { return f(ctx) }

func TestListenTask(t *testing.T) {
	boom := errors.New("conn closed")
	err := ListenTask(testLogger(), listenerFunc(func(context.Context) error { return boom }))(context.Background(), "auth-events")
	assert.ErrorIs(t, err, boom)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = ListenTask(testLogger(), listenerFunc(func(ctx context.Context) error { return ctx.Err() }))(ctx, "auth-events")
	assert.NoError(t, err)
}
