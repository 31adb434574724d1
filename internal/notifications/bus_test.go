package notifications

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"wayleave/internal/kv"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestToastsExpireIndependently(t *testing.T) {
	bus := NewBus(context.Background(), testLogger(), kv.NewMemoryStore(), WithToastTTL(200*time.Millisecond))
	defer bus.Close()

	first := bus.Success("saved")
	time.Sleep(100 * time.Millisecond)
	second := bus.Success("saved")

	assert.NotEqual(t, first.ID, second.ID)
	toasts := bus.Toasts()
	require.Len(t, toasts, 2)
	assert.Equal(t, first.ID, toasts[0].ID)
	assert.Equal(t, second.ID, toasts[1].ID)

	assert.Eventually(t, func() bool {
		toasts := bus.Toasts()
		return len(toasts) == 1 && toasts[0].ID == second.ID
	}, time.Second, 5*time.Millisecond)

	assert.Eventually(t, func() bool {
		return len(bus.Toasts()) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestToastSeverities(t *testing.T) {
	bus := NewBus(context.Background(), testLogger(), nil)
	defer bus.Close()

	assert.Equal(t, SeverityError, bus.Error("boom").Severity)
	assert.Equal(t, SeverityInfo, bus.Info("fyi").Severity)
	assert.Equal(t, SeveritySuccess, bus.Success("ok").Severity)
}

func TestNotificationLogNewestFirstAndPersisted(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	bus := NewBus(ctx, testLogger(), store)
	defer bus.Close()

	bus.Add(ctx, "first")
	bus.Add(ctx, "second")

	log := bus.Notifications()
	require.Len(t, log, 2)
	assert.Equal(t, "second", log[0].Message)
	assert.Equal(t, "first", log[1].Message)
	assert.Equal(t, 2, bus.UnreadCount())

	data, err := store.Get(ctx, DefaultLogKey)
	require.NoError(t, err)
	var stored []Notification
	require.NoError(t, json.Unmarshal(data, &stored))
	assert.Len(t, stored, 2)

	reloaded := NewBus(ctx, testLogger(), store)
	defer reloaded.Close()
	assert.Equal(t, "second", reloaded.Notifications()[0].Message)
	assert.Equal(t, 2, reloaded.UnreadCount())
}

func TestMarkAllReadIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	bus := NewBus(ctx, testLogger(), store)
	defer bus.Close()

	bus.Add(ctx, "a")
	bus.Add(ctx, "b")

	bus.MarkAllRead(ctx)
	assert.Equal(t, 0, bus.UnreadCount())
	bus.MarkAllRead(ctx)
	assert.Equal(t, 0, bus.UnreadCount())
	assert.Len(t, bus.Notifications(), 2)

	reloaded := NewBus(ctx, testLogger(), store)
	defer reloaded.Close()
	assert.Equal(t, 0, reloaded.UnreadCount())
}

func TestCorruptLogStartsEmpty(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	require.NoError(t, store.Set(ctx, DefaultLogKey, []byte("not json")))

	bus := NewBus(ctx, testLogger(), store)
	defer bus.Close()
	assert.Empty(t, bus.Notifications())
}

func TestSubscribeNotifications(t *testing.T) {
	ctx := context.Background()
	bus := NewBus(ctx, testLogger(), nil)
	defer bus.Close()

	var counts []int
	cancel := bus.SubscribeNotifications(func(n []Notification) { counts = append(counts, len(n)) })
	defer cancel()

	bus.Add(ctx, "x")
	bus.Add(ctx, "y")
	assert.Equal(t, []int{1, 2}, counts)
}
