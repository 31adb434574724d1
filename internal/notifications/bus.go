package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"wayleave/internal/kv"
	"wayleave/internal/state"

	"github.com/google/uuid"
)

const (
	DefaultToastTTL = 5 * time.Second
	DefaultLogKey   = "appNotifications"
)

// Bus owns the transient toast queue and the persisted notification log.
type Bus struct {
	logger   *slog.Logger
	store    kv.Store
	logKey   string
	toastTTL time.Duration
	now      func() time.Time

	toasts        *state.Cell[[]Toast]
	notifications *state.Cell[[]Notification]

	// persistMu serialises log mutations with their writes so the stored
	// log never goes backwards.
	persistMu sync.Mutex
	timersMu  sync.Mutex
	timers    map[string]*time.Timer
	closed    bool
}

type Option func(*Bus)

func WithToastTTL(ttl time.Duration) Option {
	return func(b *Bus) {
		if ttl > 0 {
			b.toastTTL = ttl
		}
	}
}

func WithLogKey(key string) Option {
	return func(b *Bus) {
		if key != "" {
			b.logKey = key
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(b *Bus) {
		if now != nil {
			b.now = now
		}
	}
}

// NewBus creates a bus and loads the persisted notification log from store.
// A missing or unreadable log starts empty.
func NewBus(ctx context.Context, logger *slog.Logger, store kv.Store, opts ...Option) *Bus {
	b := &Bus{
		logger:        logger,
		store:         store,
		logKey:        DefaultLogKey,
		toastTTL:      DefaultToastTTL,
		now:           time.Now,
		toasts:        state.NewCell([]Toast{}),
		notifications: state.NewCell([]Notification{}),
		timers:        make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(b)
	}

	if stored, err := b.load(ctx); err != nil {
		b.logger.Warn("Failed to load notification log", "error", err)
	} else {
		b.notifications.Set(stored)
	}

	return b
}

func (b *Bus) load(ctx context.Context) ([]Notification, error) {
	if b.store == nil {
		return []Notification{}, nil
	}
	data, err := b.store.Get(ctx, b.logKey)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return []Notification{}, nil
		}
		return nil, err
	}

	var stored []Notification
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("failed to decode notification log: %w", err)
	}
	return stored, nil
}

// Show appends a toast and schedules its removal.
func (b *Bus) Show(message string, severity Severity) Toast {
	toast := Toast{
		ID:        uuid.NewString(),
		Message:   message,
		Severity:  severity,
		CreatedAt: b.now(),
	}
	b.toasts.Update(func(current []Toast) []Toast {
		return append(slices.Clone(current), toast)
	})

	b.timersMu.Lock()
	if !b.closed {
		b.timers[toast.ID] = time.AfterFunc(b.toastTTL, func() { b.dismiss(toast.ID) })
	}
	b.timersMu.Unlock()

	return toast
}

func (b *Bus) Success(message string) Toast { return b.Show(message, SeveritySuccess) }
func (b *Bus) Error(message string) Toast   { return b.Show(message, SeverityError) }
func (b *Bus) Info(message string) Toast    { return b.Show(message, SeverityInfo) }

func (b *Bus) dismiss(id string) {
	b.timersMu.Lock()
	delete(b.timers, id)
	b.timersMu.Unlock()

	b.toasts.Update(func(current []Toast) []Toast {
		return slices.DeleteFunc(slices.Clone(current), func(t Toast) bool { return t.ID == id })
	})
}

// Toasts returns the visible toasts in insertion order.
func (b *Bus) Toasts() []Toast {
	return slices.Clone(b.toasts.Get())
}

func (b *Bus) SubscribeToasts(fn func([]Toast)) func() {
	return b.toasts.Subscribe(fn)
}

// Add prepends a notification to the log and persists it.
func (b *Bus) Add(ctx context.Context, message string) Notification {
	n := Notification{
		ID:        uuid.NewString(),
		Message:   message,
		Timestamp: b.now(),
		Read:      false,
	}

	b.persistMu.Lock()
	defer b.persistMu.Unlock()

	updated := b.notifications.Update(func(current []Notification) []Notification {
		return append([]Notification{n}, current...)
	})
	b.persist(ctx, updated)
	return n
}

// MarkAllRead flags every notification as read and persists the log.
func (b *Bus) MarkAllRead(ctx context.Context) {
	b.persistMu.Lock()
	defer b.persistMu.Unlock()

	updated := b.notifications.Update(func(current []Notification) []Notification {
		next := slices.Clone(current)
		for i := range next {
			next[i].Read = true
		}
		return next
	})
	b.persist(ctx, updated)
}

// Notifications returns the log, newest first.
func (b *Bus) Notifications() []Notification {
	return slices.Clone(b.notifications.Get())
}

func (b *Bus) UnreadCount() int {
	count := 0
	for _, n := range b.notifications.Get() {
		if !n.Read {
			count++
		}
	}
	return count
}

func (b *Bus) SubscribeNotifications(fn func([]Notification)) func() {
	return b.notifications.Subscribe(fn)
}

func (b *Bus) persist(ctx context.Context, log []Notification) {
	if b.store == nil {
		return
	}
	data, err := json.Marshal(log)
	if err != nil {
		b.logger.Error("Failed to encode notification log", "error", err)
		return
	}
	if err := b.store.Set(ctx, b.logKey, data); err != nil {
		b.logger.Error("Failed to persist notification log", "error", err)
	}
}

// Close stops pending toast timers. Toasts still visible stay visible.
func (b *Bus) Close() {
	b.timersMu.Lock()
	defer b.timersMu.Unlock()

	b.closed = true
	for id, timer := range b.timers {
		timer.Stop()
		delete(b.timers, id)
	}
}
