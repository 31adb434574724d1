package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrTooManyAttempts = errors.New("too many login attempts")

// Limiter bounds login attempts per CPR.
type Limiter interface {
	CheckLogin(ctx context.Context, key string) error
	ResetAttempts(ctx context.Context, key string) error
}

type RedisLimiter struct {
	redis  *redis.Client
	limit  int
	window time.Duration
}

func NewRedisLimiter(client *redis.Client, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{
		redis:  client,
		limit:  limit,
		window: window,
	}
}

func loginKey(key string) string {
	return fmt.Sprintf("login_attempts:%s", key)
}

func (r *RedisLimiter) CheckLogin(ctx context.Context, key string) error {
	k := loginKey(key)

	count, err := r.redis.Incr(ctx, k).Result()
	if err != nil {
		return err
	}

	if count == 1 {
		r.redis.Expire(ctx, k, r.window)
	}

	if count > int64(r.limit) {
		return ErrTooManyAttempts
	}

	return nil
}

func (r *RedisLimiter) ResetAttempts(ctx context.Context, key string) error {
	return r.redis.Del(ctx, loginKey(key)).Err()
}

// MemoryLimiter is the single-process limiter used when Redis is not
// configured.
type MemoryLimiter struct {
	mu       sync.Mutex
	limit    int
	window   time.Duration
	now      func() time.Time
	attempts map[string]memoryWindow
}

type memoryWindow struct {
	count     int
	expiresAt time.Time
}

func NewMemoryLimiter(limit int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		limit:    limit,
		window:   window,
		now:      time.Now,
		attempts: make(map[string]memoryWindow),
	}
}

func (l *MemoryLimiter) CheckLogin(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w := l.attempts[key]
	if !now.Before(w.expiresAt) {
		w = memoryWindow{expiresAt: now.Add(l.window)}
	}
	w.count++
	l.attempts[key] = w

	if w.count > l.limit {
		return ErrTooManyAttempts
	}
	return nil
}

func (l *MemoryLimiter) ResetAttempts(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.attempts, key)
	return nil
}
