package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"ms-attendance/internal/logger"
)

// ErrLocked is returned when the key is held by someone else.
var ErrLocked = errors.New("lock is held by another owner")

// Locker hands out exclusive, expiring locks on string keys.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

// releaseScript deletes the key only if it still carries our token, so an
// expired-and-retaken lock is never released by its previous owner.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendScript renews the TTL only while the key still carries our token.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLocker keeps a held lock alive by renewing its TTL every third of the
// TTL until released, so long imports do not outlive their lock.
type RedisLocker struct {
	Client *redis.Client
	Logger *logger.Logger
}

func NewRedisLocker(client *redis.Client, log *logger.Logger) *RedisLocker {
	if log == nil {
		log = logger.NewNop()
	}
	return &RedisLocker{Client: client, Logger: log}
}

func (r *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token, err := newToken()
	if err != nil {
		return nil, err
	}

	lockKey := "lock:" + key
	ok, err := r.Client.SetNX(ctx, lockKey, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLocked
	}
	r.Logger.Debug("REDIS", fmt.Sprintf("Acquired lock %s for %s", lockKey, ttl))

	stop := make(chan struct{})
	done := make(chan struct{})
	go r.keepAlive(lockKey, token, ttl, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			// the caller's ctx may already be canceled when the work is done
			if err := releaseScript.Run(context.Background(), r.Client, []string{lockKey}, token).Err(); err != nil {
				r.Logger.Warn("REDIS", fmt.Sprintf("Failed to release lock %s: %v", lockKey, err))
			}
		})
	}, nil
}

func (r *RedisLocker) keepAlive(lockKey, token string, ttl time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	interval := ttl / 3
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			n, err := extendScript.Run(ctx, r.Client, []string{lockKey}, token, ttl.Milliseconds()).Int()
			cancel()
			if err != nil {
				r.Logger.Warn("REDIS", fmt.Sprintf("Failed to extend lock %s: %v", lockKey, err))
				continue
			}
			if n == 0 {
				r.Logger.Warn("REDIS", fmt.Sprintf("Lock %s was lost before release", lockKey))
				return
			}
		}
	}
}

// IsHeld reports whether anyone currently holds key.
func (r *RedisLocker) IsHeld(ctx context.Context, key string) (bool, error) {
	_, err := r.Client.Get(ctx, "lock:"+key).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// LocalLocker is the single-process fallback when Redis is disabled. Its
// locks are not renewed, so the TTL must cover the whole job.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]time.Time
	now  func() time.Time
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]time.Time), now: time.Now}
}

func (l *LocalLocker) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if expires, ok := l.held[key]; ok && l.now().Before(expires) {
		return nil, ErrLocked
	}
	expires := l.now().Add(ttl)
	l.held[key] = expires

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.held[key] == expires {
			delete(l.held, key)
		}
	}, nil
}

func newToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate lock token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
