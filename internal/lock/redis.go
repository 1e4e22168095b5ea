package lock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultTTL bounds how long a crashed holder can keep the lock.
const DefaultTTL = 10 * time.Minute

// Redis is a Locker shared by every process using the same key.
// A held lock is refreshed every TTL/3 until released.
type Redis struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedis creates a Redis lock on key.
func NewRedis(client redis.UniversalClient, key string, ttl time.Duration, logger *slog.Logger) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Redis{client: client, key: key, ttl: ttl, logger: logger}
}

// TryAcquire implements Locker.
func (r *Redis) TryAcquire(ctx context.Context) (Release, error) {
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, r.key, token, r.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", r.key, err)
	}
	if !ok {
		return nil, ErrLocked
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.keepAlive(token, stop)
	}()

	var mu sync.Mutex
	released := false
	return func() {
		mu.Lock()
		defer mu.Unlock()
		if released {
			return
		}
		released = true
		close(stop)
		wg.Wait()

		// the run context may already be done
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, r.client, []string{r.key}, token).Err(); err != nil {
			r.logger.Warn("lock.release_failed", "key", r.key, "error", err)
		}
	}, nil
}

func (r *Redis) keepAlive(token string, stop <-chan struct{}) {
	ticker := time.NewTicker(r.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			n, err := refreshScript.Run(ctx, r.client, []string{r.key}, token, r.ttl.Milliseconds()).Int()
			cancel()
			if err != nil {
				r.logger.Warn("lock.refresh_failed", "key", r.key, "error", err)
				continue
			}
			if n == 0 {
				r.logger.Error("lock.lost", "key", r.key)
				return
			}
		}
	}
}

var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

var refreshScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`)
