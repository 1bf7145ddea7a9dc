package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

var extendScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0
`)

// Redis is a lease lock shared by every instance using the same Redis.
// The holder extends the lease every TTL/3 until it unlocks, so the TTL
// only bounds how long a crashed holder keeps the key.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	poll   time.Duration
	logger *zap.Logger
}

type RedisConfig struct {
	Prefix string
	TTL    time.Duration
	Poll   time.Duration
}

func NewRedis(client *redis.Client, cfg RedisConfig, logger *zap.Logger) *Redis {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "poolmirror:lock:"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 2 * time.Minute
	}
	if cfg.Poll <= 0 {
		cfg.Poll = 100 * time.Millisecond
	}
	return &Redis{client: client, prefix: cfg.Prefix, ttl: cfg.TTL, poll: cfg.Poll, logger: logger}
}

// Lock polls SET NX until the key is acquired or ctx ends.
func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	if r.client == nil {
		return nil, errors.New("redis client is nil")
	}
	full := r.prefix + key
	token := uuid.NewString()

	for {
		ok, err := r.client.SetNX(ctx, full, token, r.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}
		timer := time.NewTimer(r.poll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.keepAlive(stop, key, func(ctx context.Context) (bool, error) {
			n, err := extendScript.Run(ctx, r.client, []string{full}, token, r.ttl.Milliseconds()).Int64()
			return n == 1, err
		})
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(releaseCtx, r.client, []string{full}, token).Err(); err != nil {
				r.logger.Warn("release lock failed", zap.String("key", key), zap.Error(err))
			}
		})
	}, nil
}

// keepAlive runs extend every ttl/3 until stop closes or the lease turns
// out to be held by someone else.
func (r *Redis) keepAlive(stop <-chan struct{}, key string, extend func(context.Context) (bool, error)) {
	interval := r.ttl / 3
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		ctx, cancel := context.WithTimeout(context.Background(), interval)
		held, err := extend(ctx)
		cancel()
		if err != nil {
			r.logger.Warn("extend lock failed", zap.String("key", key), zap.Error(err))
			continue
		}
		if !held {
			r.logger.Error("lock lease lost", zap.String("key", key))
			return
		}
	}
}
