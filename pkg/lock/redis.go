package lock

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/memento/pkg/utils/logging"
)

const (
	DefaultLeaseTTL      = 60 * time.Second
	DefaultRetryInterval = 50 * time.Millisecond
	DefaultKeyPrefix     = "memento:lock:"
)

var (
	ErrLockUnavailable = goerr.New("lock backend unavailable")
)

// releaseScript deletes the key only when it still holds our token, so an
// expired lease taken over by another process is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a lease-based lock shared by multiple processes
type Redis struct {
	client        *redis.Client
	ttl           time.Duration
	retryInterval time.Duration
	prefix        string
}

type RedisOption func(*Redis)

func WithLeaseTTL(ttl time.Duration) RedisOption {
	return func(r *Redis) {
		r.ttl = ttl
	}
}

func WithRetryInterval(d time.Duration) RedisOption {
	return func(r *Redis) {
		r.retryInterval = d
	}
}

func WithKeyPrefix(prefix string) RedisOption {
	return func(r *Redis) {
		r.prefix = prefix
	}
}

// NewRedis connects to Redis and verifies the connection with PING
func NewRedis(ctx context.Context, addr, password string, db int, opts ...RedisOption) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, goerr.Wrap(ErrLockUnavailable, "failed to connect redis",
			goerr.V("error", err.Error()), goerr.V("addr", addr))
	}

	r := &Redis{
		client:        client,
		ttl:           DefaultLeaseTTL,
		retryInterval: DefaultRetryInterval,
		prefix:        DefaultKeyPrefix,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := r.prefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(r.retryInterval)
	defer ticker.Stop()

	for {
		ok, err := r.client.SetNX(ctx, redisKey, token, r.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, goerr.Wrap(ErrLockUnavailable, "failed to acquire lock",
				goerr.V("error", err.Error()), goerr.V("key", key))
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	return func() {
		// The caller's context may already be cancelled when unlocking
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, r.client, []string{redisKey}, token).Err(); err != nil {
			logging.From(ctx).Warn("failed to release lock", "key", key, "error", err)
		}
	}, nil
}
