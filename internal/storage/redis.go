package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"ema-price-alerts/internal/config"
	"ema-price-alerts/internal/signal"
)

const redisLockTTL = 10 * time.Minute

// releaseLockScript deletes the lock only if we still own it.
var releaseLockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
    return redis.call("del", KEYS[1])
end
return 0`)

// Redis keeps each job's state as a JSON value.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis dials a redis-backed state store.
func NewRedis(cfg config.RedisConfig) *Redis {
	return NewRedisWithClient(redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}), cfg.Prefix)
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client *redis.Client, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

// Close releases the client.
func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) stateKey(job string) string {
	return r.prefix + "state:" + job
}

func (r *Redis) lockKey(key int64) string {
	return r.prefix + "lock:" + strconv.FormatInt(key, 10)
}

// Load reads the job's state, falling back to the default state.
func (r *Redis) Load(ctx context.Context, job string) (signal.AlertState, error) {
	data, err := r.client.Get(ctx, r.stateKey(job)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return signal.DefaultState(), nil
		}
		return signal.DefaultState(), fmt.Errorf("%w: %v", ErrStateUnreadable, err)
	}
	return decodeState(data)
}

// Save overwrites the job's state with a single SET.
func (r *Redis) Save(ctx context.Context, job string, state signal.AlertState) error {
	data, err := encodeState(state)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if err := r.client.Set(ctx, r.stateKey(job), data, 0).Err(); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

// TryAdvisoryLock takes a SET NX lock that expires on its own if the holder dies.
func (r *Redis) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	lockKey := r.lockKey(key)
	token := uuid.NewString()

	acquired, err := r.client.SetNX(ctx, lockKey, token, redisLockTTL).Result()
	if err != nil {
		return nil, false, fmt.Errorf("try redis lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseLockScript.Run(ctxUnlock, r.client, []string{lockKey}, token).Err()
	}
	return unlock, true, nil
}

var (
	_ StateStore     = (*Redis)(nil)
	_ AdvisoryLocker = (*Redis)(nil)
)
