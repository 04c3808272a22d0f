package correlation

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"pushgate/pkg/logx"
)

const defaultRedisPrefix = "pushgate:corr:"

// Redis is a Store shared across hosts. Expiry is delegated to the server.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	log    logx.Logger
}

func OpenRedis(opts RedisOptions, ttl time.Duration, log logx.Logger) (*Redis, error) {
	if strings.TrimSpace(opts.Addr) == "" {
		return nil, errors.New("correlation.redis.addr is required for redis driver")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return NewRedis(client, opts.Prefix, ttl, log), nil
}

// NewRedis wraps an existing client.
func NewRedis(client *redis.Client, prefix string, ttl time.Duration, log logx.Logger) *Redis {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Redis{client: client, prefix: prefix, ttl: ttl, log: log}
}

func (r *Redis) key(k Key) string { return r.prefix + string(k) }

func (r *Redis) Record(ctx context.Context, key Key, requester int) error {
	if !key.Valid() {
		return ErrEmptyKey
	}
	return r.client.Set(ctx, r.key(key), requester, r.ttl).Err()
}

func (r *Redis) Consume(ctx context.Context, key Key) (int, bool, error) {
	v, err := r.client.GetDel(ctx, r.key(key)).Int()
	if errors.Is(err, redis.Nil) {
		return Unknown, false, nil
	}
	if err != nil {
		return Unknown, false, err
	}
	return v, true, nil
}

// Sweep is a no-op: keys carry a server-side TTL.
func (r *Redis) Sweep(context.Context) (int, error) { return 0, nil }

func (r *Redis) Len(ctx context.Context) (int, error) {
	n := 0
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 256).Iterator()
	for iter.Next(ctx) {
		n++
	}
	return n, iter.Err()
}

func (r *Redis) Close() error { return r.client.Close() }
