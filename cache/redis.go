package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures the Redis tier.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	// Prefix namespaces every key. Default "propacq:cache:".
	Prefix string `yaml:"prefix"`
	// OpTimeout bounds each command. Default 250ms.
	OpTimeout time.Duration `yaml:"op_timeout"`
	// Cooldown is how long the tier is skipped after a failure. Default 30s.
	Cooldown time.Duration `yaml:"cooldown"`
}

func (c *RedisConfig) defaults() {
	if c.Prefix == "" {
		c.Prefix = "propacq:cache:"
	}
	if c.OpTimeout <= 0 {
		c.OpTimeout = 250 * time.Millisecond
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Second
	}
}

// RedisTier stores entries in Redis with native expiry. After any
// transport error it reports ErrUnavailable until Cooldown elapses, so a
// dead server costs one short timeout per cooldown window.
type RedisTier struct {
	rdb       *redis.Client
	cfg       RedisConfig
	downUntil atomic.Int64
	now       func() time.Time
}

// NewRedisTier creates the tier. It does not dial; the first command does.
func NewRedisTier(cfg RedisConfig) *RedisTier {
	cfg.defaults()
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.OpTimeout,
		ReadTimeout:  cfg.OpTimeout,
		WriteTimeout: cfg.OpTimeout,
		MaxRetries:   -1,
	})
	return &RedisTier{rdb: rdb, cfg: cfg, now: time.Now}
}

func (r *RedisTier) Name() string { return "redis" }

func (r *RedisTier) Get(ctx context.Context, key string) (Entry, bool, error) {
	if err := r.available(); err != nil {
		return Entry{}, false, err
	}
	ctx, cancel := context.WithTimeout(ctx, r.cfg.OpTimeout)
	defer cancel()

	data, err := r.rdb.Get(ctx, r.cfg.Prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, r.fail("get", err)
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return Entry{}, false, fmt.Errorf("cache: redis: decode %s: %w", key, err)
	}
	return e, true, nil
}

func (r *RedisTier) Set(ctx context.Context, key string, e Entry) error {
	if err := r.available(); err != nil {
		return err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("cache: redis: encode %s: %w", key, err)
	}
	ctx, cancel := context.WithTimeout(ctx, r.cfg.OpTimeout)
	defer cancel()
	if err := r.rdb.Set(ctx, r.cfg.Prefix+key, data, e.TTL).Err(); err != nil {
		return r.fail("set", err)
	}
	return nil
}

func (r *RedisTier) Delete(ctx context.Context, key string) error {
	if err := r.available(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, r.cfg.OpTimeout)
	defer cancel()
	if err := r.rdb.Del(ctx, r.cfg.Prefix+key).Err(); err != nil {
		return r.fail("del", err)
	}
	return nil
}

// Clear deletes by SCAN MATCH in batches. The whole sweep shares one
// deadline of ten op timeouts.
func (r *RedisTier) Clear(ctx context.Context, prefix string) error {
	if err := r.available(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 10*r.cfg.OpTimeout)
	defer cancel()

	var cursor uint64
	match := r.cfg.Prefix + prefix + "*"
	for {
		keys, next, err := r.rdb.Scan(ctx, cursor, match, 500).Result()
		if err != nil {
			return r.fail("scan", err)
		}
		if len(keys) > 0 {
			if err := r.rdb.Del(ctx, keys...).Err(); err != nil {
				return r.fail("del", err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func (r *RedisTier) Close() error { return r.rdb.Close() }

func (r *RedisTier) available() error {
	if r.now().UnixNano() < r.downUntil.Load() {
		return ErrUnavailable
	}
	return nil
}

func (r *RedisTier) fail(op string, err error) error {
	r.downUntil.Store(r.now().Add(r.cfg.Cooldown).UnixNano())
	return fmt.Errorf("cache: redis %s: %w", op, err)
}
