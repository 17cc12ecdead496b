package cache

import (
	"context"
	"errors"
	"time"
)

// TierLocal tags entries served from the in-process tier.
const TierLocal = "local"

// ErrUnavailable is returned by a distributed tier that is cooling down
// after a failure.
var ErrUnavailable = errors.New("cache: tier unavailable")

// Entry is one cached value. A re-Set replaces the whole entry.
type Entry struct {
	Key       string        `json:"key"`
	Category  string        `json:"category"`
	Payload   []byte        `json:"payload"`
	Tier      string        `json:"tier"`
	TTL       time.Duration `json:"ttl"`
	CreatedAt time.Time     `json:"created_at"`
}

// ExpiresAt is CreatedAt plus TTL.
func (e Entry) ExpiresAt() time.Time { return e.CreatedAt.Add(e.TTL) }

// Expired reports whether the entry is past its TTL at now.
func (e Entry) Expired(now time.Time) bool { return !now.Before(e.ExpiresAt()) }

// Tier is a distributed cache backend. Implementations must honour ctx
// deadlines and report failures instead of blocking.
type Tier interface {
	Name() string
	// Get returns found=false with a nil error on a plain miss.
	Get(ctx context.Context, key string) (e Entry, found bool, err error)
	Set(ctx context.Context, key string, e Entry) error
	Delete(ctx context.Context, key string) error
	// Clear removes every key with the given prefix; "" removes all.
	Clear(ctx context.Context, prefix string) error
	Close() error
}

func storageKey(category, key string) string { return category + ":" + key }
