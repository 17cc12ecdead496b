// Package cache memoises acquisition results in a mandatory in-process tier
// and an optional distributed tier.
//
// Reads check the local tier first, then the distributed tier, backfilling
// local on a distributed hit. Writes land in the local tier synchronously
// and in the distributed tier asynchronously. Distributed failures are
// logged and counted, never returned: an unreachable backend degrades the
// layer to local-only behaviour.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Config configures a Layer.
type Config struct {
	// LocalSize bounds the number of local entries. Default 1024.
	LocalSize int
	// TTLs overrides per-category TTLs on top of DefaultTTLs().
	TTLs map[string]time.Duration
	// DefaultTTL applies to categories absent from TTLs. Default 1h.
	DefaultTTL time.Duration
	// Distributed is the optional second tier. Nil means local only.
	Distributed Tier
	// WriteTimeout bounds each asynchronous distributed write. Default 2s.
	WriteTimeout time.Duration
	// Registerer receives the cache counters. Nil skips registration.
	Registerer prometheus.Registerer
	Logger     *slog.Logger
	// Now is the clock. Default time.Now.
	Now func() time.Time
}

func (c *Config) defaults() {
	if c.LocalSize <= 0 {
		c.LocalSize = 1024
	}
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = DefaultTTL
	}
	ttls := DefaultTTLs()
	for k, v := range c.TTLs {
		if v > 0 {
			ttls[k] = v
		}
	}
	c.TTLs = ttls
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 2 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Layer is the two-tier cache. It is safe for concurrent use.
type Layer struct {
	cfg     Config
	local   *local
	dist    Tier
	counts  *counters
	logger  *slog.Logger
	pending sync.WaitGroup

	// distMu is held shared by background writes and exclusively by
	// Delete and Clear. gen is bumped under the exclusive lock; a write
	// queued under an older gen is dropped.
	distMu sync.RWMutex
	gen    atomic.Uint64
}

// New builds a Layer.
func New(cfg Config) *Layer {
	cfg.defaults()
	return &Layer{
		cfg:    cfg,
		local:  newLocal(cfg.LocalSize, 0, cfg.Now),
		dist:   cfg.Distributed,
		counts: newCounters(cfg.Registerer),
		logger: cfg.Logger,
	}
}

// TTL returns the TTL configured for category.
func (l *Layer) TTL(category string) time.Duration {
	if ttl, ok := l.cfg.TTLs[category]; ok {
		return ttl
	}
	return l.cfg.DefaultTTL
}

// Backend names the distributed tier, or "none".
func (l *Layer) Backend() string {
	if l.dist == nil {
		return "none"
	}
	return l.dist.Name()
}

// Get looks key up in category. The returned entry's Tier tells which tier
// served it.
func (l *Layer) Get(ctx context.Context, category, key string) (Entry, bool) {
	sk := storageKey(category, key)
	if e, ok := l.local.get(sk); ok {
		l.counts.inc(category, TierLocal, opHit)
		e.Tier = TierLocal
		e.Payload = clone(e.Payload)
		return e, true
	}
	l.counts.inc(category, TierLocal, opMiss)
	if l.dist == nil {
		return Entry{}, false
	}

	tier := l.dist.Name()
	e, found, err := l.dist.Get(ctx, sk)
	if err != nil {
		l.counts.inc(category, tier, opError)
		l.logger.Debug("cache: distributed get failed", "tier", tier, "category", category, "error", err)
		return Entry{}, false
	}
	if !found || e.Expired(l.cfg.Now()) {
		l.counts.inc(category, tier, opMiss)
		return Entry{}, false
	}
	l.counts.inc(category, tier, opHit)
	e.Key = key
	e.Category = category
	e.Tier = TierLocal
	l.local.set(sk, e)

	e.Tier = tier
	e.Payload = clone(e.Payload)
	return e, true
}

// Set stores payload under key, replacing any previous entry. ttl <= 0 uses
// the category TTL. The distributed write happens in the background; use
// Flush to wait for it.
func (l *Layer) Set(ctx context.Context, category, key string, payload []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = l.TTL(category)
	}
	sk := storageKey(category, key)
	e := Entry{
		Key:       key,
		Category:  category,
		Payload:   clone(payload),
		Tier:      TierLocal,
		TTL:       ttl,
		CreatedAt: l.cfg.Now(),
	}
	l.local.set(sk, e)
	l.counts.inc(category, TierLocal, opSet)

	if l.dist == nil {
		return
	}
	gen := l.gen.Load()
	l.pending.Add(1)
	go func() {
		defer l.pending.Done()
		l.distMu.RLock()
		defer l.distMu.RUnlock()
		tier := l.dist.Name()
		if l.gen.Load() != gen {
			l.logger.Debug("cache: stale distributed set dropped", "tier", tier, "category", category)
			return
		}
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.cfg.WriteTimeout)
		defer cancel()
		if err := l.dist.Set(wctx, sk, e); err != nil {
			l.counts.inc(category, tier, opError)
			l.logger.Warn("cache: distributed set failed", "tier", tier, "category", category, "error", err)
			return
		}
		l.counts.inc(category, tier, opSet)
	}()
}

// Delete removes key from both tiers. Distributed writes still pending
// from earlier Sets never land after it.
func (l *Layer) Delete(ctx context.Context, category, key string) {
	sk := storageKey(category, key)
	l.local.remove(sk)
	if l.dist == nil {
		return
	}
	unlock := l.fence()
	defer unlock()
	if err := l.dist.Delete(ctx, sk); err != nil {
		l.counts.inc(category, l.dist.Name(), opError)
		l.logger.Warn("cache: distributed delete failed", "tier", l.dist.Name(), "error", err)
	}
}

// Clear removes every entry of category, or of all categories when
// category is empty. It returns the number of local entries removed.
func (l *Layer) Clear(ctx context.Context, category string) int {
	prefix := ""
	if category != "" {
		prefix = storageKey(category, "")
	}
	n := l.local.clear(prefix)
	if l.dist != nil {
		unlock := l.fence()
		defer unlock()
		if err := l.dist.Clear(ctx, prefix); err != nil {
			l.counts.inc(category, l.dist.Name(), opError)
			l.logger.Warn("cache: distributed clear failed", "tier", l.dist.Name(), "category", category, "error", err)
		}
	}
	l.logger.Info("cache: cleared", "category", category, "local_removed", n)
	return n
}

// fence waits for in-flight distributed writes and invalidates queued ones.
func (l *Layer) fence() (unlock func()) {
	l.distMu.Lock()
	l.gen.Add(1)
	return l.distMu.Unlock
}

// Stats returns counters for category, or totals when category is empty.
func (l *Layer) Stats(category string) Stats {
	s := l.counts.stats(category)
	s.LocalEntries = l.local.len()
	s.Backend = l.Backend()
	return s
}

// Flush blocks until every pending distributed write has finished.
func (l *Layer) Flush() { l.pending.Wait() }

// Close flushes pending writes and closes the distributed tier.
func (l *Layer) Close() error {
	l.Flush()
	if l.dist == nil {
		return nil
	}
	if err := l.dist.Close(); err != nil {
		return fmt.Errorf("cache: close %s: %w", l.dist.Name(), err)
	}
	return nil
}

// SetJSON marshals v and stores it.
func SetJSON(ctx context.Context, l *Layer, category, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache: encode %s/%s: %w", category, key, err)
	}
	l.Set(ctx, category, key, data, ttl)
	return nil
}

// GetJSON loads and unmarshals an entry. A payload that no longer decodes
// is deleted and reported as a miss with the decode error.
func GetJSON[T any](ctx context.Context, l *Layer, category, key string) (T, Entry, bool, error) {
	var v T
	e, ok := l.Get(ctx, category, key)
	if !ok {
		return v, Entry{}, false, nil
	}
	if err := json.Unmarshal(e.Payload, &v); err != nil {
		l.Delete(ctx, category, key)
		return v, Entry{}, false, fmt.Errorf("cache: decode %s/%s: %w", category, key, err)
	}
	return v, e, true, nil
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}
