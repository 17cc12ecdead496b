package cache

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// TierStats counts operations against one tier.
type TierStats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Sets   int64 `json:"sets"`
	Errors int64 `json:"errors"`
}

// Stats reports counters for a category, or all categories when Category
// is empty.
type Stats struct {
	Category     string    `json:"category,omitempty"`
	Local        TierStats `json:"local"`
	Distributed  TierStats `json:"distributed"`
	LocalEntries int       `json:"local_entries"`
	Backend      string    `json:"backend"`
}

type tierCounters struct {
	hits, misses, sets, errors atomic.Int64
}

func (c *tierCounters) snapshot() TierStats {
	return TierStats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Sets:   c.sets.Load(),
		Errors: c.errors.Load(),
	}
}

func (a *TierStats) add(b TierStats) {
	a.Hits += b.Hits
	a.Misses += b.Misses
	a.Sets += b.Sets
	a.Errors += b.Errors
}

type categoryCounters struct {
	local, distributed tierCounters
}

type op string

const (
	opHit   op = "hit"
	opMiss  op = "miss"
	opSet   op = "set"
	opError op = "error"
)

// counters keeps per-category counters and mirrors them to Prometheus.
type counters struct {
	mu   sync.RWMutex
	cats map[string]*categoryCounters
	vec  *prometheus.CounterVec
}

func newCounters(reg prometheus.Registerer) *counters {
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "propacq",
		Subsystem: "cache",
		Name:      "operations_total",
		Help:      "Cache operations by category, tier and result.",
	}, []string{"category", "tier", "result"})
	if reg != nil {
		if err := reg.Register(vec); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
					vec = existing
				}
			}
		}
	}
	return &counters{cats: make(map[string]*categoryCounters), vec: vec}
}

func (c *counters) category(name string) *categoryCounters {
	c.mu.RLock()
	cc, ok := c.cats[name]
	c.mu.RUnlock()
	if ok {
		return cc
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if cc, ok = c.cats[name]; !ok {
		cc = &categoryCounters{}
		c.cats[name] = cc
	}
	return cc
}

func (c *counters) inc(category, tier string, o op) {
	cc := c.category(category)
	t := &cc.distributed
	if tier == TierLocal {
		t = &cc.local
	}
	switch o {
	case opHit:
		t.hits.Add(1)
	case opMiss:
		t.misses.Add(1)
	case opSet:
		t.sets.Add(1)
	case opError:
		t.errors.Add(1)
	}
	c.vec.WithLabelValues(category, tier, string(o)).Inc()
}

func (c *counters) stats(category string) Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := Stats{Category: category}
	for name, cc := range c.cats {
		if category != "" && name != category {
			continue
		}
		s.Local.add(cc.local.snapshot())
		s.Distributed.add(cc.distributed.snapshot())
	}
	return s
}
