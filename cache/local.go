package cache

import (
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// local is the mandatory in-process tier. The LRU bounds size; per-entry
// TTLs are enforced on read. maxTTL <= 0 disables the LRU's own expiry.
type local struct {
	lru *expirable.LRU[string, Entry]
	now func() time.Time
}

func newLocal(size int, maxTTL time.Duration, now func() time.Time) *local {
	return &local{
		lru: expirable.NewLRU[string, Entry](size, nil, maxTTL),
		now: now,
	}
}

func (l *local) get(key string) (Entry, bool) {
	e, ok := l.lru.Get(key)
	if !ok {
		return Entry{}, false
	}
	if e.Expired(l.now()) {
		l.lru.Remove(key)
		return Entry{}, false
	}
	return e, true
}

func (l *local) set(key string, e Entry) { l.lru.Add(key, e) }

func (l *local) remove(key string) { l.lru.Remove(key) }

func (l *local) clear(prefix string) int {
	if prefix == "" {
		n := l.lru.Len()
		l.lru.Purge()
		return n
	}
	n := 0
	for _, k := range l.lru.Keys() {
		if strings.HasPrefix(k, prefix) {
			l.lru.Remove(k)
			n++
		}
	}
	return n
}

func (l *local) len() int { return l.lru.Len() }
