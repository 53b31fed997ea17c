// Package ttlstore is the scoped, expiring key/value store used for
// short-lived engine state (last accepted timestamps, send throttles).
// Every owner constructs its own instance; there is no package-level cache.
package ttlstore

import (
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

type Store[V any] interface {
	Get(key string) (V, bool)
	Set(key string, value V)
	Delete(key string)
	Len() int
}

type LRU[V any] struct {
	cache *expirable.LRU[string, V]
}

// New returns a store bounded to size entries (0 = unbounded) whose entries
// expire ttl after their last Set.
func New[V any](size int, ttl time.Duration) *LRU[V] {
	if size < 0 {
		size = 0
	}
	return &LRU[V]{cache: expirable.NewLRU[string, V](size, nil, ttl)}
}

func (s *LRU[V]) Get(key string) (V, bool) { return s.cache.Get(key) }

func (s *LRU[V]) Set(key string, value V) { s.cache.Add(key, value) }

func (s *LRU[V]) Delete(key string) { s.cache.Remove(key) }

func (s *LRU[V]) Len() int { return s.cache.Len() }

// Range calls fn for every live entry, oldest first. It does not refresh
// recency.
func (s *LRU[V]) Range(fn func(key string, value V)) {
	for _, k := range s.cache.Keys() {
		if v, ok := s.cache.Peek(k); ok {
			fn(k, v)
		}
	}
}

// Key joins parts with a separator that cannot appear in user ids or
// normalized titles.
func Key(parts ...string) string {
	return strings.Join(parts, "\x1f")
}
